package routers

import (
	"wallet-server/internal/controller/api"
	"wallet-server/internal/metrics"
	"wallet-server/internal/middleware"

	beego "github.com/beego/beego/v2/server/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// init 注册HTTP路由与全局过滤器
// 过滤器在请求时自行读取 config.Get() 判断是否启用，
// 因此这里无条件注册，配置热更新即时生效
func init() {
	// 全局过滤器（按执行顺序）
	// 1. Panic Recovery（最先执行，捕获所有 panic）
	beego.InsertFilter("/*", beego.BeforeRouter, middleware.RecoveryFilter)

	// 2. 请求ID注入
	beego.InsertFilter("/*", beego.BeforeRouter, middleware.RequestIDFilter)

	// 3. CORS 处理（启用与否由配置决定）
	beego.InsertFilter("/*", beego.BeforeExec, middleware.CORSFilter)

	// 4. HTTP 指标收集
	beego.InsertFilter("/*", beego.BeforeExec, metrics.HTTPMetricsFilter)
	beego.InsertFilter("/*", beego.FinishRouter, metrics.HTTPMetricsAfter)

	// 健康检查与指标（无需认证）
	beego.Router("/healthz", &api.HealthController{}, "get:Healthz")
	beego.Router("/readyz", &api.HealthController{}, "get:Readyz")
	beego.Handler("/metrics", promhttp.Handler())

	// ========== 钱包 API ==========

	// 资金写操作：限流（全局/IP/账户三层）
	beego.InsertFilter("/api/wallet/*", beego.BeforeExec, middleware.RateLimitFilter)
	beego.InsertFilter("/api/payment/*", beego.BeforeExec, middleware.RateLimitFilter)
	beego.InsertFilter("/api/bonus/*", beego.BeforeExec, middleware.RateLimitFilter)
	beego.Router("/api/wallet/deposit", &api.WalletController{}, "post:Deposit")
	beego.Router("/api/wallet/deposit/confirm", &api.WalletController{}, "post:ConfirmDeposit")
	beego.Router("/api/wallet/withdraw", &api.WalletController{}, "post:Withdraw")
	beego.Router("/api/wallet/balance", &api.WalletController{}, "get:Balance")
	beego.Router("/api/wallet/transactions", &api.WalletController{}, "get:Transactions")

	// 支付凭证核销
	beego.Router("/api/payment/verify", &api.PaymentController{}, "post:Verify")

	// 活动赠金
	beego.Router("/api/bonus/redeem", &api.BonusController{}, "post:Redeem")
	beego.Router("/api/bonus/active", &api.BonusController{}, "get:ListActive")

	// ========== 管理 API（管理员认证） ==========

	beego.InsertFilter("/api/admin/*", beego.BeforeExec, middleware.AdminAuthFilter)
	beego.Router("/api/admin/transactions/open", &api.AdminController{}, "get:OpenTransactions")
	beego.Router("/api/admin/transactions/retry", &api.AdminController{}, "post:RetryTransaction")
	beego.Router("/api/admin/transactions/reverse", &api.AdminController{}, "post:ReverseTransaction")
	beego.Router("/api/admin/payments/paid", &api.AdminController{}, "post:MarkPayoutPaid")
	beego.Router("/api/admin/agent/balance", &api.AdminController{}, "get:AgentBalance")
	beego.Router("/api/admin/breakers", &api.AdminController{}, "get:BreakerStates")
	beego.Router("/api/admin/bonus", &api.AdminController{}, "post:CreateBonus")
	beego.Router("/api/admin/bonus/deactivate", &api.AdminController{}, "post:DeactivateBonus")
	beego.Router("/api/admin/accounts", &api.AdminController{}, "post:CreateAccount")
	beego.Router("/api/admin/accounts/link", &api.AdminController{}, "post:LinkExternal")
	beego.Router("/api/admin/accounts/changepass", &api.AdminController{}, "post:ChangeExternalPassword")
}
