package api

import (
	"encoding/json"
	"strconv"
	"strings"

	beego "github.com/beego/beego/v2/server/web"

	chelper "wallet-server/common/helper"
	"wallet-server/internal/breaker"
	helper "wallet-server/internal/common/helper"
	"wallet-server/internal/common/response"
	"wallet-server/internal/service"
)

var (
	newRecoveryService = service.NewRecoveryService
	newAccountService  = service.NewAccountService
	breakerRegistry    *breaker.Registry
)

// SetBreakerRegistry 注入熔断器注册表（进程启动时调用一次）
func SetBreakerRegistry(r *breaker.Registry) { breakerRegistry = r }

// AdminController 运营后台接口，统一挂 AdminAuthFilter
type AdminController struct{ beego.Controller }

// OpenTransactions 非终态交易清单：GET /api/admin/transactions/open?limit=
// 进程中断遗留的 PENDING/PROCESSING 与待人工处理的 FAILED/PARTIALLY_FAILED
func (c *AdminController) OpenTransactions() {
	traceID := helper.GetTraceID(c.Ctx)
	limit, _ := strconv.Atoi(c.Ctx.Input.Query("limit"))
	list, err := newRecoveryService(walletClient).ListOpen(c.Ctx.Request.Context(), limit)
	if err != nil {
		response.InternalError(&c.Controller, traceID)
		return
	}
	response.Success(&c.Controller, map[string]any{"transactions": list, "count": len(list)}, traceID)
}

// RetryTransaction 失败交易重入：POST /api/admin/transactions/retry
func (c *AdminController) RetryTransaction() {
	traceID := helper.GetTraceID(c.Ctx)
	var req struct {
		TransactionID string `json:"transaction_id"`
		Provider      string `json:"provider"`
		PayoutPhone   string `json:"payout_phone"`
	}
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil || strings.TrimSpace(req.TransactionID) == "" {
		response.BadRequest(&c.Controller, "transaction_id required", traceID)
		return
	}

	txn, err := newRecoveryService(walletClient).Retry(c.Ctx.Request.Context(), service.RetryInput{
		TransactionID: strings.TrimSpace(req.TransactionID),
		Provider:      strings.TrimSpace(req.Provider),
		PayoutPhone:   strings.TrimSpace(req.PayoutPhone),
		TraceID:       traceID,
	})
	if err != nil {
		writeServiceError(&c.Controller, err, traceID)
		return
	}
	response.Success(&c.Controller, txn, traceID)
}

// ReverseTransaction 冲正：POST /api/admin/transactions/reverse
func (c *AdminController) ReverseTransaction() {
	traceID := helper.GetTraceID(c.Ctx)
	var req struct {
		TransactionID string `json:"transaction_id"`
		Reason        string `json:"reason"`
		Operator      string `json:"operator"`
	}
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil || strings.TrimSpace(req.TransactionID) == "" {
		response.BadRequest(&c.Controller, "transaction_id required", traceID)
		return
	}
	if strings.TrimSpace(req.Reason) == "" || strings.TrimSpace(req.Operator) == "" {
		response.BadRequest(&c.Controller, "reason and operator required", traceID)
		return
	}

	txn, err := newRecoveryService(walletClient).Reverse(c.Ctx.Request.Context(),
		strings.TrimSpace(req.TransactionID), strings.TrimSpace(req.Reason), strings.TrimSpace(req.Operator))
	if err != nil {
		writeServiceError(&c.Controller, err, traceID)
		return
	}
	response.Success(&c.Controller, txn, traceID)
}

// MarkPayoutPaid 提现打款完成登记：POST /api/admin/payments/paid
func (c *AdminController) MarkPayoutPaid() {
	traceID := helper.GetTraceID(c.Ctx)
	var req struct {
		PaymentID string `json:"payment_id"`
	}
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil || strings.TrimSpace(req.PaymentID) == "" {
		response.BadRequest(&c.Controller, "payment_id required", traceID)
		return
	}
	if err := newPaymentService().MarkPayoutPaid(c.Ctx.Request.Context(), strings.TrimSpace(req.PaymentID)); err != nil {
		writeServiceError(&c.Controller, err, traceID)
		return
	}
	response.Success(&c.Controller, map[string]any{"payment_id": req.PaymentID, "state": "paid"}, traceID)
}

// AgentBalance 代理账户余额：GET /api/admin/agent/balance
// 运营监控代理池余额是否足够承接后续充值
func (c *AdminController) AgentBalance() {
	traceID := helper.GetTraceID(c.Ctx)
	bal, err := walletClient.AgentBalance(c.Ctx.Request.Context())
	if err != nil {
		writeServiceError(&c.Controller, err, traceID)
		return
	}
	response.Success(&c.Controller, map[string]any{"agent_balance": chelper.TrimDecimal(bal)}, traceID)
}

// BreakerStates 熔断器状态面板：GET /api/admin/breakers
func (c *AdminController) BreakerStates() {
	traceID := helper.GetTraceID(c.Ctx)
	states := map[string]string{}
	if breakerRegistry != nil {
		states = breakerRegistry.States()
	}
	response.Success(&c.Controller, states, traceID)
}

// CreateBonus 创建活动码：POST /api/admin/bonus
func (c *AdminController) CreateBonus() {
	traceID := helper.GetTraceID(c.Ctx)
	var req struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		BonusType   string `json:"bonus_type"`
		Value       string `json:"value"`
		MinDeposit  string `json:"min_deposit"`
		MaxUses     int    `json:"max_uses"`
		ValidUntil  int64  `json:"valid_until"`
	}
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil || strings.TrimSpace(req.Code) == "" {
		response.BadRequest(&c.Controller, "code required", traceID)
		return
	}

	b, err := newBonusService().Create(c.Ctx.Request.Context(), service.CreateBonusInput{
		Code:        req.Code,
		Description: req.Description,
		BonusType:   req.BonusType,
		Value:       req.Value,
		MinDeposit:  req.MinDeposit,
		MaxUses:     req.MaxUses,
		ValidUntil:  req.ValidUntil,
	})
	if err != nil {
		response.ErrorWithMessage(&c.Controller, 400, response.CodeBadRequest, err.Error(), traceID)
		return
	}
	response.Success(&c.Controller, b, traceID)
}

// DeactivateBonus 下线活动码：POST /api/admin/bonus/deactivate
func (c *AdminController) DeactivateBonus() {
	traceID := helper.GetTraceID(c.Ctx)
	var req struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil || strings.TrimSpace(req.Code) == "" {
		response.BadRequest(&c.Controller, "code required", traceID)
		return
	}
	if err := newBonusService().Deactivate(c.Ctx.Request.Context(), req.Code); err != nil {
		response.InternalError(&c.Controller, traceID)
		return
	}
	response.Success(&c.Controller, map[string]any{"code": strings.ToUpper(strings.TrimSpace(req.Code)), "is_active": false}, traceID)
}

// LinkExternal 为账户开通外部钱包：POST /api/admin/accounts/link
func (c *AdminController) LinkExternal() {
	traceID := helper.GetTraceID(c.Ctx)
	var req struct {
		AccountID int64  `json:"account_id"`
		Username  string `json:"username"`
		Password  string `json:"password"`
	}
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil ||
		req.AccountID <= 0 || req.Username == "" || req.Password == "" {
		response.BadRequest(&c.Controller, "account_id/username/password required", traceID)
		return
	}
	if err := newAccountService(walletClient).LinkExternal(c.Ctx.Request.Context(),
		req.AccountID, req.Username, req.Password); err != nil {
		writeServiceError(&c.Controller, err, traceID)
		return
	}
	response.Success(&c.Controller, map[string]any{"account_id": req.AccountID, "external_username": req.Username}, traceID)
}

// ChangeExternalPassword 外部钱包改密：POST /api/admin/accounts/changepass
func (c *AdminController) ChangeExternalPassword() {
	traceID := helper.GetTraceID(c.Ctx)
	var req struct {
		AccountID   int64  `json:"account_id"`
		NewPassword string `json:"new_password"`
	}
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil ||
		req.AccountID <= 0 || req.NewPassword == "" {
		response.BadRequest(&c.Controller, "account_id/new_password required", traceID)
		return
	}
	if err := newAccountService(walletClient).ChangeExternalPassword(c.Ctx.Request.Context(),
		req.AccountID, req.NewPassword); err != nil {
		writeServiceError(&c.Controller, err, traceID)
		return
	}
	response.Success(&c.Controller, map[string]any{"account_id": req.AccountID}, traceID)
}

// CreateAccount 开户：POST /api/admin/accounts
func (c *AdminController) CreateAccount() {
	traceID := helper.GetTraceID(c.Ctx)
	a, err := newAccountService(walletClient).CreateAccount(c.Ctx.Request.Context())
	if err != nil {
		response.InternalError(&c.Controller, traceID)
		return
	}
	response.Success(&c.Controller, map[string]any{"account_id": a.ID}, traceID)
}
