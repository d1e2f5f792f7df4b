package api

import (
	"errors"
	"strconv"
	"strings"

	beego "github.com/beego/beego/v2/server/web"

	"wallet-server/internal/breaker"
	helper "wallet-server/internal/common/helper"
	"wallet-server/internal/common/response"
	infmysql "wallet-server/internal/infra/mysql"
	"wallet-server/internal/model"
	"wallet-server/internal/service"
	"wallet-server/internal/state"
	"wallet-server/internal/wallet"

	"github.com/jmoiron/sqlx"
)

// 读接口统一走从库
func slaveDB() *sqlx.DB { return infmysql.Slave() }

// 服务构造注入点，单测可替换
var (
	newDepositService  = service.NewDepositService
	newWithdrawService = service.NewWithdrawService
	newBalanceService  = service.NewBalanceService
	walletClient       wallet.API
)

// SetWalletClient 注入外部钱包客户端（进程启动时调用一次）
func SetWalletClient(w wallet.API) { walletClient = w }

type WalletController struct{ beego.Controller }

// Deposit 发起充值：POST /api/wallet/deposit
// 创建 PENDING 交易单与待核销支付单；幂等键重复时返回首次结果
func (c *WalletController) Deposit() {
	traceID := helper.GetTraceID(c.Ctx)
	dp, ok, msg := helper.ParseAndValidateDeposit(c.Ctx)
	if !ok {
		response.BadRequest(&c.Controller, msg, traceID)
		return
	}

	out, err := newDepositService(walletClient).InitiateDeposit(c.Ctx.Request.Context(), service.DepositInput{
		AccountID:      dp.AccountId,
		Amount:         dp.Amount,
		Provider:       dp.Provider,
		IdempotencyKey: dp.IdempotencyKey,
		TraceID:        traceID,
	})
	if err != nil {
		writeServiceError(&c.Controller, err, traceID)
		return
	}
	response.Success(&c.Controller, out, traceID)
}

// ConfirmDeposit 完成充值：POST /api/wallet/deposit/confirm
// 支付单核销后由前端/回调触发，推进交易到终态
func (c *WalletController) ConfirmDeposit() {
	traceID := helper.GetTraceID(c.Ctx)
	txID := strings.TrimSpace(c.Ctx.Input.Query("transaction_id"))
	if txID == "" || len(txID) > 64 {
		response.BadRequest(&c.Controller, "transaction_id required", traceID)
		return
	}

	out, err := newDepositService(walletClient).ConfirmDeposit(c.Ctx.Request.Context(), txID, traceID)
	if err != nil {
		writeServiceError(&c.Controller, err, traceID)
		return
	}
	response.Success(&c.Controller, out, traceID)
}

// Withdraw 提现：POST /api/wallet/withdraw
func (c *WalletController) Withdraw() {
	traceID := helper.GetTraceID(c.Ctx)
	wp, ok, msg := helper.ParseAndValidateWithdraw(c.Ctx)
	if !ok {
		response.BadRequest(&c.Controller, msg, traceID)
		return
	}

	out, err := newWithdrawService(walletClient).Withdraw(c.Ctx.Request.Context(), service.WithdrawInput{
		AccountID:      wp.AccountId,
		Amount:         wp.Amount,
		Provider:       wp.Provider,
		PayoutPhone:    wp.PayoutPhone,
		IdempotencyKey: wp.IdempotencyKey,
		TraceID:        traceID,
	})
	if err != nil {
		writeServiceError(&c.Controller, err, traceID)
		return
	}
	response.Success(&c.Controller, out, traceID)
}

// Balance 余额查询：GET /api/wallet/balance?account_id=
func (c *WalletController) Balance() {
	traceID := helper.GetTraceID(c.Ctx)
	accountID, err := strconv.ParseInt(strings.TrimSpace(c.Ctx.Input.Query("account_id")), 10, 64)
	if err != nil || accountID <= 0 {
		response.BadRequest(&c.Controller, "account_id must be a positive integer", traceID)
		return
	}

	out, err := newBalanceService(walletClient).GetBalance(c.Ctx.Request.Context(), accountID)
	if err != nil {
		writeServiceError(&c.Controller, err, traceID)
		return
	}
	response.Success(&c.Controller, out, traceID)
}

// Transactions 交易历史：GET /api/wallet/transactions?account_id=&kind=&state=&limit=&offset=
func (c *WalletController) Transactions() {
	traceID := helper.GetTraceID(c.Ctx)
	accountID, err := strconv.ParseInt(strings.TrimSpace(c.Ctx.Input.Query("account_id")), 10, 64)
	if err != nil || accountID <= 0 {
		response.BadRequest(&c.Controller, "account_id must be a positive integer", traceID)
		return
	}
	limit, _ := strconv.Atoi(c.Ctx.Input.Query("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, _ := strconv.Atoi(c.Ctx.Input.Query("offset"))
	if offset < 0 {
		offset = 0
	}

	list, total, err := model.SearchTransactions(c.Ctx.Request.Context(), slaveDB(), model.TxQuery{
		AccountID: accountID,
		Kind:      strings.TrimSpace(c.Ctx.Input.Query("kind")),
		State:     strings.TrimSpace(c.Ctx.Input.Query("state")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		response.InternalError(&c.Controller, traceID)
		return
	}
	response.Success(&c.Controller, map[string]any{"transactions": list, "total": total}, traceID)
}

// writeServiceError 服务层错误到业务码/HTTP 状态的统一映射
func writeServiceError(c *beego.Controller, err error, traceID string) {
	var insufficientErr *service.InsufficientBalanceError
	var blockedErr *service.AccountBlockedError
	var minDepErr *service.MinDepositError
	var invalidTransition *state.InvalidTransitionError
	var breakerOpen *breaker.ErrOpen
	var apiErr *wallet.APIError

	switch {
	case errors.Is(err, service.ErrAccountNotFound),
		errors.Is(err, service.ErrTransactionNotFound),
		errors.Is(err, service.ErrPaymentNotFound):
		response.NotFound(c, err.Error(), traceID)
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidPayoutPhone):
		response.BadRequest(c, err.Error(), traceID)
	case errors.Is(err, service.ErrDuplicateInFlight):
		response.Accepted(c, "重复请求进行中，请稍后重试", traceID)
	case errors.As(err, &insufficientErr):
		response.ErrorWithMessage(c, 409, response.CodeInsufficientBalance, insufficientErr.Error(), traceID)
	case errors.As(err, &blockedErr):
		response.ErrorWithMessage(c, 403, response.CodeAccountBlocked, blockedErr.Error(), traceID)
	case errors.Is(err, service.ErrPaymentNotVerified):
		response.Conflict(c, response.CodePaymentNotVerified, traceID)
	case errors.Is(err, service.ErrPaymentExpired):
		response.Conflict(c, response.CodePaymentExpired, traceID)
	case errors.As(err, &invalidTransition):
		response.ErrorWithMessage(c, 409, response.CodeInvalidState, invalidTransition.Error(), traceID)
	case errors.Is(err, service.ErrNotLinked):
		response.Conflict(c, response.CodeNotLinked, traceID)
	case errors.Is(err, service.ErrAlreadyLinked):
		response.Conflict(c, response.CodeBusinessError, traceID)
	case errors.Is(err, service.ErrBonusNotFound):
		response.NotFound(c, err.Error(), traceID)
	case errors.Is(err, service.ErrBonusNotActive),
		errors.Is(err, service.ErrBonusNotStarted),
		errors.Is(err, service.ErrBonusExpired),
		errors.Is(err, service.ErrBonusExhausted),
		errors.Is(err, service.ErrBonusAlreadyUsed),
		errors.Is(err, service.ErrDepositNotCompleted):
		response.ErrorWithMessage(c, 409, response.CodeBonusUnavailable, err.Error(), traceID)
	case errors.As(err, &minDepErr):
		response.ErrorWithMessage(c, 409, response.CodeBonusUnavailable, minDepErr.Error(), traceID)
	case errors.As(err, &breakerOpen):
		// 熔断开路：外部依赖不可用，请求未触达远端
		response.Error(c, 503, response.CodeUpstreamUnavailable, traceID)
	case errors.As(err, &apiErr):
		if apiErr.Kind == wallet.KindRemote {
			// 远端逻辑失败（充值侧已转 PARTIALLY_FAILED）
			response.ErrorWithMessage(c, 502, response.CodePartialFailure, apiErr.Error(), traceID)
			return
		}
		response.Error(c, 502, response.CodeUpstreamUnavailable, traceID)
	default:
		response.InternalError(c, traceID)
	}
}
