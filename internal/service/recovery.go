package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	chelper "wallet-server/common/helper"
	"wallet-server/common/constant"
	"wallet-server/common/logger"
	"wallet-server/internal/config"
	infmysql "wallet-server/internal/infra/mysql"
	"wallet-server/internal/metrics"
	"wallet-server/internal/model"
	"wallet-server/internal/state"
	"wallet-server/internal/wallet"
)

// RetryInput 运营重入入参
// 提现重入需要重新提供打款信息（首次失败发生在打款单创建之前）
type RetryInput struct {
	TransactionID string
	Provider      string
	PayoutPhone   string
	TraceID       string
}

// RecoveryService 运营善后通道：
//   - 非终态交易清单（进程中断/人工介入场景）
//   - FAILED 交易重入（FAILED -> PENDING -> 重走结算段）
//   - COMPLETED 交易冲正（COMPLETED -> REVERSED，本地余额反向补偿）
type RecoveryService interface {
	ListOpen(ctx context.Context, limit int) ([]model.Transaction, error)
	Retry(ctx context.Context, in RetryInput) (*model.Transaction, error)
	Reverse(ctx context.Context, transactionID, reason, operator string) (*model.Transaction, error)
}

type recoveryService struct {
	deposit  *depositService
	withdraw *withdrawService
}

func NewRecoveryService(w wallet.API) RecoveryService {
	return &recoveryService{
		deposit:  &depositService{wallet: w},
		withdraw: &withdrawService{wallet: w},
	}
}

func (s *recoveryService) ListOpen(ctx context.Context, limit int) ([]model.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return model.ListOpenTransactions(ctx, infmysql.Slave(), limit)
}

// Retry FAILED 交易重入：
//  1. FAILED -> PENDING（retry_count +1，清空完结时间）；
//  2. 充值：重走确认流程（支付单仍需 verified）；
//     提现：重走 PROCESSING 与结算段，打款信息由运营重新提供。
func (s *recoveryService) Retry(ctx context.Context, in RetryInput) (*model.Transaction, error) {
	db := infmysql.SQLX()
	txn, err := model.GetTransaction(ctx, db, in.TransactionID)
	if err != nil {
		if model.IsNotFound(err) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if txn.State != state.StateFailed {
		return nil, &state.InvalidTransitionError{From: txn.State, To: state.StatePending}
	}

	if err := model.TransitionState(ctx, db, txn.ID, state.StateFailed, state.StatePending,
		&model.TransitionUpdate{IncrRetry: true}); err != nil {
		if model.IsNotFound(err) {
			return nil, &state.InvalidTransitionError{From: txn.State, To: state.StatePending}
		}
		return nil, err
	}
	logger.AuditStateChange(ctx, txn.ID, state.StateFailed, state.StatePending)
	logger.InfoCtx(ctx, "交易重入",
		zap.String("transaction_id", txn.ID), zap.String("kind", txn.Kind),
		zap.Int("retry_count", txn.RetryCount+1))
	auditBestEffort(ctx, &model.AuditLog{
		EventType: "state_change", AccountID: txn.AccountID,
		EntityType: "transaction", EntityID: txn.ID,
		Action: "retry", OldValue: state.StateFailed, NewValue: state.StatePending,
		TraceID: in.TraceID,
	})

	switch txn.Kind {
	case constant.TxKindDeposit:
		if _, err := s.deposit.ConfirmDeposit(ctx, txn.ID, in.TraceID); err != nil {
			return model.GetTransaction(ctx, db, txn.ID)
		}
	case constant.TxKindWithdrawal:
		if in.PayoutPhone == "" || !chelper.ValidatePayoutPhone(in.PayoutPhone) {
			return nil, ErrInvalidPayoutPhone
		}
		if err := model.TransitionState(ctx, db, txn.ID, state.StatePending, state.StateProcessing, nil); err != nil {
			return nil, err
		}
		logger.AuditStateChange(ctx, txn.ID, state.StatePending, state.StateProcessing)
		if _, err := s.withdraw.settle(ctx, txn, in.Provider, in.PayoutPhone, in.TraceID); err != nil {
			return model.GetTransaction(ctx, db, txn.ID)
		}
	default:
		return nil, errors.New("transaction kind does not support retry: " + txn.Kind)
	}
	return model.GetTransaction(ctx, db, txn.ID)
}

// Reverse 冲正：COMPLETED -> REVERSED，本地余额反向补偿并落账本。
// 充值冲正要求账户余额足够回吐；外部侧不做自动补偿（远端无幂等冲正原语），
// 需要远端动账的冲正由运营在外部系统手工处理。
func (s *recoveryService) Reverse(ctx context.Context, transactionID, reason, operator string) (*model.Transaction, error) {
	start := time.Now()
	result := "fail"
	defer func() { metrics.ObserveSettlement(constant.TxKindRefund, result, start) }()

	db := infmysql.SQLX()
	txn, err := model.GetTransaction(ctx, db, transactionID)
	if err != nil {
		if model.IsNotFound(err) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if txn.State != state.StateCompleted {
		return nil, &state.InvalidTransitionError{From: txn.State, To: state.StateReversed}
	}

	txCtx, cancel := txContext(ctx)
	defer cancel()
	tx, err := db.BeginTxx(txCtx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	acct, err := model.GetAccountForUpdate(txCtx, tx, txn.AccountID)
	if err != nil {
		return nil, err
	}
	before := acct.Balance
	var after decimal.Decimal

	switch txn.Kind {
	case constant.TxKindDeposit, constant.TxKindBonus:
		// 入账类冲正：回吐余额
		ok, err := model.DebitBalanceOnly(txCtx, tx, txn.AccountID, txn.Amount)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &InsufficientBalanceError{Required: txn.Amount, Available: before}
		}
		after = before.Sub(txn.Amount)
	case constant.TxKindWithdrawal:
		// 出账类冲正：退回余额
		if err := model.CreditBalanceOnly(txCtx, tx, txn.AccountID, txn.Amount); err != nil {
			return nil, err
		}
		after = before.Add(txn.Amount)
	default:
		return nil, errors.New("transaction kind does not support reversal: " + txn.Kind)
	}

	ledger := &model.WalletLedger{
		AccountID:     txn.AccountID,
		BizType:       constant.BizTypeRefund,
		Amount:        txn.Amount,
		BeforeAmount:  before,
		AfterAmount:   after,
		Currency:      txn.Currency,
		TransactionID: txn.ID,
		Remark:        "reversal by " + operator + ": " + reason,
	}
	if err := ledger.Insert(txCtx, tx); err != nil {
		return nil, err
	}
	if err := model.TransitionState(txCtx, tx, txn.ID, state.StateCompleted, state.StateReversed,
		&model.TransitionUpdate{ErrorMessage: "reversed: " + reason}); err != nil {
		return nil, err
	}
	payload := map[string]any{
		"event":          "transaction_reversed",
		"transaction_id": txn.ID,
		"account_id":     txn.AccountID,
		"amount":         txn.Amount.StringFixed(2),
		"operator":       operator,
	}
	if err := model.CreateOutbox(txCtx, tx, config.Get().RocketMQ.TopicTx, uuid.New().String(), payload); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	logger.AuditStateChange(ctx, txn.ID, state.StateCompleted, state.StateReversed)
	logger.AuditBalanceChange(ctx, txn.AccountID, constant.TxKindRefund, before.StringFixed(2), after.StringFixed(2))
	auditBestEffort(ctx, &model.AuditLog{
		EventType: "state_change", AccountID: txn.AccountID,
		EntityType: "transaction", EntityID: txn.ID,
		Action: "reverse", OldValue: state.StateCompleted, NewValue: state.StateReversed,
	})

	result = "success"
	return model.GetTransaction(ctx, db, txn.ID)
}
