package service

import (
	"context"
	"errors"
	"fmt"
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

// DepositInput 发起充值入参
type DepositInput struct {
	AccountID      int64
	Amount         string
	Provider       string
	IdempotencyKey string // 可选；为空时服务端生成
	TraceID        string
}

// DepositOutput 发起充值出参：交易单与待核销的支付单
type DepositOutput struct {
	TransactionID string
	PaymentID     string
	State         string
	Amount        string
	ExpiresAt     int64
}

// ConfirmOutput 完成充值出参
type ConfirmOutput struct {
	TransactionID string
	State         string
	NewBalance    string
}

type DepositService interface {
	// InitiateDeposit 创建 PENDING 交易单与待核销支付单（幂等）
	InitiateDeposit(ctx context.Context, in DepositInput) (*DepositOutput, error)
	// ConfirmDeposit 支付核销后推进交易：PENDING -> PROCESSING -> 终态
	ConfirmDeposit(ctx context.Context, transactionID, traceID string) (*ConfirmOutput, error)
}

type depositService struct {
	wallet wallet.API
}

func NewDepositService(w wallet.API) DepositService { return &depositService{wallet: w} }

// InitiateDeposit 充值第一阶段：
//  1. Redis 快路径吸收瞬时重复，进行中锁保证同键串行；
//  2. 事务内锁定账户、创建 PENDING 交易单（balance_before 快照）与支付单；
//  3. 幂等键唯一索引兜底：1062 冲突回读首次创建的交易原样返回。
func (s *depositService) InitiateDeposit(ctx context.Context, in DepositInput) (*DepositOutput, error) {
	start := time.Now()
	result := "fail"
	defer func() { metrics.ObserveSettlement(constant.TxKindDeposit, result, start) }()

	amt, err := parseAmount(in.Amount)
	if err != nil {
		return nil, err
	}

	idemKey := in.IdempotencyKey
	if idemKey == "" {
		idemKey = fmt.Sprintf("dep_%d_%s_%s", in.AccountID, amt.StringFixed(2), uuid.New().String()[:8])
	}

	logger.InfoCtx(ctx, "收到充值请求",
		zap.Int64("account_id", in.AccountID), zap.String("amount", amt.StringFixed(2)),
		zap.String("provider", in.Provider), zap.String("idem_key", idemKey))

	// Redis 快路径
	var cached DepositOutput
	if cachedResult(ctx, idemKey, &cached) {
		metrics.IncIdempotentHit("redis_cache")
		result = "idempotent"
		return &cached, nil
	}
	release, ok := acquireIdemLock(ctx, idemKey)
	if !ok {
		if cachedResult(ctx, idemKey, &cached) {
			metrics.IncIdempotentHit("redis_cache")
			result = "idempotent"
			return &cached, nil
		}
		return nil, ErrDuplicateInFlight
	}
	defer release()

	txCtx, cancel := txContext(ctx)
	defer cancel()
	tx, err := infmysql.SQLX().BeginTxx(txCtx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	acct, err := model.GetAccountForUpdate(txCtx, tx, in.AccountID)
	if err != nil {
		if model.IsNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if err := ensureActive(acct); err != nil {
		return nil, err
	}

	txn := &model.Transaction{
		ID:             uuid.New().String(),
		AccountID:      in.AccountID,
		Kind:           constant.TxKindDeposit,
		Amount:         amt,
		Currency:       constant.DefaultCurrency,
		IdempotencyKey: nullStr(idemKey),
		BalanceBefore:  decimal.NewNullDecimal(acct.Balance),
	}
	if err := txn.Insert(txCtx, tx); err != nil {
		// 幂等键冲突：回读首次创建的交易与其支付单，原样返回
		if model.IsDuplicateKey(err) {
			_ = tx.Rollback()
			metrics.IncIdempotentHit("db_unique")
			prev, e1 := model.GetTransactionByIdemKey(ctx, infmysql.SQLX(), idemKey)
			if e1 != nil {
				return nil, e1
			}
			out := &DepositOutput{
				TransactionID: prev.ID,
				State:         prev.State,
				Amount:        chelper.TrimDecimal(prev.Amount),
			}
			if p, e2 := model.GetPaymentByTransaction(ctx, infmysql.SQLX(), prev.ID); e2 == nil {
				out.PaymentID = p.ID
				out.ExpiresAt = p.ExpiresAt
			}
			result = "idempotent"
			return out, nil
		}
		return nil, err
	}

	expiry := time.Duration(config.Get().Payments.ExpiryMinutes) * time.Minute
	pay := &model.Payment{
		ID:            uuid.New().String(),
		AccountID:     in.AccountID,
		TransactionID: txn.ID,
		Provider:      in.Provider,
		Amount:        amt,
		ExpiresAt:     time.Now().Add(expiry).UnixMilli(),
	}
	if err := pay.Insert(txCtx, tx); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(txCtx,
		"UPDATE transactions SET payment_reference = ? WHERE id = ?", pay.ID, txn.ID); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"event":          "deposit_initiated",
		"transaction_id": txn.ID,
		"account_id":     in.AccountID,
		"amount":         amt.StringFixed(2),
		"provider":       in.Provider,
	}
	if err := model.CreateOutbox(txCtx, tx, config.Get().RocketMQ.TopicTx, txn.ID, payload); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	logger.AuditTransactionStart(ctx, txn.ID, in.AccountID, constant.TxKindDeposit, amt.StringFixed(2))
	auditBestEffort(ctx, &model.AuditLog{
		EventType: "state_change", AccountID: in.AccountID,
		EntityType: "transaction", EntityID: txn.ID,
		Action: "create", NewValue: state.StatePending, TraceID: in.TraceID,
	})

	result = "success"
	out := &DepositOutput{
		TransactionID: txn.ID,
		PaymentID:     pay.ID,
		State:         state.StatePending,
		Amount:        chelper.TrimDecimal(amt),
		ExpiresAt:     pay.ExpiresAt,
	}
	cacheResult(ctx, idemKey, out)
	return out, nil
}

// ConfirmDeposit 充值第二阶段（支付单 verified 后由入口层或重入流程调用）：
//  1. 支付单必须已核销，否则拒绝且交易停留在 PENDING；
//  2. PENDING -> PROCESSING（受保护迁移，并发只有一个确认者能进来）；
//  3. 已绑定外部钱包则先远端入账：逻辑失败 -> PARTIALLY_FAILED（本地不入账，人工对账）；
//  4. 本地入账 + 累计充值 + balance_after + COMPLETED 同一事务落库。
//
// 离开 PENDING 之后的意外错误一律置 FAILED（可重入）。
func (s *depositService) ConfirmDeposit(ctx context.Context, transactionID, traceID string) (*ConfirmOutput, error) {
	start := time.Now()
	result := "fail"
	defer func() { metrics.ObserveSettlement(constant.TxKindDeposit, result, start) }()

	db := infmysql.SQLX()
	txn, err := model.GetTransaction(ctx, db, transactionID)
	if err != nil {
		if model.IsNotFound(err) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if txn.Kind != constant.TxKindDeposit {
		return nil, fmt.Errorf("transaction %s is not a deposit", transactionID)
	}
	if txn.State != state.StatePending {
		return nil, &state.InvalidTransitionError{From: txn.State, To: state.StateProcessing}
	}

	// 门控：支付单必须 verified
	pay, err := model.GetPaymentByTransaction(ctx, db, transactionID)
	if err != nil {
		if model.IsNotFound(err) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if pay.State != model.PaymentVerified {
		logger.WarnCtx(ctx, "支付未核销，拒绝完成充值",
			zap.String("transaction_id", transactionID), zap.String("payment_state", pay.State))
		return nil, ErrPaymentNotVerified
	}

	// PENDING -> PROCESSING
	if err := model.TransitionState(ctx, db, txn.ID, state.StatePending, state.StateProcessing, nil); err != nil {
		if model.IsNotFound(err) {
			// 并发确认：状态已被他人迁走
			return nil, &state.InvalidTransitionError{From: txn.State, To: state.StateProcessing}
		}
		return nil, err
	}
	logger.AuditStateChange(ctx, txn.ID, state.StatePending, state.StateProcessing)

	out, err := s.settleDeposit(ctx, txn, traceID)
	if err != nil {
		return nil, err
	}
	result = "success"
	logger.AuditTransactionComplete(ctx, txn.ID, txn.AccountID, "completed", time.Since(start).Milliseconds())
	return out, nil
}

// settleDeposit PROCESSING 之后的结算段：远端入账 + 本地入账 + 终态
func (s *depositService) settleDeposit(ctx context.Context, txn *model.Transaction, traceID string) (*ConfirmOutput, error) {
	db := infmysql.SQLX()

	acct, err := model.GetAccount(ctx, db, txn.AccountID)
	if err != nil {
		s.failDeposit(ctx, txn, "account lookup failed: "+err.Error(), traceID)
		return nil, err
	}

	// 远端入账（仅已绑定外部钱包的账户）
	var extRef string
	if acct.Linked() {
		resp, err := s.wallet.Credit(ctx, acct.ExternalUsername.String, txn.Amount)
		if err != nil {
			if wallet.IsLogicalFailure(err) {
				// 远端可能已入账也可能没有，本地不动，转人工
				reason := "external credit failed: " + err.Error()
				if e := model.TransitionState(ctx, db, txn.ID, state.StateProcessing, state.StatePartiallyFailed,
					&model.TransitionUpdate{ErrorMessage: reason}); e != nil {
					logger.ErrorCtx(ctx, "置 PARTIALLY_FAILED 失败", zap.String("transaction_id", txn.ID), zap.Error(e))
				}
				logger.AuditStateChange(ctx, txn.ID, state.StateProcessing, state.StatePartiallyFailed)
				auditBestEffort(ctx, &model.AuditLog{
					EventType: "state_change", AccountID: txn.AccountID,
					EntityType: "transaction", EntityID: txn.ID,
					Action: "partial_failure", OldValue: state.StateProcessing,
					NewValue: state.StatePartiallyFailed, TraceID: traceID,
				})
				logger.ErrorCtx(ctx, "远端入账逻辑失败，转人工对账",
					zap.String("transaction_id", txn.ID), zap.Error(err))
				return nil, err
			}
			// 超时/连接类错误重试耗尽：远端未确认成功，置 FAILED 可重入
			s.failDeposit(ctx, txn, "external credit error: "+err.Error(), traceID)
			return nil, err
		}
		extRef = resp.Str("transactionId")
	}

	// 本地入账：余额 + 累计充值 + balance_after + COMPLETED 同一事务
	txCtx, cancel := txContext(ctx)
	defer cancel()
	tx, err := db.BeginTxx(txCtx, nil)
	if err != nil {
		s.failDeposit(ctx, txn, "begin tx: "+err.Error(), traceID)
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	locked, err := model.GetAccountForUpdate(txCtx, tx, txn.AccountID)
	if err != nil {
		s.failDeposit(ctx, txn, "lock account: "+err.Error(), traceID)
		return nil, err
	}
	before := locked.Balance
	after := before.Add(txn.Amount)

	if err := model.CreditBalance(txCtx, tx, txn.AccountID, txn.Amount); err != nil {
		s.failDeposit(ctx, txn, "credit balance: "+err.Error(), traceID)
		return nil, err
	}
	ledger := &model.WalletLedger{
		AccountID:     txn.AccountID,
		BizType:       constant.BizTypeDeposit,
		Amount:        txn.Amount,
		BeforeAmount:  before,
		AfterAmount:   after,
		Currency:      txn.Currency,
		TransactionID: txn.ID,
		Remark:        "deposit credit",
		TraceID:       traceID,
	}
	if err := ledger.Insert(txCtx, tx); err != nil {
		s.failDeposit(ctx, txn, "ledger insert: "+err.Error(), traceID)
		return nil, err
	}
	if err := model.TransitionState(txCtx, tx, txn.ID, state.StateProcessing, state.StateCompleted,
		&model.TransitionUpdate{
			ExternalReference: extRef,
			BalanceAfter:      decimal.NewNullDecimal(after),
		}); err != nil {
		_ = tx.Rollback()
		s.failDeposit(ctx, txn, "finalize state: "+err.Error(), traceID)
		return nil, err
	}
	payload := map[string]any{
		"event":          "deposit_completed",
		"transaction_id": txn.ID,
		"account_id":     txn.AccountID,
		"amount":         txn.Amount.StringFixed(2),
		"balance_after":  after.StringFixed(2),
	}
	if err := model.CreateOutbox(txCtx, tx, config.Get().RocketMQ.TopicTx, txn.ID, payload); err != nil {
		_ = tx.Rollback()
		s.failDeposit(ctx, txn, "outbox insert: "+err.Error(), traceID)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		s.failDeposit(ctx, txn, "commit: "+err.Error(), traceID)
		return nil, err
	}

	logger.AuditStateChange(ctx, txn.ID, state.StateProcessing, state.StateCompleted)
	logger.AuditBalanceChange(ctx, txn.AccountID, constant.TxKindDeposit, before.StringFixed(2), after.StringFixed(2))
	auditBestEffort(ctx, &model.AuditLog{
		EventType: "balance_change", AccountID: txn.AccountID,
		EntityType: "transaction", EntityID: txn.ID,
		Action: "deposit_credit", OldValue: before.StringFixed(2),
		NewValue: after.StringFixed(2), TraceID: traceID,
	})

	return &ConfirmOutput{
		TransactionID: txn.ID,
		State:         state.StateCompleted,
		NewBalance:    chelper.TrimDecimal(after),
	}, nil
}

// failDeposit 意外错误统一置 FAILED（可由运营重入），迁移失败只告警
func (s *depositService) failDeposit(ctx context.Context, txn *model.Transaction, reason, traceID string) {
	err := model.TransitionState(ctx, infmysql.SQLX(), txn.ID, state.StateProcessing, state.StateFailed,
		&model.TransitionUpdate{ErrorMessage: reason})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorCtx(ctx, "置 FAILED 失败",
			zap.String("transaction_id", txn.ID), zap.String("reason", reason), zap.Error(err))
		return
	}
	logger.AuditStateChange(ctx, txn.ID, state.StateProcessing, state.StateFailed)
	auditBestEffort(ctx, &model.AuditLog{
		EventType: "state_change", AccountID: txn.AccountID,
		EntityType: "transaction", EntityID: txn.ID,
		Action: "fail", OldValue: state.StateProcessing, NewValue: state.StateFailed,
		TraceID: traceID,
	})
}
