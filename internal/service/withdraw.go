package service

import (
	"context"
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

// WithdrawInput 提现入参
type WithdrawInput struct {
	AccountID      int64
	Amount         string
	Provider       string
	PayoutPhone    string // 收款手机号，人工打款目标
	IdempotencyKey string
	TraceID        string
}

// WithdrawOutput 提现出参
type WithdrawOutput struct {
	TransactionID string
	PaymentID     string
	State         string
	NewBalance    string
}

type WithdrawService interface {
	// Withdraw 提现主流程：余额前置校验 -> 远端出账 -> 本地出账 -> 打款单
	Withdraw(ctx context.Context, in WithdrawInput) (*WithdrawOutput, error)
}

type withdrawService struct {
	wallet wallet.API
}

func NewWithdrawService(w wallet.API) WithdrawService { return &withdrawService{wallet: w} }

// Withdraw 提现与充值镜像：先动远端再动本地。
//  1. 余额不足快速失败，不产生任何交易记录，也不触达远端；
//  2. 创建 PENDING（balance_before 快照）-> PROCESSING；
//  3. 已绑定外部钱包则先远端出账：失败置 FAILED —— 本地分文未动，安全可重入；
//  4. 条件出账（WHERE balance >= amount）+ 累计提现 + 打款单（pending，人工打款）
//     + COMPLETED 同一事务落库。打款单后续置 paid 不影响交易终态。
func (s *withdrawService) Withdraw(ctx context.Context, in WithdrawInput) (*WithdrawOutput, error) {
	start := time.Now()
	result := "fail"
	defer func() { metrics.ObserveSettlement(constant.TxKindWithdrawal, result, start) }()

	amt, err := parseAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	if !chelper.ValidatePayoutPhone(in.PayoutPhone) {
		return nil, ErrInvalidPayoutPhone
	}

	idemKey := in.IdempotencyKey
	if idemKey == "" {
		idemKey = fmt.Sprintf("wdr_%d_%s_%s", in.AccountID, amt.StringFixed(2), uuid.New().String()[:8])
	}

	logger.InfoCtx(ctx, "收到提现请求",
		zap.Int64("account_id", in.AccountID), zap.String("amount", amt.StringFixed(2)),
		zap.String("provider", in.Provider), zap.String("phone", chelper.MaskPhone(in.PayoutPhone)),
		zap.String("idem_key", idemKey))

	var cached WithdrawOutput
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

	db := infmysql.SQLX()

	// 前置校验：账户存在、未冻结、余额充足（不足不落任何记录）
	acct, err := model.GetAccount(ctx, db, in.AccountID)
	if err != nil {
		if model.IsNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if err := ensureActive(acct); err != nil {
		return nil, err
	}
	if acct.Balance.LessThan(amt) {
		return nil, &InsufficientBalanceError{Required: amt, Available: acct.Balance}
	}

	// 创建 PENDING 交易单；幂等冲突回读原单
	txn := &model.Transaction{
		ID:             uuid.New().String(),
		AccountID:      in.AccountID,
		Kind:           constant.TxKindWithdrawal,
		Amount:         amt,
		Currency:       constant.DefaultCurrency,
		IdempotencyKey: nullStr(idemKey),
		BalanceBefore:  decimal.NewNullDecimal(acct.Balance),
	}
	if err := txn.Insert(ctx, db); err != nil {
		if model.IsDuplicateKey(err) {
			metrics.IncIdempotentHit("db_unique")
			prev, e1 := model.GetTransactionByIdemKey(ctx, db, idemKey)
			if e1 != nil {
				return nil, e1
			}
			out := &WithdrawOutput{TransactionID: prev.ID, State: prev.State}
			if prev.BalanceAfter.Valid {
				out.NewBalance = chelper.TrimDecimal(prev.BalanceAfter.Decimal)
			}
			result = "idempotent"
			return out, nil
		}
		return nil, err
	}
	logger.AuditTransactionStart(ctx, txn.ID, in.AccountID, constant.TxKindWithdrawal, amt.StringFixed(2))

	if err := model.TransitionState(ctx, db, txn.ID, state.StatePending, state.StateProcessing, nil); err != nil {
		return nil, err
	}
	logger.AuditStateChange(ctx, txn.ID, state.StatePending, state.StateProcessing)

	out, err := s.settle(ctx, txn, in.Provider, in.PayoutPhone, in.TraceID)
	if err != nil {
		return nil, err
	}
	result = "success"
	cacheResult(ctx, idemKey, out)
	logger.AuditTransactionComplete(ctx, txn.ID, in.AccountID, "completed", time.Since(start).Milliseconds())
	return out, nil
}

// settle PROCESSING 之后的结算段，重入流程（FAILED -> PENDING -> PROCESSING）复用
func (s *withdrawService) settle(ctx context.Context, txn *model.Transaction, provider, payoutPhone, traceID string) (*WithdrawOutput, error) {
	db := infmysql.SQLX()

	acct, err := model.GetAccount(ctx, db, txn.AccountID)
	if err != nil {
		s.fail(ctx, txn, "account lookup failed: "+err.Error(), traceID)
		return nil, err
	}

	// 远端先出账：失败时本地分文未动，置 FAILED 即可安全重入
	var extRef string
	if acct.Linked() {
		resp, err := s.wallet.Debit(ctx, acct.ExternalUsername.String, txn.Amount)
		if err != nil {
			s.fail(ctx, txn, "external debit failed: "+err.Error(), traceID)
			logger.ErrorCtx(ctx, "远端出账失败，交易置 FAILED",
				zap.String("transaction_id", txn.ID), zap.Error(err))
			return nil, err
		}
		extRef = resp.Str("transactionId")
	}

	txCtx, cancel := txContext(ctx)
	defer cancel()
	tx, err := db.BeginTxx(txCtx, nil)
	if err != nil {
		s.fail(ctx, txn, "begin tx: "+err.Error(), traceID)
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	locked, err := model.GetAccountForUpdate(txCtx, tx, txn.AccountID)
	if err != nil {
		s.fail(ctx, txn, "lock account: "+err.Error(), traceID)
		return nil, err
	}
	before := locked.Balance

	// 条件出账：并发下余额被其他提现抢先扣走时这里会失败
	debited, err := model.DebitBalance(txCtx, tx, txn.AccountID, txn.Amount)
	if err != nil {
		s.fail(ctx, txn, "debit balance: "+err.Error(), traceID)
		return nil, err
	}
	if !debited {
		_ = tx.Rollback()
		s.fail(ctx, txn, "insufficient balance at debit time", traceID)
		return nil, &InsufficientBalanceError{Required: txn.Amount, Available: before}
	}
	after := before.Sub(txn.Amount)

	// 打款备注单号：运营在渠道转账时填入备注，用于对账
	billNo := chelper.GenerateBillNo("WD")

	ledger := &model.WalletLedger{
		AccountID:     txn.AccountID,
		BizType:       constant.BizTypeWithdrawal,
		Amount:        txn.Amount,
		BeforeAmount:  before,
		AfterAmount:   after,
		Currency:      txn.Currency,
		TransactionID: txn.ID,
		Remark:        "withdrawal debit " + billNo,
		TraceID:       traceID,
	}
	if err := ledger.Insert(txCtx, tx); err != nil {
		s.fail(ctx, txn, "ledger insert: "+err.Error(), traceID)
		return nil, err
	}

	// 打款单：pending，由运营人工打款后置 paid
	pay := &model.Payment{
		ID:            uuid.New().String(),
		AccountID:     txn.AccountID,
		TransactionID: txn.ID,
		Provider:      provider,
		Amount:        txn.Amount,
		PhoneNumber:   nullStr(payoutPhone),
	}
	if err := pay.Insert(txCtx, tx); err != nil {
		s.fail(ctx, txn, "payout record insert: "+err.Error(), traceID)
		return nil, err
	}

	if err := model.TransitionState(txCtx, tx, txn.ID, state.StateProcessing, state.StateCompleted,
		&model.TransitionUpdate{
			ExternalReference: extRef,
			BalanceAfter:      decimal.NewNullDecimal(after),
		}); err != nil {
		_ = tx.Rollback()
		s.fail(ctx, txn, "finalize state: "+err.Error(), traceID)
		return nil, err
	}
	payload := map[string]any{
		"event":          "withdrawal_completed",
		"transaction_id": txn.ID,
		"account_id":     txn.AccountID,
		"amount":         txn.Amount.StringFixed(2),
		"payment_id":     pay.ID,
		"bill_no":        billNo,
	}
	if err := model.CreateOutbox(txCtx, tx, config.Get().RocketMQ.TopicTx, txn.ID, payload); err != nil {
		_ = tx.Rollback()
		s.fail(ctx, txn, "outbox insert: "+err.Error(), traceID)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		s.fail(ctx, txn, "commit: "+err.Error(), traceID)
		return nil, err
	}

	logger.AuditStateChange(ctx, txn.ID, state.StateProcessing, state.StateCompleted)
	logger.AuditBalanceChange(ctx, txn.AccountID, constant.TxKindWithdrawal, before.StringFixed(2), after.StringFixed(2))
	auditBestEffort(ctx, &model.AuditLog{
		EventType: "balance_change", AccountID: txn.AccountID,
		EntityType: "transaction", EntityID: txn.ID,
		Action: "withdrawal_debit", OldValue: before.StringFixed(2),
		NewValue: after.StringFixed(2), TraceID: traceID,
	})

	return &WithdrawOutput{
		TransactionID: txn.ID,
		PaymentID:     pay.ID,
		State:         state.StateCompleted,
		NewBalance:    chelper.TrimDecimal(after),
	}, nil
}

func (s *withdrawService) fail(ctx context.Context, txn *model.Transaction, reason, traceID string) {
	err := model.TransitionState(ctx, infmysql.SQLX(), txn.ID, state.StateProcessing, state.StateFailed,
		&model.TransitionUpdate{ErrorMessage: reason})
	if err != nil {
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
