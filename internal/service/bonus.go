package service

import (
	"context"
	"fmt"
	"strings"
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
)

// RedeemInput 活动码领取入参
type RedeemInput struct {
	AccountID            int64
	Code                 string
	DepositTransactionID string // 已完成的充值交易
	TraceID              string
}

// RedeemOutput 领取出参
type RedeemOutput struct {
	TransactionID string
	BonusAmount   string
	NewBalance    string
}

// CreateBonusInput 运营创建活动码入参
type CreateBonusInput struct {
	Code        string
	Description string
	BonusType   string // fixed|percentage
	Value       string
	MinDeposit  string
	MaxUses     int
	ValidUntil  int64 // 毫秒时间戳，0 表示不过期
}

type BonusService interface {
	// Redeem 基于一笔已完成充值领取活动赠金（一人一次）
	Redeem(ctx context.Context, in RedeemInput) (*RedeemOutput, error)
	Create(ctx context.Context, in CreateBonusInput) (*model.Bonus, error)
	ListActive(ctx context.Context) ([]model.Bonus, error)
	Deactivate(ctx context.Context, code string) error
}

type bonusService struct{}

func NewBonusService() BonusService { return &bonusService{} }

// Redeem 领取活动赠金：
//  1. 充值交易必须 COMPLETED 且金额达标；
//  2. 校验活动码生效窗口/全局用量/一人一次；
//  3. 赠金交易（幂等键 bonus_{id}_{account}）、入账（不计累计充值）、
//     用量计数与领取记录同一事务落库；
//  4. 一人一次由 UNIQUE(bonus_id, account_id) 兜底，并发重复领取必有一方吃 1062。
func (s *bonusService) Redeem(ctx context.Context, in RedeemInput) (*RedeemOutput, error) {
	start := time.Now()
	result := "fail"
	defer func() { metrics.ObserveSettlement(constant.TxKindBonus, result, start) }()

	code := strings.ToUpper(strings.TrimSpace(in.Code))
	db := infmysql.SQLX()

	dep, err := model.GetTransaction(ctx, db, in.DepositTransactionID)
	if err != nil {
		if model.IsNotFound(err) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if dep.AccountID != in.AccountID || dep.Kind != constant.TxKindDeposit {
		return nil, ErrTransactionNotFound
	}
	if dep.State != state.StateCompleted {
		return nil, ErrDepositNotCompleted
	}

	bonus, err := model.GetBonusByCode(ctx, db, code)
	if err != nil {
		if model.IsNotFound(err) {
			return nil, ErrBonusNotFound
		}
		return nil, err
	}
	if err := validateBonus(bonus, dep.Amount); err != nil {
		return nil, err
	}
	used, err := model.HasUsedBonus(ctx, db, bonus.ID, in.AccountID)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, ErrBonusAlreadyUsed
	}

	amount := bonus.CalcAmount(dep.Amount)
	idemKey := fmt.Sprintf("bonus_%d_%d", bonus.ID, in.AccountID)

	txCtx, cancel := txContext(ctx)
	defer cancel()
	tx, err := db.BeginTxx(txCtx, nil)
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
	before := acct.Balance
	after := before.Add(amount)

	// 全局用量受保护 +1：最后一个名额被并发抢走时在这里失败
	if err := model.IncrementBonusUses(txCtx, tx, bonus.ID); err != nil {
		if model.IsNotFound(err) {
			return nil, ErrBonusExhausted
		}
		return nil, err
	}

	txn := &model.Transaction{
		ID:             uuid.New().String(),
		AccountID:      in.AccountID,
		Kind:           constant.TxKindBonus,
		State:          state.StatePending,
		Amount:         amount,
		Currency:       constant.DefaultCurrency,
		IdempotencyKey: nullStr(idemKey),
		BalanceBefore:  decimal.NewNullDecimal(before),
	}
	if err := txn.Insert(txCtx, tx); err != nil {
		if model.IsDuplicateKey(err) {
			return nil, ErrBonusAlreadyUsed
		}
		return nil, err
	}
	// 赠金无外部侧与核销环节，创建后即刻走完状态机
	if err := model.TransitionState(txCtx, tx, txn.ID, state.StatePending, state.StateProcessing, nil); err != nil {
		return nil, err
	}
	if err := model.CreditBalanceOnly(txCtx, tx, in.AccountID, amount); err != nil {
		return nil, err
	}
	ledger := &model.WalletLedger{
		AccountID:     in.AccountID,
		BizType:       constant.BizTypeBonus,
		Amount:        amount,
		BeforeAmount:  before,
		AfterAmount:   after,
		Currency:      constant.DefaultCurrency,
		TransactionID: txn.ID,
		Remark:        "bonus " + code,
		TraceID:       in.TraceID,
	}
	if err := ledger.Insert(txCtx, tx); err != nil {
		return nil, err
	}
	usage := &model.BonusUsage{
		BonusID:       bonus.ID,
		AccountID:     in.AccountID,
		TransactionID: txn.ID,
		AmountAwarded: amount,
	}
	if err := usage.Insert(txCtx, tx); err != nil {
		if model.IsDuplicateKey(err) {
			return nil, ErrBonusAlreadyUsed
		}
		return nil, err
	}
	if err := model.TransitionState(txCtx, tx, txn.ID, state.StateProcessing, state.StateCompleted,
		&model.TransitionUpdate{BalanceAfter: decimal.NewNullDecimal(after)}); err != nil {
		return nil, err
	}
	payload := map[string]any{
		"event":          "bonus_awarded",
		"transaction_id": txn.ID,
		"account_id":     in.AccountID,
		"code":           code,
		"amount":         amount.StringFixed(2),
	}
	if err := model.CreateOutbox(txCtx, tx, config.Get().RocketMQ.TopicTx, txn.ID, payload); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "活动赠金发放成功",
		zap.String("code", code), zap.Int64("account_id", in.AccountID),
		zap.String("amount", amount.StringFixed(2)), zap.String("transaction_id", txn.ID))
	logger.AuditBalanceChange(ctx, in.AccountID, constant.TxKindBonus, before.StringFixed(2), after.StringFixed(2))
	auditBestEffort(ctx, &model.AuditLog{
		EventType: "balance_change", AccountID: in.AccountID,
		EntityType: "transaction", EntityID: txn.ID,
		Action: "bonus_credit", OldValue: before.StringFixed(2), NewValue: after.StringFixed(2),
		TraceID: in.TraceID,
	})

	result = "success"
	return &RedeemOutput{
		TransactionID: txn.ID,
		BonusAmount:   chelper.TrimDecimal(amount),
		NewBalance:    chelper.TrimDecimal(after),
	}, nil
}

// validateBonus 活动码可用性校验
func validateBonus(b *model.Bonus, depositAmount decimal.Decimal) error {
	if !b.IsActive {
		return ErrBonusNotActive
	}
	now := time.Now().UnixMilli()
	if now < b.ValidFrom {
		return ErrBonusNotStarted
	}
	if b.ValidUntil.Valid && now > b.ValidUntil.Int64 {
		return ErrBonusExpired
	}
	if b.MaxUses > 0 && b.UsesCount >= b.MaxUses {
		return ErrBonusExhausted
	}
	if depositAmount.LessThan(b.MinDeposit) {
		return &MinDepositError{Required: b.MinDeposit}
	}
	return nil
}

func (s *bonusService) Create(ctx context.Context, in CreateBonusInput) (*model.Bonus, error) {
	if in.BonusType != model.BonusTypeFixed && in.BonusType != model.BonusTypePercentage {
		return nil, fmt.Errorf("invalid bonus type: %s", in.BonusType)
	}
	value, err := parseAmount(in.Value)
	if err != nil {
		return nil, err
	}
	minDep := decimal.Zero
	if in.MinDeposit != "" {
		if minDep, err = parseAmount(in.MinDeposit); err != nil {
			return nil, err
		}
	}
	b := &model.Bonus{
		Code:        strings.ToUpper(strings.TrimSpace(in.Code)),
		Description: in.Description,
		BonusType:   in.BonusType,
		Value:       value,
		MinDeposit:  minDep,
		MaxUses:     in.MaxUses,
		IsActive:    true,
	}
	if in.ValidUntil > 0 {
		b.ValidUntil.Int64, b.ValidUntil.Valid = in.ValidUntil, true
	}
	if err := b.Insert(ctx, infmysql.SQLX()); err != nil {
		if model.IsDuplicateKey(err) {
			return nil, fmt.Errorf("bonus code %s already exists", b.Code)
		}
		return nil, err
	}
	logger.InfoCtx(ctx, "创建活动码", zap.String("code", b.Code), zap.Int64("bonus_id", b.ID))
	return b, nil
}

func (s *bonusService) ListActive(ctx context.Context) ([]model.Bonus, error) {
	return model.ListActiveBonuses(ctx, infmysql.SQLX())
}

func (s *bonusService) Deactivate(ctx context.Context, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if err := model.DeactivateBonus(ctx, infmysql.SQLX(), code); err != nil {
		return err
	}
	logger.InfoCtx(ctx, "下线活动码", zap.String("code", code))
	return nil
}
