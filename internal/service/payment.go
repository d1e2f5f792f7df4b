package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wallet-server/common/logger"
	"wallet-server/internal/config"
	infmysql "wallet-server/internal/infra/mysql"
	"wallet-server/internal/model"
)

// VerifyInput 支付核销入参
type VerifyInput struct {
	PaymentID         string
	ProviderReference string // 渠道转账凭证号
	PhoneNumber       string // 付款方手机号（可选）
	TraceID           string
}

// VerifyOutput 支付核销出参
type VerifyOutput struct {
	PaymentID     string
	TransactionID string
	State         string
	Attempts      int
}

// PaymentService 支付核销协作方：只负责支付单状态迁移，
// 交易推进由充值确认流程读取支付单状态后自行驱动。
type PaymentService interface {
	VerifyPayment(ctx context.Context, in VerifyInput) (*VerifyOutput, error)
	// MarkPayoutPaid 运营打款完成后将提现打款单 pending -> paid
	MarkPayoutPaid(ctx context.Context, paymentID string) error
	// ExpireStale 周期清扫：超期未核销的支付单批量置 expired
	ExpireStale(ctx context.Context) (int64, error)
}

type paymentService struct{}

func NewPaymentService() PaymentService { return &paymentService{} }

// VerifyPayment 核销充值凭证：
//  1. 过期支付单先置 expired 再拒绝；
//  2. 尝试次数 +1，超限置 failed；
//  3. 测试模式只认配置的测试凭证号；正式模式凭证由对账方确认后调用本方法，
//     到这里即视为确认成立，受保护迁移 pending -> verified。
func (s *paymentService) VerifyPayment(ctx context.Context, in VerifyInput) (*VerifyOutput, error) {
	db := infmysql.SQLX()
	pay, err := model.GetPayment(ctx, db, in.PaymentID)
	if err != nil {
		if model.IsNotFound(err) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if pay.State != model.PaymentPending {
		return nil, ErrPaymentNotVerified
	}

	now := time.Now().UnixMilli()
	if pay.ExpiresAt > 0 && pay.ExpiresAt < now {
		if err := model.MarkPaymentState(ctx, db, pay.ID, model.PaymentPending, model.PaymentExpired); err != nil && !model.IsNotFound(err) {
			return nil, err
		}
		logger.WarnCtx(ctx, "支付单已过期", zap.String("payment_id", pay.ID))
		return nil, ErrPaymentExpired
	}

	attempts, err := model.IncrPaymentAttempts(ctx, db, pay.ID)
	if err != nil {
		return nil, err
	}
	maxAttempts := config.Get().Payments.MaxVerificationAttempts
	if attempts > maxAttempts {
		if err := model.MarkPaymentState(ctx, db, pay.ID, model.PaymentPending, model.PaymentFailed); err != nil && !model.IsNotFound(err) {
			return nil, err
		}
		logger.WarnCtx(ctx, "核销尝试超限，支付单置 failed",
			zap.String("payment_id", pay.ID), zap.Int("attempts", attempts))
		return &VerifyOutput{PaymentID: pay.ID, TransactionID: pay.TransactionID,
			State: model.PaymentFailed, Attempts: attempts}, nil
	}

	// 测试模式：只认配置的测试凭证号，其余计一次失败尝试
	if config.PaymentsTestMode() && in.ProviderReference != config.Get().Payments.TestReference {
		logger.WarnCtx(ctx, "测试模式凭证号不匹配",
			zap.String("payment_id", pay.ID), zap.Int("attempts", attempts))
		return &VerifyOutput{PaymentID: pay.ID, TransactionID: pay.TransactionID,
			State: model.PaymentPending, Attempts: attempts}, nil
	}

	if err := model.MarkPaymentVerified(ctx, db, pay.ID, in.ProviderReference, in.PhoneNumber); err != nil {
		if model.IsNotFound(err) {
			// 并发核销：已被他人迁走
			return nil, ErrPaymentNotVerified
		}
		return nil, err
	}

	logger.AuditPaymentReceived(ctx, pay.ID, pay.AccountID, pay.Provider, pay.Amount.StringFixed(2))
	auditBestEffort(ctx, &model.AuditLog{
		EventType: "payment", AccountID: pay.AccountID,
		EntityType: "payment", EntityID: pay.ID,
		Action: "verify", OldValue: model.PaymentPending, NewValue: model.PaymentVerified,
		TraceID: in.TraceID,
	})

	return &VerifyOutput{PaymentID: pay.ID, TransactionID: pay.TransactionID,
		State: model.PaymentVerified, Attempts: attempts}, nil
}

// MarkPayoutPaid 提现打款完成登记：不回写交易终态（提现在本地出账时已 COMPLETED）
func (s *paymentService) MarkPayoutPaid(ctx context.Context, paymentID string) error {
	db := infmysql.SQLX()
	pay, err := model.GetPayment(ctx, db, paymentID)
	if err != nil {
		if model.IsNotFound(err) {
			return ErrPaymentNotFound
		}
		return err
	}
	if err := model.MarkPaymentState(ctx, db, paymentID, model.PaymentPending, model.PaymentPaid); err != nil {
		if model.IsNotFound(err) {
			return ErrPaymentNotVerified
		}
		return err
	}
	auditBestEffort(ctx, &model.AuditLog{
		EventType: "payment", AccountID: pay.AccountID,
		EntityType: "payment", EntityID: paymentID,
		Action: "payout_paid", OldValue: model.PaymentPending, NewValue: model.PaymentPaid,
	})
	return nil
}

// ExpireStale 超期清扫，由后台协程周期调用
func (s *paymentService) ExpireStale(ctx context.Context) (int64, error) {
	n, err := model.ExpireStalePayments(ctx, infmysql.SQLX())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.InfoCtx(ctx, "过期支付单清扫完成", zap.Int64("expired", n))
	}
	return n, nil
}
