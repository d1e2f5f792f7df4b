package model

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Payment 状态（settlement record）
const (
	PaymentPending  = "pending"
	PaymentVerified = "verified"
	PaymentFailed   = "failed"
	PaymentExpired  = "expired"
	PaymentPaid     = "paid" // 提现打款完成（运营跟进项，不门控交易终态）
)

// Payment 对应 payments 表：充值的入账凭证 / 提现的打款单
// 生命周期独立于 transactions，但充值交易离开 PROCESSING 前必须 verified
type Payment struct {
	ID                   string              `db:"id"` // uuid
	AccountID            int64               `db:"account_id"`
	TransactionID        string              `db:"transaction_id"`
	Provider             string              `db:"provider"`
	State                string              `db:"state"`
	Amount               decimal.Decimal     `db:"amount"`
	ProviderReference    sql.NullString      `db:"provider_reference"` // 渠道转账凭证号
	PhoneNumber          sql.NullString      `db:"phone_number"`       // 充值付款方/提现收款方手机号
	VerifiedAt           sql.NullInt64       `db:"verified_at"`
	VerificationAttempts int                 `db:"verification_attempts"`
	CreatedAt            int64               `db:"created_at"`
	ExpiresAt            int64               `db:"expires_at"`
}

const paymentFields = "id, account_id, transaction_id, provider, state, amount, provider_reference, phone_number, verified_at, verification_attempts, created_at, expires_at"

// Insert 创建支付单（pending；expires_at 由调用方按配置窗口计算）
func (p *Payment) Insert(ctx context.Context, exec sqlx.ExtContext) error {
	now := time.Now().UnixMilli()
	p.CreatedAt = now
	if p.State == "" {
		p.State = PaymentPending
	}
	sqlStr := "INSERT INTO payments (id, account_id, transaction_id, provider, state, amount, provider_reference, phone_number, verification_attempts, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := exec.ExecContext(ctx, sqlStr,
		p.ID, p.AccountID, p.TransactionID, p.Provider, p.State, p.Amount,
		p.ProviderReference, p.PhoneNumber, p.VerificationAttempts, now, p.ExpiresAt)
	return err
}

// GetPayment 按 ID 查询
func GetPayment(ctx context.Context, exec sqlx.ExtContext, id string) (*Payment, error) {
	var p Payment
	sqlStr := "SELECT " + paymentFields + " FROM payments WHERE id = ?"
	if err := sqlx.GetContext(ctx, exec, &p, sqlStr, id); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPaymentByTransaction 按交易查询关联支付单
func GetPaymentByTransaction(ctx context.Context, exec sqlx.ExtContext, txID string) (*Payment, error) {
	var p Payment
	sqlStr := "SELECT " + paymentFields + " FROM payments WHERE transaction_id = ? ORDER BY created_at DESC LIMIT 1"
	if err := sqlx.GetContext(ctx, exec, &p, sqlStr, txID); err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkPaymentVerified 受保护迁移 pending -> verified，回填凭证号与付款手机号
// 0 行受影响（已非 pending 或已过期处理）返回 sql.ErrNoRows
func MarkPaymentVerified(ctx context.Context, exec sqlx.ExtContext, id, providerRef, phone string) error {
	now := time.Now().UnixMilli()
	sqlStr := "UPDATE payments SET state = ?, provider_reference = ?, phone_number = COALESCE(NULLIF(?, ''), phone_number), verified_at = ? WHERE id = ? AND state = ?"
	res, err := exec.ExecContext(ctx, sqlStr, PaymentVerified, providerRef, phone, now, id, PaymentPending)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IncrPaymentAttempts 核销尝试计数 +1，返回自增后的值
func IncrPaymentAttempts(ctx context.Context, exec sqlx.ExtContext, id string) (int, error) {
	sqlStr := "UPDATE payments SET verification_attempts = verification_attempts + 1 WHERE id = ?"
	if _, err := exec.ExecContext(ctx, sqlStr, id); err != nil {
		return 0, err
	}
	var n int
	if err := sqlx.GetContext(ctx, exec, &n, "SELECT verification_attempts FROM payments WHERE id = ?", id); err != nil {
		return 0, err
	}
	return n, nil
}

// MarkPaymentState 将支付单迁移至 failed/expired/paid（仅允许从 pending 出发，paid 从 verified 出发由提现打款流程调用）
func MarkPaymentState(ctx context.Context, exec sqlx.ExtContext, id, from, to string) error {
	res, err := exec.ExecContext(ctx, "UPDATE payments SET state = ? WHERE id = ? AND state = ?", to, id, from)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ExpireStalePayments 批量将超期未核销的支付单置为 expired，返回处理条数
// 由后台清扫协程周期调用
func ExpireStalePayments(ctx context.Context, exec sqlx.ExtContext) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := exec.ExecContext(ctx,
		"UPDATE payments SET state = ? WHERE state = ? AND expires_at > 0 AND expires_at < ?",
		PaymentExpired, PaymentPending, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
