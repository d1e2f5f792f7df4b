package model

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"wallet-server/common/constant"
)

// WalletLedger 对应 wallet_ledger 表（追加式账本）
// 说明：金额为非负；方向由 before_amount/after_amount 与 biz_type 推导
// biz_type: 1=deposit 充值 2=withdrawal 提现 3=bonus 赠金 4=refund 冲正 5=adjustment 调整
// 同时冗余 biz_type_str 便于查询
type WalletLedger struct {
	ID            int64           `db:"id"`
	AccountID     int64           `db:"account_id"`
	BizType       int             `db:"biz_type"`
	BizTypeStr    string          `db:"biz_type_str"`
	Amount        decimal.Decimal `db:"amount"`
	BeforeAmount  decimal.Decimal `db:"before_amount"`
	AfterAmount   decimal.Decimal `db:"after_amount"`
	Currency      string          `db:"currency"`
	TransactionID string          `db:"transaction_id"`
	Remark        string          `db:"remark"`
	TraceID       string          `db:"trace_id"`
	CreatedAt     int64           `db:"created_at"`
}

// Insert 新增一条账本记录（biz_type 数值码与字符串双写）
func (l *WalletLedger) Insert(ctx context.Context, exec sqlx.ExtContext) error {
	now := time.Now().UnixMilli()
	code := l.BizType
	str := l.BizTypeStr
	if code == 0 && str != "" {
		code = constant.BalanceChangeTypeCode(str)
	}
	if str == "" && code != 0 {
		str = constant.GetBalanceChangeTypeDesc(code)
	}
	if l.Currency == "" {
		l.Currency = constant.DefaultCurrency
	}
	sqlStr := "INSERT INTO wallet_ledger (account_id, biz_type, biz_type_str, amount, before_amount, after_amount, currency, transaction_id, remark, trace_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	args := []interface{}{l.AccountID, code, str, l.Amount, l.BeforeAmount, l.AfterAmount, l.Currency, l.TransactionID, l.Remark, l.TraceID, now}

	_, err := exec.ExecContext(ctx, sqlStr, args...)
	return err
}

// SumLedgerDelta 账本一致性校验用：某账户全部账本净变动（after-before 之和）
func SumLedgerDelta(ctx context.Context, db *sqlx.DB, accountID int64) (decimal.Decimal, error) {
	var s decimal.NullDecimal
	sqlStr := "SELECT COALESCE(SUM(after_amount - before_amount), 0) FROM wallet_ledger WHERE account_id = ?"
	if err := db.GetContext(ctx, &s, sqlStr, accountID); err != nil {
		return decimal.Zero, err
	}
	if !s.Valid {
		return decimal.Zero, nil
	}
	return s.Decimal, nil
}
