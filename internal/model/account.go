package model

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Account 对应 accounts 表
// balance/total_* 为 DECIMAL(20,2)，余额只通过本文件的原子原语修改，
// 业务代码不得直接 UPDATE balance。
type Account struct {
	ID                 int64           `db:"id"`
	ExternalUsername   sql.NullString  `db:"external_username"` // 外部钱包账号（可空：未开通）
	ExternalPassword   sql.NullString  `db:"external_password"`
	ExternalRegistered bool            `db:"external_registered"`
	State              int             `db:"state"` // constant.AccountActive 等
	BlockedReason      string          `db:"blocked_reason"`
	Balance            decimal.Decimal `db:"balance"`
	TotalDeposited     decimal.Decimal `db:"total_deposited"`
	TotalWithdrawn     decimal.Decimal `db:"total_withdrawn"`
	CreatedAt          int64           `db:"created_at"`
	UpdatedAt          int64           `db:"updated_at"`
}

// Linked 是否已开通外部钱包账号
func (a *Account) Linked() bool {
	return a.ExternalRegistered && a.ExternalUsername.Valid && a.ExternalUsername.String != ""
}

const accountFields = "id, external_username, external_password, external_registered, state, blocked_reason, balance, total_deposited, total_withdrawn, created_at, updated_at"

// GetAccount 按 ID 查询账户
func GetAccount(ctx context.Context, exec sqlx.ExtContext, id int64) (*Account, error) {
	var a Account
	sqlStr := "SELECT " + accountFields + " FROM accounts WHERE id = ?"
	if err := sqlx.GetContext(ctx, exec, &a, sqlStr, id); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccountForUpdate 在事务内加行锁读取账户（余额变更前必须走这里）
func GetAccountForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*Account, error) {
	var a Account
	sqlStr := "SELECT " + accountFields + " FROM accounts WHERE id = ? FOR UPDATE"
	if err := tx.GetContext(ctx, &a, sqlStr, id); err != nil {
		return nil, err
	}
	return &a, nil
}

// Insert 创建账户（余额 0 起步）
func (a *Account) Insert(ctx context.Context, exec sqlx.ExtContext) error {
	now := time.Now().UnixMilli()
	a.CreatedAt, a.UpdatedAt = now, now
	sqlStr := "INSERT INTO accounts (external_username, external_password, external_registered, state, blocked_reason, balance, total_deposited, total_withdrawn, created_at, updated_at) VALUES (?, ?, ?, ?, ?, 0, 0, 0, ?, ?)"
	res, err := exec.ExecContext(ctx, sqlStr,
		a.ExternalUsername, a.ExternalPassword, a.ExternalRegistered, a.State, a.BlockedReason, now, now)
	if err != nil {
		return err
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

// CreditBalance 原子入账：余额与累计充值同条 UPDATE 内变更
// 返回值为变更后的余额需由调用方在同一事务内用行锁读出的 before 计算
func CreditBalance(ctx context.Context, exec sqlx.ExtContext, accountID int64, amount decimal.Decimal) error {
	now := time.Now().UnixMilli()
	sqlStr := "UPDATE accounts SET balance = balance + ?, total_deposited = total_deposited + ?, updated_at = ? WHERE id = ?"
	_, err := exec.ExecContext(ctx, sqlStr, amount, amount, now, accountID)
	return err
}

// CreditBalanceOnly 仅入账不计入累计充值（bonus/refund 走这里）
func CreditBalanceOnly(ctx context.Context, exec sqlx.ExtContext, accountID int64, amount decimal.Decimal) error {
	now := time.Now().UnixMilli()
	sqlStr := "UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE id = ?"
	_, err := exec.ExecContext(ctx, sqlStr, amount, now, accountID)
	return err
}

// DebitBalance 条件出账：余额充足才扣减，返回是否扣减成功
// WHERE balance >= ? 把读写合并进同一条语句，消除读后写竞态
func DebitBalance(ctx context.Context, exec sqlx.ExtContext, accountID int64, amount decimal.Decimal) (bool, error) {
	now := time.Now().UnixMilli()
	sqlStr := "UPDATE accounts SET balance = balance - ?, total_withdrawn = total_withdrawn + ?, updated_at = ? WHERE id = ? AND balance >= ?"
	res, err := exec.ExecContext(ctx, sqlStr, amount, amount, now, accountID, amount)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DebitBalanceOnly 仅出账不计入累计提现（reverse 冲正入账的反向调整用）
func DebitBalanceOnly(ctx context.Context, exec sqlx.ExtContext, accountID int64, amount decimal.Decimal) (bool, error) {
	now := time.Now().UnixMilli()
	sqlStr := "UPDATE accounts SET balance = balance - ?, updated_at = ? WHERE id = ? AND balance >= ?"
	res, err := exec.ExecContext(ctx, sqlStr, amount, now, accountID, amount)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// LinkExternalAccount 绑定外部钱包账号（注册成功后回填）
func LinkExternalAccount(ctx context.Context, exec sqlx.ExtContext, accountID int64, username, password string) error {
	now := time.Now().UnixMilli()
	sqlStr := "UPDATE accounts SET external_username = ?, external_password = ?, external_registered = 1, updated_at = ? WHERE id = ?"
	_, err := exec.ExecContext(ctx, sqlStr, username, password, now, accountID)
	return err
}

// UpdateExternalPassword 外部账号改密成功后同步本地凭证
func UpdateExternalPassword(ctx context.Context, exec sqlx.ExtContext, accountID int64, password string) error {
	now := time.Now().UnixMilli()
	sqlStr := "UPDATE accounts SET external_password = ?, updated_at = ? WHERE id = ?"
	_, err := exec.ExecContext(ctx, sqlStr, password, now, accountID)
	return err
}
