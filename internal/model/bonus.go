package model

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Bonus 类型
const (
	BonusTypeFixed      = "fixed"      // 固定金额
	BonusTypePercentage = "percentage" // 按充值金额百分比
)

// Bonus 对应 bonuses 表（活动码）
// uses_count 为全局已用次数，max_uses=0 表示不限次
type Bonus struct {
	ID          int64           `db:"id"`
	Code        string          `db:"code"` // 唯一，统一大写存储
	Description string          `db:"description"`
	BonusType   string          `db:"bonus_type"`
	Value       decimal.Decimal `db:"value"`
	MinDeposit  decimal.Decimal `db:"min_deposit"`
	MaxUses     int             `db:"max_uses"`
	UsesCount   int             `db:"uses_count"`
	IsActive    bool            `db:"is_active"`
	ValidFrom   int64           `db:"valid_from"`
	ValidUntil  sql.NullInt64   `db:"valid_until"`
	CreatedAt   int64           `db:"created_at"`
}

const bonusFields = "id, code, description, bonus_type, value, min_deposit, max_uses, uses_count, is_active, valid_from, valid_until, created_at"

// CalcAmount 按充值金额计算赠送金额
func (b *Bonus) CalcAmount(depositAmount decimal.Decimal) decimal.Decimal {
	if b.BonusType == BonusTypePercentage {
		return depositAmount.Mul(b.Value).Div(decimal.NewFromInt(100)).Round(2)
	}
	return b.Value
}

// Insert 创建活动码（运营后台）
func (b *Bonus) Insert(ctx context.Context, exec sqlx.ExtContext) error {
	now := time.Now().UnixMilli()
	b.CreatedAt = now
	if b.ValidFrom == 0 {
		b.ValidFrom = now
	}
	sqlStr := "INSERT INTO bonuses (code, description, bonus_type, value, min_deposit, max_uses, uses_count, is_active, valid_from, valid_until, created_at) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)"
	res, err := exec.ExecContext(ctx, sqlStr,
		b.Code, b.Description, b.BonusType, b.Value, b.MinDeposit,
		b.MaxUses, b.IsActive, b.ValidFrom, b.ValidUntil, now)
	if err != nil {
		return err
	}
	b.ID, _ = res.LastInsertId()
	return nil
}

// GetBonusByCode 按活动码查询（不限状态，校验交给调用方）
func GetBonusByCode(ctx context.Context, exec sqlx.ExtContext, code string) (*Bonus, error) {
	var b Bonus
	sqlStr := "SELECT " + bonusFields + " FROM bonuses WHERE code = ?"
	if err := sqlx.GetContext(ctx, exec, &b, sqlStr, code); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListActiveBonuses 当前生效的活动码列表
func ListActiveBonuses(ctx context.Context, db *sqlx.DB) ([]Bonus, error) {
	now := time.Now().UnixMilli()
	sqlStr := "SELECT " + bonusFields + " FROM bonuses WHERE is_active = 1 AND valid_from <= ? AND (valid_until IS NULL OR valid_until > ?) ORDER BY created_at DESC"
	var list []Bonus
	if err := db.SelectContext(ctx, &list, sqlStr, now, now); err != nil {
		return nil, err
	}
	return list, nil
}

// IncrementBonusUses 受保护的全局用量 +1：max_uses>0 时超额不生效
// 返回 sql.ErrNoRows 表示用量已耗尽（并发下最后一个名额被抢走）
func IncrementBonusUses(ctx context.Context, exec sqlx.ExtContext, bonusID int64) error {
	sqlStr := "UPDATE bonuses SET uses_count = uses_count + 1 WHERE id = ? AND (max_uses = 0 OR uses_count < max_uses)"
	res, err := exec.ExecContext(ctx, sqlStr, bonusID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeactivateBonus 下线活动码
func DeactivateBonus(ctx context.Context, exec sqlx.ExtContext, code string) error {
	_, err := exec.ExecContext(ctx, "UPDATE bonuses SET is_active = 0 WHERE code = ?", code)
	return err
}

// BonusUsage 对应 bonus_usages 表
// UNIQUE(bonus_id, account_id) 落实一人一次：重复领取由 1062 拦截
type BonusUsage struct {
	ID            int64           `db:"id"`
	BonusID       int64           `db:"bonus_id"`
	AccountID     int64           `db:"account_id"`
	TransactionID string          `db:"transaction_id"`
	AmountAwarded decimal.Decimal `db:"amount_awarded"`
	CreatedAt     int64           `db:"created_at"`
}

// Insert 记录领取；冲突用 IsDuplicateKey 判断
func (u *BonusUsage) Insert(ctx context.Context, exec sqlx.ExtContext) error {
	now := time.Now().UnixMilli()
	u.CreatedAt = now
	sqlStr := "INSERT INTO bonus_usages (bonus_id, account_id, transaction_id, amount_awarded, created_at) VALUES (?, ?, ?, ?, ?)"
	res, err := exec.ExecContext(ctx, sqlStr, u.BonusID, u.AccountID, u.TransactionID, u.AmountAwarded, now)
	if err != nil {
		return err
	}
	u.ID, _ = res.LastInsertId()
	return nil
}

// HasUsedBonus 是否已领取过该活动码
func HasUsedBonus(ctx context.Context, exec sqlx.ExtContext, bonusID, accountID int64) (bool, error) {
	var n int
	sqlStr := "SELECT COUNT(1) FROM bonus_usages WHERE bonus_id = ? AND account_id = ?"
	if err := sqlx.GetContext(ctx, exec, &n, sqlStr, bonusID, accountID); err != nil {
		return false, err
	}
	return n > 0, nil
}
