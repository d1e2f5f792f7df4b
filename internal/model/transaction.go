package model

import (
	"context"
	"database/sql"
	"time"

	g "github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"wallet-server/common"
	"wallet-server/internal/state"
)

// Transaction 对应 transactions 表（结算单）
// idempotency_key 可空唯一：同键重复创建由唯一索引拦截（1062），
// 调用方捕获冲突后读回首次创建的记录原样返回。
type Transaction struct {
	ID                  string              `db:"id"` // uuid
	AccountID           int64               `db:"account_id"`
	Kind                string              `db:"kind"`  // deposit|withdrawal|bonus|refund|adjustment
	State               string              `db:"state"` // state.StatePending 等
	Amount              decimal.Decimal     `db:"amount"`
	Currency            string              `db:"currency"`
	IdempotencyKey      sql.NullString      `db:"idempotency_key"`
	PaymentReference    sql.NullString      `db:"payment_reference"`  // 关联 payments.id
	ExternalReference   sql.NullString      `db:"external_reference"` // 远端回执号
	ErrorMessage        sql.NullString      `db:"error_message"`
	RetryCount          int                 `db:"retry_count"`
	BalanceBefore       decimal.NullDecimal `db:"balance_before"`
	BalanceAfter        decimal.NullDecimal `db:"balance_after"`
	ProcessingStartedAt sql.NullInt64       `db:"processing_started_at"`
	CompletedAt         sql.NullInt64       `db:"completed_at"`
	CreatedAt           int64               `db:"created_at"`
	UpdatedAt           int64               `db:"updated_at"`
}

const txFields = "id, account_id, kind, state, amount, currency, idempotency_key, payment_reference, external_reference, error_message, retry_count, balance_before, balance_after, processing_started_at, completed_at, created_at, updated_at"

// Insert 创建结算单（初始态 PENDING）
// 幂等键冲突返回底层 1062 错误，调用方用 IsDuplicateKey 判断
func (t *Transaction) Insert(ctx context.Context, exec sqlx.ExtContext) error {
	now := time.Now().UnixMilli()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.State == "" {
		t.State = state.StatePending
	}
	sqlStr := "INSERT INTO transactions (id, account_id, kind, state, amount, currency, idempotency_key, payment_reference, external_reference, error_message, retry_count, balance_before, balance_after, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := exec.ExecContext(ctx, sqlStr,
		t.ID, t.AccountID, t.Kind, t.State, t.Amount, t.Currency,
		t.IdempotencyKey, t.PaymentReference, t.ExternalReference, t.ErrorMessage,
		t.RetryCount, t.BalanceBefore, t.BalanceAfter, now, now)
	return err
}

// GetTransaction 按 ID 查询
func GetTransaction(ctx context.Context, exec sqlx.ExtContext, id string) (*Transaction, error) {
	var t Transaction
	sqlStr := "SELECT " + txFields + " FROM transactions WHERE id = ?"
	if err := sqlx.GetContext(ctx, exec, &t, sqlStr, id); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTransactionForUpdate 在事务内加行锁读取（状态迁移前）
func GetTransactionForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*Transaction, error) {
	var t Transaction
	sqlStr := "SELECT " + txFields + " FROM transactions WHERE id = ? FOR UPDATE"
	if err := tx.GetContext(ctx, &t, sqlStr, id); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTransactionByIdemKey 按幂等键查询（1062 冲突后的回读路径）
func GetTransactionByIdemKey(ctx context.Context, exec sqlx.ExtContext, key string) (*Transaction, error) {
	var t Transaction
	sqlStr := "SELECT " + txFields + " FROM transactions WHERE idempotency_key = ?"
	if err := sqlx.GetContext(ctx, exec, &t, sqlStr, key); err != nil {
		return nil, err
	}
	return &t, nil
}

// TransitionUpdate 状态迁移时可附带写入的字段
type TransitionUpdate struct {
	ErrorMessage      string
	ExternalReference string
	BalanceBefore     decimal.NullDecimal
	BalanceAfter      decimal.NullDecimal
	IncrRetry         bool
}

// TransitionState 受保护的状态迁移：
//  1. 先查状态机表，非法迁移在任何写入前拒绝；
//  2. UPDATE ... WHERE id=? AND state=from 保证并发下迁移恰好发生一次；
//  3. 时间戳（processing_started_at / completed_at）与状态同条语句写入。
//
// 返回 0 行受影响说明并发丢失（状态已被他人迁走），返回 sql.ErrNoRows。
func TransitionState(ctx context.Context, exec sqlx.ExtContext, id, from, to string, upd *TransitionUpdate) error {
	if err := state.Validate(from, to); err != nil {
		return err
	}
	now := time.Now().UnixMilli()

	sqlStr := "UPDATE transactions SET state = ?, updated_at = ?"
	args := []interface{}{to, now}

	switch to {
	case state.StateProcessing:
		sqlStr += ", processing_started_at = ?"
		args = append(args, now)
	case state.StateCompleted, state.StateFailed, state.StatePartiallyFailed, state.StateCancelled, state.StateReversed:
		sqlStr += ", completed_at = ?"
		args = append(args, now)
	case state.StatePending:
		// FAILED -> PENDING 重入：清空完结时间，重新走一遍流程
		sqlStr += ", completed_at = NULL, processing_started_at = NULL"
	}

	if upd != nil {
		if upd.ErrorMessage != "" {
			sqlStr += ", error_message = ?"
			args = append(args, upd.ErrorMessage)
		}
		if upd.ExternalReference != "" {
			sqlStr += ", external_reference = ?"
			args = append(args, upd.ExternalReference)
		}
		if upd.BalanceBefore.Valid {
			sqlStr += ", balance_before = ?"
			args = append(args, upd.BalanceBefore)
		}
		if upd.BalanceAfter.Valid {
			sqlStr += ", balance_after = ?"
			args = append(args, upd.BalanceAfter)
		}
		if upd.IncrRetry {
			sqlStr += ", retry_count = retry_count + 1"
		}
	}

	sqlStr += " WHERE id = ? AND state = ?"
	args = append(args, id, from)

	res, err := exec.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListOpenTransactions 人工清扫：非自动化终态的结算单按创建时间排序
// 包含 PARTIALLY_FAILED（需人工对账）
func ListOpenTransactions(ctx context.Context, db *sqlx.DB, limit int) ([]Transaction, error) {
	sqlStr := "SELECT " + txFields + " FROM transactions WHERE state IN (?, ?, ?, ?) ORDER BY created_at ASC LIMIT ?"
	var list []Transaction
	err := db.SelectContext(ctx, &list, sqlStr,
		state.StatePending, state.StateProcessing, state.StateFailed, state.StatePartiallyFailed, limit)
	if err != nil {
		return nil, err
	}
	return list, nil
}

// TxQuery 交易历史检索条件，零值字段不参与过滤
type TxQuery struct {
	AccountID int64
	Kind      string
	State     string
	Limit     int
	Offset    int
}

// SearchTransactions 账户交易历史（倒序），动态条件走 goqu 组装
func SearchTransactions(ctx context.Context, db *sqlx.DB, q TxQuery) ([]Transaction, int64, error) {
	ex := []exp.Expression{g.C("account_id").Eq(q.AccountID)}
	if q.Kind != "" {
		ex = append(ex, g.C("kind").Eq(q.Kind))
	}
	if q.State != "" {
		ex = append(ex, g.C("state").Eq(q.State))
	}

	total, err := common.CountCtx(ctx, db, "transactions", ex...)
	if err != nil {
		return nil, 0, err
	}

	var list []Transaction
	err = common.SelectAllCtx(ctx, &list, common.QueryArg{
		Db:     db,
		Table:  "transactions",
		Fields: common.EnumFields(Transaction{}),
		Ex:     ex,
		Order:  []exp.OrderedExpression{g.C("created_at").Desc()},
		Offset: uint(q.Offset),
		Limit:  uint(q.Limit),
	})
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}
