package model

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// AuditLog 对应 audit_logs 表（只追加，不更新不删除）
// 资金状态迁移、余额变动与外部调用结果在主事务之外尽力写入，
// 供事后重建与对账使用；写入失败只告警，不影响主流程结果。
type AuditLog struct {
	ID         int64  `db:"id"`
	Ts         int64  `db:"ts"`
	EventType  string `db:"event_type"` // state_change|balance_change|api_call|payment
	AccountID  int64  `db:"account_id"`
	EntityType string `db:"entity_type"` // transaction|payment|account
	EntityID   string `db:"entity_id"`
	Action     string `db:"action"`
	OldValue   string `db:"old_value"`
	NewValue   string `db:"new_value"`
	TraceID    string `db:"trace_id"`
}

// Insert 追加一条审计记录
func (a *AuditLog) Insert(ctx context.Context, exec sqlx.ExtContext) error {
	a.Ts = time.Now().UnixMilli()
	sqlStr := "INSERT INTO audit_logs (ts, event_type, account_id, entity_type, entity_id, action, old_value, new_value, trace_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := exec.ExecContext(ctx, sqlStr,
		a.Ts, a.EventType, a.AccountID, a.EntityType, a.EntityID, a.Action, a.OldValue, a.NewValue, a.TraceID)
	return err
}
