package logger

import (
	"context"

	"go.uber.org/zap"
)

// 审计事件：除落库的 audit_logs 外，关键资金动作同时打一条结构化审计日志，
// 便于在日志平台按 audit_event 维度直接检索。字段约定：
// - audit_event: 事件类型（transaction_start / state_change / balance_change ...）
// - account_id / transaction_id: 业务主键
// 金额统一用字符串（两位小数），避免日志侧浮点噪音。

const auditKey = "audit_event"

// AuditTransactionStart 交易开始
func AuditTransactionStart(ctx context.Context, txID string, accountID int64, kind, amount string) {
	InfoCtx(ctx, "audit: transaction start",
		zap.String(auditKey, "transaction_start"),
		zap.String("transaction_id", txID),
		zap.Int64("account_id", accountID),
		zap.String("kind", kind),
		zap.String("amount", amount))
}

// AuditTransactionComplete 交易完结（含失败完结），result 为最终状态
func AuditTransactionComplete(ctx context.Context, txID string, accountID int64, result string, durMs int64) {
	InfoCtx(ctx, "audit: transaction complete",
		zap.String(auditKey, "transaction_complete"),
		zap.String("transaction_id", txID),
		zap.Int64("account_id", accountID),
		zap.String("result", result),
		zap.Int64("duration_ms", durMs))
}

// AuditStateChange 状态机迁移
func AuditStateChange(ctx context.Context, txID, from, to string) {
	InfoCtx(ctx, "audit: state change",
		zap.String(auditKey, "state_change"),
		zap.String("transaction_id", txID),
		zap.String("from", from),
		zap.String("to", to))
}

// AuditBalanceChange 账户余额变动（before/after 为两位小数字符串）
func AuditBalanceChange(ctx context.Context, accountID int64, bizType, before, after string) {
	InfoCtx(ctx, "audit: balance change",
		zap.String(auditKey, "balance_change"),
		zap.Int64("account_id", accountID),
		zap.String("biz_type", bizType),
		zap.String("before", before),
		zap.String("after", after))
}

// AuditPaymentReceived 收到/核销一笔支付凭证
func AuditPaymentReceived(ctx context.Context, paymentID string, accountID int64, provider, amount string) {
	InfoCtx(ctx, "audit: payment received",
		zap.String(auditKey, "payment_received"),
		zap.String("payment_id", paymentID),
		zap.Int64("account_id", accountID),
		zap.String("provider", provider),
		zap.String("amount", amount))
}

// AuditAPICall 外部钱包 API 调用结果，outcome: success|logical_failure|timeout|connection|malformed
func AuditAPICall(ctx context.Context, action, outcome string, durMs int64) {
	InfoCtx(ctx, "audit: external api call",
		zap.String(auditKey, "api_call"),
		zap.String("action", action),
		zap.String("outcome", outcome),
		zap.Int64("duration_ms", durMs))
}
