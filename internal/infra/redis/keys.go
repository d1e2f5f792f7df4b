package redis

// Redis Key 定义与构造器
// 统一管理业务使用的 Redis Key，避免散落的魔法字符串，便于统一维护与变更。

const (
	// PrefixSettleIdemResult：结算幂等“结果缓存”Key 的前缀。
	// 作用：缓存某个 idempotency key 对应的第一次成功结果（交易回执 JSON），用于后续重复请求直接返回。
	PrefixSettleIdemResult = "settle:idem:result:"
	// PrefixSettleIdemLock：结算幂等“进行中锁”Key 的前缀。
	// 作用：使用 SETNX + TTL 标记 idempotency key 正在处理，吸收瞬时重复请求，减轻数据库压力。
	PrefixSettleIdemLock = "settle:idem:lock:"

	// PrefixExtBalance：外部钱包余额的短缓存（余额汇总接口的降级数据源）
	PrefixExtBalance = "wallet:ext:balance:"
)

// IdemResultKey：构造幂等“结果缓存”的完整 Key。
// 形如：settle:idem:result:{idempotency_key}
func IdemResultKey(k string) string { return PrefixSettleIdemResult + k }

// IdemLockKey：构造幂等“进行中锁”的完整 Key。
// 形如：settle:idem:lock:{idempotency_key}
func IdemLockKey(k string) string { return PrefixSettleIdemLock + k }

// ExtBalanceKey：构造外部余额缓存 Key。形如：wallet:ext:balance:{account_id}
func ExtBalanceKey(accountID string) string { return PrefixExtBalance + accountID }
