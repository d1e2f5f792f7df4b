package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"wallet-server/common/constant"
	"wallet-server/common/logger"
	infmysql "wallet-server/internal/infra/mysql"
	infrds "wallet-server/internal/infra/redis"
	"wallet-server/internal/model"
)

const (
	// Redis 进行中锁 TTL：覆盖外部调用最坏耗时（超时 8s x 重试 3 次 + 退避）
	idemLockTTL = 45 * time.Second
	// 结果缓存 TTL：重复请求直接返回第一次成功结果
	idemResultTTL = 5 * time.Minute
)

// 默认事务超时时间，防止长事务占用资源影响并发（若上游已有 deadline，则沿用上游）
const defaultTxTimeout = 3 * time.Second

// txContext 带默认超时的事务上下文
func txContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, has := ctx.Deadline(); has {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTxTimeout)
}

// parseAmount 解析并校验金额：必须为正数，两位小数
func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidAmount
	}
	return d.Round(2), nil
}

// ensureActive 校验账户可操作
func ensureActive(a *model.Account) error {
	if a.State != constant.AccountActive {
		return &AccountBlockedError{AccountID: a.ID, Reason: a.BlockedReason}
	}
	return nil
}

// nullStr 非空字符串转 sql.NullString
func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// auditBestEffort 审计流水在主事务之外尽力写入，失败只告警不影响主流程
func auditBestEffort(ctx context.Context, a *model.AuditLog) {
	if a.TraceID == "" {
		a.TraceID = logger.GetTraceID(ctx)
	}
	if err := a.Insert(ctx, infmysql.SQLX()); err != nil {
		logger.WarnCtx(ctx, "审计流水写入失败",
			zap.String("entity_id", a.EntityID), zap.String("action", a.Action), zap.Error(err))
	}
}

// cachedResult Redis 快路径：命中则反序列化进 out 并返回 true
func cachedResult(ctx context.Context, idemKey string, out any) bool {
	r := infrds.Client()
	if r == nil || idemKey == "" {
		return false
	}
	bs, _ := r.Get(ctx, infrds.IdemResultKey(idemKey)).Bytes()
	if len(bs) == 0 {
		return false
	}
	return json.Unmarshal(bs, out) == nil
}

// cacheResult 写入结果缓存（降级容错，写失败不影响主流程）
func cacheResult(ctx context.Context, idemKey string, v any) {
	r := infrds.Client()
	if r == nil || idemKey == "" {
		return
	}
	if b, err := json.Marshal(v); err == nil {
		_ = r.Set(ctx, infrds.IdemResultKey(idemKey), b, idemResultTTL).Err()
	}
}

// acquireIdemLock 进行中锁，吸收瞬时重复；返回释放函数
// 锁值为 UUID，Lua 脚本原子释放，避免误删他人持有的锁
func acquireIdemLock(ctx context.Context, idemKey string) (release func(), ok bool) {
	r := infrds.Client()
	if r == nil || idemKey == "" {
		return func() {}, true
	}
	lockKey := infrds.IdemLockKey(idemKey)
	lockValue := uuid.New().String()
	got, _ := r.SetNX(ctx, lockKey, lockValue, idemLockTTL).Result()
	if !got {
		return nil, false
	}
	return func() {
		script := `
			if redis.call("get", KEYS[1]) == ARGV[1] then
				return redis.call("del", KEYS[1])
			else
				return 0
			end
		`
		if _, err := r.Eval(ctx, script, []string{lockKey}, lockValue).Result(); err != nil {
			logger.WarnCtx(ctx, "释放幂等锁失败", zap.String("idem_key", idemKey), zap.Error(err))
		}
	}, true
}
