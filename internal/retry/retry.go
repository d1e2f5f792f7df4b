package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"wallet-server/common/logger"
	"wallet-server/internal/breaker"

	"go.uber.org/zap"
)

// Classifier 判断一个错误是否可重试
type Classifier func(error) bool

// Options 重试参数
type Options struct {
	MaxRetries   int           // 首次之外的重试次数，默认 3
	InitialDelay time.Duration // 首次重试前等待，默认 500ms
	Multiplier   float64       // 退避倍率，默认 2.0
}

func (o *Options) applyDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 500 * time.Millisecond
	}
	if o.Multiplier <= 1 {
		o.Multiplier = 2.0
	}
}

// Executor 有界指数退避重试执行器
// 每次尝试前咨询熔断器：熔断打开时立即失败，不消耗重试名额也不等待；
// 不可重试错误直接上抛且不计入熔断失败；可重试失败逐次上报熔断器。
// 退避等待基于 context，不阻塞其他并发流程。
type Executor struct {
	opt Options
}

func New(opt Options) *Executor {
	opt.applyDefaults()
	return &Executor{opt: opt}
}

// Do 执行 op；br 可为 nil（无熔断保护），retryable 为 nil 时所有错误均视为可重试
func (e *Executor) Do(ctx context.Context, br *breaker.Breaker, retryable Classifier, op func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.opt.InitialDelay
	bo.Multiplier = e.opt.Multiplier
	bo.RandomizationFactor = 0
	bo.MaxInterval = 30 * time.Second

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if br != nil {
			if cerr := br.CanExecute(); cerr != nil {
				// 熔断拒绝：终止重试，调用未发起
				logger.WarnCtx(ctx, "retry: circuit breaker rejected call",
					zap.String("breaker", br.Name()), zap.Int("attempt", attempt))
				return struct{}{}, backoff.Permanent(cerr)
			}
		}

		err := op(ctx)
		if err == nil {
			if br != nil {
				br.RecordSuccess()
			}
			return struct{}{}, nil
		}

		if retryable != nil && !retryable(err) {
			// 不可重试（业务/逻辑错误）：直接上抛，不污染熔断计数
			return struct{}{}, backoff.Permanent(err)
		}

		if br != nil {
			br.RecordFailure()
		}
		if attempt <= e.opt.MaxRetries {
			logger.WarnCtx(ctx, "retry: attempt failed",
				zap.Int("attempt", attempt), zap.Int("max_retries", e.opt.MaxRetries), zap.Error(err))
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(e.opt.MaxRetries+1)),
	)
	return err
}
