package breaker

import (
	"fmt"
	"sync"
	"time"
)

// 熔断器状态
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// ErrOpen 熔断拒绝：依赖不可用，调用未发起
type ErrOpen struct {
	Name string
}

func (e *ErrOpen) Error() string {
	return fmt.Sprintf("circuit breaker %q is open: dependency unavailable", e.Name)
}

// Options 熔断参数
type Options struct {
	FailureThreshold int           // 连续失败多少次后熔断，默认 5
	RecoveryTimeout  time.Duration // 熔断后多久进入半开，默认 60s
	HalfOpenMaxCalls int           // 半开窗口试探调用数，默认 3
}

func (o *Options) applyDefaults() {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.RecoveryTimeout <= 0 {
		o.RecoveryTimeout = 60 * time.Second
	}
	if o.HalfOpenMaxCalls <= 0 {
		o.HalfOpenMaxCalls = 3
	}
}

// Breaker 单个外部依赖的熔断器。进程内单例，多个调用方共享同一实例。
// 状态迁移在 CanExecute / RecordSuccess / RecordFailure 调用点惰性计算，无后台定时器。
type Breaker struct {
	name string
	opt  Options

	mu              sync.Mutex
	state           string
	failureCount    int       // closed 态连续失败数
	lastFailureAt   time.Time // 最近一次失败时间（open 恢复计时基准）
	halfOpenCalls   int       // 半开窗口已放行数
	halfOpenSuccess int       // 半开窗口连续成功数
}

// New 创建熔断器
func New(name string, opt Options) *Breaker {
	opt.applyDefaults()
	return &Breaker{name: name, opt: opt, state: StateClosed}
}

func (b *Breaker) Name() string { return b.name }

// State 返回当前状态（含惰性 open -> half_open 迁移）
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state
}

// refreshLocked 惰性迁移：open 态超过恢复窗口则进入半开
func (b *Breaker) refreshLocked() {
	if b.state == StateOpen && time.Since(b.lastFailureAt) >= b.opt.RecoveryTimeout {
		b.state = StateHalfOpen
		b.halfOpenCalls = 0
		b.halfOpenSuccess = 0
	}
}

// CanExecute 判断是否放行本次调用；拒绝时返回 *ErrOpen
// 半开态对放行数计数，超过窗口上限的调用同样被拒绝
func (b *Breaker) CanExecute() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.halfOpenCalls < b.opt.HalfOpenMaxCalls {
			b.halfOpenCalls++
			return nil
		}
		return &ErrOpen{Name: b.name}
	default: // open
		return &ErrOpen{Name: b.name}
	}
}

// RecordSuccess 记录一次成功调用
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()

	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.opt.HalfOpenMaxCalls {
			// 试探窗口全部成功，闭合并清零计数
			b.state = StateClosed
			b.failureCount = 0
			b.halfOpenCalls = 0
			b.halfOpenSuccess = 0
		}
	default:
		b.failureCount = 0
	}
}

// RecordFailure 记录一次失败调用
// closed 态累计到阈值则熔断；半开态单次失败立即重新熔断并重置恢复计时
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()

	b.lastFailureAt = time.Now()

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.halfOpenCalls = 0
		b.halfOpenSuccess = 0
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.opt.FailureThreshold {
			b.state = StateOpen
		}
	}
}

// Registry 按依赖名管理熔断器。在进程启动时构造一次，
// 以句柄形式传入钱包客户端等调用方，避免隐藏的全局可变状态。
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	defaults Options
}

// NewRegistry 创建注册表，opt 为新建熔断器的默认参数
func NewRegistry(opt Options) *Registry {
	opt.applyDefaults()
	return &Registry{breakers: map[string]*Breaker{}, defaults: opt}
}

// Get 按名称获取（或创建）熔断器；同名调用方共享同一实例
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.defaults)
	r.breakers[name] = b
	return b
}

// States 返回所有熔断器的当前状态快照（管理端/就绪检查用）
func (r *Registry) States() map[string]string {
	r.mu.Lock()
	names := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		names = append(names, b)
	}
	r.mu.Unlock()

	out := make(map[string]string, len(names))
	for _, b := range names {
		out[b.Name()] = b.State()
	}
	return out
}
