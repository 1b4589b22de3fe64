package circuit

import (
	"sync"
	"time"

	"arena/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"CLOSED", "OPEN", "HALF-OPEN"}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Stats 是熔断器的只读快照。
type Stats struct {
	State    State
	Failures int
	RetryAt  time.Time
}

type Option func(*Breaker)

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithOnChange 注册状态变化回调，回调在锁内同步执行，不能回调 Breaker。
func WithOnChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker 连续失败 threshold 次后打开；冷却结束后只放行一个探测，
// 探测成功则关闭，失败则重新计时。
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	onChange  func(name string, from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

func New(name string, threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: max(threshold, 1),
		cooldown:  cooldown,
		now:       time.Now,
	}
	if b.cooldown <= 0 {
		b.cooldown = 30 * time.Second
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Stats{State: b.state, Failures: b.failures}
	if b.state == StateOpen {
		st.RetryAt = b.openedAt.Add(b.cooldown)
	}
	return st
}

// Allow 报告本次调用能否放行。
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	if b.state != StateClosed {
		b.setState(StateClosed)
	}
}

func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.probing = false
	if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.threshold) {
		b.openedAt = b.now()
		b.setState(StateOpen)
	}
}

// Release 放弃本次放行且不计成败，半开时允许下一个探测。
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	if b.onChange != nil {
		b.onChange(b.name, from, to)
		return
	}
	logger.Warnf("Breaker %s %s -> %s failures=%d/%d cooldown=%s", b.name, from, to, b.failures, b.threshold, b.cooldown)
}
