package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arena/internal/logger"
	"arena/internal/pkg/circuit"

	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"
)

// RetryPolicy 控制单个 endpoint 上的重试次数与退避区间。
type RetryPolicy struct {
	Attempts   int
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Timeout    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.MinBackoff <= 0 {
		p.MinBackoff = time.Second
	}
	if p.MaxBackoff < p.MinBackoff {
		p.MaxBackoff = 30 * time.Second
		if p.MaxBackoff < p.MinBackoff {
			p.MaxBackoff = p.MinBackoff
		}
	}
	return p
}

type endpoint struct {
	caller  Caller
	breaker *circuit.Breaker
}

// RetryingProvider 依次尝试各 endpoint，每个 endpoint 最多 Attempts 次，
// 退避为指数加抖动；耗尽后返回 *ProviderError。
type RetryingProvider struct {
	id        string
	enabled   bool
	endpoints []endpoint
	policy    RetryPolicy
	limiter   *rate.Limiter
	sleep     func(ctx context.Context, d time.Duration) error
}

type Option func(*RetryingProvider)

// WithRateLimit 限制每秒请求数；rps <= 0 表示不限。
func WithRateLimit(rps float64, burst int) Option {
	return func(p *RetryingProvider) {
		if rps <= 0 {
			p.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithBreaker 为每个 endpoint 配置熔断器。
func WithBreaker(threshold int, cooldown time.Duration) Option {
	return func(p *RetryingProvider) {
		for i := range p.endpoints {
			p.endpoints[i].breaker = circuit.New(p.id+"@"+p.endpoints[i].caller.Endpoint(), threshold, cooldown)
		}
	}
}

// WithSleep replaces the backoff sleeper; tests use it to skip real waits.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *RetryingProvider) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

func NewRetryingProvider(id string, callers []Caller, policy RetryPolicy, opts ...Option) *RetryingProvider {
	p := &RetryingProvider{id: id, enabled: len(callers) > 0, policy: policy.withDefaults(), sleep: sleepCtx}
	for _, c := range callers {
		if c == nil {
			continue
		}
		p.endpoints = append(p.endpoints, endpoint{caller: c})
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RetryingProvider) ID() string    { return p.id }
func (p *RetryingProvider) Enabled() bool { return p.enabled && len(p.endpoints) > 0 }

// Complete 实现 ModelProvider。
func (p *RetryingProvider) Complete(ctx context.Context, payload ChatPayload) (Response, error) {
	var (
		lastErr  error
		attempts int
	)
	skipped := 0
	for _, ep := range p.endpoints {
		if ep.breaker != nil && !ep.breaker.Allow() {
			skipped++
			logger.Warnf("模型 %s endpoint %s 熔断中，跳过", p.id, ep.caller.Endpoint())
			continue
		}
		b := &backoff.Backoff{Min: p.policy.MinBackoff, Max: p.policy.MaxBackoff, Factor: 2, Jitter: true}
		for try := 1; try <= p.policy.Attempts; try++ {
			if err := ctx.Err(); err != nil {
				return Response{}, &ProviderError{Provider: p.id, Attempts: attempts, Err: err}
			}
			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					return Response{}, &ProviderError{Provider: p.id, Attempts: attempts, Err: err}
				}
			}
			attempts++
			start := time.Now()
			resp, err := p.invokeSafe(ctx, ep.caller, payload)
			if err == nil {
				if ep.breaker != nil {
					ep.breaker.Success()
				}
				resp.Provider = p.id
				resp.Attempts = attempts
				logger.Debugf("模型 %s 调用成功 endpoint=%s attempt=%d elapsed=%s", p.id, ep.caller.Endpoint(), try, time.Since(start).Truncate(time.Millisecond))
				return resp, nil
			}
			lastErr = err
			if ep.breaker != nil {
				ep.breaker.Failure()
			}
			logger.Warnf("模型 %s 调用失败 endpoint=%s attempt=%d/%d elapsed=%s err=%v",
				p.id, ep.caller.Endpoint(), try, p.policy.Attempts, time.Since(start).Truncate(time.Millisecond), err)
			if !Retryable(err) || try == p.policy.Attempts {
				break
			}
			if ep.breaker != nil && !ep.breaker.Allow() {
				break
			}
			wait := b.Duration()
			var se *StatusError
			if errors.As(err, &se) && se.RetryAfter > wait {
				wait = se.RetryAfter
			}
			if p.policy.MaxBackoff > 0 && wait > p.policy.MaxBackoff {
				wait = p.policy.MaxBackoff
			}
			if err := p.sleep(ctx, wait); err != nil {
				return Response{}, &ProviderError{Provider: p.id, Attempts: attempts, Err: err}
			}
		}
	}
	if lastErr == nil {
		lastErr = ErrBreakerOpen
		if skipped == 0 {
			lastErr = errors.New("no endpoints configured")
		}
	}
	return Response{}, &ProviderError{Provider: p.id, Attempts: attempts, Err: lastErr}
}

func (p *RetryingProvider) invokeSafe(parent context.Context, c Caller, payload ChatPayload) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warnf("模型 %s 调用 panic: %v", p.id, r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	ctx := parent
	if p.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, p.policy.Timeout)
		defer cancel()
	}
	return c.Complete(ctx, payload)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
