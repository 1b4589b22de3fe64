package provider

import (
	"fmt"
	"strings"
	"time"

	"arena/internal/logger"
)

// ModelCfg 对应配置中的 ai.models 条目。
type ModelCfg struct {
	ID, Provider, APIKey, Model string
	Endpoints                   []string
	Enabled                     bool
	Headers                     map[string]string
	Temperature                 float64
	Timeout                     time.Duration
}

// FactoryOptions 是所有模型共享的重试/限流/熔断参数。
type FactoryOptions struct {
	Retry            RetryPolicy
	RateLimit        float64
	RateBurst        int
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func BuildProvidersFromConfig(models []ModelCfg, opts FactoryOptions) []*RetryingProvider {
	out := make([]*RetryingProvider, 0, len(models))
	for _, m := range models {
		if !m.Enabled {
			continue
		}
		id := strings.TrimSpace(m.ID)
		if id == "" {
			base := strings.TrimSpace(m.Provider)
			if base == "" {
				base = "provider"
			}
			id = base
			if model := strings.TrimSpace(m.Model); model != "" {
				id = fmt.Sprintf("%s:%s", base, model)
			}
			logger.Warnf("未配置 ai.models.id，已为 %q 生成 ID: %s", m.Provider, id)
		}
		callers := make([]Caller, 0, len(m.Endpoints))
		for _, url := range m.Endpoints {
			if strings.TrimSpace(url) == "" {
				continue
			}
			callers = append(callers, &OpenAIChatClient{
				BaseURL:      url,
				APIKey:       m.APIKey,
				Model:        m.Model,
				Temperature:  m.Temperature,
				Timeout:      m.Timeout,
				ExtraHeaders: m.Headers,
			})
		}
		if len(callers) == 0 {
			logger.Warnf("模型 %s 未配置 endpoint，已跳过", id)
			continue
		}
		policy := opts.Retry
		if m.Timeout > 0 {
			policy.Timeout = m.Timeout
		}
		provOpts := []Option{WithRateLimit(opts.RateLimit, opts.RateBurst)}
		if opts.BreakerThreshold > 0 {
			provOpts = append(provOpts, WithBreaker(opts.BreakerThreshold, opts.BreakerCooldown))
		}
		out = append(out, NewRetryingProvider(id, callers, policy, provOpts...))
	}
	return out
}
