package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"arena/internal/scheduler"
)

// ResolveModelConfigs 合并预设、环境变量与模型条目，返回最终配置。
func (a *AIConfig) ResolveModelConfigs() ([]ResolvedModelConfig, error) {
	out := make([]ResolvedModelConfig, 0, len(a.Models))
	seen := make(map[string]bool, len(a.Models))
	for i, m := range a.Models {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			id = strings.TrimSpace(m.Model)
		}
		if id == "" {
			return nil, fmt.Errorf("ai.models[%d] missing id", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("ai.models contains duplicate id: %s", id)
		}
		seen[id] = true

		var preset ModelPreset
		if name := strings.TrimSpace(m.Preset); name != "" {
			p, ok := a.ProviderPresets[name]
			if !ok {
				return nil, fmt.Errorf("ai.models.%s references unknown preset: %s", id, name)
			}
			preset = p
		}

		endpoints := cleanEndpoints(m.Endpoints)
		if len(endpoints) == 0 {
			url := firstNonEmpty(m.APIURL, preset.APIURL)
			if url != "" {
				endpoints = []string{url}
			}
		}

		key := firstNonEmpty(
			m.APIKey,
			envValue(m.APIKeyEnv),
			preset.APIKey,
			envValue(preset.APIKeyEnv),
		)

		headers := make(map[string]string, len(preset.Headers)+len(m.Headers))
		for k, v := range preset.Headers {
			headers[k] = os.ExpandEnv(v)
		}
		for k, v := range m.Headers {
			headers[k] = os.ExpandEnv(v)
		}

		provider := strings.ToLower(strings.TrimSpace(m.Provider))
		if provider == "" {
			provider = "openai"
		}
		timeout := time.Duration(m.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = time.Duration(a.Retry.TimeoutSeconds) * time.Second
		}
		out = append(out, ResolvedModelConfig{
			ID:          id,
			Provider:    provider,
			Enabled:     m.Enabled == nil || *m.Enabled,
			Endpoints:   endpoints,
			APIKey:      os.ExpandEnv(key),
			Model:       strings.TrimSpace(m.Model),
			Headers:     headers,
			Temperature: m.Temperature,
			Timeout:     timeout,
		})
	}
	return out, nil
}

// MustResolveModelConfigs 仅在配置已通过 validate 后调用。
func (c *Config) MustResolveModelConfigs() []ResolvedModelConfig {
	models, err := c.AI.ResolveModelConfigs()
	if err != nil {
		panic(err)
	}
	return models
}

// EnabledAccounts 返回启用的账户，保持配置顺序。
func (c *Config) EnabledAccounts() []AccountConfig {
	out := make([]AccountConfig, 0, len(c.Accounts))
	for _, acc := range c.Accounts {
		if acc.IsEnabled() {
			out = append(out, acc)
		}
	}
	return out
}

func (r RiskConfig) FlipFlopCooldown() time.Duration {
	return time.Duration(r.FlipFlopCooldownMinutes) * time.Minute
}

func (r RiskConfig) ReversalWindow() time.Duration {
	return time.Duration(r.ReversalWindowHours) * time.Hour
}

// IntervalDuration 解析 scheduler.interval，已通过校验时不会失败。
func (s SchedulerConfig) IntervalDuration() time.Duration {
	d, _ := scheduler.ParseIntervalDuration(s.Interval)
	return d
}

func (s SchedulerConfig) Offset() time.Duration {
	return time.Duration(s.OffsetSeconds) * time.Second
}

func (s StoreConfig) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

func (r RetryConfig) MinBackoff() time.Duration {
	return time.Duration(r.MinBackoffMS) * time.Millisecond
}

func (r RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffMS) * time.Millisecond
}

func (r RetryConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

func (b BreakerConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownSeconds) * time.Second
}

func envValue(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func cleanEndpoints(in []string) []string {
	out := make([]string, 0, len(in))
	for _, e := range in {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}
