package config

import (
	"fmt"
	"net/url"
	"strings"

	"arena/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.AI.validate(); err != nil {
		return err
	}
	if err := c.Prompt.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := validateAccounts(c.Accounts, c.AI); err != nil {
		return err
	}
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AIConfig) validate() error {
	models, err := a.ResolveModelConfigs()
	if err != nil {
		return err
	}
	if len(models) == 0 {
		return fmt.Errorf("ai.models requires at least one model")
	}
	enabled := 0
	for _, m := range models {
		if m.Model == "" {
			return fmt.Errorf("ai.models contains entry without model (id=%s)", m.ID)
		}
		if len(m.Endpoints) == 0 {
			return fmt.Errorf("ai.models.%s missing api_url (can inherit from preset)", m.ID)
		}
		if m.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("ai.models has no enabled model")
	}
	if len(a.ProviderPreference) > 0 {
		modelSet := make(map[string]struct{}, len(models))
		for _, m := range models {
			modelSet[m.ID] = struct{}{}
		}
		for _, id := range a.ProviderPreference {
			if _, ok := modelSet[id]; !ok {
				return fmt.Errorf("ai.provider_preference contains unconfigured model id: %s", id)
			}
		}
	}
	if a.Retry.MaxBackoffMS < a.Retry.MinBackoffMS {
		return fmt.Errorf("ai.retry.max_backoff_ms must be >= min_backoff_ms")
	}
	if a.RateLimitRPS < 0 {
		return fmt.Errorf("ai.rate_limit_rps must be >= 0")
	}
	return nil
}

func (p *PromptConfig) validate() error {
	if p.DefaultCount > p.MaxCount {
		return fmt.Errorf("prompt.default_count (%d) exceeds prompt.max_count (%d)", p.DefaultCount, p.MaxCount)
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.PriceBandPct <= 0 || r.PriceBandPct >= 1 {
		return fmt.Errorf("risk.price_band_pct must be in (0,1)")
	}
	if r.MaxMarginUsage <= 0 || r.MaxMarginUsage > 1 {
		return fmt.Errorf("risk.max_margin_usage must be in (0,1]")
	}
	if r.BenchmarkCrashPct >= 0 {
		return fmt.Errorf("risk.benchmark_crash_pct must be negative")
	}
	if r.Benchmark == "" {
		return fmt.Errorf("risk.benchmark cannot be empty")
	}
	return nil
}

func validateAccounts(accounts []AccountConfig, ai AIConfig) error {
	if len(accounts) == 0 {
		return fmt.Errorf("accounts requires at least one account")
	}
	models := make(map[string]bool, len(ai.Models))
	for _, m := range ai.Models {
		models[firstNonEmpty(m.ID, m.Model)] = true
	}
	seen := make(map[string]bool, len(accounts))
	for i, acc := range accounts {
		if acc.ID == "" {
			return fmt.Errorf("accounts[%d] missing id", i)
		}
		if seen[acc.ID] {
			return fmt.Errorf("accounts contains duplicate id: %s", acc.ID)
		}
		seen[acc.ID] = true
		if len(acc.Symbols) == 0 {
			return fmt.Errorf("accounts.%s requires at least one symbol", acc.ID)
		}
		if acc.Model != "" && !models[acc.Model] {
			return fmt.Errorf("accounts.%s references unknown model: %s", acc.ID, acc.Model)
		}
		switch acc.Executor {
		case ExecutorPaper, ExecutorExternal:
		default:
			return fmt.Errorf("accounts.%s executor must be paper or external, got %q", acc.ID, acc.Executor)
		}
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	if s.OffsetSeconds < 0 {
		return fmt.Errorf("scheduler.offset_seconds must be >= 0")
	}
	if s.Cron != "" {
		if _, err := scheduler.NewCronScheduler(s.Cron, false); err != nil {
			return fmt.Errorf("scheduler.cron invalid: %w", err)
		}
		return nil
	}
	if _, ok := scheduler.ParseIntervalDuration(s.Interval); !ok {
		return fmt.Errorf("scheduler.interval invalid: %q", s.Interval)
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if _, err := url.Parse(m.RESTBaseURL); err != nil {
		return fmt.Errorf("market.rest_base_url invalid: %w", err)
	}
	if m.Proxy.Enabled && strings.TrimSpace(m.Proxy.RESTURL) == "" {
		return fmt.Errorf("market.proxy.rest_url is required when proxy is enabled")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if !n.Telegram.Enabled {
		return nil
	}
	if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}
