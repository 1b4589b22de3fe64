package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppLogFormat     = "text"
	defaultAppHTTPAddr      = ":9991"
	defaultAppLogPath       = "/data/logs/arena.log"
	defaultAppLLMLogPath    = "/data/logs/arena-llm.log"
	defaultAIMaxTokens      = 4096
	defaultRetryAttempts    = 3
	defaultRetryMinMS       = 1000
	defaultRetryMaxMS       = 8000
	defaultRetryTimeout     = 120
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30
	defaultPromptTemplate   = "default"
	defaultPromptCount      = 500
	defaultPromptMaxCount   = 1500
	defaultPriceBandPct     = 0.01
	defaultMaxMarginUsage   = 0.70
	defaultFlipFlopMinutes  = 60
	defaultMaxReversals     = 2
	defaultReversalHours    = 24
	defaultBenchmark        = "BTC"
	defaultBenchmarkCrash   = -5.0
	defaultRecentTrades     = 10
	defaultSchedInterval    = "5m"
	defaultSchedOffset      = 10
	defaultMarketREST       = "https://fapi.binance.com"
	defaultMarketTimeout    = 15
	defaultPriceTTL         = 30
	defaultPriceWindow      = 60
	defaultKlineCacheMax    = 1500
	defaultMarketWorkers    = 4
	defaultSentimentURL     = "https://api.alternative.me/fng/?limit=5"
	defaultDecisionLog      = "/data/live/decisions.db"
	defaultGuardPath        = "/data/live/flipflop.db"
	defaultRetentionDays    = 30
	defaultAccountCapital   = 10000
	defaultAccountMaxLev    = 10
	defaultAccountDefLev    = 3
	defaultTracingService   = "arena"
)

var defaultAnchorSymbols = []string{"BTC", "ETH"}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.AI.applyDefaults(keys)
	c.Prompt.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Scheduler.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Tracing.applyDefaults(keys)
	for i := range c.Accounts {
		c.Accounts[i].applyDefaults(c.Prompt.DefaultTemplate)
	}
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.llm_log_path", &a.LLMLog, defaultAppLLMLogPath),
	)
}

func (a *AIConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	if a.ProviderPresets == nil {
		a.ProviderPresets = make(map[string]ModelPreset)
	}
	applyFieldDefaults(keys,
		intFieldDefault("ai.max_tokens", &a.MaxTokens, defaultAIMaxTokens),
		intFieldDefault("ai.retry.attempts", &a.Retry.Attempts, defaultRetryAttempts),
		intFieldDefault("ai.retry.min_backoff_ms", &a.Retry.MinBackoffMS, defaultRetryMinMS),
		intFieldDefault("ai.retry.max_backoff_ms", &a.Retry.MaxBackoffMS, defaultRetryMaxMS),
		intFieldDefault("ai.retry.timeout_seconds", &a.Retry.TimeoutSeconds, defaultRetryTimeout),
		intFieldDefault("ai.breaker.threshold", &a.Breaker.Threshold, defaultBreakerThreshold),
		intFieldDefault("ai.breaker.cooldown_seconds", &a.Breaker.CooldownSeconds, defaultBreakerCooldown),
	)
	a.ProviderPreference = normalizePreferenceList(a.ProviderPreference)
}

func (p *PromptConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("prompt.default_template", &p.DefaultTemplate, defaultPromptTemplate),
		boolFieldDefault("prompt.strict", &p.Strict, true),
		intFieldDefault("prompt.default_count", &p.DefaultCount, defaultPromptCount),
		intFieldDefault("prompt.max_count", &p.MaxCount, defaultPromptMaxCount),
	)
	p.TemplatesPath = strings.TrimSpace(p.TemplatesPath)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.price_band_pct",
			need:  func() bool { return r.PriceBandPct <= 0 },
			apply: func() { r.PriceBandPct = defaultPriceBandPct },
		},
		fieldDefault{
			key:   "risk.max_margin_usage",
			need:  func() bool { return r.MaxMarginUsage <= 0 },
			apply: func() { r.MaxMarginUsage = defaultMaxMarginUsage },
		},
		intFieldDefault("risk.flipflop_cooldown_minutes", &r.FlipFlopCooldownMinutes, defaultFlipFlopMinutes),
		intFieldDefault("risk.max_reversals", &r.MaxReversals, defaultMaxReversals),
		intFieldDefault("risk.reversal_window_hours", &r.ReversalWindowHours, defaultReversalHours),
		stringFieldDefault("risk.benchmark", &r.Benchmark, defaultBenchmark),
		fieldDefault{
			key:   "risk.benchmark_crash_pct",
			need:  func() bool { return r.BenchmarkCrashPct == 0 },
			apply: func() { r.BenchmarkCrashPct = defaultBenchmarkCrash },
		},
		fieldDefault{
			key:   "risk.anchor_symbols",
			need:  func() bool { return len(r.AnchorSymbols) == 0 },
			apply: func() { r.AnchorSymbols = append([]string(nil), defaultAnchorSymbols...) },
		},
		intFieldDefault("risk.recent_trades", &r.RecentTrades, defaultRecentTrades),
	)
	r.Benchmark = strings.ToUpper(strings.TrimSpace(r.Benchmark))
	r.AnchorSymbols = normalizeSymbols(r.AnchorSymbols)
}

func (s *SchedulerConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("scheduler.interval", &s.Interval, defaultSchedInterval),
		fieldDefault{
			key:   "scheduler.offset_seconds",
			need:  func() bool { return s.OffsetSeconds == 0 },
			apply: func() { s.OffsetSeconds = defaultSchedOffset },
		},
		boolFieldDefault("scheduler.run_immediately", &s.RunImmediately, true),
	)
	s.Cron = strings.TrimSpace(s.Cron)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	m.Proxy.normalize()
	applyFieldDefaults(keys,
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		intFieldDefault("market.timeout_seconds", &m.TimeoutSeconds, defaultMarketTimeout),
		intFieldDefault("market.price_ttl_seconds", &m.PriceTTLSeconds, defaultPriceTTL),
		intFieldDefault("market.price_window_minutes", &m.PriceWindowMinutes, defaultPriceWindow),
		intFieldDefault("market.kline_cache_max", &m.KlineCacheMax, defaultKlineCacheMax),
		intFieldDefault("market.concurrency", &m.Concurrency, defaultMarketWorkers),
		stringFieldDefault("market.sentiment.url", &m.Sentiment.URL, defaultSentimentURL),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.decision_log_path", &s.DecisionLogPath, defaultDecisionLog),
		stringFieldDefault("store.guard_path", &s.GuardPath, defaultGuardPath),
		intFieldDefault("store.retention_days", &s.RetentionDays, defaultRetentionDays),
	)
}

func (t *TracingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("tracing.service_name", &t.ServiceName, defaultTracingService),
	)
}

// 账户是列表元素，无法按路径判断是否显式设置，只按零值补默认。
func (a *AccountConfig) applyDefaults(template string) {
	a.ID = strings.TrimSpace(a.ID)
	a.Symbols = normalizeSymbols(a.Symbols)
	if strings.TrimSpace(a.Template) == "" {
		a.Template = template
	}
	if strings.TrimSpace(a.Environment) == "" {
		a.Environment = "testnet"
	}
	if a.InitialCapital <= 0 {
		a.InitialCapital = defaultAccountCapital
	}
	if a.MaxLeverage <= 0 {
		a.MaxLeverage = defaultAccountMaxLev
	}
	if a.DefaultLeverage <= 0 {
		a.DefaultLeverage = defaultAccountDefLev
	}
	if a.DefaultLeverage > a.MaxLeverage {
		a.DefaultLeverage = a.MaxLeverage
	}
	a.Executor = strings.ToLower(strings.TrimSpace(a.Executor))
	if a.Executor == "" {
		a.Executor = ExecutorPaper
	}
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizePreferenceList(pref []string) []string {
	if len(pref) == 0 {
		return nil
	}
	out := make([]string, 0, len(pref))
	seen := make(map[string]bool, len(pref))
	for _, id := range pref {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
