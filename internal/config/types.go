package config

import (
	"strings"
	"time"
)

// Config 是 arena 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	AI        AIConfig        `toml:"ai"`
	Prompt    PromptConfig    `toml:"prompt"`
	Risk      RiskConfig      `toml:"risk"`
	Accounts  []AccountConfig `toml:"accounts"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Market    MarketConfig    `toml:"market"`
	Store     StoreConfig     `toml:"store"`
	Notify    NotifyConfig    `toml:"notify"`
	Tracing   TracingConfig   `toml:"tracing"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	HTTPAddr  string `toml:"http_addr"`
	LogPath   string `toml:"log_path"`
	LLMLog    string `toml:"llm_log_path"`
	LLMDump   bool   `toml:"llm_dump_payload"`
}

// AIConfig 包含模型端点、重试和限流设置。
type AIConfig struct {
	ProviderPresets    map[string]ModelPreset `toml:"provider_presets"`
	Models             []AIModelConfig        `toml:"models"`
	ProviderPreference []string               `toml:"provider_preference"`
	MaxTokens          int                    `toml:"max_tokens"`
	Retry              RetryConfig            `toml:"retry"`
	RateLimitRPS       float64                `toml:"rate_limit_rps"`
	RateBurst          int                    `toml:"rate_burst"`
	Breaker            BreakerConfig          `toml:"breaker"`
}

// ModelPreset 描述可复用的 API 连接配置。
type ModelPreset struct {
	APIURL    string            `toml:"api_url"`
	APIKey    string            `toml:"api_key"`
	APIKeyEnv string            `toml:"api_key_env"`
	Headers   map[string]string `toml:"headers"`
}

// AIModelConfig 是一个模型条目。Endpoints 为空时使用 APIURL（或预设的 api_url）。
type AIModelConfig struct {
	ID             string            `toml:"id"`
	Provider       string            `toml:"provider"`
	Preset         string            `toml:"preset"`
	Enabled        *bool             `toml:"enabled"`
	APIURL         string            `toml:"api_url"`
	Endpoints      []string          `toml:"endpoints"`
	APIKey         string            `toml:"api_key"`
	APIKeyEnv      string            `toml:"api_key_env"`
	Model          string            `toml:"model"`
	Headers        map[string]string `toml:"headers"`
	Temperature    *float64          `toml:"temperature"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
}

// ResolvedModelConfig 是合并预设与环境变量后的最终模型配置。
type ResolvedModelConfig struct {
	ID          string
	Provider    string
	Enabled     bool
	Endpoints   []string
	APIKey      string
	Model       string
	Headers     map[string]string
	Temperature *float64
	Timeout     time.Duration
}

type RetryConfig struct {
	Attempts       int `toml:"attempts"`
	MinBackoffMS   int `toml:"min_backoff_ms"`
	MaxBackoffMS   int `toml:"max_backoff_ms"`
	TimeoutSeconds int `toml:"timeout_seconds"`
}

type BreakerConfig struct {
	Threshold       int `toml:"threshold"`
	CooldownSeconds int `toml:"cooldown_seconds"`
}

type PromptConfig struct {
	TemplatesPath   string `toml:"templates_path"`
	DefaultTemplate string `toml:"default_template"`
	Strict          bool   `toml:"strict"`
	DefaultCount    int    `toml:"default_count"`
	MaxCount        int    `toml:"max_count"`
}

// RiskConfig 是校验器与行情状态分类的阈值。
type RiskConfig struct {
	PriceBandPct            float64  `toml:"price_band_pct"`
	MaxMarginUsage          float64  `toml:"max_margin_usage"`
	FlipFlopCooldownMinutes int      `toml:"flipflop_cooldown_minutes"`
	MaxReversals            int      `toml:"max_reversals"`
	ReversalWindowHours     int      `toml:"reversal_window_hours"`
	Benchmark               string   `toml:"benchmark"`
	BenchmarkCrashPct       float64  `toml:"benchmark_crash_pct"`
	AnchorSymbols           []string `toml:"anchor_symbols"`
	RecentTrades            int      `toml:"recent_trades"`
}

// AccountConfig 描述一个独立运行决策周期的账户。Symbols 按优先级从高到低排列。
type AccountConfig struct {
	ID              string   `toml:"id"`
	Enabled         *bool    `toml:"enabled"`
	Template        string   `toml:"template"`
	Model           string   `toml:"model"`
	Environment     string   `toml:"environment"`
	Symbols         []string `toml:"symbols"`
	InitialCapital  float64  `toml:"initial_capital"`
	MaxLeverage     int      `toml:"max_leverage"`
	DefaultLeverage int      `toml:"default_leverage"`
	Executor        string   `toml:"executor"`
}

func (a AccountConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

const (
	ExecutorPaper    = "paper"
	ExecutorExternal = "external"
)

type SchedulerConfig struct {
	Interval       string `toml:"interval"`
	OffsetSeconds  int    `toml:"offset_seconds"`
	Cron           string `toml:"cron"`
	RunImmediately bool   `toml:"run_immediately"`
}

type MarketConfig struct {
	RESTBaseURL        string      `toml:"rest_base_url"`
	TimeoutSeconds     int         `toml:"timeout_seconds"`
	Proxy              ProxyConfig `toml:"proxy"`
	PriceTTLSeconds    int         `toml:"price_ttl_seconds"`
	PriceWindowMinutes int         `toml:"price_window_minutes"`
	KlineCacheMax      int         `toml:"kline_cache_max"`
	Concurrency        int         `toml:"concurrency"`
	Sentiment          FeedConfig  `toml:"sentiment"`
}

// FeedConfig 控制 news_section 使用的恐惧贪婪指数源。
type FeedConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
}

type StoreConfig struct {
	DecisionLogPath string `toml:"decision_log_path"`
	GuardPath       string `toml:"guard_path"`
	RetentionDays   int    `toml:"retention_days"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type TracingConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
	PrettyPrint bool   `toml:"pretty_print"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
