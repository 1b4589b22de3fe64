package app

import (
	"context"
	"fmt"
	"time"

	"arena/internal/agent"
	"arena/internal/config"
	"arena/internal/decision"
	"arena/internal/flipflop"
	"arena/internal/gateway/notifier"
	"arena/internal/gateway/provider"
	"arena/internal/logger"
	"arena/internal/prompt"
	"arena/internal/regime"
	"arena/internal/scheduler"
	apihttp "arena/internal/transport/http/api"
)

// AppBuilder 按阶段组装依赖；各阶段函数可替换，便于测试。
type AppBuilder struct {
	cfg *config.Config

	marketStackFn    func(context.Context, *config.Config) (*MarketStack, error)
	modelProvidersFn func(*config.Config) ([]provider.ModelProvider, error)
	storesFn         func(*config.Config) (*Stores, error)
	notifierFn       func(config.NotifyConfig) notifier.TextNotifier
	nowFn            func() time.Time
}

type AppBuilderOption func(*AppBuilder)

// WithMarketStack 替换行情栈构建函数。
func WithMarketStack(fn func(context.Context, *config.Config) (*MarketStack, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.marketStackFn = fn }
}

// WithModelProviders 替换模型构建函数。
func WithModelProviders(fn func(*config.Config) ([]provider.ModelProvider, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.modelProvidersFn = fn }
}

// WithStores 替换存储构建函数。
func WithStores(fn func(*config.Config) (*Stores, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.storesFn = fn }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:              cfg,
		marketStackFn:    buildMarketStack,
		modelProvidersFn: buildModelProviders,
		storesFn:         buildStores,
		notifierFn:       buildNotifier,
		nowFn:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	accounts := cfg.EnabledAccounts()
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no enabled accounts")
	}

	catalog, err := buildCatalog(cfg.Prompt, accounts)
	if err != nil {
		return nil, err
	}

	providers, err := b.modelProvidersFn(cfg)
	if err != nil {
		return nil, err
	}
	providerSet := agent.NewProviderSet(providers, cfg.AI.ProviderPreference)
	logger.Infof("✓ 已加载 %d 个模型: %v", len(providerSet.IDs()), providerSet.IDs())

	stack, err := b.marketStackFn(ctx, cfg)
	if err != nil {
		return nil, err
	}

	stores, err := b.storesFn(cfg)
	if err != nil {
		stack.Close()
		return nil, err
	}

	guard := flipflop.NewGuard(stores.GuardStore, cfg.Risk.ReversalWindow(), nil)
	confirmer := agent.NewConfirmer(guard, stores.Audit)
	broker := agent.NewPaperBroker(confirmer)
	executors := make(map[string]agent.Executor, len(accounts))
	for _, acc := range accounts {
		// 外部执行的账户同样在纸面账本开户，用于提示词中的账户状态。
		broker.Open(acc.ID, acc.InitialCapital, acc.MaxLeverage, acc.DefaultLeverage)
		switch acc.Executor {
		case config.ExecutorExternal:
			executors[acc.ID] = agent.ExternalExecutor{}
		default:
			executors[acc.ID] = broker
		}
	}

	runner := &agent.CycleRunner{
		Collector:  stack.Collector,
		Accounts:   broker,
		Trades:     broker,
		Templates:  catalog,
		Providers:  providerSet,
		Normalizer: decision.NewNormalizer(),
		Validator: decision.NewValidator(decision.Config{
			PriceBandPct:     cfg.Risk.PriceBandPct,
			MaxMarginUsage:   cfg.Risk.MaxMarginUsage,
			FlipFlopCooldown: cfg.Risk.FlipFlopCooldown(),
			MaxReversals:     cfg.Risk.MaxReversals,
			ReversalWindow:   cfg.Risk.ReversalWindow(),
		}),
		Classifier: regime.NewClassifier(cfg.Risk.Benchmark, cfg.Risk.BenchmarkCrashPct),
		Guard:      guard,
		Audit:      stores.Audit,
		Notifier:   b.notifierFn(cfg.Notify),
		Prices:     stack.Prices,
		News:       stack.News,
		Executors:  executors,
		Options: agent.CycleOptions{
			AnchorSymbols: cfg.Risk.AnchorSymbols,
			Benchmark:     cfg.Risk.Benchmark,
			RecentTrades:  cfg.Risk.RecentTrades,
			Strict:        cfg.Prompt.Strict,
			DefaultCount:  cfg.Prompt.DefaultCount,
			MaxCount:      cfg.Prompt.MaxCount,
			MaxTokens:     cfg.AI.MaxTokens,
		},
		StartedAt: b.nowFn(),
	}
	coordinator := agent.NewCoordinator(runner, accounts)

	sched, err := scheduler.New(cfg.Scheduler.Cron, cfg.Scheduler.IntervalDuration(), cfg.Scheduler.Offset(), cfg.Scheduler.RunImmediately)
	if err != nil {
		stack.Close()
		stores.Close()
		return nil, err
	}

	server, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:      cfg.App.HTTPAddr,
		Cycles:    stores.Audit,
		Guard:     guard,
		Sink:      confirmer,
		Templates: catalog,
		Runner:    controlPlane{Coordinator: coordinator, runner: runner},
	})
	if err != nil {
		stack.Close()
		stores.Close()
		return nil, err
	}

	preheat := templateSeries(catalog, accounts, cfg.Prompt)

	return &App{
		cfg:         cfg,
		coordinator: coordinator,
		scheduler:   sched,
		server:      server,
		market:      stack,
		stores:      stores,
		preheat:     preheat,
		Summary:     buildSummary(cfg, accounts, catalog, providerSet, preheat),
	}, nil
}

// controlPlane 把 Coordinator 与 CycleRunner 合成 HTTP 层需要的接口。
type controlPlane struct {
	*agent.Coordinator
	runner *agent.CycleRunner
}

func (c controlPlane) Preview(ctx context.Context, acc config.AccountConfig, text string) (agent.PreviewResult, error) {
	return c.runner.Preview(ctx, acc, text)
}

func (c controlPlane) Regime(ctx context.Context) (regime.Classification, error) {
	return c.runner.Regime(ctx)
}

func buildCatalog(cfg config.PromptConfig, accounts []config.AccountConfig) (*prompt.Catalog, error) {
	catalog, err := prompt.NewCatalog(cfg.TemplatesPath, cfg.DefaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("load prompt templates: %w", err)
	}
	for _, acc := range accounts {
		if acc.Template == "" {
			continue
		}
		if err := catalog.Bind(acc.ID, acc.Template); err != nil {
			return nil, fmt.Errorf("account %s: %w", acc.ID, err)
		}
	}
	return catalog, nil
}
