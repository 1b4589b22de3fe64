package app

import (
	"strings"

	"arena/internal/config"
	"arena/internal/flipflop"
	"arena/internal/gateway/notifier"
	"arena/internal/logger"
	"arena/internal/market"
	"arena/internal/prompt"
	"arena/internal/store/gormstore"
)

// Stores 持有审计库与反手保护库。
type Stores struct {
	Audit      *gormstore.Store
	GuardStore flipflop.Store
	closers    []func() error
}

func (s *Stores) Close() {
	if s == nil {
		return
	}
	for _, fn := range s.closers {
		if err := fn(); err != nil {
			logger.Warnf("关闭存储失败: %v", err)
		}
	}
}

func buildStores(cfg *config.Config) (*Stores, error) {
	audit, err := gormstore.NewStore(cfg.Store.DecisionLogPath)
	if err != nil {
		return nil, err
	}
	guardStore, err := flipflop.NewSQLStore(cfg.Store.GuardPath)
	if err != nil {
		audit.Close()
		return nil, err
	}
	return &Stores{
		Audit:      audit,
		GuardStore: guardStore,
		closers:    []func() error{guardStore.Close, audit.Close},
	}, nil
}

func buildNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	if !cfg.Telegram.Enabled {
		return notifier.Noop{}
	}
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}

// templateSeries 汇总各账户绑定模板需要的 K 线，用于启动预热。
func templateSeries(catalog *prompt.Catalog, accounts []config.AccountConfig, pc config.PromptConfig) []market.SeriesRequest {
	var out []market.SeriesRequest
	for _, acc := range accounts {
		tpl := catalog.ForAccount(acc.ID)
		reqs, err := tpl.Requirements(pc.DefaultCount, pc.MaxCount)
		if err != nil {
			logger.Warnf("模板 %s 需求解析失败（账户 %s）: %v", tpl.Key, acc.ID, err)
			continue
		}
		for _, r := range reqs {
			out = append(out, market.SeriesRequest{Symbol: strings.ToUpper(r.Symbol), Period: r.Period, Count: r.Count})
		}
	}
	return out
}
