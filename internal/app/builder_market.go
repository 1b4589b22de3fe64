package app

import (
	"context"
	"time"

	"arena/internal/agent"
	"arena/internal/config"
	"arena/internal/gateway/binance"
	"arena/internal/logger"
	"arena/internal/market"
)

// MarketStack 汇总行情相关依赖。
type MarketStack struct {
	Source    market.Source
	Collector *market.Collector
	Cache     *market.KlineCache
	Prices    agent.PriceHistory
	News      market.NewsProvider
}

func (s *MarketStack) Close() {
	if s == nil || s.Source == nil {
		return
	}
	if err := s.Source.Close(); err != nil {
		logger.Warnf("关闭行情源失败: %v", err)
	}
}

func buildMarketStack(_ context.Context, cfg *config.Config) (*MarketStack, error) {
	mc := cfg.Market
	src, err := binance.New(binance.Config{
		RESTBaseURL:  mc.RESTBaseURL,
		HTTPTimeout:  time.Duration(mc.TimeoutSeconds) * time.Second,
		ProxyEnabled: mc.Proxy.Enabled,
		RESTProxyURL: mc.Proxy.RESTURL,
		PriceTTL:     time.Duration(mc.PriceTTLSeconds) * time.Second,
		PriceWindow:  time.Duration(mc.PriceWindowMinutes) * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	stack := newMarketStack(src, mc)
	stack.Prices = src.Prices()
	return stack, nil
}

// newMarketStack 在任意 Source 上组装 Collector、K 线缓存与情绪源。
func newMarketStack(src market.Source, mc config.MarketConfig) *MarketStack {
	cache := market.NewKlineCache(mc.KlineCacheMax)
	collector := market.NewCollector(src, nil)
	collector.Cache = cache
	if mc.Concurrency > 0 {
		collector.Concurrency = mc.Concurrency
	}
	stack := &MarketStack{Source: src, Collector: collector, Cache: cache}
	if mc.Sentiment.Enabled {
		stack.News = market.NewSentimentFeed(mc.Sentiment.URL, time.Duration(mc.TimeoutSeconds)*time.Second)
	}
	return stack
}
