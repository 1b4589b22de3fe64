package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"arena/internal/logger"
	"arena/internal/market"
	"arena/internal/pkg/symbol"
	"arena/internal/scheduler"

	"github.com/adshao/go-binance/v2/futures"
)

const maxHistoryLimit = 1500

// Source 基于 go-binance SDK 实现 market.Source，只走 REST。
type Source struct {
	cfg    Config
	client *futures.Client
	prices *market.PriceCache

	mu      sync.Mutex
	tickers map[string]market.Ticker
}

func New(cfg Config) (*Source, error) {
	cfg = cfg.normalized()
	hc, err := cfg.httpClient()
	if err != nil {
		return nil, err
	}
	client := futures.NewClient("", "")
	client.BaseURL = cfg.RESTBaseURL
	client.HTTPClient = hc
	return &Source{
		cfg:     cfg,
		client:  client,
		prices:  market.NewPriceCache(cfg.PriceTTL, cfg.PriceWindow),
		tickers: make(map[string]market.Ticker),
	}, nil
}

// Prices 暴露内部价格缓存，供 API 和模板读取滚动历史。
func (s *Source) Prices() *market.PriceCache { return s.prices }

func (s *Source) FetchHistory(ctx context.Context, sym, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	ex, err := exchangeSymbol(sym)
	if err != nil {
		return nil, err
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	// 多取一根，丢弃未收盘 K 线后仍能凑够 limit
	kls, err := s.client.NewKlinesService().Symbol(ex).Interval(interval).Limit(min(limit+1, maxHistoryLimit)).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", ex, interval, err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = dropUnclosedKline(out, dur, time.Now().UTC(), defaultKlineGrace)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Ticker 返回 24h 滚动统计，并把最新价写入价格缓存。
func (s *Source) Ticker(ctx context.Context, sym string) (market.Ticker, error) {
	ex, err := exchangeSymbol(sym)
	if err != nil {
		return market.Ticker{}, err
	}
	coin := symbol.Coin(sym)
	if _, fresh := s.prices.Get(coin); fresh {
		s.mu.Lock()
		cached, hit := s.tickers[coin]
		s.mu.Unlock()
		if hit {
			return cached, nil
		}
	}
	res, err := s.client.NewListPriceChangeStatsService().Symbol(ex).Do(ctx)
	if err != nil {
		return market.Ticker{}, fmt.Errorf("binance ticker %s: %w", ex, err)
	}
	for _, st := range res {
		if st == nil || !strings.EqualFold(st.Symbol, ex) {
			continue
		}
		t := market.Ticker{
			Symbol:       coin,
			LastPrice:    parseFloat(st.LastPrice),
			Change24hPct: parseFloat(st.PriceChangePercent),
			Volume24h:    parseFloat(st.QuoteVolume),
			UpdatedAt:    time.Now().UTC(),
		}
		if st.CloseTime > 0 {
			t.UpdatedAt = time.UnixMilli(st.CloseTime).UTC()
		}
		if t.LastPrice <= 0 {
			return market.Ticker{}, fmt.Errorf("binance ticker %s: non-positive price %q", ex, st.LastPrice)
		}
		s.prices.Record(coin, t.LastPrice, time.Time{})
		s.mu.Lock()
		s.tickers[coin] = t
		s.mu.Unlock()
		logger.Debugf("[binance] ticker %s px=%.6f chg=%.2f%%", coin, t.LastPrice, t.Change24hPct)
		return t, nil
	}
	return market.Ticker{}, fmt.Errorf("binance ticker %s: not found", ex)
}

func (s *Source) Close() error {
	s.client.HTTPClient.CloseIdleConnections()
	return nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
