package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"arena/internal/logger"
	"arena/internal/pkg/symbol"

	"golang.org/x/sync/errgroup"
)

// SeriesRequest 描述一条需要预取的 K 线序列。
type SeriesRequest struct {
	Symbol string
	Period string
	Count  int
}

// Collector 在每轮决策前并发拉取行情，组装不可变的 Snapshot。
// 单个币种的衍生品或 K 线失败只记日志；价格拿不到的币种不进入快照。
type Collector struct {
	Source      Source
	Indicators  IndicatorProvider
	Cache       *KlineCache
	Concurrency int
	nowFn       func() time.Time
}

func NewCollector(src Source, ind IndicatorProvider) *Collector {
	return &Collector{Source: src, Indicators: ind, Concurrency: 4, nowFn: time.Now}
}

// Collect 拉取 symbols 的 ticker/资金费率/持仓量/指标，以及 series 指定的 K 线。
// 只有全部币种都拿不到价格时才返回错误。
func (c *Collector) Collect(ctx context.Context, symbols []string, series []SeriesRequest) (Snapshot, error) {
	if c.Source == nil {
		return Snapshot{}, fmt.Errorf("collector: market source is nil")
	}
	now := time.Now
	if c.nowFn != nil {
		now = c.nowFn
	}
	snap := Snapshot{Symbols: make(map[string]SymbolSnapshot, len(symbols)), TakenAt: now().UTC()}
	var mu sync.Mutex

	wanted := make(map[string][]SeriesRequest)
	for _, req := range series {
		sym := symbol.Coin(req.Symbol)
		wanted[sym] = append(wanted[sym], req)
	}
	seen := make(map[string]bool, len(symbols)+len(wanted))
	var all []string
	for _, s := range symbols {
		if s = symbol.Coin(s); s != "" && !seen[s] {
			seen[s] = true
			all = append(all, s)
		}
	}
	for s := range wanted {
		if s != "" && !seen[s] {
			seen[s] = true
			all = append(all, s)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	limit := c.Concurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)
	for _, sym := range all {
		sym := sym
		g.Go(func() error {
			entry, ok := c.collectSymbol(gctx, sym, wanted[sym])
			if !ok {
				return gctx.Err()
			}
			mu.Lock()
			snap.Symbols[sym] = entry
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	if len(all) > 0 && len(snap.Symbols) == 0 {
		return Snapshot{}, fmt.Errorf("collector: no market data for %s", strings.Join(all, ","))
	}
	return snap, nil
}

func (c *Collector) collectSymbol(ctx context.Context, sym string, series []SeriesRequest) (SymbolSnapshot, bool) {
	tk, err := c.Source.Ticker(ctx, sym)
	if err != nil {
		logger.Warnf("[行情] 获取 %s ticker 失败: %v", sym, err)
		return SymbolSnapshot{}, false
	}
	entry := SymbolSnapshot{
		Symbol:       sym,
		Price:        tk.LastPrice,
		Change24hPct: tk.Change24hPct,
		Volume24h:    tk.Volume24h,
		Candles:      make(map[string][]Candle, len(series)),
	}
	if fr, err := c.Source.GetFundingRate(ctx, sym); err != nil {
		logger.Debugf("[行情] 获取 %s 资金费率失败: %v", sym, err)
	} else {
		entry.FundingRate = fr
	}
	if oi, err := c.Source.GetOpenInterest(ctx, sym); err != nil {
		logger.Debugf("[行情] 获取 %s 持仓量失败: %v", sym, err)
	} else {
		entry.OpenInterest = oi
	}
	for _, req := range series {
		period := strings.ToLower(strings.TrimSpace(req.Period))
		candles, err := c.Source.FetchHistory(ctx, sym, period, req.Count)
		if err != nil {
			if c.Cache != nil {
				if cached := c.Cache.Tail(sym, period, req.Count); len(cached) > 0 {
					logger.Warnf("[行情] 获取 %s %s K线失败，使用缓存 %d 条: %v", sym, period, len(cached), err)
					entry.Candles[period] = cached
					continue
				}
			}
			logger.Warnf("[行情] 获取 %s %s K线失败: %v", sym, period, err)
			continue
		}
		if c.Cache != nil {
			_ = c.Cache.Put(sym, period, candles)
		}
		entry.Candles[period] = candles
	}
	if c.Indicators != nil {
		if vals, err := c.Indicators.Indicators(ctx, sym); err != nil {
			logger.Debugf("[行情] 获取 %s 指标失败: %v", sym, err)
		} else {
			entry.Indicators = vals
		}
	}
	return entry, true
}
