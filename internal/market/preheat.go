package market

import (
	"context"
	"time"

	"arena/internal/logger"
)

// Preheater 在进程启动时按模板需求预取 K 线写入 KlineCache，
// 首轮 REST 失败时 Collector 仍有数据可用。
type Preheater struct {
	Source Source
	Cache  *KlineCache
}

func NewPreheater(src Source, cache *KlineCache) *Preheater {
	return &Preheater{Source: src, Cache: cache}
}

// Preheat 逐条拉取 reqs，单条失败只记日志。返回成功写入的序列数。
func (p *Preheater) Preheat(ctx context.Context, reqs []SeriesRequest) int {
	if p == nil || p.Source == nil || p.Cache == nil {
		return 0
	}
	done := 0
	for _, req := range dedupeSeries(reqs) {
		if ctx.Err() != nil {
			return done
		}
		batch, err := p.Source.FetchHistory(ctx, req.Symbol, req.Period, req.Count)
		if err != nil {
			logger.Warnf("[预热] 获取 %s %s 失败: %v", req.Symbol, req.Period, err)
			continue
		}
		if err := p.Cache.Put(req.Symbol, req.Period, batch); err != nil {
			logger.Warnf("[预热] 写入 %s %s 失败: %v", req.Symbol, req.Period, err)
			continue
		}
		done++
		if len(batch) > 0 {
			last := batch[len(batch)-1]
			logger.Debugf("[预热] %s %s 条数=%d 尾收=%.4f@%s", req.Symbol, req.Period, len(batch), last.Close,
				time.UnixMilli(last.OpenTime).UTC().Format(time.RFC3339))
		}
	}
	return done
}

// dedupeSeries 合并同一 symbol@period 的请求，保留最大 count。
func dedupeSeries(reqs []SeriesRequest) []SeriesRequest {
	idx := make(map[string]int, len(reqs))
	var out []SeriesRequest
	for _, r := range reqs {
		k := cacheKey(r.Symbol, r.Period)
		if i, ok := idx[k]; ok {
			if r.Count > out[i].Count {
				out[i].Count = r.Count
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}
