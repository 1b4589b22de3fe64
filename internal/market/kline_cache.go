package market

import (
	"errors"
	"strings"
	"sync"
)

// KlineCache 保存每个 symbol@interval 最近拉到的 K 线，按 OpenTime 合并。
// REST 拉取失败时 Collector 用它兜底。
type KlineCache struct {
	shards []klineShard
	max    int
}

type klineShard struct {
	mu   sync.RWMutex
	data map[string][]Candle
}

const defaultShardCount = 32

func NewKlineCache(max int) *KlineCache {
	if max <= 0 {
		max = 1500
	}
	out := &KlineCache{shards: make([]klineShard, defaultShardCount), max: max}
	for i := range out.shards {
		out.shards[i] = klineShard{data: make(map[string][]Candle)}
	}
	return out
}

func (c *KlineCache) shardFor(key string) *klineShard {
	return &c.shards[hashKey(key)%uint32(len(c.shards))]
}

func cacheKey(symbol, interval string) string {
	return strings.ToUpper(strings.TrimSpace(symbol)) + "@" + strings.ToLower(strings.TrimSpace(interval))
}

// Put 合并新 K 线：同一 OpenTime 覆盖，早于末尾的丢弃，超过上限时裁掉最旧的。
func (c *KlineCache) Put(symbol, interval string, ks []Candle) error {
	if strings.TrimSpace(symbol) == "" || strings.TrimSpace(interval) == "" {
		return errors.New("symbol/interval 不能为空")
	}
	if len(ks) == 0 {
		return nil
	}
	k := cacheKey(symbol, interval)
	sh := c.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur := sh.data[k]
	for _, candle := range ks {
		n := len(cur)
		switch {
		case n > 0 && cur[n-1].OpenTime == candle.OpenTime:
			cur[n-1] = candle
		case n > 0 && candle.OpenTime < cur[n-1].OpenTime:
			continue
		default:
			cur = append(cur, candle)
		}
	}
	if len(cur) > c.max {
		cur = append([]Candle(nil), cur[len(cur)-c.max:]...)
	}
	sh.data[k] = cur
	return nil
}

// Tail 返回最近 limit 根的拷贝。
func (c *KlineCache) Tail(symbol, interval string, limit int) []Candle {
	if limit <= 0 {
		return nil
	}
	k := cacheKey(symbol, interval)
	sh := c.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur := sh.data[k]
	if limit > len(cur) {
		limit = len(cur)
	}
	out := make([]Candle, limit)
	copy(out, cur[len(cur)-limit:])
	return out
}

func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
