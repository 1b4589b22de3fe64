package market

import (
	"sync"
	"time"
)

type pricePoint struct {
	At    time.Time
	Price float64
}

// PriceCache keeps the latest price per symbol for a short TTL plus a rolling
// history window. Safe for concurrent use.
type PriceCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	window  time.Duration
	latest  map[string]pricePoint
	history map[string][]pricePoint
	nowFn   func() time.Time
}

func NewPriceCache(ttl, window time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if window <= 0 {
		window = time.Hour
	}
	return &PriceCache{
		ttl:     ttl,
		window:  window,
		latest:  make(map[string]pricePoint),
		history: make(map[string][]pricePoint),
		nowFn:   time.Now,
	}
}

// Get returns the cached price if it is still within the TTL.
func (c *PriceCache) Get(symbol string) (float64, bool) {
	key := NormalizeSymbol(symbol)
	now := c.nowFn()
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.latest[key]
	if !ok {
		return 0, false
	}
	if now.Sub(p.At) >= c.ttl {
		delete(c.latest, key)
		return 0, false
	}
	return p.Price, true
}

// Record stores price as the latest value and appends it to the history.
func (c *PriceCache) Record(symbol string, price float64, at time.Time) {
	if price <= 0 {
		return
	}
	key := NormalizeSymbol(symbol)
	if at.IsZero() {
		at = c.nowFn()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[key] = pricePoint{At: at, Price: price}
	hist := append(c.history[key], pricePoint{At: at, Price: price})
	cutoff := at.Add(-c.window)
	drop := 0
	for drop < len(hist) && hist[drop].At.Before(cutoff) {
		drop++
	}
	c.history[key] = hist[drop:]
}

// History returns a copy of the retained points, oldest first.
func (c *PriceCache) History(symbol string) []float64 {
	key := NormalizeSymbol(symbol)
	c.mu.Lock()
	defer c.mu.Unlock()
	hist := c.history[key]
	out := make([]float64, len(hist))
	for i, p := range hist {
		out[i] = p.Price
	}
	return out
}

// ClearExpired drops stale latest entries and prunes every history window.
func (c *PriceCache) ClearExpired() {
	now := c.nowFn()
	cutoff := now.Add(-c.window)
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, p := range c.latest {
		if now.Sub(p.At) >= c.ttl {
			delete(c.latest, key)
		}
	}
	for key, hist := range c.history {
		drop := 0
		for drop < len(hist) && hist[drop].At.Before(cutoff) {
			drop++
		}
		if drop == len(hist) {
			delete(c.history, key)
			continue
		}
		c.history[key] = hist[drop:]
	}
}
