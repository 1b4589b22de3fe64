package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriceCache_TTLAndHistory(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewPriceCache(30*time.Second, time.Minute)
	c.nowFn = func() time.Time { return now }

	c.Record("btc", 97000, now.Add(-90*time.Second))
	c.Record("BTC", 97100, now.Add(-10*time.Second))

	price, ok := c.Get("BTC")
	assert.True(t, ok)
	assert.Equal(t, 97100.0, price)
	assert.Equal(t, []float64{97100}, c.History("BTC"))

	now = now.Add(time.Minute)
	_, ok = c.Get("BTC")
	assert.False(t, ok)

	c.ClearExpired()
	assert.Empty(t, c.History("BTC"))
}

func TestSnapshot_Accessors(t *testing.T) {
	snap := Snapshot{Symbols: map[string]SymbolSnapshot{
		"BTC": {Symbol: "BTC", Price: 97000, Change24hPct: 2, Candles: map[string][]Candle{"15m": {{Close: 1}}}},
		"ETH": {Symbol: "ETH", Price: 0, Change24hPct: -1},
	}}
	p, ok := snap.Price("btc")
	assert.True(t, ok)
	assert.Equal(t, 97000.0, p)
	_, ok = snap.Price("ETH")
	assert.False(t, ok)
	assert.Equal(t, []float64{2, -1}, snap.Changes([]string{"BTC", "ETH", "SOL"}))
	assert.Len(t, snap.CandlesFor("BTC", "15M"), 1)
}

func TestCandlesSummary(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	cs := Candles{
		{OpenTime: base, Open: 100, High: 110, Low: 95, Close: 105, Volume: 1234567},
		{OpenTime: base + 900_000, Open: 105, High: 106, Low: 90, Close: 94.5, Volume: 1000},
	}
	lines := cs.Lines()
	assert.Equal(t, "[2025-03-01 12:00] O:100.00 H:110.00 L:95.00 C:105.00 (+5.00%) Vol:1,234,567", lines[0])
	assert.Equal(t, "[2025-03-01 12:15] O:105.00 H:106.00 L:90.00 C:94.50 (-10.00%) Vol:1,000", lines[1])

	s := cs.Summary()
	assert.Contains(t, s, "Displaying last 2 candles")
	assert.Contains(t, s, "Period Change: -10.00%")
	assert.Contains(t, s, "High/Low Range: $90.00 - $110.00")
	assert.Contains(t, s, "Total Volume: 1,235,567")
	assert.Len(t, cs.Tail(1), 1)
	assert.Equal(t, "No K-line data available.", Candles(nil).Summary())
}
