package market

import (
	"strings"
	"time"

	"arena/internal/pkg/symbol"
)

// SymbolSnapshot is the per-symbol view of one cycle.
type SymbolSnapshot struct {
	Symbol       string             `json:"symbol"`
	Price        float64            `json:"price"`
	Change24hPct float64            `json:"change_24h_pct"`
	Volume24h    float64            `json:"volume_24h"`
	OpenInterest float64            `json:"open_interest"`
	FundingRate  float64            `json:"funding_rate"`
	Candles      map[string][]Candle `json:"-"`
	Indicators   map[string]float64 `json:"indicators,omitempty"`
}

// Snapshot is immutable once built for a cycle.
type Snapshot struct {
	Symbols map[string]SymbolSnapshot `json:"symbols"`
	TakenAt time.Time                 `json:"taken_at"`
}

func (s Snapshot) Get(symbol string) (SymbolSnapshot, bool) {
	snap, ok := s.Symbols[NormalizeSymbol(symbol)]
	return snap, ok
}

// Price returns the last price when it is known and positive.
func (s Snapshot) Price(symbol string) (float64, bool) {
	snap, ok := s.Get(symbol)
	if !ok || snap.Price <= 0 {
		return 0, false
	}
	return snap.Price, true
}

// Changes returns the 24h changes of the given symbols that are present.
func (s Snapshot) Changes(symbols []string) []float64 {
	out := make([]float64, 0, len(symbols))
	for _, sym := range symbols {
		if snap, ok := s.Get(sym); ok {
			out = append(out, snap.Change24hPct)
		}
	}
	return out
}

// CandlesFor returns the cached series for (symbol, period), oldest first.
func (s Snapshot) CandlesFor(symbol, period string) []Candle {
	snap, ok := s.Get(symbol)
	if !ok || snap.Candles == nil {
		return nil
	}
	return snap.Candles[strings.ToLower(strings.TrimSpace(period))]
}

type AccountState struct {
	Equity            float64   `json:"equity"`
	AvailableBalance  float64   `json:"available_balance"`
	UsedMargin        float64   `json:"used_margin"`
	MaintenanceMargin float64   `json:"maintenance_margin"`
	MaxLeverage       int       `json:"max_leverage"`
	DefaultLeverage   int       `json:"default_leverage"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// MarginUsage is used margin over equity, 0 when equity is unknown.
func (a AccountState) MarginUsage() float64 {
	if a.Equity <= 0 {
		return 0
	}
	return a.UsedMargin / a.Equity
}

const (
	SideLong  = "long"
	SideShort = "short"
)

type Position struct {
	Symbol           string    `json:"symbol"`
	Side             string    `json:"side"`
	Size             float64   `json:"size"`
	EntryPrice       float64   `json:"entry_price"`
	Leverage         int       `json:"leverage"`
	LiquidationPrice float64   `json:"liquidation_price"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	OpenedAt         time.Time `json:"opened_at"`
}

// Margin is the collateral committed to the position.
func (p Position) Margin() float64 {
	lev := p.Leverage
	if lev <= 0 {
		lev = 1
	}
	return p.Size * p.EntryPrice / float64(lev)
}

type TradeRecord struct {
	Symbol      string        `json:"symbol"`
	Side        string        `json:"side"`
	RealizedPnL float64       `json:"realized_pnl"`
	ClosedAt    time.Time     `json:"closed_at"`
	Holding     time.Duration `json:"holding"`
}

// PositionBySymbol indexes positions by normalized symbol; the first entry wins.
func PositionBySymbol(positions []Position) map[string]Position {
	out := make(map[string]Position, len(positions))
	for _, p := range positions {
		sym := NormalizeSymbol(p.Symbol)
		if sym == "" {
			continue
		}
		if _, ok := out[sym]; ok {
			continue
		}
		out[sym] = p
	}
	return out
}

// NormalizeSymbol reduces any spelling to the base coin ("btc ", "BTCUSDT", "BTC/USDT" -> "BTC").
func NormalizeSymbol(s string) string {
	return symbol.Coin(s)
}
