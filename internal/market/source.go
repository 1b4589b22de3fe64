package market

import (
	"context"
	"time"
)

// Ticker is the 24h rolling statistics of one symbol.
type Ticker struct {
	Symbol       string
	LastPrice    float64
	Change24hPct float64
	Volume24h    float64
	UpdatedAt    time.Time
}

// Source is the market-data collaborator. Implementations fetch; nothing in
// the decision core calls a Source directly.
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	Ticker(ctx context.Context, symbol string) (Ticker, error)

	GetFundingRate(ctx context.Context, symbol string) (float64, error)

	GetOpenInterest(ctx context.Context, symbol string) (float64, error)

	Close() error
}

// IndicatorProvider supplies precomputed indicator values (RSI, MACD, ATR...)
// keyed by name, e.g. "RSI14_15m". Values are opaque to this module.
type IndicatorProvider interface {
	Indicators(ctx context.Context, symbol string) (map[string]float64, error)
}

// AccountProvider exposes the account collaborator.
type AccountProvider interface {
	AccountState(ctx context.Context, accountID string) (AccountState, error)
	Positions(ctx context.Context, accountID string) ([]Position, error)
}

// TradeHistoryProvider exposes closed trades, newest first.
type TradeHistoryProvider interface {
	RecentTrades(ctx context.Context, accountID string, limit int) ([]TradeRecord, error)
}

// NewsProvider returns opaque news text for the prompt.
type NewsProvider interface {
	Latest(ctx context.Context, symbols []string) (string, error)
}
