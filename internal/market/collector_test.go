package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	args := m.Called(ctx, symbol, interval, limit)
	candles, _ := args.Get(0).([]Candle)
	return candles, args.Error(1)
}

func (m *mockSource) Ticker(ctx context.Context, symbol string) (Ticker, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(Ticker), args.Error(1)
}

func (m *mockSource) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockSource) GetOpenInterest(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockSource) Close() error { return nil }

func TestCollector_Collect(t *testing.T) {
	src := new(mockSource)
	m := mock.Anything
	src.On("Ticker", m, "BTC").Return(Ticker{Symbol: "BTC", LastPrice: 97000, Change24hPct: 1.5}, nil)
	src.On("Ticker", m, "ETH").Return(Ticker{}, errors.New("timeout"))
	src.On("GetFundingRate", m, "BTC").Return(0.0001, nil)
	src.On("GetOpenInterest", m, "BTC").Return(0.0, errors.New("boom"))
	src.On("FetchHistory", m, "BTC", "15m", 3).Return([]Candle{{Close: 1}, {Close: 2}, {Close: 3}}, nil)

	c := NewCollector(src, nil)
	c.nowFn = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	snap, err := c.Collect(context.Background(), []string{"BTC", "ETH"}, []SeriesRequest{{Symbol: "BTCUSDT", Period: "15M", Count: 3}})
	require.NoError(t, err)

	btc, ok := snap.Get("BTC")
	require.True(t, ok)
	assert.Equal(t, 97000.0, btc.Price)
	assert.Equal(t, 0.0001, btc.FundingRate)
	assert.Zero(t, btc.OpenInterest)
	assert.Len(t, snap.CandlesFor("BTC", "15m"), 3)
	_, ok = snap.Get("ETH")
	assert.False(t, ok)
	assert.Equal(t, 2025, snap.TakenAt.Year())
	src.AssertExpectations(t)
}

func TestCollector_AllFail(t *testing.T) {
	src := new(mockSource)
	src.On("Ticker", mock.Anything, mock.Anything).Return(Ticker{}, errors.New("down"))
	_, err := NewCollector(src, nil).Collect(context.Background(), []string{"BTC"}, nil)
	assert.Error(t, err)
}

func TestCollector_FallsBackToKlineCache(t *testing.T) {
	src := new(mockSource)
	m := mock.Anything
	src.On("Ticker", m, "SOL").Return(Ticker{Symbol: "SOL", LastPrice: 200}, nil)
	src.On("GetFundingRate", m, "SOL").Return(0.0, nil)
	src.On("GetOpenInterest", m, "SOL").Return(0.0, nil)
	src.On("FetchHistory", m, "SOL", "1h", 2).Return(nil, errors.New("rate limited"))

	c := NewCollector(src, nil)
	c.Cache = NewKlineCache(10)
	require.NoError(t, c.Cache.Put("SOL", "1h", []Candle{{OpenTime: 1, Close: 1}, {OpenTime: 2, Close: 2}, {OpenTime: 3, Close: 3}}))

	snap, err := c.Collect(context.Background(), []string{"SOL"}, []SeriesRequest{{Symbol: "SOL", Period: "1h", Count: 2}})
	require.NoError(t, err)
	got := snap.CandlesFor("SOL", "1h")
	require.Len(t, got, 2)
	assert.Equal(t, 3.0, got[1].Close)
}

func TestKlineCache_Put(t *testing.T) {
	c := NewKlineCache(3)
	require.Error(t, c.Put("", "1h", nil))
	require.NoError(t, c.Put("btc", "1H", []Candle{{OpenTime: 1}, {OpenTime: 2}}))
	require.NoError(t, c.Put("BTC", "1h", []Candle{{OpenTime: 2, Close: 9}, {OpenTime: 1}, {OpenTime: 3}, {OpenTime: 4}}))
	got := c.Tail("BTC", "1h", 10)
	require.Len(t, got, 3)
	assert.Equal(t, int64(2), got[0].OpenTime)
	assert.Equal(t, 9.0, got[0].Close)
	assert.Equal(t, int64(4), got[2].OpenTime)
	assert.Nil(t, c.Tail("BTC", "1h", 0))
}

func TestPreheaterFillsCache(t *testing.T) {
	src := new(mockSource)
	m := mock.Anything
	src.On("FetchHistory", m, "BTC", "15m", 5).Return([]Candle{{OpenTime: 1, Close: 1}, {OpenTime: 2, Close: 2}}, nil).Once()
	src.On("FetchHistory", m, "ETH", "1h", 2).Return(nil, errors.New("down")).Once()

	cache := NewKlineCache(10)
	n := NewPreheater(src, cache).Preheat(context.Background(), []SeriesRequest{
		{Symbol: "BTC", Period: "15m", Count: 3},
		{Symbol: "ETH", Period: "1h", Count: 2},
		{Symbol: "BTC", Period: "15m", Count: 5},
	})
	assert.Equal(t, 1, n)
	assert.Len(t, cache.Tail("BTC", "15m", 10), 2)
	assert.Empty(t, cache.Tail("ETH", "1h", 10))
	src.AssertExpectations(t)
}
