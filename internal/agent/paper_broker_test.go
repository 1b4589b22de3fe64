package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"arena/internal/decision"
	"arena/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu    sync.Mutex
	confs []Confirmation
}

func (r *recordingSink) Confirm(_ context.Context, c Confirmation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confs = append(r.confs, c)
	return nil
}

func f64(v float64) *float64 { return &v }

func brokerSnapshot(price float64) market.Snapshot {
	return market.Snapshot{Symbols: map[string]market.SymbolSnapshot{"BTC": {Symbol: "BTC", Price: price}}}
}

func newTestBroker(sink ConfirmationSink) *PaperBroker {
	b := NewPaperBroker(sink)
	b.FeeRate = 0
	b.SlippageBps = 0
	b.nowFn = func() time.Time { return cycleNow }
	b.Open("alpha", 1000, 10, 3)
	return b
}

func TestPaperBrokerOpenAndClose(t *testing.T) {
	sink := &recordingSink{}
	b := newTestBroker(sink)
	ctx := context.Background()

	err := b.Execute(ctx, ExecutionRequest{
		Account:  "alpha",
		TraceID:  "t1",
		Snapshot: brokerSnapshot(100),
		Decisions: []decision.Decision{{
			Operation: decision.OpBuy, Symbol: "BTC", TargetPortion: 0.2, Leverage: 5, MaxPrice: f64(100),
		}},
	})
	require.NoError(t, err)

	st, err := b.AccountState(ctx, "alpha")
	require.NoError(t, err)
	assert.InDelta(t, 800, st.AvailableBalance, 1e-9)
	assert.InDelta(t, 200, st.UsedMargin, 1e-9)
	assert.InDelta(t, 1000, st.Equity, 1e-9)

	positions, err := b.Positions(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 10, positions[0].Size, 1e-9)
	assert.InDelta(t, 200, positions[0].Margin(), 1e-9)

	err = b.Execute(ctx, ExecutionRequest{
		Account:  "alpha",
		TraceID:  "t2",
		Snapshot: brokerSnapshot(110),
		Decisions: []decision.Decision{{
			Operation: decision.OpClose, Symbol: "BTC", TargetPortion: 1, MinPrice: f64(110),
		}},
	})
	require.NoError(t, err)

	st, err = b.AccountState(ctx, "alpha")
	require.NoError(t, err)
	assert.InDelta(t, 1100, st.Equity, 1e-9)
	assert.Zero(t, st.UsedMargin)

	trades, err := b.RecentTrades(ctx, "alpha", 5)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.InDelta(t, 100, trades[0].RealizedPnL, 1e-9)

	require.Len(t, sink.confs, 2)
	assert.Equal(t, decision.OpBuy, sink.confs[0].Operation)
	assert.Equal(t, decision.OpClose, sink.confs[1].Operation)
	assert.Equal(t, "t2", sink.confs[1].TraceID)
}

func TestPaperBrokerOppositeOpenClosesFirst(t *testing.T) {
	sink := &recordingSink{}
	b := newTestBroker(sink)
	ctx := context.Background()

	require.NoError(t, b.Execute(ctx, ExecutionRequest{
		Account: "alpha", Snapshot: brokerSnapshot(100),
		Decisions: []decision.Decision{{Operation: decision.OpBuy, Symbol: "BTC", TargetPortion: 0.1, Leverage: 2}},
	}))
	require.NoError(t, b.Execute(ctx, ExecutionRequest{
		Account: "alpha", Snapshot: brokerSnapshot(90),
		Decisions: []decision.Decision{{Operation: decision.OpSell, Symbol: "BTC", TargetPortion: 0.1, Leverage: 2, MinPrice: f64(90)}},
	}))

	positions, err := b.Positions(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, market.SideShort, positions[0].Side)

	trades, err := b.RecentTrades(ctx, "alpha", 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, market.SideLong, trades[0].Side)
	assert.InDelta(t, -20, trades[0].RealizedPnL, 1e-9)
}

func TestPaperBrokerIgnoresCloseWithoutPosition(t *testing.T) {
	sink := &recordingSink{}
	b := newTestBroker(sink)

	require.NoError(t, b.Execute(context.Background(), ExecutionRequest{
		Account: "alpha", Snapshot: brokerSnapshot(100),
		Decisions: []decision.Decision{{Operation: decision.OpClose, Symbol: "BTC"}},
	}))
	assert.Empty(t, sink.confs)

	_, err := b.AccountState(context.Background(), "missing")
	assert.Error(t, err)
}

func TestConfirmerUpdatesGuard(t *testing.T) {
	h := newCycleHarness(t, "{total_equity}")
	c := NewConfirmer(h.guard, nil)

	err := c.Confirm(context.Background(), Confirmation{Account: "alpha", Symbol: "eth", Operation: decision.OpSell, FilledAt: cycleNow})
	require.NoError(t, err)
	snap, err := h.guard.Snapshot(context.Background(), "alpha")
	require.NoError(t, err)
	st, ok := snap.Get("ETH")
	require.True(t, ok)
	assert.Equal(t, cycleNow, st.LastTradeAt)

	err = c.Confirm(context.Background(), Confirmation{Account: "alpha", Symbol: "ETH", Operation: decision.OpHold})
	assert.Error(t, err)
}
