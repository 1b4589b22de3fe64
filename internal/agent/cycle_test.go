package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"arena/internal/config"
	"arena/internal/decision"
	"arena/internal/flipflop"
	"arena/internal/gateway/provider"
	"arena/internal/market"
	"arena/internal/prompt"
	"arena/internal/regime"
	"arena/internal/store/gormstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCollector struct {
	mock.Mock
}

func (m *MockCollector) Collect(ctx context.Context, symbols []string, series []market.SeriesRequest) (market.Snapshot, error) {
	args := m.Called(ctx, symbols, series)
	return args.Get(0).(market.Snapshot), args.Error(1)
}

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) ID() string    { return "mock-llm" }
func (m *MockProvider) Enabled() bool { return true }
func (m *MockProvider) Complete(ctx context.Context, payload provider.ChatPayload) (provider.Response, error) {
	args := m.Called(ctx, payload)
	return args.Get(0).(provider.Response), args.Error(1)
}

type staticTemplates struct {
	tpl prompt.Template
}

func (s staticTemplates) ForAccount(string) prompt.Template { return s.tpl }

type recordingAudit struct {
	mu      sync.Mutex
	records []gormstore.CycleRecord
}

func (r *recordingAudit) SaveCycle(_ context.Context, rec gormstore.CycleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingNotifier) SendText(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

var cycleNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type cycleHarness struct {
	runner    *CycleRunner
	collector *MockCollector
	llm       *MockProvider
	broker    *PaperBroker
	guard     *flipflop.Guard
	audit     *recordingAudit
	notes     *recordingNotifier
	account   config.AccountConfig
}

func newCycleHarness(t *testing.T, tplText string) *cycleHarness {
	t.Helper()
	h := &cycleHarness{
		collector: new(MockCollector),
		llm:       new(MockProvider),
		guard:     flipflop.NewGuard(flipflop.NewMemoryStore(), 24*time.Hour, func() time.Time { return cycleNow }),
		audit:     &recordingAudit{},
		notes:     &recordingNotifier{},
		account: config.AccountConfig{
			ID: "alpha", Symbols: []string{"BTC", "ETH"}, Environment: "testnet",
			InitialCapital: 1000, MaxLeverage: 10, DefaultLeverage: 3,
		},
	}
	h.broker = NewPaperBroker(NewConfirmer(h.guard, nil))
	h.broker.nowFn = func() time.Time { return cycleNow }
	h.broker.Open("alpha", 1000, 10, 3)

	h.runner = &CycleRunner{
		Collector:  h.collector,
		Accounts:   h.broker,
		Trades:     h.broker,
		Templates:  staticTemplates{tpl: prompt.Template{Key: "test", Text: tplText}},
		Providers:  NewProviderSet([]provider.ModelProvider{h.llm}, nil),
		Normalizer: decision.NewNormalizer(),
		Validator:  decision.NewValidator(decision.DefaultConfig()),
		Classifier: regime.NewClassifier("BTC", -5),
		Guard:      h.guard,
		Audit:      h.audit,
		Notifier:   h.notes,
		Executors:  map[string]Executor{"alpha": h.broker},
		Options: CycleOptions{
			AnchorSymbols: []string{"BTC", "ETH"},
			Benchmark:     "BTC",
			RecentTrades:  5,
			Strict:        true,
		},
		StartedAt: cycleNow.Add(-time.Hour),
		nowFn:     func() time.Time { return cycleNow },
	}
	return h
}

func testSnapshot() market.Snapshot {
	return market.Snapshot{
		TakenAt: cycleNow,
		Symbols: map[string]market.SymbolSnapshot{
			"BTC": {Symbol: "BTC", Price: 97000, Change24hPct: 1.0},
			"ETH": {Symbol: "ETH", Price: 3500, Change24hPct: 0.5},
		},
	}
}

const buyBTC = `{"decisions":[{"operation":"buy","symbol":"BTC","target_portion_of_balance":0.1,"leverage":3,
"max_price":97500,"time_in_force":"Ioc","take_profit_price":99000,"stop_loss_price":95000,
"reason":"breakout","trading_strategy":"momentum"}]}`

func TestCycleRunnerExecutesValidatedDecisions(t *testing.T) {
	h := newCycleHarness(t, "Equity {total_equity}\n{market_prices}\n{output_format}")
	h.collector.On("Collect", mock.Anything, mock.Anything, mock.Anything).Return(testSnapshot(), nil)
	h.llm.On("Complete", mock.Anything, mock.MatchedBy(func(p provider.ChatPayload) bool {
		return p.System != "" && p.User != ""
	})).Return(provider.Response{Content: buyBTC, Provider: "mock-llm", Model: "m"}, nil)

	res := h.runner.Run(context.Background(), h.account, Ticket{Generation: 1})

	require.NoError(t, res.Err)
	assert.Equal(t, gormstore.CycleOK, res.Status)
	assert.Equal(t, regime.Neutral, res.Regime.Label)
	require.Len(t, res.Report.Results, 2)
	assert.Equal(t, decision.OpBuy, res.Report.Results[0].Decision.Operation)
	assert.Equal(t, decision.OpHold, res.Report.Results[1].Decision.Operation)
	assert.Contains(t, res.Prompt, "Equity 1000.00")

	positions, err := h.broker.Positions(context.Background(), "alpha")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTC", positions[0].Symbol)
	assert.Equal(t, market.SideLong, positions[0].Side)

	snap, err := h.guard.Snapshot(context.Background(), "alpha")
	require.NoError(t, err)
	st, ok := snap.Get("BTC")
	require.True(t, ok)
	assert.Equal(t, flipflop.Long, st.LastDirection)

	require.Len(t, h.audit.records, 1)
	rec := h.audit.records[0]
	assert.Equal(t, res.TraceID, rec.TraceID)
	assert.Equal(t, gormstore.CycleOK, rec.Status)
	assert.Equal(t, "content", rec.Source)
	assert.NotEmpty(t, rec.Decisions)
	require.Len(t, h.notes.texts, 1)
	assert.Contains(t, h.notes.texts[0], "buy BTC")
}

func TestCycleRunnerAbortsOnProviderError(t *testing.T) {
	h := newCycleHarness(t, "{total_equity}")
	h.collector.On("Collect", mock.Anything, mock.Anything, mock.Anything).Return(testSnapshot(), nil)
	h.llm.On("Complete", mock.Anything, mock.Anything).
		Return(provider.Response{}, &provider.ProviderError{Provider: "mock-llm", Attempts: 3, Err: errors.New("503")})

	res := h.runner.Run(context.Background(), h.account, Ticket{Generation: 1})

	assert.Equal(t, gormstore.CycleAborted, res.Status)
	var perr *provider.ProviderError
	assert.ErrorAs(t, res.Err, &perr)
	assert.Empty(t, res.Report.Results)

	positions, _ := h.broker.Positions(context.Background(), "alpha")
	assert.Empty(t, positions)
	require.Len(t, h.audit.records, 1)
	assert.Equal(t, gormstore.CycleAborted, h.audit.records[0].Status)
	require.Len(t, h.notes.texts, 1)
	assert.Contains(t, h.notes.texts[0], "决策中止")
}

func TestCycleRunnerAbortsOnTemplateError(t *testing.T) {
	h := newCycleHarness(t, "{total_equity} {no_such_variable}")
	h.collector.On("Collect", mock.Anything, mock.Anything, mock.Anything).Return(testSnapshot(), nil)

	res := h.runner.Run(context.Background(), h.account, Ticket{Generation: 1})

	assert.Equal(t, gormstore.CycleAborted, res.Status)
	assert.ErrorIs(t, res.Err, prompt.ErrTemplate)
	h.llm.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestCycleRunnerFallsBackToAllHold(t *testing.T) {
	h := newCycleHarness(t, "{total_equity}")
	h.collector.On("Collect", mock.Anything, mock.Anything, mock.Anything).Return(testSnapshot(), nil)
	h.llm.On("Complete", mock.Anything, mock.Anything).
		Return(provider.Response{Content: "Markets look calm, I would wait.", Provider: "mock-llm"}, nil)

	res := h.runner.Run(context.Background(), h.account, Ticket{Generation: 1})

	assert.Equal(t, gormstore.CycleAllHold, res.Status)
	assert.ErrorIs(t, res.Err, decision.ErrUnusableResponse)
	require.Len(t, res.Report.Results, 2)
	for _, r := range res.Report.Results {
		assert.Equal(t, decision.OpHold, r.Decision.Operation)
	}
	assert.Empty(t, res.Report.Actionable())
}

func TestCycleRunnerPrefetchesTemplateSeries(t *testing.T) {
	h := newCycleHarness(t, "{BTC_klines_15m}(3)\n{total_equity}")
	snap := testSnapshot()
	btc := snap.Symbols["BTC"]
	btc.Candles = map[string][]market.Candle{"15m": {
		{OpenTime: cycleNow.Add(-45 * time.Minute).UnixMilli(), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{OpenTime: cycleNow.Add(-30 * time.Minute).UnixMilli(), Open: 1.5, High: 2, Low: 1, Close: 1.8, Volume: 10},
		{OpenTime: cycleNow.Add(-15 * time.Minute).UnixMilli(), Open: 1.8, High: 2.2, Low: 1.7, Close: 2.0, Volume: 10},
	}}
	snap.Symbols["BTC"] = btc
	h.collector.On("Collect", mock.Anything, mock.Anything, []market.SeriesRequest{{Symbol: "BTC", Period: "15m", Count: 3}}).
		Return(snap, nil)
	h.llm.On("Complete", mock.Anything, mock.Anything).
		Return(provider.Response{Content: `{"decisions":[]}`, Provider: "mock-llm"}, nil)

	res := h.runner.Run(context.Background(), h.account, Ticket{Generation: 1})

	assert.Equal(t, gormstore.CycleAllHold, res.Status)
	h.collector.AssertExpectations(t)
}

func TestCycleRunnerDiscardsStaleOutput(t *testing.T) {
	h := newCycleHarness(t, "{total_equity}")
	h.collector.On("Collect", mock.Anything, mock.Anything, mock.Anything).Return(testSnapshot(), nil)
	h.llm.On("Complete", mock.Anything, mock.Anything).
		Return(provider.Response{Content: buyBTC, Provider: "mock-llm"}, nil)

	res := h.runner.Run(context.Background(), h.account, Ticket{Generation: 1, Current: func() bool { return false }})

	assert.Equal(t, gormstore.CycleStale, res.Status)
	assert.ErrorIs(t, res.Err, ErrStaleCycle)
	assert.Empty(t, res.Report.Results)
	positions, _ := h.broker.Positions(context.Background(), "alpha")
	assert.Empty(t, positions)
	assert.Empty(t, h.notes.texts)
}
