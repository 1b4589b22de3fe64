package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"arena/internal/config"
	"arena/internal/flipflop"
	"arena/internal/gateway/provider"
	"arena/internal/market"
	"arena/internal/store/gormstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct{}

func (fakeSource) FetchHistory(context.Context, string, string, int) ([]market.Candle, error) {
	return []market.Candle{{OpenTime: 1, Open: 1, High: 2, Low: 1, Close: 2, Volume: 5}}, nil
}

func (fakeSource) Ticker(_ context.Context, sym string) (market.Ticker, error) {
	return market.Ticker{Symbol: sym, LastPrice: 100, Change24hPct: 0.4}, nil
}

func (fakeSource) GetFundingRate(context.Context, string) (float64, error)  { return 0.0001, nil }
func (fakeSource) GetOpenInterest(context.Context, string) (float64, error) { return 1000, nil }
func (fakeSource) Close() error                                             { return nil }

type stubProvider struct {
	content string
	calls   int
}

func (p *stubProvider) ID() string    { return "stub" }
func (p *stubProvider) Enabled() bool { return true }
func (p *stubProvider) Complete(context.Context, provider.ChatPayload) (provider.Response, error) {
	p.calls++
	return provider.Response{Content: p.content, Provider: "stub", Model: "stub-1"}, nil
}

func writeTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	tplPath := filepath.Join(dir, "templates.yaml")
	require.NoError(t, os.WriteFile(tplPath, []byte(`
templates:
  - key: simple
    name: Simple
    text: "Equity {total_equity}\n{BTC_klines_15m}(2)"
`), 0o644))
	cfgPath := filepath.Join(dir, "arena.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
app:
  http_addr: "127.0.0.1:0"
ai:
  models:
    - id: stub
      model: stub-1
      api_url: http://127.0.0.1:1/v1
prompt:
  templates_path: `+tplPath+`
store:
  decision_log_path: `+filepath.Join(dir, "decisions.db")+`
  guard_path: `+filepath.Join(dir, "guard.db")+`
accounts:
  - id: alpha
    template: simple
    symbols: [BTC, ETH]
    initial_capital: 1000
  - id: beta
    executor: external
    symbols: [SOL]
`), 0o644))
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	return cfg
}

func newTestBuilder(t *testing.T, cfg *config.Config, llm *stubProvider) *AppBuilder {
	t.Helper()
	return NewAppBuilder(cfg,
		WithMarketStack(func(context.Context, *config.Config) (*MarketStack, error) {
			return newMarketStack(fakeSource{}, cfg.Market), nil
		}),
		WithModelProviders(func(*config.Config) ([]provider.ModelProvider, error) {
			return []provider.ModelProvider{llm}, nil
		}),
		WithStores(func(c *config.Config) (*Stores, error) {
			audit, err := gormstore.NewStore(c.Store.DecisionLogPath)
			if err != nil {
				return nil, err
			}
			return &Stores{Audit: audit, GuardStore: flipflop.NewMemoryStore(), closers: []func() error{audit.Close}}, nil
		}),
	)
}

func TestBuildWiresCycleEndToEnd(t *testing.T) {
	cfg := writeTestConfig(t)
	llm := &stubProvider{content: `{"decisions":[]}`}
	a, err := newTestBuilder(t, cfg, llm).Build(context.Background())
	require.NoError(t, err)
	defer a.Close()

	require.Len(t, a.preheat, 1)
	assert.Equal(t, market.SeriesRequest{Symbol: "BTC", Period: "15m", Count: 2}, a.preheat[0])

	acc, ok := a.Coordinator().Account("alpha")
	require.True(t, ok)
	res := a.Coordinator().RunAccount(context.Background(), acc)
	require.NoError(t, res.Err)
	assert.Equal(t, gormstore.CycleAllHold, res.Status)
	assert.Equal(t, "simple", res.Template)
	assert.Contains(t, res.Prompt, "Equity 1000.00")
	assert.Equal(t, 1, llm.calls)

	records, err := a.stores.Audit.ListCycles(context.Background(), gormstore.CycleFilter{Account: "alpha"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, res.TraceID, records[0].TraceID)

	a.maintain(context.Background(), time.Now().Add(31*24*time.Hour))
	records, err = a.stores.Audit.ListCycles(context.Background(), gormstore.CycleFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestBuildRejectsUnknownTemplateBinding(t *testing.T) {
	cfg := writeTestConfig(t)
	cfg.Accounts[0].Template = "missing"
	_, err := newTestBuilder(t, cfg, &stubProvider{}).Build(context.Background())
	assert.ErrorContains(t, err, "missing")
}

func TestSummaryPrintsAccounts(t *testing.T) {
	cfg := writeTestConfig(t)
	a, err := newTestBuilder(t, cfg, &stubProvider{}).Build(context.Background())
	require.NoError(t, err)
	defer a.Close()

	var buf bytes.Buffer
	a.Summary.Fprint(&buf)
	out := buf.String()
	assert.Contains(t, out, "> alpha")
	assert.Contains(t, out, "模板: simple")
	assert.Contains(t, out, "执行=external")
	assert.Contains(t, out, "BTC@15m(2)")
	assert.Contains(t, out, "every 5m0s")
}

func TestToModelCfgsCopiesTemperature(t *testing.T) {
	temp := 0.2
	out := toModelCfgs([]config.ResolvedModelConfig{
		{ID: "a", Model: "m", Enabled: true, Temperature: &temp, Endpoints: []string{"http://x"}},
		{ID: "b", Model: "m"},
	})
	require.Len(t, out, 2)
	assert.Equal(t, 0.2, out[0].Temperature)
	assert.Zero(t, out[1].Temperature)
	assert.False(t, out[1].Enabled)
}
