package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arena/internal/market"
	"arena/internal/regime"
)

func stubKlines(reg *Registry, calls *[]int) {
	_ = reg.RegisterPattern("<SYMBOL>_klines_<PERIOD>", func(symbol, period string, count int) (string, error) {
		*calls = append(*calls, count)
		lines := make([]string, count)
		for i := range lines {
			lines[i] = fmt.Sprintf("%s %s candle#%d", symbol, period, i)
		}
		return strings.Join(lines, "\n"), nil
	})
}

func TestRender_ExplicitCount(t *testing.T) {
	reg := NewRegistry()
	var calls []int
	stubKlines(reg, &calls)
	r := NewRenderer(reg, RenderOptions{Strict: true})

	out, err := r.Render("data:\n{BTC_klines_15m}(3)\nend")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "candle#"))
	assert.Equal(t, []int{3}, calls)
	assert.NotContains(t, out, "(3)")
}

func TestRender_DefaultCount(t *testing.T) {
	reg := NewRegistry()
	var calls []int
	stubKlines(reg, &calls)
	r := NewRenderer(reg, RenderOptions{Strict: true})

	out, err := r.Render("{ETH_klines_1h}")
	require.NoError(t, err)
	assert.Equal(t, DefaultCount, strings.Count(out, "candle#"))
	assert.Equal(t, []int{DefaultCount}, calls)
}

func TestRender_CountValidation(t *testing.T) {
	r := NewRenderer(NewRegistry(), RenderOptions{Strict: true})
	for _, tpl := range []string{"{BTC_klines_15m}(0)", "{BTC_klines_15m}(1501)", "{BTC_klines_15m}(-2)", "{BTC_klines_15m}(2.5)"} {
		_, err := r.Render(tpl)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, tpl)
		assert.True(t, errors.Is(err, ErrTemplate))
	}
	_, err := r.Render("{BTC_klines_15m}(1500)")
	var missing *MissingVariableError
	assert.ErrorAs(t, err, &missing)
}

func TestRender_StrictAndPreview(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterValue("total_equity", "1000.00")
	tpl := "Equity ${total_equity} {unknown_thing} {unknown_thing} {\"json\": 1}"

	_, err := NewRenderer(reg, RenderOptions{Strict: true}).Render(tpl)
	var missing *MissingVariableError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"unknown_thing"}, missing.Names)
	assert.ErrorIs(t, err, ErrTemplate)

	out, err := NewRenderer(reg, RenderOptions{}).Render(tpl)
	require.NoError(t, err)
	assert.Equal(t, "Equity $1000.00 {unknown_thing} {unknown_thing} {\"json\": 1}", out)

	_, unresolved, err := NewRenderer(reg, RenderOptions{Strict: true}).Preview(tpl)
	require.NoError(t, err)
	assert.Equal(t, []string{"unknown_thing"}, unresolved)
}

func TestRender_ValuesAreNotRescanned(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterValue("a", "{b}")
	reg.RegisterValue("b", "B")
	out, err := NewRenderer(reg, RenderOptions{Strict: true}).Render("{a}{b}")
	require.NoError(t, err)
	assert.Equal(t, "{b}B", out)
}

func TestRender_ResolverError(t *testing.T) {
	reg := NewRegistry()
	reg.Register("boom", func(string, string, int) (string, error) { return "", errors.New("upstream") })
	_, err := NewRenderer(reg, RenderOptions{}).Render("{boom}")
	var rerr *ResolveError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, ErrTemplate)
}

func TestParse_LiteralParens(t *testing.T) {
	phs, err := Parse("{max_leverage}(x) and {symbol} (3)", 0)
	require.NoError(t, err)
	require.Len(t, phs, 2)
	assert.False(t, phs[0].HasCount)
	assert.False(t, phs[1].HasCount)
}

func TestRequirements(t *testing.T) {
	reqs, err := Requirements("{BTC_klines_15m}(3) {btc_klines_15m}(20) {ETH_klines_1h} {BTC_market_data}", 100, 0)
	require.NoError(t, err)
	assert.Equal(t, []SeriesRequirement{
		{Symbol: "BTC", Period: "15m", Count: 20},
		{Symbol: "ETH", Period: "1h", Count: 100},
	}, reqs)
}

func TestStandardRegistry_Klines(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	var candles []market.Candle
	for i := 0; i < 10; i++ {
		candles = append(candles, market.Candle{OpenTime: base + int64(i)*900_000, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10})
	}
	cls := regime.NewClassifier("BTC", 0).Classify([]float64{1})
	in := Inputs{
		Now:     time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC),
		Account: market.AccountState{Equity: 1000, AvailableBalance: 800, UsedMargin: 200, MaxLeverage: 20, DefaultLeverage: 3},
		Symbols: []string{"BTC", "ETH"},
		Snapshot: market.Snapshot{Symbols: map[string]market.SymbolSnapshot{
			"BTC": {Symbol: "BTC", Price: 97000, Change24hPct: 1.2, Candles: map[string][]market.Candle{"15m": candles},
				Indicators: map[string]float64{"RSI14_15m": 55.5}},
		}},
		Regime: cls,
	}
	r := NewRenderer(BuildStandardRegistry(in), RenderOptions{Strict: true})
	out, err := r.Render("{BTC_klines_15m}(3)|{max_leverage}|{margin_usage_percent}|{BTC_RSI14_15m}|{selected_symbols_csv}")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "] O:"))
	assert.Contains(t, out, "|5|20.00|55.5|BTC, ETH")

	_, err = r.Render("{ETH_klines_15m}")
	var missing *MissingVariableError
	assert.ErrorAs(t, err, &missing)
}

func TestBuiltinTemplatesRenderStrict(t *testing.T) {
	cat, err := NewCatalog("", "")
	require.NoError(t, err)
	r := NewRenderer(BuildStandardRegistry(Inputs{Now: time.Now(), Symbols: []string{"BTC"}}), RenderOptions{Strict: true})
	for _, tpl := range cat.List() {
		_, err := r.Render(tpl.Text)
		assert.NoError(t, err, tpl.Key)
	}
}

func TestCatalog_FileOverrideBindRestore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")
	content := `templates:
  - key: Default
    name: Custom
    text: "custom {output_format}"
  - key: scalp
    text: "{BTC_klines_1m}(30)"
bindings:
  acct-a: scalp
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	cat, err := NewCatalog(path, "default")
	require.NoError(t, err)

	tpl, ok := cat.Get("default")
	require.True(t, ok)
	assert.Equal(t, "custom {output_format}", tpl.Text)
	assert.False(t, tpl.Builtin)
	assert.Equal(t, "scalp", cat.ForAccount("acct-a").Key)
	assert.Equal(t, "default", cat.ForAccount("acct-b").Key)

	restored, err := cat.Restore("default")
	require.NoError(t, err)
	assert.True(t, restored.Builtin)
	assert.Error(t, cat.Bind("acct-b", "missing"))
	require.NoError(t, cat.Bind("acct-b", "pro"))
	assert.Equal(t, "pro", cat.ForAccount("acct-b").Key)

	reqs, err := cat.ForAccount("acct-a").Requirements(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []SeriesRequirement{{Symbol: "BTC", Period: "1m", Count: 30}}, reqs)
}

func TestCatalog_UnknownFieldRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("templates: []\nextra: 1\n"), 0o644))
	_, err := NewCatalog(path, "")
	assert.Error(t, err)
}
