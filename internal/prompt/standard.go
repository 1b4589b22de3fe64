package prompt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"arena/internal/market"
	"arena/internal/regime"
)

// Inputs 是单个账户单轮决策的只读数据快照，标准变量全部由它派生。
type Inputs struct {
	Now            time.Time
	StartedAt      time.Time
	Environment    string
	InitialCapital float64

	Account   market.AccountState
	Positions []market.Position
	Trades    []market.TradeRecord
	Symbols   []string
	Snapshot  market.Snapshot
	News      string
	Regime    regime.Classification
	History   map[string][]float64

	OutputFormat string
}

// BuildStandardRegistry 注册全部标准变量与符号作用域模式。
func BuildStandardRegistry(in Inputs) *Registry {
	reg := NewRegistry()
	env := strings.ToUpper(strings.TrimSpace(in.Environment))
	if env == "" {
		env = "PAPER"
	}
	now := in.Now.UTC()
	acct := in.Account
	usage := acct.MarginUsage() * 100

	reg.RegisterValue("environment", env)
	reg.RegisterValue("trading_environment", tradingEnvironment(env))
	reg.RegisterValue("real_trading_warning", realTradingWarning(env))
	reg.RegisterValue("current_time_utc", now.Format("2006-01-02 15:04:05")+" UTC")
	reg.RegisterValue("runtime_minutes", strconv.Itoa(runtimeMinutes(in.StartedAt, now)))
	reg.RegisterValue("total_equity", money(acct.Equity))
	reg.RegisterValue("total_account_value", money(acct.Equity))
	reg.RegisterValue("available_balance", money(acct.AvailableBalance))
	reg.RegisterValue("available_cash", money(acct.AvailableBalance))
	reg.RegisterValue("used_margin", money(acct.UsedMargin))
	reg.RegisterValue("margin_usage_percent", fmt.Sprintf("%.2f", usage))
	reg.RegisterValue("maintenance_margin", money(acct.MaintenanceMargin))
	reg.RegisterValue("margin_info", fmt.Sprintf("Used Margin: $%s (%.2f%% of equity)", money(acct.UsedMargin), usage))
	reg.RegisterValue("total_return_percent", fmt.Sprintf("%.2f", totalReturn(in.InitialCapital, acct.Equity)))
	reg.RegisterValue("max_leverage", strconv.Itoa(in.Regime.EffectiveLeverageCap(acct.MaxLeverage)))
	reg.RegisterValue("default_leverage", strconv.Itoa(max(acct.DefaultLeverage, 1)))
	reg.RegisterValue("positions_detail", formatPositions(in.Positions))
	reg.RegisterValue("holdings_detail", formatPositions(in.Positions))
	reg.RegisterValue("recent_trades_summary", formatTrades(in.Trades, now))
	reg.RegisterValue("selected_symbols_count", strconv.Itoa(len(in.Symbols)))
	reg.RegisterValue("selected_symbols_detail", formatSymbolsDetail(in.Symbols, in.Snapshot))
	reg.RegisterValue("selected_symbols_csv", strings.Join(in.Symbols, ", "))
	reg.RegisterValue("market_prices", formatMarketPrices(in.Symbols, in.Snapshot))
	reg.RegisterValue("sampling_data", formatSampling(in.Symbols, in.History))
	reg.RegisterValue("news_section", newsSection(in.News))
	reg.RegisterValue("regime_summary", in.Regime.Summary())
	reg.RegisterValue("operational_constraints", operationalConstraints())
	reg.RegisterValue("leverage_constraints", leverageConstraints(in.Regime, acct.MaxLeverage))
	out := in.OutputFormat
	if strings.TrimSpace(out) == "" {
		out = OutputFormat
	}
	reg.RegisterValue("output_format", out)

	for _, sym := range in.Symbols {
		snap, ok := in.Snapshot.Get(sym)
		if !ok {
			continue
		}
		for name, val := range snap.Indicators {
			reg.RegisterValue(market.NormalizeSymbol(sym)+"_"+name, formatIndicator(val))
		}
	}

	snapshot := in.Snapshot
	_ = reg.RegisterPattern("<SYMBOL>_market_data", func(symbol, _ string, _ int) (string, error) {
		snap, ok := snapshot.Get(symbol)
		if !ok {
			return "", ErrUnresolved
		}
		return formatSymbolMarketData(snap), nil
	})
	_ = reg.RegisterPattern("<SYMBOL>_klines_<PERIOD>", func(symbol, period string, count int) (string, error) {
		candles := snapshot.CandlesFor(symbol, period)
		if len(candles) == 0 {
			return "", ErrUnresolved
		}
		return market.Candles(candles).Tail(count).Summary(), nil
	})
	return reg
}

func tradingEnvironment(env string) string {
	switch env {
	case "MAINNET", "LIVE":
		return "Environment: MAINNET (real funds)"
	case "TESTNET":
		return "Environment: TESTNET (test funds)"
	default:
		return "Environment: " + env + " (simulated fills)"
	}
}

func realTradingWarning(env string) string {
	if env == "MAINNET" || env == "LIVE" {
		return "WARNING: orders on this account move real money."
	}
	return ""
}

func runtimeMinutes(start, now time.Time) int {
	if start.IsZero() || now.Before(start) {
		return 0
	}
	return int(now.Sub(start).Minutes())
}

func totalReturn(initial, equity float64) float64 {
	if initial <= 0 {
		return 0
	}
	return (equity - initial) / initial * 100
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatIndicator(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatPositions(positions []market.Position) string {
	if len(positions) == 0 {
		return "No open positions."
	}
	lines := make([]string, 0, len(positions))
	for _, p := range positions {
		lines = append(lines, fmt.Sprintf("%s %s size:%s | entry:%s | lev:%dx | liq:%s | unrealized_pnl:%s",
			market.NormalizeSymbol(p.Symbol), strings.ToUpper(p.Side), formatIndicator(p.Size),
			money(p.EntryPrice), max(p.Leverage, 1), money(p.LiquidationPrice), money(p.UnrealizedPnL)))
	}
	return strings.Join(lines, "\n")
}

func formatTrades(trades []market.TradeRecord, now time.Time) string {
	if len(trades) == 0 {
		return "No recent trades."
	}
	lines := make([]string, 0, len(trades))
	for _, t := range trades {
		ago := "unknown"
		if !t.ClosedAt.IsZero() {
			ago = fmt.Sprintf("%dm ago", int(now.Sub(t.ClosedAt).Minutes()))
		}
		lines = append(lines, fmt.Sprintf("%s %s pnl:%s held:%s closed:%s",
			market.NormalizeSymbol(t.Symbol), strings.ToUpper(t.Side), money(t.RealizedPnL),
			t.Holding.Round(time.Minute), ago))
	}
	return strings.Join(lines, "\n")
}

func formatSymbolsDetail(symbols []string, snap market.Snapshot) string {
	if len(symbols) == 0 {
		return "None"
	}
	lines := make([]string, 0, len(symbols))
	for i, sym := range symbols {
		line := fmt.Sprintf("%d. %s", i+1, sym)
		if s, ok := snap.Get(sym); ok {
			line += fmt.Sprintf(" | 24h %+.2f%% | funding %.4f%% | OI %s", s.Change24hPct, s.FundingRate*100, money(s.OpenInterest))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatMarketPrices(symbols []string, snap market.Snapshot) string {
	var lines []string
	for _, sym := range symbols {
		if px, ok := snap.Price(sym); ok {
			lines = append(lines, fmt.Sprintf("%s: $%s", sym, formatIndicator(px)))
		}
	}
	if len(lines) == 0 {
		return "No market prices available."
	}
	return strings.Join(lines, "\n")
}

func formatSampling(symbols []string, history map[string][]float64) string {
	if len(history) == 0 {
		return "No price history sampled yet."
	}
	ordered := append([]string(nil), symbols...)
	if len(ordered) == 0 {
		for sym := range history {
			ordered = append(ordered, sym)
		}
		sort.Strings(ordered)
	}
	var lines []string
	for _, sym := range ordered {
		pts := history[market.NormalizeSymbol(sym)]
		if len(pts) == 0 {
			continue
		}
		vals := make([]string, len(pts))
		for i, p := range pts {
			vals[i] = formatIndicator(p)
		}
		lines = append(lines, sym+": "+strings.Join(vals, ", "))
	}
	if len(lines) == 0 {
		return "No price history sampled yet."
	}
	return strings.Join(lines, "\n")
}

func formatSymbolMarketData(s market.SymbolSnapshot) string {
	return fmt.Sprintf("%s: price $%s | 24h %+.2f%% | volume %s | OI %s | funding %.4f%%",
		s.Symbol, formatIndicator(s.Price), s.Change24hPct, money(s.Volume24h), money(s.OpenInterest), s.FundingRate*100)
}

func newsSection(news string) string {
	if strings.TrimSpace(news) == "" {
		return "No news available."
	}
	return strings.TrimSpace(news)
}

func operationalConstraints() string {
	return strings.Join([]string{
		"- BUY/LONG: max_price <= market_price * 1.01",
		"- SELL/SHORT: min_price >= market_price * 0.99",
		"- CLOSE LONG: min_price >= market_price * 0.99",
		"- CLOSE SHORT: max_price <= market_price * 1.01",
		"- New positions must carry take_profit_price and stop_loss_price on the correct side of entry",
		"- Keep total margin usage below 70%",
	}, "\n")
}

func leverageConstraints(cls regime.Classification, accountMax int) string {
	return fmt.Sprintf("- Leverage between 1x and %dx under the %s regime\n- Allocation per position at most %.0f%% of balance",
		cls.EffectiveLeverageCap(accountMax), cls.Label, cls.AllocationCap*100)
}
