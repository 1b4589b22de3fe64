package decision

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"arena/internal/flipflop"
	"arena/internal/logger"
	"arena/internal/market"
	"arena/internal/pkg/symbol"
	"arena/internal/pkg/text"
	"arena/internal/regime"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Config 是风控阈值，零值字段使用默认值。
type Config struct {
	PriceBandPct     float64
	MaxMarginUsage   float64
	FlipFlopCooldown time.Duration
	MaxReversals     int
	ReversalWindow   time.Duration
}

func DefaultConfig() Config {
	return Config{
		PriceBandPct:     0.01,
		MaxMarginUsage:   0.70,
		FlipFlopCooldown: 60 * time.Minute,
		MaxReversals:     2,
		ReversalWindow:   24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PriceBandPct <= 0 {
		c.PriceBandPct = def.PriceBandPct
	}
	if c.MaxMarginUsage <= 0 {
		c.MaxMarginUsage = def.MaxMarginUsage
	}
	if c.FlipFlopCooldown <= 0 {
		c.FlipFlopCooldown = def.FlipFlopCooldown
	}
	if c.MaxReversals <= 0 {
		c.MaxReversals = def.MaxReversals
	}
	if c.ReversalWindow <= 0 {
		c.ReversalWindow = def.ReversalWindow
	}
	return c
}

// Input 是一次校验所需的全部只读数据。Symbols 按优先级从高到低排列。
type Input struct {
	Entries   []json.RawMessage
	Symbols   []string
	Snapshot  market.Snapshot
	Account   market.AccountState
	Positions []market.Position
	Regime    regime.Classification
	Guard     flipflop.Snapshot
	Now       time.Time
}

// Validator 不返回错误：无法处理的条目一律降级为 hold 并记录诊断。
type Validator struct {
	cfg Config
}

func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg.withDefaults()}
}

func (v *Validator) Config() Config { return v.cfg }

type pass struct {
	in        Input
	now       time.Time
	positions map[string]market.Position
	levCap    int
}

// Validate 按 schema、覆盖、价格带、杠杆、仓位、反手、止盈止损逐条检查，最后做总保证金约束。
func (v *Validator) Validate(in Input) Report {
	symbols := symbol.NormalizeList(in.Symbols)
	index := make(map[string]int, len(symbols))
	for i, s := range symbols {
		index[s] = i
	}
	p := pass{in: in, now: in.Now, levCap: in.Regime.EffectiveLeverageCap(in.Account.MaxLeverage)}
	if p.now.IsZero() {
		p.now = time.Now()
	}
	p.positions = make(map[string]market.Position, len(in.Positions))
	for _, pos := range in.Positions {
		coin := symbol.Coin(pos.Symbol)
		if _, ok := p.positions[coin]; coin != "" && !ok {
			p.positions[coin] = pos
		}
	}

	slots := make([]*ValidationResult, len(symbols))
	var dropped []Diagnostic
	for i, raw := range in.Entries {
		node := gjson.ParseBytes(raw)
		coin := symbol.Coin(node.Get("symbol").String())
		if !node.IsObject() || coin == "" {
			dropped = append(dropped, Diagnostic{Rule: RuleSchema, Original: text.Truncate(string(raw), 200), Final: "dropped",
				Severity: SeverityRejection, Message: fmt.Sprintf("entry %d has no symbol", i)})
			continue
		}
		pos, ok := index[coin]
		if !ok {
			dropped = append(dropped, Diagnostic{Rule: RuleUnmonitored, Symbol: coin, Original: text.Truncate(string(raw), 200),
				Final: "dropped", Severity: SeverityRejection, Message: "symbol is not monitored by this account"})
			continue
		}
		if slots[pos] != nil {
			dropped = append(dropped, Diagnostic{Rule: RuleDuplicate, Symbol: coin, Original: text.Truncate(string(raw), 200),
				Final: "dropped", Severity: SeverityRejection, Message: "first entry for the symbol wins"})
			continue
		}
		res := v.checkEntry(&p, coin, raw)
		slots[pos] = &res
	}
	for i, sym := range symbols {
		if slots[i] != nil {
			continue
		}
		slots[i] = &ValidationResult{
			Decision: Hold(sym, "no decision from model"),
			Diagnostics: []Diagnostic{{Rule: RuleCoverage, Symbol: sym, Original: "missing", Final: string(OpHold),
				Severity: SeverityWarning, Message: "synthesized hold for monitored symbol"}},
		}
	}

	v.applyMarginCap(&p, slots)

	report := Report{Results: make([]ValidationResult, len(slots)), Dropped: dropped}
	for i, res := range slots {
		report.Results[i] = *res
	}
	for _, d := range report.Diagnostics() {
		logger.Debugf("decision diagnostic rule=%s symbol=%s %s -> %s severity=%s %s",
			d.Rule, d.Symbol, d.Original, d.Final, d.Severity, d.Message)
	}
	return report
}

func (v *Validator) checkEntry(p *pass, coin string, raw json.RawMessage) ValidationResult {
	res := ValidationResult{}
	_, entry, err := schemas()
	if err == nil {
		var doc any
		if err = json.Unmarshal(raw, &doc); err == nil {
			if verr := entry.Validate(doc); verr != nil {
				err = fmt.Errorf("%s", schemaMessage(verr))
			}
		}
	}
	if err != nil {
		res.Decision = Hold(coin, RuleSchema)
		res.Diagnostics = append(res.Diagnostics, Diagnostic{Rule: RuleSchema, Symbol: coin,
			Original: text.Truncate(string(raw), 200), Final: string(OpHold), Severity: SeverityRejection, Message: err.Error()})
		return res
	}

	d := decodeDecision(raw)
	d.Symbol = coin
	original := d
	res.Decision = d

	if d.Operation == OpHold {
		return holdEntry(res, d)
	}

	px, ok := p.in.Snapshot.Price(coin)
	if !ok {
		return rejected(res, original, RuleNoMarketPrice, "no market price in snapshot")
	}

	var dir flipflop.Direction
	switch d.Operation {
	case OpClose:
		pos, ok := p.positions[coin]
		if !ok || pos.Size == 0 {
			return rejected(res, original, RuleNoPosition, "close without an open position")
		}
		if pos.Side == market.SideShort {
			if d.MaxPrice == nil {
				return rejected(res, original, RuleSchema, "close of a short requires max_price")
			}
			v.clampCeil(&res, &res.Decision.MaxPrice, "max_price", px)
		} else {
			if d.MinPrice == nil {
				return rejected(res, original, RuleSchema, "close of a long requires min_price")
			}
			v.clampFloor(&res, &res.Decision.MinPrice, "min_price", px)
		}
	case OpBuy:
		if p.in.Regime.ForbidsBuy() {
			return rejected(res, original, RuleRegimeBias, fmt.Sprintf("%s regime allows no new longs", p.in.Regime.Label))
		}
		if p.in.Regime.ForbidsLong(coin) {
			return rejected(res, original, RuleCorrelation, fmt.Sprintf("%s 24h change %.2f%% below %.1f%%",
				p.in.Regime.Benchmark, p.in.Regime.BenchmarkChange, p.in.Regime.CrashThreshold))
		}
		v.clampCeil(&res, &res.Decision.MaxPrice, "max_price", px)
		dir = flipflop.Long
	case OpSell:
		v.clampFloor(&res, &res.Decision.MinPrice, "min_price", px)
		dir = flipflop.Short
	}

	v.clampLeverage(&res, p.levCap)
	allocCap := 1.0
	if d.Operation.Opens() {
		allocCap = p.in.Regime.AllocationCap
	}
	v.clampPortion(&res, allocCap)

	if !d.Operation.Opens() {
		return res
	}
	if st, ok := p.in.Guard.Get(coin); ok && st.LastDirection.Opposite(dir) {
		elapsed := p.now.Sub(st.LastTradeAt)
		count := st.ReversalsSince(p.now.Add(-v.cfg.ReversalWindow))
		if elapsed < v.cfg.FlipFlopCooldown || count >= v.cfg.MaxReversals {
			return rejected(res, original, RuleFlipFlop, fmt.Sprintf("last %s %s ago, %d reversals in window (cooldown %s, cap %d)",
				st.LastDirection, elapsed.Truncate(time.Second), count, v.cfg.FlipFlopCooldown, v.cfg.MaxReversals))
		}
	}
	if msg := bracketProblem(res.Decision, px); msg != "" {
		return rejected(res, original, RuleRiskControls, msg)
	}
	return res
}

// impliedFill 取限价（已裁剪），缺省时用市价。
func impliedFill(d Decision, px float64) float64 {
	switch d.Operation {
	case OpBuy:
		if d.MaxPrice != nil {
			return *d.MaxPrice
		}
	case OpSell:
		if d.MinPrice != nil {
			return *d.MinPrice
		}
	}
	return px
}

func bracketProblem(d Decision, px float64) string {
	if d.TakeProfitPrice == nil || d.StopLossPrice == nil {
		return "take_profit_price and stop_loss_price are required for new positions"
	}
	fill := impliedFill(d, px)
	tp, sl := *d.TakeProfitPrice, *d.StopLossPrice
	if d.Operation == OpBuy && !(sl < fill && fill < tp) {
		return fmt.Sprintf("long needs stop_loss < fill < take_profit (sl=%s fill=%s tp=%s)", fmtNum(sl), fmtNum(fill), fmtNum(tp))
	}
	if d.Operation == OpSell && !(tp < fill && fill < sl) {
		return fmt.Sprintf("short needs take_profit < fill < stop_loss (tp=%s fill=%s sl=%s)", fmtNum(tp), fmtNum(fill), fmtNum(sl))
	}
	return ""
}

func (v *Validator) clampCeil(res *ValidationResult, field **float64, name string, px float64) {
	if *field == nil {
		return
	}
	limit := decimal.NewFromFloat(px).Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(v.cfg.PriceBandPct)))
	if decimal.NewFromFloat(**field).GreaterThan(limit) {
		orig := **field
		*field = ptr(limit.InexactFloat64())
		res.Diagnostics = append(res.Diagnostics, Diagnostic{Rule: RulePriceBand, Symbol: res.Decision.Symbol, Field: name,
			Original: fmtNum(orig), Final: fmtNum(**field), Severity: SeverityWarning,
			Message: fmt.Sprintf("clamped to market %s + %s%%", fmtNum(px), fmtNum(v.cfg.PriceBandPct*100))})
	}
}

func (v *Validator) clampFloor(res *ValidationResult, field **float64, name string, px float64) {
	if *field == nil {
		return
	}
	limit := decimal.NewFromFloat(px).Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(v.cfg.PriceBandPct)))
	if decimal.NewFromFloat(**field).LessThan(limit) {
		orig := **field
		*field = ptr(limit.InexactFloat64())
		res.Diagnostics = append(res.Diagnostics, Diagnostic{Rule: RulePriceBand, Symbol: res.Decision.Symbol, Field: name,
			Original: fmtNum(orig), Final: fmtNum(**field), Severity: SeverityWarning,
			Message: fmt.Sprintf("clamped to market %s - %s%%", fmtNum(px), fmtNum(v.cfg.PriceBandPct*100))})
	}
}

func (v *Validator) clampLeverage(res *ValidationResult, maxLev int) {
	lev := res.Decision.Leverage
	final := lev
	if final < 1 {
		final = 1
	}
	if final > maxLev {
		final = maxLev
	}
	if final == lev {
		return
	}
	res.Decision.Leverage = final
	res.Diagnostics = append(res.Diagnostics, Diagnostic{Rule: RuleLeverage, Symbol: res.Decision.Symbol, Field: "leverage",
		Original: strconv.Itoa(lev), Final: strconv.Itoa(final), Severity: SeverityWarning,
		Message: fmt.Sprintf("allowed range [1, %d]", maxLev)})
}

func (v *Validator) clampPortion(res *ValidationResult, maxPortion float64) {
	orig := res.Decision.TargetPortion
	final := orig
	if final < 0 {
		final = 0
	}
	if final > maxPortion {
		final = maxPortion
	}
	if final == orig {
		return
	}
	res.Decision.TargetPortion = final
	res.Diagnostics = append(res.Diagnostics, Diagnostic{Rule: RuleAllocation, Symbol: res.Decision.Symbol, Field: "target_portion_of_balance",
		Original: fmtNum(orig), Final: fmtNum(final), Severity: SeverityWarning,
		Message: fmt.Sprintf("allowed range [0, %s]", fmtNum(maxPortion))})
}

// applyMarginCap 预估执行后的保证金占用，超过上限时从最低优先级开始把开仓降级为 hold。
func (v *Validator) applyMarginCap(p *pass, slots []*ValidationResult) {
	equity := decimal.NewFromFloat(p.in.Account.Equity)
	avail := decimal.NewFromFloat(p.in.Account.AvailableBalance)
	usage := decimal.NewFromFloat(p.in.Account.UsedMargin)
	hasOpen := false
	for _, res := range slots {
		d := res.Decision
		switch {
		case d.Operation.Opens():
			hasOpen = true
			usage = usage.Add(decimal.NewFromFloat(d.TargetPortion).Mul(avail))
		case d.Operation == OpClose:
			pos := p.positions[d.Symbol]
			frac := d.TargetPortion
			if frac <= 0 {
				frac = 1
			}
			usage = usage.Sub(decimal.NewFromFloat(pos.Margin()).Mul(decimal.NewFromFloat(frac)))
		}
	}
	if !hasOpen {
		return
	}
	if usage.IsNegative() {
		usage = decimal.Zero
	}
	limit := equity.Mul(decimal.NewFromFloat(v.cfg.MaxMarginUsage))
	for i := len(slots) - 1; i >= 0 && (usage.GreaterThan(limit) || !equity.IsPositive()); i-- {
		d := slots[i].Decision
		if !d.Operation.Opens() {
			continue
		}
		before := usage
		usage = usage.Sub(decimal.NewFromFloat(d.TargetPortion).Mul(avail))
		*slots[i] = rejected(*slots[i], d, RuleAggregateMargin, fmt.Sprintf("projected margin usage %s > cap %s%%; after demotion %s",
			pctOf(before, equity), fmtNum(v.cfg.MaxMarginUsage*100), pctOf(usage, equity)))
	}
}

func pctOf(v, equity decimal.Decimal) string {
	if !equity.IsPositive() {
		return "n/a"
	}
	return v.Div(equity).Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

// holdEntry 只保留 hold 的说明字段，数值归零；有字段被丢弃时记一条 warning。
func holdEntry(res ValidationResult, d Decision) ValidationResult {
	hold := Hold(d.Symbol, d.Reason)
	hold.TimeInForce = d.TimeInForce
	hold.TradingStrategy = d.TradingStrategy
	res.Decision = hold

	var dropped []string
	if d.TargetPortion != 0 {
		dropped = append(dropped, "target_portion_of_balance="+fmtNum(d.TargetPortion))
	}
	if d.Leverage != 1 {
		dropped = append(dropped, "leverage="+strconv.Itoa(d.Leverage))
	}
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"max_price", d.MaxPrice}, {"min_price", d.MinPrice},
		{"take_profit_price", d.TakeProfitPrice}, {"stop_loss_price", d.StopLossPrice},
	} {
		if f.v != nil {
			dropped = append(dropped, f.name+"="+fmtNum(*f.v))
		}
	}
	if len(dropped) > 0 {
		res.Diagnostics = append(res.Diagnostics, Diagnostic{Rule: RuleHoldFields, Symbol: d.Symbol,
			Original: strings.Join(dropped, " "), Final: hold.Brief(), Severity: SeverityWarning,
			Message: "hold carries no size, leverage or prices"})
	}
	return res
}

// rejected 把条目降级为 hold(rule)，保留已有诊断。
func rejected(res ValidationResult, original Decision, rule, msg string) ValidationResult {
	hold := Hold(original.Symbol, rule)
	if original.TimeInForce != "" {
		hold.TimeInForce = original.TimeInForce
	}
	res.Decision = hold
	res.Diagnostics = append(res.Diagnostics, Diagnostic{Rule: rule, Symbol: original.Symbol, Original: original.Brief(),
		Final: string(OpHold), Severity: SeverityRejection, Message: msg})
	return res
}

func decodeDecision(raw json.RawMessage) Decision {
	r := gjson.ParseBytes(raw)
	return Decision{
		Operation:       Operation(r.Get("operation").String()),
		Symbol:          r.Get("symbol").String(),
		TargetPortion:   r.Get("target_portion_of_balance").Float(),
		Leverage:        int(r.Get("leverage").Int()),
		MaxPrice:        optFloat(r.Get("max_price")),
		MinPrice:        optFloat(r.Get("min_price")),
		TimeInForce:     TimeInForce(r.Get("time_in_force").String()),
		TakeProfitPrice: optFloat(r.Get("take_profit_price")),
		StopLossPrice:   optFloat(r.Get("stop_loss_price")),
		Reason:          r.Get("reason").String(),
		TradingStrategy: r.Get("trading_strategy").String(),
	}
}

func optFloat(v gjson.Result) *float64 {
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	return ptr(v.Float())
}

func fmtNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
