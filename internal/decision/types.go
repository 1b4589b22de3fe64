package decision

import (
	"strconv"
	"strings"
)

type Operation string

const (
	OpBuy   Operation = "buy"
	OpSell  Operation = "sell"
	OpHold  Operation = "hold"
	OpClose Operation = "close"
)

// Opens reports whether the operation adds new exposure.
func (o Operation) Opens() bool { return o == OpBuy || o == OpSell }

type TimeInForce string

const (
	TIFIoc TimeInForce = "Ioc"
	TIFGtc TimeInForce = "Gtc"
	TIFAlo TimeInForce = "Alo"
)

// Decision 对应模型输出 decisions 数组中的一项；可选价格字段为 nil 表示缺省。
type Decision struct {
	Operation       Operation   `json:"operation"`
	Symbol          string      `json:"symbol"`
	TargetPortion   float64     `json:"target_portion_of_balance"`
	Leverage        int         `json:"leverage"`
	MaxPrice        *float64    `json:"max_price,omitempty"`
	MinPrice        *float64    `json:"min_price,omitempty"`
	TimeInForce     TimeInForce `json:"time_in_force"`
	TakeProfitPrice *float64    `json:"take_profit_price,omitempty"`
	StopLossPrice   *float64    `json:"stop_loss_price,omitempty"`
	Reason          string      `json:"reason"`
	TradingStrategy string      `json:"trading_strategy"`
}

// Hold 构造一个不动作的决策。
func Hold(symbol, reason string) Decision {
	return Decision{
		Operation:   OpHold,
		Symbol:      symbol,
		Leverage:    1,
		TimeInForce: TIFIoc,
		Reason:      reason,
	}
}

// Brief is a one-line rendering for logs and notifications.
func (d Decision) Brief() string {
	var b strings.Builder
	b.WriteString(string(d.Operation))
	b.WriteByte(' ')
	b.WriteString(d.Symbol)
	if d.Operation == OpHold {
		if d.Reason != "" {
			b.WriteString(" (" + d.Reason + ")")
		}
		return b.String()
	}
	b.WriteString(" portion=" + strconv.FormatFloat(d.TargetPortion, 'f', -1, 64))
	b.WriteString(" lev=" + strconv.Itoa(d.Leverage))
	writePrice(&b, "max", d.MaxPrice)
	writePrice(&b, "min", d.MinPrice)
	writePrice(&b, "tp", d.TakeProfitPrice)
	writePrice(&b, "sl", d.StopLossPrice)
	return b.String()
}

func writePrice(b *strings.Builder, label string, v *float64) {
	if v == nil {
		return
	}
	b.WriteString(" " + label + "=" + strconv.FormatFloat(*v, 'f', -1, 64))
}

func ptr(v float64) *float64 { return &v }

type Severity string

const (
	SeverityWarning   Severity = "warning"
	SeverityRejection Severity = "rejection"
)

// 诊断规则名；被拒绝的条目以规则名作为 hold 原因。
const (
	RuleSchema          = "schema"
	RuleCoverage        = "coverage"
	RuleDuplicate       = "duplicate"
	RuleUnmonitored     = "unmonitored"
	RuleNoMarketPrice   = "no-market-price"
	RuleNoPosition      = "no-position"
	RuleRegimeBias      = "regime-bias"
	RuleCorrelation     = "correlation-guard"
	RulePriceBand       = "price-band"
	RuleLeverage        = "leverage"
	RuleAllocation      = "allocation"
	RuleAggregateMargin = "aggregate-margin"
	RuleFlipFlop        = "flip-flop-cooldown"
	RuleRiskControls    = "missing-risk-controls"
	RuleNoDecisions     = "no-usable-decisions"
	RuleHoldFields      = "hold-fields"
)

// Diagnostic 记录一次修正或拒绝，供审计回放。
type Diagnostic struct {
	Rule     string   `json:"rule"`
	Symbol   string   `json:"symbol"`
	Field    string   `json:"field,omitempty"`
	Original string   `json:"original_value"`
	Final    string   `json:"final_value"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message,omitempty"`
}

// ValidationResult 是单个 symbol 的最终决策及其诊断。
type ValidationResult struct {
	Decision    Decision     `json:"decision"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// Rejected reports whether any diagnostic forced the entry to hold.
func (r ValidationResult) Rejected() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityRejection {
			return true
		}
	}
	return false
}

// Report 覆盖每个监控 symbol 恰好一次，按配置优先级排列。
type Report struct {
	Results []ValidationResult `json:"results"`
	Dropped []Diagnostic       `json:"dropped,omitempty"`
}

func (r Report) Decisions() []Decision {
	out := make([]Decision, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.Decision
	}
	return out
}

// Diagnostics flattens every per-entry and dropped diagnostic.
func (r Report) Diagnostics() []Diagnostic {
	out := append([]Diagnostic(nil), r.Dropped...)
	for _, res := range r.Results {
		out = append(out, res.Diagnostics...)
	}
	return out
}

// Actionable returns the non-hold decisions.
func (r Report) Actionable() []Decision {
	var out []Decision
	for _, res := range r.Results {
		if res.Decision.Operation != OpHold {
			out = append(out, res.Decision)
		}
	}
	return out
}

// AllHold 为每个监控 symbol 生成 hold，用于模型输出不可用时的兜底。
func AllHold(symbols []string, reason string) Report {
	if reason == "" {
		reason = RuleNoDecisions
	}
	out := Report{Results: make([]ValidationResult, 0, len(symbols))}
	for _, sym := range symbols {
		out.Results = append(out.Results, ValidationResult{
			Decision: Hold(sym, reason),
			Diagnostics: []Diagnostic{{
				Rule: RuleNoDecisions, Symbol: sym, Original: "-", Final: string(OpHold),
				Severity: SeverityRejection, Message: reason,
			}},
		})
	}
	return out
}
