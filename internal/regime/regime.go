// Package regime classifies the broad market state from anchor 24h changes
// and exposes the risk parameters bound to each state.
package regime

import (
	"fmt"
	"math"
	"strings"
)

type Label string

const (
	Bullish Label = "BULLISH"
	Neutral Label = "NEUTRAL"
	Bearish Label = "BEARISH"
	Crash   Label = "CRASH"
)

type Bias string

const (
	BiasLong      Bias = "LONG-preferred"
	BiasNeutral   Bias = "neutral"
	BiasShortHold Bias = "SHORT/HOLD"
	BiasShortOnly Bias = "SHORT-only/HOLD"
)

// AccountMaxLeverage marks a leverage cap that defers to the account limit.
const AccountMaxLeverage = 0

// Band is one row of the regime table. A change falls into the band when
// Lower < change (or <= when LowerInclusive) and change < Upper (or <=).
type Band struct {
	Label          Label
	Lower          float64
	LowerInclusive bool
	Upper          float64
	UpperInclusive bool
	LeverageCap    int
	AllocationCap  float64
	StopMultiplier float64
	Bias           Bias
}

func (b Band) contains(avg float64) bool {
	if avg < b.Lower || (avg == b.Lower && !b.LowerInclusive) {
		return false
	}
	if avg > b.Upper || (avg == b.Upper && !b.UpperInclusive) {
		return false
	}
	return true
}

// Table is ordered from the most bullish band down.
var Table = []Band{
	{Label: Bullish, Lower: 3, Upper: math.Inf(1), UpperInclusive: true,
		LeverageCap: AccountMaxLeverage, AllocationCap: 0.50, StopMultiplier: 1.5, Bias: BiasLong},
	{Label: Neutral, Lower: -3, LowerInclusive: true, Upper: 3, UpperInclusive: true,
		LeverageCap: 5, AllocationCap: 0.30, StopMultiplier: 1.5, Bias: BiasNeutral},
	{Label: Bearish, Lower: -7, LowerInclusive: true, Upper: -3,
		LeverageCap: 3, AllocationCap: 0.20, StopMultiplier: 1.0, Bias: BiasShortHold},
	{Label: Crash, Lower: math.Inf(-1), LowerInclusive: true, Upper: -7,
		LeverageCap: 2, AllocationCap: 0.10, StopMultiplier: 0.75, Bias: BiasShortOnly},
}

// Classification is recomputed every cycle and never persisted.
type Classification struct {
	Label          Label   `json:"label"`
	AvgChange      float64 `json:"avg_change_24h"`
	LeverageCap    int     `json:"leverage_cap"`
	AllocationCap  float64 `json:"allocation_cap"`
	StopMultiplier float64 `json:"stop_loss_atr_multiplier"`
	Bias           Bias    `json:"directional_bias"`

	Benchmark       string  `json:"benchmark,omitempty"`
	BenchmarkChange float64 `json:"benchmark_change_24h"`
	BenchmarkKnown  bool    `json:"benchmark_known"`
	CrashThreshold  float64 `json:"benchmark_crash_pct"`
}

// EffectiveLeverageCap resolves the regime cap against the account maximum.
func (c Classification) EffectiveLeverageCap(accountMax int) int {
	if accountMax < 1 {
		accountMax = 1
	}
	if c.LeverageCap == AccountMaxLeverage || c.LeverageCap > accountMax {
		return accountMax
	}
	if c.LeverageCap < 1 {
		return 1
	}
	return c.LeverageCap
}

// ForbidsLong reports whether a new long on symbol is blocked by the
// benchmark correlation guard.
func (c Classification) ForbidsLong(symbol string) bool {
	if !c.BenchmarkKnown || c.Benchmark == "" {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(symbol), c.Benchmark) {
		return false
	}
	return c.BenchmarkChange < c.CrashThreshold
}

// ForbidsBuy reports whether the regime itself rules out opening longs.
func (c Classification) ForbidsBuy() bool {
	return c.Bias == BiasShortOnly
}

func (c Classification) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Regime: %s (avg 24h %+.2f%%)\n", c.Label, c.AvgChange)
	if c.LeverageCap == AccountMaxLeverage {
		b.WriteString("Leverage cap: account max\n")
	} else {
		fmt.Fprintf(&b, "Leverage cap: %dx\n", c.LeverageCap)
	}
	fmt.Fprintf(&b, "Allocation cap: %.0f%% of balance per position\n", c.AllocationCap*100)
	fmt.Fprintf(&b, "Stop-loss ATR multiplier: %.2f\n", c.StopMultiplier)
	fmt.Fprintf(&b, "Directional bias: %s", c.Bias)
	if c.BenchmarkKnown && c.Benchmark != "" {
		fmt.Fprintf(&b, "\n%s 24h change: %+.2f%%", c.Benchmark, c.BenchmarkChange)
		if c.BenchmarkChange < c.CrashThreshold {
			fmt.Fprintf(&b, " (below %.1f%%: no new longs on other symbols)", c.CrashThreshold)
		}
	}
	return b.String()
}
