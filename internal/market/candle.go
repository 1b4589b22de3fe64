package market

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Candle 是一根 K 线，时间为毫秒时间戳。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

type Candles []Candle

// TimeString 以 UTC 开盘时间渲染，格式 2006-01-02 15:04。
func (c Candle) TimeString() string {
	ts := c.OpenTime
	if ts <= 0 {
		ts = c.CloseTime
	}
	if ts <= 0 {
		return "N/A"
	}
	return time.UnixMilli(ts).UTC().Format("2006-01-02 15:04")
}

// ChangePct is the candle body change relative to its open.
func (c Candle) ChangePct() float64 {
	if c.Open <= 0 {
		return 0
	}
	return (c.Close - c.Open) / c.Open * 100
}

// Tail returns the last n candles (all when n <= 0 or n >= len).
func (cs Candles) Tail(n int) Candles {
	if n <= 0 || n >= len(cs) {
		return cs
	}
	return cs[len(cs)-n:]
}

// Lines 每根 K 线一行：[时间] O H L C (涨跌%) Vol。
func (cs Candles) Lines() []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		dir := "+"
		if c.Close < c.Open {
			dir = "-"
		}
		out = append(out, fmt.Sprintf("[%s] O:%.2f H:%.2f L:%.2f C:%.2f (%s%.2f%%) Vol:%s",
			c.TimeString(), c.Open, c.High, c.Low, c.Close, dir, math.Abs(c.ChangePct()), groupThousands(c.Volume)))
	}
	return out
}

// Summary 渲染完整 K 线块：标题、逐根明细，以及两根以上时的区间统计。
func (cs Candles) Summary() string {
	if len(cs) == 0 {
		return "No K-line data available."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Displaying last %d candles (oldest to newest):\n\n", len(cs))
	b.WriteString(strings.Join(cs.Lines(), "\n"))
	if len(cs) < 2 {
		return b.String()
	}
	first := cs[0].Close
	if first <= 0 {
		return b.String()
	}
	high, low, vol := -math.MaxFloat64, math.MaxFloat64, 0.0
	for _, c := range cs {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
		vol += c.Volume
	}
	change := (cs[len(cs)-1].Close - first) / first * 100
	b.WriteString("\n\n--- Period Summary ---\n")
	fmt.Fprintf(&b, "Period Change: %+.2f%%\n", change)
	fmt.Fprintf(&b, "High/Low Range: $%.2f - $%.2f\n", low, high)
	fmt.Fprintf(&b, "Total Volume: %s", groupThousands(vol))
	return b.String()
}

// groupThousands formats v rounded to an integer with comma separators.
func groupThousands(v float64) string {
	s := decimal.NewFromFloat(v).Round(0).String()
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
