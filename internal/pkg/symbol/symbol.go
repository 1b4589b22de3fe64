package symbol

import (
	"strings"
)

// DefaultQuote 是 U 本位合约的计价币。
const DefaultQuote = "USDT"

var knownQuotes = []string{"USDT", "USDC", "BUSD", "TUSD", "USD"}

// split 拆出基础币与计价币，识别 BTC/USDT、BTC-USDT、BTC_USDT、BTCUSDT、
// BTC-PERP、BTC/USDT:USDT；纯币名的计价币为空。
func split(s string) (base, quote string) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s, _, _ = strings.Cut(s, ":")
	s = strings.TrimSuffix(strings.TrimSuffix(s, "-PERP"), "PERP")
	if i := strings.IndexAny(s, "/-_"); i >= 0 {
		return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
	}
	for _, q := range knownQuotes {
		if b, ok := strings.CutSuffix(s, q); ok && b != "" {
			return b, q
		}
	}
	return s, ""
}

// Coin 返回基础币名，如 "btcusdt" -> "BTC"。
func Coin(s string) string {
	base, _ := split(s)
	return base
}

// NormalizeList 转成去重后的币名列表，保持原顺序。
func NormalizeList(symbols []string) []string {
	var out []string
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if coin := Coin(s); coin != "" && !seen[coin] {
			seen[coin] = true
			out = append(out, coin)
		}
	}
	return out
}

// Exchange 在币名与交易所合约代码之间转换（BTC <-> BTCUSDT）。
type Exchange struct {
	Quote string
}

var Binance = Exchange{Quote: DefaultQuote}

func (e Exchange) ToExchange(coin string) string {
	base, quote := split(coin)
	if base == "" {
		return ""
	}
	if quote == "" {
		quote = strings.ToUpper(strings.TrimSpace(e.Quote))
	}
	if quote == "" {
		quote = DefaultQuote
	}
	return base + quote
}

func (Exchange) FromExchange(raw string) string {
	return Coin(raw)
}
