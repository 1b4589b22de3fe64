package prompt

import (
	"strconv"
	"strings"
)

const (
	DefaultCount = 500
	MaxCount     = 1500
)

// Placeholder 是模板中的一个 {identifier} 或 {identifier}(count)。
type Placeholder struct {
	Raw      string
	Name     string
	Count    int
	HasCount bool
	Start    int
	End      int
}

// Parse 自左向右扫描模板，返回全部占位符。
// A parenthesised suffix directly after the closing brace is a count when it
// looks numeric; anything else stays literal text. maxCount <= 0 uses MaxCount.
func Parse(text string, maxCount int) ([]Placeholder, error) {
	if maxCount <= 0 {
		maxCount = MaxCount
	}
	var out []Placeholder
	i := 0
	for i < len(text) {
		if text[i] != '{' {
			i++
			continue
		}
		end := scanIdentifier(text, i+1)
		if end == i+1 || end >= len(text) || text[end] != '}' {
			i++
			continue
		}
		ph := Placeholder{Name: text[i+1 : end], Start: i, End: end + 1}
		if arg, argEnd, ok := countSuffix(text, end+1); ok {
			n, err := strconv.Atoi(arg)
			ph.End = argEnd
			ph.Raw = text[ph.Start:ph.End]
			switch {
			case err != nil:
				return nil, &ValidationError{Placeholder: ph.Raw, Offset: ph.Start, Reason: "count must be an integer"}
			case n < 1:
				return nil, &ValidationError{Placeholder: ph.Raw, Offset: ph.Start, Reason: "count must be positive"}
			case n > maxCount:
				return nil, &ValidationError{Placeholder: ph.Raw, Offset: ph.Start, Reason: "count exceeds cap " + strconv.Itoa(maxCount)}
			}
			ph.Count = n
			ph.HasCount = true
		}
		ph.Raw = text[ph.Start:ph.End]
		out = append(out, ph)
		i = ph.End
	}
	return out, nil
}

func scanIdentifier(text string, start int) int {
	i := start
	for i < len(text) {
		c := text[i]
		isAlpha := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigit := c >= '0' && c <= '9'
		if isAlpha || (isDigit && i > start) {
			i++
			continue
		}
		break
	}
	return i
}

// countSuffix matches "(<numeric>)" at pos; numeric means sign, digits and dots only.
func countSuffix(text string, pos int) (string, int, bool) {
	if pos >= len(text) || text[pos] != '(' {
		return "", 0, false
	}
	closeIdx := strings.IndexByte(text[pos:], ')')
	if closeIdx <= 1 {
		return "", 0, false
	}
	arg := text[pos+1 : pos+closeIdx]
	hasDigit := false
	for j, c := range arg {
		switch {
		case c >= '0' && c <= '9':
			hasDigit = true
		case c == '.':
		case (c == '-' || c == '+') && j == 0:
		default:
			return "", 0, false
		}
	}
	if !hasDigit {
		return "", 0, false
	}
	return arg, pos + closeIdx + 1, true
}

// SeriesRequirement 描述模板需要的一条 K 线序列。
type SeriesRequirement struct {
	Symbol string
	Period string
	Count  int
}

// ParseKlineIdentifier 拆解 <SYMBOL>_klines_<period>。
func ParseKlineIdentifier(name string) (symbol, period string, ok bool) {
	idx := strings.Index(name, "_klines_")
	if idx <= 0 {
		return "", "", false
	}
	symbol = name[:idx]
	period = name[idx+len("_klines_"):]
	if !isSymbolToken(symbol) || !isPeriodToken(period) {
		return "", "", false
	}
	return strings.ToUpper(symbol), period, true
}

// Requirements 汇总模板里所有 K 线占位符；同一序列取最大 count。
func Requirements(text string, defaultCount, maxCount int) ([]SeriesRequirement, error) {
	if defaultCount <= 0 {
		defaultCount = DefaultCount
	}
	phs, err := Parse(text, maxCount)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int)
	var out []SeriesRequirement
	for _, ph := range phs {
		sym, period, ok := ParseKlineIdentifier(ph.Name)
		if !ok {
			continue
		}
		count := defaultCount
		if ph.HasCount {
			count = ph.Count
		}
		key := sym + "|" + period
		if pos, seen := index[key]; seen {
			if out[pos].Count < count {
				out[pos].Count = count
			}
			continue
		}
		index[key] = len(out)
		out = append(out, SeriesRequirement{Symbol: sym, Period: period, Count: count})
	}
	return out, nil
}

func isSymbolToken(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !((c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}

// isPeriodToken accepts 1m, 15m, 4h, 1d, 1w, 1M.
func isPeriodToken(s string) bool {
	if len(s) < 2 {
		return false
	}
	unit := s[len(s)-1]
	if !strings.ContainsRune("mhdwM", rune(unit)) {
		return false
	}
	for _, c := range s[:len(s)-1] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
