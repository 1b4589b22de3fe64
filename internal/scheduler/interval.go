package scheduler

import (
	"strconv"
	"strings"
	"time"
)

var longUnits = map[byte]time.Duration{
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseIntervalDuration 解析周期字符串：Go duration 形式（30s、15m、1h30m），
// 以及 K 线风格的天/周（1d、1w）。非正值视为无效。
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, false
	}
	if unit, ok := longUnits[interval[len(interval)-1]]; ok {
		n, err := strconv.Atoi(interval[:len(interval)-1])
		if err != nil || n <= 0 {
			return 0, false
		}
		return time.Duration(n) * unit, true
	}
	d, err := time.ParseDuration(interval)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
