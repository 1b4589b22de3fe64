package jsonutil

import (
	"bytes"
	"encoding/json"
	"strings"
)

const codeFence = "```"

// ExtractJSON returns the first JSON object or array in raw, preferring the
// contents of a markdown code fence when one is present.
func ExtractJSON(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if block, ok := StripCodeFence(raw); ok {
		raw = block
	}
	start := strings.IndexAny(raw, "{[")
	if start == -1 {
		return "", false
	}
	end := matchClose(raw, start)
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(raw[start : end+1]), true
}

// StripCodeFence returns the body of the first ``` fenced block, dropping an
// optional language tag line. ok is false when raw holds no complete fence.
func StripCodeFence(raw string) (string, bool) {
	start := strings.Index(raw, codeFence)
	if start == -1 {
		return "", false
	}
	rest := raw[start+len(codeFence):]
	end := strings.Index(rest, codeFence)
	if end == -1 {
		return "", false
	}
	block := strings.TrimLeft(rest[:end], "\r\n")
	if idx := strings.Index(block, "\n"); idx != -1 {
		first := strings.TrimSpace(block[:idx])
		if first != "" && !strings.ContainsAny(first, "[{") {
			block = block[idx+1:]
		}
	}
	block = strings.TrimSpace(block)
	if block == "" {
		return "", false
	}
	return block, true
}

// ExtractLastObject returns the last outermost balanced {...} block in raw.
// Braces inside string literals are ignored, so prose such as
// `the set {a, b}` before the answer does not confuse the scan as long as the
// answer itself is the final top-level object.
func ExtractLastObject(raw string) (string, bool) {
	start, end := -1, -1
	for _, span := range objectSpans(raw) {
		start, end = span[0], span[1]
	}
	if start == -1 {
		return "", false
	}
	return strings.TrimSpace(raw[start : end+1]), true
}

// ExtractObjects returns every outermost balanced object in raw, in order of
// appearance.
func ExtractObjects(raw string) []string {
	spans := objectSpans(raw)
	out := make([]string, 0, len(spans))
	for _, span := range spans {
		out = append(out, strings.TrimSpace(raw[span[0]:span[1]+1]))
	}
	return out
}

// objectSpans lists every outermost balanced object in raw, left to right.
// A '{' that never closes is skipped and scanning resumes after it, so a stray
// opening brace in prose does not swallow the real answer.
func objectSpans(raw string) [][2]int {
	var spans [][2]int
	for i := 0; i < len(raw); i++ {
		if raw[i] != '{' {
			continue
		}
		end := matchClose(raw, i)
		if end == -1 {
			continue
		}
		spans = append(spans, [2]int{i, end})
		i = end
	}
	return spans
}

// matchClose returns the index of the bracket closing the one at start, or -1.
// Only the bracket kind found at start is counted; string state is tracked
// with escape handling.
func matchClose(raw string, start int) int {
	open := raw[start]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return -1
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Pretty 缩进合法 JSON，非法输入原样返回（去掉首尾空白）。
func Pretty(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !json.Valid([]byte(raw)) {
		return raw
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
		return raw
	}
	return buf.String()
}
