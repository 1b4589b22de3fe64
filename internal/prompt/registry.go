package prompt

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Resolver 根据 (symbol, period, count) 渲染变量文本；非符号变量忽略前两个参数。
type Resolver func(symbol, period string, count int) (string, error)

type patternResolver struct {
	pattern string
	re      *regexp.Regexp
	symIdx  int
	perIdx  int
	fn      Resolver
}

// Registry 维护变量名到解析器的映射：精确名优先，其次按注册顺序匹配模式。
type Registry struct {
	mu       sync.RWMutex
	exact    map[string]Resolver
	patterns []patternResolver
}

func NewRegistry() *Registry {
	return &Registry{exact: make(map[string]Resolver)}
}

func (r *Registry) Register(name string, fn Resolver) {
	name = strings.TrimSpace(name)
	if name == "" || fn == nil {
		return
	}
	r.mu.Lock()
	r.exact[name] = fn
	r.mu.Unlock()
}

// RegisterValue binds a constant string.
func (r *Registry) RegisterValue(name, value string) {
	r.Register(name, func(string, string, int) (string, error) { return value, nil })
}

// RegisterPattern 注册符号作用域的模式，如 <SYMBOL>_klines_<PERIOD>。
func (r *Registry) RegisterPattern(pattern string, fn Resolver) error {
	if fn == nil {
		return fmt.Errorf("pattern %s: nil resolver", pattern)
	}
	var expr strings.Builder
	expr.WriteString("^")
	symIdx, perIdx, group := -1, -1, 0
	rest := pattern
	for rest != "" {
		open := strings.IndexByte(rest, '<')
		if open < 0 {
			expr.WriteString(regexp.QuoteMeta(rest))
			break
		}
		expr.WriteString(regexp.QuoteMeta(rest[:open]))
		closeIdx := strings.IndexByte(rest[open:], '>')
		if closeIdx < 0 {
			return fmt.Errorf("pattern %s: unterminated token", pattern)
		}
		token := rest[open+1 : open+closeIdx]
		group++
		switch token {
		case "SYMBOL":
			symIdx = group
			expr.WriteString(`([A-Za-z0-9]+)`)
		case "PERIOD":
			perIdx = group
			expr.WriteString(`([0-9]+[mhdwM])`)
		default:
			return fmt.Errorf("pattern %s: unknown token <%s>", pattern, token)
		}
		rest = rest[open+closeIdx+1:]
	}
	expr.WriteString("$")
	re, err := regexp.Compile(expr.String())
	if err != nil {
		return fmt.Errorf("pattern %s: %w", pattern, err)
	}
	r.mu.Lock()
	r.patterns = append(r.patterns, patternResolver{pattern: pattern, re: re, symIdx: symIdx, perIdx: perIdx, fn: fn})
	r.mu.Unlock()
	return nil
}

// Lookup 返回变量对应的解析器以及从名字中提取的 symbol/period。
func (r *Registry) Lookup(name string) (Resolver, string, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fn, ok := r.exact[name]; ok {
		return fn, "", "", true
	}
	for _, p := range r.patterns {
		m := p.re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		var sym, period string
		if p.symIdx > 0 {
			sym = strings.ToUpper(m[p.symIdx])
		}
		if p.perIdx > 0 {
			period = m[p.perIdx]
		}
		return p.fn, sym, period, true
	}
	return nil, "", "", false
}

// Names lists exact names and patterns, for previews and docs.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.exact)+len(r.patterns))
	for name := range r.exact {
		out = append(out, name)
	}
	for _, p := range r.patterns {
		out = append(out, p.pattern)
	}
	return out
}
