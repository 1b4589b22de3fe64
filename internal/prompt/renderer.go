package prompt

import (
	"errors"
	"strings"
)

// RenderOptions 控制缺失变量的处理方式与 count 边界。
type RenderOptions struct {
	Strict       bool
	DefaultCount int
	MaxCount     int
}

// Renderer 将模板中的占位符替换为解析结果。它本身不拉取任何数据。
type Renderer struct {
	registry *Registry
	opts     RenderOptions
}

func NewRenderer(reg *Registry, opts RenderOptions) *Renderer {
	if opts.DefaultCount <= 0 {
		opts.DefaultCount = DefaultCount
	}
	if opts.MaxCount <= 0 {
		opts.MaxCount = MaxCount
	}
	if opts.DefaultCount > opts.MaxCount {
		opts.DefaultCount = opts.MaxCount
	}
	if reg == nil {
		reg = NewRegistry()
	}
	return &Renderer{registry: reg, opts: opts}
}

// Render 自左向右逐个解析占位符，每个只解析一次；解析结果不会被再次扫描。
func (r *Renderer) Render(text string) (string, error) {
	out, missing, err := r.render(text)
	if err != nil {
		return "", err
	}
	if r.opts.Strict && len(missing) > 0 {
		return "", &MissingVariableError{Names: missing}
	}
	return out, nil
}

// Preview renders without failing on missing variables and reports which
// names were left literal.
func (r *Renderer) Preview(text string) (string, []string, error) {
	return r.render(text)
}

func (r *Renderer) render(text string) (string, []string, error) {
	phs, err := Parse(text, r.opts.MaxCount)
	if err != nil {
		return "", nil, err
	}
	var (
		b       strings.Builder
		missing []string
		seen    = make(map[string]bool)
		last    int
	)
	b.Grow(len(text))
	for _, ph := range phs {
		b.WriteString(text[last:ph.Start])
		last = ph.End
		count := r.opts.DefaultCount
		if ph.HasCount {
			count = ph.Count
		}
		fn, sym, period, ok := r.registry.Lookup(ph.Name)
		var value string
		if ok {
			value, err = fn(sym, period, count)
			if errors.Is(err, ErrUnresolved) {
				ok = false
			} else if err != nil {
				return "", nil, &ResolveError{Name: ph.Name, Err: err}
			}
		}
		if !ok {
			if !seen[ph.Name] {
				seen[ph.Name] = true
				missing = append(missing, ph.Name)
			}
			b.WriteString(ph.Raw)
			continue
		}
		b.WriteString(value)
	}
	b.WriteString(text[last:])
	return b.String(), missing, nil
}
