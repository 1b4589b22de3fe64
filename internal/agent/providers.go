package agent

import (
	"fmt"
	"strings"

	"arena/internal/gateway/provider"
)

// ProviderSet 按账户绑定或全局偏好挑选模型。
type ProviderSet struct {
	byID       map[string]provider.ModelProvider
	order      []string
	preference []string
}

func NewProviderSet(providers []provider.ModelProvider, preference []string) *ProviderSet {
	s := &ProviderSet{byID: make(map[string]provider.ModelProvider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		id := p.ID()
		if _, ok := s.byID[id]; ok {
			continue
		}
		s.byID[id] = p
		s.order = append(s.order, id)
	}
	s.preference = append([]string(nil), preference...)
	return s
}

// Select 优先使用账户绑定的模型；未绑定时按 preference，再按配置顺序取第一个启用的。
func (s *ProviderSet) Select(bound string) (provider.ModelProvider, error) {
	if s == nil || len(s.byID) == 0 {
		return nil, fmt.Errorf("no model provider configured")
	}
	if bound = strings.TrimSpace(bound); bound != "" {
		p, ok := s.byID[bound]
		if !ok {
			return nil, fmt.Errorf("model %q not configured", bound)
		}
		if !p.Enabled() {
			return nil, fmt.Errorf("model %q disabled", bound)
		}
		return p, nil
	}
	for _, id := range append(append([]string(nil), s.preference...), s.order...) {
		if p, ok := s.byID[id]; ok && p.Enabled() {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no enabled model provider")
}

func (s *ProviderSet) IDs() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}
