package flipflop

import (
	"context"
	"sync"
	"time"
)

// MemoryStore 进程内实现，重启即丢失。
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]State)}
}

func (m *MemoryStore) Load(_ context.Context, account string) (map[string]State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.data[account]
	out := make(map[string]State, len(src))
	for sym, st := range src {
		st.Reversals = append([]time.Time(nil), st.Reversals...)
		out[sym] = st
	}
	return out, nil
}

func (m *MemoryStore) Save(_ context.Context, account string, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[account] == nil {
		m.data[account] = make(map[string]State)
	}
	st.Reversals = append([]time.Time(nil), st.Reversals...)
	m.data[account][st.Symbol] = st
	return nil
}
