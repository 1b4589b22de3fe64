// Package flipflop 记录每个 (account, symbol) 最近一次成交与反手次数，用于拦截频繁反手。
package flipflop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"arena/internal/logger"
	"arena/internal/market"
)

type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
	Flat  Direction = "flat"
)

// ParseDirection accepts long/short/flat plus buy/sell/close aliases.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	case "flat", "close":
		return Flat, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Opposite reports whether d and other are opposing exposures.
func (d Direction) Opposite(other Direction) bool {
	return (d == Long && other == Short) || (d == Short && other == Long)
}

// State 单个 symbol 的防反手状态。Reversals 为滚动窗口内的反手时间点。
type State struct {
	Symbol        string      `json:"symbol"`
	LastTradeAt   time.Time   `json:"last_trade_at"`
	LastDirection Direction   `json:"last_direction"`
	Reversals     []time.Time `json:"reversals,omitempty"`
}

// ReversalsSince counts reversals at or after t.
func (s State) ReversalsSince(t time.Time) int {
	n := 0
	for _, r := range s.Reversals {
		if !r.Before(t) {
			n++
		}
	}
	return n
}

// Snapshot 是校验阶段读取的只读副本。
type Snapshot struct {
	Account string           `json:"account"`
	TakenAt time.Time        `json:"taken_at"`
	States  map[string]State `json:"states"`
}

func (s Snapshot) Get(symbol string) (State, bool) {
	st, ok := s.States[market.NormalizeSymbol(symbol)]
	return st, ok
}

// Confirmation 由执行引擎在成交后回报。
type Confirmation struct {
	Account   string    `json:"account"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	FilledAt  time.Time `json:"filled_at"`
}

// Store 按账户持久化状态；实现需保证单次 Save 原子。
type Store interface {
	Load(ctx context.Context, account string) (map[string]State, error)
	Save(ctx context.Context, account string, st State) error
}

// Guard 只在 Confirm 中写入；Snapshot 不产生任何副作用，因此重复校验是幂等的。
type Guard struct {
	store  Store
	nowFn  func() time.Time
	window time.Duration
}

const DefaultWindow = 24 * time.Hour

func NewGuard(store Store, window time.Duration, now func() time.Time) *Guard {
	if store == nil {
		store = NewMemoryStore()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Guard{store: store, nowFn: now, window: window}
}

func (g *Guard) Window() time.Duration { return g.window }

// Snapshot 读取账户的全部状态副本。
func (g *Guard) Snapshot(ctx context.Context, account string) (Snapshot, error) {
	states, err := g.store.Load(ctx, account)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load flip-flop state for %s: %w", account, err)
	}
	out := Snapshot{Account: account, TakenAt: g.nowFn(), States: make(map[string]State, len(states))}
	for sym, st := range states {
		st.Reversals = append([]time.Time(nil), st.Reversals...)
		out.States[market.NormalizeSymbol(sym)] = st
	}
	return out, nil
}

// Confirm 应用一次成交回报：开反向仓计一次反手，平仓只刷新时间不改方向。
func (g *Guard) Confirm(ctx context.Context, c Confirmation) error {
	sym := market.NormalizeSymbol(c.Symbol)
	if sym == "" || strings.TrimSpace(c.Account) == "" {
		return fmt.Errorf("confirmation requires account and symbol")
	}
	switch c.Direction {
	case Long, Short, Flat:
	default:
		return fmt.Errorf("confirmation direction %q invalid", c.Direction)
	}
	at := c.FilledAt
	if at.IsZero() {
		at = g.nowFn()
	}
	states, err := g.store.Load(ctx, c.Account)
	if err != nil {
		return fmt.Errorf("load flip-flop state for %s: %w", c.Account, err)
	}
	st, ok := states[sym]
	if !ok {
		st = State{Symbol: sym}
	}
	if at.Before(st.LastTradeAt) {
		logger.Warnf("flip-flop confirm out of order account=%s symbol=%s filled=%s last=%s",
			c.Account, sym, at.Format(time.RFC3339), st.LastTradeAt.Format(time.RFC3339))
	}
	if c.Direction != Flat {
		if st.LastDirection.Opposite(c.Direction) {
			st.Reversals = append(st.Reversals, at)
		}
		st.LastDirection = c.Direction
	}
	if at.After(st.LastTradeAt) {
		st.LastTradeAt = at
	}
	cutoff := at.Add(-g.window)
	kept := st.Reversals[:0]
	for _, r := range st.Reversals {
		if !r.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	st.Reversals = kept
	if err := g.store.Save(ctx, c.Account, st); err != nil {
		return fmt.Errorf("save flip-flop state for %s/%s: %w", c.Account, sym, err)
	}
	logger.Infof("flip-flop state updated account=%s symbol=%s direction=%s reversals_24h=%d",
		c.Account, sym, st.LastDirection, len(st.Reversals))
	return nil
}
