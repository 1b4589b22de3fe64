package agent

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"arena/internal/decision"
	"arena/internal/logger"
	"arena/internal/market"
	"arena/internal/pkg/trading"
)

const (
	defaultPaperFeeRate     = 0.0004 // 4bps
	defaultPaperSlippageBps = 2
	paperMaintenanceRate    = 0.005
	paperTradeHistory       = 200
)

type paperPosition struct {
	side     string
	qty      float64
	entry    float64
	margin   float64
	leverage int
	openedAt time.Time
}

type paperAccount struct {
	cash            float64
	maxLeverage     int
	defaultLeverage int
	positions       map[string]*paperPosition
	marks           map[string]float64
	trades          []market.TradeRecord
}

// PaperBroker 是本地模拟撮合：按决策开平仓、记账，并对每笔成交自动回报。
// 同时充当账户与成交历史的数据源。
type PaperBroker struct {
	Sink        ConfirmationSink
	FeeRate     float64
	SlippageBps float64

	mu       sync.Mutex
	accounts map[string]*paperAccount
	nowFn    func() time.Time
}

func NewPaperBroker(sink ConfirmationSink) *PaperBroker {
	return &PaperBroker{
		Sink:        sink,
		FeeRate:     defaultPaperFeeRate,
		SlippageBps: defaultPaperSlippageBps,
		accounts:    make(map[string]*paperAccount),
		nowFn:       time.Now,
	}
}

// Open 注册一个模拟账户；重复注册保留已有状态。
func (b *PaperBroker) Open(accountID string, capital float64, maxLeverage, defaultLeverage int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.accounts[accountID]; ok {
		return
	}
	b.accounts[accountID] = &paperAccount{
		cash:            capital,
		maxLeverage:     maxLeverage,
		defaultLeverage: defaultLeverage,
		positions:       make(map[string]*paperPosition),
		marks:           make(map[string]float64),
	}
}

func (b *PaperBroker) account(id string) (*paperAccount, error) {
	acc, ok := b.accounts[id]
	if !ok {
		return nil, fmt.Errorf("paper account %q not registered", id)
	}
	return acc, nil
}

func (b *PaperBroker) AccountState(_ context.Context, accountID string) (market.AccountState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.account(accountID)
	if err != nil {
		return market.AccountState{}, err
	}
	st := market.AccountState{
		AvailableBalance: acc.cash,
		MaxLeverage:      acc.maxLeverage,
		DefaultLeverage:  acc.defaultLeverage,
		UpdatedAt:        b.nowFn().UTC(),
	}
	equity := acc.cash
	for sym, pos := range acc.positions {
		mark := acc.marks[sym]
		if mark <= 0 {
			mark = pos.entry
		}
		equity += pos.margin + pos.pnl(mark, pos.qty)
		st.UsedMargin += pos.margin
		st.MaintenanceMargin += pos.qty * mark * paperMaintenanceRate
	}
	st.Equity = equity
	return st, nil
}

func (b *PaperBroker) Positions(_ context.Context, accountID string) ([]market.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.account(accountID)
	if err != nil {
		return nil, err
	}
	out := make([]market.Position, 0, len(acc.positions))
	for sym, pos := range acc.positions {
		mark := acc.marks[sym]
		if mark <= 0 {
			mark = pos.entry
		}
		out = append(out, market.Position{
			Symbol:           sym,
			Side:             pos.side,
			Size:             pos.qty,
			EntryPrice:       pos.entry,
			Leverage:         pos.leverage,
			LiquidationPrice: pos.liquidation(),
			UnrealizedPnL:    pos.pnl(mark, pos.qty),
			OpenedAt:         pos.openedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (b *PaperBroker) RecentTrades(_ context.Context, accountID string, limit int) ([]market.TradeRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.account(accountID)
	if err != nil {
		return nil, err
	}
	n := len(acc.trades)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]market.TradeRecord(nil), acc.trades[:n]...), nil
}

// Execute 依次撮合决策，成交后逐笔回报；回报失败只记日志。
func (b *PaperBroker) Execute(ctx context.Context, req ExecutionRequest) error {
	var fills []Confirmation
	b.mu.Lock()
	acc, err := b.account(req.Account)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	for sym, snap := range req.Snapshot.Symbols {
		if snap.Price > 0 {
			acc.marks[sym] = snap.Price
		}
	}
	now := b.nowFn().UTC()
	for _, d := range req.Decisions {
		sym := market.NormalizeSymbol(d.Symbol)
		mark, ok := req.Snapshot.Price(sym)
		if !ok {
			logger.Warnf("PaperBroker: skip %s, no market price", d.Brief())
			continue
		}
		var filled bool
		switch d.Operation {
		case decision.OpBuy:
			filled = b.open(acc, sym, market.SideLong, d, mark, now)
		case decision.OpSell:
			filled = b.open(acc, sym, market.SideShort, d, mark, now)
		case decision.OpClose:
			filled = b.close(acc, sym, d, mark, now)
		}
		if filled {
			fills = append(fills, Confirmation{
				Account:   req.Account,
				TraceID:   req.TraceID,
				Symbol:    sym,
				Operation: d.Operation,
				FilledAt:  now,
			})
		}
	}
	b.mu.Unlock()

	if b.Sink == nil {
		return nil
	}
	for _, c := range fills {
		if err := b.Sink.Confirm(ctx, c); err != nil {
			logger.Errorf("PaperBroker: confirm failed account=%s symbol=%s err=%v", c.Account, c.Symbol, err)
		}
	}
	return nil
}

func (b *PaperBroker) fillPrice(d decision.Decision, side string, mark float64, opening bool) float64 {
	buying := (side == market.SideLong) == opening
	if buying && d.MaxPrice != nil && *d.MaxPrice > 0 {
		return *d.MaxPrice
	}
	if !buying && d.MinPrice != nil && *d.MinPrice > 0 {
		return *d.MinPrice
	}
	slip := mark * b.SlippageBps / 10000
	if buying {
		return mark + slip
	}
	return mark - slip
}

func (b *PaperBroker) open(acc *paperAccount, sym, side string, d decision.Decision, mark float64, now time.Time) bool {
	if pos, ok := acc.positions[sym]; ok && pos.side != side {
		b.closeQty(acc, sym, pos, pos.qty, b.fillPrice(d, pos.side, mark, false), now)
	}
	price := b.fillPrice(d, side, mark, true)
	lev := max(d.Leverage, 1)
	margin := acc.cash * d.TargetPortion
	if margin <= 0 || price <= 0 {
		return false
	}
	notional := margin * float64(lev)
	fee := notional * b.FeeRate
	if margin+fee > acc.cash {
		margin = acc.cash / (1 + float64(lev)*b.FeeRate)
		notional = margin * float64(lev)
		fee = notional * b.FeeRate
	}
	qty := notional / price
	acc.cash -= margin + fee

	if pos, ok := acc.positions[sym]; ok {
		total := pos.qty + qty
		pos.entry = (pos.entry*pos.qty + price*qty) / total
		pos.qty = total
		pos.margin += margin
		pos.leverage = max(1, int(math.Round(pos.entry*pos.qty/pos.margin)))
	} else {
		acc.positions[sym] = &paperPosition{side: side, qty: qty, entry: price, margin: margin, leverage: lev, openedAt: now}
	}
	logger.Infof("PaperBroker: open %s %s qty=%.6f price=%.4f lev=%dx margin=%.2f fee=%.4f", side, sym, qty, price, lev, margin, fee)
	return true
}

func (b *PaperBroker) close(acc *paperAccount, sym string, d decision.Decision, mark float64, now time.Time) bool {
	pos, ok := acc.positions[sym]
	if !ok {
		logger.Warnf("PaperBroker: close %s ignored, no position", sym)
		return false
	}
	qty := trading.ClosePortion(pos.qty, d.TargetPortion)
	b.closeQty(acc, sym, pos, qty, b.fillPrice(d, pos.side, mark, false), now)
	return true
}

func (b *PaperBroker) closeQty(acc *paperAccount, sym string, pos *paperPosition, qty, price float64, now time.Time) {
	if qty >= pos.qty*0.999 {
		qty = pos.qty
	}
	share := qty / pos.qty
	margin := pos.margin * share
	pnl := pos.pnl(price, qty)
	fee := qty * price * b.FeeRate
	acc.cash += margin + pnl - fee

	acc.trades = append([]market.TradeRecord{{
		Symbol:      sym,
		Side:        pos.side,
		RealizedPnL: pnl - fee,
		ClosedAt:    now,
		Holding:     now.Sub(pos.openedAt),
	}}, acc.trades...)
	if len(acc.trades) > paperTradeHistory {
		acc.trades = acc.trades[:paperTradeHistory]
	}

	if qty == pos.qty {
		delete(acc.positions, sym)
	} else {
		pos.qty -= qty
		pos.margin -= margin
	}
	logger.Infof("PaperBroker: close %s %s qty=%.6f price=%.4f pnl=%.2f fee=%.4f", pos.side, sym, qty, price, pnl, fee)
}

func (p *paperPosition) pnl(price, qty float64) float64 {
	if p.side == market.SideShort {
		return (p.entry - price) * qty
	}
	return (price - p.entry) * qty
}

func (p *paperPosition) liquidation() float64 {
	if p.leverage <= 0 {
		return 0
	}
	move := p.entry / float64(p.leverage) * (1 - paperMaintenanceRate*float64(p.leverage))
	if p.side == market.SideShort {
		return p.entry + move
	}
	return math.Max(p.entry-move, 0)
}
