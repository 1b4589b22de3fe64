package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"arena/internal/config"
	"arena/internal/logger"
	"arena/internal/pkg/circuit"
	"arena/internal/store/gormstore"

	"golang.org/x/sync/errgroup"
)

// CycleRunnerFunc 抽象单轮执行，便于替换。
type CycleRunnerFunc func(ctx context.Context, acc config.AccountConfig, ticket Ticket) CycleResult

type accountSlot struct {
	generation uint64
	cancel     context.CancelFunc
	breaker    *circuit.Breaker
	last       *CycleResult

	// running 容量为 1：持有者即该账户唯一在跑的周期。
	running chan struct{}
	// commit 串行化代次切换与执行阶段，被取代的周期不会在切换之后下单。
	commit sync.Mutex
}

func newAccountSlot(account string) *accountSlot {
	return &accountSlot{
		breaker: circuit.New("Cycle."+account, 5, 2*time.Minute),
		running: make(chan struct{}, 1),
	}
}

// Coordinator 保证每个账户同一时刻至多一个有效周期。
// 新周期到来时递增代次并取消旧周期；旧周期的输出随之作废。
type Coordinator struct {
	run      CycleRunnerFunc
	accounts []config.AccountConfig

	mu    sync.Mutex
	slots map[string]*accountSlot
}

func NewCoordinator(runner *CycleRunner, accounts []config.AccountConfig) *Coordinator {
	return NewCoordinatorFunc(runner.Run, accounts)
}

func NewCoordinatorFunc(run CycleRunnerFunc, accounts []config.AccountConfig) *Coordinator {
	c := &Coordinator{
		run:      run,
		accounts: append([]config.AccountConfig(nil), accounts...),
		slots:    make(map[string]*accountSlot, len(accounts)),
	}
	for _, acc := range c.accounts {
		c.slots[acc.ID] = newAccountSlot(acc.ID)
	}
	return c
}

// Accounts 返回参与调度的账户。
func (c *Coordinator) Accounts() []config.AccountConfig {
	return append([]config.AccountConfig(nil), c.accounts...)
}

// Account 按 ID 查找账户。
func (c *Coordinator) Account(id string) (config.AccountConfig, bool) {
	for _, acc := range c.accounts {
		if acc.ID == id {
			return acc, true
		}
	}
	return config.AccountConfig{}, false
}

// Tick 是调度器回调：所有账户并行各跑一轮。
func (c *Coordinator) Tick(ctx context.Context, at time.Time) {
	start := time.Now()
	results, err := c.RunTick(ctx)
	if err != nil {
		logger.Errorf("Coordinator: tick at=%s err=%v", at.UTC().Format(time.RFC3339), err)
		return
	}
	counts := make(map[gormstore.CycleStatus]int)
	for _, r := range results {
		counts[r.Status]++
	}
	logger.Infof("Coordinator: tick at=%s accounts=%d ok=%d all_hold=%d aborted=%d stale=%d duration=%s",
		at.UTC().Format(time.RFC3339), len(results), counts[gormstore.CycleOK], counts[gormstore.CycleAllHold],
		counts[gormstore.CycleAborted], counts[gormstore.CycleStale], time.Since(start))
}

// RunTick 为每个账户启动一轮并等待全部结束。账户之间不共享状态，单个账户失败不影响其他账户。
func (c *Coordinator) RunTick(ctx context.Context) ([]CycleResult, error) {
	if len(c.accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured")
	}
	results := make([]CycleResult, len(c.accounts))
	var g errgroup.Group
	for i, acc := range c.accounts {
		i, acc := i, acc
		g.Go(func() error {
			results[i] = c.RunAccount(ctx, acc)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// RunAccount 为单个账户运行一轮：取消同账户仍在进行的旧周期，并等它退出后再开始。
func (c *Coordinator) RunAccount(ctx context.Context, acc config.AccountConfig) CycleResult {
	slot := c.slot(acc.ID)
	if !slot.breaker.Allow() {
		logger.Warnf("Coordinator: circuit open, skip account=%s", acc.ID)
		return CycleResult{Account: acc.ID, Status: gormstore.CycleAborted, Err: fmt.Errorf("circuit %s open", slot.breaker.Name())}
	}
	gen, cctx := c.begin(ctx, slot, acc.ID)
	defer c.finish(acc.ID, gen)

	select {
	case slot.running <- struct{}{}:
	case <-cctx.Done():
		slot.breaker.Release()
		if !c.Current(acc.ID, gen) {
			return CycleResult{Account: acc.ID, Generation: gen, Status: gormstore.CycleStale, Err: ErrStaleCycle}
		}
		return CycleResult{Account: acc.ID, Generation: gen, Status: gormstore.CycleAborted, Err: cctx.Err()}
	}
	defer func() { <-slot.running }()
	if !c.Current(acc.ID, gen) {
		slot.breaker.Release()
		return CycleResult{Account: acc.ID, Generation: gen, Status: gormstore.CycleStale, Err: ErrStaleCycle}
	}

	res := c.run(cctx, acc, Ticket{
		Generation: gen,
		Current:    func() bool { return c.Current(acc.ID, gen) },
		Commit:     func(fn func()) bool { return c.commit(slot, acc.ID, gen, fn) },
	})
	switch res.Status {
	case gormstore.CycleAborted:
		slot.breaker.Failure()
	case gormstore.CycleOK, gormstore.CycleAllHold:
		slot.breaker.Success()
	default:
		slot.breaker.Release()
	}
	if res.Status != gormstore.CycleStale {
		c.mu.Lock()
		if slot.generation == gen {
			r := res
			slot.last = &r
		}
		c.mu.Unlock()
	}
	return res
}

// commit 在 gen 仍为最新代次时执行 fn，期间不允许新周期切换代次。
func (c *Coordinator) commit(slot *accountSlot, account string, gen uint64, fn func()) bool {
	slot.commit.Lock()
	defer slot.commit.Unlock()
	if !c.Current(account, gen) {
		return false
	}
	fn()
	return true
}

// Current 判断 gen 是否仍是账户的最新代次。
func (c *Coordinator) Current(account string, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.slots[account]
	return ok && slot.generation == gen
}

// Last 返回账户最近一次完成的有效结果。
func (c *Coordinator) Last(account string) (CycleResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.slots[account]
	if !ok || slot.last == nil {
		return CycleResult{}, false
	}
	return *slot.last, true
}

func (c *Coordinator) slot(account string) *accountSlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.slots[account]
	if !ok {
		slot = newAccountSlot(account)
		c.slots[account] = slot
	}
	return slot
}

func (c *Coordinator) begin(ctx context.Context, slot *accountSlot, account string) (uint64, context.Context) {
	slot.commit.Lock()
	defer slot.commit.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot.cancel != nil {
		logger.Warnf("Coordinator: account=%s gen=%d still running, superseding", account, slot.generation)
		slot.cancel()
	}
	slot.generation++
	cctx, cancel := context.WithCancel(ctx)
	slot.cancel = cancel
	return slot.generation, cctx
}

func (c *Coordinator) finish(account string, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot := c.slots[account]
	if slot.generation == gen && slot.cancel != nil {
		slot.cancel()
		slot.cancel = nil
	}
}
