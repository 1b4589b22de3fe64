package agent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"arena/internal/config"
	"arena/internal/store/gormstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinatorSupersedesRunningCycle(t *testing.T) {
	acc := config.AccountConfig{ID: "alpha", Symbols: []string{"BTC"}}
	started := make(chan struct{})
	run := func(ctx context.Context, a config.AccountConfig, ticket Ticket) CycleResult {
		if ticket.Generation == 1 {
			close(started)
			<-ctx.Done()
			status := gormstore.CycleOK
			if !ticket.Current() {
				status = gormstore.CycleStale
			}
			return CycleResult{Account: a.ID, Generation: ticket.Generation, Status: status}
		}
		require.True(t, ticket.Current())
		return CycleResult{Account: a.ID, Generation: ticket.Generation, Status: gormstore.CycleOK}
	}
	c := NewCoordinatorFunc(run, []config.AccountConfig{acc})

	first := make(chan CycleResult, 1)
	go func() { first <- c.RunAccount(context.Background(), acc) }()
	<-started

	second := c.RunAccount(context.Background(), acc)
	assert.Equal(t, uint64(2), second.Generation)
	assert.Equal(t, gormstore.CycleOK, second.Status)

	select {
	case res := <-first:
		assert.Equal(t, gormstore.CycleStale, res.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded cycle was not cancelled")
	}

	last, ok := c.Last("alpha")
	require.True(t, ok)
	assert.Equal(t, uint64(2), last.Generation)
	assert.False(t, c.Current("alpha", 1))
}

func TestCoordinatorRunTickRunsAccountsInParallel(t *testing.T) {
	accounts := []config.AccountConfig{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	var inflight, peak atomic.Int32
	release := make(chan struct{})
	run := func(ctx context.Context, a config.AccountConfig, ticket Ticket) CycleResult {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		if n == int32(len(accounts)) {
			close(release)
		}
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		inflight.Add(-1)
		return CycleResult{Account: a.ID, Generation: ticket.Generation, Status: gormstore.CycleAllHold}
	}
	c := NewCoordinatorFunc(run, accounts)

	results, err := c.RunTick(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, accounts[i].ID, r.Account)
		assert.Equal(t, gormstore.CycleAllHold, r.Status)
	}
	assert.Equal(t, int32(3), peak.Load())
}

func TestCoordinatorOpensBreakerAfterRepeatedAborts(t *testing.T) {
	acc := config.AccountConfig{ID: "alpha"}
	var calls atomic.Int32
	run := func(_ context.Context, a config.AccountConfig, ticket Ticket) CycleResult {
		calls.Add(1)
		return CycleResult{Account: a.ID, Generation: ticket.Generation, Status: gormstore.CycleAborted}
	}
	c := NewCoordinatorFunc(run, []config.AccountConfig{acc})
	for i := 0; i < 5; i++ {
		c.RunAccount(context.Background(), acc)
	}
	res := c.RunAccount(context.Background(), acc)
	assert.Equal(t, gormstore.CycleAborted, res.Status)
	assert.Error(t, res.Err)
	assert.Equal(t, int32(5), calls.Load())
}

func TestCoordinatorWaitsForSupersededCycleToExit(t *testing.T) {
	acc := config.AccountConfig{ID: "alpha", Symbols: []string{"BTC"}}
	var inflight, peak int32
	started := make(chan struct{}, 2)
	run := func(ctx context.Context, a config.AccountConfig, ticket Ticket) CycleResult {
		n := atomic.AddInt32(&inflight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		started <- struct{}{}
		// 不理会 ctx，模拟卡在下单阶段的旧周期
		time.Sleep(150 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		return CycleResult{Account: a.ID, Generation: ticket.Generation, Status: gormstore.CycleOK}
	}
	c := NewCoordinatorFunc(run, []config.AccountConfig{acc})

	first := make(chan CycleResult, 1)
	go func() { first <- c.RunAccount(context.Background(), acc) }()
	<-started
	time.Sleep(50 * time.Millisecond)
	second := c.RunAccount(context.Background(), acc)

	<-first
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
	assert.Equal(t, uint64(2), second.Generation)
	assert.Equal(t, gormstore.CycleOK, second.Status)
}

func TestCoordinatorSupersededCycleCannotCommit(t *testing.T) {
	acc := config.AccountConfig{ID: "alpha", Symbols: []string{"BTC"}}
	started := make(chan struct{})
	proceed := make(chan struct{})
	var executed int32
	run := func(ctx context.Context, a config.AccountConfig, ticket Ticket) CycleResult {
		if ticket.Generation == 1 {
			close(started)
			<-proceed
			if !ticket.commit(func() { atomic.AddInt32(&executed, 1) }) {
				return CycleResult{Account: a.ID, Generation: ticket.Generation, Status: gormstore.CycleStale, Err: ErrStaleCycle}
			}
		}
		return CycleResult{Account: a.ID, Generation: ticket.Generation, Status: gormstore.CycleOK}
	}
	c := NewCoordinatorFunc(run, []config.AccountConfig{acc})

	first := make(chan CycleResult, 1)
	go func() { first <- c.RunAccount(context.Background(), acc) }()
	<-started
	second := make(chan CycleResult, 1)
	go func() { second <- c.RunAccount(context.Background(), acc) }()
	require.Eventually(t, func() bool { return !c.Current(acc.ID, 1) }, time.Second, 5*time.Millisecond)
	close(proceed)

	r1 := <-first
	r2 := <-second
	assert.Equal(t, gormstore.CycleStale, r1.Status)
	assert.ErrorIs(t, r1.Err, ErrStaleCycle)
	assert.Equal(t, int32(0), atomic.LoadInt32(&executed))
	assert.Equal(t, gormstore.CycleOK, r2.Status)
	last, ok := c.Last(acc.ID)
	require.True(t, ok)
	assert.Equal(t, uint64(2), last.Generation)
}
