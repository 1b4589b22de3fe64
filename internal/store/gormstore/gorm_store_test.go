package gormstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "logs", "cycles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_CycleRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rec := CycleRecord{
		TraceID:     "t-1",
		Account:     "main",
		Generation:  3,
		Template:    "default",
		Status:      CycleOK,
		Provider:    "deepseek",
		Source:      "content",
		Prompt:      "prompt",
		RawResponse: `{"decisions":[]}`,
		Warnings:    []string{"markdown code fence stripped"},
		Regime:      json.RawMessage(`{"label":"NEUTRAL"}`),
		Decisions:   json.RawMessage(`[{"operation":"hold","symbol":"BTC"}]`),
		StartedAt:   start,
		FinishedAt:  start.Add(3 * time.Second),
	}
	require.NoError(t, s.SaveCycle(ctx, rec))

	got, err := s.GetCycle(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Account, got.Account)
	assert.Equal(t, uint64(3), got.Generation)
	assert.Equal(t, rec.Warnings, got.Warnings)
	assert.JSONEq(t, string(rec.Regime), string(got.Regime))
	assert.Nil(t, got.Diagnostics)
	assert.True(t, start.Equal(got.StartedAt))

	rec.Status = CycleStale
	require.NoError(t, s.SaveCycle(ctx, rec))
	got, err = s.GetCycle(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, CycleStale, got.Status)

	_, err = s.GetCycle(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Error(t, s.SaveCycle(ctx, CycleRecord{}))
}

func TestStore_ListAndPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, acct := range []string{"a", "b", "a", "a"} {
		status := CycleOK
		if i == 2 {
			status = CycleAborted
		}
		require.NoError(t, s.SaveCycle(ctx, CycleRecord{
			TraceID: string(rune('w' + i)), Account: acct, Status: status,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	all, err := s.ListCycles(ctx, CycleFilter{Account: "a"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "z", all[0].TraceID)

	aborted, err := s.ListCycles(ctx, CycleFilter{Status: CycleAborted})
	require.NoError(t, err)
	require.Len(t, aborted, 1)
	assert.Equal(t, "y", aborted[0].TraceID)

	older, err := s.ListCycles(ctx, CycleFilter{Before: base.Add(90 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, older, 2)

	n, err := s.PruneCycles(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStore_Executions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveExecution(ctx, ExecutionRecord{Account: "main", Symbol: "btc", Direction: "long", FilledAt: at}))
	require.NoError(t, s.SaveExecution(ctx, ExecutionRecord{Account: "main", Symbol: "ETH", Direction: "short", FilledAt: at.Add(time.Minute)}))
	require.NoError(t, s.SaveExecution(ctx, ExecutionRecord{Account: "other", Symbol: "SOL", Direction: "long", FilledAt: at}))

	list, err := s.ListExecutions(ctx, "main", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ETH", list[0].Symbol)
	assert.Equal(t, "BTC", list[1].Symbol)
	assert.True(t, at.Equal(list[1].FilledAt))
}
