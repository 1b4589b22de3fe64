package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensProbesAndCloses(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var changes []string
	b := New("llm", 2, time.Minute,
		WithClock(func() time.Time { return now }),
		WithOnChange(func(_ string, from, to State) { changes = append(changes, from.String()+">"+to.String()) }))

	assert.True(t, b.Allow())
	b.Failure()
	assert.Equal(t, StateClosed, b.State())
	b.Failure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
	assert.Equal(t, now.Add(time.Minute), b.Stats().RetryAt)

	now = now.Add(time.Minute)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	assert.False(t, b.Allow(), "only one trial call while half-open")

	b.Failure()
	assert.Equal(t, StateOpen, b.State())

	now = now.Add(2 * time.Minute)
	assert.True(t, b.Allow())
	b.Success()
	assert.Equal(t, Stats{State: StateClosed}, b.Stats())
	assert.Equal(t, []string{"CLOSED>OPEN", "OPEN>HALF-OPEN", "HALF-OPEN>OPEN", "OPEN>HALF-OPEN", "HALF-OPEN>CLOSED"}, changes)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "HALF-OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(9).String())
}

func TestBreakerReleaseAllowsNextProbe(t *testing.T) {
	now := time.Unix(0, 0)
	b := New("cycle", 1, time.Second, WithClock(func() time.Time { return now }), WithOnChange(func(string, State, State) {}))
	b.Failure()
	now = now.Add(time.Second)
	assert.True(t, b.Allow())
	assert.False(t, b.Allow())
	b.Release()
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
}
