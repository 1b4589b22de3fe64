package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestOpenAIChatClient_ReturnsAllChannels(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"choices":[{"finish_reason":"stop","message":{"content":"","reasoning":"short","reasoning_content":"long {\"decisions\":[]}"}}]}`))
	}))
	defer srv.Close()

	c := &OpenAIChatClient{BaseURL: srv.URL + "/v1/chat/completions", APIKey: "sk-test", Model: "deepseek-reasoner"}
	resp, err := c.Complete(context.Background(), ChatPayload{System: "sys", User: "hi", MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, "", resp.Content)
	assert.Equal(t, "short", resp.Reasoning)
	assert.Equal(t, `long {"decisions":[]}`, resp.ReasoningContent)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.NotContains(t, body, "temperature")
	assert.EqualValues(t, 100, body["max_completion_tokens"])
}

func TestOpenAIChatClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()

	c := &OpenAIChatClient{BaseURL: srv.URL, Model: "gpt-4o"}
	_, err := c.Complete(context.Background(), ChatPayload{User: "hi"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 429, se.Code)
	assert.Equal(t, "slow down", se.Message)
	assert.Equal(t, 2*time.Second, se.RetryAfter)
	assert.True(t, Retryable(err))
}

func TestRetryingProvider_RetriesThenFallsBack(t *testing.T) {
	var primaryHits, backupHits int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&primaryHits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer primary.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&backupHits, 1)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"decisions\":[]}"}}]}`))
	}))
	defer backup.Close()

	p := NewRetryingProvider("deepseek", []Caller{
		&OpenAIChatClient{BaseURL: primary.URL, Model: "deepseek-chat"},
		&OpenAIChatClient{BaseURL: backup.URL, Model: "deepseek-chat"},
	}, RetryPolicy{Attempts: 3}, WithSleep(noSleep))

	resp, err := p.Complete(context.Background(), ChatPayload{User: "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"decisions":[]}`, resp.Content)
	assert.Equal(t, "deepseek", resp.Provider)
	assert.Equal(t, 4, resp.Attempts)
	assert.EqualValues(t, 3, atomic.LoadInt32(&primaryHits))
	assert.EqualValues(t, 1, atomic.LoadInt32(&backupHits))
}

type stubCaller struct {
	calls int
	err   error
	panic bool
}

func (s *stubCaller) Endpoint() string { return "stub" }

func (s *stubCaller) Complete(context.Context, ChatPayload) (Response, error) {
	s.calls++
	if s.panic {
		panic("boom")
	}
	return Response{}, s.err
}

func TestRetryingProvider_ExhaustionIsProviderError(t *testing.T) {
	stub := &stubCaller{err: &StatusError{Code: 503, Message: "down"}}
	p := NewRetryingProvider("m", []Caller{stub}, RetryPolicy{Attempts: 3}, WithSleep(noSleep))
	_, err := p.Complete(context.Background(), ChatPayload{})
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 3, perr.Attempts)
	assert.Equal(t, 3, stub.calls)
}

func TestRetryingProvider_NonRetryableStopsEarly(t *testing.T) {
	stub := &stubCaller{err: &StatusError{Code: 401, Message: "bad key"}}
	p := NewRetryingProvider("m", []Caller{stub}, RetryPolicy{Attempts: 3}, WithSleep(noSleep))
	_, err := p.Complete(context.Background(), ChatPayload{})
	require.Error(t, err)
	assert.Equal(t, 1, stub.calls)
}

func TestRetryingProvider_PanicRecovered(t *testing.T) {
	stub := &stubCaller{panic: true}
	p := NewRetryingProvider("m", []Caller{stub}, RetryPolicy{Attempts: 2}, WithSleep(noSleep))
	_, err := p.Complete(context.Background(), ChatPayload{})
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Error(), "panic")
}

func TestRetryingProvider_BreakerSkipsEndpoint(t *testing.T) {
	stub := &stubCaller{err: errors.New("i/o timeout")}
	p := NewRetryingProvider("m", []Caller{stub}, RetryPolicy{Attempts: 2}, WithSleep(noSleep), WithBreaker(2, time.Hour))
	_, err := p.Complete(context.Background(), ChatPayload{})
	require.Error(t, err)
	assert.Equal(t, 2, stub.calls)

	_, err = p.Complete(context.Background(), ChatPayload{})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, 2, stub.calls)
}

func TestIsReasoningModel(t *testing.T) {
	assert.True(t, IsReasoningModel("o3-mini"))
	assert.True(t, IsReasoningModel("openai/gpt-5"))
	assert.True(t, IsReasoningModel("deepseek-reasoner"))
	assert.False(t, IsReasoningModel("gpt-4o"))
	assert.False(t, IsReasoningModel("qwen-max"))
}

func TestRetryingProvider_RetryAfterCappedAtMaxBackoff(t *testing.T) {
	stub := &stubCaller{err: &StatusError{Code: 429, Message: "slow down", RetryAfter: time.Hour}}
	var waits []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	p := NewRetryingProvider("m", []Caller{stub},
		RetryPolicy{Attempts: 3, MinBackoff: 10 * time.Millisecond, MaxBackoff: 2 * time.Second}, WithSleep(sleep))
	_, err := p.Complete(context.Background(), ChatPayload{})
	require.Error(t, err)
	require.Len(t, waits, 2)
	for _, w := range waits {
		assert.Equal(t, 2*time.Second, w)
	}
}
