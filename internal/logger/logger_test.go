package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetFormat("json")
	t.Cleanup(func() {
		SetFormat("text")
		SetOutput(nil)
		SetLevel("info")
	})

	SetLevel("warn")
	Infof("hidden %d", 1)
	Warnf("shown %d", 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "shown 2", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
}

func TestParseLevel(t *testing.T) {
	lv, ok := ParseLevel(" Warning ")
	assert.True(t, ok)
	assert.Equal(t, slog.LevelWarn, lv)
	lv, ok = ParseLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, slog.LevelInfo, lv)
}

func TestTranscriptSkipsEmptySections(t *testing.T) {
	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	out := formatTranscript(at, "response", "alpha", "", "t1", []LLMSection{
		{Title: "CONTENT", Body: "{}\n"},
		{Title: "REASONING", Body: "  "},
		{Body: "tail"},
	})
	assert.Equal(t, "2025/03/01 08:00:00 [LLM][response][alpha][t1]\n--- CONTENT ---\n{}\n--- CONTENT ---\ntail\n=====\n", out)
}

func TestLLMWriterToggle(t *testing.T) {
	var buf bytes.Buffer
	SetLLMWriter(&buf)
	EnableLLMPayloadDump(true)
	t.Cleanup(func() {
		SetLLMWriter(nil)
		EnableLLMPayloadDump(false)
	})
	LogLLMRequest("alpha", "ds", "t1", "prompt body", "system text")
	assert.Contains(t, buf.String(), "--- PROMPT ---\nprompt body\n--- PAYLOAD ---\nsystem text\n")

	SetLLMWriter(nil)
	buf.Reset()
	LogLLMResponse("alpha", "ds", "t1", LLMSection{Body: "x"})
	assert.Empty(t, buf.String())
}
