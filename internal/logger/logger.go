package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	level  slog.LevelVar
	active atomic.Pointer[slog.Logger]

	sinkMu   sync.Mutex
	sinkOut  io.Writer = os.Stdout
	sinkJSON bool
)

func init() {
	rebuild()
}

// rebuild 必须在 sinkMu 下或 init 中调用。
func rebuild() {
	opts := &slog.HandlerOptions{Level: &level}
	var h slog.Handler = slog.NewTextHandler(sinkOut, opts)
	if sinkJSON {
		h = slog.NewJSONHandler(sinkOut, opts)
	}
	active.Store(slog.New(h))
}

// SetOutput 切换输出，保留当前格式；nil 回落到 stdout。
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sinkOut = w
	rebuild()
}

// SetFormat 接受 "text"（默认）或 "json"。
func SetFormat(format string) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sinkJSON = strings.EqualFold(strings.TrimSpace(format), "json")
	rebuild()
}

// ParseLevel 解析 debug/info/warn(ing)/error；未知值返回 info 与 false。
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func SetLevel(s string) {
	lv, ok := ParseLevel(s)
	level.Set(lv)
	if !ok && strings.TrimSpace(s) != "" {
		Warnf("unknown log level %q, using info", s)
	}
}

func logf(lv slog.Level, format string, v ...any) {
	l := active.Load()
	ctx := context.Background()
	if !l.Enabled(ctx, lv) {
		return
	}
	l.Log(ctx, lv, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) { logf(slog.LevelDebug, format, v...) }

func Infof(format string, v ...any) { logf(slog.LevelInfo, format, v...) }

func Warnf(format string, v ...any) { logf(slog.LevelWarn, format, v...) }

func Errorf(format string, v ...any) { logf(slog.LevelError, format, v...) }
