package notifier

import (
	"fmt"
	"strings"
	"time"

	"arena/internal/pkg/text"
)

// Telegram 单条上限 4096，留出 Markdown 包裹的余量。
const maxAlertLen = 3800

// AlertKind 决定推送的图标。
type AlertKind int

const (
	AlertInfo AlertKind = iota
	AlertOK
	AlertHold
	AlertAbort
	AlertWarning
)

func (k AlertKind) Icon() string {
	switch k {
	case AlertOK:
		return "✅"
	case AlertHold:
		return "⏸"
	case AlertAbort:
		return "⛔"
	case AlertWarning:
		return "⚠️"
	default:
		return ""
	}
}

// Section 是代码块内的一段，空行会被丢弃；MaxLines>0 时超出部分折叠为一行计数。
type Section struct {
	Title    string
	Lines    []string
	MaxLines int
}

func (s Section) lines() []string {
	out := make([]string, 0, len(s.Lines))
	for _, line := range s.Lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	if s.MaxLines > 0 && len(out) > s.MaxLines {
		hidden := len(out) - s.MaxLines
		out = append(out[:s.MaxLines], fmt.Sprintf("... %d more", hidden))
	}
	return out
}

// Alert 是一次周期推送：标题行、等宽段落、页脚与 UTC 时间。
type Alert struct {
	Kind     AlertKind
	Title    string
	Sections []Section
	Footer   string
	At       time.Time
}

// Markdown 渲染为 Telegram Markdown，超长截断。
func (a Alert) Markdown() string {
	var parts []string
	if head := strings.TrimSpace(a.Kind.Icon() + " " + a.Title); head != "" {
		parts = append(parts, head)
	}
	var body []string
	for _, sec := range a.Sections {
		lines := sec.lines()
		if len(lines) == 0 {
			continue
		}
		block := make([]string, 0, len(lines)+1)
		if title := strings.TrimSpace(sec.Title); title != "" {
			block = append(block, escapeFence(title))
		}
		for _, line := range lines {
			block = append(block, "- "+escapeFence(line))
		}
		body = append(body, strings.Join(block, "\n"))
	}
	if len(body) > 0 {
		parts = append(parts, "```\n"+strings.Join(body, "\n\n")+"\n```")
	}
	var tail []string
	if footer := strings.TrimSpace(a.Footer); footer != "" {
		tail = append(tail, escapeFence(footer))
	}
	if !a.At.IsZero() {
		tail = append(tail, "时间："+a.At.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	if len(tail) > 0 {
		parts = append(parts, strings.Join(tail, "\n"))
	}
	return text.Truncate(strings.Join(parts, "\n\n"), maxAlertLen)
}

// 内容里的 ``` 会提前闭合代码块。
func escapeFence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}
