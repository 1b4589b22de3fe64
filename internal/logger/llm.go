package logger

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// LLM 往返记录单独落盘，便于排查模型输出。
var transcript struct {
	sync.Mutex
	w           io.Writer
	dumpPayload bool
}

// SetLLMWriter 设置 LLM 记录输出；nil 关闭。
func SetLLMWriter(w io.Writer) {
	transcript.Lock()
	transcript.w = w
	transcript.Unlock()
}

// EnableLLMPayloadDump 打开后请求记录附带 system prompt。
func EnableLLMPayloadDump(enabled bool) {
	transcript.Lock()
	transcript.dumpPayload = enabled
	transcript.Unlock()
}

// LLMSection 是记录中的一个带标题正文块，空正文跳过。
type LLMSection struct {
	Title string
	Body  string
}

// LogLLMRequest 记录一次周期发出的 prompt。
func LogLLMRequest(account, provider, traceID, prompt, payload string) {
	sections := []LLMSection{{Title: "PROMPT", Body: prompt}}
	transcript.Lock()
	dump := transcript.dumpPayload
	transcript.Unlock()
	if dump {
		sections = append(sections, LLMSection{Title: "PAYLOAD", Body: payload})
	}
	writeTranscript("request", account, provider, traceID, sections)
}

// LogLLMResponse 记录模型返回的各个文本通道。
func LogLLMResponse(account, provider, traceID string, sections ...LLMSection) {
	writeTranscript("response", account, provider, traceID, sections)
}

func writeTranscript(kind, account, provider, traceID string, sections []LLMSection) {
	transcript.Lock()
	defer transcript.Unlock()
	if transcript.w == nil {
		return
	}
	fmt.Fprint(transcript.w, formatTranscript(time.Now(), kind, account, provider, traceID, sections))
}

func formatTranscript(at time.Time, kind, account, provider, traceID string, sections []LLMSection) string {
	var tags []string
	for _, tag := range []string{kind, account, provider, traceID} {
		if tag != "" {
			tags = append(tags, "["+tag+"]")
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s [LLM]%s\n", at.Format("2006/01/02 15:04:05"), strings.Join(tags, ""))
	for _, sec := range sections {
		if strings.TrimSpace(sec.Body) == "" {
			continue
		}
		title := strings.TrimSpace(sec.Title)
		if title == "" {
			title = "CONTENT"
		}
		fmt.Fprintf(&b, "--- %s ---\n%s\n", title, strings.TrimRight(sec.Body, "\n"))
	}
	b.WriteString("=====\n")
	return b.String()
}
