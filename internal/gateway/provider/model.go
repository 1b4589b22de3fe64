package provider

import "context"

// ChatPayload 是一次补全请求的输入。
type ChatPayload struct {
	System    string
	User      string
	MaxTokens int
}

// Response 保留供应商返回的三个文本通道，由调用方决定取用顺序。
type Response struct {
	Content          string `json:"content"`
	Reasoning        string `json:"reasoning,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`

	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Endpoint     string `json:"endpoint"`
	FinishReason string `json:"finish_reason,omitempty"`
	Attempts     int    `json:"attempts"`
}

// Empty reports whether every text channel is blank.
func (r Response) Empty() bool {
	return isBlank(r.Content) && isBlank(r.Reasoning) && isBlank(r.ReasoningContent)
}

// ModelProvider 是 LLM 提供方抽象。
type ModelProvider interface {
	ID() string
	Enabled() bool

	Complete(ctx context.Context, payload ChatPayload) (Response, error)
}

// Caller 是单个 endpoint 上的一次调用，不做重试。
type Caller interface {
	Endpoint() string
	Complete(ctx context.Context, payload ChatPayload) (Response, error)
}

func isBlank(s string) bool {
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
		default:
			return false
		}
	}
	return true
}
