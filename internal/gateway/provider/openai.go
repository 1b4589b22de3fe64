package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"arena/internal/logger"
)

// OpenAIChatClient 兼容 OpenAI / DeepSeek / Qwen / OpenRouter 的 /chat/completions 接口。
type OpenAIChatClient struct {
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	Temperature  float64
	ExtraHeaders map[string]string
	HTTPClient   *http.Client
}

func (c *OpenAIChatClient) Endpoint() string {
	return chatURL(c.BaseURL)
}

// chatURL 规范化 BaseURL，避免配置里已经写了 /chat/completions 导致路径重复。
func chatURL(base string) string {
	url := strings.TrimRight(strings.TrimSpace(base), "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

// IsReasoningModel 推理模型不接受 temperature，且使用 max_completion_tokens。
func IsReasoningModel(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	if idx := strings.LastIndex(m, "/"); idx >= 0 {
		m = m[idx+1:]
	}
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return strings.Contains(m, "reasoner") || strings.Contains(m, "-r1") || strings.Contains(m, "thinking")
}

func (c *OpenAIChatClient) buildBody(payload ChatPayload) ([]byte, error) {
	messages := make([]map[string]string, 0, 2)
	if payload.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": payload.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": payload.User})
	body := map[string]any{"model": c.Model, "messages": messages}
	if IsReasoningModel(c.Model) {
		if payload.MaxTokens > 0 {
			body["max_completion_tokens"] = payload.MaxTokens
		}
	} else {
		temp := c.Temperature
		if temp == 0 {
			temp = 0.5
		}
		body["temperature"] = temp
		if payload.MaxTokens > 0 {
			body["max_tokens"] = payload.MaxTokens
		}
	}
	return json.Marshal(body)
}

type chatResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content          string `json:"content"`
			Reasoning        string `json:"reasoning"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete 发起一次请求，不做重试；非 2xx 返回 *StatusError。
func (c *OpenAIChatClient) Complete(ctx context.Context, payload ChatPayload) (Response, error) {
	url := chatURL(c.BaseURL)
	b, err := c.buildBody(payload)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}
	logger.Debugf("[AI] 请求: POST %s, headers=%v, bytes=%d", url, c.maskedHeaders(), len(b))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	for k, v := range c.ExtraHeaders {
		req.Header.Set(k, v)
	}
	httpc := c.HTTPClient
	if httpc == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpc = &http.Client{Timeout: timeout}
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return Response{}, statusError(resp)
	}
	var r chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if len(r.Choices) == 0 {
		return Response{}, fmt.Errorf("empty choices")
	}
	msg := r.Choices[0].Message
	return Response{
		Content:          msg.Content,
		Reasoning:        msg.Reasoning,
		ReasoningContent: msg.ReasoningContent,
		Model:            c.Model,
		Endpoint:         url,
		FinishReason:     r.Choices[0].FinishReason,
	}, nil
}

func statusError(resp *http.Response) error {
	var eresp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &eresp)
	msg := strings.TrimSpace(eresp.Error.Message)
	if msg == "" {
		msg = resp.Status
	}
	se := &StatusError{Code: resp.StatusCode, Message: msg}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			se.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return se
}

// maskedHeaders 对可能包含敏感信息的头做掩码，仅展示后 4 位。
func (c *OpenAIChatClient) maskedHeaders() map[string]string {
	out := map[string]string{"Content-Type": "application/json"}
	if c.APIKey != "" {
		out["Authorization"] = "Bearer " + mask(c.APIKey)
	}
	for k, v := range c.ExtraHeaders {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "key") || strings.Contains(lk, "token") || strings.Contains(lk, "auth") {
			v = mask(v)
		}
		out[k] = v
	}
	return out
}

func mask(v string) string {
	if len(v) > 4 {
		return "****" + v[len(v)-4:]
	}
	return "****"
}
