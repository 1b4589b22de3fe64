package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"arena/internal/logger"

	"github.com/jpillora/backoff"
)

const defaultTelegramAPI = "https://api.telegram.org"

// Telegram 通知器：周期中止或降级为全部 hold 时推送到指定群/频道。
type Telegram struct {
	BotToken string
	ChatID   string
	BaseURL  string
	Attempts int
	Client   *http.Client

	backoff *backoff.Backoff
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		BotToken: botToken,
		ChatID:   chatID,
		BaseURL:  defaultTelegramAPI,
		Attempts: 3,
		Client:   &http.Client{Timeout: 15 * time.Second},
		backoff:  &backoff.Backoff{Min: time.Second, Max: 5 * time.Second, Factor: 2, Jitter: true},
	}
}

// SendText 发送文本消息，失败时按退避重试 Attempts 次。
func (t *Telegram) SendText(ctx context.Context, text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("Telegram 配置不完整")
	}
	base := strings.TrimRight(t.BaseURL, "/")
	if base == "" {
		base = defaultTelegramAPI
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", base, t.BotToken)
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}
	attempts := t.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	b := t.backoff
	if b == nil {
		b = &backoff.Backoff{Min: time.Second, Max: 5 * time.Second, Factor: 2, Jitter: true}
	}
	b.Reset()

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.Duration()):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.Client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("telegram: %s", strings.ReplaceAll(err.Error(), t.BotToken, "***"))
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return nil
		}
		lastErr = fmt.Errorf("telegram status=%d", resp.StatusCode)
		logger.Warnf("[notify] telegram attempt %d/%d failed: %v", i+1, attempts, lastErr)
	}
	return lastErr
}
