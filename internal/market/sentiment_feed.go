package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"arena/internal/logger"

	"github.com/tidwall/gjson"
)

const (
	sentimentErrorBackoff   = 2 * time.Minute
	sentimentFallbackUpdate = 12 * time.Hour
)

// SentimentPoint 是恐惧贪婪指数的一个采样。
type SentimentPoint struct {
	Value          int       `json:"value"`
	Classification string    `json:"classification"`
	Timestamp      time.Time `json:"timestamp"`
}

// SentimentFeed 拉取 alternative.me 风格的恐惧贪婪指数并缓存到下次发布时间，
// 作为 NewsProvider 为 news_section 提供文本。
type SentimentFeed struct {
	endpoint string
	client   *http.Client
	nowFn    func() time.Time

	mu         sync.RWMutex
	points     []SentimentPoint
	nextUpdate time.Time
	lastErr    error
	refreshMu  sync.Mutex
}

func NewSentimentFeed(endpoint string, timeout time.Duration) *SentimentFeed {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SentimentFeed{
		endpoint: strings.TrimSpace(endpoint),
		client:   &http.Client{Timeout: timeout},
		nowFn:    time.Now,
	}
}

// Latest 返回最新指数及近几期走势。拉取失败且无缓存时返回错误。
func (f *SentimentFeed) Latest(ctx context.Context, _ []string) (string, error) {
	f.refreshIfStale(ctx)
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.points) == 0 {
		if f.lastErr != nil {
			return "", f.lastErr
		}
		return "", fmt.Errorf("sentiment feed empty")
	}
	latest := f.points[0]
	var b strings.Builder
	fmt.Fprintf(&b, "Crypto Fear & Greed Index: %d (%s)", latest.Value, latest.Classification)
	if len(f.points) > 1 {
		vals := make([]string, 0, len(f.points)-1)
		for _, p := range f.points[1:] {
			vals = append(vals, fmt.Sprintf("%d", p.Value))
		}
		fmt.Fprintf(&b, "\nPrevious readings (newest first): %s", strings.Join(vals, ", "))
	}
	return b.String(), nil
}

func (f *SentimentFeed) refreshIfStale(ctx context.Context) {
	now := f.nowFn()
	f.mu.RLock()
	fresh := !f.nextUpdate.IsZero() && now.Before(f.nextUpdate)
	f.mu.RUnlock()
	if fresh {
		return
	}
	f.refreshMu.Lock()
	defer f.refreshMu.Unlock()
	f.mu.RLock()
	fresh = !f.nextUpdate.IsZero() && now.Before(f.nextUpdate)
	f.mu.RUnlock()
	if fresh {
		return
	}
	points, until, err := f.fetch(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		logger.Warnf("Fear & Greed 刷新失败: %v", err)
		f.lastErr = err
		f.nextUpdate = now.Add(sentimentErrorBackoff)
		return
	}
	f.points = points
	f.lastErr = nil
	if until <= 0 {
		until = sentimentFallbackUpdate
	}
	f.nextUpdate = now.Add(until)
}

func (f *SentimentFeed) fetch(ctx context.Context) ([]SentimentPoint, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, 0, fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, err
	}
	if !gjson.ValidBytes(body) {
		return nil, 0, fmt.Errorf("invalid json payload")
	}
	doc := gjson.ParseBytes(body)
	if e := doc.Get("metadata.error"); e.Exists() && e.Type != gjson.Null {
		return nil, 0, fmt.Errorf("api error: %s", e.String())
	}
	var points []SentimentPoint
	doc.Get("data").ForEach(func(_, item gjson.Result) bool {
		v := item.Get("value")
		if !v.Exists() || strings.TrimSpace(v.String()) == "" {
			return true
		}
		p := SentimentPoint{
			Value:          int(v.Int()),
			Classification: strings.TrimSpace(item.Get("value_classification").String()),
		}
		if ts := item.Get("timestamp").Int(); ts > 0 {
			p.Timestamp = time.Unix(ts, 0).UTC()
		}
		points = append(points, p)
		return true
	})
	if len(points) == 0 {
		return nil, 0, fmt.Errorf("api data empty")
	}
	until := time.Duration(doc.Get("data.0.time_until_update").Int()) * time.Second
	return points, until, nil
}
