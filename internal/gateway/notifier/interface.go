package notifier

import "context"

// TextNotifier 是最小的文本推送接口，调用方不依赖具体实现。
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}

// Noop 丢弃所有消息，未配置 Telegram 时使用。
type Noop struct{}

func (Noop) SendText(context.Context, string) error { return nil }
