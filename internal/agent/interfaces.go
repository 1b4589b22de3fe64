package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"arena/internal/decision"
	"arena/internal/flipflop"
	"arena/internal/market"
	"arena/internal/prompt"
	"arena/internal/store/gormstore"
)

// ExecutionRequest 是一轮校验后交给执行引擎的决策集合。
type ExecutionRequest struct {
	Account   string
	TraceID   string
	Decisions []decision.Decision
	Snapshot  market.Snapshot
}

// Executor 接收校验后的决策。实现方成交后通过 ConfirmationSink 回报。
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) error
}

// Confirmation 是执行引擎对单笔成交的回报。
type Confirmation struct {
	Account   string             `json:"account"`
	TraceID   string             `json:"trace_id,omitempty"`
	Symbol    string             `json:"symbol"`
	Operation decision.Operation `json:"operation"`
	FilledAt  time.Time          `json:"filled_at"`
}

// Direction 把操作映射为反手保护使用的方向；hold 不产生方向。
func (c Confirmation) Direction() (flipflop.Direction, error) {
	switch decision.Operation(strings.ToLower(string(c.Operation))) {
	case decision.OpBuy:
		return flipflop.Long, nil
	case decision.OpSell:
		return flipflop.Short, nil
	case decision.OpClose:
		return flipflop.Flat, nil
	default:
		return "", fmt.Errorf("operation %q does not produce a fill", c.Operation)
	}
}

// ConfirmationSink 消费成交回报。
type ConfirmationSink interface {
	Confirm(ctx context.Context, c Confirmation) error
}

// SnapshotCollector 为一轮决策采集行情。
type SnapshotCollector interface {
	Collect(ctx context.Context, symbols []string, series []market.SeriesRequest) (market.Snapshot, error)
}

// TemplateSource 按账户返回绑定的模板。
type TemplateSource interface {
	ForAccount(accountID string) prompt.Template
}

// GuardReader 读取反手保护的只读快照。
type GuardReader interface {
	Snapshot(ctx context.Context, account string) (flipflop.Snapshot, error)
}

// AuditLog 持久化每一轮的审计记录。
type AuditLog interface {
	SaveCycle(ctx context.Context, rec gormstore.CycleRecord) error
}

// PriceHistory 提供近期价格采样，供 sampling_data 变量使用。
type PriceHistory interface {
	History(symbol string) []float64
}
