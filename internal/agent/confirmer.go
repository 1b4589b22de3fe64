package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"arena/internal/flipflop"
	"arena/internal/logger"
	"arena/internal/market"
	"arena/internal/store/gormstore"
)

// ExecutionLog 记录成交回报。
type ExecutionLog interface {
	SaveExecution(ctx context.Context, rec gormstore.ExecutionRecord) error
}

// Confirmer 把成交回报写入反手保护，并附带记录到审计库。
type Confirmer struct {
	Guard *flipflop.Guard
	Log   ExecutionLog
	nowFn func() time.Time
}

func NewConfirmer(guard *flipflop.Guard, log ExecutionLog) *Confirmer {
	return &Confirmer{Guard: guard, Log: log, nowFn: time.Now}
}

func (c *Confirmer) Confirm(ctx context.Context, conf Confirmation) error {
	if c == nil || c.Guard == nil {
		return fmt.Errorf("confirmer not configured")
	}
	dir, err := conf.Direction()
	if err != nil {
		return err
	}
	conf.Symbol = market.NormalizeSymbol(conf.Symbol)
	conf.Account = strings.TrimSpace(conf.Account)
	if conf.FilledAt.IsZero() {
		conf.FilledAt = c.nowFn()
	}
	if err := c.Guard.Confirm(ctx, flipflop.Confirmation{
		Account:   conf.Account,
		Symbol:    conf.Symbol,
		Direction: dir,
		FilledAt:  conf.FilledAt,
	}); err != nil {
		return fmt.Errorf("apply confirmation: %w", err)
	}
	if c.Log != nil {
		rec := gormstore.ExecutionRecord{
			Account:   conf.Account,
			TraceID:   conf.TraceID,
			Symbol:    conf.Symbol,
			Direction: string(dir),
			Operation: string(conf.Operation),
			FilledAt:  conf.FilledAt,
		}
		if err := c.Log.SaveExecution(ctx, rec); err != nil {
			logger.Warnf("Confirmer: 成交记录写入失败 account=%s symbol=%s err=%v", conf.Account, conf.Symbol, err)
		}
	}
	logger.Infof("Confirmer: 成交确认 account=%s symbol=%s op=%s dir=%s at=%s",
		conf.Account, conf.Symbol, conf.Operation, dir, conf.FilledAt.UTC().Format(time.RFC3339))
	return nil
}
