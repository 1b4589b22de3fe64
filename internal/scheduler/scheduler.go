package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"arena/internal/logger"
)

// Task 在每个调度点被调用一次，at 为计划触发时间（UTC）。
type Task func(ctx context.Context, at time.Time)

// Scheduler 阻塞运行直到 ctx 结束。任务异步派发，上一轮未结束时新一轮照常触发，
// 由调用方决定如何处理重叠。
type Scheduler interface {
	Run(ctx context.Context, task Task) error
}

// New 按配置选择调度器：cron 表达式优先，否则按固定周期对齐。
func New(cronSpec string, interval, offset time.Duration, runImmediately bool) (Scheduler, error) {
	if cronSpec != "" {
		return NewCronScheduler(cronSpec, runImmediately)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be > 0, got %s", interval)
	}
	s := NewAlignedScheduler(interval, offset)
	s.RunImmediately = runImmediately
	return s, nil
}

// AlignedScheduler 在 interval 的整点边界加 offset 处触发，例如 15m/30s 表示每个 15 分钟边界后 30 秒。
type AlignedScheduler struct {
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAlignedScheduler(interval, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
	}
}

func (s *AlignedScheduler) Run(ctx context.Context, task Task) error {
	if task == nil {
		return fmt.Errorf("scheduler: task is nil")
	}
	if s.Interval <= 0 {
		return fmt.Errorf("scheduler: invalid interval=%s", s.Interval)
	}
	if s.Offset < 0 {
		logger.Warnf("AlignedScheduler: negative offset=%s, clamp to 0", s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	fire := func(at time.Time) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task(ctx, at)
		}()
	}

	startAt := s.nowFn().UTC()
	logger.Infof("AlignedScheduler: started interval=%s offset=%s run_immediately=%v at=%s",
		s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))
	if s.RunImmediately {
		logger.Infof("AlignedScheduler: RunImmediately=true, execute once before alignment loop")
		fire(startAt)
	}

	for {
		now := s.nowFn().UTC()
		boundary, wakeAt := s.NextRun(now)
		wait := wakeAt.Sub(now)
		logger.Infof("AlignedScheduler: 距离周期边界=%s (边界=%s) 将在=%s 执行下一轮 (in %s) | uptime=%s",
			boundary.Sub(now).Truncate(time.Second),
			boundary.Format(time.RFC3339),
			wakeAt.Format(time.RFC3339),
			wait.Truncate(time.Second),
			now.Sub(startAt).Truncate(time.Second),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("AlignedScheduler: ctx done, exit")
			return nil
		case <-timer.C:
		}
		fire(wakeAt)
	}
}

// NextRun 返回 now 之后的下一个周期边界及实际触发时间。
func (s *AlignedScheduler) NextRun(now time.Time) (boundary, wakeAt time.Time) {
	now = now.UTC()
	boundary = now.Truncate(s.Interval)
	wakeAt = boundary.Add(s.Offset)
	for !wakeAt.After(now) {
		boundary = boundary.Add(s.Interval)
		wakeAt = boundary.Add(s.Offset)
	}
	return boundary, wakeAt
}
