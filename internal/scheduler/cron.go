package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"arena/internal/logger"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronScheduler 使用带秒字段的 cron 表达式，时区固定为 UTC。
type CronScheduler struct {
	Spec           string
	RunImmediately bool

	schedule cron.Schedule
}

func NewCronScheduler(spec string, runImmediately bool) (*CronScheduler, error) {
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse cron %q: %w", spec, err)
	}
	return &CronScheduler{Spec: spec, RunImmediately: runImmediately, schedule: schedule}, nil
}

// Next 返回 now 之后的下一次触发时间。
func (s *CronScheduler) Next(now time.Time) time.Time {
	return s.schedule.Next(now.UTC())
}

func (s *CronScheduler) Run(ctx context.Context, task Task) error {
	if task == nil {
		return fmt.Errorf("scheduler: task is nil")
	}
	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC))
	var wg sync.WaitGroup
	if _, err := c.AddFunc(s.Spec, func() {
		wg.Add(1)
		defer wg.Done()
		task(ctx, time.Now().UTC())
	}); err != nil {
		return fmt.Errorf("scheduler: register cron %q: %w", s.Spec, err)
	}
	logger.Infof("CronScheduler: started spec=%q run_immediately=%v next=%s",
		s.Spec, s.RunImmediately, s.Next(time.Now()).Format(time.RFC3339))
	if s.RunImmediately {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task(ctx, time.Now().UTC())
		}()
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	wg.Wait()
	logger.Infof("CronScheduler: ctx done, exit")
	return nil
}
