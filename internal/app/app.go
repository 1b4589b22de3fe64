package app

import (
	"context"
	"fmt"
	"time"

	"arena/internal/agent"
	"arena/internal/config"
	"arena/internal/logger"
	"arena/internal/market"
	"arena/internal/scheduler"
	apihttp "arena/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

// maintenanceSpec 每小时清理过期价格并按保留期裁剪审计日志。
const maintenanceSpec = "7 * * * *"

// App 负责应用级编排：加载配置→初始化依赖→启动调度与 HTTP 服务。
type App struct {
	cfg         *config.Config
	coordinator *agent.Coordinator
	scheduler   scheduler.Scheduler
	server      *apihttp.Server
	market      *MarketStack
	stores      *Stores
	preheat     []market.SeriesRequest
	Summary     *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动调度器、维护任务与 HTTP 服务，直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil || a.coordinator == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}
	if len(a.preheat) > 0 && a.market != nil {
		n := market.NewPreheater(a.market.Source, a.market.Cache).Preheat(ctx, a.preheat)
		logger.Infof("✓ K线预热完成 %d/%d", n, len(a.preheat))
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.server != nil {
		group.Go(func() error {
			logger.Infof("✓ HTTP 服务监听 %s", a.server.Addr())
			if err := a.server.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.scheduler.Run(ctx, a.coordinator.Tick)
	})
	group.Go(func() error {
		maint, err := scheduler.NewCronScheduler(maintenanceSpec, false)
		if err != nil {
			return err
		}
		return maint.Run(ctx, a.maintain)
	})
	return group.Wait()
}

func (a *App) maintain(ctx context.Context, at time.Time) {
	if a.market != nil {
		if pc, ok := a.market.Prices.(interface{ ClearExpired() }); ok {
			pc.ClearExpired()
		}
	}
	if a.stores == nil || a.stores.Audit == nil {
		return
	}
	retention := a.cfg.Store.Retention()
	if retention <= 0 {
		return
	}
	n, err := a.stores.Audit.PruneCycles(ctx, at.Add(-retention))
	if err != nil {
		logger.Warnf("裁剪审计日志失败: %v", err)
		return
	}
	if n > 0 {
		logger.Infof("已裁剪 %d 条超过 %s 的审计记录", n, retention)
	}
}

// Close 释放行情源与存储。
func (a *App) Close() {
	if a == nil {
		return
	}
	a.market.Close()
	a.stores.Close()
}

// Coordinator exposes the cycle coordinator (for tests and manual runs).
func (a *App) Coordinator() *agent.Coordinator {
	if a == nil {
		return nil
	}
	return a.coordinator
}
