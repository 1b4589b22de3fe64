package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"arena/internal/agent"
	"arena/internal/config"
	"arena/internal/market"
	"arena/internal/prompt"
)

type StartupSummary struct {
	Env       string
	HTTPAddr  string
	Schedule  string
	Models    []string
	Accounts  []AccountDetail
	Anchors   []string
	Benchmark string
	Preheat   []string
}

type AccountDetail struct {
	ID          string
	Environment string
	Executor    string
	Model       string
	Template    string
	Symbols     []string
	Capital     float64
	MaxLeverage int
}

func buildSummary(cfg *config.Config, accounts []config.AccountConfig, catalog *prompt.Catalog, providers *agent.ProviderSet, preheat []market.SeriesRequest) *StartupSummary {
	s := &StartupSummary{
		Env:       cfg.App.Env,
		HTTPAddr:  cfg.App.HTTPAddr,
		Models:    providers.IDs(),
		Anchors:   cfg.Risk.AnchorSymbols,
		Benchmark: cfg.Risk.Benchmark,
	}
	if cfg.Scheduler.Cron != "" {
		s.Schedule = "cron " + cfg.Scheduler.Cron
	} else {
		s.Schedule = fmt.Sprintf("every %s (+%s)", cfg.Scheduler.IntervalDuration(), cfg.Scheduler.Offset())
	}
	for _, acc := range accounts {
		model := acc.Model
		if model == "" {
			model = "(preference)"
		}
		s.Accounts = append(s.Accounts, AccountDetail{
			ID:          acc.ID,
			Environment: acc.Environment,
			Executor:    acc.Executor,
			Model:       model,
			Template:    catalog.ForAccount(acc.ID).Key,
			Symbols:     acc.Symbols,
			Capital:     acc.InitialCapital,
			MaxLeverage: acc.MaxLeverage,
		})
	}
	for _, r := range preheat {
		s.Preheat = append(s.Preheat, fmt.Sprintf("%s@%s(%d)", r.Symbol, r.Period, r.Count))
	}
	return s
}

func (s *StartupSummary) Print() {
	s.Fprint(os.Stdout)
}

func (s *StartupSummary) Fprint(w io.Writer) {
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[运行环境 (RUNTIME)]")
	fmt.Fprintf(w, "  环境: %s\n", s.Env)
	fmt.Fprintf(w, "  HTTP: %s\n", s.HTTPAddr)
	fmt.Fprintf(w, "  调度: %s\n", s.Schedule)
	fmt.Fprintf(w, "  模型: %s\n", formatList(s.Models))
	fmt.Fprintf(w, "  锚定币种: %s (基准 %s)\n", formatList(s.Anchors), s.Benchmark)
	fmt.Fprintf(w, "  K线预热: %s\n", formatList(s.Preheat))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[账户配置 (ACCOUNTS)]")
	if len(s.Accounts) == 0 {
		fmt.Fprintln(w, "  (无配置)")
	}
	for _, acc := range s.Accounts {
		fmt.Fprintf(w, "  > %s (%s, 执行=%s)\n", acc.ID, acc.Environment, acc.Executor)
		fmt.Fprintf(w, "    模型: %s  模板: %s\n", acc.Model, acc.Template)
		fmt.Fprintf(w, "    资金: %.2f  最大杠杆: %dx\n", acc.Capital, acc.MaxLeverage)
		fmt.Fprintf(w, "    币种: %s\n", formatList(acc.Symbols))
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
