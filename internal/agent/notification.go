package agent

import (
	"fmt"

	"arena/internal/decision"
	"arena/internal/gateway/notifier"
	"arena/internal/store/gormstore"
)

// cycleMessage 生成周期推送：中止、全部 hold、有可执行决策三类；其余不推送。
func cycleMessage(res CycleResult) (notifier.Alert, bool) {
	msg := notifier.Alert{
		Footer: fmt.Sprintf("trace=%s template=%s", res.TraceID, res.Template),
		At:     res.FinishedAt,
	}
	switch res.Status {
	case gormstore.CycleAborted:
		msg.Kind = notifier.AlertAbort
		msg.Title = fmt.Sprintf("决策中止 | %s", res.Account)
		errText := "unknown"
		if res.Err != nil {
			errText = res.Err.Error()
		}
		msg.Sections = []notifier.Section{{Title: "原因", Lines: []string{errText}}}
	case gormstore.CycleAllHold:
		msg.Kind = notifier.AlertHold
		msg.Title = fmt.Sprintf("全部观望 | %s", res.Account)
		msg.Sections = []notifier.Section{
			{Title: "行情", Lines: []string{regimeLine(res)}},
			{Title: "诊断", Lines: diagnosticLines(res.Report), MaxLines: 8},
		}
	case gormstore.CycleOK:
		msg.Kind = notifier.AlertOK
		msg.Title = fmt.Sprintf("决策 | %s", res.Account)
		var lines []string
		for _, d := range res.Report.Actionable() {
			lines = append(lines, d.Brief())
		}
		msg.Sections = []notifier.Section{
			{Title: "行情", Lines: []string{regimeLine(res)}},
			{Title: "操作", Lines: lines},
			{Title: "诊断", Lines: diagnosticLines(res.Report), MaxLines: 8},
		}
	default:
		return msg, false
	}
	return msg, true
}

func regimeLine(res CycleResult) string {
	return fmt.Sprintf("%s avg24h=%+.2f%% lev_cap=%d bias=%s",
		res.Regime.Label, res.Regime.AvgChange, res.Regime.LeverageCap, res.Regime.Bias)
}

func diagnosticLines(rep decision.Report) []string {
	diags := rep.Diagnostics()
	out := make([]string, 0, len(diags))
	for _, d := range diags {
		out = append(out, fmt.Sprintf("[%s] %s %s: %s -> %s", d.Severity, d.Symbol, d.Rule, d.Original, d.Final))
	}
	return out
}
