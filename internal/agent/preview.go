package agent

import (
	"context"
	"fmt"
	"strings"

	"arena/internal/config"
	"arena/internal/prompt"
	"arena/internal/regime"
)

// PreviewResult 是一次预览渲染的结果。
type PreviewResult struct {
	Account  string                `json:"account"`
	Template string                `json:"template"`
	Prompt   string                `json:"prompt"`
	Missing  []string              `json:"missing,omitempty"`
	Regime   regime.Classification `json:"regime"`
}

// Preview 用实时数据渲染模板，未知变量原样保留并列出；不调用模型、不写审计。
// text 为空时使用账户绑定的模板。
func (r *CycleRunner) Preview(ctx context.Context, acc config.AccountConfig, text string) (PreviewResult, error) {
	tpl := prompt.Template{Key: "inline", Text: text}
	if strings.TrimSpace(text) == "" {
		tpl = r.Templates.ForAccount(acc.ID)
	}
	inputs, err := r.gather(ctx, acc, tpl)
	if err != nil {
		return PreviewResult{}, err
	}
	out, missing, err := prompt.NewRenderer(prompt.BuildStandardRegistry(inputs), prompt.RenderOptions{
		DefaultCount: r.Options.DefaultCount,
		MaxCount:     r.Options.MaxCount,
	}).Preview(tpl.Text)
	if err != nil {
		return PreviewResult{}, err
	}
	return PreviewResult{Account: acc.ID, Template: tpl.Key, Prompt: out, Missing: missing, Regime: inputs.Regime}, nil
}

// Regime 采集锚定币种并给出当前行情状态。
func (r *CycleRunner) Regime(ctx context.Context) (regime.Classification, error) {
	symbols := append([]string(nil), r.Options.AnchorSymbols...)
	if r.Options.Benchmark != "" {
		symbols = append(symbols, r.Options.Benchmark)
	}
	snap, err := r.Collector.Collect(ctx, symbols, nil)
	if err != nil {
		return regime.Classification{}, fmt.Errorf("collect anchors: %w", err)
	}
	return r.Classifier.FromSnapshot(snap, r.Options.AnchorSymbols), nil
}
