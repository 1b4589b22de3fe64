package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"arena/internal/config"
	"arena/internal/decision"
	"arena/internal/gateway/notifier"
	"arena/internal/gateway/provider"
	"arena/internal/logger"
	"arena/internal/market"
	"arena/internal/pkg/jsonutil"
	"arena/internal/prompt"
	"arena/internal/regime"
	"arena/internal/store/gormstore"
	"arena/internal/trace"

	"github.com/google/uuid"
)

// ErrStaleCycle 表示本轮在完成前已被同账户的新一轮取代，输出被整体丢弃。
var ErrStaleCycle = errors.New("cycle superseded by a newer generation")

const defaultSystemPrompt = "You are a disciplined crypto perpetual futures trader. " +
	"Follow the output format exactly and never invent market data."

// CycleOptions 是 CycleRunner 的静态参数。
type CycleOptions struct {
	AnchorSymbols []string
	Benchmark     string
	RecentTrades  int
	Strict        bool
	DefaultCount  int
	MaxCount      int
	MaxTokens     int
	SystemPrompt  string
}

// Ticket 标识一次周期的代次；Current 为 false 时本轮结果作废。
// Commit 在代次仍有效时原子地执行下单阶段，返回 false 表示已被取代。
type Ticket struct {
	Generation uint64
	Current    func() bool
	Commit     func(fn func()) bool
}

func (t Ticket) stale() bool {
	return t.Current != nil && !t.Current()
}

func (t Ticket) commit(fn func()) bool {
	if t.Commit != nil {
		return t.Commit(fn)
	}
	if t.stale() {
		return false
	}
	fn()
	return true
}

// CycleResult 是一轮决策的结果摘要。
type CycleResult struct {
	TraceID    string                `json:"trace_id"`
	Account    string                `json:"account"`
	Generation uint64                `json:"generation"`
	Status     gormstore.CycleStatus `json:"status"`
	Template   string                `json:"template"`
	Provider   string                `json:"provider,omitempty"`
	Regime     regime.Classification `json:"regime"`
	Report     decision.Report       `json:"report"`
	Prompt     string                `json:"-"`
	Response   *provider.Response    `json:"-"`
	Normalized *decision.Normalized  `json:"-"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Err        error                 `json:"-"`
}

// CycleRunner 串联单个账户的一轮决策：
// 采集 -> 行情状态 -> 渲染 -> 模型 -> 归一化 -> 校验 -> 审计 -> 通知 -> 执行。
type CycleRunner struct {
	Collector  SnapshotCollector
	Accounts   market.AccountProvider
	Trades     market.TradeHistoryProvider
	News       market.NewsProvider
	Templates  TemplateSource
	Providers  *ProviderSet
	Normalizer *decision.Normalizer
	Validator  *decision.Validator
	Classifier regime.Classifier
	Guard      GuardReader
	Audit      AuditLog
	Notifier   notifier.TextNotifier
	Prices     PriceHistory
	Executors  map[string]Executor
	Options    CycleOptions

	StartedAt time.Time
	nowFn     func() time.Time
}

func (r *CycleRunner) now() time.Time {
	if r.nowFn != nil {
		return r.nowFn()
	}
	return time.Now()
}

// Run 执行一轮。TemplateError、ProviderError、行情或账户读取失败时中止并返回错误；
// 模型输出不可用时退化为全部 hold，不返回错误。
func (r *CycleRunner) Run(ctx context.Context, acc config.AccountConfig, ticket Ticket) (res CycleResult) {
	res = CycleResult{
		TraceID:    uuid.NewString(),
		Account:    acc.ID,
		Generation: ticket.Generation,
		StartedAt:  r.now().UTC(),
	}
	ctx, span := trace.StartSpan(ctx, "agent.cycle", "account", acc.ID, "trace_id", res.TraceID)
	defer func() {
		res.FinishedAt = r.now().UTC()
		if res.Status == gormstore.CycleAborted {
			trace.End(span, res.Err)
		} else {
			trace.End(span, nil)
		}
		r.record(ctx, res)
		r.notify(ctx, res)
	}()

	fail := func(err error) CycleResult {
		if ticket.stale() {
			return r.discard(res)
		}
		return r.abort(res, err)
	}

	logger.Infof("Cycle Start account=%s trace=%s gen=%d symbols=%v", acc.ID, res.TraceID, ticket.Generation, acc.Symbols)

	tpl := r.Templates.ForAccount(acc.ID)
	res.Template = tpl.Key
	inputs, err := r.gather(ctx, acc, tpl)
	if err != nil {
		return fail(err)
	}
	res.Regime = inputs.Regime

	rendered, err := r.render(ctx, tpl, inputs)
	if err != nil {
		return fail(err)
	}
	res.Prompt = rendered
	if ticket.stale() {
		return r.discard(res)
	}

	resp, err := r.complete(ctx, acc, res.TraceID, rendered)
	if err != nil {
		return fail(err)
	}
	res.Provider = resp.Provider
	res.Response = &resp
	if ticket.stale() {
		return r.discard(res)
	}

	norm, err := r.Normalizer.Normalize(resp)
	if err != nil {
		logger.Warnf("Cycle Unusable Response account=%s trace=%s err=%v", acc.ID, res.TraceID, err)
		res.Report = decision.AllHold(acc.Symbols, err.Error())
		res.Status = gormstore.CycleAllHold
		res.Err = err
		return res
	}
	res.Normalized = &norm
	logger.Debugf("Cycle Normalized account=%s trace=%s source=%s\n%s", acc.ID, res.TraceID, norm.Source, jsonutil.Pretty(norm.JSON))
	for _, w := range norm.Warnings {
		logger.Infof("Cycle Normalizer account=%s trace=%s source=%s warning=%s", acc.ID, res.TraceID, norm.Source, w)
	}

	guardSnap, err := r.Guard.Snapshot(ctx, acc.ID)
	if err != nil {
		return fail(err)
	}
	_, vspan := trace.StartSpan(ctx, "agent.validate", "account", acc.ID)
	res.Report = r.Validator.Validate(decision.Input{
		Entries:   norm.Entries,
		Symbols:   acc.Symbols,
		Snapshot:  inputs.Snapshot,
		Account:   inputs.Account,
		Positions: inputs.Positions,
		Regime:    inputs.Regime,
		Guard:     guardSnap,
		Now:       r.now(),
	})
	trace.End(vspan, nil)

	if ticket.stale() {
		return r.discard(res)
	}
	res.Status = gormstore.CycleOK
	if len(res.Report.Actionable()) == 0 {
		res.Status = gormstore.CycleAllHold
	}
	if !ticket.commit(func() { r.execute(ctx, acc, res, inputs.Snapshot) }) {
		return r.discard(res)
	}
	logger.Infof("Cycle End account=%s trace=%s status=%s actionable=%d diagnostics=%d",
		acc.ID, res.TraceID, res.Status, len(res.Report.Actionable()), len(res.Report.Diagnostics()))
	return res
}

func (r *CycleRunner) gather(ctx context.Context, acc config.AccountConfig, tpl prompt.Template) (prompt.Inputs, error) {
	ctx, span := trace.StartSpan(ctx, "agent.gather", "account", acc.ID)
	var err error
	defer func() { trace.End(span, err) }()

	var reqs []prompt.SeriesRequirement
	reqs, err = tpl.Requirements(r.Options.DefaultCount, r.Options.MaxCount)
	if err != nil {
		return prompt.Inputs{}, err
	}
	series := make([]market.SeriesRequest, 0, len(reqs))
	for _, req := range reqs {
		series = append(series, market.SeriesRequest{Symbol: req.Symbol, Period: req.Period, Count: req.Count})
	}
	symbols := append([]string(nil), acc.Symbols...)
	symbols = append(symbols, r.Options.AnchorSymbols...)
	if r.Options.Benchmark != "" {
		symbols = append(symbols, r.Options.Benchmark)
	}

	var snap market.Snapshot
	snap, err = r.Collector.Collect(ctx, symbols, series)
	if err != nil {
		err = fmt.Errorf("collect market data: %w", err)
		return prompt.Inputs{}, err
	}
	var state market.AccountState
	state, err = r.Accounts.AccountState(ctx, acc.ID)
	if err != nil {
		err = fmt.Errorf("load account state: %w", err)
		return prompt.Inputs{}, err
	}
	if state.MaxLeverage <= 0 {
		state.MaxLeverage = acc.MaxLeverage
	}
	if state.DefaultLeverage <= 0 {
		state.DefaultLeverage = acc.DefaultLeverage
	}
	var positions []market.Position
	positions, err = r.Accounts.Positions(ctx, acc.ID)
	if err != nil {
		err = fmt.Errorf("load positions: %w", err)
		return prompt.Inputs{}, err
	}
	var trades []market.TradeRecord
	if r.Trades != nil {
		trades, err = r.Trades.RecentTrades(ctx, acc.ID, r.Options.RecentTrades)
		if err != nil {
			err = fmt.Errorf("load trade history: %w", err)
			return prompt.Inputs{}, err
		}
	}
	var news string
	if r.News != nil {
		if n, nerr := r.News.Latest(ctx, acc.Symbols); nerr != nil {
			logger.Warnf("Cycle News unavailable account=%s err=%v", acc.ID, nerr)
		} else {
			news = n
		}
	}
	history := make(map[string][]float64, len(acc.Symbols))
	if r.Prices != nil {
		for _, sym := range acc.Symbols {
			history[sym] = r.Prices.History(sym)
		}
	}

	return prompt.Inputs{
		Now:            r.now(),
		StartedAt:      r.StartedAt,
		Environment:    acc.Environment,
		InitialCapital: acc.InitialCapital,
		Account:        state,
		Positions:      positions,
		Trades:         trades,
		Symbols:        acc.Symbols,
		Snapshot:       snap,
		News:           news,
		Regime:         r.Classifier.FromSnapshot(snap, r.Options.AnchorSymbols),
		History:        history,
	}, nil
}

func (r *CycleRunner) render(ctx context.Context, tpl prompt.Template, in prompt.Inputs) (string, error) {
	_, span := trace.StartSpan(ctx, "agent.render", "template", tpl.Key)
	reg := prompt.BuildStandardRegistry(in)
	out, err := prompt.NewRenderer(reg, prompt.RenderOptions{
		Strict:       r.Options.Strict,
		DefaultCount: r.Options.DefaultCount,
		MaxCount:     r.Options.MaxCount,
	}).Render(tpl.Text)
	trace.End(span, err)
	return out, err
}

func (r *CycleRunner) complete(ctx context.Context, acc config.AccountConfig, traceID, userPrompt string) (provider.Response, error) {
	p, err := r.Providers.Select(acc.Model)
	if err != nil {
		return provider.Response{}, &provider.ProviderError{Provider: acc.Model, Err: err}
	}
	ctx, span := trace.StartSpan(ctx, "agent.llm", "provider", p.ID())
	system := r.Options.SystemPrompt
	if strings.TrimSpace(system) == "" {
		system = defaultSystemPrompt
	}
	logger.LogLLMRequest(acc.ID, p.ID(), traceID, userPrompt, system)
	resp, err := p.Complete(ctx, provider.ChatPayload{System: system, User: userPrompt, MaxTokens: r.Options.MaxTokens})
	trace.End(span, err)
	if err != nil {
		var perr *provider.ProviderError
		if !errors.As(err, &perr) {
			err = &provider.ProviderError{Provider: p.ID(), Err: err}
		}
		return provider.Response{}, err
	}
	if resp.Provider == "" {
		resp.Provider = p.ID()
	}
	logger.LogLLMResponse(acc.ID, resp.Provider, traceID,
		logger.LLMSection{Title: "CONTENT", Body: resp.Content},
		logger.LLMSection{Title: "REASONING", Body: resp.Reasoning},
		logger.LLMSection{Title: "REASONING_CONTENT", Body: resp.ReasoningContent},
	)
	return resp, nil
}

func (r *CycleRunner) execute(ctx context.Context, acc config.AccountConfig, res CycleResult, snap market.Snapshot) {
	actionable := res.Report.Actionable()
	if len(actionable) == 0 {
		return
	}
	exec := r.Executors[acc.ID]
	if exec == nil {
		logger.Warnf("Cycle No executor account=%s trace=%s actionable=%d", acc.ID, res.TraceID, len(actionable))
		return
	}
	ctx, span := trace.StartSpan(ctx, "agent.execute", "account", acc.ID)
	err := exec.Execute(ctx, ExecutionRequest{Account: acc.ID, TraceID: res.TraceID, Decisions: actionable, Snapshot: snap})
	trace.End(span, err)
	if err != nil {
		logger.Errorf("Cycle Execute failed account=%s trace=%s err=%v", acc.ID, res.TraceID, err)
	}
}

func (r *CycleRunner) abort(res CycleResult, err error) CycleResult {
	res.Status = gormstore.CycleAborted
	res.Err = err
	res.Report = decision.Report{}
	kind := "cycle"
	var perr *provider.ProviderError
	switch {
	case errors.Is(err, prompt.ErrTemplate):
		kind = "template"
	case errors.As(err, &perr):
		kind = "provider"
	}
	logger.Errorf("Cycle Aborted account=%s trace=%s kind=%s err=%v", res.Account, res.TraceID, kind, err)
	return res
}

func (r *CycleRunner) discard(res CycleResult) CycleResult {
	logger.Warnf("Cycle Stale account=%s trace=%s gen=%d, output discarded", res.Account, res.TraceID, res.Generation)
	res.Status = gormstore.CycleStale
	res.Err = ErrStaleCycle
	res.Report = decision.Report{}
	return res
}

func (r *CycleRunner) record(ctx context.Context, res CycleResult) {
	if r.Audit == nil {
		return
	}
	rec := gormstore.CycleRecord{
		TraceID:    res.TraceID,
		Account:    res.Account,
		Generation: res.Generation,
		Template:   res.Template,
		Status:     res.Status,
		Provider:   res.Provider,
		Prompt:     res.Prompt,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if res.Response != nil {
		rec.Model = res.Response.Model
		rec.RawResponse = rawResponse(*res.Response)
	}
	if res.Normalized != nil {
		rec.Source = res.Normalized.Source
		rec.NormalizedJSON = res.Normalized.JSON
		rec.Warnings = res.Normalized.Warnings
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if res.Status != gormstore.CycleAborted {
		rec.Regime = mustJSON(res.Regime)
	}
	if len(res.Report.Results) > 0 {
		rec.Decisions = mustJSON(res.Report.Decisions())
		rec.Diagnostics = mustJSON(res.Report.Diagnostics())
	}
	// 审计写入不受本轮取消影响。
	if err := r.Audit.SaveCycle(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warnf("Cycle Audit write failed account=%s trace=%s err=%v", res.Account, res.TraceID, err)
	}
}

func (r *CycleRunner) notify(ctx context.Context, res CycleResult) {
	if r.Notifier == nil || res.Status == gormstore.CycleStale {
		return
	}
	msg, ok := cycleMessage(res)
	if !ok {
		return
	}
	if err := r.Notifier.SendText(context.WithoutCancel(ctx), msg.Markdown()); err != nil {
		logger.Warnf("Cycle Notify failed account=%s trace=%s err=%v", res.Account, res.TraceID, err)
	}
}

func rawResponse(resp provider.Response) string {
	var parts []string
	if s := strings.TrimSpace(resp.Content); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(resp.Reasoning); s != "" {
		parts = append(parts, "[reasoning]\n"+s)
	}
	if s := strings.TrimSpace(resp.ReasoningContent); s != "" {
		parts = append(parts, "[reasoning_content]\n"+s)
	}
	return strings.Join(parts, "\n\n")
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
