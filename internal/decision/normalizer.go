package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"arena/internal/gateway/provider"
	"arena/internal/pkg/jsonutil"
	"arena/internal/pkg/text"

	"github.com/tidwall/gjson"
)

// ErrUnusableResponse 是 EmptyResponseError 与 ParseError 的公共哨兵；命中时本轮降级为全部 hold。
var ErrUnusableResponse = errors.New("unusable model response")

// EmptyResponseError 表示三个文本通道全部为空。
type EmptyResponseError struct {
	Provider string
	Raw      string
}

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("empty response from %s", e.Provider)
}

func (e *EmptyResponseError) Is(target error) bool { return target == ErrUnusableResponse }

// ParseError 表示选中的候选文本无法解析为决策 JSON，Raw 保留原文以便记录。
type ParseError struct {
	Source string
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s (raw=%q)", e.Source, e.Reason, text.Truncate(e.Raw, 160))
}

func (e *ParseError) Is(target error) bool { return target == ErrUnusableResponse }

// Extractor 是单个候选来源：从响应中取出文本，空则返回 false。
type Extractor struct {
	Name    string
	Extract func(provider.Response) (string, bool)
}

// DefaultExtractors 按优先级排列：content、reasoning、reasoning_content。
// 新的供应商格式只需在末尾追加策略。
func DefaultExtractors() []Extractor {
	return []Extractor{
		{Name: "content", Extract: func(r provider.Response) (string, bool) { return nonBlank(r.Content) }},
		{Name: "reasoning", Extract: func(r provider.Response) (string, bool) { return nonBlank(r.Reasoning) }},
		{Name: "reasoning_content", Extract: extendedReasoning},
	}
}

// extendedReasoning takes the last outermost object after free-form reasoning.
// Text without any balanced object is still returned so the failure is a ParseError.
func extendedReasoning(r provider.Response) (string, bool) {
	raw, ok := nonBlank(r.ReasoningContent)
	if !ok {
		return "", false
	}
	if obj, found := jsonutil.ExtractLastObject(raw); found {
		return obj, true
	}
	return raw, true
}

func nonBlank(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Normalized 是成功提取后的结果。
type Normalized struct {
	Source   string            `json:"source"`
	JSON     string            `json:"json"`
	Entries  []json.RawMessage `json:"-"`
	Warnings []string          `json:"warnings,omitempty"`
}

// Normalizer 依次尝试各 Extractor，第一个非空候选胜出，随后做 fence/prose 清理与 envelope 校验。
type Normalizer struct {
	extractors []Extractor
}

func NewNormalizer(extractors ...Extractor) *Normalizer {
	if len(extractors) == 0 {
		extractors = DefaultExtractors()
	}
	return &Normalizer{extractors: extractors}
}

// Normalize 只返回 *EmptyResponseError 或 *ParseError 两类错误。
func (n *Normalizer) Normalize(resp provider.Response) (Normalized, error) {
	for _, ex := range n.extractors {
		if ex.Extract == nil {
			continue
		}
		candidate, ok := ex.Extract(resp)
		if !ok {
			continue
		}
		return normalizeCandidate(ex.Name, candidate)
	}
	return Normalized{}, &EmptyResponseError{Provider: resp.Provider, Raw: joinChannels(resp)}
}

func normalizeCandidate(source, raw string) (Normalized, error) {
	out := Normalized{Source: source}
	body := strings.TrimSpace(raw)
	if inner, ok := jsonutil.StripCodeFence(body); ok {
		out.Warnings = append(out.Warnings, "markdown code fence stripped")
		body = strings.TrimSpace(inner)
	}
	if gjson.Valid(body) {
		parsed := gjson.Parse(body)
		if parsed.IsArray() {
			out.Warnings = append(out.Warnings, "bare decisions array wrapped in envelope")
			body = `{"decisions":` + body + `}`
		}
		if err := checkEnvelope(body); err != nil {
			return Normalized{}, &ParseError{Source: source, Raw: raw, Reason: err.Error()}
		}
		return finish(out, body), nil
	}

	objects := jsonutil.ExtractObjects(body)
	if len(objects) == 0 {
		return Normalized{}, &ParseError{Source: source, Raw: raw, Reason: "no JSON object found"}
	}
	var lastErr error
	for i := len(objects) - 1; i >= 0; i-- {
		if err := checkEnvelope(objects[i]); err != nil {
			lastErr = err
			continue
		}
		out.Warnings = append(out.Warnings, "surrounding prose stripped")
		if i != len(objects)-1 {
			out.Warnings = append(out.Warnings, fmt.Sprintf("used object %d of %d; later objects were not decision envelopes", i+1, len(objects)))
		}
		return finish(out, objects[i]), nil
	}
	return Normalized{}, &ParseError{Source: source, Raw: raw, Reason: lastErr.Error()}
}

func checkEnvelope(body string) error {
	if !gjson.Valid(body) {
		return fmt.Errorf("invalid JSON")
	}
	env, _, err := schemas()
	if err != nil {
		return fmt.Errorf("schema unavailable: %w", err)
	}
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return err
	}
	if err := env.Validate(doc); err != nil {
		return fmt.Errorf("envelope: %s", schemaMessage(err))
	}
	return nil
}

func finish(out Normalized, body string) Normalized {
	out.JSON = body
	gjson.Get(body, "decisions").ForEach(func(_, value gjson.Result) bool {
		out.Entries = append(out.Entries, json.RawMessage(value.Raw))
		return true
	})
	return out
}

func joinChannels(r provider.Response) string {
	return strings.Join([]string{r.Content, r.Reasoning, r.ReasoningContent}, "\n")
}
