package decision

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arena/internal/gateway/provider"
)

const envelope = `{"decisions":[{"operation":"hold","symbol":"BTC","target_portion_of_balance":0,"leverage":1,"time_in_force":"Ioc","reason":"wait {for} it","trading_strategy":"none"}]}`

func TestNormalize_ExtendedReasoningAfterProse(t *testing.T) {
	resp := provider.Response{
		ReasoningContent: "Let me think. The set {BTC, ETH} looks weak, funding is flat.\n" +
			"Final answer:\n" + envelope + "\n",
	}
	out, err := NewNormalizer().Normalize(resp)
	require.NoError(t, err)
	assert.Equal(t, "reasoning_content", out.Source)
	assert.Equal(t, envelope, out.JSON)
	assert.Len(t, out.Entries, 1)
	assert.Empty(t, out.Warnings)
}

func TestNormalize_PriorityOrder(t *testing.T) {
	resp := provider.Response{
		Content:          "  ",
		Reasoning:        envelope,
		ReasoningContent: `{"decisions":[]}`,
	}
	out, err := NewNormalizer().Normalize(resp)
	require.NoError(t, err)
	assert.Equal(t, "reasoning", out.Source)
	assert.Len(t, out.Entries, 1)
}

func TestNormalize_FenceAndProseWarnings(t *testing.T) {
	out, err := NewNormalizer().Normalize(provider.Response{Content: "```json\n" + envelope + "\n```"})
	require.NoError(t, err)
	assert.Equal(t, envelope, out.JSON)
	assert.Contains(t, out.Warnings, "markdown code fence stripped")

	out, err = NewNormalizer().Normalize(provider.Response{Content: "Here you go: " + envelope + " good luck"})
	require.NoError(t, err)
	assert.Equal(t, envelope, out.JSON)
	assert.Contains(t, out.Warnings, "surrounding prose stripped")

	out, err = NewNormalizer().Normalize(provider.Response{Content: envelope + "\n(note: {\"confidence\": 0.4})"})
	require.NoError(t, err)
	assert.Equal(t, envelope, out.JSON)
	assert.Len(t, out.Warnings, 2)
}

func TestNormalize_BareArray(t *testing.T) {
	out, err := NewNormalizer().Normalize(provider.Response{Content: `[{"symbol":"BTC"}]`})
	require.NoError(t, err)
	assert.Equal(t, `{"decisions":[{"symbol":"BTC"}]}`, out.JSON)
	assert.Contains(t, out.Warnings, "bare decisions array wrapped in envelope")
}

func TestNormalize_Errors(t *testing.T) {
	_, err := NewNormalizer().Normalize(provider.Response{Provider: "m"})
	var empty *EmptyResponseError
	require.ErrorAs(t, err, &empty)
	assert.True(t, errors.Is(err, ErrUnusableResponse))

	_, err = NewNormalizer().Normalize(provider.Response{Content: "I would buy BTC now."})
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "content", perr.Source)
	assert.Equal(t, "I would buy BTC now.", perr.Raw)

	_, err = NewNormalizer().Normalize(provider.Response{Content: `{"decision":"buy"}`})
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Reason, "envelope")

	// content wins even when a later channel would parse
	_, err = NewNormalizer().Normalize(provider.Response{Content: "not json", ReasoningContent: envelope})
	require.ErrorAs(t, err, &perr)

	_, err = NewNormalizer().Normalize(provider.Response{ReasoningContent: "thinking without an answer"})
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "reasoning_content", perr.Source)
}

func TestNormalize_CustomExtractorAppended(t *testing.T) {
	vendor := Extractor{Name: "vendor", Extract: func(r provider.Response) (string, bool) { return envelope, true }}
	n := NewNormalizer(append(DefaultExtractors(), vendor)...)
	out, err := n.Normalize(provider.Response{})
	require.NoError(t, err)
	assert.Equal(t, "vendor", out.Source)
}
