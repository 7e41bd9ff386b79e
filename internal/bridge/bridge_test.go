package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/ashita-ai/cstpd/internal/model"
	"github.com/stretchr/testify/require"
)

func TestStripSpecificsRemovesNumbersAndPaths(t *testing.T) {
	out := stripSpecifics("Bumped PR #1234 to v2.3.1 touching internal/search/qdrant.go")
	require.NotContains(t, out, "1234")
	require.NotContains(t, out, "2.3.1")
	require.Contains(t, out, "a PR")
	require.Contains(t, out, "a file")
}

func TestGeneralizeVerbsPreservesCasing(t *testing.T) {
	require.Equal(t, "Updated the dependency.", generalizeVerbs("Upgraded the dependency."))
	require.Equal(t, "replaced the driver", generalizeVerbs("switched the driver"))
}

func TestRuleBasedDerivesStructureAndFunctionFromPattern(t *testing.T) {
	b := RuleBased(Abstractable{
		Decision: "Migrated the payments service from MySQL to PostgreSQL for PR #42",
		Pattern:  "prefer managed database services over self-hosted",
	})
	require.NotNil(t, b)
	require.Equal(t, model.BridgeMethodRule, b.Method)
	require.Contains(t, b.Structure, "Transitioned")
	require.Equal(t, "prefer managed database services over self-hosted", b.Function)
}

func TestRuleBasedFallsBackToReasonThenContext(t *testing.T) {
	b := RuleBased(Abstractable{
		Decision: "Refactored the AuthHandler module",
		Reasons:  []model.Reason{{Type: model.ReasonConstraint, Text: "the vendor SLA requires sub 100ms responses"}},
	})
	require.NotNil(t, b)
	require.NotEmpty(t, b.Function)

	b2 := RuleBased(Abstractable{
		Decision: "Refactored the AuthHandler module",
		Context:  "The previous implementation leaked connections under load. We switched to a pooled client.",
	})
	require.NotNil(t, b2)
	require.NotEmpty(t, b2.Function)
}

func TestRuleBasedReturnsNilWhenNothingUsable(t *testing.T) {
	b := RuleBased(Abstractable{Decision: "ok"})
	require.Nil(t, b)
}

func TestGeminiExtractorSkipsWithoutAPIKey(t *testing.T) {
	ex := NewGeminiExtractor("", "", 0)
	b, err := ex.Extract(context.Background(), Abstractable{Decision: "x"})
	require.NoError(t, err)
	require.Nil(t, b)
}

func TestParseLLMReply(t *testing.T) {
	structure, function := parseLLMReply("STRUCTURE: swap one dependency for another\nFUNCTION: reduce operational risk")
	require.Equal(t, "swap one dependency for another", structure)
	require.Equal(t, "reduce operational risk", function)
}

func TestResolverModeRuleNeverCallsExtractor(t *testing.T) {
	r := NewResolver(ModeRule, nil, slog.Default())
	b := r.Resolve(context.Background(), Abstractable{
		Decision: "Replaced the caching layer with a distributed cache",
		Pattern:  "swap infra components behind a stable interface",
	})
	require.NotNil(t, b)
	require.Equal(t, model.BridgeMethodRule, b.Method)
}

type fakeExtractor struct {
	bridge *model.Bridge
	err    error
}

func (f fakeExtractor) Extract(context.Context, Abstractable) (*model.Bridge, error) {
	return f.bridge, f.err
}

func TestResolverModeLLMFallsBackToRuleOnFailure(t *testing.T) {
	r := NewResolver(ModeLLM, fakeExtractor{err: context.DeadlineExceeded}, slog.Default())
	b := r.Resolve(context.Background(), Abstractable{
		Decision: "Replaced the caching layer with a distributed cache",
		Pattern:  "swap infra components behind a stable interface",
	})
	require.NotNil(t, b)
	require.Equal(t, model.BridgeMethodRule, b.Method)
}

func TestResolverModeLLMFallsBackToNilWhenRuleBasedAlsoFails(t *testing.T) {
	r := NewResolver(ModeLLM, fakeExtractor{err: context.DeadlineExceeded}, slog.Default())
	b := r.Resolve(context.Background(), Abstractable{})
	require.Nil(t, b)
}

func TestResolverModeBothPrefersLLMResult(t *testing.T) {
	llmBridge := &model.Bridge{Structure: "llm structure", Function: "llm function"}
	r := NewResolver(ModeBoth, fakeExtractor{bridge: llmBridge}, slog.Default())
	b := r.Resolve(context.Background(), Abstractable{
		Decision: "Replaced the caching layer with a distributed cache",
		Pattern:  "swap infra components behind a stable interface",
	})
	require.NotNil(t, b)
	require.Equal(t, model.BridgeMethodBoth, b.Method)
	require.Equal(t, "llm structure", b.Structure)
}

func TestResolverModeBothFallsBackToRuleWhenLLMAbsent(t *testing.T) {
	r := NewResolver(ModeBoth, fakeExtractor{bridge: nil}, slog.Default())
	b := r.Resolve(context.Background(), Abstractable{
		Decision: "Replaced the caching layer with a distributed cache",
		Pattern:  "swap infra components behind a stable interface",
	})
	require.NotNil(t, b)
	require.Equal(t, model.BridgeMethodRule, b.Method)
}

func TestGeminiResponseDecoding(t *testing.T) {
	raw := `{"candidates":[{"content":{"parts":[{"text":"STRUCTURE: a swap\nFUNCTION: a risk reduction"}]}}]}`
	var out geminiResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	require.Len(t, out.Candidates, 1)
	structure, function := parseLLMReply(out.Candidates[0].Content.Parts[0].Text)
	require.Equal(t, "a swap", structure)
	require.Equal(t, "a risk reduction", function)
}
