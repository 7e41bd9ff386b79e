package guardrail

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConditionEvaluate(t *testing.T) {
	ctx := map[string]any{"confidence": 0.4, "category": "security"}

	require.True(t, Condition{Field: "confidence", Operator: "lt", Value: 0.5}.Evaluate(ctx))
	require.False(t, Condition{Field: "confidence", Operator: "gt", Value: 0.5}.Evaluate(ctx))
	require.True(t, Condition{Field: "category", Operator: "eq", Value: "security"}.Evaluate(ctx))
	require.False(t, Condition{Field: "missing", Operator: "eq", Value: "x"}.Evaluate(ctx))
}

func TestRequirementCheck(t *testing.T) {
	ctx := map[string]any{"reviewed": true, "confidence": 0.9}

	passed, msg := Requirement{Field: "reviewed", Expected: true}.Check(ctx)
	require.True(t, passed)
	require.Empty(t, msg)

	passed, msg = Requirement{Field: "confidence", Expected: ">=0.8"}.Check(ctx)
	require.True(t, passed)
	require.Empty(t, msg)

	passed, msg = Requirement{Field: "confidence", Expected: ">=0.95"}.Check(ctx)
	require.False(t, passed)
	require.NotEmpty(t, msg)
}

func TestGuardrailEvaluateBlocksOnFailedRequirement(t *testing.T) {
	g := Guardrail{
		ID:           "security-review-required",
		Description:  "security decisions need review",
		Requirements: []Requirement{{Field: "reviewed", Expected: true}},
		Action:       ActionBlock,
		Conditions:   []Condition{{Field: "category", Operator: "eq", Value: "security"}},
	}

	ctx := map[string]any{"category": "security", "reviewed": false}
	outcome := g.Evaluate(ctx)
	require.True(t, outcome.Matched)
	require.False(t, outcome.Passed)
	require.Equal(t, ActionBlock, outcome.Action)
}

func TestGuardrailEvaluateSkipsWhenScopeMismatch(t *testing.T) {
	g := Guardrail{ID: "scoped", Scope: []string{"billing-service"}, Requirements: []Requirement{{Field: "x", Expected: true}}}
	outcome := g.Evaluate(map[string]any{"project": "other-service"})
	require.False(t, outcome.Matched)
	require.Equal(t, "skip", outcome.Action)
}

func TestGuardrailEvaluateMessageInterpolation(t *testing.T) {
	g := Guardrail{
		ID:      "low-confidence",
		Message: "confidence {confidence} too low for {category}",
		Action:  ActionWarn,
	}
	outcome := g.Evaluate(map[string]any{"confidence": 0.2, "category": "architecture"})
	require.Equal(t, "confidence 0.2 too low for architecture", outcome.Message)
}

func TestEvaluateAggregatesViolationsAndWarnings(t *testing.T) {
	guardrails := []Guardrail{
		{ID: "block-me", Action: ActionBlock, Requirements: []Requirement{{Field: "x", Expected: true}}},
		{ID: "warn-me", Action: ActionWarn, Requirements: []Requirement{{Field: "y", Expected: true}}},
	}
	result := Evaluate(guardrails, map[string]any{"x": false, "y": false})

	require.False(t, result.Allowed)
	require.Len(t, result.Violations, 1)
	require.Len(t, result.Warnings, 1)
	require.Equal(t, 2, result.Evaluated)
}

func TestParseConditionWithOperatorString(t *testing.T) {
	c := parseCondition("confidence", ">=0.7")
	require.Equal(t, "gte", c.Operator)
	require.Equal(t, 0.7, c.Value)
}

func TestParseConditionPlainValue(t *testing.T) {
	c := parseCondition("category", "security")
	require.Equal(t, "eq", c.Operator)
	require.Equal(t, "security", c.Value)
}

func TestParseRawBuildsGuardrailFromDynamicKeys(t *testing.T) {
	data := map[string]any{
		"id":                  "high-stakes-needs-reasons",
		"description":         "high stakes decisions need reasons",
		"condition_stakes":    "high",
		"requires_reason_count": ">=1",
		"action":              "block",
	}
	g := parseRaw(data)
	require.Equal(t, "high-stakes-needs-reasons", g.ID)
	require.Len(t, g.Conditions, 1)
	require.Len(t, g.Requirements, 1)
	require.Equal(t, ActionBlock, g.Action)
}
