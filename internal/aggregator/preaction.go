// Package aggregator composes the lifecycle, retrieval, guardrail, breaker,
// compaction, analytics, and graph packages into the two higher-level
// operations the spec names: pre_action (judge a proposed action) and
// session_context (an agent's standing briefing).
package aggregator

import (
	"context"
	"fmt"

	"github.com/ashita-ai/cstpd/internal/analytics"
	"github.com/ashita-ai/cstpd/internal/guardrail"
	"github.com/ashita-ai/cstpd/internal/model"
)

const preActionRetrievalLimit = 5

// PreActionRequest is the params payload for cstp.preAction.
type PreActionRequest struct {
	ActionDescription string          `json:"actionDescription"`
	Context           map[string]any  `json:"context"`
	Category          model.Category  `json:"category"`
	AutoRecord        bool            `json:"autoRecord"`
	IncludeDetail     bool            `json:"includeDetail"`
	Decision          *model.Decision `json:"decision,omitempty"`
}

// RelevantDecision is one retrieval hit shaped for the pre_action response.
type RelevantDecision struct {
	ID           string        `json:"id"`
	Decision     string        `json:"decision"`
	Category     string        `json:"category"`
	Outcome      string        `json:"outcome,omitempty"`
	Score        float64       `json:"score"`
	Lessons      string        `json:"lessons,omitempty"`
	ActualResult string        `json:"actualResult,omitempty"`
	Bridge       *model.Bridge `json:"bridge,omitempty"`
}

// PreActionResult is the response shape for cstp.preAction.
type PreActionResult struct {
	Allowed     bool                  `json:"allowed"`
	Relevant    []RelevantDecision    `json:"relevant"`
	Violations  []guardrail.Result    `json:"violations,omitempty"`
	Warnings    []guardrail.Result    `json:"warnings,omitempty"`
	Calibration analytics.BucketStats `json:"calibration"`
	DecisionID  string                `json:"decisionId,omitempty"`
}

// PreAction runs retrieval, guardrail evaluation, the circuit-breaker
// check, and a calibration lookup, in that order, against req. When every
// gate passes and AutoRecord is set, it records req.Decision and reports
// the new id. Per spec.md §4.9, a blocked or warned action is still
// reported in full (relevant decisions, calibration) — only recording is
// skipped.
func (a *Aggregator) PreAction(ctx context.Context, req PreActionRequest, agentID string) (PreActionResult, error) {
	queryReq := model.QueryDecisionsRequest{
		Query: req.ActionDescription, Limit: preActionRetrievalLimit,
		RetrievalMode: model.RetrievalHybrid,
	}
	if req.Category != "" {
		cat := req.Category
		queryReq.Filters.Category = &cat
	}
	queryReq.Normalize()

	hits, err := a.retrieval.Query(ctx, queryReq)
	if err != nil {
		return PreActionResult{}, fmt.Errorf("aggregator: pre_action retrieval: %w", err)
	}

	relevant := make([]RelevantDecision, 0, len(hits))
	for _, h := range hits {
		r := RelevantDecision{
			ID: h.Decision.ID, Decision: h.Decision.Decision,
			Category: string(h.Decision.Category), Outcome: string(h.Decision.Outcome),
			Score: h.Score.Combined, Bridge: h.Decision.Bridge,
		}
		if req.IncludeDetail {
			r.Lessons = h.Decision.Lessons
			r.ActualResult = h.Decision.ActualResult
		}
		relevant = append(relevant, r)
	}

	guardCtx := mergeContext(req.Context, req.Category, agentID)
	guardResult := a.guardrails.Evaluate(guardCtx)

	breakerResults := a.breakers.Check(guardCtx)
	breakerBlocked := false
	for _, br := range breakerResults {
		if br.Blocked {
			breakerBlocked = true
		}
	}

	calibration, err := analytics.Calibration(ctx, a.decisions, model.QueryFilters{Category: categoryFilter(req.Category)})
	if err != nil {
		return PreActionResult{}, fmt.Errorf("aggregator: pre_action calibration: %w", err)
	}

	result := PreActionResult{
		Allowed:     guardResult.Allowed && !breakerBlocked,
		Relevant:    relevant,
		Violations:  guardResult.Violations,
		Warnings:    guardResult.Warnings,
		Calibration: calibration.Overall,
	}

	if result.Allowed && req.AutoRecord && req.Decision != nil {
		recordResult, err := a.lifecycle.Record(ctx, *req.Decision, agentID, "", nil)
		if err != nil {
			return PreActionResult{}, fmt.Errorf("aggregator: pre_action auto-record: %w", err)
		}
		result.DecisionID = recordResult.Decision.ID
	}

	return result, nil
}

func categoryFilter(c model.Category) *model.Category {
	if c == "" {
		return nil
	}
	return &c
}

func mergeContext(base map[string]any, category model.Category, agentID string) map[string]any {
	ctx := make(map[string]any, len(base)+2)
	for k, v := range base {
		ctx[k] = v
	}
	if category != "" {
		ctx["category"] = string(category)
	}
	ctx["agent_id"] = agentID
	return ctx
}
