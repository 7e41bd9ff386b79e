package aggregator

import (
	"github.com/ashita-ai/cstpd/internal/breaker"
	"github.com/ashita-ai/cstpd/internal/decisionstore"
	"github.com/ashita-ai/cstpd/internal/graph"
	"github.com/ashita-ai/cstpd/internal/guardrail"
	"github.com/ashita-ai/cstpd/internal/lifecycle"
	"github.com/ashita-ai/cstpd/internal/retrieval"
)

// Aggregator composes every package pre_action and session_context need:
// retrieval for relevant-decision search, guardrails and breakers for
// gating, and analytics for calibration. The graph is held but not read:
// confirmed patterns come from grouping decisions by their pattern field.
type Aggregator struct {
	decisions  decisionstore.Store
	retrieval  *retrieval.Engine
	guardrails *guardrail.Registry
	breakers   *breaker.Manager
	graph      *graph.Graph
	lifecycle  *lifecycle.Manager
}

// New builds an Aggregator. graph may be nil; the confirmed-pattern section
// of session_context is derived from pattern-field grouping either way, with
// no graph-edge cross-check.
func New(decisions decisionstore.Store, retrievalEngine *retrieval.Engine, guardrails *guardrail.Registry, breakers *breaker.Manager, g *graph.Graph, lifecycleMgr *lifecycle.Manager) *Aggregator {
	return &Aggregator{
		decisions: decisions, retrieval: retrievalEngine, guardrails: guardrails,
		breakers: breakers, graph: g, lifecycle: lifecycleMgr,
	}
}
