// Package dispatcher routes CSTP JSON-RPC method calls to the underlying
// service packages. It is the Go counterpart of
// original_source/a2a/cstp/dispatcher.py's CstpDispatcher: one handler per
// method, registered in a map and looked up by method name, matching
// teacher's own mux.Handle registration style in internal/server/server.go.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ashita-ai/cstpd/internal/aggregator"
	"github.com/ashita-ai/cstpd/internal/analytics"
	"github.com/ashita-ai/cstpd/internal/breaker"
	"github.com/ashita-ai/cstpd/internal/compaction"
	"github.com/ashita-ai/cstpd/internal/cstperr"
	"github.com/ashita-ai/cstpd/internal/decisionstore"
	"github.com/ashita-ai/cstpd/internal/deliberation"
	"github.com/ashita-ai/cstpd/internal/graph"
	"github.com/ashita-ai/cstpd/internal/guardrail"
	"github.com/ashita-ai/cstpd/internal/lifecycle"
	"github.com/ashita-ai/cstpd/internal/model"
	"github.com/ashita-ai/cstpd/internal/retrieval"
)

// Handler is one dispatcher method's implementation. params is the raw
// "params" member of the JSON-RPC request; agentID is the authenticated
// caller resolved by the HTTP auth middleware before the dispatcher ever
// sees the request.
type Handler func(ctx context.Context, params json.RawMessage, agentID string) (any, *cstperr.Error)

// Dispatcher holds the method registry plus every composed service.
type Dispatcher struct {
	methods map[string]Handler

	decisions  decisionstore.Store
	retrieval  *retrieval.Engine
	guardrails *guardrail.Registry
	breakers   *breaker.Manager
	tracker    *deliberation.Tracker
	lifecycle  *lifecycle.Manager
	aggregator *aggregator.Aggregator
	graph      *graph.Graph
	compaction *compaction.Engine
	logger     *slog.Logger
}

// Deps collects every dependency the dispatcher's handlers need.
type Deps struct {
	Decisions  decisionstore.Store
	Retrieval  *retrieval.Engine
	Guardrails *guardrail.Registry
	Breakers   *breaker.Manager
	Tracker    *deliberation.Tracker
	Lifecycle  *lifecycle.Manager
	Aggregator *aggregator.Aggregator
	Graph      *graph.Graph
	Compaction *compaction.Engine
	Logger     *slog.Logger
}

// New builds a Dispatcher and registers every method named in spec.md §6.
func New(deps Deps) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	d := &Dispatcher{
		decisions: deps.Decisions, retrieval: deps.Retrieval, guardrails: deps.Guardrails,
		breakers: deps.Breakers, tracker: deps.Tracker, lifecycle: deps.Lifecycle,
		aggregator: deps.Aggregator, graph: deps.Graph, compaction: deps.Compaction,
		logger: deps.Logger,
	}
	d.methods = map[string]Handler{
		"cstp.queryDecisions":    d.queryDecisions,
		"cstp.checkGuardrails":   d.checkGuardrails,
		"cstp.listGuardrails":    d.listGuardrails,
		"cstp.recordDecision":    d.recordDecision,
		"cstp.updateDecision":    d.updateDecision,
		"cstp.recordThought":     d.recordThought,
		"cstp.getDecision":       d.getDecision,
		"cstp.reviewDecision":    d.reviewDecision,
		"cstp.getCalibration":    d.getCalibration,
		"cstp.attributeOutcomes": d.attributeOutcomes,
		"cstp.checkDrift":        d.checkDrift,
		"cstp.reindex":           d.reindex,
		"cstp.getReasonStats":    d.getReasonStats,
		"cstp.preAction":         d.preAction,
		"cstp.getSessionContext": d.getSessionContext,
		"cstp.ready":             d.ready,
		"cstp.linkDecisions":     d.linkDecisions,
		"cstp.getGraph":          d.getGraph,
		"cstp.getNeighbors":      d.getNeighbors,
		"cstp.compact":           d.compact,
		"cstp.getCompacted":      d.getCompacted,
		"cstp.setPreserve":       d.setPreserve,
		"cstp.getWisdom":         d.getWisdom,
		"cstp.listDecisions":     d.listDecisions,
		"cstp.getStats":          d.getStats,
		"cstp.listBreakers":      d.listBreakers,
		"cstp.getCircuitState":   d.getCircuitState,
		"cstp.resetCircuit":      d.resetCircuit,
		"cstp.debugTracker":      d.debugTracker,
	}
	return d
}

// Methods returns the sorted set of registered method names, for
// /.well-known/agent.json and the MCP adapter's tool list.
func (d *Dispatcher) Methods() []string {
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch looks up method and invokes its handler. An unregistered method
// name maps to cstperr.CodeMethodNotFound, matching JSON-RPC 2.0.
func (d *Dispatcher) Dispatch(ctx context.Context, method string, params json.RawMessage, agentID string) (any, *cstperr.Error) {
	handler, ok := d.methods[method]
	if !ok {
		return nil, cstperr.New(cstperr.CodeMethodNotFound, fmt.Sprintf("unknown method %q", method),
			map[string]any{"methods": d.Methods()})
	}
	result, err := handler(ctx, params, agentID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func decodeParams(params json.RawMessage, v any) *cstperr.Error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return cstperr.New(cstperr.CodeInvalidParams, fmt.Sprintf("invalid params: %s", err), nil)
	}
	return nil
}

func (d *Dispatcher) queryDecisions(ctx context.Context, params json.RawMessage, _ string) (any, *cstperr.Error) {
	var req model.QueryDecisionsRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	req.Normalize()
	hits, e := d.retrieval.Query(ctx, req)
	if e != nil {
		return nil, cstperr.ToJSONRPC(fmt.Errorf("%w: %s", cstperr.ErrQueryFailed, e))
	}
	return hits, nil
}

type checkGuardrailsRequest struct {
	Context map[string]any `json:"context"`
}

func (d *Dispatcher) checkGuardrails(_ context.Context, params json.RawMessage, agentID string) (any, *cstperr.Error) {
	var req checkGuardrailsRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	ctxMap := make(map[string]any, len(req.Context)+1)
	for k, v := range req.Context {
		ctxMap[k] = v
	}
	ctxMap["agent_id"] = agentID
	result := d.guardrails.Evaluate(ctxMap)
	return result, nil
}

func (d *Dispatcher) listGuardrails(_ context.Context, _ json.RawMessage, _ string) (any, *cstperr.Error) {
	return d.guardrails.Snapshot(), nil
}

type recordDecisionRequest struct {
	model.Decision
	ScopeAgentID string   `json:"scopeAgentId"`
	RelatedHints []string `json:"relatedHints"`
}

func (d *Dispatcher) recordDecision(ctx context.Context, params json.RawMessage, agentID string) (any, *cstperr.Error) {
	var req recordDecisionRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	scopeKey := deliberation.ScopeKey(agentID, req.ScopeAgentID, "")
	result, err := d.lifecycle.Record(ctx, req.Decision, agentID, scopeKey, req.RelatedHints)
	if err != nil {
		return nil, cstperr.ToJSONRPC(err)
	}
	return result, nil
}

type updateDecisionRequest struct {
	ID      string         `json:"id"`
	Updates map[string]any `json:"updates"`
}

func (d *Dispatcher) updateDecision(ctx context.Context, params json.RawMessage, _ string) (any, *cstperr.Error) {
	var req updateDecisionRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	decision, err := d.lifecycle.Update(ctx, req.ID, req.Updates)
	if err != nil {
		return nil, cstperr.ToJSONRPC(err)
	}
	return decision, nil
}

type recordThoughtRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (d *Dispatcher) recordThought(ctx context.Context, params json.RawMessage, _ string) (any, *cstperr.Error) {
	var req recordThoughtRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	decision, err := d.lifecycle.AppendThought(ctx, req.ID, req.Text)
	if err != nil {
		return nil, cstperr.ToJSONRPC(err)
	}
	return decision, nil
}

type getDecisionRequest struct {
	ID string `json:"id"`
}

func (d *Dispatcher) getDecision(ctx context.Context, params json.RawMessage, _ string) (any, *cstperr.Error) {
	var req getDecisionRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	decision, err := d.lifecycle.Get(ctx, req.ID)
	if err != nil {
		return nil, cstperr.ToJSONRPC(err)
	}
	return decision, nil
}

type reviewDecisionRequest struct {
	ID           string        `json:"id"`
	Outcome      model.Outcome `json:"outcome"`
	ActualResult string        `json:"actualResult"`
	Lessons      string        `json:"lessons"`
	AffectedKPIs []string      `json:"affectedKpis"`
}

func (d *Dispatcher) reviewDecision(ctx context.Context, params json.RawMessage, agentID string) (any, *cstperr.Error) {
	var req reviewDecisionRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	decision, err := d.lifecycle.Review(ctx, req.ID, agentID, lifecycle.ReviewUpdate{
		Outcome: req.Outcome, ActualResult: req.ActualResult, Lessons: req.Lessons, AffectedKPIs: req.AffectedKPIs,
	})
	if err != nil {
		return nil, cstperr.ToJSONRPC(err)
	}
	return decision, nil
}

type calibrationRequest struct {
	Category *model.Category `json:"category"`
}

func (d *Dispatcher) getCalibration(ctx context.Context, params json.RawMessage, _ string) (any, *cstperr.Error) {
	var req calibrationRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	report, e := analytics.Calibration(ctx, d.decisions, model.QueryFilters{Category: req.Category})
	if e != nil {
		return nil, cstperr.ToJSONRPC(e)
	}
	return report, nil
}

type attributeOutcomesRequest struct {
	Category    *model.Category `json:"category"`
	MinReviewed int             `json:"minReviewed"`
}

func (d *Dispatcher) attributeOutcomes(ctx context.Context, params json.RawMessage, _ string) (any, *cstperr.Error) {
	var req attributeOutcomesRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	report, e := analytics.ReasonStats(ctx, d.decisions, model.QueryFilters{Category: req.Category}, req.MinReviewed)
	if e != nil {
		return nil, cstperr.New(cstperr.CodeAttributionFailed, e.Error(), nil)
	}
	return report, nil
}

func (d *Dispatcher) getReasonStats(ctx context.Context, params json.RawMessage, agentID string) (any, *cstperr.Error) {
	return d.attributeOutcomes(ctx, params, agentID)
}

type checkDriftRequest struct {
	Category          *model.Category `json:"category"`
	ThresholdBrier    float64         `json:"thresholdBrier"`
	ThresholdAccuracy float64         `json:"thresholdAccuracy"`
}

func (d *Dispatcher) checkDrift(ctx context.Context, params json.RawMessage, _ string) (any, *cstperr.Error) {
	var req checkDriftRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	report, e := analytics.Drift(ctx, d.decisions, model.QueryFilters{Category: req.Category}, req.ThresholdBrier, req.ThresholdAccuracy, time.Now())
	if e != nil {
		return nil, cstperr.ToJSONRPC(e)
	}
	return report, nil
}

func (d *Dispatcher) reindex(_ context.Context, _ json.RawMessage, _ string) (any, *cstperr.Error) {
	d.retrieval.InvalidateKeywordCache()
	return map[string]any{"reindexed": true}, nil
}

func (d *Dispatcher) preAction(ctx context.Context, params json.RawMessage, agentID string) (any, *cstperr.Error) {
	var req aggregator.PreActionRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	result, e := d.aggregator.PreAction(ctx, req, agentID)
	if e != nil {
		return nil, cstperr.ToJSONRPC(e)
	}
	return result, nil
}

func (d *Dispatcher) getSessionContext(ctx context.Context, params json.RawMessage, agentID string) (any, *cstperr.Error) {
	var req aggregator.SessionContextRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	result, e := d.aggregator.SessionContext(ctx, req, agentID)
	if e != nil {
		return nil, cstperr.ToJSONRPC(e)
	}
	return result, nil
}

type readyRequest struct {
	MinPriority analytics.Priority `json:"minPriority"`
	Limit       int                `json:"limit"`
}

func (d *Dispatcher) ready(ctx context.Context, params json.RawMessage, _ string) (any, *cstperr.Error) {
	var req readyRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	items, e := analytics.Ready(ctx, d.decisions, model.QueryFilters{}, req.MinPriority, req.Limit, time.Now())
	if e != nil {
		return nil, cstperr.ToJSONRPC(e)
	}
	return items, nil
}

func (d *Dispatcher) linkDecisions(ctx context.Context, params json.RawMessage, agentID string) (any, *cstperr.Error) {
	var edge model.Edge
	if err := decodeParams(params, &edge); err != nil {
		return nil, err
	}
	if edge.CreatedBy == "" {
		edge.CreatedBy = agentID
	}
	result, e := d.graph.LinkDecisions(ctx, edge)
	if e != nil {
		return nil, cstperr.New(cstperr.CodeInvalidParams, e.Error(), nil)
	}
	return result, nil
}

type getGraphRequest struct {
	Node      string           `json:"node"`
	Depth     int              `json:"depth"`
	EdgeTypes []model.EdgeType `json:"edgeTypes"`
	Direction model.Direction  `json:"direction"`
}

func (d *Dispatcher) getGraph(_ context.Context, params json.RawMessage, _ string) (any, *cstperr.Error) {
	var req getGraphRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	return d.graph.GetGraph(req.Node, req.Depth, req.EdgeTypes, req.Direction), nil
}

type getNeighborsRequest struct {
	Node      string          `json:"node"`
	Direction model.Direction `json:"direction"`
	EdgeType  model.EdgeType  `json:"edgeType"`
	Limit     int             `json:"limit"`
}

func (d *Dispatcher) getNeighbors(_ context.Context, params json.RawMessage, _ string) (any, *cstperr.Error) {
	var req getNeighborsRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	return d.graph.GetNeighbors(req.Node, req.Direction, req.EdgeType, req.Limit), nil
}

type compactRequest struct {
	Filters model.QueryFilters `json:"filters"`
}

func (d *Dispatcher) compact(ctx context.Context, params json.RawMessage, _ string) (any, *cstperr.Error) {
	var req compactRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	counts, e := d.compaction.Compact(ctx, req.Filters)
	if e != nil {
		return nil, cstperr.ToJSONRPC(e)
	}
	return counts, nil
}

type getCompactedRequest struct {
	Filters          model.QueryFilters `json:"filters"`
	ForcedLevel      compaction.Level   `json:"forcedLevel"`
	Limit            int                `json:"limit"`
	IncludePreserved bool               `json:"includePreserved"`
}

func (d *Dispatcher) getCompacted(ctx context.Context, params json.RawMessage, _ string) (any, *cstperr.Error) {
	var req getCompactedRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	shaped, e := d.compaction.GetCompacted(ctx, req.Filters, req.ForcedLevel, req.Limit, req.IncludePreserved)
	if e != nil {
		return nil, cstperr.ToJSONRPC(e)
	}
	return shaped, nil
}

type setPreserveRequest struct {
	ID       string `json:"id"`
	Preserve bool   `json:"preserve"`
}

func (d *Dispatcher) setPreserve(ctx context.Context, params json.RawMessage, _ string) (any, *cstperr.Error) {
	var req setPreserveRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	decision, e := d.compaction.SetPreserve(ctx, req.ID, req.Preserve)
	if e != nil {
		return nil, cstperr.ToJSONRPC(e)
	}
	return decision, nil
}

type getWisdomRequest struct {
	Category     model.Category `json:"category"`
	MinDecisions int            `json:"minDecisions"`
}

func (d *Dispatcher) getWisdom(ctx context.Context, params json.RawMessage, _ string) (any, *cstperr.Error) {
	var req getWisdomRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	wisdom, e := d.compaction.GetWisdom(ctx, req.Category, req.MinDecisions)
	if e != nil {
		return nil, cstperr.ToJSONRPC(e)
	}
	return wisdom, nil
}

type listDecisionsRequest struct {
	Filters model.QueryFilters `json:"filters"`
	Limit   int                `json:"limit"`
}

func (d *Dispatcher) listDecisions(ctx context.Context, params json.RawMessage, _ string) (any, *cstperr.Error) {
	var req listDecisionsRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	decisions, e := d.decisions.List(ctx, req.Filters, req.Limit)
	if e != nil {
		return nil, cstperr.ToJSONRPC(e)
	}
	return decisions, nil
}

func (d *Dispatcher) getStats(ctx context.Context, _ json.RawMessage, _ string) (any, *cstperr.Error) {
	count, e := d.decisions.Count(ctx)
	if e != nil {
		return nil, cstperr.ToJSONRPC(e)
	}
	return map[string]any{
		"totalDecisions": count,
		"breakers":       d.breakers.ListBreakers(),
	}, nil
}

func (d *Dispatcher) listBreakers(_ context.Context, _ json.RawMessage, _ string) (any, *cstperr.Error) {
	return d.breakers.ListBreakers(), nil
}

type getCircuitStateRequest struct {
	Scope string `json:"scope"`
}

func (d *Dispatcher) getCircuitState(_ context.Context, params json.RawMessage, _ string) (any, *cstperr.Error) {
	var req getCircuitStateRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	snapshot, ok := d.breakers.GetState(req.Scope)
	if !ok {
		return nil, cstperr.New(cstperr.CodeNotFound, fmt.Sprintf("no breaker for scope %q", req.Scope), nil)
	}
	return snapshot, nil
}

type resetCircuitRequest struct {
	Scope      string `json:"scope"`
	ProbeFirst bool   `json:"probeFirst"`
}

func (d *Dispatcher) resetCircuit(_ context.Context, params json.RawMessage, _ string) (any, *cstperr.Error) {
	var req resetCircuitRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	result, e := d.breakers.Reset(req.Scope, req.ProbeFirst)
	if e != nil {
		return nil, cstperr.New(cstperr.CodeInvalidParams, e.Error(), nil)
	}
	return result, nil
}

type debugTrackerRequest struct {
	Key             string `json:"key"`
	IncludeConsumed bool   `json:"includeConsumed"`
}

func (d *Dispatcher) debugTracker(_ context.Context, params json.RawMessage, _ string) (any, *cstperr.Error) {
	var req debugTrackerRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	return d.tracker.DebugSessions(req.Key, req.IncludeConsumed), nil
}
