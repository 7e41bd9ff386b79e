// Package lifecycle implements the decision record/review/get/update/
// append_thought operations: the write path that ties together persistence,
// the vector store, the deliberation tracker, bridge resolution, and the
// graph's auto-link pass.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashita-ai/cstpd/internal/bridge"
	"github.com/ashita-ai/cstpd/internal/breaker"
	"github.com/ashita-ai/cstpd/internal/cstperr"
	"github.com/ashita-ai/cstpd/internal/decisionstore"
	"github.com/ashita-ai/cstpd/internal/deliberation"
	"github.com/ashita-ai/cstpd/internal/embedding"
	"github.com/ashita-ai/cstpd/internal/graph"
	"github.com/ashita-ai/cstpd/internal/model"
	"github.com/ashita-ai/cstpd/internal/retrieval"
	"github.com/ashita-ai/cstpd/internal/vectorstore"
)

// Manager wires together every dependency record/review/get/update/
// append_thought need.
type Manager struct {
	decisions decisionstore.Store
	vectors   vectorstore.Store
	embedder  embedding.Provider
	tracker   *deliberation.Tracker
	resolver  *bridge.Resolver
	graph     *graph.Graph
	breakers  *breaker.Manager
	logger    *slog.Logger
}

// New builds a Manager. Any of vectors/embedder/tracker/resolver/graph/
// breakers may be nil to disable the corresponding step (e.g. no vector
// store configured means indexed is always false).
func New(decisions decisionstore.Store, vectors vectorstore.Store, embedder embedding.Provider, tracker *deliberation.Tracker, resolver *bridge.Resolver, g *graph.Graph, breakers *breaker.Manager, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		decisions: decisions, vectors: vectors, embedder: embedder,
		tracker: tracker, resolver: resolver, graph: g, breakers: breakers,
		logger: logger,
	}
}

// RecordResult is the response shape for cstp.recordDecision.
type RecordResult struct {
	Decision model.Decision `json:"decision"`
	Indexed  bool           `json:"indexed"`
}

// Record validates, persists, embeds, and indexes a new decision, then
// runs the backfill and auto-link passes. agentID is the authenticated
// caller; scopeKey is the deliberation-tracker scope computed by the
// dispatcher from the transport agent id and any client-supplied
// agent_id/decision_id (see internal/deliberation.ScopeKey).
func (m *Manager) Record(ctx context.Context, d model.Decision, agentID, scopeKey string, relatedHints []string) (RecordResult, error) {
	if err := validateRecord(d); err != nil {
		return RecordResult{}, fmt.Errorf("%w: %s", cstperr.ErrInvalidParams, err)
	}

	id, err := generateID()
	if err != nil {
		return RecordResult{}, fmt.Errorf("%w: generate id: %s", cstperr.ErrRecordFailed, err)
	}
	d.ID = id
	d.AgentID = agentID
	if d.Status == "" {
		d.Status = model.StatusPending
	}
	if d.Date == "" {
		d.Date = time.Now().UTC().Format("2006-01-02")
	}
	d.CreatedAt = time.Now().UTC()

	if m.tracker != nil && scopeKey != "" {
		d.Deliberation = m.tracker.ConsumeWithExplicit(scopeKey, d.Deliberation)
	}
	if d.Bridge == nil && m.resolver != nil {
		d.Bridge = m.resolver.Resolve(ctx, bridge.Abstractable{
			Decision: d.Decision, Context: d.Context, Pattern: d.Pattern, Reasons: d.Reasons,
		})
	}

	if err := m.decisions.Put(ctx, d); err != nil {
		return RecordResult{}, fmt.Errorf("%w: %s", cstperr.ErrRecordFailed, err)
	}

	indexed := m.index(ctx, d)

	if m.tracker != nil && scopeKey != "" {
		m.tracker.BackfillConsumed(scopeKey, d.ID)
	}
	if m.graph != nil {
		m.autoLink(ctx, d, relatedHints)
	}

	return RecordResult{Decision: d, Indexed: indexed}, nil
}

// index embeds d and upserts it into the vector store. Failure is
// non-fatal: persistence already succeeded, so this only flips `indexed`.
func (m *Manager) index(ctx context.Context, d model.Decision) bool {
	if m.vectors == nil || m.embedder == nil {
		return false
	}
	vec, err := m.embedder.Embed(ctx, embeddingText(d))
	if err != nil {
		m.logger.Debug("lifecycle: embed failed, indexed=false", "decision", d.ID, "error", err)
		return false
	}
	if err := m.vectors.Upsert(ctx, d.ID, vec, retrieval.Metadata(d, "")); err != nil {
		m.logger.Debug("lifecycle: vector upsert failed, indexed=false", "decision", d.ID, "error", err)
		return false
	}
	return true
}

// autoLink runs the heuristic auto-link pass, fully fail-open: any error or
// panic is logged, never surfaced, matching the "failures are logged, not
// surfaced" contract from spec.md §4.10.
func (m *Manager) autoLink(ctx context.Context, d model.Decision, relatedHints []string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Debug("lifecycle: auto-link panicked", "decision", d.ID, "error", r)
		}
	}()
	corpus, err := m.decisions.All(ctx)
	if err != nil {
		m.logger.Debug("lifecycle: auto-link corpus scan failed", "decision", d.ID, "error", err)
		return
	}
	m.graph.SafeAutoLink(ctx, d, corpus, relatedHints, m.logger)
}

// ReviewUpdate is the allowed mutation set for review().
type ReviewUpdate struct {
	Outcome      model.Outcome
	ActualResult string
	Lessons      string
	AffectedKPIs []string
}

// Review locates a decision by id or prefix, applies the review mutation,
// rewrites atomically, and notifies the circuit-breaker manager of the
// outcome.
func (m *Manager) Review(ctx context.Context, idOrPrefix, reviewerID string, update ReviewUpdate) (model.Decision, error) {
	if err := validateReview(update.Outcome); err != nil {
		return model.Decision{}, fmt.Errorf("%w: %s", cstperr.ErrInvalidParams, err)
	}
	d, err := m.decisions.Get(ctx, idOrPrefix)
	if err != nil {
		return model.Decision{}, translateNotFound(err)
	}

	d.Status = model.StatusReviewed
	d.Outcome = update.Outcome
	d.ActualResult = update.ActualResult
	d.Lessons = update.Lessons
	d.AffectedKPIs = update.AffectedKPIs
	d.ReviewedAt = time.Now().UTC().Format(time.RFC3339)
	d.ReviewedBy = reviewerID

	if err := m.decisions.Put(ctx, d); err != nil {
		return model.Decision{}, fmt.Errorf("%w: %s", cstperr.ErrReviewFailed, err)
	}

	if m.breakers != nil {
		m.breakers.RecordOutcome(breakerContext(d), string(d.Outcome))
	}
	return d, nil
}

// Get locates a decision by exact id or unique hex prefix.
func (m *Manager) Get(ctx context.Context, idOrPrefix string) (model.Decision, error) {
	d, err := m.decisions.Get(ctx, idOrPrefix)
	if err != nil {
		return model.Decision{}, translateNotFound(err)
	}
	return d, nil
}

// Update shallow-merges updates into the stored decision's allowed fields
// and rewrites atomically. Keys match the JSON field names on
// model.Decision; unrecognized keys are ignored.
func (m *Manager) Update(ctx context.Context, idOrPrefix string, updates map[string]any) (model.Decision, error) {
	d, err := m.decisions.Get(ctx, idOrPrefix)
	if err != nil {
		return model.Decision{}, translateNotFound(err)
	}
	for key, value := range updates {
		applyUpdateField(&d, key, value)
	}
	if err := m.decisions.Put(ctx, d); err != nil {
		return model.Decision{}, fmt.Errorf("%w: %s", cstperr.ErrRecordFailed, err)
	}
	return d, nil
}

// applyUpdateField merges one recognized key into d. Unknown keys and
// type-mismatched values are silently ignored, matching the forgiving
// shallow-merge contract update() has in spec.md §4.2.
func applyUpdateField(d *model.Decision, key string, value any) {
	switch key {
	case "context":
		if s, ok := value.(string); ok {
			d.Context = s
		}
	case "pattern":
		if s, ok := value.(string); ok {
			d.Pattern = s
		}
	case "tags":
		if tags, ok := toStringSlice(value); ok {
			d.Tags = tags
		}
	case "project":
		if s, ok := value.(string); ok {
			d.Project = &s
		}
	case "feature":
		if s, ok := value.(string); ok {
			d.Feature = &s
		}
	case "pr":
		switch v := value.(type) {
		case float64:
			n := int(v)
			d.PR = &n
		case int:
			d.PR = &v
		}
	case "kpiIndicators":
		if kpis, ok := toStringSlice(value); ok {
			d.KPIs = kpis
		}
	case "mentalState":
		if s, ok := value.(string); ok {
			d.MentalState = model.MentalState(s)
		}
	case "reviewBy":
		if s, ok := value.(string); ok {
			d.ReviewBy = s
		}
	case "reviewerId":
		if s, ok := value.(string); ok {
			d.ReviewerID = s
		}
	case "stakes":
		if s, ok := value.(string); ok {
			d.Stakes = model.Stakes(s)
		}
	case "confidence":
		if f, ok := value.(float64); ok {
			d.Confidence = f
		}
	}
}

func toStringSlice(value any) ([]string, bool) {
	raw, ok := value.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// AppendThought appends a step to the stored decision's deliberation trace.
func (m *Manager) AppendThought(ctx context.Context, idOrPrefix, text string) (model.Decision, error) {
	d, err := m.decisions.Get(ctx, idOrPrefix)
	if err != nil {
		return model.Decision{}, translateNotFound(err)
	}
	if d.Deliberation == nil {
		d.Deliberation = &model.Deliberation{}
	}
	nextStep := 1
	for _, s := range d.Deliberation.Steps {
		if s.Step >= nextStep {
			nextStep = s.Step + 1
		}
	}
	now := time.Now().UTC()
	d.Deliberation.Steps = append(d.Deliberation.Steps, model.DeliberationStep{
		Step: nextStep, Thought: text, Timestamp: &now, Type: model.StepAnalysis,
	})
	if err := m.decisions.Put(ctx, d); err != nil {
		return model.Decision{}, fmt.Errorf("%w: %s", cstperr.ErrRecordFailed, err)
	}
	return d, nil
}

func translateNotFound(err error) error {
	if errors.Is(err, decisionstore.ErrNotFound) || errors.Is(err, decisionstore.ErrAmbiguousPrefix) {
		return fmt.Errorf("%w: %s", cstperr.ErrNotFound, err)
	}
	return err
}

// breakerContext builds the context map internal/breaker matches scopes
// against: category, stakes, agent_id, tags.
func breakerContext(d model.Decision) map[string]any {
	return map[string]any{
		"category": string(d.Category),
		"stakes":   string(d.Stakes),
		"agent_id": d.AgentID,
		"tags":     d.Tags,
	}
}
