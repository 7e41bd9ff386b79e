// Package model defines the core data types of the decision-intelligence
// corpus: decisions, reasons, deliberation traces, bridges, and the
// supporting enums shared across every other package.
package model

import "time"

// Category enumerates the allowed decision categories.
type Category string

const (
	CategoryArchitecture Category = "architecture"
	CategoryProcess      Category = "process"
	CategoryIntegration  Category = "integration"
	CategoryTooling      Category = "tooling"
	CategorySecurity     Category = "security"
)

// ValidCategories lists every enum member, used for validation and iteration.
var ValidCategories = []Category{CategoryArchitecture, CategoryProcess, CategoryIntegration, CategoryTooling, CategorySecurity}

// Stakes enumerates how consequential a decision is.
type Stakes string

const (
	StakesLow      Stakes = "low"
	StakesMedium   Stakes = "medium"
	StakesHigh     Stakes = "high"
	StakesCritical Stakes = "critical"
)

var ValidStakes = []Stakes{StakesLow, StakesMedium, StakesHigh, StakesCritical}

// Status tracks whether a decision has been reviewed yet.
type Status string

const (
	StatusPending  Status = "pending"
	StatusReviewed Status = "reviewed"
)

// Outcome is the result of a reviewed decision.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomePartial   Outcome = "partial"
	OutcomeFailure   Outcome = "failure"
	OutcomeAbandoned Outcome = "abandoned"
)

// OutcomeConfidence maps an outcome to its numeric truth value, used by
// Brier-score and actual_confidence calculations throughout compaction
// and analytics.
var OutcomeConfidence = map[Outcome]float64{
	OutcomeSuccess:   1.0,
	OutcomePartial:   0.5,
	OutcomeFailure:   0.0,
	OutcomeAbandoned: 0.0,
}

// MentalState enumerates the agent's self-reported state of mind when the
// decision was made. Fixed per the open question in the design notes: the
// source left this enum implicit, so it is pinned here to the five values
// actually referenced by session-context tendency reporting.
type MentalState string

const (
	MentalStateFocused     MentalState = "focused"
	MentalStateUncertain   MentalState = "uncertain"
	MentalStateRushed      MentalState = "rushed"
	MentalStateThorough    MentalState = "thorough"
	MentalStateExploratory MentalState = "exploratory"
)

var ValidMentalStates = []MentalState{MentalStateFocused, MentalStateUncertain, MentalStateRushed, MentalStateThorough, MentalStateExploratory}

// ReasonType enumerates the canonical kinds of justification a decision
// can carry. Used both for validation and as the fixed universe for
// reason-stats diversity and never-used-type reporting.
type ReasonType string

const (
	ReasonAnalysis    ReasonType = "analysis"
	ReasonPattern     ReasonType = "pattern"
	ReasonAuthority   ReasonType = "authority"
	ReasonIntuition   ReasonType = "intuition"
	ReasonEmpirical   ReasonType = "empirical"
	ReasonAnalogy     ReasonType = "analogy"
	ReasonElimination ReasonType = "elimination"
	ReasonConstraint  ReasonType = "constraint"
)

// ReasonTypes is the canonical, ordered set of reason types.
var ReasonTypes = []ReasonType{
	ReasonAnalysis, ReasonPattern, ReasonAuthority, ReasonIntuition,
	ReasonEmpirical, ReasonAnalogy, ReasonElimination, ReasonConstraint,
}

// Reason is an ordered sub-entity of a decision.
type Reason struct {
	Type     ReasonType `json:"type" yaml:"type"`
	Text     string     `json:"text" yaml:"text"`
	Strength float64    `json:"strength" yaml:"strength"`
}

// Decision is the central entity of the corpus.
type Decision struct {
	ID       string   `json:"id" yaml:"id"`
	AgentID  string   `json:"agentId" yaml:"agent_id"`
	Summary  string   `json:"summary,omitempty" yaml:"summary,omitempty"`
	Decision string   `json:"decision" yaml:"decision"`
	Category Category `json:"category" yaml:"category"`
	Stakes   Stakes   `json:"stakes" yaml:"stakes"`

	Confidence float64 `json:"confidence" yaml:"confidence"`
	Status     Status  `json:"status" yaml:"status"`
	Date       string  `json:"date" yaml:"date"` // ISO-8601 date (YYYY-MM-DD), set at record time

	Context     string      `json:"context,omitempty" yaml:"context,omitempty"`
	Pattern     string      `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Tags        []string    `json:"tags,omitempty" yaml:"tags,omitempty"`
	Project     *string     `json:"project,omitempty" yaml:"project,omitempty"`
	Feature     *string     `json:"feature,omitempty" yaml:"feature,omitempty"`
	PR          *int        `json:"pr,omitempty" yaml:"pr,omitempty"`
	KPIs        []string    `json:"kpiIndicators,omitempty" yaml:"kpi_indicators,omitempty"`
	MentalState MentalState `json:"mentalState,omitempty" yaml:"mental_state,omitempty"`

	ReviewBy   string `json:"reviewBy,omitempty" yaml:"review_by,omitempty"`
	ReviewerID string `json:"reviewerId,omitempty" yaml:"reviewer_id,omitempty"`

	Reasons []Reason `json:"reasons,omitempty" yaml:"reasons,omitempty"`

	// Review-time fields. Zero-valued until status transitions to reviewed.
	Outcome      Outcome  `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	ActualResult string   `json:"actualResult,omitempty" yaml:"actual_result,omitempty"`
	Lessons      string   `json:"lessons,omitempty" yaml:"lessons,omitempty"`
	AffectedKPIs []string `json:"affectedKpis,omitempty" yaml:"affected_kpis,omitempty"`
	ReviewedAt   string   `json:"reviewedAt,omitempty" yaml:"reviewed_at,omitempty"`
	ReviewedBy   string   `json:"reviewedBy,omitempty" yaml:"reviewed_by,omitempty"`

	Bridge       *Bridge       `json:"bridge,omitempty" yaml:"bridge,omitempty"`
	Deliberation *Deliberation `json:"deliberation,omitempty" yaml:"deliberation,omitempty"`
	Preserve     bool          `json:"preserve,omitempty" yaml:"preserve,omitempty"`

	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
}

// ActualConfidence returns the numeric truth value for a reviewed decision's
// outcome, or 0 with ok=false when the decision has not been reviewed.
func (d Decision) ActualConfidence() (float64, bool) {
	if d.Status != StatusReviewed {
		return 0, false
	}
	v, ok := OutcomeConfidence[d.Outcome]
	return v, ok
}

// ReasonTypeSet returns the distinct set of reason types used by the decision.
func (d Decision) ReasonTypeSet() map[ReasonType]struct{} {
	set := make(map[ReasonType]struct{}, len(d.Reasons))
	for _, r := range d.Reasons {
		set[r.Type] = struct{}{}
	}
	return set
}

// BridgeMethod records which mechanism produced a decision's bridge.
type BridgeMethod string

const (
	BridgeMethodRule BridgeMethod = "rule"
	BridgeMethodLLM  BridgeMethod = "llm"
	BridgeMethodBoth BridgeMethod = "both"
	BridgeMethodNone BridgeMethod = "none"
)

// Bridge is the abstract structure/function pair attached to a decision for
// cross-domain similarity matching.
type Bridge struct {
	Structure string       `json:"structure" yaml:"structure"`
	Function  string       `json:"function" yaml:"function"`
	Enforces  []string     `json:"enforces,omitempty" yaml:"enforces,omitempty"`
	Prevents  []string     `json:"prevents,omitempty" yaml:"prevents,omitempty"`
	Tolerates []string     `json:"tolerates,omitempty" yaml:"tolerates,omitempty"`
	Method    BridgeMethod `json:"method,omitempty" yaml:"method,omitempty"`
}

// DeliberationInput is one captured reasoning input.
type DeliberationInput struct {
	ID        string    `json:"id" yaml:"id"`
	Text      string    `json:"text" yaml:"text"`
	Source    string    `json:"source,omitempty" yaml:"source,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// StepType categorizes a deliberation step's role.
type StepType string

const (
	StepAnalysis   StepType = "analysis"
	StepConstraint StepType = "constraint"
	StepEmpirical  StepType = "empirical"
)

// DeliberationStep is one ordered reasoning step, referencing zero or more
// inputs that informed it.
type DeliberationStep struct {
	Step       int        `json:"step" yaml:"step"`
	Thought    string     `json:"thought" yaml:"thought"`
	InputIDs   []string   `json:"inputIds,omitempty" yaml:"input_ids,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	DurationMS *int64     `json:"durationMs,omitempty" yaml:"duration_ms,omitempty"`
	Type       StepType   `json:"type,omitempty" yaml:"type,omitempty"`
	Conclusion bool       `json:"conclusion,omitempty" yaml:"conclusion,omitempty"`
}

// Deliberation is the full reasoning trace owned by one decision.
type Deliberation struct {
	Inputs          []DeliberationInput `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Steps           []DeliberationStep  `json:"steps,omitempty" yaml:"steps,omitempty"`
	TotalDurationMS *int64              `json:"totalDurationMs,omitempty" yaml:"total_duration_ms,omitempty"`
}

// Finalize computes TotalDurationMS from the first and last input timestamps
// when at least two inputs are present, matching the spec's definition.
func (d *Deliberation) Finalize() {
	if len(d.Inputs) < 2 {
		return
	}
	first := d.Inputs[0].Timestamp
	last := d.Inputs[len(d.Inputs)-1].Timestamp
	ms := last.Sub(first).Milliseconds()
	d.TotalDurationMS = &ms
}
