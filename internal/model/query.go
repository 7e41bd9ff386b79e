package model

// QueryFilters is the shared filter taxonomy used by retrieval, compaction,
// and analytics. Pointer fields are optional; nil means "not applied".
type QueryFilters struct {
	Category      *Category `json:"category,omitempty"`
	MinConfidence *float64  `json:"minConfidence,omitempty"`
	MaxConfidence *float64  `json:"maxConfidence,omitempty"`
	DateAfter     *string   `json:"dateAfter,omitempty"`
	DateBefore    *string   `json:"dateBefore,omitempty"`
	Stakes        *Stakes   `json:"stakes,omitempty"`
	Status        *Status   `json:"status,omitempty"`
	Project       *string   `json:"project,omitempty"`
	Feature       *string   `json:"feature,omitempty"`
	PR            *int      `json:"pr,omitempty"`
	HasOutcome    *bool     `json:"hasOutcome,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
}

// RetrievalMode selects which retrieval strategy queryDecisions uses.
type RetrievalMode string

const (
	RetrievalSemantic RetrievalMode = "semantic"
	RetrievalKeyword  RetrievalMode = "keyword"
	RetrievalHybrid   RetrievalMode = "hybrid"
)

// BridgeSide biases semantic retrieval toward one face of a decision's bridge.
type BridgeSide string

const (
	BridgeSideStructure BridgeSide = "structure"
	BridgeSideFunction  BridgeSide = "function"
)

const (
	defaultHybridWeight   = 0.7
	emptyQueryMaxLimit    = 500
	nonEmptyQueryMaxLimit = 50
)

// QueryDecisionsRequest is the params payload for cstp.queryDecisions.
type QueryDecisionsRequest struct {
	Query          string        `json:"query"`
	Filters        QueryFilters  `json:"filters"`
	Limit          int           `json:"limit"`
	IncludeReasons bool          `json:"includeReasons"`
	RetrievalMode  RetrievalMode `json:"retrievalMode"`
	HybridWeight   float64       `json:"hybridWeight"`
	BridgeSide     BridgeSide    `json:"bridgeSide,omitempty"`
	Compacted      bool          `json:"compacted"`
}

// EffectiveQuery returns the query text actually embedded for semantic
// retrieval, prefixed per BridgeSide when set.
func (r QueryDecisionsRequest) EffectiveQuery() string {
	switch r.BridgeSide {
	case BridgeSideStructure:
		return "Structure: " + r.Query
	case BridgeSideFunction:
		return "Function: " + r.Query
	default:
		return r.Query
	}
}

// Normalize applies the boundary rules from the spec: limit clamping (500 for
// an empty query else 50), retrieval-mode fallback to semantic, and hybrid
// weight clamping to [0,1]. Call once after parsing request params.
func (r *QueryDecisionsRequest) Normalize() {
	maxLimit := nonEmptyQueryMaxLimit
	if r.Query == "" {
		maxLimit = emptyQueryMaxLimit
	}
	if r.Limit <= 0 {
		r.Limit = 10
	}
	if r.Limit > maxLimit {
		r.Limit = maxLimit
	}

	switch r.RetrievalMode {
	case RetrievalSemantic, RetrievalKeyword, RetrievalHybrid:
	default:
		r.RetrievalMode = RetrievalSemantic
	}

	if r.HybridWeight == 0 {
		r.HybridWeight = defaultHybridWeight
	}
	if r.HybridWeight < 0 {
		r.HybridWeight = 0
	}
	if r.HybridWeight > 1 {
		r.HybridWeight = 1
	}

	switch r.BridgeSide {
	case BridgeSideStructure, BridgeSideFunction, "":
	default:
		r.BridgeSide = ""
	}
}

// ScoreTriple carries per-mode scores for a hybrid-mode hit.
type ScoreTriple struct {
	Semantic float64 `json:"semantic"`
	Keyword  float64 `json:"keyword"`
	Combined float64 `json:"combined"`
}

// ScoredDecision pairs a decision with its retrieval score(s).
type ScoredDecision struct {
	Decision Decision    `json:"decision"`
	Score    ScoreTriple `json:"score"`
}
