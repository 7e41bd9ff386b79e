package model

import "time"

// EdgeType enumerates the allowed directional relations between two
// decisions. The set is open-ended in the spec ("...") but these are the
// concrete values link_decisions validates against.
type EdgeType string

const (
	EdgeSupersedes  EdgeType = "supersedes"
	EdgeRelatedTo   EdgeType = "related_to"
	EdgeDuplicates  EdgeType = "duplicates"
	EdgeReverses    EdgeType = "reverses"
	EdgeExtends     EdgeType = "extends"
	EdgeContradicts EdgeType = "contradicts"
	EdgeRequires    EdgeType = "requires"
)

// ValidEdgeTypes is the canonical, ordered set of edge types.
var ValidEdgeTypes = []EdgeType{
	EdgeSupersedes, EdgeRelatedTo, EdgeDuplicates, EdgeReverses,
	EdgeExtends, EdgeContradicts, EdgeRequires,
}

// Direction selects which side of an edge to traverse.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// Edge is a typed directional relation jointly referenced by two decisions;
// neither decision owns it.
type Edge struct {
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	EdgeType  EdgeType  `json:"edgeType"`
	Weight    *float64  `json:"weight,omitempty"`
	Context   string    `json:"context,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy,omitempty"`
}
