// Package graph maintains the typed edges between decisions: explicit
// link_decisions calls plus the heuristic safe_auto_link pass run after a
// successful record. Edges are additive and append-only — never deleted —
// mirroring the lifecycle's "raw data is never deleted" invariant.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashita-ai/cstpd/internal/model"
)

// ErrUnknownDecision is returned by LinkDecisions when either endpoint does
// not exist in the decision corpus.
var ErrUnknownDecision = fmt.Errorf("graph: unknown decision id")

// ErrInvalidEdgeType is returned when edgeType is not in the enum.
var ErrInvalidEdgeType = fmt.Errorf("graph: invalid edge type")

// decisionExists is the minimal lookup the graph needs from the decision
// store, kept narrow so graph doesn't depend on decisionstore.Store wholesale.
type decisionExists func(ctx context.Context, id string) bool

// Graph holds every edge in memory, guarded by a mutex, with an append-only
// JSONL file as the durable log (same idiom as internal/breaker's persistence).
type Graph struct {
	mu           sync.Mutex
	edges        []model.Edge
	out          map[string][]int // decision id -> indexes into edges, outgoing
	in           map[string][]int // decision id -> indexes into edges, incoming
	path         string
	exists       decisionExists
	logger       *slog.Logger
}

// New builds a Graph. exists is used to validate endpoints on LinkDecisions;
// path is the JSONL persistence file (empty disables persistence, used in tests).
func New(path string, exists decisionExists, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{
		out:    make(map[string][]int),
		in:     make(map[string][]int),
		path:   path,
		exists: exists,
		logger: logger,
	}
}

// Load replays the persistence file, rebuilding the in-memory index.
func (g *Graph) Load() error {
	if g.path == "" {
		return nil
	}
	edges, err := loadEdges(g.path)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges = nil
	g.out = make(map[string][]int)
	g.in = make(map[string][]int)
	for _, e := range edges {
		g.indexLocked(e)
	}
	return nil
}

func isValidEdgeType(t model.EdgeType) bool {
	for _, v := range model.ValidEdgeTypes {
		if v == t {
			return true
		}
	}
	return false
}

func (g *Graph) indexLocked(e model.Edge) {
	idx := len(g.edges)
	g.edges = append(g.edges, e)
	g.out[e.Source] = append(g.out[e.Source], idx)
	g.in[e.Target] = append(g.in[e.Target], idx)
}

// LinkDecisions validates both endpoints exist and edgeType is in the enum,
// then appends the edge durably and indexes it in memory.
func (g *Graph) LinkDecisions(ctx context.Context, e model.Edge) (model.Edge, error) {
	if !isValidEdgeType(e.EdgeType) {
		return model.Edge{}, fmt.Errorf("%w: %q", ErrInvalidEdgeType, e.EdgeType)
	}
	if g.exists != nil {
		if !g.exists(ctx, e.Source) || !g.exists(ctx, e.Target) {
			return model.Edge{}, ErrUnknownDecision
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.path != "" {
		if err := appendEdge(g.path, e); err != nil {
			return model.Edge{}, fmt.Errorf("graph: persist edge: %w", err)
		}
	}
	g.indexLocked(e)
	return e, nil
}

// GetNeighbors returns the one-hop frontier of node in the given direction,
// optionally restricted to one edge type, capped at limit (0 = no cap).
func (g *Graph) GetNeighbors(node string, direction model.Direction, edgeType model.EdgeType, limit int) []model.Edge {
	g.mu.Lock()
	defer g.mu.Unlock()

	var result []model.Edge
	add := func(idxs []int) {
		for _, i := range idxs {
			e := g.edges[i]
			if edgeType != "" && e.EdgeType != edgeType {
				continue
			}
			result = append(result, e)
		}
	}
	switch direction {
	case model.DirectionIn:
		add(g.in[node])
	case model.DirectionBoth:
		add(g.out[node])
		add(g.in[node])
	default:
		add(g.out[node])
	}

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// Subgraph is the result of GetGraph: every node reached and every edge
// traversed to reach it.
type Subgraph struct {
	Root  string       `json:"root"`
	Nodes []string     `json:"nodes"`
	Edges []model.Edge `json:"edges"`
}

// GetGraph returns the subgraph reachable from node within depth hops in the
// given direction, restricted by edgeTypes (empty = all).
func (g *Graph) GetGraph(node string, depth int, edgeTypes []model.EdgeType, direction model.Direction) Subgraph {
	if depth < 1 {
		depth = 1
	}
	allowed := make(map[model.EdgeType]bool, len(edgeTypes))
	for _, t := range edgeTypes {
		allowed[t] = true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	visited := map[string]bool{node: true}
	edgeSeen := make(map[int]bool)
	var outEdges []model.Edge
	frontier := []string{node}

	neighborsOf := func(n string, idxs []int, nextOf func(model.Edge) string) []string {
		var found []string
		for _, i := range idxs {
			e := g.edges[i]
			if len(allowed) > 0 && !allowed[e.EdgeType] {
				continue
			}
			if !edgeSeen[i] {
				edgeSeen[i] = true
				outEdges = append(outEdges, e)
			}
			found = append(found, nextOf(e))
		}
		return found
	}

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, n := range frontier {
			var found []string
			switch direction {
			case model.DirectionIn:
				found = neighborsOf(n, g.in[n], func(e model.Edge) string { return e.Source })
			case model.DirectionBoth:
				found = append(found, neighborsOf(n, g.out[n], func(e model.Edge) string { return e.Target })...)
				found = append(found, neighborsOf(n, g.in[n], func(e model.Edge) string { return e.Source })...)
			default:
				found = neighborsOf(n, g.out[n], func(e model.Edge) string { return e.Target })
			}
			for _, other := range found {
				if !visited[other] {
					visited[other] = true
					next = append(next, other)
				}
			}
		}
		frontier = next
	}

	nodes := make([]string, 0, len(visited))
	for n := range visited {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	sort.Slice(outEdges, func(i, j int) bool { return outEdges[i].CreatedAt.Before(outEdges[j].CreatedAt) })

	return Subgraph{Root: node, Nodes: nodes, Edges: outEdges}
}

