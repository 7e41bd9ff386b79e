package graph

import (
	"context"

	"github.com/ashita-ai/cstpd/internal/model"
)

const (
	autoLinkSharedTagWeight = 0.5
	autoLinkPatternWeight   = 0.7
	autoLinkCandidateScan   = 200 // bound the corpus scan for the heuristic pass
)

// SafeAutoLink creates heuristic related_to edges from d to recent corpus
// members sharing tags or a pattern, and to any ids named in relatedHints.
// Failures are logged, never surfaced — callers (lifecycle.record) must not
// let a broken heuristic fail the primary write.
func (g *Graph) SafeAutoLink(ctx context.Context, d model.Decision, corpus []model.Decision, relatedHints []string, logger interface {
	Debug(msg string, args ...any)
}) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Debug("graph: auto-link panicked", "error", r)
			}
		}
	}()

	seen := map[string]bool{d.ID: true}

	link := func(target string, weight float64, context string) {
		if target == "" || seen[target] {
			return
		}
		seen[target] = true
		_, err := g.LinkDecisions(ctx, model.Edge{
			Source:   d.ID,
			Target:   target,
			EdgeType: model.EdgeRelatedTo,
			Weight:   &weight,
			Context:  context,
		})
		if err != nil && logger != nil {
			logger.Debug("graph: auto-link edge failed", "target", target, "error", err)
		}
	}

	for _, hint := range relatedHints {
		link(hint, 1.0, "explicit related_to hint")
	}

	tagSet := make(map[string]bool, len(d.Tags))
	for _, t := range d.Tags {
		tagSet[t] = true
	}

	scanned := 0
	for _, other := range corpus {
		if scanned >= autoLinkCandidateScan {
			break
		}
		scanned++
		if other.ID == d.ID {
			continue
		}
		if d.Pattern != "" && other.Pattern == d.Pattern {
			link(other.ID, autoLinkPatternWeight, "shared pattern: "+d.Pattern)
			continue
		}
		if sharedTags := countShared(tagSet, other.Tags); sharedTags > 0 {
			link(other.ID, autoLinkSharedTagWeight, "shared tags")
		}
	}
}

func countShared(tagSet map[string]bool, tags []string) int {
	count := 0
	for _, t := range tags {
		if tagSet[t] {
			count++
		}
	}
	return count
}
