package compaction

import (
	"context"
	"fmt"
	"sort"

	"github.com/ashita-ai/cstpd/internal/model"
)

const defaultMinWisdomDecisions = 5

// Principle is a pattern that recurs often enough across a category's
// reviewed corpus to be worth surfacing.
type Principle struct {
	Text          string   `json:"text"`
	Confirmations int      `json:"confirmations"`
	ExampleIDs    []string `json:"exampleIds"`
}

// Wisdom is the computed (never stored raw) aggregate for one category.
type Wisdom struct {
	Category          model.Category `json:"category"`
	Count             int            `json:"count"`
	SuccessRate       float64        `json:"successRate"`
	AverageConfidence float64        `json:"averageConfidence"`
	BrierScore        float64        `json:"brierScore"`
	KeyPrinciples     []Principle    `json:"keyPrinciples"`
	CommonFailureMode string         `json:"commonFailureMode,omitempty"`
}

const maxExampleIDs = 3
const maxKeyPrinciples = 5
const minPatternConfirmations = 2

// GetWisdom groups wisdom-age (>=90 days), reviewed decisions by category,
// requiring >=minDecisions per group (defaulting to 5), and computes the
// aggregate statistics. category, when non-empty, restricts to one group.
func (e *Engine) GetWisdom(ctx context.Context, category model.Category, minDecisions int) ([]Wisdom, error) {
	if minDecisions <= 0 {
		minDecisions = defaultMinWisdomDecisions
	}
	decisions, err := e.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("compaction: list corpus: %w", err)
	}

	byCategory := make(map[model.Category][]model.Decision)
	for _, d := range decisions {
		if d.Status != model.StatusReviewed {
			continue
		}
		if e.levelOf(d) != LevelWisdom {
			continue
		}
		if category != "" && d.Category != category {
			continue
		}
		byCategory[d.Category] = append(byCategory[d.Category], d)
	}

	var out []Wisdom
	for cat, group := range byCategory {
		if len(group) < minDecisions {
			continue
		}
		out = append(out, computeWisdom(cat, group))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

func computeWisdom(category model.Category, group []model.Decision) Wisdom {
	var successSum, confidenceSum, brierSum float64
	patternExamples := make(map[string][]string)
	patternFailures := make(map[string]int)

	for _, d := range group {
		outcomeVal := outcomeScore(d.Outcome)
		successSum += outcomeVal
		confidenceSum += d.Confidence
		actual := ActualConfidence(d.Outcome)
		brierSum += (d.Confidence - actual) * (d.Confidence - actual)

		if d.Pattern != "" {
			if len(patternExamples[d.Pattern]) < maxExampleIDs {
				patternExamples[d.Pattern] = append(patternExamples[d.Pattern], d.ID)
			}
			if d.Outcome == model.OutcomeFailure || d.Outcome == model.OutcomePartial {
				patternFailures[d.Pattern]++
			}
		}
	}

	n := float64(len(group))
	w := Wisdom{
		Category:          category,
		Count:             len(group),
		SuccessRate:       successSum / n,
		AverageConfidence: confidenceSum / n,
		BrierScore:        brierSum / n,
	}

	type patternCount struct {
		pattern string
		count   int
	}
	var patternCounts []patternCount
	confirmCounts := make(map[string]int)
	for _, d := range group {
		if d.Pattern != "" {
			confirmCounts[d.Pattern]++
		}
	}
	for pattern, count := range confirmCounts {
		if count >= minPatternConfirmations {
			patternCounts = append(patternCounts, patternCount{pattern, count})
		}
	}
	sort.Slice(patternCounts, func(i, j int) bool {
		if patternCounts[i].count != patternCounts[j].count {
			return patternCounts[i].count > patternCounts[j].count
		}
		return patternCounts[i].pattern < patternCounts[j].pattern
	})
	for i, pc := range patternCounts {
		if i >= maxKeyPrinciples {
			break
		}
		w.KeyPrinciples = append(w.KeyPrinciples, Principle{
			Text:          pc.pattern,
			Confirmations: pc.count,
			ExampleIDs:    patternExamples[pc.pattern],
		})
	}

	worstPattern, worstCount := "", 0
	for pattern, count := range patternFailures {
		if count > worstCount {
			worstPattern, worstCount = pattern, count
		}
	}
	w.CommonFailureMode = worstPattern

	return w
}

func outcomeScore(o model.Outcome) float64 {
	switch o {
	case model.OutcomeSuccess:
		return 1
	case model.OutcomePartial:
		return 0.5
	default:
		return 0
	}
}
