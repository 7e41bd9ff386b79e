package analytics

import (
	"context"
	"fmt"
	"sort"

	"github.com/ashita-ai/cstpd/internal/decisionstore"
	"github.com/ashita-ai/cstpd/internal/model"
)

const defaultMinReviewedForBrier = 3

// ReasonTypeStats aggregates usage and outcomes for one reason type.
type ReasonTypeStats struct {
	Type          model.ReasonType      `json:"type"`
	TotalUses     int                   `json:"totalUses"`
	ReviewedUses  int                   `json:"reviewedUses"`
	OutcomeCounts map[model.Outcome]int `json:"outcomeCounts"`
	SuccessRate   float64               `json:"successRate"`
	AvgConfidence float64               `json:"avgConfidence"`
	AvgStrength   float64               `json:"avgStrength"`
	BrierScore    *float64              `json:"brierScore,omitempty"`
}

// DiversityBucket aggregates decisions by how many distinct reason types
// they used.
type DiversityBucket struct {
	DistinctTypes int     `json:"distinctTypes"`
	Count         int     `json:"count"`
	SuccessRate   float64 `json:"successRate"`
	BrierScore    float64 `json:"brierScore"`
}

// Recommendation is a human-readable, machine-taggable insight.
type Recommendation struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ReasonStatsReport is the full response for cstp.getReasonStats.
type ReasonStatsReport struct {
	ByType          []ReasonTypeStats `json:"byType"`
	Diversity       []DiversityBucket `json:"diversity"`
	Recommendations []Recommendation  `json:"recommendations"`
}

// ReasonStats groups reasons by type and computes usage/outcome statistics,
// plus a diversity breakdown and a set of recommendations. minReviewed
// (default 3) gates when a type's Brier score is computed.
func ReasonStats(ctx context.Context, store decisionstore.Store, filter model.QueryFilters, minReviewed int) (ReasonStatsReport, error) {
	if minReviewed <= 0 {
		minReviewed = defaultMinReviewedForBrier
	}
	all, err := store.All(ctx)
	if err != nil {
		return ReasonStatsReport{}, fmt.Errorf("analytics: list corpus: %w", err)
	}

	type accumulator struct {
		totalUses     int
		reviewedUses  int
		outcomeCounts map[model.Outcome]int
		confidenceSum float64
		strengthSum   float64
		successSum    float64
		brierSum      float64
	}
	acc := make(map[model.ReasonType]*accumulator)
	for _, t := range model.ReasonTypes {
		acc[t] = &accumulator{outcomeCounts: make(map[model.Outcome]int)}
	}

	var diversityCounts = make(map[int][]model.Decision)

	for _, d := range all {
		if !decisionstore.MatchesFilter(d, filter) {
			continue
		}
		distinct := len(d.ReasonTypeSet())
		if distinct > 0 {
			diversityCounts[distinct] = append(diversityCounts[distinct], d)
		}

		for _, r := range d.Reasons {
			a, ok := acc[r.Type]
			if !ok {
				a = &accumulator{outcomeCounts: make(map[model.Outcome]int)}
				acc[r.Type] = a
			}
			a.totalUses++
			a.strengthSum += r.Strength
			if d.Status == model.StatusReviewed {
				a.reviewedUses++
				a.outcomeCounts[d.Outcome]++
				a.confidenceSum += d.Confidence
				actual := model.OutcomeConfidence[d.Outcome]
				a.successSum += actual
				a.brierSum += (d.Confidence - actual) * (d.Confidence - actual)
			}
		}
	}

	var byType []ReasonTypeStats
	for _, t := range model.ReasonTypes {
		a := acc[t]
		s := ReasonTypeStats{Type: t, TotalUses: a.totalUses, ReviewedUses: a.reviewedUses, OutcomeCounts: a.outcomeCounts}
		if a.totalUses > 0 {
			s.AvgStrength = a.strengthSum / float64(a.totalUses)
		}
		if a.reviewedUses > 0 {
			s.SuccessRate = a.successSum / float64(a.reviewedUses)
			s.AvgConfidence = a.confidenceSum / float64(a.reviewedUses)
			if a.reviewedUses >= minReviewed {
				brier := a.brierSum / float64(a.reviewedUses)
				s.BrierScore = &brier
			}
		}
		byType = append(byType, s)
	}

	var diversity []DiversityBucket
	distinctCounts := make([]int, 0, len(diversityCounts))
	for k := range diversityCounts {
		distinctCounts = append(distinctCounts, k)
	}
	sort.Ints(distinctCounts)
	for _, k := range distinctCounts {
		group := diversityCounts[k]
		var reviewed []model.Decision
		for _, d := range group {
			if d.Status == model.StatusReviewed {
				reviewed = append(reviewed, d)
			}
		}
		bucket := DiversityBucket{DistinctTypes: k, Count: len(group)}
		if len(reviewed) > 0 {
			stats := statsOf("", reviewed)
			bucket.SuccessRate = stats.Accuracy
			bucket.BrierScore = stats.BrierScore
		}
		diversity = append(diversity, bucket)
	}

	return ReasonStatsReport{
		ByType:          byType,
		Diversity:       diversity,
		Recommendations: recommend(byType, diversity),
	}, nil
}

const (
	overconfidentAvgConfidence = 0.8
	overconfidentSuccessCeil   = 0.6
)

func recommend(byType []ReasonTypeStats, diversity []DiversityBucket) []Recommendation {
	var recs []Recommendation

	var best, worst *ReasonTypeStats
	for i := range byType {
		s := &byType[i]
		if s.ReviewedUses == 0 {
			continue
		}
		if best == nil || s.SuccessRate > best.SuccessRate {
			best = s
		}
		if worst == nil || s.SuccessRate < worst.SuccessRate {
			worst = s
		}
	}
	if best != nil {
		recs = append(recs, Recommendation{Kind: "best_performing_type", Message: fmt.Sprintf("%s reasoning has the highest success rate (%.0f%%)", best.Type, best.SuccessRate*100)})
	}
	if worst != nil && worst != best {
		recs = append(recs, Recommendation{Kind: "worst_performing_type", Message: fmt.Sprintf("%s reasoning has the lowest success rate (%.0f%%)", worst.Type, worst.SuccessRate*100)})
	}

	for _, s := range byType {
		if s.ReviewedUses > 0 && s.AvgConfidence > overconfidentAvgConfidence && s.SuccessRate < overconfidentSuccessCeil {
			recs = append(recs, Recommendation{Kind: "overconfident_type", Message: fmt.Sprintf("%s reasoning is used with high confidence (%.2f avg) but only %.0f%% succeeds", s.Type, s.AvgConfidence, s.SuccessRate*100)})
		}
	}

	var single, multi *DiversityBucket
	for i := range diversity {
		b := &diversity[i]
		if b.DistinctTypes == 1 {
			single = b
		}
		if b.DistinctTypes >= 2 && (multi == nil || b.SuccessRate > multi.SuccessRate) {
			multi = b
		}
	}
	if single != nil && multi != nil && multi.SuccessRate > single.SuccessRate {
		recs = append(recs, Recommendation{Kind: "diversity_benefit", Message: fmt.Sprintf("decisions using %d+ reason types succeed more often (%.0f%%) than single-type decisions (%.0f%%)", multi.DistinctTypes, multi.SuccessRate*100, single.SuccessRate*100)})
	}

	used := make(map[model.ReasonType]bool)
	for _, s := range byType {
		if s.TotalUses > 0 {
			used[s.Type] = true
		}
	}
	var never []string
	for _, t := range model.ReasonTypes {
		if !used[t] {
			never = append(never, string(t))
		}
	}
	if len(never) > 0 {
		recs = append(recs, Recommendation{Kind: "never_used_types", Message: fmt.Sprintf("reason types never used: %v", never)})
	}

	return recs
}
