package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ashita-ai/cstpd/internal/decisionstore"
	"github.com/ashita-ai/cstpd/internal/model"
)

// Priority ranks a ready-item's urgency.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

var priorityRank = map[Priority]int{PriorityHigh: 2, PriorityMedium: 1, PriorityLow: 0}

// ReadyType classifies what kind of work a ready item represents.
type ReadyType string

const (
	ReadyReviewOutcome    ReadyType = "review_outcome"
	ReadyStalePending     ReadyType = "stale_pending"
	ReadyCalibrationDrift ReadyType = "calibration_drift"
)

var typeOrder = map[ReadyType]int{ReadyReviewOutcome: 0, ReadyCalibrationDrift: 1, ReadyStalePending: 2}

// ReadyItem is one prioritized unit of follow-up work.
type ReadyItem struct {
	Type     ReadyType      `json:"type"`
	Priority Priority       `json:"priority"`
	Decision string         `json:"decisionId,omitempty"`
	Category model.Category `json:"category,omitempty"`
	Date     string         `json:"date"`
	Reason   string         `json:"reason"`
}

const (
	stalePendingMediumDays = 30
	stalePendingHighDays   = 60
)

func stakesToPriority(s model.Stakes) Priority {
	switch s {
	case model.StakesCritical, model.StakesHigh:
		return PriorityHigh
	case model.StakesMedium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Ready produces a prioritized work list from the corpus matching filter,
// restricted to priorities >= minPriority, capped at limit (0 = no cap).
func Ready(ctx context.Context, store decisionstore.Store, filter model.QueryFilters, minPriority Priority, limit int, now time.Time) ([]ReadyItem, error) {
	all, err := store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("analytics: list corpus: %w", err)
	}

	var items []ReadyItem
	today := now.Format("2006-01-02")
	categories := make(map[model.Category]bool)

	for _, d := range all {
		if !decisionstore.MatchesFilter(d, filter) {
			continue
		}
		categories[d.Category] = true
		if d.Status != model.StatusPending {
			continue
		}

		if d.ReviewBy != "" && d.ReviewBy < today {
			items = append(items, ReadyItem{
				Type: ReadyReviewOutcome, Priority: stakesToPriority(d.Stakes),
				Decision: d.ID, Category: d.Category, Date: d.Date,
				Reason: "review is overdue",
			})
			continue
		}

		if d.ReviewBy == "" {
			parsed, err := time.Parse(dateLayout, d.Date)
			if err == nil {
				age := now.Sub(parsed).Hours() / 24
				switch {
				case age >= stalePendingHighDays:
					items = append(items, ReadyItem{Type: ReadyStalePending, Priority: PriorityHigh, Decision: d.ID, Category: d.Category, Date: d.Date, Reason: "pending with no review date, very stale"})
				case age >= stalePendingMediumDays:
					items = append(items, ReadyItem{Type: ReadyStalePending, Priority: PriorityMedium, Decision: d.ID, Category: d.Category, Date: d.Date, Reason: "pending with no review date, stale"})
				}
			}
		}
	}

	for category := range categories {
		if filter.Category != nil && *filter.Category != category {
			continue
		}
		catFilter := filter
		catFilter.Category = &category
		drift, err := Drift(ctx, store, catFilter, 0, 0, now)
		if err != nil {
			continue
		}
		if drift.Recommendation == RecommendationInsufficientData || !drift.Alert {
			continue
		}
		priority := PriorityMedium
		if drift.ChangePct >= 0.40 {
			priority = PriorityHigh
		}
		items = append(items, ReadyItem{
			Type: ReadyCalibrationDrift, Priority: priority, Category: category, Date: today,
			Reason: fmt.Sprintf("calibration drift detected: %s", drift.Recommendation),
		})
	}

	filtered := items[:0]
	minRank := priorityRank[minPriority]
	if minPriority == "" {
		minRank = priorityRank[PriorityLow]
	}
	for _, it := range items {
		if priorityRank[it.Priority] >= minRank {
			filtered = append(filtered, it)
		}
	}
	items = filtered

	sort.Slice(items, func(i, j int) bool {
		if priorityRank[items[i].Priority] != priorityRank[items[j].Priority] {
			return priorityRank[items[i].Priority] > priorityRank[items[j].Priority]
		}
		if typeOrder[items[i].Type] != typeOrder[items[j].Type] {
			return typeOrder[items[i].Type] < typeOrder[items[j].Type]
		}
		return items[i].Date < items[j].Date
	})

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
