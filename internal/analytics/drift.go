package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/ashita-ai/cstpd/internal/decisionstore"
	"github.com/ashita-ai/cstpd/internal/model"
)

const (
	recentWindowDays      = 30
	historicalWindowStart = 30
	historicalWindowEnd   = 120

	defaultThresholdBrier    = 0.20 // relative degradation
	defaultThresholdAccuracy = 0.15 // relative drop

	minBrierAbsoluteDelta    = 0.03
	minAccuracyAbsoluteDelta = 0.05

	minDriftSampleSize = 3
)

// RecommendationType classifies a drift finding.
type RecommendationType string

const (
	RecommendationBrierDegraded    RecommendationType = "brier_degraded"
	RecommendationAccuracyDropped  RecommendationType = "accuracy_dropped"
	RecommendationStable           RecommendationType = "stable"
	RecommendationInsufficientData RecommendationType = "insufficient_data"
)

// DriftReport compares a recent window to a historical baseline.
type DriftReport struct {
	Recent         BucketStats        `json:"recent"`
	Historical     BucketStats        `json:"historical"`
	Alert          bool               `json:"alert"`
	ChangePct      float64            `json:"changePct"`
	Recommendation RecommendationType `json:"recommendation"`
}

// Drift compares the recent 30-day reviewed window to the 30-120-day
// historical window, both restricted by filter. thresholdBrier and
// thresholdAccuracy default to 0.20/0.15 when <= 0.
func Drift(ctx context.Context, store decisionstore.Store, filter model.QueryFilters, thresholdBrier, thresholdAccuracy float64, now time.Time) (DriftReport, error) {
	if thresholdBrier <= 0 {
		thresholdBrier = defaultThresholdBrier
	}
	if thresholdAccuracy <= 0 {
		thresholdAccuracy = defaultThresholdAccuracy
	}

	all, err := store.All(ctx)
	if err != nil {
		return DriftReport{}, fmt.Errorf("analytics: list corpus: %w", err)
	}

	var recent, historical []model.Decision
	for _, d := range all {
		if d.Status != model.StatusReviewed {
			continue
		}
		if !decisionstore.MatchesFilter(d, filter) {
			continue
		}
		parsed, err := time.Parse(dateLayout, d.Date)
		if err != nil {
			continue
		}
		ageDays := now.Sub(parsed).Hours() / 24
		switch {
		case ageDays <= recentWindowDays:
			recent = append(recent, d)
		case ageDays > historicalWindowStart && ageDays <= historicalWindowEnd:
			historical = append(historical, d)
		}
	}

	recentStats := statsOf("recent", recent)
	historicalStats := statsOf("historical", historical)

	report := DriftReport{Recent: recentStats, Historical: historicalStats}
	if len(recent) < minDriftSampleSize || len(historical) < minDriftSampleSize {
		report.Recommendation = RecommendationInsufficientData
		return report, nil
	}

	brierDelta := recentStats.BrierScore - historicalStats.BrierScore
	brierRelative := relativeChange(historicalStats.BrierScore, brierDelta)
	accuracyDelta := historicalStats.Accuracy - recentStats.Accuracy
	accuracyRelative := relativeChange(historicalStats.Accuracy, accuracyDelta)

	brierAlert := brierRelative > thresholdBrier && brierDelta >= minBrierAbsoluteDelta
	accuracyAlert := accuracyRelative > thresholdAccuracy && accuracyDelta >= minAccuracyAbsoluteDelta

	switch {
	case brierAlert:
		report.Alert = true
		report.ChangePct = brierRelative
		report.Recommendation = RecommendationBrierDegraded
	case accuracyAlert:
		report.Alert = true
		report.ChangePct = accuracyRelative
		report.Recommendation = RecommendationAccuracyDropped
	default:
		report.Recommendation = RecommendationStable
	}
	return report, nil
}

func relativeChange(base, delta float64) float64 {
	if base == 0 {
		return 0
	}
	return delta / base
}
