// Package analytics computes side-effect-free statistics over the reviewed
// decision corpus: calibration, drift, reason diversity, and a prioritized
// ready queue. Every function here reads the corpus through decisionstore
// and never mutates it.
package analytics

import (
	"context"
	"fmt"
	"sort"

	"github.com/ashita-ai/cstpd/internal/decisionstore"
	"github.com/ashita-ai/cstpd/internal/model"
)

const (
	slightThreshold = 0.05
	grossThreshold  = 0.10
)

// dateLayout is the format Decision.Date is stored in: a calendar date, not
// a full timestamp (see decisionstore.YAMLStore.pathFor, which parses the
// same layout to build the YYYY/MM directory path).
const dateLayout = "2006-01-02"

// Interpretation classifies how a calibration gap reads.
type Interpretation string

const (
	InterpretationWellCalibrated         Interpretation = "well_calibrated"
	InterpretationSlightlyOverconfident  Interpretation = "slightly_overconfident"
	InterpretationSlightlyUnderconfident Interpretation = "slightly_underconfident"
	InterpretationOverconfident          Interpretation = "overconfident"
	InterpretationUnderconfident         Interpretation = "underconfident"
)

// BucketStats is the calibration stats for one confidence bucket (or the
// overall aggregate).
type BucketStats struct {
	Bucket            string         `json:"bucket,omitempty"`
	ReviewedDecisions int            `json:"reviewedDecisions"`
	Accuracy          float64        `json:"accuracy"`
	AvgConfidence     float64        `json:"avgConfidence"`
	BrierScore        float64        `json:"brierScore"`
	CalibrationGap    float64        `json:"calibrationGap"`
	Interpretation    Interpretation `json:"interpretation"`
}

// CalibrationReport is the full response shape for cstp.getCalibration.
type CalibrationReport struct {
	Overall BucketStats   `json:"overall"`
	Buckets []BucketStats `json:"buckets"`
}

// Interpret classifies gap = accuracy - avgConfidence. A negative gap means
// confidence exceeded observed accuracy (overconfident); a positive gap
// means accuracy exceeded confidence (underconfident). Exported so callers
// outside this package (session-context's agent-profile tendency) can
// derive the same label from their own accuracy/confidence aggregates
// without duplicating the thresholds.
func Interpret(gap float64) Interpretation {
	switch {
	case gap < -grossThreshold:
		return InterpretationOverconfident
	case gap < -slightThreshold:
		return InterpretationSlightlyOverconfident
	case gap > grossThreshold:
		return InterpretationUnderconfident
	case gap > slightThreshold:
		return InterpretationSlightlyUnderconfident
	default:
		return InterpretationWellCalibrated
	}
}

func statsOf(label string, decisions []model.Decision) BucketStats {
	if len(decisions) == 0 {
		return BucketStats{Bucket: label, Interpretation: InterpretationWellCalibrated}
	}
	var accuracySum, confidenceSum, brierSum float64
	for _, d := range decisions {
		actual := model.OutcomeConfidence[d.Outcome]
		accuracySum += actual
		confidenceSum += d.Confidence
		brierSum += (d.Confidence - actual) * (d.Confidence - actual)
	}
	n := float64(len(decisions))
	accuracy := accuracySum / n
	avgConfidence := confidenceSum / n
	gap := accuracy - avgConfidence
	return BucketStats{
		Bucket:            label,
		ReviewedDecisions: len(decisions),
		Accuracy:          accuracy,
		AvgConfidence:     avgConfidence,
		BrierScore:        brierSum / n,
		CalibrationGap:    gap,
		Interpretation:    Interpret(gap),
	}
}

func confidenceBucket(c float64) string {
	lo := int(c * 10)
	if lo > 9 {
		lo = 9
	}
	if lo < 0 {
		lo = 0
	}
	hi := lo + 1
	return fmt.Sprintf("%.1f-%.1f", float64(lo)/10, float64(hi)/10)
}

// Calibration computes overall and per-confidence-bucket calibration stats
// over the reviewed decisions matching filter.
func Calibration(ctx context.Context, store decisionstore.Store, filter model.QueryFilters) (CalibrationReport, error) {
	all, err := store.All(ctx)
	if err != nil {
		return CalibrationReport{}, fmt.Errorf("analytics: list corpus: %w", err)
	}

	var reviewed []model.Decision
	for _, d := range all {
		if d.Status != model.StatusReviewed {
			continue
		}
		if !decisionstore.MatchesFilter(d, filter) {
			continue
		}
		reviewed = append(reviewed, d)
	}

	byBucket := make(map[string][]model.Decision)
	for _, d := range reviewed {
		b := confidenceBucket(d.Confidence)
		byBucket[b] = append(byBucket[b], d)
	}

	buckets := make([]string, 0, len(byBucket))
	for b := range byBucket {
		buckets = append(buckets, b)
	}
	sort.Strings(buckets)

	report := CalibrationReport{Overall: statsOf("", reviewed)}
	for _, b := range buckets {
		report.Buckets = append(report.Buckets, statsOf(b, byBucket[b]))
	}
	return report, nil
}
