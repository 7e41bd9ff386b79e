package lifecycle

import (
	"fmt"

	"github.com/ashita-ai/cstpd/internal/model"
)

func oneOf[T comparable](v T, valid []T) bool {
	for _, x := range valid {
		if v == x {
			return true
		}
	}
	return false
}

// validateRecord checks the invariants record() enforces before persisting:
// decision non-empty; confidence in [0,1]; category, stakes, reason types,
// and mental state (when set) in their enums.
func validateRecord(d model.Decision) error {
	if d.Decision == "" {
		return fmt.Errorf("decision text is required")
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1, got %v", d.Confidence)
	}
	if !oneOf(d.Category, model.ValidCategories) {
		return fmt.Errorf("invalid category %q", d.Category)
	}
	if !oneOf(d.Stakes, model.ValidStakes) {
		return fmt.Errorf("invalid stakes %q", d.Stakes)
	}
	if d.MentalState != "" && !oneOf(d.MentalState, model.ValidMentalStates) {
		return fmt.Errorf("invalid mental state %q", d.MentalState)
	}
	for _, r := range d.Reasons {
		if !oneOf(r.Type, model.ReasonTypes) {
			return fmt.Errorf("invalid reason type %q", r.Type)
		}
		if r.Strength < 0 || r.Strength > 1 {
			return fmt.Errorf("reason strength must be between 0 and 1, got %v", r.Strength)
		}
	}
	return nil
}

// validateReview checks the invariants review() enforces.
func validateReview(outcome model.Outcome) error {
	valid := []model.Outcome{model.OutcomeSuccess, model.OutcomePartial, model.OutcomeFailure, model.OutcomeAbandoned}
	if !oneOf(outcome, valid) {
		return fmt.Errorf("invalid outcome %q", outcome)
	}
	return nil
}
