// Package compaction shapes how much of a decision is returned based on its
// age, without ever rewriting or deleting the underlying record. Raw data is
// permanent; compaction only changes what queries surface.
package compaction

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ashita-ai/cstpd/internal/decisionstore"
	"github.com/ashita-ai/cstpd/internal/model"
)

// Level is the compaction shape assigned to a decision.
type Level string

const (
	LevelFull    Level = "full"
	LevelSummary Level = "summary"
	LevelDigest  Level = "digest"
	LevelWisdom  Level = "wisdom"
)

// Age thresholds in days, per the spec's compile-time table.
const (
	summaryThresholdDays = 7
	digestThresholdDays  = 30
	wisdomThresholdDays  = 90
)

const digestSummaryMaxLen = 80

// Engine computes compaction levels and shapes decisions accordingly.
type Engine struct {
	store decisionstore.Store
	now   func() time.Time
}

// NewEngine builds a compaction Engine over store. now defaults to time.Now
// and is overridable for deterministic tests.
func NewEngine(store decisionstore.Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// dateLayout is the format Decision.Date is stored in: a calendar date,
// not a full timestamp (see decisionstore.YAMLStore.pathFor, which parses
// the same layout to build the YYYY/MM directory path).
const dateLayout = "2006-01-02"

// AgeDays returns how many days old d is, relative to the engine's clock.
func (e *Engine) AgeDays(d model.Decision) float64 {
	parsed, err := time.Parse(dateLayout, d.Date)
	if err != nil {
		return 0
	}
	return e.clock().Sub(parsed).Hours() / 24
}

// Level computes d's compaction level. preserve=true or status=pending force
// full regardless of age, satisfying the retrieval.Leveler interface.
func (e *Engine) Level(d model.Decision) string {
	return string(e.levelOf(d))
}

func (e *Engine) levelOf(d model.Decision) Level {
	if d.Preserve || d.Status == model.StatusPending {
		return LevelFull
	}
	age := e.AgeDays(d)
	switch {
	case age < summaryThresholdDays:
		return LevelFull
	case age < digestThresholdDays:
		return LevelSummary
	case age < wisdomThresholdDays:
		return LevelDigest
	default:
		return LevelWisdom
	}
}

// ActualConfidence maps an outcome to its numeric truth value.
func ActualConfidence(o model.Outcome) float64 {
	return model.OutcomeConfidence[o]
}

// Shaped is a level-appropriate projection of a Decision for query responses.
type Shaped struct {
	ID               string   `json:"id"`
	Level            Level    `json:"level"`
	Decision         string   `json:"decision,omitempty"`
	Category         model.Category `json:"category,omitempty"`
	Date             string   `json:"date,omitempty"`
	Outcome          model.Outcome  `json:"outcome,omitempty"`
	Confidence       float64  `json:"confidence,omitempty"`
	ActualConfidence *float64 `json:"actualConfidence,omitempty"`
	Pattern          string   `json:"pattern,omitempty"`
	Stakes           model.Stakes `json:"stakes,omitempty"`
	Summary          string   `json:"summary,omitempty"`
	Full             *model.Decision `json:"full,omitempty"`
}

// Shape projects d at level (or a forced level, when non-empty).
func Shape(d model.Decision, level Level) Shaped {
	s := Shaped{ID: d.ID, Level: level}
	switch level {
	case LevelFull:
		full := d
		s.Full = &full
	case LevelSummary:
		s.Decision = d.Decision
		s.Category = d.Category
		s.Date = d.Date
		s.Outcome = d.Outcome
		s.Confidence = d.Confidence
		s.Pattern = d.Pattern
		s.Stakes = d.Stakes
		if d.Status == model.StatusReviewed {
			v := ActualConfidence(d.Outcome)
			s.ActualConfidence = &v
		}
	case LevelDigest:
		s.Category = d.Category
		s.Date = d.Date
		s.Summary = oneLineSummary(d.Decision)
	default: // wisdom: never shaped individually
	}
	return s
}

func oneLineSummary(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= digestSummaryMaxLen {
		return text
	}
	return text[:digestSummaryMaxLen-1] + "…"
}

// LevelCounts tallies decisions per level, plus how many were preserved.
type LevelCounts struct {
	Full      int `json:"full"`
	Summary   int `json:"summary"`
	Digest    int `json:"digest"`
	Wisdom    int `json:"wisdom"`
	Preserved int `json:"preserved"`
}

// Compact walks the corpus matching filter and reports per-level counts. It
// never rewrites files.
func (e *Engine) Compact(ctx context.Context, filter model.QueryFilters) (LevelCounts, error) {
	decisions, err := e.store.All(ctx)
	if err != nil {
		return LevelCounts{}, fmt.Errorf("compaction: list corpus: %w", err)
	}
	var counts LevelCounts
	for _, d := range decisions {
		if !decisionstore.MatchesFilter(d, filter) {
			continue
		}
		if d.Preserve {
			counts.Preserved++
		}
		switch e.levelOf(d) {
		case LevelFull:
			counts.Full++
		case LevelSummary:
			counts.Summary++
		case LevelDigest:
			counts.Digest++
		case LevelWisdom:
			counts.Wisdom++
		}
	}
	return counts, nil
}

// GetCompacted shapes each matching decision at its level (or forcedLevel,
// when non-empty), sorted date descending, capped at limit. Wisdom-level
// items are excluded unless forcedLevel explicitly requests wisdom.
func (e *Engine) GetCompacted(ctx context.Context, filter model.QueryFilters, forcedLevel Level, limit int, includePreserved bool) ([]Shaped, error) {
	decisions, err := e.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("compaction: list corpus: %w", err)
	}

	matched := make([]model.Decision, 0, len(decisions))
	for _, d := range decisions {
		if !decisionstore.MatchesFilter(d, filter) {
			continue
		}
		if d.Preserve && !includePreserved {
			continue
		}
		matched = append(matched, d)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Date > matched[j].Date })

	out := make([]Shaped, 0, len(matched))
	for _, d := range matched {
		level := e.levelOf(d)
		if forcedLevel != "" {
			level = forcedLevel
		}
		if level == LevelWisdom && forcedLevel == "" {
			continue
		}
		out = append(out, Shape(d, level))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// SetPreserve writes the preserve flag atomically via the underlying store.
func (e *Engine) SetPreserve(ctx context.Context, idOrPrefix string, flag bool) (model.Decision, error) {
	d, err := e.store.Get(ctx, idOrPrefix)
	if err != nil {
		return model.Decision{}, err
	}
	d.Preserve = flag
	if err := e.store.Put(ctx, d); err != nil {
		return model.Decision{}, fmt.Errorf("compaction: set preserve: %w", err)
	}
	return d, nil
}
