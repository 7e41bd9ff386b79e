package aggregator

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"text/template"
	"time"

	"github.com/ashita-ai/cstpd/internal/analytics"
	"github.com/ashita-ai/cstpd/internal/guardrail"
	"github.com/ashita-ai/cstpd/internal/model"
)

const minCategoryReviewed = 3
const minPatternConfirmations = 2
const maxPatternExampleIDs = 3
const confirmedRelevantLimit = 5

// Section names selectable via SessionContextRequest.Include.
const (
	SectionProfile     = "profile"
	SectionRelevant    = "relevant"
	SectionGuardrails  = "guardrails"
	SectionCalibration = "calibration"
	SectionReady       = "ready"
	SectionPatterns    = "patterns"
)

// SessionContextRequest is the params payload for cstp.getSessionContext.
type SessionContextRequest struct {
	TaskDescription string   `json:"taskDescription,omitempty"`
	Include         []string `json:"include,omitempty"`
	Markdown        bool     `json:"markdown"`
}

// AgentProfile summarizes one agent's track record across every reviewed
// decision in the corpus.
type AgentProfile struct {
	Total             int     `json:"total"`
	Reviewed          int     `json:"reviewed"`
	Accuracy          float64 `json:"accuracy"`
	BrierScore        float64 `json:"brierScore"`
	Tendency          string  `json:"tendency,omitempty"`
	StrongestCategory string  `json:"strongestCategory,omitempty"`
	WeakestCategory   string  `json:"weakestCategory,omitempty"`
	ActiveSince       string  `json:"activeSince,omitempty"`
}

// ConfirmedPattern is a pattern observed across at least two decisions.
type ConfirmedPattern struct {
	Pattern    string   `json:"pattern"`
	Count      int      `json:"count"`
	ExampleIDs []string `json:"exampleIds"`
}

// SessionContextResult is the response shape for cstp.getSessionContext.
type SessionContextResult struct {
	Profile     *AgentProfile                    `json:"profile,omitempty"`
	Relevant    []RelevantDecision               `json:"relevant,omitempty"`
	Guardrails  []guardrail.Guardrail            `json:"guardrails,omitempty"`
	Calibration map[string]analytics.BucketStats `json:"calibration,omitempty"`
	Ready       []analytics.ReadyItem            `json:"ready,omitempty"`
	Patterns    []ConfirmedPattern               `json:"patterns,omitempty"`
	Markdown    string                           `json:"markdown,omitempty"`
}

func sectionEnabled(include []string, section string) bool {
	if len(include) == 0 {
		return true
	}
	for _, s := range include {
		if s == section {
			return true
		}
	}
	return false
}

// SessionContext builds the standing briefing an agent requests at the
// start of a task, composed per spec.md §4.9: a profile, optionally
// relevant decisions for a task description, active guardrails, per-
// category calibration, the ready queue's legacy subset, and patterns
// confirmed by at least two decisions. Sections are filtered by
// req.Include; when Markdown is set the structured result is also
// rendered as a Markdown brief.
func (a *Aggregator) SessionContext(ctx context.Context, req SessionContextRequest, agentID string) (SessionContextResult, error) {
	all, err := a.decisions.All(ctx)
	if err != nil {
		return SessionContextResult{}, fmt.Errorf("aggregator: session_context corpus scan: %w", err)
	}

	var result SessionContextResult

	if sectionEnabled(req.Include, SectionProfile) {
		profile := buildProfile(all)
		result.Profile = &profile
	}

	if sectionEnabled(req.Include, SectionRelevant) && req.TaskDescription != "" && a.retrieval != nil {
		queryReq := model.QueryDecisionsRequest{Query: req.TaskDescription, Limit: confirmedRelevantLimit, RetrievalMode: model.RetrievalHybrid}
		queryReq.Normalize()
		hits, err := a.retrieval.Query(ctx, queryReq)
		if err != nil {
			return SessionContextResult{}, fmt.Errorf("aggregator: session_context retrieval: %w", err)
		}
		result.Relevant = make([]RelevantDecision, 0, len(hits))
		for _, h := range hits {
			result.Relevant = append(result.Relevant, RelevantDecision{
				ID: h.Decision.ID, Decision: h.Decision.Decision, Category: string(h.Decision.Category),
				Outcome: string(h.Decision.Outcome), Score: h.Score.Combined, Bridge: h.Decision.Bridge,
			})
		}
	}

	if sectionEnabled(req.Include, SectionGuardrails) && a.guardrails != nil {
		result.Guardrails = a.guardrails.Snapshot()
	}

	if sectionEnabled(req.Include, SectionCalibration) {
		result.Calibration = make(map[string]analytics.BucketStats, len(model.ValidCategories))
		for _, cat := range model.ValidCategories {
			c := cat
			report, err := analytics.Calibration(ctx, a.decisions, model.QueryFilters{Category: &c})
			if err != nil {
				return SessionContextResult{}, fmt.Errorf("aggregator: session_context calibration: %w", err)
			}
			if report.Overall.ReviewedDecisions > 0 {
				result.Calibration[string(cat)] = report.Overall
			}
		}
	}

	if sectionEnabled(req.Include, SectionReady) {
		items, err := analytics.Ready(ctx, a.decisions, model.QueryFilters{}, analytics.PriorityLow, 0, time.Now())
		if err != nil {
			return SessionContextResult{}, fmt.Errorf("aggregator: session_context ready: %w", err)
		}
		for _, item := range items {
			if item.Type == analytics.ReadyReviewOutcome || item.Type == analytics.ReadyStalePending {
				result.Ready = append(result.Ready, item)
			}
		}
	}

	if sectionEnabled(req.Include, SectionPatterns) {
		result.Patterns = confirmedPatterns(all)
	}

	if req.Markdown {
		result.Markdown = renderMarkdown(result)
	}
	return result, nil
}

func buildProfile(all []model.Decision) AgentProfile {
	profile := AgentProfile{Total: len(all)}
	if len(all) == 0 {
		return profile
	}

	var reviewed []model.Decision
	earliest := ""
	for _, d := range all {
		if earliest == "" || d.Date < earliest {
			earliest = d.Date
		}
		if d.Status == model.StatusReviewed {
			reviewed = append(reviewed, d)
		}
	}
	profile.ActiveSince = earliest
	profile.Reviewed = len(reviewed)

	if len(reviewed) == 0 {
		return profile
	}

	var successSum, confidenceSum, brierSum float64
	byCategory := make(map[model.Category][]model.Decision)
	for _, d := range reviewed {
		actual := model.OutcomeConfidence[d.Outcome]
		successSum += actual
		confidenceSum += d.Confidence
		diff := d.Confidence - actual
		brierSum += diff * diff
		byCategory[d.Category] = append(byCategory[d.Category], d)
	}
	profile.Accuracy = successSum / float64(len(reviewed))
	profile.BrierScore = brierSum / float64(len(reviewed))
	profile.Tendency = string(analytics.Interpret(profile.Accuracy - confidenceSum/float64(len(reviewed))))

	strongest, weakest := "", ""
	bestAcc, worstAcc := -1.0, 2.0
	categories := sortedCategories(byCategory)
	for _, cat := range categories {
		group := byCategory[cat]
		if len(group) < minCategoryReviewed {
			continue
		}
		var sum float64
		for _, d := range group {
			sum += model.OutcomeConfidence[d.Outcome]
		}
		acc := sum / float64(len(group))
		if acc > bestAcc {
			bestAcc = acc
			strongest = string(cat)
		}
		if acc < worstAcc {
			worstAcc = acc
			weakest = string(cat)
		}
	}
	profile.StrongestCategory = strongest
	profile.WeakestCategory = weakest
	return profile
}

func sortedCategories(byCategory map[model.Category][]model.Decision) []model.Category {
	out := make([]model.Category, 0, len(byCategory))
	for cat := range byCategory {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// confirmedPatterns groups decisions by their pattern field, keeping only
// patterns shared by at least minPatternConfirmations decisions.
func confirmedPatterns(all []model.Decision) []ConfirmedPattern {
	groups := make(map[string][]string)
	order := make([]string, 0)
	for _, d := range all {
		if d.Pattern == "" {
			continue
		}
		if _, ok := groups[d.Pattern]; !ok {
			order = append(order, d.Pattern)
		}
		if len(groups[d.Pattern]) < maxPatternExampleIDs {
			groups[d.Pattern] = append(groups[d.Pattern], d.ID)
		} else {
			groups[d.Pattern] = append(groups[d.Pattern], "")
		}
	}

	counts := make(map[string]int)
	for _, d := range all {
		if d.Pattern != "" {
			counts[d.Pattern]++
		}
	}

	var out []ConfirmedPattern
	for _, pattern := range order {
		if counts[pattern] < minPatternConfirmations {
			continue
		}
		examples := groups[pattern]
		trimmed := make([]string, 0, maxPatternExampleIDs)
		for _, id := range examples {
			if id != "" {
				trimmed = append(trimmed, id)
			}
			if len(trimmed) == maxPatternExampleIDs {
				break
			}
		}
		out = append(out, ConfirmedPattern{Pattern: pattern, Count: counts[pattern], ExampleIDs: trimmed})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

const sessionContextMarkdownTemplate = `# Session Context
{{if .Profile}}
## Profile
- Total decisions: {{.Profile.Total}}
- Reviewed: {{.Profile.Reviewed}}
- Accuracy: {{printf "%.2f" .Profile.Accuracy}}
- Brier score: {{printf "%.3f" .Profile.BrierScore}}
{{if .Profile.Tendency}}- Tendency: {{.Profile.Tendency}}
{{end}}{{if .Profile.StrongestCategory}}- Strongest category: {{.Profile.StrongestCategory}}
{{end}}{{if .Profile.WeakestCategory}}- Weakest category: {{.Profile.WeakestCategory}}
{{end}}{{if .Profile.ActiveSince}}- Active since: {{.Profile.ActiveSince}}
{{end}}{{end}}
{{if .Guardrails}}## Guardrails
{{range .Guardrails}}- {{.ID}}: {{.Description}}
{{end}}{{end}}
{{if .Calibration}}## Calibration
{{range $cat, $stats := .Calibration}}- {{$cat}}: accuracy {{printf "%.2f" $stats.Accuracy}}, brier {{printf "%.3f" $stats.BrierScore}} ({{$stats.Interpretation}})
{{end}}{{end}}
{{if .Ready}}## Pending Actions
{{range .Ready}}- [{{.Priority}}] {{.Type}}: {{.Decision}}
{{end}}{{end}}
{{if .Patterns}}## Confirmed Patterns
{{range .Patterns}}- {{.Pattern}} ({{.Count}}x)
{{end}}{{end}}
{{if .Relevant}}## Relevant Decisions
{{range .Relevant}}- {{.Decision}} ({{.Category}}{{if .Outcome}}, {{.Outcome}}{{end}})
{{end}}{{end}}
## Protocol reminder
Record consequential decisions with cstp.recordDecision; review outcomes with cstp.reviewDecision so calibration stays accurate.
`

var sessionContextTemplate = template.Must(template.New("sessionContext").Parse(sessionContextMarkdownTemplate))

func renderMarkdown(result SessionContextResult) string {
	var buf bytes.Buffer
	if err := sessionContextTemplate.Execute(&buf, result); err != nil {
		return ""
	}
	return buf.String()
}
