package retrieval

import (
	"encoding/json"
	"strings"

	"github.com/ashita-ai/cstpd/internal/model"
	"github.com/ashita-ai/cstpd/internal/vectorstore"
)

const lessonsMetadataMaxLen = 500

// BuildWhere translates the shared QueryFilters taxonomy into a
// vectorstore.Filter where-clause: category exact, stakes/status $in,
// confidence $gte/$lte, project/feature/pr exact, and one tags $contains
// clause per tag under an explicit $and key, so every tag must be present.
func BuildWhere(f model.QueryFilters) vectorstore.Filter {
	where := vectorstore.Filter{}

	if f.Category != nil {
		where["category"] = string(*f.Category)
	}
	if f.Stakes != nil {
		where["stakes"] = map[string]any{"$in": []any{string(*f.Stakes)}}
	}
	if f.Status != nil {
		where["status"] = map[string]any{"$in": []any{string(*f.Status)}}
	}
	if f.MinConfidence != nil || f.MaxConfidence != nil {
		conf := map[string]any{}
		if f.MinConfidence != nil {
			conf["$gte"] = *f.MinConfidence
		}
		if f.MaxConfidence != nil {
			conf["$lte"] = *f.MaxConfidence
		}
		where["confidence"] = conf
	}
	if f.Project != nil {
		where["project"] = *f.Project
	}
	if f.Feature != nil {
		where["feature"] = *f.Feature
	}
	if f.PR != nil {
		where["pr"] = *f.PR
	}
	if len(f.Tags) > 0 {
		var ands []vectorstore.Filter
		for _, tag := range f.Tags {
			ands = append(ands, vectorstore.Filter{"tags": map[string]any{"$contains": tag}})
		}
		where["$and"] = ands
	}
	if f.DateAfter != nil || f.DateBefore != nil {
		date := map[string]any{}
		if f.DateAfter != nil {
			date["$gte"] = *f.DateAfter
		}
		if f.DateBefore != nil {
			date["$lte"] = *f.DateBefore
		}
		where["date"] = date
	}

	return where
}

// Metadata builds the payload stored alongside a decision's embedding: the
// filterable fields BuildWhere queries against, plus the denormalized
// fields (title, outcome, lessons, reasons_json, bridge_json, agent, path)
// record keeps on the vector-store row purely for display/debug use, per
// spec.md §4.2's metadata list. path is the decision's on-disk location
// (empty for backends with no file path, e.g. SQLite).
func Metadata(d model.Decision, path string) map[string]any {
	m := map[string]any{
		"title":      d.Summary,
		"category":   string(d.Category),
		"stakes":     string(d.Stakes),
		"status":     string(d.Status),
		"confidence": d.Confidence,
		"date":       d.Date,
		"tags":       d.Tags,
		"agent":      d.AgentID,
		"path":       path,
	}
	if d.Outcome != "" {
		m["outcome"] = string(d.Outcome)
	}
	if d.Lessons != "" {
		m["lessons"] = truncate(d.Lessons, lessonsMetadataMaxLen)
	}
	if d.ActualResult != "" {
		m["actual_result"] = d.ActualResult
	}
	if d.Pattern != "" {
		m["pattern"] = d.Pattern
	}
	if len(d.Reasons) > 0 {
		types := make([]string, len(d.Reasons))
		for i, r := range d.Reasons {
			types[i] = string(r.Type)
		}
		m["reason_types"] = strings.Join(types, ",")
		if blob, err := json.Marshal(d.Reasons); err == nil {
			m["reasons_json"] = string(blob)
		}
	}
	if d.Bridge != nil {
		if blob, err := json.Marshal(d.Bridge); err == nil {
			m["bridge_json"] = string(blob)
		}
	}
	if d.Project != nil {
		m["project"] = *d.Project
	}
	if d.Feature != nil {
		m["feature"] = *d.Feature
	}
	if d.PR != nil {
		m["pr"] = *d.PR
	}
	return m
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
