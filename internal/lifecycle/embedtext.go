package lifecycle

import "github.com/ashita-ai/cstpd/internal/model"

// embeddingText builds the text embedded for d: decision + context +
// category + reasons + tags + bridge + outcome/lessons when present, per
// spec.md §4.2's exact field list.
func embeddingText(d model.Decision) string {
	text := d.Decision
	if d.Context != "" {
		text += " " + d.Context
	}
	text += " " + string(d.Category)
	for _, r := range d.Reasons {
		text += " " + r.Text
	}
	for _, tag := range d.Tags {
		text += " " + tag
	}
	if d.Bridge != nil {
		text += " " + d.Bridge.Structure + " " + d.Bridge.Function
	}
	if d.Outcome != "" {
		text += " " + string(d.Outcome)
	}
	if d.Lessons != "" {
		text += " " + d.Lessons
	}
	return text
}
