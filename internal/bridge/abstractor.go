// Package bridge derives a decision's abstract structure/function pair —
// what the decision looks like and what it solves, stripped of specifics —
// either by rule-based text stripping or by delegating to an LLM, falling
// back to rule-based (then none) on LLM failure or timeout.
package bridge

import (
	"regexp"
	"strings"

	"github.com/ashita-ai/cstpd/internal/model"
)

type stripRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// stripPatterns strips numbers, durations, sizes, versions, dates, file
// paths, inline code, and CamelCase identifiers, leaving abstract structure.
var stripPatterns = []stripRule{
	{regexp.MustCompile(`PR #?\d+`), "a PR"},
	{regexp.MustCompile(`#\d+`), ""},
	{regexp.MustCompile(`\b\d+(\.\d+)?\s*(s|ms|seconds|minutes|hours)\b`), "N time-units"},
	{regexp.MustCompile(`\b\d+(\.\d+)?\s*(MB|GB|KB|bytes)\b`), "N size-units"},
	{regexp.MustCompile(`\bv?\d+\.\d+(\.\d+)?\b`), "vX.Y"},
	{regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`), "DATE"},
	{regexp.MustCompile(`\b\d+\b`), "N"},
	{regexp.MustCompile(`[a-z_]+/[a-z_/]+\.[a-z]+`), "a file"},
	{regexp.MustCompile("`[^`]+`"), "a component"},
	{regexp.MustCompile(`\b[A-Z][a-z]+(?:[A-Z][a-z]+)+\b`), "a component"},
}

var whitespacePattern = regexp.MustCompile(`\s+`)
var emptyBracketsPattern = regexp.MustCompile(`\(\s*\)|\[\s*\]`)

// verbGeneralizations replaces concrete operational verbs with their
// abstract counterparts, so decisions about conceptually similar operations
// (upgrading vs. downgrading a dependency) surface as structurally alike.
var verbGeneralizations = map[string]string{
	"increased":  "adjusted",
	"decreased":  "adjusted",
	"changed":    "modified",
	"switched":   "replaced",
	"migrated":   "transitioned",
	"upgraded":   "updated",
	"downgraded": "reverted",
	"fixed":      "corrected",
	"patched":    "corrected",
	"deployed":   "released",
	"shipped":    "released",
	"merged":     "integrated",
	"added":      "introduced",
	"removed":    "eliminated",
	"deleted":    "eliminated",
	"refactored": "restructured",
	"extracted":  "separated",
	"moved":      "relocated",
	"renamed":    "relabeled",
}

func stripSpecifics(text string) string {
	result := text
	for _, r := range stripPatterns {
		result = r.pattern.ReplaceAllString(result, r.replacement)
	}
	result = whitespacePattern.ReplaceAllString(result, " ")
	result = strings.TrimSpace(result)
	result = emptyBracketsPattern.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

func generalizeVerbs(text string) string {
	words := strings.Split(text, " ")
	out := make([]string, len(words))
	for i, word := range words {
		trimmed := strings.TrimRight(word, ".,;:!?")
		lower := strings.ToLower(trimmed)
		replacement, ok := verbGeneralizations[lower]
		if !ok {
			out[i] = word
			continue
		}
		if len(word) > 0 && word[0] >= 'A' && word[0] <= 'Z' {
			replacement = strings.ToUpper(replacement[:1]) + replacement[1:]
		}
		trailing := word[len(trimmed):]
		out[i] = replacement + trailing
	}
	return strings.Join(out, " ")
}

const minAbstractedLength = 10

// Abstractable is the subset of a Decision's fields the rule-based
// abstractor reads. Record passes the in-progress decision being built.
type Abstractable struct {
	Decision string
	Context  string
	Pattern  string
	Reasons  []model.Reason
}

// RuleBased derives a bridge by stripping specifics from the decision text
// (for structure) and the pattern field or best-fit reason or first context
// sentence (for function). Returns nil if neither side yields usable text.
func RuleBased(a Abstractable) *model.Bridge {
	structure := ""
	if a.Decision != "" {
		abstracted := generalizeVerbs(stripSpecifics(a.Decision))
		if len(abstracted) > minAbstractedLength {
			structure = abstracted
		}
	}

	function := ""
	switch {
	case a.Pattern != "":
		function = a.Pattern
	default:
		for _, r := range a.Reasons {
			if r.Type == model.ReasonAnalysis || r.Type == model.ReasonConstraint || r.Type == model.ReasonPattern {
				candidate := stripSpecifics(r.Text)
				if len(candidate) > minAbstractedLength {
					function = generalizeVerbs(candidate)
					break
				}
			}
		}
	}
	if function == "" && a.Context != "" {
		sentences := splitSentences(a.Context)
		if len(sentences) > 0 {
			candidate := stripSpecifics(sentences[0])
			if len(candidate) > minAbstractedLength {
				function = generalizeVerbs(candidate)
			}
		}
	}

	if structure == "" && function == "" {
		return nil
	}
	if structure == "" {
		structure = function
	}
	if function == "" {
		function = structure
	}
	return &model.Bridge{Structure: structure, Function: function, Method: model.BridgeMethodRule}
}

var sentenceSplitPattern = regexp.MustCompile(`[.!]\s+`)

func splitSentences(text string) []string {
	return sentenceSplitPattern.Split(text, -1)
}
