// Package breaker implements per-scope circuit breakers that trip when
// repeated decision-outcome failures exceed a threshold within a sliding
// time window, same state machine the original guardrail-integration layer
// used (CLOSED -> OPEN -> HALF_OPEN -> CLOSED), reimplemented here since no
// library in the retrieved example pack exposes JSONL-persisted,
// scope-matched breakers with a lazy-cooldown HALF_OPEN probe model.
package breaker

import (
	"strings"
	"time"
)

// State is a circuit breaker's lifecycle state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

const (
	notificationDebounce = 60 * time.Second
	staleEvictionAge     = 24 * time.Hour
)

// Config is a single scope's breaker tuning.
type Config struct {
	Scope            string `yaml:"scope" json:"scope"`
	FailureThreshold int    `yaml:"failure_threshold" json:"failure_threshold"`
	WindowMS         int64  `yaml:"window_ms" json:"window_ms"`
	CooldownMS       int64  `yaml:"cooldown_ms" json:"cooldown_ms"`
	Notify           bool   `yaml:"notify" json:"notify"`
}

// Window returns the failure-counting sliding window as a duration.
func (c Config) Window() time.Duration { return time.Duration(c.WindowMS) * time.Millisecond }

// Cooldown returns the OPEN -> HALF_OPEN cooldown as a duration.
func (c Config) Cooldown() time.Duration { return time.Duration(c.CooldownMS) * time.Millisecond }

// DefaultConfig returns the default tuning for a dynamically-created scope:
// 5 failures / hour, 30 minute cooldown, notifications on.
func DefaultConfig(scope string) Config {
	return Config{Scope: scope, FailureThreshold: 5, WindowMS: 3_600_000, CooldownMS: 1_800_000, Notify: true}
}

// Breaker is the runtime state of one scope's circuit breaker.
type Breaker struct {
	Config           Config
	State            State
	Failures         []time.Time
	OpenedAt         *time.Time
	ProbeInFlight    bool
	LastNotification *time.Time
	LastActivity     time.Time
	FromConfig       bool
}

// MatchesScope reports whether scope applies to ctx. Scope formats:
// "global", "category:<v>", "stakes:<v>", "agent:<v>", "tag:<v>".
func MatchesScope(scope string, ctx map[string]any) bool {
	if scope == "global" {
		return true
	}
	dimension, value, ok := strings.Cut(scope, ":")
	if !ok {
		return false
	}
	switch dimension {
	case "category":
		v, _ := ctx["category"].(string)
		return v == value
	case "stakes":
		v, _ := ctx["stakes"].(string)
		return v == value
	case "agent":
		v, _ := ctx["agent_id"].(string)
		return v == value
	case "tag":
		for _, t := range tagsOf(ctx["tags"]) {
			if t == value {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// tagsOf normalizes the "tags" field of a context map. It accepts both a
// native []string (built in-process) and []any ([]interface{}, what
// encoding/json produces when a JSON array is decoded into a map[string]any,
// which is how every tag-scoped context reaching this package from the
// JSON-RPC surface is actually shaped).
func tagsOf(v any) []string {
	switch tags := v.(type) {
	case []string:
		return tags
	case []any:
		out := make([]string, 0, len(tags))
		for _, t := range tags {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// CheckResult is one breaker's verdict against a context.
type CheckResult struct {
	Scope               string
	State               State
	Blocked             bool
	Message             string
	FailureCount        int
	FailureThreshold    int
	CooldownRemainingMS *int64
}

// Snapshot is the externally-visible state of one breaker, used by
// get_state/list_breakers/get_non_closed_summary equivalents.
type Snapshot struct {
	Scope               string
	State               State
	FailureCount        int
	FailureThreshold    int
	WindowMS            int64
	CooldownMS          int64
	CooldownRemainingMS *int64
	OpenedAt            *time.Time
	ProbeInFlight       bool
	FromConfig          bool
}
