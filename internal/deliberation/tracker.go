// Package deliberation implements the scope-keyed, TTL-bounded capture of
// reasoning inputs (queries, guardrail checks, lookups, stats, explicit
// reasoning notes) that gets spliced into a decision's Deliberation trace
// at record time. Generalized from the teacher's internal/mcp/tracker.go
// checkTracker idiom (mutex-guarded map, TTL-based lazy purge), widened
// from a single boolean "was checked" signal to the full tracked-input/
// session/consumed-history model described by original_source's
// deliberation_tracker.py.
package deliberation

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ashita-ai/cstpd/internal/model"
)

// InputType enumerates the kind of capture.
type InputType string

const (
	InputQuery     InputType = "query"
	InputGuardrail InputType = "guardrail"
	InputLookup    InputType = "lookup"
	InputStats     InputType = "stats"
	InputReasoning InputType = "reasoning"
)

// TrackedInput is one captured API call.
type TrackedInput struct {
	ID        string
	Type      InputType
	Text      string
	Source    string
	Timestamp time.Time
	RawData   map[string]any
}

// Session accumulates tracked inputs for one scope key.
type Session struct {
	Inputs       []TrackedInput
	CreatedAt    time.Time
	LastActivity time.Time
}

// ConsumedStatus records why a session left the tracker.
type ConsumedStatus string

const (
	StatusConsumed ConsumedStatus = "consumed"
	StatusExpired  ConsumedStatus = "expired"
)

// ConsumedRecord summarizes a session after it is consumed or expires, kept
// in a bounded ring buffer for audit/debug purposes.
type ConsumedRecord struct {
	Key          string
	ConsumedAt   time.Time
	InputCount   int
	AgentID      string
	DecisionID   string
	Status       ConsumedStatus
	InputsSample []TrackedInputSummary // truncated, <= 10 entries
}

// TrackedInputSummary is a size-capped view of a TrackedInput for the
// consumed-history ring buffer.
type TrackedInputSummary struct {
	Type InputType
	Text string // truncated to <= 80 chars
}

const (
	defaultInputTTL      = 300 * time.Second
	defaultSessionTTL    = 1800 * time.Second
	defaultHistoryCap    = 50
	lazyCleanupChance    = 0.02
	consumedSampleCap    = 10
	consumedTextCap      = 80
)

// Tracker is the process-wide, mutex-protected store of in-flight
// deliberation sessions, shared by the JSON-RPC dispatcher and the MCP
// adapter.
type Tracker struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	history   []ConsumedRecord // ring buffer, oldest evicted first
	historyCap int

	inputTTL   time.Duration
	sessionTTL time.Duration
	logger     *slog.Logger
}

// NewTracker constructs a tracker with the given TTLs. Zero durations fall
// back to the spec defaults (300s input TTL, 1800s session TTL).
func NewTracker(inputTTL, sessionTTL time.Duration, logger *slog.Logger) *Tracker {
	if inputTTL <= 0 {
		inputTTL = defaultInputTTL
	}
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	return &Tracker{
		sessions:   make(map[string]*Session),
		historyCap: defaultHistoryCap,
		inputTTL:   inputTTL,
		sessionTTL: sessionTTL,
		logger:     logger,
	}
}

// ScopeKey composes the deliberation scope key from the transport-derived
// agent id and any client-supplied agent_id/decision_id overrides, in the
// spec's documented priority order.
func ScopeKey(transportAgentID, clientAgentID, decisionID string) string {
	switch {
	case clientAgentID != "" && decisionID != "":
		return fmt.Sprintf("agent:%s:decision:%s", clientAgentID, decisionID)
	case clientAgentID != "":
		return "agent:" + clientAgentID
	case decisionID != "":
		return "decision:" + decisionID
	default:
		return "rpc:" + transportAgentID
	}
}

func shortID(prefix string) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return prefix + "-" + hex.EncodeToString(buf)
}

func probabilisticHit(p float64) bool {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return false
	}
	return float64(n.Int64())/1_000_000 < p
}

// track appends input to the session for key, creating the session if
// absent, and occasionally (~2% of calls) triggers an inline sweep for
// stale sessions.
func (t *Tracker) track(key string, input TrackedInput) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if probabilisticHit(lazyCleanupChance) {
		t.cleanupExpiredLocked()
	}

	session, ok := t.sessions[key]
	if !ok {
		now := time.Now()
		session = &Session{CreatedAt: now}
		t.sessions[key] = session
	}
	session.Inputs = append(session.Inputs, input)
	session.LastActivity = time.Now()
}

// TrackQuery records a queryDecisions call. Fail-open: this never returns
// an error to the caller; any internal issue is only logged.
func (t *Tracker) TrackQuery(key, query string, resultCount int, topIDs []string, retrievalMode string, topResults []map[string]any) {
	defer t.recoverAndLog("track_query")
	text := fmt.Sprintf("Queried '%s': %d results (%s)", truncate(query, 50), resultCount, retrievalMode)
	raw := map[string]any{
		"query":          query,
		"result_count":   resultCount,
		"top_ids":        capStrings(topIDs, 5),
		"retrieval_mode": retrievalMode,
		"top_results":    capMaps(topResults, 5),
	}
	t.track(key, TrackedInput{ID: shortID("q"), Type: InputQuery, Text: text, Source: "cstp:queryDecisions", Timestamp: time.Now(), RawData: raw})
}

// TrackGuardrail records a checkGuardrails call.
func (t *Tracker) TrackGuardrail(key, description string, allowed bool, violationCount int) {
	defer t.recoverAndLog("track_guardrail")
	status := "allowed"
	if !allowed {
		status = fmt.Sprintf("blocked (%d violations)", violationCount)
	}
	text := fmt.Sprintf("Checked '%s': %s", truncate(description, 50), status)
	raw := map[string]any{"description": description, "allowed": allowed, "violation_count": violationCount}
	t.track(key, TrackedInput{ID: shortID("g"), Type: InputGuardrail, Text: text, Source: "cstp:checkGuardrails", Timestamp: time.Now(), RawData: raw})
}

// TrackLookup records a getDecision call.
func (t *Tracker) TrackLookup(key, decisionID, title string) {
	defer t.recoverAndLog("track_lookup")
	text := fmt.Sprintf("Retrieved decision %s: %s", decisionID, truncate(title, 50))
	raw := map[string]any{"decision_id": decisionID, "title": title}
	t.track(key, TrackedInput{ID: shortID("l"), Type: InputLookup, Text: text, Source: "cstp:getDecision", Timestamp: time.Now(), RawData: raw})
}

// TrackStats records a getReasonStats call.
func (t *Tracker) TrackStats(key string, totalDecisions, reasonTypeCount int, diversity *float64) {
	defer t.recoverAndLog("track_stats")
	diversityStr := ""
	if diversity != nil {
		diversityStr = fmt.Sprintf(", diversity=%.2f", *diversity)
	}
	text := fmt.Sprintf("Reviewed reason stats: %d types, %d decisions%s", reasonTypeCount, totalDecisions, diversityStr)
	raw := map[string]any{"total_decisions": totalDecisions, "reason_type_count": reasonTypeCount, "diversity": diversity}
	t.track(key, TrackedInput{ID: shortID("s"), Type: InputStats, Text: text, Source: "cstp:getReasonStats", Timestamp: time.Now(), RawData: raw})
}

// TrackReasoning records an explicit reasoning note appended mid-session.
func (t *Tracker) TrackReasoning(key, text string) {
	defer t.recoverAndLog("track_reasoning")
	t.track(key, TrackedInput{ID: shortID("r"), Type: InputReasoning, Text: text, Source: "cstp:appendThought", Timestamp: time.Now(), RawData: nil})
}

func (t *Tracker) recoverAndLog(op string) {
	if r := recover(); r != nil {
		t.logger.Debug("deliberation: fail-open capture error", "op", op, "recovered", r)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func capStrings(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

func capMaps(items []map[string]any, n int) []map[string]any {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

func (t *Tracker) validInputs(session *Session) []TrackedInput {
	cutoff := time.Now().Add(-t.inputTTL)
	var valid []TrackedInput
	for _, in := range session.Inputs {
		if !in.Timestamp.Before(cutoff) {
			valid = append(valid, in)
		}
	}
	return valid
}

// Consume removes the session for key and returns a Deliberation built
// from its non-expired inputs, or nil if there was nothing to consume.
func (t *Tracker) Consume(key string) *model.Deliberation {
	t.mu.Lock()
	session, ok := t.sessions[key]
	if ok {
		delete(t.sessions, key)
	}
	t.mu.Unlock()

	if !ok || len(session.Inputs) == 0 {
		return nil
	}

	valid := t.validInputs(session)
	if len(valid) == 0 {
		t.recordConsumed(key, session, nil, StatusExpired)
		return nil
	}

	delib := buildDeliberation(valid)
	t.recordConsumed(key, session, valid, StatusConsumed)
	return delib
}

// GetInputs peeks at a session's non-expired inputs without consuming them.
func (t *Tracker) GetInputs(key string) []TrackedInput {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions[key]
	if !ok {
		return nil
	}
	return t.validInputs(session)
}

// CleanupExpired evicts sessions whose last activity is older than the
// session TTL, recording each as an expired ConsumedRecord.
func (t *Tracker) CleanupExpired() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cleanupExpiredLocked()
}

func (t *Tracker) cleanupExpiredLocked() int {
	cutoff := time.Now().Add(-t.sessionTTL)
	var expired []string
	for key, session := range t.sessions {
		if session.LastActivity.Before(cutoff) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		session := t.sessions[key]
		delete(t.sessions, key)
		t.appendHistoryLocked(key, session, StatusExpired)
	}
	return len(expired)
}

// SessionCount returns the number of active (not yet consumed/expired)
// sessions.
func (t *Tracker) SessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
