package deliberation

import (
	"time"

	"github.com/ashita-ai/cstpd/internal/model"
)

func inputTypeToStepType(t InputType) model.StepType {
	switch t {
	case InputGuardrail:
		return model.StepConstraint
	case InputStats:
		return model.StepEmpirical
	default:
		return model.StepAnalysis
	}
}

// buildDeliberation synthesizes a Deliberation from tracked inputs, one step
// per input, numbered from 1 in capture order.
func buildDeliberation(inputs []TrackedInput) *model.Deliberation {
	delib := &model.Deliberation{
		Inputs: make([]model.DeliberationInput, 0, len(inputs)),
		Steps:  make([]model.DeliberationStep, 0, len(inputs)),
	}
	for i, in := range inputs {
		ts := in.Timestamp
		delib.Inputs = append(delib.Inputs, model.DeliberationInput{
			ID: in.ID, Text: in.Text, Source: in.Source, Timestamp: in.Timestamp,
		})
		delib.Steps = append(delib.Steps, model.DeliberationStep{
			Step:      i + 1,
			Thought:   in.Text,
			InputIDs:  []string{in.ID},
			Timestamp: &ts,
			Type:      inputTypeToStepType(in.Type),
		})
	}
	delib.Finalize()
	return delib
}

// MergeExplicit merges tracker-captured inputs into a client-supplied
// explicit Deliberation: new inputs are appended by id (deduped against
// what the client already listed), and auto-synthesized steps for the
// newly-added inputs are appended after the explicit steps, renumbered to
// continue the explicit step sequence.
func MergeExplicit(explicit *model.Deliberation, tracked []TrackedInput) *model.Deliberation {
	if explicit == nil {
		return buildDeliberation(tracked)
	}
	if len(tracked) == 0 {
		explicit.Finalize()
		return explicit
	}

	existingInputs := make(map[string]bool, len(explicit.Inputs))
	for _, in := range explicit.Inputs {
		existingInputs[in.ID] = true
	}

	maxStep := 0
	for _, s := range explicit.Steps {
		if s.Step > maxStep {
			maxStep = s.Step
		}
	}

	next := maxStep
	for _, in := range tracked {
		if existingInputs[in.ID] {
			continue
		}
		existingInputs[in.ID] = true
		ts := in.Timestamp
		explicit.Inputs = append(explicit.Inputs, model.DeliberationInput{
			ID: in.ID, Text: in.Text, Source: in.Source, Timestamp: in.Timestamp,
		})
		next++
		explicit.Steps = append(explicit.Steps, model.DeliberationStep{
			Step:      next,
			Thought:   in.Text,
			InputIDs:  []string{in.ID},
			Timestamp: &ts,
			Type:      inputTypeToStepType(in.Type),
		})
	}

	explicit.Finalize()
	return explicit
}

// ConsumeWithExplicit consumes the session for key and merges its
// non-expired inputs into an explicit client-supplied Deliberation (or
// auto-builds one if explicit is nil), per the spec's merge/renumber rule.
func (t *Tracker) ConsumeWithExplicit(key string, explicit *model.Deliberation) *model.Deliberation {
	t.mu.Lock()
	session, ok := t.sessions[key]
	if ok {
		delete(t.sessions, key)
	}
	t.mu.Unlock()

	if !ok || len(session.Inputs) == 0 {
		if explicit != nil {
			explicit.Finalize()
		}
		return explicit
	}

	valid := t.validInputs(session)
	status := StatusConsumed
	if len(valid) == 0 {
		status = StatusExpired
	}
	t.recordConsumed(key, session, valid, status)

	if len(valid) == 0 {
		if explicit != nil {
			explicit.Finalize()
		}
		return explicit
	}
	return MergeExplicit(explicit, valid)
}

func parseScopeIDs(key string) (agentID, decisionID string) {
	// agent:{id}:decision:{id} | agent:{id} | decision:{id} | rpc:{id}
	rest := key
	const agentPrefix = "agent:"
	const decisionPrefix = "decision:"
	const decisionInfix = ":decision:"

	if len(rest) > len(agentPrefix) && rest[:len(agentPrefix)] == agentPrefix {
		body := rest[len(agentPrefix):]
		if idx := indexOf(body, decisionInfix); idx >= 0 {
			agentID = body[:idx]
			decisionID = body[idx+len(decisionInfix):]
			return
		}
		agentID = body
		return
	}
	if len(rest) > len(decisionPrefix) && rest[:len(decisionPrefix)] == decisionPrefix {
		decisionID = rest[len(decisionPrefix):]
		return
	}
	return
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func toSummaries(inputs []TrackedInput) []TrackedInputSummary {
	n := len(inputs)
	if n > consumedSampleCap {
		n = consumedSampleCap
	}
	out := make([]TrackedInputSummary, 0, n)
	for _, in := range inputs[:n] {
		out = append(out, TrackedInputSummary{Type: in.Type, Text: truncate(in.Text, consumedTextCap)})
	}
	return out
}

// recordConsumed appends a ConsumedRecord to the ring buffer. Must be
// called without holding t.mu (it acquires it itself).
func (t *Tracker) recordConsumed(key string, session *Session, validInputs []TrackedInput, status ConsumedStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendHistoryLocked(key, session, status)
	if status == StatusConsumed {
		// overwrite the count/sample fields with the post-filter view
		last := &t.history[len(t.history)-1]
		last.InputCount = len(validInputs)
		last.InputsSample = toSummaries(validInputs)
	}
}

func (t *Tracker) appendHistoryLocked(key string, session *Session, status ConsumedStatus) {
	agentID, decisionID := parseScopeIDs(key)
	record := ConsumedRecord{
		Key:          key,
		ConsumedAt:   time.Now(),
		InputCount:   len(session.Inputs),
		AgentID:      agentID,
		DecisionID:   decisionID,
		Status:       status,
		InputsSample: toSummaries(session.Inputs),
	}
	t.history = append(t.history, record)
	if len(t.history) > t.historyCap {
		t.history = t.history[len(t.history)-t.historyCap:]
	}
}

// BackfillConsumed idempotently attaches decisionID to the most recent
// ConsumedRecord for key that does not already carry one.
func (t *Tracker) BackfillConsumed(key, decisionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.history) - 1; i >= 0; i-- {
		if t.history[i].Key != key {
			continue
		}
		if t.history[i].DecisionID != "" {
			return false
		}
		t.history[i].DecisionID = decisionID
		return true
	}
	return false
}

// SessionDebug is one active session's debug snapshot.
type SessionDebug struct {
	Key          string
	InputCount   int
	CreatedAt    time.Time
	LastActivity time.Time
	InputAges    []float64 // seconds, per input, in capture order
}

// DebugSessionsResult is the return value of DebugSessions.
type DebugSessionsResult struct {
	Sessions []SessionDebug
	Consumed []ConsumedRecord // only populated when includeConsumed is set
}

// DebugSessions snapshots active sessions (optionally filtered to one key)
// plus, when requested, the consumed-history ring buffer. As a side effect
// it deterministically sweeps expired sessions first.
func (t *Tracker) DebugSessions(key string, includeConsumed bool) DebugSessionsResult {
	t.mu.Lock()
	t.cleanupExpiredLocked()

	var out DebugSessionsResult
	now := time.Now()

	emit := func(k string, s *Session) {
		ages := make([]float64, len(s.Inputs))
		for i, in := range s.Inputs {
			ages[i] = now.Sub(in.Timestamp).Seconds()
		}
		out.Sessions = append(out.Sessions, SessionDebug{
			Key: k, InputCount: len(s.Inputs), CreatedAt: s.CreatedAt,
			LastActivity: s.LastActivity, InputAges: ages,
		})
	}

	if key != "" {
		if s, ok := t.sessions[key]; ok {
			emit(key, s)
		}
	} else {
		for k, s := range t.sessions {
			emit(k, s)
		}
	}

	if includeConsumed {
		out.Consumed = append(out.Consumed, t.history...)
	}
	t.mu.Unlock()
	return out
}
