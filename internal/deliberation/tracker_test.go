package deliberation

import (
	"log/slog"
	"testing"
	"time"

	"github.com/ashita-ai/cstpd/internal/model"
	"github.com/stretchr/testify/require"
)

func newTestTracker() *Tracker {
	return NewTracker(50*time.Millisecond, 200*time.Millisecond, slog.Default())
}

func TestScopeKeyPriority(t *testing.T) {
	require.Equal(t, "agent:a1:decision:d1", ScopeKey("rpc-x", "a1", "d1"))
	require.Equal(t, "agent:a1", ScopeKey("rpc-x", "a1", ""))
	require.Equal(t, "decision:d1", ScopeKey("rpc-x", "", "d1"))
	require.Equal(t, "rpc:rpc-x", ScopeKey("rpc-x", "", ""))
}

func TestTrackQueryAndConsume(t *testing.T) {
	tr := newTestTracker()
	tr.TrackQuery("agent:a1", "how to handle retries", 3, []string{"d1", "d2"}, "hybrid", nil)
	tr.TrackGuardrail("agent:a1", "security review", true, 0)

	delib := tr.Consume("agent:a1")
	require.NotNil(t, delib)
	require.Len(t, delib.Inputs, 2)
	require.Len(t, delib.Steps, 2)
	require.Equal(t, 1, delib.Steps[0].Step)
	require.Equal(t, 2, delib.Steps[1].Step)
	require.Equal(t, model.StepConstraint, delib.Steps[1].Type)

	require.Equal(t, 0, tr.SessionCount())
}

func TestConsumeNonexistentKeyReturnsNil(t *testing.T) {
	tr := newTestTracker()
	require.Nil(t, tr.Consume("agent:nobody"))
}

func TestTrackInputsExpireByInputTTL(t *testing.T) {
	tr := newTestTracker()
	tr.TrackLookup("agent:a2", "abc123", "Use Postgres")
	time.Sleep(80 * time.Millisecond) // exceeds inputTTL (50ms) but not sessionTTL (200ms)

	inputs := tr.GetInputs("agent:a2")
	require.Empty(t, inputs)

	delib := tr.Consume("agent:a2")
	require.Nil(t, delib)
}

func TestCleanupExpiredEvictsInactiveSessions(t *testing.T) {
	tr := newTestTracker()
	tr.TrackStats("agent:a3", 10, 4, nil)
	time.Sleep(250 * time.Millisecond)

	evicted := tr.CleanupExpired()
	require.Equal(t, 1, evicted)
	require.Equal(t, 0, tr.SessionCount())
}

func TestMergeExplicitAppendsAndRenumbers(t *testing.T) {
	now := time.Now()
	explicit := &model.Deliberation{
		Inputs: []model.DeliberationInput{{ID: "e1", Text: "manual note", Timestamp: now}},
		Steps: []model.DeliberationStep{
			{Step: 1, Thought: "manual note", InputIDs: []string{"e1"}},
		},
	}
	tracked := []TrackedInput{
		{ID: "q-aaaa", Type: InputQuery, Text: "searched for X", Timestamp: now.Add(time.Second)},
		{ID: "e1", Type: InputQuery, Text: "duplicate of explicit", Timestamp: now.Add(2 * time.Second)},
	}

	merged := MergeExplicit(explicit, tracked)
	require.Len(t, merged.Inputs, 2) // e1 deduped, q-aaaa appended
	require.Len(t, merged.Steps, 2)
	require.Equal(t, 2, merged.Steps[1].Step)
}

func TestConsumeWithExplicitMergesTrackedInputs(t *testing.T) {
	tr := newTestTracker()
	tr.TrackQuery("agent:a4", "query text", 1, nil, "keyword", nil)

	explicit := &model.Deliberation{
		Inputs: []model.DeliberationInput{{ID: "manual-1", Text: "thought", Timestamp: time.Now()}},
		Steps:  []model.DeliberationStep{{Step: 1, Thought: "thought", InputIDs: []string{"manual-1"}}},
	}
	merged := tr.ConsumeWithExplicit("agent:a4", explicit)
	require.Len(t, merged.Inputs, 2)
	require.Len(t, merged.Steps, 2)
}

func TestBackfillConsumedAttachesDecisionIDOnce(t *testing.T) {
	tr := newTestTracker()
	tr.TrackQuery("agent:a5", "q", 1, nil, "semantic", nil)
	tr.Consume("agent:a5")

	require.True(t, tr.BackfillConsumed("agent:a5", "dec-123"))
	require.False(t, tr.BackfillConsumed("agent:a5", "dec-456"))

	result := tr.DebugSessions("", true)
	require.NotEmpty(t, result.Consumed)
	found := false
	for _, rec := range result.Consumed {
		if rec.Key == "agent:a5" {
			require.Equal(t, "dec-123", rec.DecisionID)
			found = true
		}
	}
	require.True(t, found)
}

func TestDebugSessionsReturnsActiveSessionsWithInputAges(t *testing.T) {
	tr := newTestTracker()
	tr.TrackLookup("agent:a6", "abc", "title")

	result := tr.DebugSessions("agent:a6", false)
	require.Len(t, result.Sessions, 1)
	require.Equal(t, 1, result.Sessions[0].InputCount)
	require.Len(t, result.Sessions[0].InputAges, 1)
	require.Nil(t, result.Consumed)
}

func TestParseScopeIDs(t *testing.T) {
	agent, decision := parseScopeIDs("agent:a1:decision:d1")
	require.Equal(t, "a1", agent)
	require.Equal(t, "d1", decision)

	agent, decision = parseScopeIDs("agent:a2")
	require.Equal(t, "a2", agent)
	require.Empty(t, decision)

	agent, decision = parseScopeIDs("decision:d3")
	require.Empty(t, agent)
	require.Equal(t, "d3", decision)

	agent, decision = parseScopeIDs("rpc:transport-1")
	require.Empty(t, agent)
	require.Empty(t, decision)
}

func TestHistoryRingBufferIsBounded(t *testing.T) {
	tr := newTestTracker()
	tr.historyCap = 3
	for i := 0; i < 5; i++ {
		key := "agent:bulk"
		tr.TrackLookup(key, "id", "title")
		tr.Consume(key)
	}
	require.Len(t, tr.history, 3)
}
