package compaction

import (
	"context"
	"testing"
	"time"

	"github.com/ashita-ai/cstpd/internal/decisionstore"
	"github.com/ashita-ai/cstpd/internal/model"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, store decisionstore.Store, id string, ageDays float64, status model.Status, preserve bool) model.Decision {
	t.Helper()
	d := model.Decision{
		ID:       id,
		Decision: "a reasonably long decision body for " + id,
		Category: model.CategoryArchitecture,
		Stakes:   model.StakesMedium,
		Status:   status,
		Date:     time.Now().Add(-time.Duration(ageDays*24) * time.Hour).Format("2006-01-02"),
		Preserve: preserve,
	}
	if status == model.StatusReviewed {
		d.Outcome = model.OutcomeSuccess
		d.Confidence = 0.8
	}
	require.NoError(t, store.Put(context.Background(), d))
	return d
}

func TestLevelThresholds(t *testing.T) {
	store := decisionstore.NewYAMLStore(t.TempDir())
	e := NewEngine(store)

	full := seed(t, store, "full1", 1, model.StatusReviewed, false)
	summary := seed(t, store, "sum1", 10, model.StatusReviewed, false)
	digest := seed(t, store, "dig1", 40, model.StatusReviewed, false)
	wisdom := seed(t, store, "wis1", 120, model.StatusReviewed, false)

	require.Equal(t, string(LevelFull), e.Level(full))
	require.Equal(t, string(LevelSummary), e.Level(summary))
	require.Equal(t, string(LevelDigest), e.Level(digest))
	require.Equal(t, string(LevelWisdom), e.Level(wisdom))
}

func TestPreserveAndPendingForceFullRegardlessOfAge(t *testing.T) {
	store := decisionstore.NewYAMLStore(t.TempDir())
	e := NewEngine(store)

	preserved := seed(t, store, "p1", 200, model.StatusReviewed, true)
	require.Equal(t, string(LevelFull), e.Level(preserved))

	pending := seed(t, store, "pend1", 200, model.StatusPending, false)
	require.Equal(t, string(LevelFull), e.Level(pending))
}

func TestCompactReportsCountsPerLevel(t *testing.T) {
	store := decisionstore.NewYAMLStore(t.TempDir())
	e := NewEngine(store)
	seed(t, store, "f1", 1, model.StatusReviewed, false)
	seed(t, store, "s1", 10, model.StatusReviewed, false)
	seed(t, store, "d1", 40, model.StatusReviewed, false)
	seed(t, store, "w1", 120, model.StatusReviewed, false)
	seed(t, store, "p1", 120, model.StatusReviewed, true)

	counts, err := e.Compact(context.Background(), model.QueryFilters{})
	require.NoError(t, err)
	require.Equal(t, 2, counts.Full) // f1 plus the preserved p1
	require.Equal(t, 1, counts.Summary)
	require.Equal(t, 1, counts.Digest)
	require.Equal(t, 1, counts.Wisdom)
	require.Equal(t, 1, counts.Preserved)
}

func TestGetCompactedExcludesWisdomUnlessForced(t *testing.T) {
	store := decisionstore.NewYAMLStore(t.TempDir())
	e := NewEngine(store)
	seed(t, store, "f1", 1, model.StatusReviewed, false)
	seed(t, store, "w1", 120, model.StatusReviewed, false)

	shaped, err := e.GetCompacted(context.Background(), model.QueryFilters{}, "", 0, false)
	require.NoError(t, err)
	require.Len(t, shaped, 1)
	require.Equal(t, "f1", shaped[0].ID)

	forced, err := e.GetCompacted(context.Background(), model.QueryFilters{}, LevelWisdom, 0, false)
	require.NoError(t, err)
	require.Len(t, forced, 2)
}

func TestGetCompactedExcludesPreservedUnlessRequested(t *testing.T) {
	store := decisionstore.NewYAMLStore(t.TempDir())
	e := NewEngine(store)
	seed(t, store, "f1", 1, model.StatusReviewed, false)
	seed(t, store, "p1", 1, model.StatusReviewed, true)

	shaped, err := e.GetCompacted(context.Background(), model.QueryFilters{}, "", 0, false)
	require.NoError(t, err)
	require.Len(t, shaped, 1)

	withPreserved, err := e.GetCompacted(context.Background(), model.QueryFilters{}, "", 0, true)
	require.NoError(t, err)
	require.Len(t, withPreserved, 2)
}

func TestSetPreserveWritesFlagAtomically(t *testing.T) {
	store := decisionstore.NewYAMLStore(t.TempDir())
	e := NewEngine(store)
	seed(t, store, "f1", 1, model.StatusReviewed, false)

	updated, err := e.SetPreserve(context.Background(), "f1", true)
	require.NoError(t, err)
	require.True(t, updated.Preserve)

	reloaded, err := store.Get(context.Background(), "f1")
	require.NoError(t, err)
	require.True(t, reloaded.Preserve)
}

func TestGetWisdomRequiresMinimumGroupSize(t *testing.T) {
	store := decisionstore.NewYAMLStore(t.TempDir())
	e := NewEngine(store)
	for i := 0; i < 4; i++ {
		seed(t, store, "w"+string(rune('a'+i)), 120, model.StatusReviewed, false)
	}

	wisdom, err := e.GetWisdom(context.Background(), "", 5)
	require.NoError(t, err)
	require.Empty(t, wisdom)

	wisdom, err = e.GetWisdom(context.Background(), "", 4)
	require.NoError(t, err)
	require.Len(t, wisdom, 1)
	require.Equal(t, 4, wisdom[0].Count)
	require.InDelta(t, 1.0, wisdom[0].SuccessRate, 1e-9)
}

func TestOneLineSummaryTruncatesAt80Chars(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "x"
	}
	out := oneLineSummary(long)
	require.LessOrEqual(t, len([]rune(out)), digestSummaryMaxLen)
}
