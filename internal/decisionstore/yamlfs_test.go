package decisionstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/cstpd/internal/model"
)

func sampleDecision(id, date string) model.Decision {
	return model.Decision{
		ID:         id,
		AgentID:    "agent-1",
		Summary:    "use postgres for the audit log",
		Decision:   "store audit events in postgres instead of the app db",
		Category:   model.CategoryArchitecture,
		Stakes:     model.StakesHigh,
		Confidence: 0.8,
		Status:     model.StatusPending,
		Date:       date,
	}
}

func TestYAMLStorePutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewYAMLStore(filepath.Join(t.TempDir(), "decisions"))
	require.NoError(t, store.Load())

	d := sampleDecision("a1b2c3d4", "2026-01-15")
	require.NoError(t, store.Put(ctx, d))

	got, err := store.Get(ctx, "a1b2c3d4")
	require.NoError(t, err)
	require.Equal(t, d.Summary, got.Summary)
	require.Equal(t, d.Category, got.Category)
}

func TestYAMLStorePrefixLookup(t *testing.T) {
	ctx := context.Background()
	store := NewYAMLStore(filepath.Join(t.TempDir(), "decisions"))
	require.NoError(t, store.Load())

	require.NoError(t, store.Put(ctx, sampleDecision("a1b2c3d4", "2026-01-15")))

	got, err := store.Get(ctx, "a1b2")
	require.NoError(t, err)
	require.Equal(t, "a1b2c3d4", got.ID)

	_, err = store.Get(ctx, "zzzz")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestYAMLStorePrefixAmbiguous(t *testing.T) {
	ctx := context.Background()
	store := NewYAMLStore(filepath.Join(t.TempDir(), "decisions"))
	require.NoError(t, store.Load())

	require.NoError(t, store.Put(ctx, sampleDecision("a1b2c3d4", "2026-01-15")))
	require.NoError(t, store.Put(ctx, sampleDecision("a1b2ffff", "2026-01-16")))

	_, err := store.Get(ctx, "a1b2")
	require.ErrorIs(t, err, ErrAmbiguousPrefix)
}

func TestYAMLStoreLoadRebuildsIndex(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "decisions")

	store := NewYAMLStore(dir)
	require.NoError(t, store.Load())
	require.NoError(t, store.Put(ctx, sampleDecision("a1b2c3d4", "2026-01-15")))

	reopened := NewYAMLStore(dir)
	require.NoError(t, reopened.Load())

	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestYAMLStoreListFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	store := NewYAMLStore(filepath.Join(t.TempDir(), "decisions"))
	require.NoError(t, store.Load())

	older := sampleDecision("11111111", "2026-01-01")
	newer := sampleDecision("22222222", "2026-02-01")
	newer.Category = model.CategorySecurity

	require.NoError(t, store.Put(ctx, older))
	require.NoError(t, store.Put(ctx, newer))

	all, err := store.List(ctx, model.QueryFilters{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "22222222", all[0].ID) // newest first

	arch := model.CategoryArchitecture
	filtered, err := store.List(ctx, model.QueryFilters{Category: &arch}, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, "11111111", filtered[0].ID)
}
