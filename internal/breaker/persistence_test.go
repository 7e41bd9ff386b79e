package breaker

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendAndLoadJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "breakers.jsonl")
	now := time.Now()

	b := &Breaker{
		Config:       Config{Scope: "global", FailureThreshold: 5, WindowMS: 3_600_000, CooldownMS: 1_800_000, Notify: true},
		State:        StateOpen,
		Failures:     []time.Time{now.Add(-time.Minute), now},
		OpenedAt:     &now,
		LastActivity: now,
	}
	require.NoError(t, appendBreaker(path, "global", b))

	loaded, err := loadFromJSONL(path, map[string]Config{"global": b.Config})
	require.NoError(t, err)
	require.Contains(t, loaded, "global")
	require.Equal(t, StateOpen, loaded["global"].State)
	require.Len(t, loaded["global"].Failures, 2)
}

func TestLoadFromJSONLKeepsLastEntryPerScope(t *testing.T) {
	path := filepath.Join(t.TempDir(), "breakers.jsonl")
	cfg := DefaultConfig("global")

	first := &Breaker{Config: cfg, State: StateClosed, LastActivity: time.Now()}
	require.NoError(t, appendBreaker(path, "global", first))

	openedAt := time.Now()
	second := &Breaker{Config: cfg, State: StateOpen, OpenedAt: &openedAt, LastActivity: openedAt}
	require.NoError(t, appendBreaker(path, "global", second))

	loaded, err := loadFromJSONL(path, map[string]Config{"global": cfg})
	require.NoError(t, err)
	require.Equal(t, StateOpen, loaded["global"].State)
}

func TestLoadFromJSONLMissingFile(t *testing.T) {
	loaded, err := loadFromJSONL(filepath.Join(t.TempDir(), "missing.jsonl"), nil)
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestSaveAllFullRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "breakers.jsonl")
	breakers := map[string]*Breaker{
		"global": {Config: DefaultConfig("global"), State: StateClosed, LastActivity: time.Now()},
	}
	require.NoError(t, saveAll(path, breakers))

	loaded, err := loadFromJSONL(path, nil)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}
