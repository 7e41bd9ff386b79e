package breaker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigsWrappedList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "circuit_breakers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`circuit_breakers:
  - scope: global
    failure_threshold: 3
  - scope: "category:security"
    failure_threshold: 1
    notify: false
`), 0o644))

	configs, err := LoadConfigs(path)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	require.Equal(t, "global", configs[0].Scope)
	require.Equal(t, 3, configs[0].FailureThreshold)
	require.True(t, configs[0].Notify)
	require.False(t, configs[1].Notify)
}

func TestLoadConfigsMissingFile(t *testing.T) {
	configs, err := LoadConfigs(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Empty(t, configs)
}

func TestLoadConfigsEmptyPath(t *testing.T) {
	configs, err := LoadConfigs("")
	require.NoError(t, err)
	require.Empty(t, configs)
}
