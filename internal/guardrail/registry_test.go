package guardrail

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleGuardrailYAML = `
- id: security-review-required
  description: security decisions must be reviewed before merge
  condition_category: security
  requires_reviewed: true
  action: block
  message: "security decision {id} requires review"
- id: low-confidence-warn
  description: flag low confidence decisions
  condition_confidence: "<0.4"
  action: warn
`

func TestRegistryLoadAndEvaluate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.yaml"), []byte(sampleGuardrailYAML), 0o644))

	reg := NewRegistry(dir, slog.Default())
	require.NoError(t, reg.Load())
	require.Len(t, reg.Snapshot(), 2)

	result := reg.Evaluate(map[string]any{"category": "security", "reviewed": false, "confidence": 0.9})
	require.False(t, result.Allowed)
	require.Len(t, result.Violations, 1)
}

func TestRegistryLoadMissingDirIsNotError(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "does-not-exist"), slog.Default())
	require.NoError(t, reg.Load())
	require.Empty(t, reg.Snapshot())
}

func TestRegistryLoadDeduplicatesByID(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(`- id: dup
  action: warn`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(`- id: dup
  action: block`), 0o644))

	reg := NewRegistry(dir, slog.Default())
	require.NoError(t, reg.Load())
	require.Len(t, reg.Snapshot(), 1)
}
