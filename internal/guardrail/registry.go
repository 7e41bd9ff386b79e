package guardrail

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var conditionExpr = regexp.MustCompile(`^([<>=!]+)\s*(.*)$`)

func parseCondition(field string, value any) Condition {
	if s, ok := value.(string); ok && len(s) > 0 && strings.ContainsAny(s[:1], "<>=") {
		if m := conditionExpr.FindStringSubmatch(s); m != nil {
			opMap := map[string]string{"<": "lt", ">": "gt", "<=": "lte", ">=": "gte", "==": "eq", "!=": "ne"}
			op, ok := opMap[m[1]]
			if !ok {
				op = "eq"
			}
			var val any = m[2]
			if f, err := strconv.ParseFloat(m[2], 64); err == nil {
				val = f
			}
			return Condition{Field: field, Operator: op, Value: val}
		}
	}
	return Condition{Field: field, Operator: "eq", Value: value}
}

func parseRaw(data map[string]any) Guardrail {
	g := Guardrail{Action: "warn"}

	if v, ok := data["id"].(string); ok {
		g.ID = v
	}
	if g.ID == "" {
		g.ID = "unknown"
	}
	if v, ok := data["description"].(string); ok {
		g.Description = v
	}
	if v, ok := data["action"].(string); ok && v != "" {
		g.Action = v
	}
	if v, ok := data["message"].(string); ok {
		g.Message = v
	}

	switch scope := data["scope"].(type) {
	case string:
		if scope != "" {
			g.Scope = []string{scope}
		}
	case []any:
		for _, s := range scope {
			if str, ok := s.(string); ok {
				g.Scope = append(g.Scope, str)
			}
		}
	}

	for key, value := range data {
		switch {
		case strings.HasPrefix(key, "condition_"):
			g.Conditions = append(g.Conditions, parseCondition(strings.TrimPrefix(key, "condition_"), value))
		case strings.HasPrefix(key, "requires_"):
			g.Requirements = append(g.Requirements, Requirement{Field: strings.TrimPrefix(key, "requires_"), Expected: value})
		}
	}

	return g
}

// Registry holds the loaded, deduplicated set of guardrails.
type Registry struct {
	mu         sync.RWMutex
	guardrails []Guardrail
	dir        string
	logger     *slog.Logger
}

// NewRegistry creates a registry rooted at dir. Call Load to populate it.
func NewRegistry(dir string, logger *slog.Logger) *Registry {
	return &Registry{dir: dir, logger: logger}
}

// Load reads every *.yaml file under dir, parsing each as a list of
// guardrail documents, and keeps the first guardrail seen for any duplicate
// id.
func (r *Registry) Load() error {
	if r.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(r.dir)
	if os.IsNotExist(err) {
		r.mu.Lock()
		r.guardrails = nil
		r.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("guardrail: read dir %q: %w", r.dir, err)
	}

	seen := make(map[string]struct{})
	var loaded []Guardrail

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		blob, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("guardrail: failed to read file", "path", path, "error", err)
			continue
		}

		var items []map[string]any
		if err := yaml.Unmarshal(blob, &items); err != nil {
			// Fall back to a single-document parse for files that define one
			// guardrail as a top-level mapping rather than a list.
			var single map[string]any
			if err2 := yaml.Unmarshal(blob, &single); err2 != nil {
				r.logger.Warn("guardrail: failed to parse file", "path", path, "error", err)
				continue
			}
			items = []map[string]any{single}
		}

		for _, item := range items {
			g := parseRaw(item)
			if _, dup := seen[g.ID]; dup {
				continue
			}
			seen[g.ID] = struct{}{}
			loaded = append(loaded, g)
		}
	}

	r.mu.Lock()
	r.guardrails = loaded
	r.mu.Unlock()
	return nil
}

// Snapshot returns the currently loaded guardrails.
func (r *Registry) Snapshot() []Guardrail {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Guardrail, len(r.guardrails))
	copy(out, r.guardrails)
	return out
}

// Evaluate evaluates the registry's current guardrail set against ctx.
func (r *Registry) Evaluate(ctx map[string]any) EvaluationResult {
	return Evaluate(r.Snapshot(), ctx)
}
