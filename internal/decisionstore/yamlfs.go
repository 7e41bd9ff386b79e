package decisionstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/cstpd/internal/model"
)

// YAMLStore persists each decision as its own YAML file under
// {root}/YYYY/MM/YYYY-MM-DD-decision-{id}.yaml, the same sharded-by-month
// layout the original system used for its flat-file corpus. Writes go
// through a tempfile + fsync + rename so a crash mid-write never leaves a
// truncated or partially-written record behind.
type YAMLStore struct {
	root string

	mu    sync.RWMutex
	paths map[string]string // decision id -> absolute file path
}

// NewYAMLStore builds a store rooted at dir. Load must be called once before
// Get/List/All/Count return accurate results.
func NewYAMLStore(dir string) *YAMLStore {
	return &YAMLStore{root: dir, paths: make(map[string]string)}
}

// Load walks root and rebuilds the in-memory id -> path index. Call once at
// startup; Put keeps the index current afterward.
func (s *YAMLStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paths = make(map[string]string)
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return nil
	}

	return filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".yaml") {
			return nil
		}
		id := idFromFilename(d.Name())
		if id == "" {
			return nil
		}
		s.paths[id] = path
		return nil
	})
}

func idFromFilename(name string) string {
	const marker = "-decision-"
	idx := strings.Index(name, marker)
	if idx < 0 {
		return ""
	}
	rest := name[idx+len(marker):]
	return strings.TrimSuffix(rest, ".yaml")
}

func (s *YAMLStore) pathFor(d model.Decision) (string, error) {
	parsed, err := time.Parse("2006-01-02", d.Date)
	if err != nil {
		return "", fmt.Errorf("decisionstore: decision %q has unparseable date %q: %w", d.ID, d.Date, err)
	}
	dir := filepath.Join(s.root, fmt.Sprintf("%04d", parsed.Year()), fmt.Sprintf("%02d", parsed.Month()))
	name := fmt.Sprintf("%s-decision-%s.yaml", d.Date, d.ID)
	return filepath.Join(dir, name), nil
}

// Put atomically writes d: marshal to a tempfile in the target directory,
// fsync, then rename over any existing file for the same id.
func (s *YAMLStore) Put(ctx context.Context, d model.Decision) error {
	path, err := s.pathFor(d)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if old, ok := s.paths[d.ID]; ok && old != path {
		_ = os.Remove(old)
	}
	s.mu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("decisionstore: mkdir %q: %w", dir, err)
	}

	blob, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("decisionstore: marshal decision %q: %w", d.ID, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*.yaml")
	if err != nil {
		return fmt.Errorf("decisionstore: create tempfile: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("decisionstore: write tempfile: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("decisionstore: fsync tempfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("decisionstore: close tempfile: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("decisionstore: rename into place: %w", err)
	}

	s.mu.Lock()
	s.paths[d.ID] = path
	s.mu.Unlock()
	return nil
}

func (s *YAMLStore) resolveID(idOrPrefix string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.paths[idOrPrefix]; ok {
		return idOrPrefix, nil
	}

	var matches []string
	for id := range s.paths {
		if strings.HasPrefix(id, idOrPrefix) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return "", ErrAmbiguousPrefix
	}
}

// Get reads a decision by exact id or unique hex prefix.
func (s *YAMLStore) Get(ctx context.Context, idOrPrefix string) (model.Decision, error) {
	id, err := s.resolveID(idOrPrefix)
	if err != nil {
		return model.Decision{}, err
	}

	s.mu.RLock()
	path := s.paths[id]
	s.mu.RUnlock()

	return readDecisionFile(path)
}

func readDecisionFile(path string) (model.Decision, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Decision{}, ErrNotFound
		}
		return model.Decision{}, fmt.Errorf("decisionstore: read %q: %w", path, err)
	}
	var d model.Decision
	if err := yaml.Unmarshal(blob, &d); err != nil {
		return model.Decision{}, fmt.Errorf("decisionstore: unmarshal %q: %w", path, err)
	}
	return d, nil
}

// All returns every decision in the corpus, unordered.
func (s *YAMLStore) All(ctx context.Context) ([]model.Decision, error) {
	s.mu.RLock()
	paths := make([]string, 0, len(s.paths))
	for _, p := range s.paths {
		paths = append(paths, p)
	}
	s.mu.RUnlock()

	out := make([]model.Decision, 0, len(paths))
	for _, p := range paths {
		d, err := readDecisionFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// List returns decisions matching filter, ordered by Date descending,
// truncated to limit.
func (s *YAMLStore) List(ctx context.Context, filter model.QueryFilters, limit int) ([]model.Decision, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	matched := all[:0]
	for _, d := range all {
		if MatchesFilter(d, filter) {
			matched = append(matched, d)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Date > matched[j].Date })

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Count returns the number of indexed decisions.
func (s *YAMLStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.paths), nil
}
