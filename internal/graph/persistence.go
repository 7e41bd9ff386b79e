package graph

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ashita-ai/cstpd/internal/model"
)

// appendEdge appends a single edge to the JSONL persistence file, the same
// append-only idiom as internal/breaker's persistence file: edges are never
// deleted, so a full rewrite is never needed.
func appendEdge(path string, e model.Edge) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("graph: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("graph: open persistence file: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("graph: marshal edge: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("graph: write edge: %w", err)
	}
	return nil
}

// loadEdges replays the JSONL persistence file in full; every line is a
// distinct edge (no last-write-wins collapsing, unlike breaker state).
func loadEdges(path string) ([]model.Edge, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("graph: open persistence file: %w", err)
	}
	defer f.Close()

	var edges []model.Edge
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e model.Edge
		if err := json.Unmarshal(line, &e); err != nil {
			continue // skip malformed lines, matching the breaker log's tolerant reader
		}
		edges = append(edges, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("graph: scan persistence file: %w", err)
	}
	return edges, nil
}
