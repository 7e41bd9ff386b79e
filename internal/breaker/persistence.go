package breaker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// record is the JSONL-serializable form of a breaker's state.
type record struct {
	Scope            string    `json:"scope"`
	State            State     `json:"state"`
	Failures         []int64   `json:"failures"` // unix millis
	OpenedAt         *int64    `json:"opened_at,omitempty"`
	ProbeInFlight    bool      `json:"probe_in_flight"`
	LastNotification *int64    `json:"last_notification,omitempty"`
	LastActivity     int64     `json:"last_activity"`
	Timestamp        time.Time `json:"timestamp"`
}

func toRecord(scope string, b *Breaker) record {
	failures := make([]int64, len(b.Failures))
	for i, f := range b.Failures {
		failures[i] = f.UnixMilli()
	}
	r := record{
		Scope:         scope,
		State:         b.State,
		Failures:      failures,
		ProbeInFlight: b.ProbeInFlight,
		LastActivity:  b.LastActivity.UnixMilli(),
		Timestamp:     time.Now(),
	}
	if b.OpenedAt != nil {
		ms := b.OpenedAt.UnixMilli()
		r.OpenedAt = &ms
	}
	if b.LastNotification != nil {
		ms := b.LastNotification.UnixMilli()
		r.LastNotification = &ms
	}
	return r
}

func fromRecord(r record, configs map[string]Config) *Breaker {
	cfg, fromConfig := configs[r.Scope]
	if !fromConfig {
		cfg = DefaultConfig(r.Scope)
	}

	b := &Breaker{
		Config:        cfg,
		State:         r.State,
		ProbeInFlight: r.ProbeInFlight,
		LastActivity:  time.UnixMilli(r.LastActivity),
		FromConfig:    fromConfig,
	}
	if b.State == "" {
		b.State = StateClosed
	}
	for _, ms := range r.Failures {
		b.Failures = append(b.Failures, time.UnixMilli(ms))
	}
	if r.OpenedAt != nil {
		t := time.UnixMilli(*r.OpenedAt)
		b.OpenedAt = &t
	}
	if r.LastNotification != nil {
		t := time.UnixMilli(*r.LastNotification)
		b.LastNotification = &t
	}
	return b
}

// appendBreaker appends a single breaker's state to the JSONL file.
func appendBreaker(path, scope string, b *Breaker) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("breaker: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("breaker: open persistence file: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(toRecord(scope, b))
	if err != nil {
		return fmt.Errorf("breaker: marshal record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("breaker: write record: %w", err)
	}
	return nil
}

// saveAll performs a full rewrite of every breaker's state, used after a
// manual reset and after a stale eviction pass compacts the scope set.
func saveAll(path string, breakers map[string]*Breaker) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("breaker: mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("breaker: create persistence file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for scope, b := range breakers {
		line, err := json.Marshal(toRecord(scope, b))
		if err != nil {
			return fmt.Errorf("breaker: marshal record: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("breaker: write record: %w", err)
		}
	}
	return w.Flush()
}

// loadFromJSONL restores breaker state from path, keeping only the last
// entry per scope (append-only log, last write wins).
func loadFromJSONL(path string, configs map[string]Config) (map[string]*Breaker, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[string]*Breaker{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("breaker: open persistence file: %w", err)
	}
	defer f.Close()

	latest := make(map[string]record)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(line, &r); err != nil {
			continue // skip malformed lines, matching the original's tolerant reader
		}
		latest[r.Scope] = r
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("breaker: scan persistence file: %w", err)
	}

	breakers := make(map[string]*Breaker, len(latest))
	for scope, r := range latest {
		breakers[scope] = fromRecord(r, configs)
	}
	return breakers, nil
}
