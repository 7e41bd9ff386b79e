package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Manager owns every scope's Breaker and serializes all state mutation
// behind a single mutex, matching the original asyncio.Lock-guarded
// design. Persistence is JSONL: append on every state change, full rewrite
// on reset or stale eviction.
type Manager struct {
	mu sync.Mutex

	configPath      string
	persistencePath string
	logger          *slog.Logger

	configs  map[string]Config
	breakers map[string]*Breaker
}

// NewManager constructs an uninitialized manager; call Initialize before use.
func NewManager(configPath, persistencePath string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{configPath: configPath, persistencePath: persistencePath, logger: logger}
}

// Initialize loads configs from YAML and restores breaker state from JSONL,
// creating a fresh CLOSED breaker for any configured scope not already
// present in the persisted state.
func (m *Manager) Initialize(ctx context.Context) error {
	configs, err := LoadConfigs(m.configPath)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.configs = make(map[string]Config, len(configs))
	for _, c := range configs {
		m.configs[c.Scope] = c
	}

	breakers, err := loadFromJSONL(m.persistencePath, m.configs)
	if err != nil {
		return err
	}
	m.breakers = breakers

	for scope, cfg := range m.configs {
		if _, ok := m.breakers[scope]; !ok {
			m.breakers[scope] = &Breaker{Config: cfg, State: StateClosed, LastActivity: time.Now(), FromConfig: true}
		}
	}

	m.logger.Info("circuit breaker manager initialized", "configs", len(m.configs), "breakers", len(m.breakers))
	return nil
}

func evictStaleWindow(b *Breaker) {
	cutoff := time.Now().Add(-b.Config.Window())
	i := 0
	for i < len(b.Failures) && b.Failures[i].Before(cutoff) {
		i++
	}
	b.Failures = b.Failures[i:]
}

func checkLazyCooldown(b *Breaker, logger *slog.Logger, scope string) {
	if b.State != StateOpen || b.OpenedAt == nil {
		return
	}
	if time.Since(*b.OpenedAt) >= b.Config.Cooldown() {
		b.State = StateHalfOpen
		b.ProbeInFlight = false
		b.LastActivity = time.Now()
		logger.Info("circuit breaker cooldown elapsed", "scope", scope, "transition", "open->half_open")
	}
}

func (m *Manager) shouldNotify(b *Breaker) bool {
	if !b.Config.Notify {
		return false
	}
	if b.LastNotification == nil {
		return true
	}
	return time.Since(*b.LastNotification) >= notificationDebounce
}

func (m *Manager) emitNotification(scope string, b *Breaker, event string) {
	if !m.shouldNotify(b) {
		return
	}
	now := time.Now()
	b.LastNotification = &now
	m.logger.Info("circuit_breaker_"+event,
		"event", "circuit_breaker_"+event,
		"scope", scope,
		"state", b.State,
		"failure_count", len(b.Failures),
		"threshold", b.Config.FailureThreshold,
	)
}

func (m *Manager) persistBreaker(scope string) {
	b, ok := m.breakers[scope]
	if !ok {
		return
	}
	if err := appendBreaker(m.persistencePath, scope, b); err != nil {
		m.logger.Warn("breaker: failed to persist state", "scope", scope, "error", err)
	}
}

func cooldownRemainingMS(b *Breaker) *int64 {
	if b.State != StateOpen || b.OpenedAt == nil {
		return nil
	}
	remaining := b.Config.Cooldown() - time.Since(*b.OpenedAt)
	ms := remaining.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return &ms
}

// Check evaluates every breaker whose scope matches ctx. Most-restrictive
// wins: any matching OPEN breaker blocks the action.
func (m *Manager) Check(ctx map[string]any) []CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []CheckResult
	scopes := make([]string, 0, len(m.breakers))
	for scope := range m.breakers {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)

	for _, scope := range scopes {
		b := m.breakers[scope]
		if !MatchesScope(scope, ctx) {
			continue
		}
		evictStaleWindow(b)
		checkLazyCooldown(b, m.logger, scope)

		switch b.State {
		case StateClosed:
			results = append(results, CheckResult{
				Scope: scope, State: b.State, Blocked: false,
				FailureCount: len(b.Failures), FailureThreshold: b.Config.FailureThreshold,
			})
		case StateOpen:
			results = append(results, CheckResult{
				Scope: scope, State: b.State, Blocked: true,
				Message:             "circuit breaker open for " + scope,
				FailureCount:        len(b.Failures),
				FailureThreshold:    b.Config.FailureThreshold,
				CooldownRemainingMS: cooldownRemainingMS(b),
			})
		case StateHalfOpen:
			if !b.ProbeInFlight {
				b.ProbeInFlight = true
				b.LastActivity = time.Now()
				m.persistBreaker(scope)
				results = append(results, CheckResult{
					Scope: scope, State: b.State, Blocked: false,
					Message:          "circuit breaker half-open for " + scope + ": probe allowed",
					FailureCount:     len(b.Failures),
					FailureThreshold: b.Config.FailureThreshold,
				})
			} else {
				results = append(results, CheckResult{
					Scope: scope, State: b.State, Blocked: true,
					Message:          "circuit breaker half-open for " + scope + ": probe in flight",
					FailureCount:     len(b.Failures),
					FailureThreshold: b.Config.FailureThreshold,
				})
			}
		}
	}
	return results
}

// RecordOutcome updates every matching breaker after a decision review.
// "failure" and "abandoned" outcomes count as failures; others clear or
// leave failure history untouched per state.
func (m *Manager) RecordOutcome(ctx map[string]any, outcome string) {
	isFailure := outcome == "failure" || outcome == "abandoned"

	m.mu.Lock()
	defer m.mu.Unlock()

	for scope, b := range m.breakers {
		if !MatchesScope(scope, ctx) {
			continue
		}
		b.LastActivity = time.Now()
		if isFailure {
			m.recordFailure(scope, b)
		} else {
			m.recordSuccess(scope, b)
		}
		m.persistBreaker(scope)
	}
}

func (m *Manager) recordFailure(scope string, b *Breaker) {
	switch b.State {
	case StateClosed:
		b.Failures = append(b.Failures, time.Now())
		evictStaleWindow(b)
		if len(b.Failures) >= b.Config.FailureThreshold {
			b.State = StateOpen
			now := time.Now()
			b.OpenedAt = &now
			b.ProbeInFlight = false
			m.logger.Warn("circuit breaker tripped", "scope", scope, "failures", len(b.Failures), "threshold", b.Config.FailureThreshold)
			m.emitNotification(scope, b, "tripped")
		}
	case StateHalfOpen:
		b.State = StateOpen
		now := time.Now()
		b.OpenedAt = &now
		b.ProbeInFlight = false
		m.logger.Info("circuit breaker probe failed", "scope", scope, "transition", "half_open->open")
		m.emitNotification(scope, b, "probe_failed")
	case StateOpen:
		b.Failures = append(b.Failures, time.Now())
		evictStaleWindow(b)
	}
}

func (m *Manager) recordSuccess(scope string, b *Breaker) {
	switch b.State {
	case StateHalfOpen:
		b.State = StateClosed
		b.Failures = nil
		b.OpenedAt = nil
		b.ProbeInFlight = false
		m.logger.Info("circuit breaker recovered", "scope", scope, "transition", "half_open->closed")
		m.emitNotification(scope, b, "recovered")
	case StateClosed:
		b.Failures = nil
	}
}

func snapshotOf(scope string, b *Breaker) Snapshot {
	return Snapshot{
		Scope: scope, State: b.State, FailureCount: len(b.Failures),
		FailureThreshold: b.Config.FailureThreshold, WindowMS: b.Config.WindowMS,
		CooldownMS: b.Config.CooldownMS, CooldownRemainingMS: cooldownRemainingMS(b),
		OpenedAt: b.OpenedAt, ProbeInFlight: b.ProbeInFlight, FromConfig: b.FromConfig,
	}
}

// GetState returns a single breaker's snapshot, or ok=false if the scope has
// never been seen.
func (m *Manager) GetState(scope string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.breakers[scope]
	if !ok {
		return Snapshot{}, false
	}
	evictStaleWindow(b)
	checkLazyCooldown(b, m.logger, scope)
	return snapshotOf(scope, b), true
}

// ResetResult is the outcome of a manual reset.
type ResetResult struct {
	Scope         string
	PreviousState State
	NewState      State
}

// ErrNoBreaker is returned by Reset when the scope has no breaker.
var ErrNoBreaker = errors.New("breaker: no breaker found for scope")

// ErrNotOpen is returned by Reset when the breaker is not currently OPEN.
var ErrNotOpen = errors.New("breaker: can only reset an OPEN breaker")

// Reset manually transitions an OPEN breaker to CLOSED (or HALF_OPEN when
// probeFirst is set) for operator-triggered recovery.
func (m *Manager) Reset(scope string, probeFirst bool) (ResetResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.breakers[scope]
	if !ok {
		return ResetResult{}, ErrNoBreaker
	}
	prev := b.State
	if prev != StateOpen {
		return ResetResult{}, ErrNotOpen
	}

	if probeFirst {
		b.State = StateHalfOpen
		b.ProbeInFlight = false
	} else {
		b.State = StateClosed
		b.Failures = nil
		b.OpenedAt = nil
		b.ProbeInFlight = false
	}
	b.LastActivity = time.Now()

	if err := saveAll(m.persistencePath, m.breakers); err != nil {
		m.logger.Warn("breaker: failed to persist after manual reset", "scope", scope, "error", err)
	}
	m.logger.Info("circuit breaker manually reset", "scope", scope, "from", prev, "to", b.State)
	m.emitNotification(scope, b, "manual_reset")

	return ResetResult{Scope: scope, PreviousState: prev, NewState: b.State}, nil
}

// ListBreakers returns every breaker's snapshot, ordered by scope.
func (m *Manager) ListBreakers() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	scopes := make([]string, 0, len(m.breakers))
	for scope := range m.breakers {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)

	out := make([]Snapshot, 0, len(scopes))
	for _, scope := range scopes {
		b := m.breakers[scope]
		evictStaleWindow(b)
		checkLazyCooldown(b, m.logger, scope)
		out = append(out, snapshotOf(scope, b))
	}
	return out
}

// NonClosedSummary returns breakers currently OPEN or HALF_OPEN, for
// inclusion in session-context rendering.
func (m *Manager) NonClosedSummary() []Snapshot {
	all := m.ListBreakers()
	out := all[:0]
	for _, s := range all {
		if s.State != StateClosed {
			out = append(out, s)
		}
	}
	return out
}

// EvictStale removes dynamically-created (not config-defined) CLOSED
// breakers that have had no activity for 24h, and rewrites the persistence
// file to match.
func (m *Manager) EvictStale() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var toRemove []string
	now := time.Now()
	for scope, b := range m.breakers {
		if b.FromConfig || b.State != StateClosed {
			continue
		}
		if len(b.Failures) == 0 && now.Sub(b.LastActivity) > staleEvictionAge {
			toRemove = append(toRemove, scope)
		}
	}
	for _, scope := range toRemove {
		delete(m.breakers, scope)
	}
	if len(toRemove) > 0 {
		if err := saveAll(m.persistencePath, m.breakers); err != nil {
			m.logger.Warn("breaker: failed to persist after eviction", "error", err)
		}
		m.logger.Info("evicted stale circuit breakers", "count", len(toRemove))
	}
	return len(toRemove)
}
