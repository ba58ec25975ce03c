package proxy

import (
	"fmt"
	"sync"
	"time"
)

const (
	// usableThreshold is the "usable" health floor from spec.md §4.3:
	// a provider with score <= this is skipped by the healthy
	// round-robin pass but may still be picked up by the degraded pass.
	usableThreshold = 20

	// maxScore / minScore bound the saturating score arithmetic.
	maxScore = 100
	minScore = 0

	successDelta = 5
	failureDelta = 10

	// idleRecoveryAfter is how long a provider must sit untouched
	// before the idle-recovery step gives it a large step back up.
	idleRecoveryAfter = 5 * time.Minute

	// idleRecoveryFloor is the minimum score idle recovery restores a
	// provider to (spec.md §4.1's "large_step... restores to at least
	// 50", see SPEC_FULL.md open-question decision #2).
	idleRecoveryFloor = 50

	// emergencyRecoveryScore is the score an emergency-mode success is
	// clamped to, rather than a full reset (spec.md §4.4, open
	// question #1).
	emergencyRecoveryScore = 15
)

// health is the mutable per-provider state. One instance per provider,
// guarded by its own mutex so that contention on one provider never
// blocks operations on another (spec.md §5: "one lock per provider").
type health struct {
	mu sync.Mutex

	score               int
	lastActivity        time.Time
	consecutiveFailures int
	preferred           bool

	window []time.Time // RateWindow: admitted timestamps, newest last
}

// entry pairs an immutable Provider with its mutable health state.
type entry struct {
	provider Provider
	health   *health
}

// Registry owns the immutable provider list and the mutable per-
// provider health/rate-window state (component C1). It is the single
// shared handle threaded through the Gateway and Forwarder — there is
// no ambient singleton (spec.md §9).
type Registry struct {
	mu sync.Mutex // protects cursor, preferredName, and the entries slice order

	entries  []*entry
	byName   map[string]*entry
	cursor   int
	preferredName string

	persist PersistFunc
	now     func() time.Time
}

// PersistFunc is the persistence callback the core consumes (spec.md
// §6). It receives the full, up-to-date provider list (reflecting the
// current preferred flag) and is responsible for writing it somewhere
// durable. Errors are logged by the caller and never fail the request
// that triggered them.
type PersistFunc func(providers []Provider) error

// RegistryOption configures optional Registry behavior.
type RegistryOption func(*Registry)

// WithPersist installs the persistence callback invoked by
// [Registry.SetPreferred] on transition.
func WithPersist(fn PersistFunc) RegistryOption {
	return func(r *Registry) { r.persist = fn }
}

// withClock overrides time.Now for deterministic tests.
func withClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry builds a PoolState from a caller-supplied provider list.
// All scores start at 100, windows start empty, and preferredName
// mirrors the (at most one) provider flagged preferred — if more than
// one is flagged, the first wins and the rest are demoted, matching
// spec.md §6's config-load rule.
func NewRegistry(providers []Provider, opts ...RegistryOption) (*Registry, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}

	r := &Registry{
		byName: make(map[string]*entry, len(providers)),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	preferredSeen := false
	for _, p := range providers {
		h := &health{score: maxScore, lastActivity: r.now()}
		if p.Preferred {
			if preferredSeen {
				p.Preferred = false
			} else {
				preferredSeen = true
				h.preferred = true
				r.preferredName = p.Name
			}
		}
		e := &entry{provider: p, health: h}
		r.entries = append(r.entries, e)
		r.byName[p.Name] = e
	}

	return r, nil
}

// Providers returns the immutable, load-ordered provider list. Used by
// the Selector for round-robin iteration and by persistence.
func (r *Registry) Providers() []Provider {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Provider, len(r.entries))
	for i, e := range r.entries {
		e.health.mu.Lock()
		p := e.provider
		p.Preferred = e.health.preferred
		e.health.mu.Unlock()
		out[i] = p
	}
	return out
}

// PreferredName returns the currently preferred provider's name, or ""
// if none is set.
func (r *Registry) PreferredName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.preferredName
}

// Cursor returns the current round-robin position.
func (r *Registry) Cursor() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// advanceCursor moves the shared cursor past the given load-order
// index, wrapping modulo pool size (spec.md invariant 5: the cursor
// only ever moves forward).
func (r *Registry) advanceCursor(afterIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = (afterIndex + 1) % len(r.entries)
}

// Snapshot returns an immutable, torn-read-free view of every
// provider's (score, window_count, preferred) triple, in load order.
// Idle recovery runs lazily here before sampling, per spec.md §4.1.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	entries := append([]*entry(nil), r.entries...)
	r.mu.Unlock()

	now := r.now()
	out := make([]Snapshot, len(entries))
	for i, e := range entries {
		e.health.mu.Lock()
		idleRecover(e.health, now)
		pruneWindow(e.health, now)
		out[i] = Snapshot{
			Name:        e.provider.Name,
			BaseURL:     e.provider.BaseURL,
			Score:       e.health.score,
			WindowCount: len(e.health.window),
			Preferred:   e.health.preferred,
		}
		e.health.mu.Unlock()
	}
	return out
}

// IdleRecovery runs the idle-recovery step for every provider without
// taking a full snapshot. It is safe to call from a background sweep
// (internal/maintenance) concurrently with request handling — it takes
// the same per-provider lock as every other mutator.
func (r *Registry) IdleRecovery(now time.Time) {
	r.mu.Lock()
	entries := append([]*entry(nil), r.entries...)
	r.mu.Unlock()

	for _, e := range entries {
		e.health.mu.Lock()
		idleRecover(e.health, now)
		e.health.mu.Unlock()
	}
}

// idleRecover restores score for a provider that has been idle (no
// success or failure) for at least idleRecoveryAfter, per spec.md
// §4.1. Monotone: it never decreases score (testable property #6).
func idleRecover(h *health, now time.Time) {
	if h.score >= maxScore {
		return
	}
	if now.Sub(h.lastActivity) < idleRecoveryAfter {
		return
	}
	if restored := max(h.score, idleRecoveryFloor); restored > h.score {
		h.score = min(restored, maxScore)
	}
}

// pruneWindow drops RateWindow entries older than 60s (spec.md
// invariant 4). Exposed here so Snapshot's window_count is accurate
// even for providers that have not been admitted against recently.
func pruneWindow(h *health, now time.Time) {
	cutoff := now.Add(-rateWindowDuration)
	i := 0
	for i < len(h.window) && h.window[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		h.window = h.window[i:]
	}
}

// RecordSuccess applies the +5 saturating score delta, resets the
// consecutive-failure counter, and stamps last_activity.
func (r *Registry) RecordSuccess(name string) {
	e := r.lookup(name)
	if e == nil {
		return
	}
	e.health.mu.Lock()
	defer e.health.mu.Unlock()
	e.health.score = min(e.health.score+successDelta, maxScore)
	e.health.consecutiveFailures = 0
	e.health.lastActivity = r.now()
}

// RecordFailure applies the -10 saturating score delta, increments the
// consecutive-failure counter, and stamps last_activity.
func (r *Registry) RecordFailure(name string) {
	e := r.lookup(name)
	if e == nil {
		return
	}
	e.health.mu.Lock()
	defer e.health.mu.Unlock()
	e.health.score = max(e.health.score-failureDelta, minScore)
	e.health.consecutiveFailures++
	e.health.lastActivity = r.now()
}

// RecoverEmergency clamps a provider's score to emergencyRecoveryScore
// after the first success during emergency selection (spec.md §4.4).
// It never lowers an already-higher score.
func (r *Registry) RecoverEmergency(name string) {
	e := r.lookup(name)
	if e == nil {
		return
	}
	e.health.mu.Lock()
	defer e.health.mu.Unlock()
	if e.health.score < emergencyRecoveryScore {
		e.health.score = emergencyRecoveryScore
	}
	e.health.consecutiveFailures = 0
	e.health.lastActivity = r.now()
}

// SetPreferred clears any existing preferred flag, sets the named
// provider preferred, and invokes the persistence callback with the
// updated provider list. Persistence failure is logged by the caller
// via the returned error; the in-memory change always stands (spec.md
// §4.1, §7).
func (r *Registry) SetPreferred(name string) error {
	r.mu.Lock()
	target, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}

	for _, e := range r.entries {
		e.health.mu.Lock()
		e.health.preferred = e.provider.Name == name
		e.health.mu.Unlock()
	}
	r.preferredName = name
	persist := r.persist
	providers := r.snapshotProvidersLocked()
	r.mu.Unlock()

	_ = target
	if persist == nil {
		return nil
	}
	return persist(providers)
}

// snapshotProvidersLocked builds the provider list with current
// preferred flags for persistence. Caller must hold r.mu.
func (r *Registry) snapshotProvidersLocked() []Provider {
	out := make([]Provider, len(r.entries))
	for i, e := range r.entries {
		e.health.mu.Lock()
		p := e.provider
		p.Preferred = e.health.preferred
		e.health.mu.Unlock()
		out[i] = p
	}
	return out
}

func (r *Registry) lookup(name string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byName[name]
}
