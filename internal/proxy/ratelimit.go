package proxy

import "time"

// rateWindowDuration is the fixed 60-second sliding window (spec.md
// §4.2: "The 60-second window is fixed").
const rateWindowDuration = 60 * time.Second

// TryAdmit implements component C2 (Rate Limiter): it prunes entries
// older than now-60s and, if the pruned window has fewer than limit
// admitted timestamps, appends now and returns true (admitted). This
// operation is atomic per provider — it shares the provider's health
// mutex, so admission and health updates never interleave torn.
//
// Rejection is a soft signal (spec.md §4.2): callers must not treat it
// as a health-affecting failure.
func (r *Registry) TryAdmit(name string, now time.Time, limit int) bool {
	e := r.lookup(name)
	if e == nil {
		return false
	}

	e.health.mu.Lock()
	defer e.health.mu.Unlock()

	pruneWindow(e.health, now)
	if len(e.health.window) >= limit {
		return false
	}
	e.health.window = append(e.health.window, now)
	return true
}

// Count returns the number of admitted timestamps currently in the
// provider's rate window, for logging/observation. Read-only: it
// prunes but never admits.
func (r *Registry) Count(name string, now time.Time) int {
	e := r.lookup(name)
	if e == nil {
		return 0
	}

	e.health.mu.Lock()
	defer e.health.mu.Unlock()

	pruneWindow(e.health, now)
	return len(e.health.window)
}
