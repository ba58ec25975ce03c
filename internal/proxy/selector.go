package proxy

import "time"

// Candidate is one yielded step of a Selector sequence: which provider
// to try next, and whether this yield came from emergency mode (which
// changes how the Forwarder scores a subsequent success).
type Candidate struct {
	Provider  Provider
	Emergency bool
}

// Selector yields a lazy, finite candidate sequence for one inbound
// request (component C3). It performs no I/O; the Forwarder pulls the
// next candidate only when the previous one failed.
type Selector struct {
	registry  *Registry
	rateLimit int
	now       func() time.Time
}

// NewSelector builds a Selector bound to a Registry and the process-
// wide per-provider rate limit (spec.md §4.2; default 5/min is applied
// by the caller/config layer, not here).
func NewSelector(r *Registry, rateLimit int) *Selector {
	return &Selector{registry: r, rateLimit: rateLimit, now: time.Now}
}

// sequenceStage tracks which of the five policy stages a CandidateSequence
// is currently scanning.
type sequenceStage int

const (
	stagePreferred sequenceStage = iota
	stageHealthy
	stageDegraded
	stageEmergency
	stageDone
)

// CandidateSequence is the stateful, on-demand iterator Sequence
// returns (spec.md §4.3: "generated on demand; the Forwarder pulls the
// next candidate only when the previous one failed"). Each call to
// Next evaluates exactly as much of the five-stage policy as needed to
// produce one more candidate, and only mutates registry state
// (rate-limit admission, cursor) for the candidate it actually yields
// — a provider the Forwarder never reaches (because an earlier
// candidate already succeeded) is left completely untouched.
type CandidateSequence struct {
	selector *Selector
	snaps    []Snapshot
	now      time.Time
	tried    map[string]bool
	stage    sequenceStage

	healthyCursor int
	healthyStep   int
	degradedCursor int
	degradedStep   int
	emergencyIdx   int

	yieldedAny bool
}

// Sequence begins a new candidate sequence for one inbound request. The
// provider snapshot is taken once, up front, so health comparisons are
// consistent across the whole request even as later candidates mutate
// per-provider state; rate-limit admission and cursor advancement,
// however, happen lazily inside Next.
func (s *Selector) Sequence() *CandidateSequence {
	return &CandidateSequence{
		selector: s,
		snaps:    s.registry.Snapshot(),
		now:      s.now(),
		tried:    make(map[string]bool),
	}
}

// Next returns the next candidate in the sequence, or ok=false once
// every stage (including emergency) has been exhausted.
func (c *CandidateSequence) Next() (Candidate, bool) {
	n := len(c.snaps)
	if n == 0 {
		return Candidate{}, false
	}

	for {
		switch c.stage {
		case stagePreferred:
			c.stage = stageHealthy
			name := c.selector.registry.PreferredName()
			if name == "" {
				continue
			}
			for i, snap := range c.snaps {
				if snap.Name != name {
					continue
				}
				if snap.Alive() && c.selector.registry.TryAdmit(snap.Name, c.now, c.selector.rateLimit) {
					c.tried[name] = true
					c.yieldedAny = true
					return Candidate{Provider: c.selector.providerAt(i)}, true
				}
				break
			}
			continue

		case stageHealthy:
			if c.healthyStep == 0 {
				c.healthyCursor = c.selector.registry.Cursor()
			}
			for c.healthyStep < n {
				idx := (c.healthyCursor + c.healthyStep) % n
				c.healthyStep++
				snap := c.snaps[idx]
				if c.tried[snap.Name] || !snap.Usable() {
					continue
				}
				if !c.selector.registry.TryAdmit(snap.Name, c.now, c.selector.rateLimit) {
					continue
				}
				c.tried[snap.Name] = true
				c.yieldedAny = true
				c.selector.registry.advanceCursor(idx)
				return Candidate{Provider: c.selector.providerAt(idx)}, true
			}
			c.stage = stageDegraded
			continue

		case stageDegraded:
			if c.degradedStep == 0 {
				c.degradedCursor = c.selector.registry.Cursor()
			}
			for c.degradedStep < n {
				idx := (c.degradedCursor + c.degradedStep) % n
				c.degradedStep++
				snap := c.snaps[idx]
				if c.tried[snap.Name] || !snap.Alive() {
					continue
				}
				if !c.selector.registry.TryAdmit(snap.Name, c.now, c.selector.rateLimit) {
					continue
				}
				c.tried[snap.Name] = true
				c.yieldedAny = true
				c.selector.registry.advanceCursor(idx)
				return Candidate{Provider: c.selector.providerAt(idx)}, true
			}
			c.stage = stageEmergency
			continue

		case stageEmergency:
			// Only entered if both prior scans yielded nothing; does
			// not advance the cursor and ignores rate limits entirely.
			if c.yieldedAny {
				c.stage = stageDone
				continue
			}
			for c.emergencyIdx < n {
				idx := c.emergencyIdx
				c.emergencyIdx++
				snap := c.snaps[idx]
				if c.tried[snap.Name] {
					continue
				}
				c.tried[snap.Name] = true
				return Candidate{Provider: c.selector.providerAt(idx), Emergency: true}, true
			}
			c.stage = stageDone
			continue

		case stageDone:
			return Candidate{}, false
		}
	}
}

// providerAt returns the Provider value at the given load-order index.
// Providers() is the authoritative, torn-read-free source of identity
// fields (name/token/base_url/key_type never change, so re-reading
// them per candidate is cheap and always consistent).
func (s *Selector) providerAt(idx int) Provider {
	providers := s.registry.Providers()
	return providers[idx]
}
