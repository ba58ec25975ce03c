package proxy

import (
	"testing"
	"time"
)

// drain pulls every candidate from a sequence, simulating a Forwarder
// that fails over on every attempt.
func drain(seq *CandidateSequence) []Candidate {
	var out []Candidate
	for {
		cand, ok := seq.Next()
		if !ok {
			return out
		}
		out = append(out, cand)
	}
}

func TestSelector_PreferredFirst(t *testing.T) {
	r, _ := newTestRegistry(t, testProviders()) // "a" preferred
	sel := NewSelector(r, 5)

	cands := drain(sel.Sequence())
	if len(cands) == 0 {
		t.Fatal("expected at least one candidate")
	}
	if cands[0].Provider.Name != "a" {
		t.Fatalf("first candidate = %s, want a (preferred)", cands[0].Provider.Name)
	}
}

func TestSelector_NeverYieldsSameProviderTwice(t *testing.T) {
	r, ft := newTestRegistry(t, testProviders())
	sel := NewSelector(r, 100)

	for range 20 {
		r.RecordFailure("a")
		r.RecordFailure("b")
		ft.Advance(time.Second)
	}

	cands := drain(sel.Sequence())
	seen := map[string]bool{}
	for _, c := range cands {
		if seen[c.Provider.Name] {
			t.Fatalf("provider %s yielded twice", c.Provider.Name)
		}
		seen[c.Provider.Name] = true
	}
}

func TestSelector_YieldsEveryProviderBeforeExhaustion(t *testing.T) {
	providers := []Provider{
		{Name: "a", Token: "t", BaseURL: "https://a"},
		{Name: "b", Token: "t", BaseURL: "https://b"},
		{Name: "c", Token: "t", BaseURL: "https://c"},
	}
	r, ft := newTestRegistry(t, providers)
	// Drive every provider to 0 so normal selection yields nothing and
	// emergency mode must cover all of them.
	for range 20 {
		r.RecordFailure("a")
		r.RecordFailure("b")
		r.RecordFailure("c")
		ft.Advance(time.Second)
	}

	sel := NewSelector(r, 100)
	cands := drain(sel.Sequence())

	if len(cands) != len(providers) {
		t.Fatalf("got %d candidates, want %d (one per provider)", len(cands), len(providers))
	}
	for _, c := range cands {
		if !c.Emergency {
			t.Errorf("candidate %s should be tagged emergency", c.Provider.Name)
		}
	}
}

func TestSelector_RateCapSkipsToNextCandidate(t *testing.T) {
	providers := []Provider{
		{Name: "a", Token: "t", BaseURL: "https://a", Preferred: true},
		{Name: "b", Token: "t", BaseURL: "https://b"},
	}
	r, ft := newTestRegistry(t, providers)
	sel := NewSelector(r, 2) // rate-limit 2/min

	// Exhaust a's rate budget directly.
	r.TryAdmit("a", ft.Now(), 2)
	r.TryAdmit("a", ft.Now(), 2)

	cands := drain(sel.Sequence())
	if len(cands) == 0 {
		t.Fatal("expected a candidate")
	}
	if cands[0].Provider.Name != "b" {
		t.Fatalf("first candidate = %s, want b (a is rate-capped)", cands[0].Provider.Name)
	}

	// Rate-limit skip must not have touched a's health score.
	for _, s := range r.Snapshot() {
		if s.Name == "a" && s.Score != 100 {
			t.Fatalf("a's score = %d, want 100 (rate-limit skip must not affect health)", s.Score)
		}
	}
}

func TestSelector_DegradedPassUsesWalkingWoundedProvider(t *testing.T) {
	providers := []Provider{
		{Name: "a", Token: "t", BaseURL: "https://a"},
		{Name: "b", Token: "t", BaseURL: "https://b"},
	}
	r, _ := newTestRegistry(t, providers)

	// Drive a below the usable threshold (20) but keep it alive.
	for range 8 {
		r.RecordFailure("a") // 100 -> 20 after 8 steps of -10
	}
	// Drive b fully offline and rate-cap it so only a's degraded pass fires.
	for range 20 {
		r.RecordFailure("b")
	}

	sel := NewSelector(r, 100)
	cands := drain(sel.Sequence())

	foundA := false
	for _, c := range cands {
		if c.Provider.Name == "a" {
			foundA = true
			if c.Emergency {
				t.Error("a should be reached via degraded round-robin, not emergency")
			}
		}
	}
	if !foundA {
		t.Fatal("expected degraded-but-alive provider a to be selected")
	}
}

// TestSelector_NextOnlyAdmitsYieldedCandidates is the regression test
// for the on-demand contract itself: pulling one candidate out of a
// sequence must not touch rate-limit state for providers the sequence
// never yielded.
func TestSelector_NextOnlyAdmitsYieldedCandidates(t *testing.T) {
	providers := []Provider{
		{Name: "a", Token: "t", BaseURL: "https://a", Preferred: true},
		{Name: "b", Token: "t", BaseURL: "https://b"},
	}
	r, _ := newTestRegistry(t, providers)
	sel := NewSelector(r, 2) // rate-limit 2/min

	// Preferred "a" succeeds on the very first pull every time; "b" is
	// never dispatched to. Simulate three independent requests.
	for range 3 {
		seq := sel.Sequence()
		cand, ok := seq.Next()
		if !ok || cand.Provider.Name != "a" {
			t.Fatalf("expected preferred candidate a, got %+v ok=%v", cand, ok)
		}
		// Request "succeeds" immediately: the Forwarder never calls
		// Next again, so b must never be touched.
	}

	for _, s := range r.Snapshot() {
		if s.Name == "b" && s.WindowCount != 0 {
			t.Fatalf("b's window count = %d, want 0 (b was never dispatched to)", s.WindowCount)
		}
	}

	// Now a is rate-capped by two direct admissions (not via Sequence);
	// b must still have a clean rate budget since it was never admitted.
	r.TryAdmit("a", time.Now(), 2)
	r.TryAdmit("a", time.Now(), 2)
	seq := sel.Sequence()
	cand, ok := seq.Next()
	if !ok || cand.Provider.Name != "b" {
		t.Fatalf("expected fallback to b once a is rate-capped, got %+v ok=%v", cand, ok)
	}
}
