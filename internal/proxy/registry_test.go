package proxy

import (
	"sync"
	"testing"
	"time"
)

// fakeTime is an injectable clock, following the teacher's pattern for
// deterministic health-state tests.
type fakeTime struct {
	mu      sync.Mutex
	current time.Time
}

func newFakeTime() *fakeTime {
	return &fakeTime{current: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

func testProviders() []Provider {
	return []Provider{
		{Name: "a", Token: "tok-a", BaseURL: "https://a.example.com", KeyType: KeyTypeAuthToken, Preferred: true},
		{Name: "b", Token: "tok-b", BaseURL: "https://b.example.com", KeyType: KeyTypeAuthToken},
	}
}

func newTestRegistry(t *testing.T, providers []Provider) (*Registry, *fakeTime) {
	t.Helper()
	ft := newFakeTime()
	r, err := NewRegistry(providers, withClock(ft.Now))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r, ft
}

func TestNewRegistry_EmptyIsError(t *testing.T) {
	if _, err := NewRegistry(nil); err != ErrNoProviders {
		t.Fatalf("got %v, want ErrNoProviders", err)
	}
}

func TestNewRegistry_InitialScoresAndPreferred(t *testing.T) {
	r, _ := newTestRegistry(t, testProviders())
	snaps := r.Snapshot()
	if len(snaps) != 2 {
		t.Fatalf("len(snaps) = %d, want 2", len(snaps))
	}
	for _, s := range snaps {
		if s.Score != 100 {
			t.Errorf("provider %s score = %d, want 100", s.Name, s.Score)
		}
	}
	if r.PreferredName() != "a" {
		t.Errorf("PreferredName() = %q, want a", r.PreferredName())
	}
}

func TestNewRegistry_MultiplePreferredDemotesExtras(t *testing.T) {
	providers := testProviders()
	providers[1].Preferred = true // two preferred=true entries

	r, _ := newTestRegistry(t, providers)
	if r.PreferredName() != "a" {
		t.Fatalf("PreferredName() = %q, want a (first wins)", r.PreferredName())
	}

	snaps := r.Snapshot()
	count := 0
	for _, s := range snaps {
		if s.Preferred {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("preferred count = %d, want 1", count)
	}
}

func TestRecordSuccess_SaturatesAt100(t *testing.T) {
	r, _ := newTestRegistry(t, testProviders())
	for range 10 {
		r.RecordSuccess("a")
	}
	snaps := r.Snapshot()
	for _, s := range snaps {
		if s.Name == "a" && s.Score != 100 {
			t.Fatalf("score = %d, want 100", s.Score)
		}
	}
}

func TestRecordFailure_SaturatesAt0(t *testing.T) {
	r, _ := newTestRegistry(t, testProviders())
	for range 20 {
		r.RecordFailure("a")
	}
	for _, s := range r.Snapshot() {
		if s.Name == "a" && s.Score != 0 {
			t.Fatalf("score = %d, want 0", s.Score)
		}
	}
}

func TestRecordFailure_ThenTwoSuccesses_IncreasesBy10(t *testing.T) {
	// Round-trip law (spec.md §8): a failure followed by exactly two
	// successes strictly increases score by 10, bounded at 100. Drive
	// the provider well below the ceiling first so the +10 isn't
	// masked by saturation.
	r, _ := newTestRegistry(t, testProviders())
	for range 3 {
		r.RecordFailure("b") // 100 -> 90 -> 80 -> 70
	}
	before := scoreOf(t, r, "b")

	r.RecordFailure("b")
	r.RecordSuccess("b")
	r.RecordSuccess("b")
	after := scoreOf(t, r, "b")

	if after != before {
		t.Fatalf("after = %d, want %d (net -10+5+5=0 from %d)", after, before, before)
	}
}

func scoreOf(t *testing.T, r *Registry, name string) int {
	t.Helper()
	for _, s := range r.Snapshot() {
		if s.Name == name {
			return s.Score
		}
	}
	t.Fatalf("provider %s not found", name)
	return 0
}

func TestIdleRecovery_MonotoneAndRestoresToAtLeast50(t *testing.T) {
	r, ft := newTestRegistry(t, testProviders())
	for range 20 {
		r.RecordFailure("a") // drive to 0
	}
	if scoreOf(t, r, "a") != 0 {
		t.Fatalf("expected score 0 before idle recovery")
	}

	ft.Advance(idleRecoveryAfter)
	r.IdleRecovery(ft.Now())

	got := scoreOf(t, r, "a")
	if got < idleRecoveryFloor {
		t.Fatalf("score after idle recovery = %d, want >= %d", got, idleRecoveryFloor)
	}
}

func TestIdleRecovery_NeverDecreasesScore(t *testing.T) {
	r, ft := newTestRegistry(t, testProviders())
	// "a" is already at 100; idle recovery after a long time must not
	// lower it.
	ft.Advance(idleRecoveryAfter * 10)
	r.IdleRecovery(ft.Now())
	if got := scoreOf(t, r, "a"); got != 100 {
		t.Fatalf("score = %d, want 100 (idle recovery must never decrease)", got)
	}
}

func TestSetPreferred_InvokesPersistOnTransition(t *testing.T) {
	var persisted []Provider
	calls := 0
	ft := newFakeTime()
	r, err := NewRegistry(testProviders(), withClock(ft.Now), WithPersist(func(p []Provider) error {
		calls++
		persisted = p
		return nil
	}))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if err := r.SetPreferred("b"); err != nil {
		t.Fatalf("SetPreferred: %v", err)
	}
	if calls != 1 {
		t.Fatalf("persist called %d times, want 1", calls)
	}
	if r.PreferredName() != "b" {
		t.Fatalf("PreferredName() = %q, want b", r.PreferredName())
	}

	foundB := false
	for _, p := range persisted {
		if p.Name == "b" && !p.Preferred {
			t.Fatalf("persisted provider b should be preferred")
		}
		if p.Name == "b" {
			foundB = true
		}
		if p.Name == "a" && p.Preferred {
			t.Fatalf("persisted provider a should no longer be preferred")
		}
	}
	if !foundB {
		t.Fatalf("persisted list missing provider b")
	}
}

func TestSetPreferred_UnknownProviderErrors(t *testing.T) {
	r, _ := newTestRegistry(t, testProviders())
	if err := r.SetPreferred("nope"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestSetPreferred_PersistFailureDoesNotRevertInMemoryState(t *testing.T) {
	ft := newFakeTime()
	r, err := NewRegistry(testProviders(), withClock(ft.Now), WithPersist(func([]Provider) error {
		return errUnwritable
	}))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	err = r.SetPreferred("b")
	if err == nil {
		t.Fatal("expected persist error to propagate")
	}
	if r.PreferredName() != "b" {
		t.Fatalf("in-memory preferred should stand despite persist failure, got %q", r.PreferredName())
	}
}

// AtMostOnePreferred verifies spec.md invariant 3 holds after a batch
// of SetPreferred calls.
func TestInvariant_AtMostOnePreferred(t *testing.T) {
	providers := []Provider{
		{Name: "a", Token: "t", BaseURL: "https://a", Preferred: true},
		{Name: "b", Token: "t", BaseURL: "https://b"},
		{Name: "c", Token: "t", BaseURL: "https://c"},
	}
	r, _ := newTestRegistry(t, providers)

	for _, name := range []string{"b", "c", "a", "c"} {
		if err := r.SetPreferred(name); err != nil {
			t.Fatalf("SetPreferred(%s): %v", name, err)
		}
		count := 0
		for _, s := range r.Snapshot() {
			if s.Preferred {
				count++
			}
		}
		if count > 1 {
			t.Fatalf("preferred count = %d after SetPreferred(%s), want <= 1", count, name)
		}
	}
}

var errUnwritable = errWriteFailure("simulated persistence failure")

type errWriteFailure string

func (e errWriteFailure) Error() string { return string(e) }
