package provider

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a controllable time source for breaker and window tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, cooldown time.Duration) (*breaker, *fakeClock) {
	clock := newFakeClock()
	b := newBreaker(HealthConfig{FailureThreshold: threshold, Cooldown: cooldown})
	b.now = clock.Now
	return b, clock
}

func TestBreaker_OpensExactlyAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure(false)
		if got := b.State(); got != CircuitClosed {
			t.Fatalf("after %d failures: state = %v, want closed", i+1, got)
		}
	}

	b.RecordFailure(false)
	if got := b.State(); got != CircuitOpen {
		t.Fatalf("after 3 failures: state = %v, want open", got)
	}
	if got := b.Failures(); got != 3 {
		t.Fatalf("failures = %d, want 3", got)
	}
}

func TestBreaker_OpenRejectsUntilCooldown(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)
	b.RecordFailure(false)

	if ok, _ := b.Allow(); ok {
		t.Fatal("open circuit admitted a call before cooldown")
	}

	clock.Advance(59 * time.Second)
	if ok, _ := b.Allow(); ok {
		t.Fatal("open circuit admitted a call 1s before cooldown elapsed")
	}

	clock.Advance(time.Second)
	ok, probe := b.Allow()
	if !ok || !probe {
		t.Fatalf("Allow after cooldown = (%v, %v), want (true, true)", ok, probe)
	}
	if got := b.State(); got != CircuitHalfOpen {
		t.Fatalf("state = %v, want half_open", got)
	}
}

func TestBreaker_SingleProbeWhileHalfOpen(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)
	b.RecordFailure(false)
	clock.Advance(time.Minute)

	var mu sync.Mutex
	admitted := 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, probe := b.Allow(); ok {
				if !probe {
					t.Error("half-open admission without probe flag")
				}
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Fatalf("admitted %d concurrent probes, want exactly 1", admitted)
	}

	// Others stay rejected until the probe resolves.
	if ok, _ := b.Allow(); ok {
		t.Fatal("second probe admitted while first is in flight")
	}

	b.RecordSuccess(true)
	if got := b.State(); got != CircuitClosed {
		t.Fatalf("state after probe success = %v, want closed", got)
	}
	if got := b.Failures(); got != 0 {
		t.Fatalf("failures after probe success = %d, want 0", got)
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)
	b.RecordFailure(false)
	clock.Advance(time.Minute)

	if ok, probe := b.Allow(); !ok || !probe {
		t.Fatal("probe not admitted after cooldown")
	}
	b.RecordFailure(true)

	if got := b.State(); got != CircuitOpen {
		t.Fatalf("state after probe failure = %v, want open", got)
	}

	// openedAt was reset: a full cooldown is required again.
	clock.Advance(30 * time.Second)
	if ok, _ := b.Allow(); ok {
		t.Fatal("reopened circuit admitted a call before the new cooldown elapsed")
	}
	clock.Advance(30 * time.Second)
	if ok, probe := b.Allow(); !ok || !probe {
		t.Fatal("probe not admitted after the new cooldown")
	}
}

func TestBreaker_ReleaseProbeWithoutVerdict(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)
	b.RecordFailure(false)
	clock.Advance(time.Minute)

	if ok, _ := b.Allow(); !ok {
		t.Fatal("probe not admitted")
	}
	b.ReleaseProbe()

	// The slot is free again for the next caller.
	if ok, probe := b.Allow(); !ok || !probe {
		t.Fatal("probe slot not released")
	}
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)

	var transitions []string
	b.onStateChange = func(from, to CircuitState) {
		transitions = append(transitions, from.String()+">"+to.String())
	}

	b.RecordFailure(false)
	b.RecordFailure(false) // closed > open
	clock.Advance(time.Minute)
	b.Allow()             // open > half_open
	b.RecordSuccess(true) // half_open > closed

	want := []string{"closed>open", "open>half_open", "half_open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transition %d = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure(false)
	b.RecordFailure(false)
	b.RecordSuccess(false)

	// Two more failures must not open the circuit: the count restarted.
	b.RecordFailure(false)
	b.RecordFailure(false)
	if got := b.State(); got != CircuitClosed {
		t.Fatalf("state = %v, want closed after reset", got)
	}
}

func TestBreaker_LateSuccessDoesNotCloseOpenCircuit(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)

	b.RecordFailure(false)
	b.RecordFailure(false)
	if got := b.State(); got != CircuitOpen {
		t.Fatalf("state = %v, want open", got)
	}

	// A stream that committed before the circuit opened finishes now. Its
	// verdict must not bypass the cooldown.
	b.RecordSuccess(false)
	if got := b.State(); got != CircuitOpen {
		t.Fatalf("state after late success = %v, want open", got)
	}
	if ok, _ := b.Allow(); ok {
		t.Fatal("open circuit admitted a call before cooldown")
	}

	// Recovery still runs through the probe.
	clock.Advance(time.Minute)
	ok, probe := b.Allow()
	if !ok || !probe {
		t.Fatalf("Allow after cooldown = (%v, %v), want (true, true)", ok, probe)
	}
	b.RecordSuccess(true)
	if got := b.State(); got != CircuitClosed {
		t.Fatalf("state after probe success = %v, want closed", got)
	}
}
