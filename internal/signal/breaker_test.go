package signal

import (
	"errors"
	"testing"
	"time"
)

// fakeClock lets breaker tests step past the reset timeout without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, reset time.Duration) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(maxFailures, reset)
	b.now = clk.now
	return b, clk
}

var errFail = errors.New("fail")

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	if b.CurrentState() != StateClosed {
		t.Errorf("expected Closed, got %v", b.CurrentState())
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if b.CurrentState() != StateOpen {
		t.Errorf("expected Open after 3 failures, got %v", b.CurrentState())
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clk := newTestBreaker(2, time.Second)
	for i := 0; i < 2; i++ {
		b.Execute(func() error { return errFail })
	}
	clk.advance(2 * time.Second)

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if b.CurrentState() != StateClosed {
		t.Errorf("expected Closed after successful probe, got %v", b.CurrentState())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(2, time.Second)
	for i := 0; i < 2; i++ {
		b.Execute(func() error { return errFail })
	}
	clk.advance(2 * time.Second)
	b.Execute(func() error { return errFail })

	if b.CurrentState() != StateOpen {
		t.Errorf("expected Open after failed probe, got %v", b.CurrentState())
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	b.Execute(func() error { return errFail })
	b.Execute(func() error { return errFail })
	b.Execute(func() error { return nil })
	b.Execute(func() error { return errFail })
	b.Execute(func() error { return errFail })

	if b.CurrentState() != StateClosed {
		t.Errorf("expected Closed (counter should have reset), got %v", b.CurrentState())
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	var transitions []BreakerState
	b, clk := newTestBreaker(1, time.Second)
	b.OnStateChange = func(from, to BreakerState) {
		transitions = append(transitions, to)
	}

	b.Execute(func() error { return errFail })
	clk.advance(2 * time.Second)
	b.Execute(func() error { return nil })

	want := []BreakerState{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: got %v, want %v", i, transitions[i], want[i])
		}
	}
}
