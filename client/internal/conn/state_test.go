package conn

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	base, max := time.Second, 5*time.Second
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for n, w := range want {
		if got := Backoff(n, base, max); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", n, got, w)
		}
	}
}

func TestBackoff_NonDecreasingAndCapped(t *testing.T) {
	base, max := 300*time.Millisecond, 7*time.Second
	prev := time.Duration(0)
	for n := 0; n < 200; n++ {
		d := Backoff(n, base, max)
		if d < prev {
			t.Fatalf("Backoff(%d) = %v decreased from %v", n, d, prev)
		}
		if d > max {
			t.Fatalf("Backoff(%d) = %v exceeds cap %v", n, d, max)
		}
		prev = d
	}
}

func TestBackoff_ZeroBase(t *testing.T) {
	if got := Backoff(3, 0, time.Second); got != time.Second {
		t.Errorf("expected cap for zero base, got %v", got)
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		Idle:         "idle",
		Connecting:   "connecting",
		Connected:    "connected",
		Disconnected: "disconnected",
		Failed:       "failed",
		State(99):    "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
