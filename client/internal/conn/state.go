package conn

import (
	"errors"
	"time"
)

// State is the connection lifecycle state.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Disconnected
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Change describes a state transition.
type Change struct {
	State   State
	Room    string
	Err     error         // cause of a Disconnected or Failed transition
	Attempt int           // automatic reconnect attempt number, 0 if none scheduled
	RetryIn time.Duration // delay before the scheduled reconnect attempt
}

// Error taxonomy.
var (
	ErrNotConnected = errors.New("not connected")
	ErrBusy         = errors.New("another room or identity is active; stop first")
	ErrTransport    = errors.New("transport error")
	ErrTimeout      = errors.New("connection attempt timed out")
	ErrProtocol     = errors.New("protocol error")
	ErrClosed       = errors.New("connection manager closed")
)

// Backoff returns the delay before reconnect attempt n (0-based): base doubled
// n times, capped at max. The sequence is non-decreasing.
func Backoff(n int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return max
	}
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
