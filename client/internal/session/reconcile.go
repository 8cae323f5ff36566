package session

import (
	"github.com/huddle-chat/huddle/client/internal/auth"
	"github.com/huddle-chat/huddle/client/internal/conn"
)

// Pair is the (identity, room) the client wants to be connected as.
type Pair struct {
	Identity auth.Identity
	Room     string
}

// Valid reports whether both halves are present.
func (p Pair) Valid() bool {
	return !p.Identity.IsZero() && p.Room != ""
}

// Action is what the controller must do to move from one pair to another.
type Action int

const (
	Noop     Action = iota
	Start           // connect next
	Restart         // tear down prev, then connect next
	Teardown        // tear down prev, connect nothing
)

func (a Action) String() string {
	switch a {
	case Noop:
		return "noop"
	case Start:
		return "start"
	case Restart:
		return "restart"
	case Teardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// Reconcile decides the action for a requested change from prev to next
// given the connection's current state. It is idempotent: re-evaluating an
// unchanged valid pair never reconnects, including from Failed, which needs
// an explicit retry.
func Reconcile(prev Pair, state conn.State, next Pair) Action {
	active := prev.Valid() && state != conn.Idle

	if !next.Valid() {
		if active {
			return Teardown
		}
		return Noop
	}
	if next == prev {
		if state == conn.Idle {
			return Start
		}
		return Noop
	}
	if active {
		return Restart
	}
	return Start
}
