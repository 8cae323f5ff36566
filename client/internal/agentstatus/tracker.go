// Package agentstatus tracks the automated participant's turn status.
//
// Status is last-write-wins. A failed status arms a countdown; if nothing
// newer arrives before it fires, the status falls back to idle.
package agentstatus

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/huddle-chat/huddle/pkg/protocol"
)

// ErrUnknownStatus is returned by Apply for a status outside the known set.
var ErrUnknownStatus = errors.New("unknown agent status")

// DefaultFailureTimeout is how long a failed status is shown.
const DefaultFailureTimeout = 3 * time.Second

// Status is a snapshot of the agent's turn.
type Status struct {
	State  string // one of the protocol.Agent* values
	Detail string // failure reason, empty otherwise
	Since  time.Time
}

// Tracker holds the current Status.
type Tracker struct {
	timeout  time.Duration
	onChange func(Status)

	mu    sync.Mutex
	cur   Status
	gen   uint64
	timer *time.Timer
}

// New creates a tracker starting idle. onChange, if set, is called with the
// tracker locked after every change and must not call back into it.
func New(failureTimeout time.Duration, onChange func(Status)) *Tracker {
	if failureTimeout <= 0 {
		failureTimeout = DefaultFailureTimeout
	}
	return &Tracker{
		timeout:  failureTimeout,
		onChange: onChange,
		cur:      Status{State: protocol.AgentIdle, Since: time.Now()},
	}
}

// Set replaces the status and cancels any pending failure countdown.
func (t *Tracker) Set(state, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.disarm()
	if state != protocol.AgentFailed {
		detail = ""
	}
	t.change(Status{State: state, Detail: detail, Since: time.Now()})

	if state == protocol.AgentFailed {
		gen := t.gen
		t.timer = time.AfterFunc(t.timeout, func() { t.expire(gen) })
	}
}

// Apply decodes an agent_status payload and sets it.
func (t *Tracker) Apply(data json.RawMessage) error {
	var as protocol.AgentStatus
	if err := (protocol.Envelope{Event: protocol.EventAgentStatus, Data: data}).Decode(&as); err != nil {
		return err
	}
	switch as.Status {
	case protocol.AgentIdle, protocol.AgentThinking, protocol.AgentResponding, protocol.AgentFailed:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStatus, as.Status)
	}
	t.Set(as.Status, as.Error)
	return nil
}

func (t *Tracker) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || t.cur.State != protocol.AgentFailed {
		return
	}
	t.timer = nil
	t.change(Status{State: protocol.AgentIdle, Since: time.Now()})
}

// Cancel disarms a pending countdown without changing the status.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disarm()
}

// Reset disarms any countdown and returns to idle.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disarm()
	if t.cur.State != protocol.AgentIdle || t.cur.Detail != "" {
		t.change(Status{State: protocol.AgentIdle, Since: time.Now()})
	}
}

// Current returns the current status.
func (t *Tracker) Current() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}

// disarm invalidates any armed countdown. Caller holds mu.
func (t *Tracker) disarm() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Tracker) change(s Status) {
	t.cur = s
	if t.onChange != nil {
		t.onChange(s)
	}
}
