// Package conntest provides in-memory fakes of the token exchange and the
// event transport for testing code built on package conn.
package conntest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/huddle-chat/huddle/client/internal/auth"
	"github.com/huddle-chat/huddle/client/internal/transport"
	"github.com/huddle-chat/huddle/pkg/protocol"
)

// ErrConnClosed is returned by Read after Close.
var ErrConnClosed = errors.New("use of closed connection")

// Exchanger is a scripted auth.Exchanger.
type Exchanger struct {
	mu     sync.Mutex
	calls  int
	tokens []auth.Token // handed out in order; the last one repeats
	errs   []error      // consumed before tokens, one per call
	gate   chan struct{}
}

// NewExchanger returns an exchanger that issues the given tokens in order.
func NewExchanger(tokens ...auth.Token) *Exchanger {
	return &Exchanger{tokens: tokens}
}

// FailNext makes the next len(errs) calls fail with the given errors.
func (e *Exchanger) FailNext(errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, errs...)
}

// Hold makes calls block until Release or context cancellation.
func (e *Exchanger) Hold() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate = make(chan struct{})
}

// Release unblocks held calls.
func (e *Exchanger) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gate != nil {
		close(e.gate)
		e.gate = nil
	}
}

// Calls returns the number of Exchange calls so far.
func (e *Exchanger) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *Exchanger) Exchange(ctx context.Context, _ auth.Identity) (auth.Token, error) {
	e.mu.Lock()
	e.calls++
	n := e.calls
	gate := e.gate
	var err error
	if len(e.errs) > 0 {
		err, e.errs = e.errs[0], e.errs[1:]
	}
	e.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return auth.Token{}, fmt.Errorf("%w: %w", auth.ErrAuthFailure, ctx.Err())
		}
	}
	if err != nil {
		return auth.Token{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.tokens) == 0 {
		return auth.Token{Value: fmt.Sprintf("t%d", n)}, nil
	}
	i := n - 1
	if i >= len(e.tokens) {
		i = len(e.tokens) - 1
	}
	return e.tokens[i], nil
}

// Frame is one outbound envelope recorded across all connections.
type Frame struct {
	Conn  int // index of the connection in dial order
	Event string
	Env   protocol.Envelope
}

// Dialer is a transport.Dialer whose connections live in memory.
type Dialer struct {
	mu     sync.Mutex
	conns  []*Conn
	tokens []string
	errs   []error
	frames []Frame
	gate   chan struct{}
	dialed chan *Conn
}

// NewDialer creates a fake dialer.
func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Conn, 64)}
}

// FailNext makes the next len(errs) dials fail.
func (d *Dialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, errs...)
}

// Hold makes dials block until Release or context cancellation.
func (d *Dialer) Hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gate = make(chan struct{})
}

// Release unblocks held dials.
func (d *Dialer) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gate != nil {
		close(d.gate)
		d.gate = nil
	}
}

func (d *Dialer) Dial(ctx context.Context, _ string, token string) (transport.Conn, error) {
	d.mu.Lock()
	d.tokens = append(d.tokens, token)
	gate := d.gate
	var err error
	if len(d.errs) > 0 {
		err, d.errs = d.errs[0], d.errs[1:]
	}
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	c := &Conn{
		index:  len(d.conns),
		dialer: d,
		in:     make(chan inbound, 64),
		done:   make(chan struct{}),
	}
	d.conns = append(d.conns, c)
	d.mu.Unlock()

	d.dialed <- c
	return c, nil
}

// Dialed delivers each connection as it is opened.
func (d *Dialer) Dialed() <-chan *Conn { return d.dialed }

// Opened returns the number of connections opened successfully.
func (d *Dialer) Opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// Tokens returns the bearer tokens presented, one per dial attempt.
func (d *Dialer) Tokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}

// Frames returns every outbound frame across all connections, in write order.
func (d *Dialer) Frames() []Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Frame(nil), d.frames...)
}

// Live returns the number of opened connections not yet closed.
func (d *Dialer) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.conns {
		if !c.closed {
			n++
		}
	}
	return n
}

type inbound struct {
	env protocol.Envelope
	err error
}

// Conn is an in-memory transport.Conn.
type Conn struct {
	index  int
	dialer *Dialer
	in     chan inbound
	done   chan struct{}
	closed bool // guarded by dialer.mu
}

// Index is the connection's position in dial order.
func (c *Conn) Index() int { return c.index }

// Push queues an inbound event for Read.
func (c *Conn) Push(event string, payload any) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		panic(err)
	}
	c.in <- inbound{env: env}
}

// PushErr queues a read error, such as a malformed frame or a dropped link.
func (c *Conn) PushErr(err error) {
	c.in <- inbound{err: err}
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.dialer.mu.Lock()
	defer c.dialer.mu.Unlock()
	return c.closed
}

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Read() (protocol.Envelope, error) {
	select {
	case f := <-c.in:
		return f.env, f.err
	case <-c.done:
		return protocol.Envelope{}, ErrConnClosed
	}
}

func (c *Conn) Write(env protocol.Envelope) error {
	c.dialer.mu.Lock()
	defer c.dialer.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	c.dialer.frames = append(c.dialer.frames, Frame{Conn: c.index, Event: env.Event, Env: env})
	return nil
}

func (c *Conn) Close() error {
	c.dialer.mu.Lock()
	defer c.dialer.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}
