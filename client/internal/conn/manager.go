// Package conn owns the single authenticated event connection of a chat
// session and runs its connect/reconnect/teardown state machine.
//
// Every transition runs on one event-loop goroutine. Token exchange, dialing
// and reading happen on helper goroutines that post their results back to the
// loop, tagged with the epoch captured when the attempt began; a result from
// an older epoch is discarded and any connection it carries is closed. The
// in-flight flag therefore needs no lock: it is only touched by the loop.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/huddle-chat/huddle/client/internal/auth"
	"github.com/huddle-chat/huddle/client/internal/transport"
	"github.com/huddle-chat/huddle/pkg/protocol"
)

// Event is an inbound frame delivered to subscribers.
type Event struct {
	Name   string
	Data   json.RawMessage
	Room   string
	ConnID uint64
	SelfID string // sender id the collaborator assigned to this client
}

// Handler receives events on the manager's loop goroutine. It must not block
// and must not call back into the Manager.
type Handler func(Event)

// Emitter writes an outbound event on the current connection.
type Emitter interface {
	Emit(event string, payload any) error
}

// Lifecycle is notified, on the loop goroutine, as connections open and close.
type Lifecycle interface {
	// Opened runs before the manager reports Connected. An error aborts the
	// connection as if the transport had dropped.
	Opened(connID uint64, room string, e Emitter) error
	// Closing runs before an intentional close while the transport is open.
	Closing(connID uint64, room string, e Emitter)
	// Closed runs after the transport is gone, for any reason.
	Closed(connID uint64)
}

// Options configures a Manager.
type Options struct {
	URL               string
	ConnectTimeout    time.Duration
	ReconnectInterval time.Duration
	MaxReconnectDelay time.Duration
}

type subscription struct {
	id    uint64
	event string // "*" matches every event
	fn    Handler
}

// Manager owns at most one live transport connection.
type Manager struct {
	opts   Options
	auth   auth.Exchanger
	dialer transport.Dialer
	life   Lifecycle
	logger *slog.Logger
	now    func() time.Time

	cmds      chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	state         State
	inFlight      bool
	epoch         uint64
	connSeq       uint64
	identity      auth.Identity
	room          string
	token         *auth.Token
	tokenOwner    auth.Identity
	conn          transport.Conn
	cancelAttempt context.CancelFunc
	retry         *time.Timer
	attempt       int
	subs          []subscription
	nextSubID     uint64
	watchers      map[uint64]func(Change)
	nextWatchID   uint64
}

// NewManager creates a manager and starts its event loop. life may be nil.
func NewManager(opts Options, ex auth.Exchanger, dialer transport.Dialer, life Lifecycle, logger *slog.Logger) *Manager {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 20 * time.Second
	}
	if opts.ReconnectInterval == 0 {
		opts.ReconnectInterval = time.Second
	}
	if opts.MaxReconnectDelay == 0 {
		opts.MaxReconnectDelay = 5 * time.Second
	}

	m := &Manager{
		opts:     opts,
		auth:     ex,
		dialer:   dialer,
		life:     life,
		logger:   logger.With("component", "conn"),
		now:      time.Now,
		cmds:     make(chan func(), 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		watchers: make(map[uint64]func(Change)),
	}
	go m.run()
	return m
}

func (m *Manager) run() {
	defer close(m.stopped)
	for {
		select {
		case fn := <-m.cmds:
			fn()
		case <-m.quit:
			m.stop()
			return
		}
	}
}

// post queues fn on the loop. It reports false once the manager is closed.
func (m *Manager) post(fn func()) bool {
	select {
	case m.cmds <- fn:
		return true
	case <-m.quit:
		return false
	}
}

// do runs fn on the loop and waits for its result.
func (m *Manager) do(fn func() error) error {
	errCh := make(chan error, 1)
	if !m.post(func() { errCh <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-m.stopped:
		return ErrClosed
	}
}

// Start begins connecting id to room. Re-invoking it for the pair that is
// already connected or in flight is a no-op. Starting a different pair
// requires Stop first and otherwise fails with ErrBusy.
func (m *Manager) Start(id auth.Identity, room string) error {
	return m.do(func() error { return m.start(id, room) })
}

func (m *Manager) start(id auth.Identity, room string) error {
	same := m.identity == id && m.room == room

	if m.inFlight {
		if same {
			m.logger.Debug("start ignored, attempt in flight", "room", room)
			return nil
		}
		return ErrBusy
	}

	switch m.state {
	case Connected:
		if same {
			return nil
		}
		return ErrBusy
	case Disconnected, Failed:
		if !same {
			return ErrBusy
		}
		// Explicit restart supersedes any scheduled retry.
		m.stopRetry()
	case Idle:
		m.identity = id
		m.room = room
	}

	if m.tokenOwner != id {
		m.token = nil
	}
	m.epoch++
	m.attempt = 0
	m.beginAttempt()
	return nil
}

// beginAttempt sets the in-flight flag before any suspension, then exchanges
// and dials off-loop.
func (m *Manager) beginAttempt() {
	m.inFlight = true
	m.notify(Change{State: Connecting})

	epoch := m.epoch
	id := m.identity
	var cached *auth.Token
	if m.token != nil {
		t := *m.token
		cached = &t
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ConnectTimeout)
	m.cancelAttempt = cancel

	go func() {
		defer cancel()
		c, tok, fresh, err := m.open(ctx, id, cached)
		if !m.post(func() { m.opened(epoch, c, tok, fresh, err) }) && c != nil {
			_ = c.Close()
		}
	}()
}

// open runs off-loop: it exchanges a token when needed and dials.
func (m *Manager) open(ctx context.Context, id auth.Identity, cached *auth.Token) (transport.Conn, auth.Token, bool, error) {
	tok := cached
	fresh := false
	if tok == nil || tok.Expired(m.now()) {
		t, err := m.auth.Exchange(ctx, id)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, auth.Token{}, false, fmt.Errorf("%w: %w", ErrTimeout, err)
			}
			return nil, auth.Token{}, false, err
		}
		tok = &t
		fresh = true
	}

	c, err := m.dialer.Dial(ctx, m.opts.URL, tok.Value)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, *tok, fresh, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return nil, *tok, fresh, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return c, *tok, fresh, nil
}

func (m *Manager) opened(epoch uint64, c transport.Conn, tok auth.Token, fresh bool, err error) {
	if epoch != m.epoch {
		m.logger.Debug("discarding stale connection attempt")
		if c != nil {
			_ = c.Close()
		}
		return
	}
	m.cancelAttempt = nil
	m.inFlight = false

	if err != nil {
		m.emitLocal(protocol.EventConnectError, protocol.Error{Message: err.Error()})
		switch {
		case errors.Is(err, ErrTimeout):
			m.logger.Warn("connection attempt timed out", "room", m.room, "error", err)
			m.scheduleRetry(err)
		case errors.Is(err, auth.ErrAuthFailure):
			m.token = nil
			m.logger.Warn("token exchange failed", "room", m.room, "error", err)
			m.notify(Change{State: Failed, Err: err})
		case transport.TokenRejected(err):
			m.token = nil
			if fresh {
				// A token issued moments ago was refused; retrying cannot help.
				m.logger.Warn("fresh token rejected", "room", m.room, "error", err)
				m.notify(Change{State: Failed, Err: err})
				return
			}
			m.scheduleRetry(err)
		default:
			m.logger.Warn("connection attempt failed", "room", m.room, "error", err)
			m.scheduleRetry(err)
		}
		return
	}

	m.token = &tok
	m.tokenOwner = m.identity
	m.connSeq++
	m.conn = c
	id := m.connSeq

	if m.life != nil {
		if err := m.life.Opened(id, m.room, emitter{c}); err != nil {
			m.logger.Warn("connection setup failed", "room", m.room, "error", err)
			m.drop(fmt.Errorf("%w: %w", ErrTransport, err))
			return
		}
	}

	m.attempt = 0
	m.logger.Info("connected", "room", m.room, "conn_id", id)
	m.notify(Change{State: Connected})
	go m.readPump(epoch, id, c)
}

// readPump is the only reader of c, so frames reach the loop in receive order.
func (m *Manager) readPump(epoch, id uint64, c transport.Conn) {
	for {
		env, err := c.Read()
		if err != nil {
			if errors.Is(err, transport.ErrMalformed) {
				m.logger.Warn("ignoring frame", "error", fmt.Errorf("%w: %w", ErrProtocol, err))
				continue
			}
			m.post(func() { m.closed(epoch, id, err) })
			return
		}
		if !m.post(func() { m.deliver(epoch, id, env) }) {
			return
		}
	}
}

func (m *Manager) deliver(epoch, id uint64, env protocol.Envelope) {
	if epoch != m.epoch || id != m.connSeq || m.conn == nil {
		return
	}
	m.dispatch(Event{
		Name:   env.Event,
		Data:   env.Data,
		Room:   m.room,
		ConnID: id,
		SelfID: m.selfID(),
	})
}

func (m *Manager) dispatch(ev Event) {
	handled := false
	for _, s := range m.subs {
		if s.event == ev.Name || s.event == "*" {
			s.fn(ev)
			handled = true
		}
	}
	if !handled {
		m.logger.Debug("unhandled event", "event", ev.Name)
	}
}

// emitLocal delivers a synthesized event, such as connect_error.
func (m *Manager) emitLocal(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	m.dispatch(Event{Name: name, Data: data, Room: m.room, SelfID: m.selfID()})
}

func (m *Manager) selfID() string {
	if m.token == nil {
		return ""
	}
	return m.token.UserID
}

func (m *Manager) closed(epoch, id uint64, err error) {
	if epoch != m.epoch || id != m.connSeq || m.conn == nil {
		return
	}
	if transport.TokenRejected(err) {
		m.token = nil
	}
	if transport.Recoverable(err) {
		m.drop(fmt.Errorf("%w: %w", ErrTransport, err))
		return
	}

	m.logger.Info("server closed connection", "room", m.room, "error", err)
	m.release()
	m.notify(Change{State: Disconnected, Err: err})
}

// drop releases the current connection and schedules a reconnect.
func (m *Manager) drop(cause error) {
	m.release()
	m.scheduleRetry(cause)
}

func (m *Manager) release() {
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.inFlight = false
	if m.life != nil {
		m.life.Closed(m.connSeq)
	}
}

func (m *Manager) scheduleRetry(cause error) {
	delay := Backoff(m.attempt, m.opts.ReconnectInterval, m.opts.MaxReconnectDelay)
	m.attempt++
	epoch := m.epoch

	m.stopRetry()
	m.retry = time.AfterFunc(delay, func() {
		m.post(func() { m.retryNow(epoch) })
	})

	m.logger.Info("reconnecting", "room", m.room, "attempt", m.attempt, "delay", delay, "error", cause)
	m.notify(Change{State: Disconnected, Err: cause, Attempt: m.attempt, RetryIn: delay})
}

func (m *Manager) retryNow(epoch uint64) {
	if epoch != m.epoch || m.state != Disconnected || m.inFlight {
		return
	}
	m.retry = nil
	m.beginAttempt()
}

func (m *Manager) stopRetry() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

// Stop tears the session down: leave is emitted if connected, subscriptions
// are detached, the transport is closed, and any pending attempt or retry is
// abandoned. The manager ends Idle.
func (m *Manager) Stop() error {
	return m.do(func() error {
		m.stop()
		return nil
	})
}

func (m *Manager) stop() {
	m.stopRetry()
	if m.cancelAttempt != nil {
		m.cancelAttempt()
		m.cancelAttempt = nil
	}
	m.epoch++

	if m.conn != nil && m.life != nil {
		m.life.Closing(m.connSeq, m.room, emitter{m.conn})
	}
	m.subs = nil
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
		if m.life != nil {
			m.life.Closed(m.connSeq)
		}
	}

	m.inFlight = false
	m.room = ""
	m.identity = auth.Identity{}
	m.attempt = 0
	if m.state != Idle {
		m.notify(Change{State: Idle})
	}
}

// Send writes an event on the open connection. It fails with ErrNotConnected,
// without any I/O, unless the manager is Connected.
func (m *Manager) Send(event string, payload any) error {
	return m.do(func() error {
		if m.state != Connected || m.conn == nil {
			return ErrNotConnected
		}
		if err := (emitter{m.conn}).Emit(event, payload); err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return nil
	})
}

// Subscribe registers h for events named event ("*" for all). Subscriptions
// are detached by Stop. The returned function unsubscribes early.
func (m *Manager) Subscribe(event string, h Handler) (func(), error) {
	var id uint64
	err := m.do(func() error {
		m.nextSubID++
		id = m.nextSubID
		m.subs = append(m.subs, subscription{id: id, event: event, fn: h})
		return nil
	})
	if err != nil {
		return func() {}, err
	}
	return func() {
		m.post(func() {
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}, nil
}

// Watch registers fn for state changes. fn runs on the loop goroutine and
// must not block or call back into the Manager.
func (m *Manager) Watch(fn func(Change)) (func(), error) {
	var id uint64
	err := m.do(func() error {
		m.nextWatchID++
		id = m.nextWatchID
		m.watchers[id] = fn
		return nil
	})
	if err != nil {
		return func() {}, err
	}
	return func() {
		m.post(func() { delete(m.watchers, id) })
	}, nil
}

func (m *Manager) notify(c Change) {
	m.state = c.State
	c.Room = m.room
	for _, fn := range m.watchers {
		fn(c)
	}
}

// State returns the current state.
func (m *Manager) State() State {
	var s State
	if err := m.do(func() error { s = m.state; return nil }); err != nil {
		return Idle
	}
	return s
}

// Close stops the session and the event loop.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.quit)
		<-m.stopped
	})
}

type emitter struct {
	c transport.Conn
}

func (e emitter) Emit(event string, payload any) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return e.c.Write(env)
}
