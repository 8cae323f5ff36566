// Package session reconciles the requested (identity, room) pair with the
// live connection and routes inbound events to the message stream, the agent
// status tracker and the room roster.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/huddle-chat/huddle/client/internal/agentstatus"
	"github.com/huddle-chat/huddle/client/internal/auth"
	"github.com/huddle-chat/huddle/client/internal/conn"
	"github.com/huddle-chat/huddle/client/internal/eventbus"
	"github.com/huddle-chat/huddle/client/internal/room"
	"github.com/huddle-chat/huddle/client/internal/stream"
	"github.com/huddle-chat/huddle/pkg/protocol"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrNoRoom       = errors.New("no room selected")
)

// Connection is the part of *conn.Manager the controller drives.
type Connection interface {
	Start(id auth.Identity, room string) error
	Stop() error
	Send(event string, payload any) error
	Subscribe(event string, h conn.Handler) (func(), error)
	Watch(fn func(conn.Change)) (func(), error)
	State() conn.State
}

// Options configures a Controller.
type Options struct {
	AgentFailureTimeout time.Duration
}

// View is a point-in-time copy of the session for presentation.
type View struct {
	Pair     Pair
	State    conn.State
	Messages []stream.Message
	Agent    agentstatus.Status
	Members  []room.Member
}

// Controller owns the session's derived state. Its methods are safe for
// concurrent use.
type Controller struct {
	conn    Connection
	room    *room.Session
	bus     *eventbus.Bus
	logger  *slog.Logger
	stream  *stream.Stream
	agent   *agentstatus.Tracker
	unwatch func()

	mu         sync.Mutex
	cur        Pair
	streamRoom string // room the stream contents belong to
}

// New creates a controller. rs must be the lifecycle the connection was built
// with. bus may be nil.
func New(c Connection, rs *room.Session, bus *eventbus.Bus, opts Options, logger *slog.Logger) (*Controller, error) {
	ctl := &Controller{
		conn:   c,
		room:   rs,
		bus:    bus,
		logger: logger.With("component", "session"),
		stream: stream.New(),
	}
	ctl.agent = agentstatus.New(opts.AgentFailureTimeout, func(s agentstatus.Status) {
		ctl.publish(eventbus.AgentStatus, s)
	})

	unwatch, err := c.Watch(func(ch conn.Change) {
		ctl.publish(eventbus.ConnectionState, ch)
	})
	if err != nil {
		return nil, fmt.Errorf("watch connection: %w", err)
	}
	ctl.unwatch = unwatch
	return ctl, nil
}

// Update requests the given identity and room. Either may be empty, which
// tears down any active session.
func (c *Controller) Update(id auth.Identity, roomCode string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.update(Pair{Identity: id, Room: roomCode})
}

func (c *Controller) update(next Pair) error {
	prev := c.cur
	act := Reconcile(prev, c.conn.State(), next)
	c.logger.Debug("reconcile", "action", act.String(), "from", prev.Room, "to", next.Room)

	switch act {
	case Noop:
		if !next.Valid() {
			c.cur = next
		}
		return nil
	case Teardown:
		c.teardown(next.Room)
		c.cur = next
		return nil
	case Restart:
		c.teardown(next.Room)
	}

	c.cur = next
	if err := c.start(next); err != nil {
		return err
	}
	return nil
}

// teardown cancels the agent countdown, stops the connection (leave, detach,
// close), and resets the stream only if the room changes.
func (c *Controller) teardown(nextRoom string) {
	c.agent.Cancel()
	if err := c.conn.Stop(); err != nil {
		c.logger.Warn("stop failed", "error", err)
	}
	c.enterRoom(nextRoom)
}

func (c *Controller) start(p Pair) error {
	c.enterRoom(p.Room)

	// Leaves the manager Idle with no handlers attached.
	if err := c.conn.Stop(); err != nil {
		return err
	}
	if err := c.subscribe(); err != nil {
		return err
	}
	if err := c.conn.Start(p.Identity, p.Room); err != nil {
		return fmt.Errorf("start %s: %w", p.Room, err)
	}
	return nil
}

func (c *Controller) enterRoom(code string) {
	if code == c.streamRoom {
		return
	}
	from := c.streamRoom
	c.streamRoom = code
	c.logger.Debug("room changed", "from", from, "to", code, "discarded", c.stream.Len())
	c.stream.Reset()
	c.agent.Reset()
	c.room.Reset()
	c.publish(eventbus.RoomReset, eventbus.RoomChange{From: from, To: code})
}

func (c *Controller) subscribe() error {
	handlers := []struct {
		event string
		fn    conn.Handler
	}{
		{protocol.EventNewMessage, c.onMessage},
		{protocol.EventUserJoined, c.onPresence},
		{protocol.EventUserLeft, c.onPresence},
		{protocol.EventAgentStatus, c.onAgentStatus},
		{protocol.EventError, c.onServerError},
		{protocol.EventConnectError, c.onConnectError},
	}
	for _, h := range handlers {
		if _, err := c.conn.Subscribe(h.event, h.fn); err != nil {
			return fmt.Errorf("subscribe %s: %w", h.event, err)
		}
	}
	return nil
}

// Handlers run on the connection's loop goroutine and must not take c.mu.

func (c *Controller) onMessage(ev conn.Event) {
	msg, err := stream.Decode(ev.Data, ev.SelfID, time.Now())
	if err != nil {
		c.logger.Warn("dropping message", "room", ev.Room, "error", fmt.Errorf("%w: %w", conn.ErrProtocol, err))
		return
	}
	c.stream.Append(msg)
	c.publish(eventbus.MessageNew, msg)
}

func (c *Controller) onPresence(ev conn.Event) {
	m, joined, err := c.room.ApplyPresence(ev.Name, ev.Data)
	if err != nil {
		c.logger.Warn("dropping presence", "room", ev.Room, "error", fmt.Errorf("%w: %w", conn.ErrProtocol, err))
		return
	}
	if joined {
		c.publish(eventbus.MemberJoined, m)
	} else {
		c.publish(eventbus.MemberLeft, m)
	}
}

func (c *Controller) onAgentStatus(ev conn.Event) {
	if err := c.agent.Apply(ev.Data); err != nil {
		c.logger.Warn("dropping agent status", "room", ev.Room, "error", fmt.Errorf("%w: %w", conn.ErrProtocol, err))
	}
}

func (c *Controller) onServerError(ev conn.Event) {
	var e protocol.Error
	if err := (protocol.Envelope{Event: ev.Name, Data: ev.Data}).Decode(&e); err != nil {
		c.logger.Warn("dropping error frame", "room", ev.Room, "error", fmt.Errorf("%w: %w", conn.ErrProtocol, err))
		return
	}
	c.logger.Warn("server error", "room", ev.Room, "message", e.Message)
	c.publish(eventbus.ServerError, e.Message)
}

func (c *Controller) onConnectError(ev conn.Event) {
	var e protocol.Error
	_ = (protocol.Envelope{Event: ev.Name, Data: ev.Data}).Decode(&e)
	c.logger.Debug("connect error", "room", ev.Room, "message", e.Message)
}

// SendMessage posts text to the current room. It fails fast with
// conn.ErrNotConnected when the connection is not up.
func (c *Controller) SendMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	p := c.cur
	c.mu.Unlock()
	if !p.Valid() {
		return conn.ErrNotConnected
	}
	return c.conn.Send(protocol.EventSendMessage, protocol.SendMessage{RoomCode: p.Room, Message: text})
}

// LeaveRoom tears down the current room and keeps the identity.
func (c *Controller) LeaveRoom() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.update(Pair{Identity: c.cur.Identity})
}

// Retry reconnects the current pair after a failure or a server-initiated
// disconnect. It is a no-op while connecting or connected.
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cur.Valid() {
		return ErrNoRoom
	}
	switch c.conn.State() {
	case conn.Failed, conn.Disconnected:
		c.logger.Info("retrying", "room", c.cur.Room)
		return c.conn.Start(c.cur.Identity, c.cur.Room)
	case conn.Idle:
		return c.start(c.cur)
	}
	return nil
}

// Snapshot returns the current view.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	p := c.cur
	c.mu.Unlock()
	return View{
		Pair:     p,
		State:    c.conn.State(),
		Messages: c.stream.Snapshot(),
		Agent:    c.agent.Current(),
		Members:  c.room.Members(),
	}
}

// Close tears the session down and stops watching the connection.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agent.Cancel()
	if err := c.conn.Stop(); err != nil && !errors.Is(err, conn.ErrClosed) {
		c.logger.Warn("stop failed", "error", err)
	}
	c.unwatch()
	c.cur = Pair{}
}

func (c *Controller) publish(topic string, payload any) {
	if c.bus != nil {
		c.bus.Publish(topic, payload)
	}
}
