// Package eventbus fans session snapshots out to presentation-layer
// subscribers such as the chat TUI and the line-mode printer.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Topics published on the bus.
const (
	ConnectionState = "connection.state" // conn.Change
	MessageNew      = "message.new"      // stream.Message
	AgentStatus     = "agent.status"     // agentstatus.Status
	MemberJoined    = "member.joined"    // room.Member
	MemberLeft      = "member.left"      // room.Member
	RoomReset       = "room.reset"       // RoomChange
	ServerError     = "server.error"     // string
	LogEntry        = "log.entry"        // LogRecord
)

// RoomChange is the payload of RoomReset.
type RoomChange struct {
	From string
	To   string
}

// Event is one published item. Payload holds the topic's snapshot value.
type Event struct {
	Topic   string
	At      time.Time
	Payload any
}

// Subscription receives matching events on C until closed.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	topics  map[string]bool // nil matches every topic
	bus     *Bus
	dropped atomic.Uint64
}

// Dropped returns how many events this subscription missed because C was
// full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.bus.remove(s)
}

// Bus is a fan-out pub/sub bus. Publish never blocks: an event is dropped for
// any subscriber whose buffer is full.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	closed  bool
	dropped atomic.Uint64
	buffer  int
}

// New creates a bus whose subscriptions buffer up to buffer events
// (64 when buffer <= 0).
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

// Subscribe registers for the given topics, or for all topics when none are
// given. Subscribing to a closed bus yields an already closed channel.
func (b *Bus) Subscribe(topics ...string) *Subscription {
	ch := make(chan Event, b.buffer)
	s := &Subscription{C: ch, ch: ch, bus: b}
	if len(topics) > 0 {
		s.topics = make(map[string]bool, len(topics))
		for _, t := range topics {
			s.topics[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Publish delivers payload under topic to every matching subscriber.
func (b *Bus) Publish(topic string, payload any) {
	e := Event{Topic: topic, At: time.Now(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.topics != nil && !s.topics[topic] {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was
// full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close detaches every subscriber and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}
