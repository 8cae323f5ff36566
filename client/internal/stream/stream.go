// Package stream holds the ordered chat messages of the current room.
package stream

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/huddle-chat/huddle/pkg/protocol"
)

// Message is one received chat message.
type Message struct {
	SenderID   string
	SenderName string
	Body       string
	IsSelf     bool
	IsAgent    bool
	ReceivedAt time.Time
}

// Decode builds a Message from a new_message payload. selfID is the sender id
// assigned to this client; a match marks the message as the client's own, as
// does the server's is_self flag.
func Decode(data json.RawMessage, selfID string, at time.Time) (Message, error) {
	var nm protocol.NewMessage
	if err := (protocol.Envelope{Event: protocol.EventNewMessage, Data: data}).Decode(&nm); err != nil {
		return Message{}, err
	}
	id := nm.UserID.String()
	if id == "" {
		return Message{}, fmt.Errorf("%s: missing user_id", protocol.EventNewMessage)
	}
	return Message{
		SenderID:   id,
		SenderName: nm.Username,
		Body:       nm.Message,
		IsSelf:     nm.IsSelf || (selfID != "" && id == selfID),
		IsAgent:    id == protocol.AgentUserID,
		ReceivedAt: at,
	}, nil
}

// Stream is an append-only, arrival-ordered message list. Duplicates are kept.
type Stream struct {
	mu   sync.RWMutex
	msgs []Message
}

// New creates an empty stream.
func New() *Stream {
	return &Stream{}
}

func (s *Stream) Append(m Message) {
	s.mu.Lock()
	s.msgs = append(s.msgs, m)
	s.mu.Unlock()
}

// Reset drops every message.
func (s *Stream) Reset() {
	s.mu.Lock()
	s.msgs = nil
	s.mu.Unlock()
}

// Snapshot returns a copy of the messages in arrival order.
func (s *Stream) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of messages held.
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}
