// Package protocol defines the real-time events exchanged between huddle
// clients and the room server over WebSocket.
//
// Every frame is a JSON envelope carrying an event name and a payload whose
// shape is determined by that name.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Envelope is the wire format for every frame.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

// NewEnvelope marshals payload into an envelope for event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	env := Envelope{Event: event, Timestamp: time.Now()}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	env.Data = data
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Event, err)
	}
	return nil
}

// --- Client → server ---

// JoinRoom is sent once per connection, right after the transport opens.
type JoinRoom struct {
	RoomCode string `json:"room_code"`
}

// SendMessage posts a chat message to a joined room.
type SendMessage struct {
	RoomCode string `json:"room_code"`
	Message  string `json:"message"`
}

// LeaveRoom is sent before an intentional disconnect.
type LeaveRoom struct {
	RoomCode string `json:"room_code"`
}

// --- Server → client ---

// NewMessage is a chat message broadcast to the room.
type NewMessage struct {
	UserID   UserID `json:"user_id"`
	Message  string `json:"message"`
	Username string `json:"username,omitempty"`
	IsSelf   bool   `json:"is_self,omitempty"` // set per recipient by the server
}

// UserPresence is the payload of user_joined and user_left.
type UserPresence struct {
	UserID   UserID `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// AgentStatus reports the automated participant's turn status.
type AgentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Error is a server-reported problem, or a locally synthesized connect error.
type Error struct {
	Message string `json:"message"`
}

// AgentUserID is the sender id the server uses for agent messages.
const AgentUserID = "agent"

// CloseTokenExpired is the WebSocket close code the server uses when the
// bearer token of an open session expires.
const CloseTokenExpired = 4001

// Event names.
const (
	EventJoinRoom    = "join_room"
	EventSendMessage = "send_message"
	EventLeaveRoom   = "leave_room"

	EventNewMessage   = "new_message"
	EventUserJoined   = "user_joined"
	EventUserLeft     = "user_left"
	EventAgentStatus  = "agent_status"
	EventError        = "error"
	EventConnectError = "connect_error"
)

// Agent status values.
const (
	AgentIdle       = "idle"
	AgentThinking   = "thinking"
	AgentResponding = "responding"
	AgentFailed     = "failed"
)

// UserID is a sender identifier. Servers may encode it as a JSON string or a
// number; both decode to the same string form.
type UserID string

func (u *UserID) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		*u = UserID(val)
	case json.Number:
		// Integers keep every digit; other numbers keep their literal text.
		if n, err := val.Int64(); err == nil {
			*u = UserID(strconv.FormatInt(n, 10))
		} else {
			*u = UserID(val.String())
		}
	case nil:
		*u = ""
	default:
		return fmt.Errorf("invalid user id: %v", v)
	}
	return nil
}

func (u UserID) String() string { return string(u) }
