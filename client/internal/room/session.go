// Package room binds a connection to a chat room: it joins on every new
// connection, leaves before an intentional disconnect, and keeps the member
// roster announced by the server.
package room

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/huddle-chat/huddle/client/internal/conn"
	"github.com/huddle-chat/huddle/pkg/protocol"
)

// Member is a room participant.
type Member struct {
	UserID string
	Name   string
}

// Session implements conn.Lifecycle for one client.
type Session struct {
	logger *slog.Logger

	mu       sync.Mutex
	joinedOn uint64 // connection id join_room was emitted on, 0 if none
	room     string
	members  map[string]Member
}

var _ conn.Lifecycle = (*Session)(nil)

// New creates a room session.
func New(logger *slog.Logger) *Session {
	return &Session{
		logger:  logger.With("component", "room"),
		members: make(map[string]Member),
	}
}

// Opened emits join_room once per connection.
func (s *Session) Opened(connID uint64, room string, e conn.Emitter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.joinedOn == connID {
		return nil
	}
	if room != s.room {
		s.members = make(map[string]Member)
		s.room = room
	}
	if err := e.Emit(protocol.EventJoinRoom, protocol.JoinRoom{RoomCode: room}); err != nil {
		return fmt.Errorf("join %s: %w", room, err)
	}
	s.joinedOn = connID
	s.logger.Debug("joined", "room", room, "conn_id", connID)
	return nil
}

// Closing emits leave_room if join_room was emitted on this connection.
func (s *Session) Closing(connID uint64, room string, e conn.Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if connID == 0 || s.joinedOn != connID {
		return
	}
	if err := e.Emit(protocol.EventLeaveRoom, protocol.LeaveRoom{RoomCode: room}); err != nil {
		s.logger.Warn("leave failed", "room", room, "error", err)
		return
	}
	s.logger.Debug("left", "room", room, "conn_id", connID)
}

func (s *Session) Closed(connID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joinedOn == connID {
		s.joinedOn = 0
	}
}

// Joined returns the connection id and room of the current join, if any.
func (s *Session) Joined() (uint64, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joinedOn == 0 {
		return 0, "", false
	}
	return s.joinedOn, s.room, true
}

// ApplyPresence updates the roster from a user_joined or user_left payload.
// It reports the member and whether they joined.
func (s *Session) ApplyPresence(event string, data json.RawMessage) (Member, bool, error) {
	var p protocol.UserPresence
	if err := (protocol.Envelope{Event: event, Data: data}).Decode(&p); err != nil {
		return Member{}, false, err
	}
	m := Member{UserID: p.UserID.String(), Name: p.Username}
	if m.UserID == "" {
		return Member{}, false, fmt.Errorf("%s: missing user_id", event)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch event {
	case protocol.EventUserJoined:
		s.members[m.UserID] = m
		return m, true, nil
	case protocol.EventUserLeft:
		if known, ok := s.members[m.UserID]; ok && m.Name == "" {
			m.Name = known.Name
		}
		delete(s.members, m.UserID)
		return m, false, nil
	default:
		return Member{}, false, fmt.Errorf("not a presence event: %s", event)
	}
}

// Members returns the roster sorted by name, then id.
func (s *Session) Members() []Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Reset forgets the room and its roster.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = ""
	s.members = make(map[string]Member)
}
