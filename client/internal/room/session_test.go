package room

import (
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/huddle-chat/huddle/client/internal/auth"
	"github.com/huddle-chat/huddle/client/internal/conn"
	"github.com/huddle-chat/huddle/client/internal/conn/conntest"
	"github.com/huddle-chat/huddle/pkg/protocol"
)

type fakeEmitter struct {
	events []string
	rooms  []string
	err    error
}

func (f *fakeEmitter) Emit(event string, payload any) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	switch p := payload.(type) {
	case protocol.JoinRoom:
		f.rooms = append(f.rooms, p.RoomCode)
	case protocol.LeaveRoom:
		f.rooms = append(f.rooms, p.RoomCode)
	}
	return nil
}

func TestSession_JoinOncePerConnection(t *testing.T) {
	s := New(slog.Default())
	e := &fakeEmitter{}

	for i := 0; i < 3; i++ {
		if err := s.Opened(1, "ABCD", e); err != nil {
			t.Fatalf("opened: %v", err)
		}
	}
	if len(e.events) != 1 || e.events[0] != protocol.EventJoinRoom {
		t.Fatalf("expected a single join, got %v", e.events)
	}

	s.Closed(1)
	if err := s.Opened(2, "ABCD", e); err != nil {
		t.Fatalf("opened: %v", err)
	}
	if len(e.events) != 2 {
		t.Fatalf("expected a join per connection, got %v", e.events)
	}
	if id, room, ok := s.Joined(); !ok || id != 2 || room != "ABCD" {
		t.Errorf("Joined() = %d %q %v", id, room, ok)
	}
}

func TestSession_LeaveOnlyIfJoinedOnSameConnection(t *testing.T) {
	s := New(slog.Default())
	e := &fakeEmitter{}

	// Never joined.
	s.Closing(1, "ABCD", e)
	if len(e.events) != 0 {
		t.Fatalf("leave without join: %v", e.events)
	}

	if err := s.Opened(1, "ABCD", e); err != nil {
		t.Fatalf("opened: %v", err)
	}
	// Different connection.
	s.Closing(2, "ABCD", e)
	if len(e.events) != 1 {
		t.Fatalf("leave on foreign connection: %v", e.events)
	}

	s.Closing(1, "ABCD", e)
	if len(e.events) != 2 || e.events[1] != protocol.EventLeaveRoom {
		t.Fatalf("expected join then leave, got %v", e.events)
	}

	s.Closed(1)
	if _, _, ok := s.Joined(); ok {
		t.Error("expected no join after close")
	}
	s.Closing(1, "ABCD", e)
	if len(e.events) != 2 {
		t.Errorf("leave after close: %v", e.events)
	}
}

func TestSession_JoinFailure(t *testing.T) {
	s := New(slog.Default())
	e := &fakeEmitter{err: errors.New("broken pipe")}

	if err := s.Opened(1, "ABCD", e); err == nil {
		t.Fatal("expected join error")
	}
	if _, _, ok := s.Joined(); ok {
		t.Error("failed join must not count as joined")
	}
}

func TestSession_Roster(t *testing.T) {
	s := New(slog.Default())
	if err := s.Opened(1, "ABCD", &fakeEmitter{}); err != nil {
		t.Fatalf("opened: %v", err)
	}

	m, joined, err := s.ApplyPresence(protocol.EventUserJoined, json.RawMessage(`{"user_id":2,"username":"Bob"}`))
	if err != nil || !joined || m.UserID != "2" {
		t.Fatalf("join: %+v %v %v", m, joined, err)
	}
	if _, _, err := s.ApplyPresence(protocol.EventUserJoined, json.RawMessage(`{"user_id":"u1","username":"Alice"}`)); err != nil {
		t.Fatalf("join: %v", err)
	}

	members := s.Members()
	if len(members) != 2 || members[0].Name != "Alice" || members[1].Name != "Bob" {
		t.Fatalf("unexpected roster: %+v", members)
	}

	m, joined, err = s.ApplyPresence(protocol.EventUserLeft, json.RawMessage(`{"user_id":"2"}`))
	if err != nil || joined || m.Name != "Bob" {
		t.Fatalf("leave: %+v %v %v", m, joined, err)
	}
	if len(s.Members()) != 1 {
		t.Errorf("expected 1 member, got %+v", s.Members())
	}

	if _, _, err := s.ApplyPresence(protocol.EventUserJoined, json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for missing user_id")
	}
	if _, _, err := s.ApplyPresence(protocol.EventNewMessage, json.RawMessage(`{"user_id":"x"}`)); err == nil {
		t.Error("expected error for non-presence event")
	}

	// Switching rooms starts a fresh roster.
	s.Closed(1)
	if err := s.Opened(2, "WXYZ", &fakeEmitter{}); err != nil {
		t.Fatalf("opened: %v", err)
	}
	if len(s.Members()) != 0 {
		t.Errorf("expected empty roster in new room, got %+v", s.Members())
	}
}

func TestSession_SwitchRoomLeavesBeforeJoin(t *testing.T) {
	s := New(slog.Default())
	d := conntest.NewDialer()
	m := conn.NewManager(conn.Options{URL: "ws://huddle.test/ws", ReconnectInterval: 10 * time.Millisecond}, conntest.NewExchanger(), d, s, slog.Default())
	defer m.Close()

	connected := make(chan struct{}, 4)
	if _, err := m.Watch(func(c conn.Change) {
		if c.State == conn.Connected {
			connected <- struct{}{}
		}
	}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	wait := func() {
		select {
		case <-connected:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for connection")
		}
	}

	id := auth.Identity{Provider: "dev", ProviderSubjectID: "u1"}
	if err := m.Start(id, "ROOMA"); err != nil {
		t.Fatalf("start: %v", err)
	}
	wait()
	if err := m.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := m.Start(id, "ROOMB"); err != nil {
		t.Fatalf("start: %v", err)
	}
	wait()

	var got []string
	for _, f := range d.Frames() {
		var p protocol.JoinRoom
		if err := f.Env.Decode(&p); err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = append(got, f.Event+":"+p.RoomCode)
	}
	want := []string{"join_room:ROOMA", "leave_room:ROOMA", "join_room:ROOMB"}
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %s, want %s", i, got[i], want[i])
		}
	}
}
