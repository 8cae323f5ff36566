package protocol

import (
	"encoding/json"
	"testing"
)

func TestUserID_UnmarshalNumber(t *testing.T) {
	var msg NewMessage
	if err := json.Unmarshal([]byte(`{"user_id": 42, "message": "hi"}`), &msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.UserID != "42" {
		t.Errorf("expected user id 42, got %q", msg.UserID)
	}
}

func TestUserID_UnmarshalLargeNumber(t *testing.T) {
	tests := []struct {
		in   string
		want UserID
	}{
		{`9007199254740993`, "9007199254740993"},
		{`9223372036854775807`, "9223372036854775807"},
		{`-17`, "-17"},
		{`1.5`, "1.5"},
	}
	for _, tt := range tests {
		var id UserID
		if err := json.Unmarshal([]byte(tt.in), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.in, err)
		}
		if id != tt.want {
			t.Errorf("unmarshal %s: got %q, want %q", tt.in, id, tt.want)
		}
	}
}

func TestUserID_UnmarshalString(t *testing.T) {
	var msg NewMessage
	if err := json.Unmarshal([]byte(`{"user_id": "agent", "message": "hello", "username": "Agent"}`), &msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.UserID != AgentUserID {
		t.Errorf("expected agent, got %q", msg.UserID)
	}
	if msg.Username != "Agent" {
		t.Errorf("expected username Agent, got %q", msg.Username)
	}
}

func TestUserID_UnmarshalInvalid(t *testing.T) {
	var id UserID
	if err := json.Unmarshal([]byte(`true`), &id); err == nil {
		t.Fatal("expected error for boolean user id")
	}
}

func TestEnvelope_Decode(t *testing.T) {
	env, err := NewEnvelope(EventJoinRoom, JoinRoom{RoomCode: "ABCD"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Envelope
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Event != EventJoinRoom {
		t.Errorf("expected event %s, got %s", EventJoinRoom, got.Event)
	}

	var join JoinRoom
	if err := got.Decode(&join); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if join.RoomCode != "ABCD" {
		t.Errorf("expected room ABCD, got %s", join.RoomCode)
	}
}

func TestEnvelope_DecodeEmpty(t *testing.T) {
	env := Envelope{Event: EventAgentStatus}
	var st AgentStatus
	if err := env.Decode(&st); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
