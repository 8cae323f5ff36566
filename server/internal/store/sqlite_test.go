package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/huddle-chat/huddle/server/internal/config"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *SQLiteStore, providerID, name string) *User {
	t.Helper()
	u, err := s.UpsertUser(context.Background(), &User{
		ID:         uuid.New().String(),
		Provider:   "google",
		ProviderID: providerID,
		Email:      providerID + "@example.com",
		Name:       name,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("createTestUser(%s): %v", providerID, err)
	}
	return u
}

func createTestRoom(t *testing.T, s *SQLiteStore, code string) {
	t.Helper()
	if err := s.CreateRoom(context.Background(), &Room{Code: code, Name: code, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("createTestRoom(%s): %v", code, err)
	}
}

func TestUpsertUser_KeepsID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := createTestUser(t, s, "sub-1", "Alice")
	second, err := s.UpsertUser(ctx, &User{
		ID:         uuid.New().String(),
		Provider:   "google",
		ProviderID: "sub-1",
		Email:      "alice@new.example.com",
		Name:       "Alice B",
		CreatedAt:  time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("expected id %s to be kept, got %s", first.ID, second.ID)
	}
	if second.Name != "Alice B" || second.Email != "alice@new.example.com" {
		t.Errorf("expected profile update, got %+v", second)
	}

	got, err := s.GetUserByID(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Name != "Alice B" {
		t.Errorf("unexpected user: %+v", got)
	}
}

func TestUpsertUser_DistinctProviders(t *testing.T) {
	s := newTestStore(t)
	a := createTestUser(t, s, "same", "A")
	b, err := s.UpsertUser(context.Background(), &User{
		ID: uuid.New().String(), Provider: "github", ProviderID: "same", Name: "B", CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Error("expected separate users per provider")
	}
}

func TestGetUserByID_Missing(t *testing.T) {
	s := newTestStore(t)
	u, err := s.GetUserByID(context.Background(), "nope")
	if err != nil || u != nil {
		t.Errorf("expected nil, nil; got %+v, %v", u, err)
	}
}

func TestRooms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createTestRoom(t, s, "ABCD1234")

	r, err := s.GetRoom(ctx, "ABCD1234")
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || r.Code != "ABCD1234" {
		t.Errorf("unexpected room: %+v", r)
	}

	missing, err := s.GetRoom(ctx, "ZZZZ0000")
	if err != nil || missing != nil {
		t.Errorf("expected nil room, got %+v, %v", missing, err)
	}

	err = s.CreateRoom(ctx, &Room{Code: "ABCD1234", CreatedAt: time.Now()})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createTestRoom(t, s, "ROOM0001")
	u := createTestUser(t, s, "sub-1", "Alice")

	for i := 0; i < 2; i++ {
		if err := s.AddMember(ctx, "ROOM0001", u.ID); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}
	ids, err := s.ListMembers(ctx, "ROOM0001")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != u.ID {
		t.Errorf("expected [%s], got %v", u.ID, ids)
	}

	if err := s.AddMember(ctx, "NOROOM00", u.ID); err == nil {
		t.Error("expected foreign key error for unknown room")
	}
}

func TestAppendMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createTestRoom(t, s, "ROOM0002")

	var last int64
	for _, body := range []string{"one", "two"} {
		seq, err := s.AppendMessage(ctx, &Message{RoomCode: "ROOM0002", UserID: "u1", Content: body, CreatedAt: time.Now()})
		if err != nil {
			t.Fatal(err)
		}
		if seq <= last {
			t.Errorf("expected increasing seq, got %d after %d", seq, last)
		}
		last = seq
	}
}

func TestRecentMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createTestRoom(t, s, "HIST0001")
	createTestRoom(t, s, "HIST0002")
	alice := createTestUser(t, s, "hist-alice", "Alice")

	for _, m := range []*Message{
		{RoomCode: "HIST0001", UserID: alice.ID, Content: "one"},
		{RoomCode: "HIST0002", UserID: alice.ID, Content: "elsewhere"},
		{RoomCode: "HIST0001", UserID: "agent", Content: "two"},
		{RoomCode: "HIST0001", UserID: alice.ID, Content: "three"},
	} {
		m.CreatedAt = time.Now()
		if _, err := s.AppendMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.RecentMessages(ctx, "HIST0001", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Content != "two" || msgs[1].Content != "three" {
		t.Fatalf("expected the latest two oldest first, got %+v", msgs)
	}
	if msgs[0].UserName != "" || msgs[1].UserName != "Alice" {
		t.Errorf("unexpected names: %q, %q", msgs[0].UserName, msgs[1].UserName)
	}

	all, err := s.RecentMessages(ctx, "HIST0001", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Content != "one" {
		t.Errorf("expected all three room messages, got %d", len(all))
	}

	none, err := s.RecentMessages(ctx, "NOROOM00", 10)
	if err != nil || len(none) != 0 {
		t.Errorf("expected no messages, got %v, %v", none, err)
	}
}

func TestNew_Factory(t *testing.T) {
	s, err := New(config.StorageConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}

	if _, err := New(config.StorageConfig{Driver: "mysql"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
