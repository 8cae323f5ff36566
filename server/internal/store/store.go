// Package store defines the storage interface for the room server and
// provides SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrConflict is returned when an insert collides with an existing key.
var ErrConflict = errors.New("already exists")

// Store is the persistence interface for the room server.
type Store interface {
	// Users
	UpsertUser(ctx context.Context, user *User) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)

	// Rooms
	CreateRoom(ctx context.Context, room *Room) error
	GetRoom(ctx context.Context, code string) (*Room, error)

	// Membership
	AddMember(ctx context.Context, roomCode, userID string) error
	ListMembers(ctx context.Context, roomCode string) ([]string, error)

	// Messages
	AppendMessage(ctx context.Context, msg *Message) (int64, error)
	// RecentMessages returns up to limit of the room's latest messages,
	// oldest first.
	RecentMessages(ctx context.Context, roomCode string, limit int) ([]*Message, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// User is a chat participant identified by the external login provider.
type User struct {
	ID         string    `json:"id"`
	Provider   string    `json:"provider"`
	ProviderID string    `json:"provider_id"`
	Email      string    `json:"email,omitempty"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// Room is a chat room addressed by its short code.
type Room struct {
	Code      string    `json:"room_code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a chat message written to a room's transcript.
type Message struct {
	Seq       int64     `json:"seq"`
	RoomCode  string    `json:"room_code"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// UserName is filled on reads; empty when the sender is not a stored user.
	UserName string `json:"user_name,omitempty"`
}
