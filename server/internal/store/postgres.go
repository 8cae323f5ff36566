package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(provider, provider_id)
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS room_members (
			room_code TEXT NOT NULL REFERENCES rooms(code),
			user_id TEXT NOT NULL REFERENCES users(id),
			joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (room_code, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq BIGSERIAL PRIMARY KEY,
			room_code TEXT NOT NULL REFERENCES rooms(code),
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_code ON messages(room_code)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *PostgresStore) UpsertUser(ctx context.Context, user *User) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (id, provider, provider_id, email, name, created_at) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT(provider, provider_id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name
		 RETURNING id, provider, provider_id, email, name, created_at`,
		user.ID, user.Provider, user.ProviderID, user.Email, user.Name, user.CreatedAt,
	).Scan(&u.ID, &u.Provider, &u.ProviderID, &u.Email, &u.Name, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, provider, provider_id, email, name, created_at FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.Provider, &u.ProviderID, &u.Email, &u.Name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

// --- Rooms ---

func (s *PostgresStore) CreateRoom(ctx context.Context, room *Room) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rooms (code, name, created_at) VALUES ($1, $2, $3)",
		room.Code, room.Name, room.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("room %s: %w", room.Code, ErrConflict)
	}
	return err
}

func (s *PostgresStore) GetRoom(ctx context.Context, code string) (*Room, error) {
	var r Room
	err := s.db.QueryRowContext(ctx,
		"SELECT code, name, created_at FROM rooms WHERE code = $1", code,
	).Scan(&r.Code, &r.Name, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &r, err
}

// --- Membership ---

func (s *PostgresStore) AddMember(ctx context.Context, roomCode, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO room_members (room_code, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		roomCode, userID)
	return err
}

func (s *PostgresStore) ListMembers(ctx context.Context, roomCode string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM room_members WHERE room_code = $1 ORDER BY joined_at, user_id", roomCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Messages ---

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *Message) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO messages (room_code, user_id, content, created_at) VALUES ($1, $2, $3, $4) RETURNING seq",
		msg.RoomCode, msg.UserID, msg.Content, msg.CreatedAt,
	).Scan(&seq)
	return seq, err
}

func (s *PostgresStore) RecentMessages(ctx context.Context, roomCode string, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.seq, m.room_code, m.user_id, m.content, m.created_at, COALESCE(u.name, '')
		FROM messages m LEFT JOIN users u ON u.id = m.user_id
		WHERE m.room_code = $1
		ORDER BY m.seq DESC
		LIMIT $2`, roomCode, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Seq, &m.RoomCode, &m.UserID, &m.Content, &m.CreatedAt, &m.UserName); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}
