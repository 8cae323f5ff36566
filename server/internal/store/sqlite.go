package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// Pooled connections to a plain ":memory:" database would each see their
	// own empty database.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Pragmas below are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(provider, provider_id)
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS room_members (
			room_code TEXT NOT NULL REFERENCES rooms(code),
			user_id TEXT NOT NULL REFERENCES users(id),
			joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (room_code, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			room_code TEXT NOT NULL REFERENCES rooms(code),
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
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

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *SQLiteStore) UpsertUser(ctx context.Context, user *User) (*User, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, provider, provider_id, email, name, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(provider, provider_id) DO UPDATE SET email = excluded.email, name = excluded.name`,
		user.ID, user.Provider, user.ProviderID, user.Email, user.Name, user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	var u User
	err = s.db.QueryRowContext(ctx,
		"SELECT id, provider, provider_id, email, name, created_at FROM users WHERE provider = ? AND provider_id = ?",
		user.Provider, user.ProviderID,
	).Scan(&u.ID, &u.Provider, &u.ProviderID, &u.Email, &u.Name, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, provider, provider_id, email, name, created_at FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Provider, &u.ProviderID, &u.Email, &u.Name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

// --- Rooms ---

func (s *SQLiteStore) CreateRoom(ctx context.Context, room *Room) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rooms (code, name, created_at) VALUES (?, ?, ?)",
		room.Code, room.Name, room.CreatedAt)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("room %s: %w", room.Code, ErrConflict)
	}
	return err
}

func (s *SQLiteStore) GetRoom(ctx context.Context, code string) (*Room, error) {
	var r Room
	err := s.db.QueryRowContext(ctx,
		"SELECT code, name, created_at FROM rooms WHERE code = ?", code,
	).Scan(&r.Code, &r.Name, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &r, err
}

// --- Membership ---

func (s *SQLiteStore) AddMember(ctx context.Context, roomCode, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO room_members (room_code, user_id) VALUES (?, ?)",
		roomCode, userID)
	return err
}

func (s *SQLiteStore) ListMembers(ctx context.Context, roomCode string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM room_members WHERE room_code = ? ORDER BY joined_at, user_id", roomCode)
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

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (room_code, user_id, content, created_at) VALUES (?, ?, ?, ?)",
		msg.RoomCode, msg.UserID, msg.Content, msg.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, roomCode string, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.seq, m.room_code, m.user_id, m.content, m.created_at, COALESCE(u.name, '')
		FROM messages m LEFT JOIN users u ON u.id = m.user_id
		WHERE m.room_code = ?
		ORDER BY m.seq DESC
		LIMIT ?`, roomCode, limit)
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
