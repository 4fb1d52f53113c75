package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mootbot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.UserStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		key               TEXT PRIMARY KEY,
		chat_id           TEXT NOT NULL,
		email             TEXT DEFAULT '',
		verification_code TEXT DEFAULT '',
		state             TEXT NOT NULL,
		case_text         TEXT DEFAULT '',
		issues_text       TEXT DEFAULT '',
		aspects_text      TEXT DEFAULT '',
		created_at        DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at        DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		user_key   TEXT NOT NULL REFERENCES users(key) ON DELETE CASCADE,
		stage      TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_user_stage ON messages(user_key, stage, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u domain.User) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (key, chat_id, email, verification_code, state, case_text, issues_text, aspects_text, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Key, u.ChatID, u.Email, u.VerificationCode, string(u.State),
		u.CaseText, u.IssuesText, u.AspectsText, u.CreatedAt, u.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, key string) (*domain.User, error) {
	var u domain.User
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT key, chat_id, email, verification_code, state, case_text, issues_text, aspects_text, created_at, updated_at
		 FROM users WHERE key = ?`, key,
	).Scan(&u.Key, &u.ChatID, &u.Email, &u.VerificationCode, &state,
		&u.CaseText, &u.IssuesText, &u.AspectsText, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.State = domain.State(state)
	return &u, nil
}

func (s *SQLiteStore) UpdateUser(ctx context.Context, u domain.User) error {
	u.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET chat_id=?, email=?, verification_code=?, state=?, case_text=?, issues_text=?, aspects_text=?, updated_at=?
		 WHERE key=?`,
		u.ChatID, u.Email, u.VerificationCode, string(u.State),
		u.CaseText, u.IssuesText, u.AspectsText, u.UpdatedAt, u.Key,
	)
	return err
}

// DeleteUser removes the user and all their stored conversations.
func (s *SQLiteStore) DeleteUser(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE user_key = ?`, key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE key = ?`, key)
	return err
}

func (s *SQLiteStore) AddMessage(ctx context.Context, rec domain.MessageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (user_key, stage, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.UserKey, string(rec.Stage), rec.Role, rec.Content, rec.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetMessages(ctx context.Context, userKey string, stage domain.State, limit int) ([]domain.MessageRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	// Last N messages, returned oldest first
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_key, stage, role, content, created_at
		 FROM messages WHERE user_key = ? AND stage = ?
		 ORDER BY id DESC LIMIT ?`, userKey, string(stage), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.MessageRecord
	for rows.Next() {
		var m domain.MessageRecord
		var st string
		if err := rows.Scan(&m.ID, &m.UserKey, &st, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Stage = domain.State(st)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) ClearMessages(ctx context.Context, userKey string, stage domain.State) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE user_key = ? AND stage = ?`, userKey, string(stage))
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
