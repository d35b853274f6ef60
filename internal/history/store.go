// Package history archives finished and ongoing chat sessions in SQLite so
// they can be listed and replayed from the command line.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"tiaapa/internal/domain"
)

// SQLiteStore implements domain.HistoryStore using SQLite.
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

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess domain.SessionRecord) error {
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, title, language, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.Language, sess.CreatedAt, sess.UpdatedAt,
	)
	return err
}

// ListSessions returns the most recently updated sessions first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]domain.SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, language, created_at, updated_at
		 FROM sessions ORDER BY updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.SessionRecord
	for rows.Next() {
		var r domain.SessionRecord
		var title, language sql.NullString
		if err := rows.Scan(&r.ID, &title, &language, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Title = title.String
		r.Language = language.String
		sessions = append(sessions, r)
	}
	return sessions, rows.Err()
}

// AddMessage archives msg under sessionID and bumps the session's updated_at.
func (s *SQLiteStore) AddMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	kind, content, err := EncodeContent(msg.Content)
	if err != nil {
		return err
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, kind, content, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, string(msg.Role), string(kind), content, string(msg.Status), createdAt,
	)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, createdAt, sessionID,
	); err != nil {
		s.logger.Debug("session touch failed", "session", sessionID, "err", err)
	}
	return nil
}

// GetMessages returns the messages of a session in the order they were added.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string) ([]domain.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, kind, content, status, created_at
		 FROM messages WHERE session_id = ? ORDER BY id ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.MessageRecord
	for rows.Next() {
		var m domain.MessageRecord
		var content, status sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Kind, &content, &status, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Content = content.String
		m.Status = status.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EncodeContent flattens a message body into its stored kind and text.
// Structured content is stored as a JSON array of fields.
func EncodeContent(c domain.Content) (domain.ContentKind, string, error) {
	switch v := c.(type) {
	case nil:
		return domain.ContentText, "", nil
	case domain.TextContent:
		return domain.ContentText, string(v), nil
	case domain.StructuredContent:
		data, err := json.Marshal([]domain.Field(v))
		if err != nil {
			return "", "", fmt.Errorf("encode structured content: %w", err)
		}
		return domain.ContentStructured, string(data), nil
	default:
		return domain.ContentText, c.Plain(), nil
	}
}

// DecodeContent rebuilds the message body of an archived record.
func DecodeContent(rec domain.MessageRecord) (domain.Content, error) {
	if domain.ContentKind(rec.Kind) != domain.ContentStructured {
		return domain.TextContent(rec.Content), nil
	}
	var fields []domain.Field
	if err := json.Unmarshal([]byte(rec.Content), &fields); err != nil {
		return nil, fmt.Errorf("decode structured content of message %d: %w", rec.ID, err)
	}
	return domain.StructuredContent(fields), nil
}
