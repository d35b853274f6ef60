package domain

import (
	"context"
	"time"
)

// HistoryStore archives chat sessions. The live session never reads from it.
type HistoryStore interface {
	CreateSession(ctx context.Context, sess SessionRecord) error
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	AddMessage(ctx context.Context, sessionID string, msg Message) error
	GetMessages(ctx context.Context, sessionID string) ([]MessageRecord, error)
	Close() error
}

type SessionRecord struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MessageRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"` // raw text, or JSON array of fields for structured content
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
