package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus tracks the delivery state of a message. User messages are
// appended optimistically as pending and settled when their request resolves.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusDelivered MessageStatus = "delivered"
	StatusFailed    MessageStatus = "failed"
)

// ContentKind tags the variant held by a Content value.
type ContentKind string

const (
	ContentText       ContentKind = "text"
	ContentStructured ContentKind = "structured"
)

// Content is the body of a message: either TextContent or StructuredContent.
type Content interface {
	Kind() ContentKind
	// Plain renders the content as plain text, one "key: value" line per field
	// for structured content.
	Plain() string
}

// TextContent is a plain string body.
type TextContent string

func (TextContent) Kind() ContentKind { return ContentText }

func (t TextContent) Plain() string { return string(t) }

// Field is one labeled value of a structured answer.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// StructuredContent is a flat key/value answer, kept in backend order.
type StructuredContent []Field

func (StructuredContent) Kind() ContentKind { return ContentStructured }

func (s StructuredContent) Plain() string {
	lines := make([]string, 0, len(s))
	for _, f := range s {
		lines = append(lines, fmt.Sprintf("%s: %s", f.Key, f.Value))
	}
	return strings.Join(lines, "\n")
}

// Message is one entry of the chat log.
type Message struct {
	Role      Role
	Content   Content
	Status    MessageStatus
	CreatedAt time.Time
}

// Text returns the plain rendering of the message content.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return m.Content.Plain()
}

// Image is a picked image file staged for analysis.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
	// Preview is a reference a front end can show in place of the image
	// (a file:// URL for images picked from disk).
	Preview string
}
