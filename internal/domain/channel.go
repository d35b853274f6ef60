package domain

import "context"

// Channel is a user-facing front end (line REPL, TUI).
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}
