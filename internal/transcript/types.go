// Package transcript keeps the per-user conversation history the relay feeds
// back to the persona brain.
package transcript

import (
	"context"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single user or assistant utterance.
type Turn struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	RequestID   string    `json:"request_id,omitempty"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	Interrupted bool      `json:"interrupted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves turns.
type Store interface {
	SaveTurn(ctx context.Context, turn Turn) error
	// Recent returns up to limit turns for userID, oldest first.
	Recent(ctx context.Context, userID string, limit int) ([]Turn, error)
	Close() error
}
