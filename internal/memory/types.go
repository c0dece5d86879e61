package memory

import (
	"context"
	"time"
)

// Exchange is one completed user-message/assistant-reply pair. The assistant
// text is immutable once stored; partial streams are never persisted.
type Exchange struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps a bounded FIFO window of completed exchanges per session.
// Sessions are created lazily on first reference and removed by Reset.
type Store interface {
	// History returns the session's exchanges oldest first, creating the
	// session if it has not been seen before.
	History(ctx context.Context, sessionID string) ([]Exchange, error)
	// Append records one completed exchange, evicting the oldest when the
	// window is full.
	Append(ctx context.Context, sessionID, userText, assistantText string) error
	// Reset forgets the session. It is a no-op for unknown ids.
	Reset(ctx context.Context, sessionID string) error
	Close() error
}
