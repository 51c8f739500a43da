// Package storage persists finished review sessions so recent reports can be
// listed and re-fetched after the stream ends.
package storage

import (
	"context"
	"time"

	"code-review-pipeline/internal/domain"
	"code-review-pipeline/internal/usage"
)

// SessionRecord is one persisted review session.
type SessionRecord struct {
	TraceID    string                `json:"trace_id"`
	Request    *domain.ReviewRequest `json:"request"`
	Report     string                `json:"report"`
	Title      string                `json:"title,omitempty"`
	Usage      usage.Tokens          `json:"usage"`
	CreatedAt  time.Time             `json:"created_at"`
	DurationMs int64                 `json:"duration_ms"`
	Status     string                `json:"status"` // success, error, cancelled
}

// Repository is the session store.
type Repository interface {
	SaveSession(ctx context.Context, record *SessionRecord) error
	GetSession(ctx context.Context, traceID string) (*SessionRecord, error)
	ListRecentSessions(ctx context.Context, limit int) ([]*SessionRecord, error)
	Close() error
}
