// Package store archives conversations so that they can be inspected after
// the connection is gone. The default implementation uses SQLite (pure Go,
// no CGO).
package store

import (
	"context"
	"time"
)

// Connection is one archived client connection.
type Connection struct {
	ID       string     `json:"id"`
	Peer     string     `json:"peer"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
	Requests int        `json:"requests"`
}

// Turn roles as stored. Requests and responses use the conversation roles;
// failed responder calls are stored as RoleError.
const (
	RoleRequest  = "user"
	RoleResponse = "assistant"
	RoleError    = "error"
)

// Turn is one archived request, response or responder failure.
type Turn struct {
	ConnID    string    `json:"conn_id"`
	Seq       uint64    `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the transcript storage interface. All methods are safe for
// concurrent use.
type Store interface {
	ConnectionOpen(ctx context.Context, id, peer string, at time.Time) error
	ConnectionClose(ctx context.Context, id string, at time.Time) error
	ConnectionGet(ctx context.Context, id string) (*Connection, error)
	// ConnectionList returns the most recently opened connections first.
	ConnectionList(ctx context.Context, limit int) ([]Connection, error)

	TurnAppend(ctx context.Context, t Turn) error
	TurnList(ctx context.Context, connID string) ([]Turn, error)

	// Cleanup removes connections closed before cutoff and their turns.
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
