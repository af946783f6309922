package session

import (
	"context"
	"time"

	"plantgate.org/internal/auth"
)

// Record is the persisted half of a session. The user is loaded separately
// on every validation.
type Record struct {
	ID        string
	UserID    string
	Mode      auth.Mode
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Store persists session records. Missing ids yield auth.ErrUnknownSession.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	UpdateMode(ctx context.Context, id string, mode auth.Mode) error
	Delete(ctx context.Context, id string) error
	DeleteUser(ctx context.Context, userID string) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
