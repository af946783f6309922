package auth

import (
	"context"
	"time"
)

// UserReader resolves users by id. Session validation only needs this much.
type UserReader interface {
	Get(ctx context.Context, id string) (*User, error)
}

// UserStore describes persistence operations required for provisioning.
// Implementations return copies; mutating a returned user has no effect
// until it is passed to Update.
type UserStore interface {
	UserReader
	Create(ctx context.Context, u *User) error
	FindByUsername(ctx context.Context, username string) (*User, error)
	Update(ctx context.Context, u *User) error
	List(ctx context.Context) ([]*User, error)
	MarkLogin(ctx context.Context, id string, at time.Time) error
}

// SessionRevoker ends every session of a user. The session manager implements it.
type SessionRevoker interface {
	RevokeUser(ctx context.Context, userID string) error
}
