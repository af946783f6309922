package auth

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator verifies credentials outside this engine. Implementations
// must honor ctx cancellation; the session manager bounds the call with a timeout.
type Authenticator interface {
	Authenticate(ctx context.Context, username, secret string) (Identity, error)
}

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// StaticAuthenticator checks bcrypt hashes held in memory against a user
// directory. It stands in for the plant's identity provider in development
// and tests.
type StaticAuthenticator struct {
	users UserStore

	mu     sync.RWMutex
	hashes map[string]string
}

func NewStaticAuthenticator(users UserStore) *StaticAuthenticator {
	return &StaticAuthenticator{users: users, hashes: make(map[string]string)}
}

// SetHash registers a bcrypt hash for username.
func (a *StaticAuthenticator) SetHash(username, hash string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hashes[strings.ToLower(strings.TrimSpace(username))] = hash
}

func (a *StaticAuthenticator) Authenticate(ctx context.Context, username, secret string) (Identity, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || secret == "" {
		return Identity{}, ErrInvalidCredentials
	}
	a.mu.RLock()
	hash, ok := a.hashes[username]
	a.mu.RUnlock()
	if !ok {
		return Identity{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(hash, secret); err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	u, err := a.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, err
	}
	return Identity{UserID: u.ID, Username: u.Username}, nil
}
