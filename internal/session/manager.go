package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"plantgate.org/internal/auth"
	"plantgate.org/internal/ids"
	"plantgate.org/internal/obs"
)

const defaultAuthTimeout = 5 * time.Second

var errNoAuthenticator = errors.New("session: no authenticator configured")

// Manager issues, validates, mode-switches and revokes sessions.
type Manager struct {
	store       Store
	users       auth.UserStore
	catalog     *auth.Catalog
	signer      *Signer
	now         func() time.Time
	authn       auth.Authenticator
	authTimeout time.Duration

	loads singleflight.Group
}

var _ auth.SessionRevoker = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithAuthenticator enables Login. timeout bounds each Authenticate call;
// zero keeps the default.
func WithAuthenticator(a auth.Authenticator, timeout time.Duration) Option {
	return func(m *Manager) {
		m.authn = a
		if timeout > 0 {
			m.authTimeout = timeout
		}
	}
}

func NewManager(store Store, users auth.UserStore, cat *auth.Catalog, signer *Signer, opts ...Option) (*Manager, error) {
	if store == nil || users == nil || cat == nil || signer == nil {
		return nil, errors.New("session: store, users, catalog and signer are required")
	}
	m := &Manager{
		store:       store,
		users:       users,
		catalog:     cat,
		signer:      signer,
		now:         time.Now,
		authTimeout: defaultAuthTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue opens a session for u in its default mode, valid for auth.SessionTTL.
func (m *Manager) Issue(ctx context.Context, u *auth.User) (*auth.Session, error) {
	if u == nil || u.ID == "" {
		return nil, fmt.Errorf("%w: user is required", auth.ErrInvalidInput)
	}
	if !u.Active {
		return nil, auth.ErrAccountInactive
	}
	now := m.now().UTC()
	rec := Record{
		ID:        ids.NewAt(now),
		UserID:    u.ID,
		Mode:      u.DefaultMode,
		IssuedAt:  now,
		ExpiresAt: now.Add(auth.SessionTTL),
	}
	token, err := m.signer.Sign(rec)
	if err != nil {
		return nil, fmt.Errorf("session: sign token: %w", err)
	}
	if err := m.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("session: store: %w", err)
	}
	obs.SessionsTotal.WithLabelValues("issued").Inc()
	return &auth.Session{
		ID:        rec.ID,
		Token:     token,
		User:      u.Clone(),
		Mode:      rec.Mode,
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// Validate resolves token into a live session. Expired sessions are deleted
// on sight and reported as auth.ErrSessionExpired.
func (m *Manager) Validate(ctx context.Context, token string) (*auth.Session, error) {
	claims, err := m.signer.Parse(token)
	if err != nil {
		obs.SessionsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	now := m.now()
	rec, err := m.store.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, auth.ErrUnknownSession) {
			if claimExpired(claims, now) {
				obs.SessionsTotal.WithLabelValues("expired").Inc()
				return nil, auth.ErrSessionExpired
			}
			obs.SessionsTotal.WithLabelValues("rejected").Inc()
			return nil, auth.ErrUnknownSession
		}
		return nil, fmt.Errorf("session: load: %w", err)
	}
	if rec.UserID != claims.Subject {
		obs.SessionsTotal.WithLabelValues("rejected").Inc()
		return nil, auth.ErrUnknownSession
	}
	if !now.Before(rec.ExpiresAt) {
		_ = m.store.Delete(ctx, rec.ID)
		obs.SessionsTotal.WithLabelValues("expired").Inc()
		return nil, auth.ErrSessionExpired
	}

	u, err := m.loadUser(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			_ = m.store.Delete(ctx, rec.ID)
			return nil, auth.ErrUnknownSession
		}
		return nil, fmt.Errorf("session: load user: %w", err)
	}
	if !u.Active {
		_ = m.store.Delete(ctx, rec.ID)
		obs.SessionsTotal.WithLabelValues("revoked").Inc()
		return nil, auth.ErrAccountInactive
	}

	mode := rec.Mode
	if !u.SupportsMode(m.catalog, mode) {
		mode = u.DefaultMode
		if err := m.store.UpdateMode(ctx, rec.ID, mode); err != nil {
			return nil, fmt.Errorf("session: reset mode: %w", err)
		}
	}
	return &auth.Session{
		ID:        rec.ID,
		Token:     token,
		User:      u,
		Mode:      mode,
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// loadUser coalesces concurrent lookups of the same user. Every caller gets
// its own copy.
func (m *Manager) loadUser(ctx context.Context, userID string) (*auth.User, error) {
	v, err, _ := m.loads.Do(userID, func() (any, error) {
		return m.users.Get(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*auth.User).Clone(), nil
}

// SwitchMode moves s to mode and returns the updated session. s itself is
// left untouched; decisions made under it must not be reused.
func (m *Manager) SwitchMode(ctx context.Context, s *auth.Session, mode auth.Mode) (*auth.Session, error) {
	if s == nil || s.User == nil {
		return nil, auth.ErrUnknownSession
	}
	if s.Expired(m.now()) {
		return nil, auth.ErrSessionExpired
	}
	if !s.User.Active {
		return nil, auth.ErrAccountInactive
	}
	if !s.User.SupportsMode(m.catalog, mode) {
		return nil, fmt.Errorf("%w: %s", auth.ErrModeNotPermitted, mode)
	}
	if err := m.store.UpdateMode(ctx, s.ID, mode); err != nil {
		if errors.Is(err, auth.ErrUnknownSession) {
			return nil, err
		}
		return nil, fmt.Errorf("session: switch mode: %w", err)
	}
	obs.SessionsTotal.WithLabelValues("mode_switch").Inc()
	out := *s
	out.Mode = mode
	return &out, nil
}

// Revoke ends s. Revoking an unknown session is not an error.
func (m *Manager) Revoke(ctx context.Context, s *auth.Session) error {
	if s == nil {
		return nil
	}
	if err := m.store.Delete(ctx, s.ID); err != nil {
		return fmt.Errorf("session: revoke: %w", err)
	}
	obs.SessionsTotal.WithLabelValues("revoked").Inc()
	return nil
}

// RevokeUser ends every session held by userID.
func (m *Manager) RevokeUser(ctx context.Context, userID string) error {
	n, err := m.store.DeleteUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("session: revoke user: %w", err)
	}
	obs.SessionsTotal.WithLabelValues("revoked").Add(float64(n))
	return nil
}

// Login verifies credentials with the configured authenticator, then issues
// a session and stamps the user's last login.
func (m *Manager) Login(ctx context.Context, username, secret string) (*auth.Session, error) {
	if m.authn == nil {
		return nil, errNoAuthenticator
	}
	actx, cancel := context.WithTimeout(ctx, m.authTimeout)
	identity, err := m.authn.Authenticate(actx, username, secret)
	cancel()
	if err != nil {
		obs.SessionsTotal.WithLabelValues("login_failed").Inc()
		return nil, err
	}
	u, err := m.users.Get(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			obs.SessionsTotal.WithLabelValues("login_failed").Inc()
			return nil, auth.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("session: load user: %w", err)
	}
	s, err := m.Issue(ctx, u)
	if err != nil {
		if errors.Is(err, auth.ErrAccountInactive) {
			obs.SessionsTotal.WithLabelValues("login_failed").Inc()
		}
		return nil, err
	}
	if err := m.users.MarkLogin(ctx, u.ID, s.IssuedAt); err != nil {
		obs.Warn("mark login failed", map[string]any{"user_id": u.ID, "error": err.Error()})
	} else {
		at := s.IssuedAt
		s.User.LastLogin = &at
	}
	return s, nil
}

// Sweep deletes every session whose expiry has passed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	n, err := m.store.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("session: sweep: %w", err)
	}
	if n > 0 {
		obs.SessionsTotal.WithLabelValues("swept").Add(float64(n))
	}
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				obs.Error("session sweep failed", map[string]any{"error": err.Error()})
				continue
			}
			if n > 0 {
				obs.Info("expired sessions swept", map[string]any{"count": n})
			}
		}
	}
}
