package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"plantgate.org/internal/auth"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

var t0 = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

type fixture struct {
	clock *fakeClock
	users *auth.InMemoryUsers
	store *InMemoryStore
	mgr   *Manager
	cat   *auth.Catalog
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clock: &fakeClock{t: t0},
		users: auth.NewInMemoryUsers(),
		store: NewInMemoryStore(),
		cat:   auth.DefaultCatalog(),
	}
	signer, err := NewSigner(testSecret, "plantgate-test")
	require.NoError(t, err)
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.mgr, err = NewManager(f.store, f.users, f.cat, signer, opts...)
	require.NoError(t, err)
	return f
}

func (f *fixture) addUser(t *testing.T, id, username string, mode auth.Mode, areas []string, perms ...string) *auth.User {
	t.Helper()
	set, err := f.cat.NewSet(perms...)
	require.NoError(t, err)
	u := &auth.User{
		ID:          id,
		Username:    username,
		Permissions: set,
		DefaultMode: mode,
		PlantAreas:  areas,
		Active:      true,
		CreatedAt:   t0,
		UpdatedAt:   t0,
	}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

func (f *fixture) operator(t *testing.T) *auth.User {
	return f.addUser(t, "u-003", "jlopez", auth.ModePlant, []string{"mixing", "filling"},
		"formula:read", "production:execute", "production:record_deviation")
}

func (f *fixture) manager(t *testing.T) *auth.User {
	all := make([]string, 0, len(f.cat.All()))
	for _, c := range f.cat.All() {
		all = append(all, string(c.Permission))
	}
	return f.addUser(t, "u-001", "rmorales", auth.ModeOffice, nil, all...)
}

func TestIssueStartsInDefaultMode(t *testing.T) {
	f := newFixture(t)
	u := f.operator(t)

	s, err := f.mgr.Issue(context.Background(), u)
	require.NoError(t, err)
	require.Equal(t, auth.ModePlant, s.Mode)
	require.Equal(t, t0, s.IssuedAt)
	require.Equal(t, t0.Add(8*time.Hour), s.ExpiresAt)
	require.NotEmpty(t, s.Token)
	require.Equal(t, "u-003", s.UserID())
}

func TestIssueRejectsInactiveUser(t *testing.T) {
	f := newFixture(t)
	u := f.operator(t)
	u.Active = false
	_, err := f.mgr.Issue(context.Background(), u)
	require.ErrorIs(t, err, auth.ErrAccountInactive)
}

func TestValidateExpiryBoundary(t *testing.T) {
	cases := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{"mid shift", 4 * time.Hour, nil},
		{"one minute before", 7*time.Hour + 59*time.Minute, nil},
		{"exactly eight hours", 8 * time.Hour, auth.ErrSessionExpired},
		{"one second after", 8*time.Hour + time.Second, auth.ErrSessionExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			s, err := f.mgr.Issue(context.Background(), f.operator(t))
			require.NoError(t, err)

			f.clock.Set(t0.Add(tc.elapsed))
			got, err := f.mgr.Validate(context.Background(), s.Token)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, s.ID, got.ID)
			require.Equal(t, auth.ModePlant, got.Mode)
		})
	}
}

func TestValidateExpiredAfterSweepStillReportsExpired(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Issue(context.Background(), f.operator(t))
	require.NoError(t, err)

	f.clock.Set(t0.Add(9 * time.Hour))
	n, err := f.mgr.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = f.mgr.Validate(context.Background(), s.Token)
	require.ErrorIs(t, err, auth.ErrSessionExpired)
}

func TestValidateRejectsForeignTokens(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Issue(context.Background(), f.operator(t))
	require.NoError(t, err)

	_, err = f.mgr.Validate(context.Background(), "")
	require.ErrorIs(t, err, auth.ErrUnknownSession)

	_, err = f.mgr.Validate(context.Background(), "not-a-token")
	require.ErrorIs(t, err, auth.ErrUnknownSession)

	other, err := NewSigner([]byte(strings.Repeat("x", 32)), "plantgate-test")
	require.NoError(t, err)
	forged, err := other.Sign(Record{ID: s.ID, UserID: "u-001", IssuedAt: t0, ExpiresAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	_, err = f.mgr.Validate(context.Background(), forged)
	require.ErrorIs(t, err, auth.ErrUnknownSession)
}

func TestOperatorCannotSwitchToOffice(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Issue(context.Background(), f.operator(t))
	require.NoError(t, err)

	_, err = f.mgr.SwitchMode(context.Background(), s, auth.ModeOffice)
	require.ErrorIs(t, err, auth.ErrModeNotPermitted)

	same, err := f.mgr.SwitchMode(context.Background(), s, auth.ModePlant)
	require.NoError(t, err)
	require.Equal(t, auth.ModePlant, same.Mode)
}

func TestManagerSwitchesToPlantAndBack(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Issue(context.Background(), f.manager(t))
	require.NoError(t, err)
	require.Equal(t, auth.ModeOffice, s.Mode)

	plant, err := f.mgr.SwitchMode(context.Background(), s, auth.ModePlant)
	require.NoError(t, err)
	require.Equal(t, auth.ModePlant, plant.Mode)
	require.Equal(t, auth.ModeOffice, s.Mode, "input session must not change")

	got, err := f.mgr.Validate(context.Background(), s.Token)
	require.NoError(t, err)
	require.Equal(t, auth.ModePlant, got.Mode)

	back, err := f.mgr.SwitchMode(context.Background(), got, auth.ModeOffice)
	require.NoError(t, err)
	require.Equal(t, auth.ModeOffice, back.Mode)
}

func TestSwitchModeAfterExpiry(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Issue(context.Background(), f.manager(t))
	require.NoError(t, err)
	f.clock.Set(t0.Add(8 * time.Hour))
	_, err = f.mgr.SwitchMode(context.Background(), s, auth.ModePlant)
	require.ErrorIs(t, err, auth.ErrSessionExpired)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Issue(context.Background(), f.operator(t))
	require.NoError(t, err)

	require.NoError(t, f.mgr.Revoke(context.Background(), s))
	_, err = f.mgr.Validate(context.Background(), s.Token)
	require.ErrorIs(t, err, auth.ErrUnknownSession)
	require.NoError(t, f.mgr.Revoke(context.Background(), s), "revoke is idempotent")
}

func TestRevokeUserEndsEverySession(t *testing.T) {
	f := newFixture(t)
	u := f.operator(t)
	a, err := f.mgr.Issue(context.Background(), u)
	require.NoError(t, err)
	b, err := f.mgr.Issue(context.Background(), u)
	require.NoError(t, err)

	require.NoError(t, f.mgr.RevokeUser(context.Background(), u.ID))
	for _, s := range []*auth.Session{a, b} {
		_, err := f.mgr.Validate(context.Background(), s.Token)
		require.ErrorIs(t, err, auth.ErrUnknownSession)
	}
}

func TestValidateDeactivatedUser(t *testing.T) {
	f := newFixture(t)
	u := f.operator(t)
	s, err := f.mgr.Issue(context.Background(), u)
	require.NoError(t, err)

	u.Active = false
	require.NoError(t, f.users.Update(context.Background(), u))

	_, err = f.mgr.Validate(context.Background(), s.Token)
	require.ErrorIs(t, err, auth.ErrAccountInactive)
	_, err = f.store.Get(context.Background(), s.ID)
	require.ErrorIs(t, err, auth.ErrUnknownSession)
}

func TestValidateResetsModeNoLongerSupported(t *testing.T) {
	f := newFixture(t)
	u := f.manager(t)
	s, err := f.mgr.Issue(context.Background(), u)
	require.NoError(t, err)
	_, err = f.mgr.SwitchMode(context.Background(), s, auth.ModePlant)
	require.NoError(t, err)

	u.Permissions, err = f.cat.NewSet("formula:read", "purchasing:approve_po")
	require.NoError(t, err)
	require.NoError(t, f.users.Update(context.Background(), u))

	got, err := f.mgr.Validate(context.Background(), s.Token)
	require.NoError(t, err)
	require.Equal(t, auth.ModeOffice, got.Mode)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	f.operator(t)
	authn := auth.NewStaticAuthenticator(f.users)
	hash, err := auth.HashPassword("mezcla-2026")
	require.NoError(t, err)
	authn.SetHash("jlopez", hash)
	WithAuthenticator(authn, time.Second)(f.mgr)

	s, err := f.mgr.Login(context.Background(), "JLopez", "mezcla-2026")
	require.NoError(t, err)
	require.Equal(t, "u-003", s.UserID())
	require.NotNil(t, s.User.LastLogin)
	require.True(t, s.User.LastLogin.Equal(t0))

	stored, err := f.users.Get(context.Background(), "u-003")
	require.NoError(t, err)
	require.NotNil(t, stored.LastLogin)

	_, err = f.mgr.Login(context.Background(), "jlopez", "wrong")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = f.mgr.Login(context.Background(), "nobody", "mezcla-2026")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

type slowAuthenticator struct{}

func (slowAuthenticator) Authenticate(ctx context.Context, username, secret string) (auth.Identity, error) {
	<-ctx.Done()
	return auth.Identity{}, ctx.Err()
}

func TestLoginTimesOut(t *testing.T) {
	f := newFixture(t, WithAuthenticator(slowAuthenticator{}, 20*time.Millisecond))
	_, err := f.mgr.Login(context.Background(), "jlopez", "x")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoginWithoutAuthenticator(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Login(context.Background(), "jlopez", "x")
	require.Error(t, err)
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.mgr.RunSweeper(ctx, time.Millisecond) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestNewSignerRejectsShortSecret(t *testing.T) {
	_, err := NewSigner([]byte("short"), "")
	require.ErrorIs(t, err, auth.ErrInvalidInput)
}
