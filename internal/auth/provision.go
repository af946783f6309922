package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"plantgate.org/internal/audit"
	"plantgate.org/internal/obs"
)

// NewUser is the provisioning request for a user. A nil Permissions slice
// copies the role template; a non-nil slice is an explicit grant.
type NewUser struct {
	// ID pins the user id; empty lets the store assign one.
	ID          string
	Username    string
	FullName    string
	Role        Role
	Permissions []string
	DefaultMode Mode
	PlantAreas  []string
}

// Provisioner materializes role templates onto users. It is the only
// component that reads RoleProfiles.
type Provisioner struct {
	store   UserStore
	catalog *Catalog
	roles   *RoleProfiles
	revoker SessionRevoker
	now     func() time.Time
}

// ProvisionerOption configures Provisioner.
type ProvisionerOption func(*Provisioner)

// WithSessionRevoker revokes live sessions when a user is deactivated or
// their grant shrinks.
func WithSessionRevoker(r SessionRevoker) ProvisionerOption {
	return func(p *Provisioner) { p.revoker = r }
}

// WithProvisionClock overrides the time source.
func WithProvisionClock(fn func() time.Time) ProvisionerOption {
	return func(p *Provisioner) {
		if fn != nil {
			p.now = fn
		}
	}
}

func NewProvisioner(store UserStore, cat *Catalog, roles *RoleProfiles, opts ...ProvisionerOption) (*Provisioner, error) {
	if store == nil {
		return nil, errors.New("user store is required")
	}
	if cat == nil || roles == nil {
		return nil, errors.New("catalog and role profiles are required")
	}
	p := &Provisioner{store: store, catalog: cat, roles: roles, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// CreateUser snapshots the role template (or the explicit grant) onto a new user.
func (p *Provisioner) CreateUser(ctx context.Context, req NewUser) (*User, error) {
	username := strings.TrimSpace(strings.ToLower(req.Username))
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	role := Role(strings.TrimSpace(strings.ToLower(string(req.Role))))
	defaults, defaultMode, err := p.roles.DefaultsFor(role)
	if err != nil {
		return nil, err
	}
	perms := defaults
	if req.Permissions != nil {
		if perms, err = p.catalog.NewSet(req.Permissions...); err != nil {
			return nil, err
		}
	}
	mode := defaultMode
	if req.DefaultMode != "" {
		if mode, err = ParseMode(string(req.DefaultMode)); err != nil {
			return nil, err
		}
	}
	areas := normalizeAreas(req.PlantAreas)

	now := p.now().UTC()
	u := &User{
		ID:          strings.TrimSpace(req.ID),
		Username:    username,
		FullName:    strings.TrimSpace(req.FullName),
		Role:        role,
		Permissions: perms,
		DefaultMode: mode,
		PlantAreas:  areas,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.validate(u); err != nil {
		return nil, err
	}
	if err := p.store.Create(ctx, u); err != nil {
		return nil, err
	}
	logEvent(ctx, audit.EventUserCreated, u.ID, map[string]any{
		"role":        string(u.Role),
		"permissions": u.Permissions.Strings(),
		"mode":        string(u.DefaultMode),
		"plant_areas": u.PlantAreas,
	})
	return u.Clone(), nil
}

// SetPermissions replaces the user's grant with an explicit set.
func (p *Provisioner) SetPermissions(ctx context.Context, userID string, tokens []string) (*User, error) {
	set, err := p.catalog.NewSet(tokens...)
	if err != nil {
		return nil, err
	}
	return p.mutate(ctx, userID, audit.EventPermissionsSet, func(u *User) error {
		u.Permissions = set
		return nil
	})
}

// Reprovision re-copies the current role template onto the user. Template
// edits never reach existing users without this call.
func (p *Provisioner) Reprovision(ctx context.Context, userID string) (*User, error) {
	return p.mutate(ctx, userID, audit.EventUserReprovisioned, func(u *User) error {
		set, mode, err := p.roles.DefaultsFor(u.Role)
		if err != nil {
			return err
		}
		u.Permissions = set
		u.DefaultMode = mode
		return nil
	})
}

// SetPlantAreas replaces the area restriction. An empty list removes it.
func (p *Provisioner) SetPlantAreas(ctx context.Context, userID string, areas []string) (*User, error) {
	return p.mutate(ctx, userID, audit.EventAreasSet, func(u *User) error {
		u.PlantAreas = normalizeAreas(areas)
		return nil
	})
}

// Deactivate disables the user and revokes their sessions.
func (p *Provisioner) Deactivate(ctx context.Context, userID string) (*User, error) {
	return p.mutate(ctx, userID, audit.EventUserDeactivated, func(u *User) error {
		u.Active = false
		return nil
	})
}

// Activate re-enables a user.
func (p *Provisioner) Activate(ctx context.Context, userID string) (*User, error) {
	return p.mutate(ctx, userID, audit.EventUserActivated, func(u *User) error {
		u.Active = true
		return nil
	})
}

func (p *Provisioner) mutate(ctx context.Context, userID, event string, fn func(*User) error) (*User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	u, err := p.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	before := u.Clone()
	if err := fn(u); err != nil {
		return nil, err
	}
	if err := p.validate(u); err != nil {
		return nil, err
	}
	u.UpdatedAt = p.now().UTC()
	if err := p.store.Update(ctx, u); err != nil {
		return nil, err
	}
	logEvent(ctx, event, u.ID, map[string]any{
		"permissions": u.Permissions.Strings(),
		"mode":        string(u.DefaultMode),
		"plant_areas": u.PlantAreas,
		"active":      u.Active,
	})
	if p.revoker != nil && narrowed(before, u) {
		if err := p.revoker.RevokeUser(ctx, u.ID); err != nil {
			return nil, fmt.Errorf("revoke sessions for %s: %w", u.ID, err)
		}
		logEvent(ctx, audit.EventSessionsRevoked, u.ID, map[string]any{"after": event})
	}
	return u.Clone(), nil
}

func logEvent(ctx context.Context, event, userID string, detail map[string]any) {
	if err := audit.LogEvent(ctx, event, userID, detail); err != nil {
		obs.Error("admin audit event failed", map[string]any{"event": event, "user_id": userID, "error": err.Error()})
	}
}

func (p *Provisioner) validate(u *User) error {
	if len(u.Permissions) > 0 && !p.usableIn(u, u.DefaultMode) {
		return fmt.Errorf("%w: no granted permission is usable in default mode %s", ErrInvalidInput, u.DefaultMode)
	}
	if len(u.PlantAreas) == 0 {
		return nil
	}
	for perm := range u.Permissions {
		if cp, ok := p.catalog.Lookup(perm); ok && cp.AreaScoped {
			return nil
		}
	}
	return fmt.Errorf("%w: plant areas apply only to floor roles", ErrInvalidInput)
}

func (p *Provisioner) usableIn(u *User, m Mode) bool {
	for perm := range u.Permissions {
		if cp, ok := p.catalog.Lookup(perm); ok && cp.HasMode(m) {
			return true
		}
	}
	return false
}

// narrowed reports whether the change can only have removed authority that a
// live session relies on.
func narrowed(before, after *User) bool {
	if before.Active && !after.Active {
		return true
	}
	for perm := range before.Permissions {
		if !after.Permissions.Has(perm) {
			return true
		}
	}
	if len(after.PlantAreas) > 0 {
		if len(before.PlantAreas) == 0 {
			return true
		}
		for _, a := range before.PlantAreas {
			if !slices.Contains(after.PlantAreas, a) {
				return true
			}
		}
	}
	return false
}

func normalizeAreas(areas []string) []string {
	if len(areas) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(areas))
	out := make([]string, 0, len(areas))
	for _, a := range areas {
		a = strings.TrimSpace(strings.ToLower(a))
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return out
}
