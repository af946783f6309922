package auth

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// SessionTTL is the fixed validity of a session: one manufacturing shift.
const SessionTTL = 8 * time.Hour

// Mode is the UI context a session operates in.
type Mode string

const (
	ModeOffice Mode = "office"
	ModePlant  Mode = "plant"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.TrimSpace(strings.ToLower(s))); m {
	case ModeOffice, ModePlant:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unsupported mode %q", ErrInvalidInput, s)
	}
}

// User is a provisioned identity with a materialized permission snapshot.
type User struct {
	ID          string
	Username    string
	FullName    string
	Role        Role
	Permissions PermissionSet
	DefaultMode Mode
	// PlantAreas restricts area-scoped actions. Nil or empty means unrestricted.
	PlantAreas []string
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastLogin  *time.Time
}

// HasPermission reports whether p is in the user's materialized set.
func (u *User) HasPermission(p Permission) bool {
	return u != nil && u.Permissions.Has(p)
}

// AreaRestricted reports whether area-scoped actions must check membership.
func (u *User) AreaRestricted() bool {
	return u != nil && len(u.PlantAreas) > 0
}

// InArea reports membership of area in the user's plant areas.
func (u *User) InArea(area string) bool {
	area = strings.TrimSpace(strings.ToLower(area))
	if area == "" || u == nil {
		return false
	}
	return slices.Contains(u.PlantAreas, area)
}

// SupportsMode reports whether the user may operate a session in mode m: it
// is the user's default or the user holds a permission usable only in m.
func (u *User) SupportsMode(cat *Catalog, m Mode) bool {
	if u == nil {
		return false
	}
	if m == u.DefaultMode {
		return true
	}
	for p := range u.Permissions {
		if cp, ok := cat.Lookup(p); ok && cp.Anchors(m) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hand out read-only snapshots.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Permissions = u.Permissions.Clone()
	if u.PlantAreas != nil {
		out.PlantAreas = slices.Clone(u.PlantAreas)
	}
	if u.LastLogin != nil {
		t := *u.LastLogin
		out.LastLogin = &t
	}
	return &out
}

// Session binds a user snapshot to a token for one shift.
type Session struct {
	ID        string
	Token     string
	User      *User
	Mode      Mode
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// UserID returns the subject id or "" for a nil session.
func (s *Session) UserID() string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.ID
}

// Identity is what an authenticator hands back after verifying credentials.
type Identity struct {
	UserID   string
	Username string
}
