package auth

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"plantgate.org/internal/audit"
	"plantgate.org/internal/obs"
)

type recordingRevoker struct {
	calls []string
	err   error
}

func (r *recordingRevoker) RevokeUser(ctx context.Context, userID string) error {
	r.calls = append(r.calls, userID)
	return r.err
}

func newProvisioner(t *testing.T) (*Provisioner, *InMemoryUsers, *recordingRevoker) {
	t.Helper()
	cat := DefaultCatalog()
	roles, err := DefaultRoleProfiles(cat)
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	users := NewInMemoryUsers()
	rev := &recordingRevoker{}
	now := time.Date(2026, 1, 29, 6, 0, 0, 0, time.UTC)
	p, err := NewProvisioner(users, cat, roles, WithSessionRevoker(rev), WithProvisionClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewProvisioner: %v", err)
	}
	return p, users, rev
}

func TestCreateUserCopiesTemplate(t *testing.T) {
	p, users, _ := newProvisioner(t)
	ctx := context.Background()

	u, err := p.CreateUser(ctx, NewUser{Username: " JLopez ", FullName: "José López", Role: RoleOperator, PlantAreas: []string{"Mixing", "filling", "mixing"}})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == "" || u.Username != "jlopez" || !u.Active {
		t.Fatalf("unexpected user %+v", u)
	}
	if u.DefaultMode != ModePlant || !u.HasPermission(PermProductionExecute) {
		t.Fatalf("template not applied: %v %s", u.Permissions.Strings(), u.DefaultMode)
	}
	if len(u.PlantAreas) != 2 || !u.InArea("MIXING") {
		t.Fatalf("areas not normalized: %v", u.PlantAreas)
	}

	if _, err := p.CreateUser(ctx, NewUser{Username: "jlopez", Role: RoleOperator}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := users.Get(ctx, u.ID); err != nil {
		t.Fatalf("stored user: %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	p, _, _ := newProvisioner(t)
	ctx := context.Background()

	cases := map[string]NewUser{
		"empty username":       {Role: RoleOperator},
		"unknown role":         {Username: "x", Role: "janitor"},
		"unknown token":        {Username: "x", Role: RoleOperator, Permissions: []string{"production:teleport"}},
		"bad mode":             {Username: "x", Role: RoleOperator, DefaultMode: "kiosk"},
		"areas on office role": {Username: "x", Role: RoleAccounting, PlantAreas: []string{"mixing"}},
		"unusable default":     {Username: "x", Role: RoleAccounting, DefaultMode: ModePlant},
	}
	for name, req := range cases {
		if _, err := p.CreateUser(ctx, req); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	u, err := p.CreateUser(ctx, NewUser{Username: "guest", Role: RoleReadonly, Permissions: []string{}})
	if err != nil {
		t.Fatalf("explicit empty grant: %v", err)
	}
	if len(u.Permissions) != 0 {
		t.Fatalf("explicit empty grant should not copy the template: %v", u.Permissions.Strings())
	}
}

func TestTemplateEditsDoNotReachExistingUsers(t *testing.T) {
	cat := DefaultCatalog()
	p, users, _ := newProvisioner(t)
	ctx := context.Background()
	u, err := p.CreateUser(ctx, NewUser{Username: "acc", Role: RoleAccounting})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	// swap the templates under the provisioner
	edited, err := LoadRoleProfiles(stringsReader(`
catalog_version: "2026.01"
roles:
  accounting:
    default_mode: office
    permissions: [accounting:journal_entry]
`), cat)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p.roles = edited

	stored, _ := users.Get(ctx, u.ID)
	if len(stored.Permissions) != 3 {
		t.Fatalf("existing user changed without reprovision: %v", stored.Permissions.Strings())
	}
	re, err := p.Reprovision(ctx, u.ID)
	if err != nil {
		t.Fatalf("Reprovision: %v", err)
	}
	if len(re.Permissions) != 1 {
		t.Fatalf("reprovision did not apply template: %v", re.Permissions.Strings())
	}
}

func TestNarrowingRevokesSessions(t *testing.T) {
	p, _, rev := newProvisioner(t)
	ctx := context.Background()
	u, err := p.CreateUser(ctx, NewUser{Username: "op", Role: RoleOperator})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	// widening keeps sessions
	if _, err := p.SetPermissions(ctx, u.ID, []string{"formula:read", "production:execute", "production:record_deviation", "inventory:pick"}); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}
	if len(rev.calls) != 0 {
		t.Fatalf("widening revoked sessions: %v", rev.calls)
	}

	if _, err := p.SetPlantAreas(ctx, u.ID, []string{"mixing"}); err != nil {
		t.Fatalf("SetPlantAreas: %v", err)
	}
	if len(rev.calls) != 1 {
		t.Fatalf("adding an area restriction should revoke, calls=%v", rev.calls)
	}
	if _, err := p.SetPlantAreas(ctx, u.ID, nil); err != nil {
		t.Fatalf("clear areas: %v", err)
	}
	if len(rev.calls) != 1 {
		t.Fatalf("lifting the restriction should not revoke, calls=%v", rev.calls)
	}

	if _, err := p.SetPermissions(ctx, u.ID, []string{"production:execute"}); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}
	d, err := p.Deactivate(ctx, u.ID)
	if err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if d.Active || len(rev.calls) != 3 {
		t.Fatalf("expected 3 revocations after shrink and deactivate, got %v", rev.calls)
	}
	a, err := p.Activate(ctx, u.ID)
	if err != nil || !a.Active {
		t.Fatalf("Activate: %v %+v", err, a)
	}
	if len(rev.calls) != 3 {
		t.Fatalf("activation should not revoke, calls=%v", rev.calls)
	}
}

func TestMutateErrors(t *testing.T) {
	p, _, rev := newProvisioner(t)
	ctx := context.Background()
	if _, err := p.Deactivate(ctx, " "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := p.Deactivate(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	u, _ := p.CreateUser(ctx, NewUser{Username: "op", Role: RoleOperator})
	rev.err = errors.New("redis down")
	if _, err := p.Deactivate(ctx, u.ID); err == nil {
		t.Fatal("expected revocation error to surface")
	}
}

func captureAdminEvents(t *testing.T) func() []audit.AdminEvent {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return func() []audit.AdminEvent {
		var out []audit.AdminEvent
		sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
		for sc.Scan() {
			var ev audit.AdminEvent
			if err := json.Unmarshal(sc.Bytes(), &ev); err != nil || ev.Type != "admin" {
				continue
			}
			out = append(out, ev)
		}
		return out
	}
}

func TestProvisioningWritesAdminEvents(t *testing.T) {
	events := captureAdminEvents(t)
	p, _, rev := newProvisioner(t)
	ctx := audit.WithRequestID(context.Background(), "req-42")

	u, err := p.CreateUser(ctx, NewUser{ID: "u-010", Username: "rsoto", Role: RoleOperator, PlantAreas: []string{"mixing"}})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := p.SetPlantAreas(ctx, u.ID, []string{"mixing", "filling"}); err != nil {
		t.Fatalf("SetPlantAreas: %v", err)
	}
	if _, err := p.Deactivate(ctx, u.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, err := p.Activate(ctx, u.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	var got []string
	for _, ev := range events() {
		if ev.UserID != "u-010" || ev.RequestID != "req-42" {
			t.Fatalf("unexpected event attribution: %+v", ev)
		}
		got = append(got, ev.Event)
	}
	want := []string{
		audit.EventUserCreated,
		audit.EventAreasSet,
		audit.EventUserDeactivated,
		audit.EventSessionsRevoked,
		audit.EventUserActivated,
	}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	if len(rev.calls) != 1 {
		t.Fatalf("expected one revocation, got %v", rev.calls)
	}
}

func TestFailedProvisioningWritesNoEvent(t *testing.T) {
	events := captureAdminEvents(t)
	p, _, _ := newProvisioner(t)
	ctx := context.Background()

	if _, err := p.SetPermissions(ctx, "u-404", []string{"formula:read"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := p.CreateUser(ctx, NewUser{Username: "x", Role: "janitor"}); err == nil {
		t.Fatal("expected unknown role error")
	}
	if evs := events(); len(evs) != 0 {
		t.Fatalf("unexpected events: %+v", evs)
	}
}
