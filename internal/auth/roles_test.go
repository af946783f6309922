package auth

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultRoleProfiles(t *testing.T) {
	cat := DefaultCatalog()
	rp, err := DefaultRoleProfiles(cat)
	if err != nil {
		t.Fatalf("DefaultRoleProfiles: %v", err)
	}
	if got := len(rp.Roles()); got != 12 {
		t.Fatalf("expected 12 roles, got %d", got)
	}
	set, mode, err := rp.DefaultsFor(RoleOperator)
	if err != nil {
		t.Fatalf("DefaultsFor: %v", err)
	}
	if mode != ModePlant || set.Has(PermFormulaReadPercentages) || !set.Has(PermProductionExecute) {
		t.Fatalf("unexpected operator template %v %s", set.Strings(), mode)
	}
	// callers get a copy
	delete(set, PermProductionExecute)
	again, _, _ := rp.DefaultsFor(RoleOperator)
	if !again.Has(PermProductionExecute) {
		t.Fatal("template mutated through DefaultsFor result")
	}
	pm, ok := rp.Profile(RolePlantManager)
	if !ok || len(pm.Permissions) != len(cat.All()) {
		t.Fatalf("plant manager should hold the whole catalog, got %d", len(pm.Permissions))
	}
	if _, _, err := rp.DefaultsFor("janitor"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadRoleProfilesRejectsBadFiles(t *testing.T) {
	cat := DefaultCatalog()
	cases := map[string]string{
		"unknown token": `
catalog_version: "2026.01"
roles:
  operator:
    default_mode: plant
    permissions: [production:execute, production:teleport]
`,
		"version mismatch": `
catalog_version: "1999.01"
roles:
  operator:
    default_mode: plant
    permissions: [production:execute]
`,
		"unknown field": `
catalog_version: "2026.01"
roles:
  operator:
    default_mode: plant
    perms: [production:execute]
`,
		"bad mode": `
catalog_version: "2026.01"
roles:
  operator:
    default_mode: kiosk
    permissions: [production:execute]
`,
		"no roles": `
catalog_version: "2026.01"
`,
	}
	for name, doc := range cases {
		if _, err := LoadRoleProfiles(strings.NewReader(doc), cat); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadRoleProfilesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	doc := `
catalog_version: "2026.01"
roles:
  Shift_Lead:
    description: Night shift lead
    default_mode: plant
    permissions: [production:execute, inventory:pick]
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	rp, err := LoadRoleProfilesFile(path, DefaultCatalog())
	if err != nil {
		t.Fatalf("LoadRoleProfilesFile: %v", err)
	}
	p, ok := rp.Profile("shift_lead")
	if !ok || p.Description != "Night shift lead" || len(p.Permissions) != 2 {
		t.Fatalf("unexpected profile %+v", p)
	}
	if _, err := LoadRoleProfilesFile(filepath.Join(t.TempDir(), "missing.yaml"), DefaultCatalog()); err == nil {
		t.Fatal("expected missing file error")
	}
}
