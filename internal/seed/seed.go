// Package seed provisions the demo plant directory used by accessctl and by
// plantgated when PLANTGATE_SEED_DEMO is set.
package seed

import (
	"context"
	"errors"
	"fmt"

	"plantgate.org/internal/auth"
)

// Users is the demo directory. Grants are explicit so they stay fixed even
// when role templates change.
var Users = []auth.NewUser{
	{
		ID: "u-001", Username: "rmorales", FullName: "Roberto Morales",
		Role: auth.RolePlantManager, DefaultMode: auth.ModeOffice,
		Permissions: allTokens(),
	},
	{
		ID: "u-002", Username: "acastro", FullName: "Ana Castro",
		Role: auth.RoleProductionSupervisor, DefaultMode: auth.ModeOffice,
		Permissions: []string{
			"formula:read", "formula:read_percentages",
			"production:request", "production:authorize", "production:execute", "production:record_deviation",
			"inventory:pick",
			"qc:enter_results",
		},
	},
	{
		ID: "u-003", Username: "jlopez", FullName: "José López",
		Role: auth.RoleOperator, DefaultMode: auth.ModePlant,
		Permissions: []string{"formula:read", "production:execute", "production:record_deviation"},
		PlantAreas:  []string{"mixing", "filling"},
	},
	{
		ID: "u-004", Username: "mreyes", FullName: "María Reyes",
		Role: auth.RoleQCTechnician, DefaultMode: auth.ModeOffice,
		Permissions: []string{"qc:enter_results", "formula:read"},
	},
	{
		ID: "u-005", Username: "cflores", FullName: "Carlos Flores",
		Role: auth.RoleWarehouse, DefaultMode: auth.ModePlant,
		Permissions: []string{"inventory:receive", "inventory:pick", "inventory:cycle_count"},
		PlantAreas:  []string{"warehouse", "receiving"},
	},
	{
		ID: "u-006", Username: "lmartinez", FullName: "Laura Martínez",
		Role: auth.RoleSales, DefaultMode: auth.ModeOffice,
		Permissions: []string{
			"sales:create_order", "sales:approve_order", "sales:ship", "sales:issue_dte",
			"inventory:pick",
		},
	},
	{
		ID: "u-007", Username: "phernandez", FullName: "Pedro Hernández",
		Role: auth.RoleAccounting, DefaultMode: auth.ModeOffice,
		Permissions: []string{"accounting:journal_entry", "accounting:bank_recon", "accounting:close_period"},
	},
}

func allTokens() []string {
	caps := auth.DefaultCatalog().All()
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		out = append(out, string(c.Permission))
	}
	return out
}

// Load provisions every demo user. Users that already exist are left as they
// are, so Load can run on every start. It returns the number created.
func Load(ctx context.Context, p *auth.Provisioner) (int, error) {
	created := 0
	for _, nu := range Users {
		if _, err := p.CreateUser(ctx, nu); err != nil {
			if errors.Is(err, auth.ErrConflict) {
				continue
			}
			return created, fmt.Errorf("seed %s: %w", nu.Username, err)
		}
		created++
	}
	return created, nil
}

// Directory returns an in-memory user store holding the demo users.
func Directory(ctx context.Context, cat *auth.Catalog) (*auth.InMemoryUsers, error) {
	roles, err := auth.DefaultRoleProfiles(cat)
	if err != nil {
		return nil, err
	}
	users := auth.NewInMemoryUsers()
	p, err := auth.NewProvisioner(users, cat, roles)
	if err != nil {
		return nil, err
	}
	if _, err := Load(ctx, p); err != nil {
		return nil, err
	}
	return users, nil
}
