package auth

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role is an informational label on a user and the key of a provisioning template.
type Role string

const (
	RolePlantManager         Role = "plant_manager"
	RoleProductionSupervisor Role = "production_supervisor"
	RoleOperator             Role = "operator"
	RoleQCTechnician         Role = "qc_technician"
	RoleQCManager            Role = "qc_manager"
	RoleWarehouse            Role = "warehouse"
	RolePurchasing           Role = "purchasing"
	RoleSales                Role = "sales"
	RoleAccounting           Role = "accounting"
	RoleCreditCollector      Role = "credit_collector"
	RoleAdmin                Role = "admin"
	RoleReadonly             Role = "readonly"
)

// RoleProfile is the template copied onto a user at provisioning time.
type RoleProfile struct {
	Role        Role
	Description string
	Permissions PermissionSet
	DefaultMode Mode
}

// RoleProfiles maps roles to templates. It is consulted only by provisioning,
// never at decision time.
type RoleProfiles struct {
	catalog  *Catalog
	profiles map[Role]RoleProfile
}

// DefaultsFor returns a fresh copy of the role's default permission set and mode.
func (r *RoleProfiles) DefaultsFor(role Role) (PermissionSet, Mode, error) {
	p, ok := r.profiles[role]
	if !ok {
		return nil, "", fmt.Errorf("%w: role %q", ErrNotFound, role)
	}
	return p.Permissions.Clone(), p.DefaultMode, nil
}

// Profile returns the template for role.
func (r *RoleProfiles) Profile(role Role) (RoleProfile, bool) {
	p, ok := r.profiles[role]
	if !ok {
		return RoleProfile{}, false
	}
	p.Permissions = p.Permissions.Clone()
	return p, true
}

// Roles returns the known roles sorted by name.
func (r *RoleProfiles) Roles() []Role {
	out := make([]Role, 0, len(r.profiles))
	for role := range r.profiles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type roleFile struct {
	CatalogVersion string                   `yaml:"catalog_version"`
	Roles          map[string]roleFileEntry `yaml:"roles"`
}

type roleFileEntry struct {
	Description string   `yaml:"description"`
	DefaultMode string   `yaml:"default_mode"`
	Permissions []string `yaml:"permissions"`
}

// LoadRoleProfiles decodes a YAML role file. Any token outside cat rejects the
// whole file, as does a catalog version mismatch.
func LoadRoleProfiles(r io.Reader, cat *Catalog) (*RoleProfiles, error) {
	var f roleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode role file: %w", err)
	}
	if v := strings.TrimSpace(f.CatalogVersion); v != cat.Version() {
		return nil, fmt.Errorf("%w: role file targets catalog %q, running %q", ErrInvalidInput, v, cat.Version())
	}
	if len(f.Roles) == 0 {
		return nil, fmt.Errorf("%w: role file defines no roles", ErrInvalidInput)
	}
	profiles := &RoleProfiles{catalog: cat, profiles: make(map[Role]RoleProfile, len(f.Roles))}
	for name, entry := range f.Roles {
		role := Role(strings.TrimSpace(strings.ToLower(name)))
		if role == "" {
			return nil, fmt.Errorf("%w: empty role name", ErrInvalidInput)
		}
		mode, err := ParseMode(entry.DefaultMode)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", role, err)
		}
		set, err := cat.NewSet(entry.Permissions...)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", role, err)
		}
		profiles.profiles[role] = RoleProfile{
			Role:        role,
			Description: strings.TrimSpace(entry.Description),
			Permissions: set,
			DefaultMode: mode,
		}
	}
	return profiles, nil
}

// LoadRoleProfilesFile reads a role file from disk.
func LoadRoleProfilesFile(path string, cat *Catalog) (*RoleProfiles, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadRoleProfiles(f, cat)
}

// DefaultRoleProfiles returns the builtin templates for the plant positions.
func DefaultRoleProfiles(cat *Catalog) (*RoleProfiles, error) {
	return LoadRoleProfiles(strings.NewReader(builtinRoles), cat)
}

const builtinRoles = `
catalog_version: "2026.01"
roles:
  plant_manager:
    description: Sees everything, authorizes production
    default_mode: office
    permissions:
      - formula:read
      - formula:read_percentages
      - formula:create
      - formula:version
      - formula:archive
      - production:request
      - production:authorize
      - production:execute
      - production:record_deviation
      - production:close
      - qc:enter_results
      - qc:disposition
      - qc:manage_ncr
      - inventory:receive
      - inventory:pick
      - inventory:adjust
      - inventory:cycle_count
      - purchasing:create_po
      - purchasing:approve_po
      - purchasing:three_way_match
      - sales:create_order
      - sales:approve_order
      - sales:ship
      - sales:issue_dte
      - accounting:journal_entry
      - accounting:bank_recon
      - accounting:close_period
      - admin:manage_users
      - admin:manage_roles
      - admin:view_audit
  production_supervisor:
    description: Manages orders, sees formulas without editing
    default_mode: office
    permissions:
      - formula:read
      - formula:read_percentages
      - production:request
      - production:authorize
      - production:execute
      - production:record_deviation
      - inventory:pick
      - qc:enter_results
  operator:
    description: Executes protocols and records weights, never sees percentages
    default_mode: plant
    permissions:
      - formula:read
      - production:execute
      - production:record_deviation
  qc_technician:
    description: Runs tests, enters results
    default_mode: office
    permissions:
      - qc:enter_results
      - formula:read
  qc_manager:
    description: Dispositions lots, manages NCRs
    default_mode: office
    permissions:
      - formula:read
      - formula:read_percentages
      - qc:enter_results
      - qc:disposition
      - qc:manage_ncr
  warehouse:
    description: Receives materials, picks orders, cycle counts
    default_mode: plant
    permissions:
      - inventory:receive
      - inventory:pick
      - inventory:cycle_count
  purchasing:
    description: Purchase orders, supplier management, three-way match
    default_mode: office
    permissions:
      - purchasing:create_po
      - purchasing:approve_po
      - purchasing:three_way_match
  sales:
    description: Quotes, orders, shipping, DTE
    default_mode: office
    permissions:
      - sales:create_order
      - sales:approve_order
      - sales:ship
      - sales:issue_dte
      - inventory:pick
  accounting:
    description: General ledger, journals, bank reconciliation
    default_mode: office
    permissions:
      - accounting:journal_entry
      - accounting:bank_recon
      - accounting:close_period
  credit_collector:
    description: Aging and collections workflow
    default_mode: office
    permissions:
      - accounting:bank_recon
  admin:
    description: User management and system configuration, no operational access
    default_mode: office
    permissions:
      - admin:manage_users
      - admin:manage_roles
      - admin:view_audit
  readonly:
    description: Auditors and consultants
    default_mode: office
    permissions:
      - formula:read
      - admin:view_audit
`
