package auth

import (
	"fmt"
	"sort"
	"strings"
)

// CatalogVersion identifies the closed set of permission tokens below. Role
// files declare the version they were written against.
const CatalogVersion = "2026.01"

// Permission is an opaque `domain:action` token.
type Permission string

// Domain is the area of the plant a permission belongs to.
type Domain string

const (
	DomainFormula    Domain = "formula"
	DomainProduction Domain = "production"
	DomainQC         Domain = "qc"
	DomainInventory  Domain = "inventory"
	DomainPurchasing Domain = "purchasing"
	DomainSales      Domain = "sales"
	DomainAccounting Domain = "accounting"
	DomainAdmin      Domain = "admin"
)

// ActionClass groups permissions by how the evaluator treats them.
type ActionClass int

const (
	ClassAction ActionClass = iota
	ClassRead
	// ClassRequest permissions open a ledger entry for the object they act on.
	ClassRequest
	// ClassAuthorize permissions consume the entry opened by a distinct requester.
	ClassAuthorize
)

func (c ActionClass) String() string {
	switch c {
	case ClassRead:
		return "read"
	case ClassRequest:
		return "request"
	case ClassAuthorize:
		return "authorize"
	default:
		return "action"
	}
}

const (
	PermFormulaRead            Permission = "formula:read"
	PermFormulaReadPercentages Permission = "formula:read_percentages"
	PermFormulaCreate          Permission = "formula:create"
	PermFormulaVersion         Permission = "formula:version"
	PermFormulaArchive         Permission = "formula:archive"

	PermProductionRequest         Permission = "production:request"
	PermProductionAuthorize       Permission = "production:authorize"
	PermProductionExecute         Permission = "production:execute"
	PermProductionRecordDeviation Permission = "production:record_deviation"
	PermProductionClose           Permission = "production:close"

	PermQCEnterResults Permission = "qc:enter_results"
	PermQCDisposition  Permission = "qc:disposition"
	PermQCManageNCR    Permission = "qc:manage_ncr"

	PermInventoryReceive    Permission = "inventory:receive"
	PermInventoryPick       Permission = "inventory:pick"
	PermInventoryAdjust     Permission = "inventory:adjust"
	PermInventoryCycleCount Permission = "inventory:cycle_count"

	PermPurchasingCreatePO      Permission = "purchasing:create_po"
	PermPurchasingApprovePO     Permission = "purchasing:approve_po"
	PermPurchasingThreeWayMatch Permission = "purchasing:three_way_match"

	PermSalesCreateOrder  Permission = "sales:create_order"
	PermSalesApproveOrder Permission = "sales:approve_order"
	PermSalesShip         Permission = "sales:ship"
	PermSalesIssueDTE     Permission = "sales:issue_dte"

	PermAccountingJournalEntry Permission = "accounting:journal_entry"
	PermAccountingBankRecon    Permission = "accounting:bank_recon"
	PermAccountingClosePeriod  Permission = "accounting:close_period"

	PermAdminManageUsers Permission = "admin:manage_users"
	PermAdminManageRoles Permission = "admin:manage_roles"
	PermAdminViewAudit   Permission = "admin:view_audit"
)

// Object kinds recorded in the segregation-of-duty ledger.
const (
	KindProductionOrder = "production_order"
	KindPurchaseOrder   = "purchase_order"
	KindSalesOrder      = "sales_order"
)

// Capability describes one catalog entry.
type Capability struct {
	Permission  Permission
	Domain      Domain
	Class       ActionClass
	Description string
	// Modes lists the session modes the permission is usable in.
	Modes []Mode
	// AreaScoped permissions are floor actions subject to plant-area restrictions.
	AreaScoped bool
	// ObjectKind is set for request and authorize permissions.
	ObjectKind string
}

// HasMode reports whether the capability is usable in mode m.
func (c Capability) HasMode(m Mode) bool {
	for _, mode := range c.Modes {
		if mode == m {
			return true
		}
	}
	return false
}

// Anchors reports whether the capability is usable only in mode m. Holding an
// anchored capability is what makes a mode reachable by SwitchMode.
func (c Capability) Anchors(m Mode) bool {
	return len(c.Modes) == 1 && c.Modes[0] == m
}

// Redaction pairs a base read permission with the sensitive permission that
// unlocks the listed fields.
type Redaction struct {
	Base      Permission
	Sensitive Permission
	Fields    []string
}

var (
	office      = []Mode{ModeOffice}
	plant       = []Mode{ModePlant}
	officePlant = []Mode{ModeOffice, ModePlant}
)

// BuiltinCapabilities is the closed catalog for CatalogVersion.
var BuiltinCapabilities = []Capability{
	{Permission: PermFormulaRead, Domain: DomainFormula, Class: ClassRead, Modes: officePlant, Description: "Read formula instructions"},
	{Permission: PermFormulaReadPercentages, Domain: DomainFormula, Class: ClassRead, Modes: officePlant, Description: "Read ingredient percentages"},
	{Permission: PermFormulaCreate, Domain: DomainFormula, Modes: office, Description: "Create formulas"},
	{Permission: PermFormulaVersion, Domain: DomainFormula, Modes: office, Description: "Publish a new formula version"},
	{Permission: PermFormulaArchive, Domain: DomainFormula, Modes: office, Description: "Archive formulas"},

	{Permission: PermProductionRequest, Domain: DomainProduction, Class: ClassRequest, ObjectKind: KindProductionOrder, Modes: office, Description: "Request a production order"},
	{Permission: PermProductionAuthorize, Domain: DomainProduction, Class: ClassAuthorize, ObjectKind: KindProductionOrder, Modes: office, Description: "Authorize a production order requested by someone else"},
	{Permission: PermProductionExecute, Domain: DomainProduction, AreaScoped: true, Modes: plant, Description: "Execute production protocols and record weights"},
	{Permission: PermProductionRecordDeviation, Domain: DomainProduction, AreaScoped: true, Modes: plant, Description: "Record production deviations"},
	{Permission: PermProductionClose, Domain: DomainProduction, Modes: office, Description: "Close production orders"},

	{Permission: PermQCEnterResults, Domain: DomainQC, Modes: officePlant, Description: "Enter QC test results"},
	{Permission: PermQCDisposition, Domain: DomainQC, Modes: office, Description: "Release, reject or rework a lot"},
	{Permission: PermQCManageNCR, Domain: DomainQC, Modes: office, Description: "Manage non-conformance reports"},

	{Permission: PermInventoryReceive, Domain: DomainInventory, AreaScoped: true, Modes: plant, Description: "Receive materials"},
	{Permission: PermInventoryPick, Domain: DomainInventory, AreaScoped: true, Modes: plant, Description: "Pick orders on the floor"},
	{Permission: PermInventoryAdjust, Domain: DomainInventory, Modes: office, Description: "Adjust inventory"},
	{Permission: PermInventoryCycleCount, Domain: DomainInventory, AreaScoped: true, Modes: plant, Description: "Perform cycle counts"},

	{Permission: PermPurchasingCreatePO, Domain: DomainPurchasing, Class: ClassRequest, ObjectKind: KindPurchaseOrder, Modes: office, Description: "Create purchase orders"},
	{Permission: PermPurchasingApprovePO, Domain: DomainPurchasing, Class: ClassAuthorize, ObjectKind: KindPurchaseOrder, Modes: office, Description: "Approve purchase orders created by someone else"},
	{Permission: PermPurchasingThreeWayMatch, Domain: DomainPurchasing, Modes: office, Description: "Perform three-way match"},

	{Permission: PermSalesCreateOrder, Domain: DomainSales, Class: ClassRequest, ObjectKind: KindSalesOrder, Modes: office, Description: "Create sales orders"},
	{Permission: PermSalesApproveOrder, Domain: DomainSales, Class: ClassAuthorize, ObjectKind: KindSalesOrder, Modes: office, Description: "Approve sales orders created by someone else"},
	{Permission: PermSalesShip, Domain: DomainSales, Modes: officePlant, Description: "Ship orders"},
	{Permission: PermSalesIssueDTE, Domain: DomainSales, Modes: office, Description: "Issue electronic tax documents"},

	{Permission: PermAccountingJournalEntry, Domain: DomainAccounting, Modes: office, Description: "Post journal entries"},
	{Permission: PermAccountingBankRecon, Domain: DomainAccounting, Modes: office, Description: "Reconcile bank accounts"},
	{Permission: PermAccountingClosePeriod, Domain: DomainAccounting, Modes: office, Description: "Close accounting periods"},

	{Permission: PermAdminManageUsers, Domain: DomainAdmin, Modes: office, Description: "Manage users"},
	{Permission: PermAdminManageRoles, Domain: DomainAdmin, Modes: office, Description: "Manage role templates"},
	{Permission: PermAdminViewAudit, Domain: DomainAdmin, Class: ClassRead, Modes: office, Description: "View the audit trail"},
}

// BuiltinRedactions lists field-level redaction pairings.
var BuiltinRedactions = []Redaction{
	{Base: PermFormulaRead, Sensitive: PermFormulaReadPercentages, Fields: []string{"percentages"}},
}

// Catalog is the read-only registry of capabilities. It is safe for
// concurrent use because nothing mutates it after construction.
type Catalog struct {
	version    string
	caps       map[Permission]Capability
	order      []Permission
	redactions map[Permission]Redaction
}

// NewCatalog validates and indexes the given capabilities.
func NewCatalog(version string, caps []Capability, redactions []Redaction) (*Catalog, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return nil, fmt.Errorf("%w: catalog version is required", ErrInvalidInput)
	}
	c := &Catalog{
		version:    version,
		caps:       make(map[Permission]Capability, len(caps)),
		redactions: make(map[Permission]Redaction, len(redactions)),
	}
	for _, cp := range caps {
		domain, _, ok := strings.Cut(string(cp.Permission), ":")
		if !ok || Domain(domain) != cp.Domain {
			return nil, fmt.Errorf("%w: token %q does not match domain %q", ErrInvalidInput, cp.Permission, cp.Domain)
		}
		if len(cp.Modes) == 0 {
			return nil, fmt.Errorf("%w: token %q has no modes", ErrInvalidInput, cp.Permission)
		}
		if (cp.Class == ClassRequest || cp.Class == ClassAuthorize) && cp.ObjectKind == "" {
			return nil, fmt.Errorf("%w: token %q needs an object kind", ErrInvalidInput, cp.Permission)
		}
		if _, dup := c.caps[cp.Permission]; dup {
			return nil, fmt.Errorf("%w: duplicate token %q", ErrInvalidInput, cp.Permission)
		}
		c.caps[cp.Permission] = cp
		c.order = append(c.order, cp.Permission)
	}
	for _, r := range redactions {
		if _, ok := c.caps[r.Base]; !ok {
			return nil, fmt.Errorf("%w: redaction base %q", ErrUnknownPermission, r.Base)
		}
		if _, ok := c.caps[r.Sensitive]; !ok {
			return nil, fmt.Errorf("%w: redaction sensitive %q", ErrUnknownPermission, r.Sensitive)
		}
		if len(r.Fields) == 0 {
			return nil, fmt.Errorf("%w: redaction for %q lists no fields", ErrInvalidInput, r.Base)
		}
		c.redactions[r.Base] = r
	}
	return c, nil
}

var defaultCatalog = mustCatalog(NewCatalog(CatalogVersion, BuiltinCapabilities, BuiltinRedactions))

func mustCatalog(c *Catalog, err error) *Catalog {
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultCatalog returns the builtin catalog.
func DefaultCatalog() *Catalog { return defaultCatalog }

func (c *Catalog) Version() string { return c.version }

// IsValid reports whether token is a catalog member.
func (c *Catalog) IsValid(token string) bool {
	_, ok := c.caps[Permission(token)]
	return ok
}

// DomainOf returns the domain of a catalog token.
func (c *Catalog) DomainOf(token string) (Domain, error) {
	cp, ok := c.caps[Permission(token)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPermission, token)
	}
	return cp.Domain, nil
}

// Lookup returns the capability for p.
func (c *Catalog) Lookup(p Permission) (Capability, bool) {
	cp, ok := c.caps[p]
	return cp, ok
}

// RedactionFor returns the redaction pairing whose base is p.
func (c *Catalog) RedactionFor(p Permission) (Redaction, bool) {
	r, ok := c.redactions[p]
	return r, ok
}

// All returns the capabilities in declaration order.
func (c *Catalog) All() []Capability {
	out := make([]Capability, 0, len(c.order))
	for _, p := range c.order {
		out = append(out, c.caps[p])
	}
	return out
}

// NewSet builds a permission set, rejecting any token outside the catalog.
// This is the only place catalog membership is enforced for user grants.
func (c *Catalog) NewSet(tokens ...string) (PermissionSet, error) {
	set := make(PermissionSet, len(tokens))
	var unknown []string
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !c.IsValid(t) {
			unknown = append(unknown, t)
			continue
		}
		set[Permission(t)] = struct{}{}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s", ErrUnknownPermission, strings.Join(unknown, ", "))
	}
	return set, nil
}

// PermissionSet is a set of granted permissions.
type PermissionSet map[Permission]struct{}

func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Slice returns the permissions sorted lexically.
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted permissions as plain strings.
func (s PermissionSet) Strings() []string {
	perms := s.Slice()
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}
