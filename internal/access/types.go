package access

import "time"

// Action is one of the fixed set of operations a role can grant on a module.
type Action string

const (
	ActionView        Action = "view"
	ActionAdd         Action = "add"
	ActionEdit        Action = "edit"
	ActionDelete      Action = "delete"
	ActionApprove     Action = "approve"
	ActionMaintenance Action = "maintenance"
	ActionExport      Action = "export"
	ActionManage      Action = "manage"
)

// Actions lists every recognised action.
var Actions = []Action{
	ActionView, ActionAdd, ActionEdit, ActionDelete,
	ActionApprove, ActionMaintenance, ActionExport, ActionManage,
}

// ValidAction reports whether a is part of the fixed enumeration.
func ValidAction(a Action) bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// Business modules guarded by the gate.
const (
	ModuleDispatch   = "dispatch"
	ModuleInvoicing  = "invoicing"
	ModulePayroll    = "payroll"
	ModuleReceipts   = "receipts"
	ModuleCompliance = "compliance"
	ModuleAdmin      = "admin"
)

// SuperuserRole bypasses permission and scope checks unconditionally.
const SuperuserRole = "superuser"

// Permission is a (module, action) capability.
type Permission struct {
	Module string `json:"module"`
	Action Action `json:"action"`
}

// Key renders the capability as "module.action", the form stored and logged.
func (p Permission) Key() string { return p.Module + "." + string(p.Action) }

// Role groups permissions under a name.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// DataScope restricts a principal to specific record identifiers of one type,
// e.g. Type="charter_id" with the charters the principal may touch.
type DataScope struct {
	Type   string   `json:"type"`
	Values []string `json:"values"`
}

// ScopeRef identifies the scope value a specific record belongs to.
type ScopeRef struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Principal statuses. Principals are deactivated, never hard-deleted, so
// audit rows keep a valid actor reference.
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// Account is the stored form of an authenticated actor.
type Account struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Principal is an account with resolved roles, scopes and a precomputed
// capability set. Build one with NewPrincipal; permission checks are map
// lookups, not store round-trips.
type Principal struct {
	Account     Account
	Roles       []Role
	Scopes      []DataScope
	permissions map[string]struct{}
	scopeValues map[string]map[string]struct{}
	superuser   bool
}

// NewPrincipal resolves the capability set: the union of permissions across
// all roles, plus scope value sets indexed by scope type.
func NewPrincipal(acct Account, roles []Role, scopes []DataScope) Principal {
	p := Principal{
		Account:     acct,
		Roles:       roles,
		Scopes:      scopes,
		permissions: make(map[string]struct{}),
		scopeValues: make(map[string]map[string]struct{}, len(scopes)),
	}
	for _, r := range roles {
		if r.Name == SuperuserRole {
			p.superuser = true
		}
		for _, perm := range r.Permissions {
			p.permissions[perm.Key()] = struct{}{}
		}
	}
	for _, s := range scopes {
		set := make(map[string]struct{}, len(s.Values))
		for _, v := range s.Values {
			set[v] = struct{}{}
		}
		p.scopeValues[s.Type] = set
	}
	return p
}

// ID returns the stable principal identifier.
func (p Principal) ID() string { return p.Account.ID }

// Active reports whether the account may act at all.
func (p Principal) Active() bool { return p.Account.Status == StatusActive }

// IsSuperuser reports whether any assigned role is the superuser role.
func (p Principal) IsSuperuser() bool { return p.superuser }

// HasPermission reports whether the capability set contains (module, action).
func (p Principal) HasPermission(module string, action Action) bool {
	if p.superuser {
		return true
	}
	_, ok := p.permissions[Permission{Module: module, Action: action}.Key()]
	return ok
}

// InScope reports whether the principal may touch a record carrying ref.
// A principal with no restriction of ref's type is unrestricted for it.
func (p Principal) InScope(ref ScopeRef) bool {
	if p.superuser {
		return true
	}
	set, restricted := p.scopeValues[ref.Type]
	if !restricted {
		return true
	}
	_, ok := set[ref.Value]
	return ok
}
