package access

import "context"

// DenyReason classifies why the gate refused an action.
type DenyReason string

const (
	DenyNoPermission      DenyReason = "no_permission"
	DenyOutOfScope        DenyReason = "out_of_scope"
	DenyInactivePrincipal DenyReason = "inactive_principal"
)

// Decision is the gate's answer. Denials are values, not errors; only
// infrastructure failures travel on the error return.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  DenyReason `json:"reason,omitempty"`
}

// Allowed is the affirmative decision.
func Allowed() Decision { return Decision{Allowed: true} }

// Denied builds a refusal with the given reason.
func Denied(reason DenyReason) Decision { return Decision{Reason: reason} }

// Gate answers authorization questions. It has no side effects; callers
// audit the outcome themselves.
type Gate struct {
	store Store
}

// NewGate builds a gate over the given store.
func NewGate(store Store) *Gate {
	return &Gate{store: store}
}

// Authorize decides whether principalID may perform action on module. A nil
// scope skips the data-scope check. The superuser role bypasses both checks.
func (g *Gate) Authorize(ctx context.Context, principalID, module string, action Action, scope *ScopeRef) (Decision, error) {
	principal, err := g.Resolve(ctx, principalID)
	if err != nil {
		return Decision{}, err
	}
	return g.AuthorizePrincipal(principal, module, action, scope), nil
}

// AuthorizePrincipal decides for an already-resolved principal. Useful when
// the caller holds a session-cached principal and wants a pure check.
func (g *Gate) AuthorizePrincipal(p Principal, module string, action Action, scope *ScopeRef) Decision {
	if !p.Active() {
		return Denied(DenyInactivePrincipal)
	}
	if p.IsSuperuser() {
		return Allowed()
	}
	if !p.HasPermission(module, action) {
		return Denied(DenyNoPermission)
	}
	if scope != nil && !p.InScope(*scope) {
		return Denied(DenyOutOfScope)
	}
	return Allowed()
}

// Resolve loads the account with roles and scopes and precomputes its
// capability set. Call again after role changes; decisions made from a
// stale principal reflect the roles at resolution time.
func (g *Gate) Resolve(ctx context.Context, principalID string) (Principal, error) {
	acct, err := g.store.Accounts(ctx).Find(ctx, principalID)
	if err != nil {
		return Principal{}, err
	}
	roles, err := g.store.Roles(ctx).RolesForAccount(ctx, principalID)
	if err != nil {
		return Principal{}, err
	}
	scopes, err := g.store.Accounts(ctx).Scopes(ctx, principalID)
	if err != nil {
		return Principal{}, err
	}
	return NewPrincipal(*acct, roles, scopes), nil
}
