package access

import "context"

// Store describes persistence operations required by the access subsystem.
type Store interface {
	Accounts(ctx context.Context) AccountStore
	Roles(ctx context.Context) RoleStore
}

// AccountStore manages principal accounts and their data scopes.
type AccountStore interface {
	Create(ctx context.Context, acct *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	List(ctx context.Context) ([]*Account, error)
	// SetStatus flips active/disabled; accounts are never deleted.
	SetStatus(ctx context.Context, id, status string) error
	Scopes(ctx context.Context, accountID string) ([]DataScope, error)
	SetScopes(ctx context.Context, accountID string, scopes []DataScope) error
}

// RoleStore manages roles, their permissions and assignments.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	SetPermissions(ctx context.Context, roleID string, perms []Permission) error
	Assign(ctx context.Context, accountID, roleID string) error
	Unassign(ctx context.Context, accountID, roleID string) error
	// RolesForAccount returns assigned roles with permissions populated.
	RolesForAccount(ctx context.Context, accountID string) ([]Role, error)
}
