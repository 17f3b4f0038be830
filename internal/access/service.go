package access

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charterops.org/internal/ids"
)

// Service provides provisioning operations on top of the store: accounts,
// roles, assignments. The Gate handles the read path; this handles the
// admin path.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService constructs the provisioning service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	return &Service{store: store, now: time.Now}, nil
}

// CreateAccount provisions a principal with a hashed credential.
func (s *Service) CreateAccount(ctx context.Context, name, email, password string) (Account, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if name == "" {
		return Account{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if email == "" || !strings.Contains(email, "@") {
		return Account{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	hash, err := HashPassword(strings.TrimSpace(password))
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := s.now().UTC()
	acct := Account{
		ID:           ids.New(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Accounts(ctx).Create(ctx, &acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// Authenticate verifies credentials and returns the account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return Account{}, ErrUnauthorized
	}
	acct, err := s.store.Accounts(ctx).FindByEmail(ctx, email)
	if err != nil {
		return Account{}, ErrUnauthorized
	}
	if acct.Status != StatusActive {
		return Account{}, ErrUnauthorized
	}
	if err := VerifyPassword(acct.PasswordHash, password); err != nil {
		return Account{}, ErrUnauthorized
	}
	return *acct, nil
}

// Deactivate disables an account. Accounts are never hard-deleted so the
// audit trail keeps a resolvable actor.
func (s *Service) Deactivate(ctx context.Context, accountID string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	return s.store.Accounts(ctx).SetStatus(ctx, accountID, StatusDisabled)
}

// Reactivate re-enables a previously disabled account.
func (s *Service) Reactivate(ctx context.Context, accountID string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	return s.store.Accounts(ctx).SetStatus(ctx, accountID, StatusActive)
}

// CreateRole creates a named permission bundle.
func (s *Service) CreateRole(ctx context.Context, name, description string, perms []Permission) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	for _, p := range perms {
		if strings.TrimSpace(p.Module) == "" || !ValidAction(p.Action) {
			return Role{}, fmt.Errorf("%w: invalid permission %q", ErrInvalidInput, p.Key())
		}
	}
	now := s.now().UTC()
	role := Role{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Permissions: perms,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Roles(ctx).Create(ctx, &role); err != nil {
		return Role{}, err
	}
	if len(perms) > 0 {
		if err := s.store.Roles(ctx).SetPermissions(ctx, role.ID, perms); err != nil {
			return Role{}, err
		}
	}
	return role, nil
}

// SetRolePermissions replaces a role's permission set.
func (s *Service) SetRolePermissions(ctx context.Context, roleID string, perms []Permission) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	for _, p := range perms {
		if strings.TrimSpace(p.Module) == "" || !ValidAction(p.Action) {
			return fmt.Errorf("%w: invalid permission %q", ErrInvalidInput, p.Key())
		}
	}
	return s.store.Roles(ctx).SetPermissions(ctx, roleID, perms)
}

// AssignRole grants a role to an account.
func (s *Service) AssignRole(ctx context.Context, accountID, roleID string) error {
	accountID = strings.TrimSpace(accountID)
	roleID = strings.TrimSpace(roleID)
	if accountID == "" || roleID == "" {
		return fmt.Errorf("%w: account id and role id are required", ErrInvalidInput)
	}
	return s.store.Roles(ctx).Assign(ctx, accountID, roleID)
}

// UnassignRole revokes a role from an account.
func (s *Service) UnassignRole(ctx context.Context, accountID, roleID string) error {
	accountID = strings.TrimSpace(accountID)
	roleID = strings.TrimSpace(roleID)
	if accountID == "" || roleID == "" {
		return fmt.Errorf("%w: account id and role id are required", ErrInvalidInput)
	}
	return s.store.Roles(ctx).Unassign(ctx, accountID, roleID)
}

// SetScopes replaces an account's data-scope restrictions.
func (s *Service) SetScopes(ctx context.Context, accountID string, scopes []DataScope) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	for _, sc := range scopes {
		if strings.TrimSpace(sc.Type) == "" {
			return fmt.Errorf("%w: scope type is required", ErrInvalidInput)
		}
	}
	return s.store.Accounts(ctx).SetScopes(ctx, accountID, scopes)
}
