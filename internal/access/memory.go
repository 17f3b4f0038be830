package access

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemory implements Store with in-process maps. Used by tests and the
// "memory" store engine; replaced by the SQL stores in production.
type InMemory struct {
	mu          sync.RWMutex
	accounts    map[string]Account
	byEmail     map[string]string
	roles       map[string]Role
	roleByName  map[string]string
	assignments map[string]map[string]struct{} // accountID -> roleIDs
	scopes      map[string][]DataScope
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		accounts:    make(map[string]Account),
		byEmail:     make(map[string]string),
		roles:       make(map[string]Role),
		roleByName:  make(map[string]string),
		assignments: make(map[string]map[string]struct{}),
		scopes:      make(map[string][]DataScope),
	}
}

func (m *InMemory) Accounts(ctx context.Context) AccountStore { return (*memAccounts)(m) }
func (m *InMemory) Roles(ctx context.Context) RoleStore       { return (*memRoles)(m) }

type memAccounts InMemory

func (m *memAccounts) Create(ctx context.Context, acct *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[acct.Email]; ok {
		return ErrAlreadyExists
	}
	m.accounts[acct.ID] = *acct
	m.byEmail[acct.Email] = acct.ID
	return nil
}

func (m *memAccounts) Find(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := acct
	return &out, nil
}

func (m *memAccounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	acct := m.accounts[id]
	return &acct, nil
}

func (m *memAccounts) List(ctx context.Context) ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Account, 0, len(m.accounts))
	for _, acct := range m.accounts {
		a := acct
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memAccounts) SetStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	acct.Status = status
	m.accounts[id] = acct
	return nil
}

func (m *memAccounts) Scopes(ctx context.Context, accountID string) ([]DataScope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	scopes := m.scopes[accountID]
	out := make([]DataScope, len(scopes))
	copy(out, scopes)
	return out, nil
}

func (m *memAccounts) SetScopes(ctx context.Context, accountID string, scopes []DataScope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[accountID]; !ok {
		return ErrNotFound
	}
	cp := make([]DataScope, len(scopes))
	copy(cp, scopes)
	m.scopes[accountID] = cp
	return nil
}

type memRoles InMemory

func (m *memRoles) Create(ctx context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roleByName[role.Name]; ok {
		return ErrAlreadyExists
	}
	m.roles[role.ID] = *role
	m.roleByName[role.Name] = role.ID
	return nil
}

func (m *memRoles) Find(ctx context.Context, id string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := role
	return &out, nil
}

func (m *memRoles) FindByName(ctx context.Context, name string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.roleByName[name]
	if !ok {
		return nil, ErrNotFound
	}
	role := m.roles[id]
	return &role, nil
}

func (m *memRoles) List(ctx context.Context) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Role, 0, len(m.roles))
	for _, role := range m.roles {
		r := role
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRoles) SetPermissions(ctx context.Context, roleID string, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	cp := make([]Permission, len(perms))
	copy(cp, perms)
	role.Permissions = cp
	m.roles[roleID] = role
	return nil
}

func (m *memRoles) Assign(ctx context.Context, accountID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[accountID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	set, ok := m.assignments[accountID]
	if !ok {
		set = make(map[string]struct{})
		m.assignments[accountID] = set
	}
	set[roleID] = struct{}{}
	return nil
}

func (m *memRoles) Unassign(ctx context.Context, accountID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.assignments[accountID]; ok {
		delete(set, roleID)
	}
	return nil
}

func (m *memRoles) RolesForAccount(ctx context.Context, accountID string) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.assignments[accountID]
	out := make([]Role, 0, len(set))
	for roleID := range set {
		if role, ok := m.roles[roleID]; ok {
			out = append(out, role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
