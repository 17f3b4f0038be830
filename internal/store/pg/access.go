package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"charterops.org/internal/access"
)

// Access exposes the account and role stores.
func (s *Store) Access() access.Store { return &pgAccess{s: s} }

type pgAccess struct {
	s *Store
}

func (a *pgAccess) Accounts(ctx context.Context) access.AccountStore { return &pgAccounts{s: a.s} }
func (a *pgAccess) Roles(ctx context.Context) access.RoleStore       { return &pgRoles{s: a.s} }

type pgAccounts struct {
	s *Store
}

func (a *pgAccounts) Create(ctx context.Context, acct *access.Account) error {
	_, err := a.s.db.ExecContext(ctx, `
		insert into accounts (id, name, email, password_hash, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)`,
		acct.ID, acct.Name, acct.Email, acct.PasswordHash, acct.Status,
		acct.CreatedAt, acct.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return access.ErrAlreadyExists
	}
	return err
}

func scanAccount(row *sql.Row) (*access.Account, error) {
	var acct access.Account
	err := row.Scan(&acct.ID, &acct.Name, &acct.Email, &acct.PasswordHash,
		&acct.Status, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

const accountColumns = `id, name, email, password_hash, status, created_at, updated_at`

func (a *pgAccounts) Find(ctx context.Context, id string) (*access.Account, error) {
	return scanAccount(a.s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id = $1`, id))
}

func (a *pgAccounts) FindByEmail(ctx context.Context, email string) (*access.Account, error) {
	return scanAccount(a.s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email = $1`, email))
}

func (a *pgAccounts) List(ctx context.Context) ([]*access.Account, error) {
	rows, err := a.s.db.QueryContext(ctx,
		`select `+accountColumns+` from accounts order by created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	accounts := []*access.Account{}
	for rows.Next() {
		var acct access.Account
		if err := rows.Scan(&acct.ID, &acct.Name, &acct.Email, &acct.PasswordHash,
			&acct.Status, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, &acct)
	}
	return accounts, rows.Err()
}

func (a *pgAccounts) SetStatus(ctx context.Context, id, status string) error {
	res, err := a.s.db.ExecContext(ctx,
		`update accounts set status = $2, updated_at = now() where id = $1`, id, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return access.ErrNotFound
	}
	return nil
}

func (a *pgAccounts) Scopes(ctx context.Context, accountID string) ([]access.DataScope, error) {
	rows, err := a.s.db.QueryContext(ctx, `
		select scope_type, scope_value from account_scopes
		where account_id = $1 order by scope_type, scope_value`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byType := map[string][]string{}
	order := []string{}
	for rows.Next() {
		var scopeType, scopeValue string
		if err := rows.Scan(&scopeType, &scopeValue); err != nil {
			return nil, err
		}
		if _, seen := byType[scopeType]; !seen {
			order = append(order, scopeType)
		}
		byType[scopeType] = append(byType[scopeType], scopeValue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	scopes := make([]access.DataScope, 0, len(order))
	for _, t := range order {
		scopes = append(scopes, access.DataScope{Type: t, Values: byType[t]})
	}
	return scopes, nil
}

// SetScopes replaces the account's scope rows transactionally so readers
// never observe a half-applied restriction.
func (a *pgAccounts) SetScopes(ctx context.Context, accountID string, scopes []access.DataScope) error {
	tx, err := a.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`delete from account_scopes where account_id = $1`, accountID); err != nil {
		return err
	}
	for _, scope := range scopes {
		for _, value := range scope.Values {
			if _, err := tx.ExecContext(ctx, `
				insert into account_scopes (account_id, scope_type, scope_value)
				values ($1, $2, $3) on conflict do nothing`,
				accountID, scope.Type, value); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

type pgRoles struct {
	s *Store
}

func (r *pgRoles) Create(ctx context.Context, role *access.Role) error {
	_, err := r.s.db.ExecContext(ctx, `
		insert into roles (id, name, description, created_at, updated_at)
		values ($1, $2, $3, $4, $5)`,
		role.ID, role.Name, role.Description, role.CreatedAt, role.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return access.ErrAlreadyExists
	}
	return err
}

func (r *pgRoles) find(ctx context.Context, query string, arg any) (*access.Role, error) {
	row := r.s.db.QueryRowContext(ctx, query, arg)
	var role access.Role
	err := row.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	perms, err := r.permissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return &role, nil
}

const roleColumns = `id, name, description, created_at, updated_at`

func (r *pgRoles) Find(ctx context.Context, id string) (*access.Role, error) {
	return r.find(ctx, `select `+roleColumns+` from roles where id = $1`, id)
}

func (r *pgRoles) FindByName(ctx context.Context, name string) (*access.Role, error) {
	return r.find(ctx, `select `+roleColumns+` from roles where name = $1`, name)
}

func (r *pgRoles) List(ctx context.Context) ([]*access.Role, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`select `+roleColumns+` from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []*access.Role{}
	for rows.Next() {
		var role access.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description,
			&role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, &role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, role := range roles {
		perms, err := r.permissions(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		role.Permissions = perms
	}
	return roles, nil
}

func (r *pgRoles) permissions(ctx context.Context, roleID string) ([]access.Permission, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		select module, action from role_permissions
		where role_id = $1 order by module, action`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms := []access.Permission{}
	for rows.Next() {
		var p access.Permission
		var action string
		if err := rows.Scan(&p.Module, &action); err != nil {
			return nil, err
		}
		p.Action = access.Action(action)
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r *pgRoles) SetPermissions(ctx context.Context, roleID string, perms []access.Permission) error {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, p := range perms {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, module, action)
			values ($1, $2, $3) on conflict do nothing`,
			roleID, p.Module, string(p.Action)); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`update roles set updated_at = now() where id = $1`, roleID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *pgRoles) Assign(ctx context.Context, accountID, roleID string) error {
	_, err := r.s.db.ExecContext(ctx, `
		insert into account_roles (account_id, role_id)
		values ($1, $2) on conflict do nothing`, accountID, roleID)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return fmt.Errorf("%w: account or role", access.ErrNotFound)
	}
	return err
}

func (r *pgRoles) Unassign(ctx context.Context, accountID, roleID string) error {
	_, err := r.s.db.ExecContext(ctx,
		`delete from account_roles where account_id = $1 and role_id = $2`, accountID, roleID)
	return err
}

func (r *pgRoles) RolesForAccount(ctx context.Context, accountID string) ([]access.Role, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		select r.id, r.name, r.description, r.created_at, r.updated_at
		from roles r
		join account_roles ar on ar.role_id = r.id
		where ar.account_id = $1
		order by r.name`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []access.Role{}
	for rows.Next() {
		var role access.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description,
			&role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		perms, err := r.permissions(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}
