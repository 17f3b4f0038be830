package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlitedrv "modernc.org/sqlite"

	"charterops.org/internal/access"
)

const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

func isUniqueViolation(err error) bool {
	var se *sqlitedrv.Error
	if errors.As(err, &se) {
		return se.Code() == sqliteConstraintPrimaryKey || se.Code() == sqliteConstraintUnique
	}
	return false
}

// Access exposes the account and role stores.
func (s *Store) Access() access.Store { return &sqAccess{s: s} }

type sqAccess struct {
	s *Store
}

func (a *sqAccess) Accounts(ctx context.Context) access.AccountStore { return &sqAccounts{s: a.s} }
func (a *sqAccess) Roles(ctx context.Context) access.RoleStore       { return &sqRoles{s: a.s} }

type sqAccounts struct {
	s *Store
}

func (a *sqAccounts) Create(ctx context.Context, acct *access.Account) error {
	_, err := a.s.db.ExecContext(ctx, `
		insert into accounts (id, name, email, password_hash, status, created_at_ms, updated_at_ms)
		values (?, ?, ?, ?, ?, ?, ?)`,
		acct.ID, acct.Name, acct.Email, acct.PasswordHash, acct.Status,
		toMillis(acct.CreatedAt), toMillis(acct.UpdatedAt))
	if isUniqueViolation(err) {
		return access.ErrAlreadyExists
	}
	return err
}

func scanSqAccount(row *sql.Row) (*access.Account, error) {
	var acct access.Account
	var createdMs, updatedMs int64
	err := row.Scan(&acct.ID, &acct.Name, &acct.Email, &acct.PasswordHash,
		&acct.Status, &createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	acct.CreatedAt, acct.UpdatedAt = fromMillis(createdMs), fromMillis(updatedMs)
	return &acct, nil
}

const sqAccountColumns = `id, name, email, password_hash, status, created_at_ms, updated_at_ms`

func (a *sqAccounts) Find(ctx context.Context, id string) (*access.Account, error) {
	return scanSqAccount(a.s.db.QueryRowContext(ctx,
		`select `+sqAccountColumns+` from accounts where id = ?`, id))
}

func (a *sqAccounts) FindByEmail(ctx context.Context, email string) (*access.Account, error) {
	return scanSqAccount(a.s.db.QueryRowContext(ctx,
		`select `+sqAccountColumns+` from accounts where email = ?`, email))
}

func (a *sqAccounts) List(ctx context.Context) ([]*access.Account, error) {
	rows, err := a.s.db.QueryContext(ctx,
		`select `+sqAccountColumns+` from accounts order by created_at_ms`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	accounts := []*access.Account{}
	for rows.Next() {
		var acct access.Account
		var createdMs, updatedMs int64
		if err := rows.Scan(&acct.ID, &acct.Name, &acct.Email, &acct.PasswordHash,
			&acct.Status, &createdMs, &updatedMs); err != nil {
			return nil, err
		}
		acct.CreatedAt, acct.UpdatedAt = fromMillis(createdMs), fromMillis(updatedMs)
		accounts = append(accounts, &acct)
	}
	return accounts, rows.Err()
}

func (a *sqAccounts) SetStatus(ctx context.Context, id, status string) error {
	res, err := a.s.db.ExecContext(ctx,
		`update accounts set status = ?, updated_at_ms = ? where id = ?`,
		status, toMillis(time.Now().UTC()), id)
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

func (a *sqAccounts) Scopes(ctx context.Context, accountID string) ([]access.DataScope, error) {
	rows, err := a.s.db.QueryContext(ctx, `
		select scope_type, scope_value from account_scopes
		where account_id = ? order by scope_type, scope_value`, accountID)
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

func (a *sqAccounts) SetScopes(ctx context.Context, accountID string, scopes []access.DataScope) error {
	tx, err := a.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`delete from account_scopes where account_id = ?`, accountID); err != nil {
		return err
	}
	for _, scope := range scopes {
		for _, value := range scope.Values {
			if _, err := tx.ExecContext(ctx, `
				insert into account_scopes (account_id, scope_type, scope_value)
				values (?, ?, ?) on conflict do nothing`,
				accountID, scope.Type, value); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

type sqRoles struct {
	s *Store
}

func (r *sqRoles) Create(ctx context.Context, role *access.Role) error {
	_, err := r.s.db.ExecContext(ctx, `
		insert into roles (id, name, description, created_at_ms, updated_at_ms)
		values (?, ?, ?, ?, ?)`,
		role.ID, role.Name, role.Description,
		toMillis(role.CreatedAt), toMillis(role.UpdatedAt))
	if isUniqueViolation(err) {
		return access.ErrAlreadyExists
	}
	return err
}

func (r *sqRoles) find(ctx context.Context, query string, arg any) (*access.Role, error) {
	row := r.s.db.QueryRowContext(ctx, query, arg)
	var role access.Role
	var createdMs, updatedMs int64
	err := row.Scan(&role.ID, &role.Name, &role.Description, &createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	role.CreatedAt, role.UpdatedAt = fromMillis(createdMs), fromMillis(updatedMs)
	perms, err := r.permissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return &role, nil
}

const sqRoleColumns = `id, name, description, created_at_ms, updated_at_ms`

func (r *sqRoles) Find(ctx context.Context, id string) (*access.Role, error) {
	return r.find(ctx, `select `+sqRoleColumns+` from roles where id = ?`, id)
}

func (r *sqRoles) FindByName(ctx context.Context, name string) (*access.Role, error) {
	return r.find(ctx, `select `+sqRoleColumns+` from roles where name = ?`, name)
}

func (r *sqRoles) List(ctx context.Context) ([]*access.Role, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`select `+sqRoleColumns+` from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []*access.Role{}
	for rows.Next() {
		var role access.Role
		var createdMs, updatedMs int64
		if err := rows.Scan(&role.ID, &role.Name, &role.Description,
			&createdMs, &updatedMs); err != nil {
			return nil, err
		}
		role.CreatedAt, role.UpdatedAt = fromMillis(createdMs), fromMillis(updatedMs)
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

func (r *sqRoles) permissions(ctx context.Context, roleID string) ([]access.Permission, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		select module, action from role_permissions
		where role_id = ? order by module, action`, roleID)
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

func (r *sqRoles) SetPermissions(ctx context.Context, roleID string, perms []access.Permission) error {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`delete from role_permissions where role_id = ?`, roleID); err != nil {
		return err
	}
	for _, p := range perms {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, module, action)
			values (?, ?, ?) on conflict do nothing`,
			roleID, p.Module, string(p.Action)); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`update roles set updated_at_ms = ? where id = ?`,
		toMillis(time.Now().UTC()), roleID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *sqRoles) Assign(ctx context.Context, accountID, roleID string) error {
	_, err := r.s.db.ExecContext(ctx, `
		insert into account_roles (account_id, role_id)
		values (?, ?) on conflict do nothing`, accountID, roleID)
	var se *sqlitedrv.Error
	if errors.As(err, &se) && se.Code() == 787 { // foreign key violation
		return fmt.Errorf("%w: account or role", access.ErrNotFound)
	}
	return err
}

func (r *sqRoles) Unassign(ctx context.Context, accountID, roleID string) error {
	_, err := r.s.db.ExecContext(ctx,
		`delete from account_roles where account_id = ? and role_id = ?`, accountID, roleID)
	return err
}

func (r *sqRoles) RolesForAccount(ctx context.Context, accountID string) ([]access.Role, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		select r.id, r.name, r.description, r.created_at_ms, r.updated_at_ms
		from roles r
		join account_roles ar on ar.role_id = r.id
		where ar.account_id = ?
		order by r.name`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []access.Role{}
	for rows.Next() {
		var role access.Role
		var createdMs, updatedMs int64
		if err := rows.Scan(&role.ID, &role.Name, &role.Description,
			&createdMs, &updatedMs); err != nil {
			return nil, err
		}
		role.CreatedAt, role.UpdatedAt = fromMillis(createdMs), fromMillis(updatedMs)
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
