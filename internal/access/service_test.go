package access

import (
	"context"
	"errors"
	"testing"
)

func newTestService(t *testing.T) (*Service, *InMemory) {
	t.Helper()
	store := NewInMemory()
	svc, err := NewService(store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store
}

func TestCreateAccountAndAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	acct, err := svc.CreateAccount(ctx, "Dana Driver", "  Dana@Example.Test ", "hunter2hunter2")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if acct.Email != "dana@example.test" {
		t.Fatalf("email not normalised: %q", acct.Email)
	}
	if acct.Status != StatusActive {
		t.Fatalf("status = %q, want active", acct.Status)
	}

	got, err := svc.Authenticate(ctx, "dana@example.test", "hunter2hunter2")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != acct.ID {
		t.Fatalf("authenticated wrong account")
	}

	if _, err := svc.Authenticate(ctx, "dana@example.test", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong password: got %v, want ErrUnauthorized", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@example.test", "hunter2hunter2"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown email: got %v, want ErrUnauthorized", err)
	}
}

func TestCreateAccountValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name, email, password string
	}{
		{"", "a@b.test", "password123"},
		{"Name", "not-an-email", "password123"},
		{"Name", "a@b.test", ""},
	}
	for _, c := range cases {
		if _, err := svc.CreateAccount(ctx, c.name, c.email, c.password); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("create(%q,%q): got %v, want ErrInvalidInput", c.name, c.email, err)
		}
	}
}

func TestDeactivateBlocksAuthentication(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	acct, err := svc.CreateAccount(ctx, "Casey Clerk", "casey@example.test", "password123")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := svc.Deactivate(ctx, acct.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "casey@example.test", "password123"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("disabled account authenticated: %v", err)
	}
	if err := svc.Reactivate(ctx, acct.ID); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "casey@example.test", "password123"); err != nil {
		t.Fatalf("reactivated account should authenticate: %v", err)
	}
}

func TestRoleLifecycle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	acct, err := svc.CreateAccount(ctx, "Robin", "robin@example.test", "password123")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	role, err := svc.CreateRole(ctx, "invoicer", "invoice editors", []Permission{
		{Module: ModuleInvoicing, Action: ActionEdit},
	})
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := svc.AssignRole(ctx, acct.ID, role.ID); err != nil {
		t.Fatalf("assign role: %v", err)
	}

	roles, err := store.Roles(ctx).RolesForAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("roles for account: %v", err)
	}
	if len(roles) != 1 || roles[0].Name != "invoicer" {
		t.Fatalf("roles = %+v, want [invoicer]", roles)
	}

	if err := svc.SetRolePermissions(ctx, role.ID, []Permission{
		{Module: ModuleInvoicing, Action: ActionView},
	}); err != nil {
		t.Fatalf("set permissions: %v", err)
	}
	got, err := store.Roles(ctx).Find(ctx, role.ID)
	if err != nil {
		t.Fatalf("find role: %v", err)
	}
	if len(got.Permissions) != 1 || got.Permissions[0].Action != ActionView {
		t.Fatalf("permissions not replaced: %+v", got.Permissions)
	}

	if err := svc.UnassignRole(ctx, acct.ID, role.ID); err != nil {
		t.Fatalf("unassign role: %v", err)
	}
	roles, err = store.Roles(ctx).RolesForAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("roles for account: %v", err)
	}
	if len(roles) != 0 {
		t.Fatalf("expected no roles after unassign, got %+v", roles)
	}

	if _, err := svc.CreateRole(ctx, "bad", "", []Permission{{Module: "", Action: ActionView}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("invalid permission: got %v, want ErrInvalidInput", err)
	}
}
