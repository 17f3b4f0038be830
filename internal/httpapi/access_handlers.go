package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"charterops.org/internal/access"
)

type tokenRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type accessCheckRequest struct {
	PrincipalID string `json:"principal_id,omitempty"`
	Module      string `json:"module" validate:"required"`
	Action      string `json:"action" validate:"required"`
	ScopeType   string `json:"scope_type,omitempty"`
	ScopeValue  string `json:"scope_value,omitempty"`
}

type createAccountRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type createRoleRequest struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

type setPermissionsRequest struct {
	Permissions []string `json:"permissions" validate:"required"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id" validate:"required"`
}

type setScopesRequest struct {
	Scopes []access.DataScope `json:"scopes" validate:"required"`
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if a.deps.Tokens == nil || !a.deps.Tokens.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "token auth is not configured")
		return
	}
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := a.deps.Access.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, access.ErrUnauthorized) || errors.Is(err, access.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}
	principal, err := a.deps.Gate.Resolve(r.Context(), acct.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}
	roles := make([]string, 0, len(principal.Roles))
	for _, role := range principal.Roles {
		roles = append(roles, role.Name)
	}
	token, expires, err := a.deps.Tokens.Generate(acct.ID, roles)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expires.UTC().Format(time.RFC3339),
		"account":    acct,
	})
}

func (a *API) handleAccessCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req accessCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	principal, ok := a.principalID(r, req.PrincipalID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "principal required")
		return
	}
	action := access.Action(req.Action)
	if !access.ValidAction(action) {
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	var scope *access.ScopeRef
	if req.ScopeType != "" {
		scope = &access.ScopeRef{Type: req.ScopeType, Value: req.ScopeValue}
	}
	decision, err := a.deps.Gate.Authorize(r.Context(), principal, req.Module, action, scope)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown principal")
			return
		}
		writeError(w, http.StatusInternalServerError, "authorization failed")
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// requireManage guards provisioning endpoints on admin.manage when auth is
// enabled; in dev mode (no tokens) they are open.
func (a *API) requireManage(w http.ResponseWriter, r *http.Request) bool {
	principal, ok := access.PrincipalFromContext(r.Context())
	if !ok {
		if a.deps.Tokens != nil && a.deps.Tokens.Enabled() {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return false
		}
		return true
	}
	decision := a.deps.Gate.AuthorizePrincipal(principal, access.ModuleAdmin, access.ActionManage, nil)
	if !decision.Allowed {
		writeError(w, http.StatusForbidden, "manage permission required")
		return false
	}
	return true
}

func (a *API) handleAccounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !a.requireManage(w, r) {
			return
		}
		var req createAccountRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		acct, err := a.deps.Access.CreateAccount(r.Context(), req.Name, req.Email, req.Password)
		if err != nil {
			a.accessError(w, err)
			return
		}
		w.Header().Set("Location", "/v1/accounts/"+acct.ID)
		writeJSON(w, http.StatusCreated, acct)
	default:
		methodNotAllowed(w, http.MethodPost)
	}
}

// handleAccountResource serves /v1/accounts/{id}[/roles|/scopes|/status].
func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/accounts/"), "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(rest, "/")
	accountID := parts[0]
	if !a.requireManage(w, r) {
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := a.deps.Access.Deactivate(r.Context(), accountID); err != nil {
			a.accessError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": access.StatusDisabled})
	case len(parts) == 2 && parts[1] == "roles" && r.Method == http.MethodPost:
		var req assignRoleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.deps.Access.AssignRole(r.Context(), accountID, req.RoleID); err != nil {
			a.accessError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"assigned": true})
	case len(parts) == 3 && parts[1] == "roles" && r.Method == http.MethodDelete:
		if err := a.deps.Access.UnassignRole(r.Context(), accountID, parts[2]); err != nil {
			a.accessError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"assigned": false})
	case len(parts) == 2 && parts[1] == "scopes" && r.Method == http.MethodPut:
		var req setScopesRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.deps.Access.SetScopes(r.Context(), accountID, req.Scopes); err != nil {
			a.accessError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"scopes": req.Scopes})
	case len(parts) == 2 && parts[1] == "reactivate" && r.Method == http.MethodPost:
		if err := a.deps.Access.Reactivate(r.Context(), accountID); err != nil {
			a.accessError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": access.StatusActive})
	default:
		writeError(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !a.requireManage(w, r) {
		return
	}
	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	perms, err := parsePermissions(req.Permissions)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.deps.Access.CreateRole(r.Context(), req.Name, req.Description, perms)
	if err != nil {
		a.accessError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/roles/"+role.ID)
	writeJSON(w, http.StatusCreated, role)
}

// handleRoleResource serves /v1/roles/{id}/permissions.
func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "permissions" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, http.MethodPut)
		return
	}
	if !a.requireManage(w, r) {
		return
	}
	var req setPermissionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	perms, err := parsePermissions(req.Permissions)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.deps.Access.SetRolePermissions(r.Context(), parts[0], perms); err != nil {
		a.accessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": req.Permissions})
}

// parsePermissions decodes "module.action" strings.
func parsePermissions(raw []string) ([]access.Permission, error) {
	perms := make([]access.Permission, 0, len(raw))
	for _, s := range raw {
		module, actionRaw, ok := strings.Cut(s, ".")
		if !ok || module == "" {
			return nil, errors.New("permission must be module.action")
		}
		action := access.Action(actionRaw)
		if !access.ValidAction(action) {
			return nil, errors.New("unknown action in permission " + s)
		}
		perms = append(perms, access.Permission{Module: module, Action: action})
	}
	return perms, nil
}

func (a *API) accessError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, access.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, access.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, access.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	default:
		writeError(w, http.StatusInternalServerError, "access operation failed")
	}
}
