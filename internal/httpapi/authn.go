package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"charterops.org/internal/access"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// withAuth validates the bearer token and resolves the principal, with
// roles, permissions and scopes, into the request context. Disabled when
// no token secret is configured (dev mode: handlers take principal ids
// from request bodies).
func (a *API) withAuth(next http.Handler) http.Handler {
	if a.deps.Tokens == nil || !a.deps.Tokens.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.deps.Tokens.Validate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		principal, err := a.deps.Gate.Resolve(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, access.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unknown principal")
				return
			}
			writeError(w, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := access.ContextWithPrincipal(r.Context(), principal)
		ctx = access.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// principalID resolves the acting principal: the authenticated one when
// auth is on, otherwise the explicit id supplied by the request.
func (a *API) principalID(r *http.Request, explicit string) (string, bool) {
	if p, ok := access.PrincipalFromContext(r.Context()); ok {
		return p.ID(), true
	}
	explicit = strings.TrimSpace(explicit)
	if explicit == "" {
		return "", false
	}
	return explicit, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
