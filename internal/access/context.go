package access

import "context"

// Context keys are unexported struct types so no other package can collide
// with or spoof the authenticated identity.
type (
	ctxKeyPrincipal struct{}
	ctxKeyToken     struct{}
)

// ContextWithPrincipal records the gate-resolved principal for the rest of
// the request. Handlers and the audit recorder read it back instead of
// re-resolving roles.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal{}, principal)
}

// PrincipalFromContext returns the principal attached by the authn
// middleware, reporting false on requests that skipped it (dev mode runs
// without a token secret).
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	principal, ok := ctx.Value(ctxKeyPrincipal{}).(Principal)
	return principal, ok
}

// ContextWithToken keeps the raw bearer token alongside the principal so
// calls made on the caller's behalf can forward it.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyToken{}, token)
}

// TokenFromContext returns the bearer token attached during
// authentication, if any.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	token, ok := ctx.Value(ctxKeyToken{}).(string)
	if !ok || token == "" {
		return "", false
	}
	return token, true
}
