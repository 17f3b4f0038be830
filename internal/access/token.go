package access

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "charterops"

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents session token claims.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Tokens issues and validates HS256 session tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

// NewTokens builds a token signer. An empty secret disables token support;
// Enabled reports the state so callers can skip the authn layer in dev.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	t := &Tokens{ttl: ttl}
	if s := strings.TrimSpace(secret); s != "" {
		t.secret = []byte(s)
	}
	return t
}

// Enabled reports whether a signing secret is configured.
func (t *Tokens) Enabled() bool { return len(t.secret) > 0 }

// Generate signs a session token for the given principal and role names.
func (t *Tokens) Generate(principalID string, roles []string) (string, time.Time, error) {
	if !t.Enabled() {
		return "", time.Time{}, errors.New("token secret is not configured")
	}
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return "", time.Time{}, errors.New("principal id is required")
	}

	now := time.Now().UTC()
	expires := now.Add(t.ttl)
	claims := Claims{
		Roles: dedupe(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Validate verifies the signature and required claims.
func (t *Tokens) Validate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" || !t.Enabled() {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != tokenIssuer || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt == nil || time.Now().UTC().After(claims.ExpiresAt.Time) {
		return nil, ErrInvalidToken
	}
	claims.Roles = dedupe(claims.Roles)
	return claims, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
