package access

import (
	"testing"
	"time"
)

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	signed, expires, err := tokens.Generate("acct-1", []string{"Dispatcher", "dispatcher", ""})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !expires.After(time.Now()) {
		t.Fatalf("expiry %v is not in the future", expires)
	}

	claims, err := tokens.Validate(signed)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "acct-1" {
		t.Fatalf("subject = %q, want acct-1", claims.Subject)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "dispatcher" {
		t.Fatalf("roles = %v, want deduped [dispatcher]", claims.Roles)
	}
}

func TestTokensRejectsWrongSecret(t *testing.T) {
	signed, _, err := NewTokens("secret-a", time.Hour).Generate("acct-1", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewTokens("secret-b", time.Hour).Validate(signed); err == nil {
		t.Fatalf("expected validation failure with a different secret")
	}
}

func TestTokensDisabledWithoutSecret(t *testing.T) {
	tokens := NewTokens("   ", time.Hour)
	if tokens.Enabled() {
		t.Fatalf("blank secret should disable tokens")
	}
	if _, _, err := tokens.Generate("acct-1", nil); err == nil {
		t.Fatalf("expected generate to fail when disabled")
	}
}

func TestTokensRejectsExpired(t *testing.T) {
	tokens := NewTokens("test-secret", time.Nanosecond)
	signed, _, err := tokens.Generate("acct-1", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := tokens.Validate(signed); err == nil {
		t.Fatalf("expected expired token to fail validation")
	}
}

func TestPasswordHashAndVerify(t *testing.T) {
	encoded, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := VerifyPassword(encoded, "correct horse battery staple"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyPassword(encoded, "wrong"); err == nil {
		t.Fatalf("expected mismatch error for wrong password")
	}
	if err := VerifyPassword("not-a-hash", "x"); err == nil {
		t.Fatalf("expected error for malformed hash")
	}
}
