package identity

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier("test-secret", "api-relay", "")
	if err != nil {
		t.Fatalf("NewJWTVerifier failed: %v", err)
	}
	return v
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		token  string
		ok     bool
	}{
		{"empty", "", "", false},
		{"scheme only", "Bearer", "", false},
		{"basic", "Basic dXNlcjpwYXNz", "", false},
		{"bearer", "Bearer abc.def.ghi", "abc.def.ghi", true},
		{"lowercase scheme", "bearer abc", "abc", true},
		{"trailing text", "Bearer abc extra", "abc", true},
		{"double space", "Bearer  abc", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, ok := BearerToken(tt.header)
			if token != tt.token || ok != tt.ok {
				t.Errorf("BearerToken(%q) = %q, %v; want %q, %v", tt.header, token, ok, tt.token, tt.ok)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	v := newTestVerifier(t)
	r := NewResolver(v, zerolog.Nop())
	ctx := context.Background()

	valid, err := v.Issue("user-a", "a@example.test", time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	expired, err := v.Issue("user-a", "", -time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	other, err := NewJWTVerifier("other-secret", "api-relay", "")
	if err != nil {
		t.Fatalf("NewJWTVerifier failed: %v", err)
	}
	forged, err := other.Issue("user-a", "", time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	id := r.Resolve(ctx, "Bearer "+valid)
	if id == nil {
		t.Fatal("Expected identity for valid token")
	}
	if id.SubjectID != "user-a" || id.Email != "a@example.test" {
		t.Errorf("Identity mismatch: got %+v", id)
	}

	for name, header := range map[string]string{
		"absent":  "",
		"garbage": "Bearer not-a-token",
		"expired": "Bearer " + expired,
		"forged":  "Bearer " + forged,
		"basic":   "Basic " + valid,
	} {
		if id := r.Resolve(ctx, header); id != nil {
			t.Errorf("%s: expected anonymous, got %+v", name, id)
		}
	}
}

func TestResolveWithoutVerifier(t *testing.T) {
	v := newTestVerifier(t)
	token, err := v.Issue("user-a", "", time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	r := NewResolver(nil, zerolog.Nop())
	if id := r.Resolve(context.Background(), "Bearer "+token); id != nil {
		t.Errorf("Expected anonymous without verifier, got %+v", id)
	}
}

func TestVerifyIssuerAndAudience(t *testing.T) {
	ctx := context.Background()

	strict, err := NewJWTVerifier("test-secret", "api-relay", "relay-clients")
	if err != nil {
		t.Fatalf("NewJWTVerifier failed: %v", err)
	}
	loose, err := NewJWTVerifier("test-secret", "someone-else", "")
	if err != nil {
		t.Fatalf("NewJWTVerifier failed: %v", err)
	}

	good, err := strict.Issue("user-a", "", time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := strict.Verify(ctx, good); err != nil {
		t.Errorf("Expected token to verify: %v", err)
	}

	wrongIssuer, err := loose.Issue("user-a", "", time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := strict.Verify(ctx, wrongIssuer); err == nil {
		t.Error("Expected error for wrong issuer and missing audience")
	}

	noSubject, err := strict.Issue("", "", time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := strict.Verify(ctx, noSubject); err == nil {
		t.Error("Expected error for token without subject")
	}
}

func TestNewJWTVerifierRequiresSecret(t *testing.T) {
	if _, err := NewJWTVerifier("  ", "", ""); err == nil {
		t.Error("Expected error for empty secret")
	}
}
