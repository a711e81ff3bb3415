package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestAdapter(t *testing.T, opts ...Option) *Adapter {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	adapter, err := NewAdapter("test-secret", opts...)
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}
	return adapter
}

func TestNewAdapter(t *testing.T) {
	adapter, err := NewAdapter("test-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(adapter.secret) != "test-secret" {
		t.Error("expected secret to be set")
	}
	if adapter.issuer != DefaultIssuer {
		t.Errorf("expected issuer %q, got %q", DefaultIssuer, adapter.issuer)
	}
}

func TestNewAdapter_RequiresSecret(t *testing.T) {
	if _, err := NewAdapter(""); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestGenerateAndParseToken(t *testing.T) {
	adapter := newTestAdapter(t)
	claims := domain.NewTokenClaims("alice", "alice@example.com", domain.RoleMember, testNow, time.Hour)

	token, err := adapter.GenerateToken(claims)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("expected a three-part JWT, got %q", token)
	}

	parsed, err := adapter.ParseToken(token)
	if err != nil {
		t.Fatalf("failed to parse token: %v", err)
	}
	if parsed.Subject != "alice" {
		t.Errorf("expected subject alice, got %q", parsed.Subject)
	}
	if parsed.Email != "alice@example.com" {
		t.Errorf("expected email, got %q", parsed.Email)
	}
	if parsed.Role != domain.RoleMember {
		t.Errorf("expected member role, got %q", parsed.Role)
	}
	if parsed.ExpiresAt != claims.ExpiresAt || parsed.IssuedAt != claims.IssuedAt {
		t.Errorf("timestamps changed: %+v vs %+v", parsed, claims)
	}
}

func TestGenerateToken_RequiresSubject(t *testing.T) {
	adapter := newTestAdapter(t)
	_, err := adapter.GenerateToken(&domain.TokenClaims{Role: domain.RoleAdmin})
	if !errors.Is(err, domain.ErrMissingRequiredField) {
		t.Errorf("expected ErrMissingRequiredField, got %v", err)
	}
}

func TestParseToken_Expired(t *testing.T) {
	adapter := newTestAdapter(t)
	claims := domain.NewTokenClaims("alice", "", domain.RoleViewer, testNow.Add(-2*time.Hour), time.Hour)
	token, err := adapter.GenerateToken(claims)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	_, err = adapter.ParseToken(token)
	if !errors.Is(err, domain.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	signer := newTestAdapter(t)
	token, _ := signer.GenerateToken(domain.NewTokenClaims("alice", "", domain.RoleAdmin, testNow, time.Hour))

	other, _ := NewAdapter("other-secret", WithClock(func() time.Time { return testNow }))
	_, err := other.ParseToken(token)
	if !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestParseToken_WrongIssuer(t *testing.T) {
	signer := newTestAdapter(t, WithIssuer("someone-else"))
	token, _ := signer.GenerateToken(domain.NewTokenClaims("alice", "", domain.RoleAdmin, testNow, time.Hour))

	_, err := newTestAdapter(t).ParseToken(token)
	if !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestParseToken_RejectsNoneAlgorithm(t *testing.T) {
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwtClaims{
		Role: domain.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "mallory",
			Issuer:    DefaultIssuer,
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build token: %v", err)
	}

	if _, err := newTestAdapter(t).ParseToken(token); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestParseToken_Malformed(t *testing.T) {
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := newTestAdapter(t).ParseToken(token); !errors.Is(err, domain.ErrTokenInvalid) {
			t.Errorf("ParseToken(%q): expected ErrTokenInvalid, got %v", token, err)
		}
	}
}
