package authcore

import (
	"strings"
	"testing"
	"time"

	"github.com/aether-os/kernel/internal/apperr"
	"github.com/aether-os/kernel/internal/store"
)

func TestTokenIssuer_FullTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("a-signing-secret-at-least-32-bytes-long", time.Hour, 5*time.Minute)
	u := &store.User{ID: "u1", Username: "ada", Role: "admin"}

	tok, err := issuer.IssueFullToken(u)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if parts := strings.Split(tok, "."); len(parts) != 3 {
		t.Fatalf("expected 3 dot-separated segments, got %d", len(parts))
	}

	claims, err := issuer.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "u1" || claims.Username != "ada" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Purpose != "" {
		t.Fatalf("full token should not carry a purpose, got %q", claims.Purpose)
	}
}

func TestTokenIssuer_MFATokenPurpose(t *testing.T) {
	issuer := NewTokenIssuer("a-signing-secret-at-least-32-bytes-long", time.Hour, 5*time.Minute)
	u := &store.User{ID: "u2"}

	tok, err := issuer.IssueMFAToken(u)
	if err != nil {
		t.Fatalf("issue mfa token: %v", err)
	}
	claims, err := issuer.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Purpose != PurposeMFA {
		t.Fatalf("expected purpose %q, got %q", PurposeMFA, claims.Purpose)
	}
}

func TestTokenIssuer_RejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer("a-signing-secret-at-least-32-bytes-long", -time.Second, 5*time.Minute)
	u := &store.User{ID: "u3"}

	tok, err := issuer.IssueFullToken(u)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.Parse(tok); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("expected FORBIDDEN for expired token, got %v", err)
	}
}

func TestTokenIssuer_RejectsWrongSecret(t *testing.T) {
	issuerA := NewTokenIssuer("secret-one-at-least-32-bytes-long!!", time.Hour, 5*time.Minute)
	issuerB := NewTokenIssuer("secret-two-at-least-32-bytes-long!!", time.Hour, 5*time.Minute)

	tok, _ := issuerA.IssueFullToken(&store.User{ID: "u4"})
	if _, err := issuerB.Parse(tok); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("expected FORBIDDEN for mismatched signing secret, got %v", err)
	}
}

func TestTokenIssuer_RejectsMalformedSegments(t *testing.T) {
	issuer := NewTokenIssuer("a-signing-secret-at-least-32-bytes-long", time.Hour, 5*time.Minute)
	if _, err := issuer.Parse("not-a-token"); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("expected FORBIDDEN for malformed token, got %v", err)
	}
}
