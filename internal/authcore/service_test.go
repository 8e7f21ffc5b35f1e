package authcore

import (
	"context"
	"testing"
	"time"

	"github.com/aether-os/kernel/internal/apperr"
	"github.com/aether-os/kernel/internal/eventbus"
	"github.com/aether-os/kernel/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return New(store.NewMemoryStore(), eventbus.New(nil), Config{
		TokenSecret: "test-secret-test-secret",
		TokenExpiry: time.Hour,
		MFATokenTTL: 5 * time.Minute,
	})
}

func TestService_RegisterAndLogin(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	u, err := s.Register(ctx, "alice", "hunter2")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Role != "user" {
		t.Fatalf("new user role = %q, want %q", u.Role, "user")
	}

	res, err := s.Login(ctx, "alice", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.MFARequired || res.Token == "" {
		t.Fatalf("expected a full token with no MFA step-up, got %+v", res)
	}

	verified, err := s.VerifyToken(ctx, res.Token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if verified.ID != u.ID {
		t.Fatalf("VerifyToken resolved user %q, want %q", verified.ID, u.ID)
	}
}

func TestService_Login_WrongPassword(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	if _, err := s.Register(ctx, "bob", "correct-horse"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := s.Login(ctx, "bob", "wrong"); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("Login with wrong password: err = %v, want FORBIDDEN", err)
	}
}

func TestService_Login_UnknownUser(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Login(context.Background(), "nobody", "x"); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("Login with unknown user: err = %v, want FORBIDDEN", err)
	}
}

func TestService_MFALoginFlow(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	u, err := s.Register(ctx, "carol", "swordfish")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := s.SetupMFA(ctx, u.ID); err != nil {
		t.Fatalf("SetupMFA: %v", err)
	}
	pending, err := s.store.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if pending.MFAEnabled {
		t.Fatal("SetupMFA must not enable MFA before a code is confirmed")
	}
	setupCode, err := GenerateTOTPCode(pending.MFASecret)
	if err != nil {
		t.Fatalf("GenerateTOTPCode: %v", err)
	}
	if err := s.EnableMFA(ctx, u.ID, setupCode); err != nil {
		t.Fatalf("EnableMFA: %v", err)
	}
	if _, err := s.SetupMFA(ctx, "does-not-exist"); err == nil {
		t.Fatal("expected SetupMFA to fail for unknown user")
	}

	res, err := s.Login(ctx, "carol", "swordfish")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !res.MFARequired || res.MFAToken == "" || res.Token != "" {
		t.Fatalf("expected an MFA step-up result, got %+v", res)
	}

	reloaded, err := s.store.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	code, err := GenerateTOTPCode(reloaded.MFASecret)
	if err != nil {
		t.Fatalf("GenerateTOTPCode: %v", err)
	}

	final, err := s.VerifyMFA(ctx, res.MFAToken, code)
	if err != nil {
		t.Fatalf("VerifyMFA: %v", err)
	}
	if final.Token == "" {
		t.Fatal("expected a full token after successful MFA verification")
	}

	if _, err := s.VerifyMFA(ctx, res.MFAToken, "000000"); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("VerifyMFA with wrong code: err = %v, want FORBIDDEN", err)
	}
}

func TestService_VerifyMFA_RejectsFullToken(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	u, _ := s.Register(ctx, "dave", "password1")
	res, err := s.Login(ctx, "dave", "password1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := s.VerifyMFA(ctx, res.Token, "123456"); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("VerifyMFA with a full token: err = %v, want FORBIDDEN", err)
	}
	_ = u
}

func TestService_EnableMFA_RequiresValidCode(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	u, _ := s.Register(ctx, "frank", "password1")

	if err := s.EnableMFA(ctx, u.ID, "000000"); !apperr.Is(err, apperr.InvalidState) {
		t.Fatalf("EnableMFA before SetupMFA: err = %v, want INVALID_STATE", err)
	}

	if _, err := s.SetupMFA(ctx, u.ID); err != nil {
		t.Fatalf("SetupMFA: %v", err)
	}
	reloaded, err := s.store.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if reloaded.MFAEnabled {
		t.Fatal("SetupMFA must leave MFAEnabled false until a code is confirmed")
	}

	if err := s.EnableMFA(ctx, u.ID, "000000"); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("EnableMFA with wrong code: err = %v, want FORBIDDEN", err)
	}
	reloaded, err = s.store.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if reloaded.MFAEnabled {
		t.Fatal("a wrong confirmation code must not enable MFA")
	}
}

func TestService_DisableMFA_ClearsSecret(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	u, _ := s.Register(ctx, "erin", "password1")
	if _, err := s.SetupMFA(ctx, u.ID); err != nil {
		t.Fatalf("SetupMFA: %v", err)
	}
	pending, err := s.store.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	code, err := GenerateTOTPCode(pending.MFASecret)
	if err != nil {
		t.Fatalf("GenerateTOTPCode: %v", err)
	}
	if err := s.EnableMFA(ctx, u.ID, code); err != nil {
		t.Fatalf("EnableMFA: %v", err)
	}
	if err := s.DisableMFA(ctx, u.ID); err != nil {
		t.Fatalf("DisableMFA: %v", err)
	}
	reloaded, err := s.store.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if reloaded.MFAEnabled || reloaded.MFASecret != "" {
		t.Fatal("DisableMFA must clear both MFAEnabled and MFASecret")
	}
}

func TestService_Bootstrap_IdempotentAndAdmin(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	admin := &InitialAdmin{Username: "root", Password: "changeme"}

	if err := s.Bootstrap(ctx, admin); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	u, err := s.store.GetUserByUsername(ctx, "root")
	if err != nil {
		t.Fatalf("expected bootstrapped admin to exist: %v", err)
	}
	if u.Role != "admin" {
		t.Fatalf("bootstrapped user role = %q, want admin", u.Role)
	}

	// Second call must be a no-op, not a duplicate-user error.
	if err := s.Bootstrap(ctx, admin); err != nil {
		t.Fatalf("second Bootstrap call should be idempotent: %v", err)
	}
}

func TestService_VerifyToken_DeletedUser(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	u, _ := s.Register(ctx, "frank", "password1")
	res, err := s.Login(ctx, "frank", "password1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := s.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := s.VerifyToken(ctx, res.Token); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("VerifyToken for a deleted user: err = %v, want FORBIDDEN", err)
	}
}
