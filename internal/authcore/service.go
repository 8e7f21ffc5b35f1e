// Package authcore implements spec.md §4.3: user lifecycle, password
// hashing, TOTP second factor, bearer tokens, the org/team/membership
// graph, and the two-layer permission engine.
package authcore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aether-os/kernel/internal/apperr"
	"github.com/aether-os/kernel/internal/eventbus"
	"github.com/aether-os/kernel/internal/store"
)

// InitialAdmin seeds the first admin user on an empty store.
type InitialAdmin struct {
	Username string
	Password string
}

// Service is the AuthCore façade. It depends on a Store and an EventBus
// (spec.md §2's dependency graph: "AuthCore depends on StateStore +
// EventBus"), grounded on hub/internal/auth/auth.go's Service/NewService
// shape, generalized from a single-tenant bcrypt+runtime-token design to
// scrypt passwords, TOTP MFA, and the org/policy graph spec.md calls for.
type Service struct {
	store       store.Store
	bus         *eventbus.Bus
	tokens      *TokenIssuer
	mfaTokenTTL time.Duration
}

// Config configures Service construction.
type Config struct {
	TokenSecret  string
	TokenExpiry  time.Duration
	MFATokenTTL  time.Duration
	InitialAdmin *InitialAdmin
}

// New constructs a Service.
func New(s store.Store, bus *eventbus.Bus, cfg Config) *Service {
	return &Service{
		store:       s,
		bus:         bus,
		tokens:      NewTokenIssuer(cfg.TokenSecret, cfg.TokenExpiry, cfg.MFATokenTTL),
		mfaTokenTTL: cfg.MFATokenTTL,
	}
}

// Bootstrap creates the initial admin user if configured and no such user
// exists yet. Idempotent.
func (s *Service) Bootstrap(ctx context.Context, admin *InitialAdmin) error {
	if admin == nil {
		return nil
	}
	if _, err := s.store.GetUserByUsername(ctx, admin.Username); err == nil {
		return nil // already bootstrapped
	} else if !apperr.Is(err, apperr.NotFound) {
		return err
	}

	_, err := s.createUser(ctx, admin.Username, admin.Password, "admin")
	return err
}

// Register creates a new user account with role "user".
func (s *Service) Register(ctx context.Context, username, password string) (*store.User, error) {
	return s.createUser(ctx, username, password, "user")
}

func (s *Service) createUser(ctx context.Context, username, password, role string) (*store.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &store.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.bus.Publish(EventUserCreated, toPublicUser(u))
	return u, nil
}

// DeleteUser removes a user account.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.bus.Publish(EventUserDeleted, toPublicUser(u))
	return nil
}

// LoginResult is the outcome of Login: either a full token, or an MFA
// step-up token with MFARequired set when the account has MFA enabled.
type LoginResult struct {
	Token       string
	MFAToken    string
	MFARequired bool
}

// Login implements spec.md §4.3.2's login flow: password verified → if MFA
// disabled, issue a full token; if MFA enabled, issue an MFA-purpose token
// only and report MFARequired.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		s.bus.Publish(EventAuthFailure, map[string]string{"username": username, "reason": "no such user"})
		return nil, apperr.New(apperr.Forbidden, "invalid credentials")
	}
	if !VerifyPassword(password, u.PasswordHash) {
		s.bus.Publish(EventAuthFailure, map[string]string{"username": username, "reason": "bad password"})
		return nil, apperr.New(apperr.Forbidden, "invalid credentials")
	}

	if u.MFAEnabled {
		mfaTok, err := s.tokens.IssueMFAToken(u)
		if err != nil {
			return nil, err
		}
		return &LoginResult{MFAToken: mfaTok, MFARequired: true}, nil
	}

	return s.finishLogin(ctx, u)
}

// VerifyMFA completes a two-factor login: verifies mfaToken carries
// purpose=="mfa", verifies the TOTP code, then issues a full token.
func (s *Service) VerifyMFA(ctx context.Context, mfaToken, code string) (*LoginResult, error) {
	claims, err := s.tokens.Parse(mfaToken)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != PurposeMFA {
		return nil, apperr.New(apperr.Forbidden, "token is not an mfa step-up token")
	}

	u, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return nil, apperr.New(apperr.Forbidden, "user no longer exists")
	}
	if !u.MFAEnabled || !VerifyTOTPCode(u.MFASecret, code) {
		s.bus.Publish(EventAuthFailure, map[string]string{"username": u.Username, "reason": "bad totp code"})
		return nil, apperr.New(apperr.Forbidden, "invalid mfa code")
	}

	return s.finishLogin(ctx, u)
}

func (s *Service) finishLogin(ctx context.Context, u *store.User) (*LoginResult, error) {
	tok, err := s.tokens.IssueFullToken(u)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	u.LastLoginAt = &now
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	s.bus.Publish(EventAuthSuccess, toPublicUser(u))
	return &LoginResult{Token: tok}, nil
}

// VerifyToken implements spec.md §4.3.1's verifyToken: fails if the token
// isn't three valid, unexpired, correctly-signed segments, or if the
// subject user no longer exists.
func (s *Service) VerifyToken(ctx context.Context, tokenStr string) (*store.User, error) {
	claims, err := s.tokens.Parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != "" {
		return nil, apperr.New(apperr.Forbidden, "step-up tokens cannot authenticate a session")
	}
	u, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return nil, apperr.New(apperr.Forbidden, "user no longer exists")
	}
	return u, nil
}

// SetupMFA generates a new TOTP secret for userID and persists it, but does
// not yet turn MFA on — per spec.md Scenario S2, the user must prove
// possession of the secret via EnableMFA before MFAEnabled flips to true.
// Returns the otpauth:// provisioning URI for the caller to render as a QR
// code (out of the kernel's scope to render).
func (s *Service) SetupMFA(ctx context.Context, userID string) (string, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	secret, err := GenerateTOTPSecret()
	if err != nil {
		return "", err
	}
	u.MFASecret = secret
	u.MFAEnabled = false
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return "", err
	}
	return TOTPURI(u.Username, secret), nil
}

// EnableMFA turns MFA on for userID once the caller proves possession of
// the secret minted by SetupMFA by submitting a valid current TOTP code.
func (s *Service) EnableMFA(ctx context.Context, userID, code string) error {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.MFASecret == "" {
		return apperr.New(apperr.InvalidState, "mfa has not been set up for this user")
	}
	if !VerifyTOTPCode(u.MFASecret, code) {
		return apperr.New(apperr.Forbidden, "invalid mfa code")
	}
	u.MFAEnabled = true
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return err
	}
	s.bus.Publish(EventAuthMFAEnabled, toPublicUser(u))
	return nil
}

// DisableMFA clears a user's TOTP secret and disables MFA, per spec.md
// invariant I6: "disabling clears both".
func (s *Service) DisableMFA(ctx context.Context, userID string) error {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	u.MFASecret = ""
	u.MFAEnabled = false
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return err
	}
	s.bus.Publish(EventAuthMFADisabled, toPublicUser(u))
	return nil
}

func toPublicUser(u *store.User) publicUser {
	return publicUser{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName, Role: u.Role, MFAEnabled: u.MFAEnabled}
}
