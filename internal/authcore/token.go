package authcore

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aether-os/kernel/internal/apperr"
	"github.com/aether-os/kernel/internal/store"
)

// PurposeMFA marks a step-up token minted between the password check and the
// TOTP check of a two-factor login (spec.md §4.3.1/§4.3.2).
const PurposeMFA = "mfa"

// Claims is the three-segment bearer token payload of spec.md §4.3.1. It is
// minted and verified with github.com/golang-jwt/jwt/v5 — the exact library
// and call shape the teacher uses in hub/internal/auth/auth.go — which
// produces the header {"alg":"HS256","typ":"JWT"} and
// HMAC-SHA256(header "." claims) wire format spec.md's token description
// calls for. Claims embeds jwt.RegisteredClaims for iat/exp/sub so
// jwt.ParseWithClaims alone rejects malformed/expired/mis-signed tokens;
// the "user still exists" check is layered on top by the caller.
type Claims struct {
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	Purpose  string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies bearer tokens against a single process-wide
// signing secret.
type TokenIssuer struct {
	secret      []byte
	tokenExpiry time.Duration
	mfaExpiry   time.Duration
}

// NewTokenIssuer constructs a TokenIssuer. secret must already be resolved
// (configured or randomly generated) by the caller — see
// config.Config.EnsureTokenSecret, which generates 32 random bytes when no
// secret is configured and reports that it did so; the serve command logs
// the one-line notice.
func NewTokenIssuer(secret string, tokenExpiry, mfaExpiry time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), tokenExpiry: tokenExpiry, mfaExpiry: mfaExpiry}
}

// IssueFullToken mints a full session token for u.
func (t *TokenIssuer) IssueFullToken(u *store.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.tokenExpiry)),
		},
	}
	return t.sign(claims)
}

// IssueMFAToken mints a short-lived step-up token for u, used between the
// password check and the TOTP check of a two-factor login.
func (t *TokenIssuer) IssueMFAToken(u *store.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		Purpose: PurposeMFA,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.mfaExpiry)),
		},
	}
	return t.sign(claims)
}

func (t *TokenIssuer) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse verifies tokenStr's signature, segment count, and expiry, and
// returns its claims. It does NOT check that the subject user still exists —
// callers that need spec.md's full verifyToken semantics should follow this
// with a store lookup (see Service.VerifyToken).
func (t *TokenIssuer) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Forbidden, "invalid token", err)
	}
	if !token.Valid {
		return nil, apperr.New(apperr.Forbidden, "invalid token")
	}
	return claims, nil
}
