package authcore

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // RFC 6238 mandates SHA-1 for the default TOTP algorithm.
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// No example repo or other_examples/ file in the retrieval pack carries a
// TOTP/RFC 6238 library (the closest neighbors — golang-jwt, bcrypt/scrypt —
// cover tokens and passwords, not HOTP/TOTP). This implementation is
// therefore built directly against the standard library's crypto/hmac and
// crypto/sha1, per spec.md §4.3.2's exact byte-level algorithm.

const (
	totpSecretLen = 20
	totpPeriod    = 30 * time.Second
	totpDigits    = 6
)

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateTOTPSecret returns a new 20-byte TOTP secret, Base32-encoded
// (RFC 4648, no padding) per spec.md §4.3.2.
func GenerateTOTPSecret() (string, error) {
	b := make([]byte, totpSecretLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	return base32NoPad.EncodeToString(b), nil
}

// TOTPURI builds the otpauth:// provisioning URI for username/secret.
func TOTPURI(username, secret string) string {
	return fmt.Sprintf("otpauth://totp/AetherOS:%s?secret=%s&issuer=AetherOS&algorithm=SHA1&digits=6&period=30",
		url.QueryEscape(username), secret)
}

// totpCodeAt computes the 6-digit code for secret at unix time step counter.
func totpCodeAt(secret string, counter uint64) (string, error) {
	key, err := base32NoPad.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decode totp secret: %w", err)
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < totpDigits; i++ {
		mod *= 10
	}
	code := truncated % mod
	return fmt.Sprintf("%0*d", totpDigits, code), nil
}

// GenerateTOTPCode returns the current 6-digit code for secret.
func GenerateTOTPCode(secret string) (string, error) {
	return totpCodeAt(secret, uint64(time.Now().Unix())/uint64(totpPeriod.Seconds()))
}

// VerifyTOTPCode accepts the code for the current time step as well as one
// step before and after, to tolerate clock drift (spec.md §4.3.2, B4).
func VerifyTOTPCode(secret, code string) bool {
	if _, err := strconv.Atoi(code); err != nil || len(code) != totpDigits {
		return false
	}
	now := uint64(time.Now().Unix()) / uint64(totpPeriod.Seconds())
	for _, counter := range []uint64{now - 1, now, now + 1} {
		want, err := totpCodeAt(secret, counter)
		if err != nil {
			return false
		}
		if hmac.Equal([]byte(want), []byte(code)) {
			return true
		}
	}
	return false
}
