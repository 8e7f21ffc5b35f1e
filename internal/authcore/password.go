package authcore

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"

	"github.com/aether-os/kernel/internal/apperr"
)

// MinPasswordLength is spec.md's intentionally low floor — policy on top of
// this (complexity, rotation) is an external concern, not the kernel's.
const MinPasswordLength = 4

const (
	scryptN      = 1 << 15 // 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 64
	saltLen      = 16
)

// HashPassword derives a scrypt hash and returns it in the kernel's on-disk
// format: "<hex-salt>:<hex-scrypt-hash>".
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", apperr.Newf(apperr.InvalidInput, "password must be at least %d characters", MinPasswordLength)
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("derive scrypt key: %w", err)
	}
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(hash), nil
}

// VerifyPassword checks password against a hash produced by HashPassword,
// comparing in constant time per spec.md §4.3.1.
func VerifyPassword(password, stored string) bool {
	salt, wantHash, ok := splitHash(stored)
	if !ok {
		return false
	}
	gotHash, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(gotHash, wantHash) == 1
}

func splitHash(stored string) (salt, hash []byte, ok bool) {
	parts := strings.SplitN(stored, ":", 2)
	if len(parts) != 2 {
		return nil, nil, false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, nil, false
	}
	hash, err = hex.DecodeString(parts[1])
	if err != nil {
		return nil, nil, false
	}
	return salt, hash, true
}
