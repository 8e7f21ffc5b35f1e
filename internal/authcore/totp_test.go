package authcore

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateTOTPSecret_Format(t *testing.T) {
	secret, err := GenerateTOTPSecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := base32NoPad.DecodeString(secret); err != nil {
		t.Fatalf("secret is not valid unpadded base32: %v", err)
	}
	if strings.ContainsAny(secret, "=0189") {
		t.Fatalf("base32 alphabet should exclude 0,1,8,9 and padding, got %q", secret)
	}
}

func TestTOTPURI_Format(t *testing.T) {
	uri := TOTPURI("ada", "JBSWY3DPEHPK3PXP")
	want := "otpauth://totp/AetherOS:ada?secret=JBSWY3DPEHPK3PXP&issuer=AetherOS&algorithm=SHA1&digits=6&period=30"
	if uri != want {
		t.Fatalf("got %q, want %q", uri, want)
	}
}

func TestVerifyTOTPCode_CurrentStep(t *testing.T) {
	secret, _ := GenerateTOTPSecret()
	code, err := GenerateTOTPCode(secret)
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if !VerifyTOTPCode(secret, code) {
		t.Fatal("expected current-step code to verify")
	}
}

func TestVerifyTOTPCode_DriftTolerance(t *testing.T) {
	secret, _ := GenerateTOTPSecret()
	now := uint64(time.Now().Unix()) / 30
	prev, _ := totpCodeAt(secret, now-1)
	next, _ := totpCodeAt(secret, now+1)

	if !VerifyTOTPCode(secret, prev) {
		t.Fatal("expected T-1 code to verify")
	}
	if !VerifyTOTPCode(secret, next) {
		t.Fatal("expected T+1 code to verify")
	}
}

func TestVerifyTOTPCode_OutsideWindow(t *testing.T) {
	secret, _ := GenerateTOTPSecret()
	now := uint64(time.Now().Unix()) / 30
	stale, _ := totpCodeAt(secret, now-2)
	if VerifyTOTPCode(secret, stale) {
		t.Fatal("expected T-2 code to be rejected")
	}
}

func TestVerifyTOTPCode_WrongSecret(t *testing.T) {
	secretA, _ := GenerateTOTPSecret()
	secretB, _ := GenerateTOTPSecret()
	code, _ := GenerateTOTPCode(secretA)
	if VerifyTOTPCode(secretB, code) {
		t.Fatal("expected code generated from a different secret to fail")
	}
}

func TestVerifyTOTPCode_MalformedCode(t *testing.T) {
	secret, _ := GenerateTOTPSecret()
	if VerifyTOTPCode(secret, "12a456") {
		t.Fatal("expected non-numeric code to fail")
	}
	if VerifyTOTPCode(secret, "123") {
		t.Fatal("expected short code to fail")
	}
}
