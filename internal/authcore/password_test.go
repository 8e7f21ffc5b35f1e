package authcore

import "testing"

func TestHashPassword_TooShort(t *testing.T) {
	if _, err := HashPassword("abc"); err == nil {
		t.Fatal("expected error for password shorter than MinPasswordLength")
	}
}

func TestHashAndVerifyPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !VerifyPassword("correct-horse", hash) {
		t.Fatal("expected matching password to verify")
	}
	if VerifyPassword("wrong-password", hash) {
		t.Fatal("expected mismatched password to fail verification")
	}
}

func TestHashPassword_UniqueSaltPerCall(t *testing.T) {
	h1, _ := HashPassword("same-password")
	h2, _ := HashPassword("same-password")
	if h1 == h2 {
		t.Fatal("expected distinct hashes for the same password due to random salt")
	}
}

func TestVerifyPassword_MalformedStored(t *testing.T) {
	if VerifyPassword("x", "not-a-valid-hash") {
		t.Fatal("expected malformed stored hash to fail verification")
	}
	if VerifyPassword("x", "zz:zz") {
		t.Fatal("expected non-hex stored hash to fail verification")
	}
}
