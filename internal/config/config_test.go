package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDuration_UnmarshalJSON_String(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"30s"`), &d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Duration != 30*time.Second {
		t.Errorf("expected 30s, got %v", d.Duration)
	}
}

func TestDuration_UnmarshalJSON_Number(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`10`), &d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Duration != 10*time.Second {
		t.Errorf("expected 10s, got %v", d.Duration)
	}
}

func TestDuration_UnmarshalJSON_Invalid(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"not-a-duration"`), &d); err == nil {
		t.Fatal("expected error for invalid duration string")
	}
}

func TestDuration_RoundTrip(t *testing.T) {
	d := Duration{Duration: 90 * time.Second}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Duration
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Duration != d.Duration {
		t.Errorf("round trip mismatch: got %v, want %v", got.Duration, d.Duration)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `{"server":{"addr":":8080"},"auth":{"token_secret":"0123456789abcdef0123456789abcdef"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("expected default driver sqlite, got %q", cfg.Storage.Driver)
	}
	if cfg.Process.MaxProcesses != 64 {
		t.Errorf("expected default max processes 64, got %d", cfg.Process.MaxProcesses)
	}
	if cfg.Auth.TokenExpiry.Duration != 24*time.Hour {
		t.Errorf("expected default token expiry 24h, got %v", cfg.Auth.TokenExpiry.Duration)
	}
}

func TestLoad_MissingAddr(t *testing.T) {
	path := writeConfig(t, `{"auth":{"token_secret":"0123456789abcdef0123456789abcdef"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing server.addr")
	}
}

func TestLoad_WeakSecret(t *testing.T) {
	path := writeConfig(t, `{"server":{"addr":":8080"},"auth":{"token_secret":"changeme"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for known weak secret")
	}
}

func TestLoad_ShortSecret(t *testing.T) {
	path := writeConfig(t, `{"server":{"addr":":8080"},"auth":{"token_secret":"short"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for short secret")
	}
}
