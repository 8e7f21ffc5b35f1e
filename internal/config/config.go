// Package config loads and validates AetherOS kernel configuration.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// knownWeakSecrets blocklists signing secrets that must never reach production.
var knownWeakSecrets = map[string]bool{
	"local-dev-secret-for-testing-only-32chars!": true,
	"changeme":                                   true,
	"secret":                                     true,
}

// GenerateRandomSecret returns a cryptographically random 64-character hex
// string suitable for use as a token signing secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level kernel configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Storage   StorageConfig   `json:"storage"`
	Process   ProcessConfig   `json:"process"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
}

// ServerConfig defines the boundary HTTP listener.
type ServerConfig struct {
	Addr             string   `json:"addr"`
	AllowedOrigins   []string `json:"allowed_origins,omitempty"`
	MaxBodyBytes     int64    `json:"max_body_bytes,omitempty"`
	SlackSigningKey  string   `json:"slack_signing_key,omitempty"`
	MetricsAddr      string   `json:"metrics_addr,omitempty"`
}

// InitialAdmin seeds the first admin user on an empty store.
type InitialAdmin struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthConfig defines AuthCore settings.
type AuthConfig struct {
	TokenSecret   string        `json:"token_secret"`
	TokenExpiry   Duration      `json:"token_expiry,omitempty"`
	MFATokenTTL   Duration      `json:"mfa_token_ttl,omitempty"`
	InitialAdmin  *InitialAdmin `json:"initial_admin,omitempty"`
}

// StorageConfig defines StateStore backing settings.
type StorageConfig struct {
	Driver         string   `json:"driver"` // "sqlite" (default) or "postgres"
	DSN            string   `json:"dsn"`
	AuditRetention Duration `json:"audit_retention,omitempty"`
}

// ProcessConfig defines ProcessTable resource caps.
type ProcessConfig struct {
	MaxProcesses   int `json:"max_processes,omitempty"`   // default 64
	MaxQueueLength int `json:"max_queue_length,omitempty"` // default 256
}

// SchedulerConfig defines Scheduler behavior.
type SchedulerConfig struct {
	TickInterval Duration `json:"tick_interval,omitempty"` // default 1m
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// RateLimitConfig defines boundary rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
	Burst             int     `json:"burst,omitempty"`
}

// Duration is a JSON-friendly time.Duration, accepting either a Go duration
// string ("30s") or a bare number of seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads, validates, and defaults a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Auth.TokenSecret != "" && len(c.Auth.TokenSecret) < 32 {
		return fmt.Errorf("auth.token_secret must be at least 32 characters")
	}
	if knownWeakSecrets[c.Auth.TokenSecret] {
		return fmt.Errorf("auth.token_secret is a well-known weak secret")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Auth.TokenExpiry.Duration == 0 {
		c.Auth.TokenExpiry.Duration = 24 * time.Hour
	}
	if c.Auth.MFATokenTTL.Duration == 0 {
		c.Auth.MFATokenTTL.Duration = 5 * time.Minute
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "aether.db"
	}
	if c.Storage.AuditRetention.Duration == 0 {
		c.Storage.AuditRetention.Duration = 90 * 24 * time.Hour
	}
	if c.Process.MaxProcesses == 0 {
		c.Process.MaxProcesses = 64
	}
	if c.Process.MaxQueueLength == 0 {
		c.Process.MaxQueueLength = 256
	}
	if c.Scheduler.TickInterval.Duration == 0 {
		c.Scheduler.TickInterval.Duration = time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024
	}
}

// EnsureTokenSecret returns the configured token secret, or generates a
// random one and reports generated=true so the caller can log a one-line
// notice that tokens will not survive a restart, per spec.md's §4.3.1
// secret-acquisition fallback. It does not log anything itself.
func (c *Config) EnsureTokenSecret() (string, bool, error) {
	if c.Auth.TokenSecret != "" {
		return c.Auth.TokenSecret, false, nil
	}
	secret, err := GenerateRandomSecret()
	if err != nil {
		return "", false, err
	}
	return secret, true, nil
}
