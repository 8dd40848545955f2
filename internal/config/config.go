package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Tokens     TokensConfig     `yaml:"tokens"`
	TwoFactor  TwoFactorConfig  `yaml:"two_factor"`
	Lockout    LockoutConfig    `yaml:"lockout"`
	Password   PasswordConfig   `yaml:"password"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Audit      AuditConfig      `yaml:"audit"`
	Notify     NotifyConfig     `yaml:"notify"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains server configuration
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// TrustProxyHeaders enables X-Forwarded-For / X-Real-IP as the source address.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TokensConfig contains token signing configuration
type TokensConfig struct {
	SigningMethod  string `yaml:"signing_method"` // hs256 or ed25519
	Secret         string `yaml:"secret"`
	PrivateKeyPath string `yaml:"private_key_path"`
	PublicKeyPath  string `yaml:"public_key_path"`
	Issuer         string `yaml:"issuer"`
	AccessTTL      string `yaml:"access_ttl"`
	RefreshTTL     string `yaml:"refresh_ttl"`
	PendingTTL     string `yaml:"pending_ttl"`
	ResetMaxAge    string `yaml:"reset_max_age"`
	UnlockMaxAge   string `yaml:"unlock_max_age"`
}

// TwoFactorConfig contains TOTP configuration
type TwoFactorConfig struct {
	Mode   string `yaml:"mode"` // app, email or off
	Issuer string `yaml:"issuer"`
}

// LockoutConfig contains failed-login lockout policy
type LockoutConfig struct {
	Threshold int    `yaml:"threshold"`
	Duration  string `yaml:"duration"`
}

// PasswordConfig contains password hashing configuration
type PasswordConfig struct {
	BcryptCost int `yaml:"bcrypt_cost"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Backend   string `yaml:"backend"` // memory or redis
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

// AuditConfig contains audit log retention configuration
type AuditConfig struct {
	RetentionDays int    `yaml:"retention_days"`
	SweepInterval string `yaml:"sweep_interval"`
}

// NotifyConfig contains outbound notification configuration
type NotifyConfig struct {
	Transport   string     `yaml:"transport"` // smtp or log
	From        string     `yaml:"from"`
	SendTimeout string     `yaml:"send_timeout"`
	QueueSize   int        `yaml:"queue_size"`
	BaseURL     string     `yaml:"base_url"`
	SMTP        SMTPConfig `yaml:"smtp"`
}

// SMTPConfig contains SMTP relay settings
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// EncryptionConfig contains encryption configuration
type EncryptionConfig struct {
	Key string `yaml:"key"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration populated with production defaults.
// Secrets are left empty and must be supplied.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{ListenAddr: ":8080"},
		Database: DatabaseConfig{Path: "/var/lib/ticketauth/ticketauth.db"},
		Tokens: TokensConfig{
			SigningMethod: "hs256",
			Issuer:        "ticketauth",
			AccessTTL:     "30m",
			RefreshTTL:    "30d",
			PendingTTL:    "5m",
			ResetMaxAge:   "1h",
			UnlockMaxAge:  "1h",
		},
		TwoFactor: TwoFactorConfig{Mode: "app", Issuer: "Ticketing"},
		Lockout:   LockoutConfig{Threshold: 3, Duration: "15m"},
		Password:  PasswordConfig{BcryptCost: 12},
		RateLimit: RateLimitConfig{Enabled: true, Backend: "memory"},
		Audit:     AuditConfig{RetentionDays: 30, SweepInterval: "24h"},
		Notify: NotifyConfig{
			Transport:   "log",
			From:        "no-reply@localhost",
			SendTimeout: "10s",
			QueueSize:   256,
			BaseURL:     "http://localhost:8080",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}

	// Database validation
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Token validation
	switch c.Tokens.SigningMethod {
	case "hs256":
		if len(c.Tokens.Secret) < 32 {
			return fmt.Errorf("tokens.secret must be at least 32 characters for hs256")
		}
	case "ed25519":
		if c.Tokens.PrivateKeyPath == "" || c.Tokens.PublicKeyPath == "" {
			return fmt.Errorf("tokens.private_key_path and tokens.public_key_path are required for ed25519")
		}
	default:
		return fmt.Errorf("tokens.signing_method must be 'hs256' or 'ed25519'")
	}
	for name, value := range map[string]string{
		"tokens.access_ttl":     c.Tokens.AccessTTL,
		"tokens.refresh_ttl":    c.Tokens.RefreshTTL,
		"tokens.pending_ttl":    c.Tokens.PendingTTL,
		"tokens.reset_max_age":  c.Tokens.ResetMaxAge,
		"tokens.unlock_max_age": c.Tokens.UnlockMaxAge,
	} {
		d, err := parseDuration(value)
		if err != nil {
			return fmt.Errorf("%s is invalid: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	// Two-factor validation
	if c.TwoFactor.Mode != "app" && c.TwoFactor.Mode != "email" && c.TwoFactor.Mode != "off" {
		return fmt.Errorf("two_factor.mode must be one of: app, email, off")
	}
	if c.TwoFactor.Issuer == "" {
		return fmt.Errorf("two_factor.issuer is required")
	}

	// Lockout validation
	if c.Lockout.Threshold <= 0 {
		return fmt.Errorf("lockout.threshold must be positive")
	}
	if _, err := parseDuration(c.Lockout.Duration); err != nil {
		return fmt.Errorf("lockout.duration is invalid: %w", err)
	}

	// Password validation
	if c.Password.BcryptCost < 4 || c.Password.BcryptCost > 31 {
		return fmt.Errorf("password.bcrypt_cost must be between 4 and 31")
	}

	// Rate limit validation
	if c.RateLimit.Backend != "memory" && c.RateLimit.Backend != "redis" {
		return fmt.Errorf("rate_limit.backend must be 'memory' or 'redis'")
	}
	if c.RateLimit.Backend == "redis" && c.RateLimit.RedisAddr == "" {
		return fmt.Errorf("rate_limit.redis_addr is required for the redis backend")
	}

	// Audit validation
	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit.retention_days must be positive")
	}
	if _, err := parseDuration(c.Audit.SweepInterval); err != nil {
		return fmt.Errorf("audit.sweep_interval is invalid: %w", err)
	}

	// Notify validation
	switch c.Notify.Transport {
	case "log":
	case "smtp":
		if c.Notify.SMTP.Host == "" || c.Notify.SMTP.Port <= 0 {
			return fmt.Errorf("notify.smtp.host and notify.smtp.port are required for smtp transport")
		}
	default:
		return fmt.Errorf("notify.transport must be 'smtp' or 'log'")
	}
	if c.Notify.From == "" {
		return fmt.Errorf("notify.from is required")
	}
	if _, err := parseDuration(c.Notify.SendTimeout); err != nil {
		return fmt.Errorf("notify.send_timeout is invalid: %w", err)
	}

	// Encryption validation
	if len(c.Encryption.Key) != 64 { // 32 bytes = 64 hex chars
		return fmt.Errorf("encryption.key must be 64 hex characters (32 bytes)")
	}
	if _, err := hex.DecodeString(c.Encryption.Key); err != nil {
		return fmt.Errorf("encryption.key is not valid hex: %w", err)
	}
	if c.Encryption.Key == "0000000000000000000000000000000000000000000000000000000000000000" {
		fmt.Fprintf(os.Stderr, "WARNING: Using an all-zero encryption key. Please change it in production!\n")
	}

	// Logging validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}

	return nil
}

// AccessTTL returns the access token lifetime
func (c *Config) AccessTTL() time.Duration { return mustDuration(c.Tokens.AccessTTL) }

// RefreshTTL returns the refresh token lifetime
func (c *Config) RefreshTTL() time.Duration { return mustDuration(c.Tokens.RefreshTTL) }

// PendingTTL returns the lifetime of the token held between password and OTP checks
func (c *Config) PendingTTL() time.Duration { return mustDuration(c.Tokens.PendingTTL) }

// ResetMaxAge returns the password reset token max age
func (c *Config) ResetMaxAge() time.Duration { return mustDuration(c.Tokens.ResetMaxAge) }

// UnlockMaxAge returns the unlock token max age
func (c *Config) UnlockMaxAge() time.Duration { return mustDuration(c.Tokens.UnlockMaxAge) }

// LockoutDuration returns how long an account stays locked
func (c *Config) LockoutDuration() time.Duration { return mustDuration(c.Lockout.Duration) }

// SweepInterval returns the audit retention sweep interval
func (c *Config) SweepInterval() time.Duration { return mustDuration(c.Audit.SweepInterval) }

// SendTimeout returns the per-notification send timeout
func (c *Config) SendTimeout() time.Duration { return mustDuration(c.Notify.SendTimeout) }

// EncryptionKey returns the decoded 32-byte encryption key
func (c *Config) EncryptionKey() []byte {
	key, _ := hex.DecodeString(c.Encryption.Key)
	return key
}

func mustDuration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}

// parseDuration parses duration with support for days (e.g., "30d")
func parseDuration(s string) (time.Duration, error) {
	// Handle "d" suffix for days
	if len(s) > 1 && s[len(s)-1] == 'd' {
		days := s[:len(s)-1]
		var d int
		if _, err := fmt.Sscanf(days, "%d", &d); err != nil {
			return 0, err
		}
		return time.Duration(d) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
