package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file on top of Default()
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadWithEnv loads configuration from a file and applies environment variable overrides
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if dbPath := os.Getenv("TICKETAUTH_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if listenAddr := os.Getenv("TICKETAUTH_LISTEN_ADDR"); listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}

	if secret := os.Getenv("TICKETAUTH_JWT_SECRET"); secret != "" {
		cfg.Tokens.Secret = secret
	}

	if encKey := os.Getenv("TICKETAUTH_ENCRYPTION_KEY"); encKey != "" {
		cfg.Encryption.Key = encKey
	}

	if redisAddr := os.Getenv("TICKETAUTH_REDIS_ADDR"); redisAddr != "" {
		cfg.RateLimit.RedisAddr = redisAddr
	}

	if smtpPassword := os.Getenv("TICKETAUTH_SMTP_PASSWORD"); smtpPassword != "" {
		cfg.Notify.SMTP.Password = smtpPassword
	}

	if cost := os.Getenv("TICKETAUTH_BCRYPT_COST"); cost != "" {
		if n, err := strconv.Atoi(cost); err == nil {
			cfg.Password.BcryptCost = n
		}
	}
}
