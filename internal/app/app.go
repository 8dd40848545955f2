// Package app assembles the singletons shared by the server and the admin tool.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/adamscao/ticketauth/internal/audit"
	"github.com/adamscao/ticketauth/internal/auth"
	"github.com/adamscao/ticketauth/internal/config"
	"github.com/adamscao/ticketauth/internal/db"
	"github.com/adamscao/ticketauth/internal/db/repository"
	"github.com/adamscao/ticketauth/internal/lockout"
	"github.com/adamscao/ticketauth/internal/notify"
	"github.com/adamscao/ticketauth/internal/ratelimit"
	"github.com/adamscao/ticketauth/internal/service"
	"github.com/adamscao/ticketauth/internal/token"
)

// App holds the wired components
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	DB         *db.DB
	Tokens     *token.Issuer
	Limiter    ratelimit.Limiter
	Audit      *audit.Log
	Service    *service.Service
	dispatcher *notify.Dispatcher
	redis      *redis.Client
}

// New opens the database, runs migrations and builds every component.
// Signing or sealing key problems are returned here, before anything serves.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, DB: database}

	if err := db.RunMigrations(database); err != nil {
		a.Close()
		return nil, err
	}

	a.Tokens, err = token.FromConfig(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	box, err := auth.NewSecretBox(cfg.EncryptionKey())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}

	if err := a.buildLimiter(); err != nil {
		a.Close()
		return nil, err
	}

	sender, err := notify.NewSender(cfg.Notify, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.dispatcher = notify.NewDispatcher(sender, cfg.Notify.QueueSize, cfg.SendTimeout(), logger)
	mailer := notify.NewMailer(a.dispatcher, cfg.Notify.BaseURL)

	accounts := repository.NewAccountRepository(database.DB)
	a.Audit = audit.NewLog(repository.NewAuditRepository(database.DB), accounts, mailer, logger, nil)

	a.Service = service.New(service.Deps{
		Accounts: accounts,
		Audit:    a.Audit,
		Tokens:   a.Tokens,
		Notifier: mailer,
		Hasher:   auth.NewPasswordHasher(cfg.Password.BcryptCost),
		OTP:      auth.NewTOTP(cfg.TwoFactor.Issuer, nil),
		Sealer:   box,
		Logger:   logger,
	}, service.Options{
		TwoFactorMode: cfg.TwoFactor.Mode,
		Lockout: lockout.Policy{
			Threshold: cfg.Lockout.Threshold,
			Duration:  cfg.LockoutDuration(),
		},
		ResetMaxAge:  cfg.ResetMaxAge(),
		UnlockMaxAge: cfg.UnlockMaxAge(),
	})

	return a, nil
}

func (a *App) buildLimiter() error {
	switch a.Config.RateLimit.Backend {
	case "memory":
		a.Limiter = ratelimit.NewMemoryLimiter(nil)
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr: a.Config.RateLimit.RedisAddr,
			DB:   a.Config.RateLimit.RedisDB,
		})
		if err := a.redis.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", a.Config.RateLimit.RedisAddr, err)
		}
		a.Limiter = ratelimit.NewRedisLimiter(a.redis)
	default:
		return fmt.Errorf("unsupported rate limit backend: %s", a.Config.RateLimit.Backend)
	}
	return nil
}

// Sweeper returns the background audit retention job
func (a *App) Sweeper() *audit.Sweeper {
	return audit.NewSweeper(a.Audit, a.Config.Audit.RetentionDays, a.Config.SweepInterval(), a.Logger)
}

// Close drains queued notifications and releases connections
func (a *App) Close() {
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
