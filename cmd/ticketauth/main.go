package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/adamscao/ticketauth/internal/api"
	"github.com/adamscao/ticketauth/internal/app"
	"github.com/adamscao/ticketauth/internal/config"
	"github.com/adamscao/ticketauth/internal/logging"
)

var (
	// Version information (set via ldflags)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "/etc/ticketauth/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Ticketing Auth Server\n")
		fmt.Printf("Version:    %s\n", Version)
		fmt.Printf("Commit:     %s\n", Commit)
		fmt.Printf("Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting ticketauth",
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("config", *configPath),
	)

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.Close()

	logger.Info("components ready",
		zap.String("database", cfg.Database.Path),
		zap.String("signing_method", cfg.Tokens.SigningMethod),
		zap.String("key_id", a.Tokens.KeyID()),
		zap.String("two_factor", cfg.TwoFactor.Mode),
		zap.String("rate_limit_backend", cfg.RateLimit.Backend),
		zap.Bool("rate_limit_enabled", cfg.RateLimit.Enabled),
	)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go a.Sweeper().Run(ctx)

	server := api.NewServer(cfg, api.Deps{
		Service: a.Service,
		Tokens:  a.Tokens,
		Limiter: a.Limiter,
		KeyPair: a.Tokens.KeyPair(),
		Logger:  logger,
	})

	logger.Info("starting HTTP server", zap.String("listen_addr", cfg.Server.ListenAddr))
	if err := server.Run(ctx); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		a.Close()
		os.Exit(1)
	}

	logger.Info("server stopped")
}
