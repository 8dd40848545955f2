package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/adamscao/ticketauth/internal/api/handlers"
	"github.com/adamscao/ticketauth/internal/api/middleware"
	"github.com/adamscao/ticketauth/internal/config"
	"github.com/adamscao/ticketauth/internal/keys"
	"github.com/adamscao/ticketauth/internal/models"
	"github.com/adamscao/ticketauth/internal/ratelimit"
	"github.com/adamscao/ticketauth/internal/service"
	"github.com/adamscao/ticketauth/internal/token"
)

// Deps are the singletons the HTTP surface is built from
type Deps struct {
	Service *service.Service
	Tokens  middleware.TokenVerifier
	Limiter ratelimit.Limiter
	// KeyPair is nil when tokens are signed with a shared secret
	KeyPair *keys.KeyPair
	Logger  *zap.Logger
}

// Server represents the HTTP server
type Server struct {
	router *gin.Engine
	config *config.Config
	http   *http.Server
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps Deps) *Server {
	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.ClientAddr(cfg.Server.TrustProxyHeaders))
	router.Use(middleware.Logger(deps.Logger.Named("http")))
	router.Use(middleware.Identify(deps.Tokens))

	// Create handlers
	authHandler := handlers.NewAuthHandler(deps.Service, deps.Logger)
	adminHandler := handlers.NewAdminHandler(deps.Service, deps.Logger)
	keysHandler := handlers.NewKeysHandler(deps.KeyPair)

	limitWith := func(route string, override *ratelimit.Limit) gin.HandlerFunc {
		if !cfg.RateLimit.Enabled {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimit(deps.Limiter, route, override, deps.Logger)
	}
	limit := func(route string) gin.HandlerFunc { return limitWith(route, nil) }
	// Code and token confirmation endpoints keep the anonymous budget whatever the caller's role
	strict := func(route string) gin.HandlerFunc {
		l := ratelimit.VerificationLimit
		return limitWith(route, &l)
	}
	resetRequestLimit := ratelimit.PasswordResetRequestLimit

	access := middleware.RequireToken(deps.Tokens, token.KindAccess)
	adminOnly := middleware.RequireRole(models.RoleAdmin)

	// API v1 routes
	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/register", limit("register"), access, adminOnly, authHandler.Register)
			auth.POST("/login", limit("login"), authHandler.Login)
			auth.POST("/verify_otp", strict("verify_otp"), middleware.RequireToken(deps.Tokens, token.KindMFA), authHandler.VerifyOTP)
			auth.POST("/request_fallback_otp", strict("request_fallback_otp"), authHandler.RequestFallbackOTP)
			auth.POST("/verify_fallback_otp", strict("verify_fallback_otp"), authHandler.VerifyFallbackOTP)
			auth.POST("/refresh", limit("refresh"), middleware.RequireToken(deps.Tokens, token.KindRefresh), authHandler.Refresh)
			auth.GET("/me", limit("me"), access, authHandler.Me)
			auth.GET("/enrollment.png", limit("enrollment"), access, authHandler.Enrollment)
			auth.POST("/password_reset_request", limitWith("password_reset_request", &resetRequestLimit), authHandler.RequestPasswordReset)
			auth.POST("/reset_password", strict("reset_password"), authHandler.ResetPassword)
			auth.POST("/request_unlock", strict("request_unlock"), authHandler.RequestUnlock)
			auth.POST("/unlock_account", strict("unlock_account"), authHandler.UnlockAccount)
			auth.GET("/unlock_account", strict("unlock_account"), authHandler.UnlockAccount)
			auth.GET("/signing_key", keysHandler.GetSigningKey)
		}

		// Admin endpoints (require an admin access token)
		admin := v1.Group("/admin")
		admin.Use(limit("admin"), access, adminOnly)
		{
			admin.GET("/users", adminHandler.ListUsers)
			admin.PUT("/users/:id", adminHandler.UpdateUser)
			admin.DELETE("/users/:id", adminHandler.DeleteUser)
			admin.POST("/users/:id/unlock", adminHandler.UnlockUser)
			admin.GET("/users/:id/enrollment.png", adminHandler.UserEnrollment)
			admin.GET("/logs", adminHandler.ListLogs)
			admin.POST("/clean_logs", adminHandler.CleanLogs)
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Server{
		router: router,
		config: cfg,
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.config.Server.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the underlying Gin router
func (s *Server) Router() *gin.Engine {
	return s.router
}
