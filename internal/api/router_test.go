package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/adamscao/ticketauth/internal/audit"
	"github.com/adamscao/ticketauth/internal/auth"
	"github.com/adamscao/ticketauth/internal/config"
	"github.com/adamscao/ticketauth/internal/db"
	"github.com/adamscao/ticketauth/internal/db/repository"
	"github.com/adamscao/ticketauth/internal/lockout"
	"github.com/adamscao/ticketauth/internal/models"
	"github.com/adamscao/ticketauth/internal/notify"
	"github.com/adamscao/ticketauth/internal/ratelimit"
	"github.com/adamscao/ticketauth/internal/service"
	"github.com/adamscao/ticketauth/internal/token"
)

const (
	adminAddr = "203.0.113.1:40000"
	userAddr  = "198.51.100.7:40000"
)

type testServer struct {
	server *Server
	svc    *service.Service
	tokens *token.Issuer
}

func newTestServer(t *testing.T, limiter ratelimit.Limiter, mode string) *testServer {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(database))
	t.Cleanup(func() { database.Close() })

	cfg := config.Default()
	cfg.TwoFactor.Mode = mode

	tokens, err := token.NewHS256([]byte(strings.Repeat("k", 32)), "ticketauth", token.Lifetimes{
		Access: 30 * time.Minute, Refresh: 720 * time.Hour, MFA: 5 * time.Minute, Reset: time.Hour, Unlock: time.Hour,
	})
	require.NoError(t, err)

	box, err := auth.NewSecretBox(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	dispatcher := notify.NewDispatcher(notify.NewLogSender(zap.NewNop()), 64, time.Second, zap.NewNop())
	t.Cleanup(dispatcher.Close)
	mailer := notify.NewMailer(dispatcher, cfg.Notify.BaseURL)

	accounts := repository.NewAccountRepository(database.DB)
	auditLog := audit.NewLog(repository.NewAuditRepository(database.DB), accounts, mailer, zap.NewNop(), nil)

	svc := service.New(service.Deps{
		Accounts: accounts,
		Audit:    auditLog,
		Tokens:   tokens,
		Notifier: mailer,
		Hasher:   auth.NewPasswordHasher(bcrypt.MinCost),
		OTP:      auth.NewTOTP(cfg.TwoFactor.Issuer, nil),
		Sealer:   box,
		Logger:   zap.NewNop(),
	}, service.Options{
		TwoFactorMode: mode,
		Lockout:       lockout.DefaultPolicy,
		ResetMaxAge:   time.Hour,
		UnlockMaxAge:  time.Hour,
	})

	server := NewServer(cfg, Deps{
		Service: svc,
		Tokens:  tokens,
		Limiter: limiter,
		Logger:  zap.NewNop(),
	})
	return &testServer{server: server, svc: svc, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path, bearer, addr string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = addr
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	w := httptest.NewRecorder()
	s.server.Router().ServeHTTP(w, req)
	return w
}

type loginBody struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	MFAToken     string `json:"mfa_token"`
	TwoFactor    string `json:"two_factor"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func (s *testServer) login(t *testing.T, username, password, addr string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/v1/auth/login", "", addr, map[string]string{
		"username": username,
		"password": password,
	})
}

func TestScenario_LockoutAndAdminUnlock(t *testing.T) {
	s := newTestServer(t, ratelimit.NewMemoryLimiter(nil), service.TwoFactorOff)

	_, err := s.svc.CreateAccount(context.Background(), service.RegisterRequest{
		Handle: "root", Email: "root@example.com", Password: "root-pw", Role: models.RoleAdmin,
	})
	require.NoError(t, err)

	w := s.login(t, "root", "root-pw", adminAddr)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var adminTokens loginBody
	decode(t, w, &adminTokens)
	require.NotEmpty(t, adminTokens.AccessToken)

	w = s.do(t, http.MethodPost, "/v1/auth/register", adminTokens.AccessToken, adminAddr, map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "alice-pw", "role": "consumer",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var registered struct {
		UserID int64 `json:"user_id"`
	}
	decode(t, w, &registered)

	assert.Equal(t, http.StatusUnauthorized, s.login(t, "alice", "nope", userAddr).Code)
	assert.Equal(t, http.StatusUnauthorized, s.login(t, "alice", "nope", userAddr).Code)
	w = s.login(t, "alice", "nope", userAddr)
	assert.Equal(t, http.StatusForbidden, w.Code)
	var errBody struct {
		Error string `json:"error"`
	}
	decode(t, w, &errBody)
	assert.Equal(t, "account_locked", errBody.Error)

	path := "/v1/admin/users/" + strconv.FormatInt(registered.UserID, 10) + "/unlock"
	w = s.do(t, http.MethodPost, path, adminTokens.AccessToken, adminAddr, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.login(t, "alice", "alice-pw", userAddr)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/v1/admin/logs?user_id="+strconv.FormatInt(registered.UserID, 10), adminTokens.AccessToken, adminAddr, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []models.AuthEvent
	decode(t, w, &events)

	var kinds []models.EventKind
	for i := len(events) - 1; i >= 0; i-- {
		kinds = append(kinds, events[i].Kind)
	}
	assert.Equal(t, []models.EventKind{
		models.EventAccountRegistered,
		models.EventLoginFailure,
		models.EventLoginFailure,
		models.EventAccountLocked,
		models.EventAccountUnlocked,
		models.EventLoginSuccess,
	}, kinds)
	assert.Equal(t, "198.51.100.7", events[0].SourceAddr)
}

func TestRateLimit_SixthAnonymousLoginRejected(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limiters := map[string]ratelimit.Limiter{
		"memory": ratelimit.NewMemoryLimiter(nil),
		"redis":  ratelimit.NewRedisLimiter(client),
	}
	for name, limiter := range limiters {
		t.Run(name, func(t *testing.T) {
			s := newTestServer(t, limiter, service.TwoFactorOff)
			for i := 0; i < 5; i++ {
				w := s.login(t, "ghost", "pw", userAddr)
				require.Equal(t, http.StatusUnauthorized, w.Code, "attempt %d", i+1)
			}
			w := s.login(t, "ghost", "pw", userAddr)
			assert.Equal(t, http.StatusTooManyRequests, w.Code)
			assert.NotEmpty(t, w.Header().Get("Retry-After"))

			// another address has its own budget
			assert.Equal(t, http.StatusUnauthorized, s.login(t, "ghost", "pw", adminAddr).Code)
		})
	}
}

func TestRateLimit_VerificationEndpointsIgnoreRole(t *testing.T) {
	s := newTestServer(t, ratelimit.NewMemoryLimiter(nil), service.TwoFactorOff)
	_, err := s.svc.CreateAccount(context.Background(), service.RegisterRequest{
		Handle: "eng", Email: "eng@example.com", Password: "eng-pw", Role: models.RoleEngineer,
	})
	require.NoError(t, err)

	w := s.login(t, "eng", "eng-pw", userAddr)
	require.Equal(t, http.StatusOK, w.Code)
	var tokens loginBody
	decode(t, w, &tokens)

	body := map[string]string{"email": "eng@example.com", "otp": "000000"}
	for i := 0; i < 5; i++ {
		w = s.do(t, http.MethodPost, "/v1/auth/verify_fallback_otp", tokens.AccessToken, userAddr, body)
		require.NotEqual(t, http.StatusTooManyRequests, w.Code, "attempt %d", i+1)
	}
	w = s.do(t, http.MethodPost, "/v1/auth/verify_fallback_otp", tokens.AccessToken, userAddr, body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// ordinary routes still get the engineer budget
	for i := 0; i < 6; i++ {
		require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/auth/me", tokens.AccessToken, userAddr, nil).Code)
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, ratelimit.Limit) (bool, error) {
	return false, errors.New("backend down")
}

func TestRateLimit_FailsClosed(t *testing.T) {
	s := newTestServer(t, brokenLimiter{}, service.TwoFactorOff)
	w := s.login(t, "ghost", "pw", userAddr)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAuthorization(t *testing.T) {
	s := newTestServer(t, ratelimit.NewMemoryLimiter(nil), service.TwoFactorOff)
	ctx := context.Background()
	_, err := s.svc.CreateAccount(ctx, service.RegisterRequest{
		Handle: "eng", Email: "eng@example.com", Password: "eng-pw", Role: models.RoleEngineer,
	})
	require.NoError(t, err)

	w := s.login(t, "eng", "eng-pw", userAddr)
	require.Equal(t, http.StatusOK, w.Code)
	var tokens loginBody
	decode(t, w, &tokens)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/v1/admin/users", "", userAddr, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/v1/admin/users", tokens.AccessToken, userAddr, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/v1/auth/register", tokens.AccessToken, userAddr, map[string]string{
		"username": "x", "email": "x@example.com", "password": "x", "role": "consumer",
	}).Code)

	// a refresh token is not an access token
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/v1/auth/me", tokens.RefreshToken, userAddr, nil).Code)

	w = s.do(t, http.MethodGet, "/v1/auth/me", tokens.AccessToken, userAddr, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me struct {
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	decode(t, w, &me)
	assert.Equal(t, "eng", me.Username)
	assert.Equal(t, "engineer", me.Role)
	assert.NotContains(t, w.Body.String(), "password_hash")

	w = s.do(t, http.MethodPost, "/v1/auth/refresh", tokens.RefreshToken, userAddr, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var refreshed loginBody
	decode(t, w, &refreshed)
	_, err = s.tokens.Verify(refreshed.AccessToken, token.KindAccess)
	assert.NoError(t, err)

	w = s.do(t, http.MethodGet, "/v1/auth/enrollment.png", tokens.AccessToken, userAddr, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
}

func TestTwoFactorOverHTTP(t *testing.T) {
	s := newTestServer(t, ratelimit.NewMemoryLimiter(nil), service.TwoFactorApp)
	_, err := s.svc.CreateAccount(context.Background(), service.RegisterRequest{
		Handle: "alice", Email: "alice@example.com", Password: "alice-pw", Role: models.RoleConsumer,
	})
	require.NoError(t, err)

	w := s.login(t, "alice", "alice-pw", userAddr)
	require.Equal(t, http.StatusOK, w.Code)
	var body loginBody
	decode(t, w, &body)
	assert.Empty(t, body.AccessToken)
	assert.Equal(t, "app", body.TwoFactor)
	require.NotEmpty(t, body.MFAToken)

	// the pending token does not grant access
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/v1/auth/me", body.MFAToken, userAddr, nil).Code)

	w = s.do(t, http.MethodPost, "/v1/auth/verify_otp", body.MFAToken, userAddr, map[string]string{"otp": "12345"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var errBody struct {
		Error string `json:"error"`
	}
	decode(t, w, &errBody)
	assert.Equal(t, "invalid_code", errBody.Error)

	w = s.do(t, http.MethodPost, "/v1/auth/verify_otp", body.MFAToken, userAddr, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminEndpoints(t *testing.T) {
	s := newTestServer(t, ratelimit.NewMemoryLimiter(nil), service.TwoFactorOff)
	ctx := context.Background()
	_, err := s.svc.CreateAccount(ctx, service.RegisterRequest{
		Handle: "root", Email: "root@example.com", Password: "root-pw", Role: models.RoleAdmin,
	})
	require.NoError(t, err)
	alice, err := s.svc.CreateAccount(ctx, service.RegisterRequest{
		Handle: "alice", Email: "alice@example.com", Password: "alice-pw", Role: models.RoleConsumer,
	})
	require.NoError(t, err)

	w := s.login(t, "root", "root-pw", adminAddr)
	require.Equal(t, http.StatusOK, w.Code)
	var tokens loginBody
	decode(t, w, &tokens)
	bearer := tokens.AccessToken
	userPath := "/v1/admin/users/" + strconv.FormatInt(alice.ID, 10)

	w = s.do(t, http.MethodGet, "/v1/admin/users", bearer, adminAddr, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var users []models.Account
	decode(t, w, &users)
	assert.Len(t, users, 2)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, userPath, bearer, adminAddr, map[string]string{"role": "root"}).Code)
	w = s.do(t, http.MethodPut, userPath, bearer, adminAddr, map[string]string{"role": "engineer"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"engineer"`)

	w = s.do(t, http.MethodGet, userPath+"/enrollment.png", bearer, adminAddr, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodDelete, "/v1/admin/users/abc", bearer, adminAddr, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, userPath, bearer, adminAddr, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, userPath, bearer, adminAddr, nil).Code)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/v1/admin/clean_logs", bearer, adminAddr, map[string]int{"days": -1}).Code)
	w = s.do(t, http.MethodPost, "/v1/admin/clean_logs", bearer, adminAddr, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cleaned struct {
		Deleted int64 `json:"deleted"`
	}
	decode(t, w, &cleaned)
	assert.Zero(t, cleaned.Deleted)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, ratelimit.NewMemoryLimiter(nil), service.TwoFactorOff)

	w := s.do(t, http.MethodGet, "/health", "", userAddr, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	_ = s.login(t, "ghost", "pw", userAddr)
	w = s.do(t, http.MethodGet, "/metrics", "", userAddr, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ticketauth_auth_events_total")

	w = s.do(t, http.MethodGet, "/v1/auth/signing_key", "", userAddr, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClientIP_TrustsProxyOnlyWhenConfigured(t *testing.T) {
	for _, trust := range []bool{false, true} {
		s := newTestServer(t, ratelimit.NewMemoryLimiter(nil), service.TwoFactorOff)
		cfg := *s.server.config
		cfg.Server.TrustProxyHeaders = trust
		s.server = NewServer(&cfg, Deps{Service: s.svc, Tokens: s.tokens, Limiter: ratelimit.NewMemoryLimiter(nil), Logger: zap.NewNop()})

		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"username":"ghost","password":"pw"}`))
		req.RemoteAddr = userAddr
		req.Header.Set("X-Forwarded-For", "192.0.2.55, 10.0.0.1")
		w := httptest.NewRecorder()
		s.server.Router().ServeHTTP(w, req)
		require.Equal(t, http.StatusUnauthorized, w.Code)

		events, err := s.svc.ListEvents(context.Background(), nil, models.EventLoginFailureUnknownUser, 1)
		require.NoError(t, err)
		require.Len(t, events, 1)
		if trust {
			assert.Equal(t, "192.0.2.55", events[0].SourceAddr)
		} else {
			assert.Equal(t, "198.51.100.7", events[0].SourceAddr)
		}
	}
}
