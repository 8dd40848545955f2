// Package service implements the authentication flows: registration, login
// with lockout and two-factor challenges, token refresh, password reset,
// account unlock and the administrative account operations.
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adamscao/ticketauth/internal/audit"
	"github.com/adamscao/ticketauth/internal/lockout"
	"github.com/adamscao/ticketauth/internal/models"
	"github.com/adamscao/ticketauth/internal/token"
)

// Two-factor modes
const (
	TwoFactorApp   = "app"
	TwoFactorEmail = "email"
	TwoFactorOff   = "off"
)

// Accounts is the credential store
type Accounts interface {
	Create(ctx context.Context, account *models.Account) error
	Exists(ctx context.Context, handle, email string) (bool, error)
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	GetByHandle(ctx context.Context, handle string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	List(ctx context.Context) ([]*models.Account, error)
	Mutate(ctx context.Context, id int64, fn func(*models.Account) error) (*models.Account, error)
	SetPassword(ctx context.Context, id int64, passwordHash string) error
	Delete(ctx context.Context, id int64) error
}

// Auditor records authentication events
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) error
	List(ctx context.Context, accountID *int64, kind models.EventKind, limit int) ([]*models.AuthEvent, error)
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
}

// Tokens mints and verifies signed tokens
type Tokens interface {
	IssuePair(a *models.Account) (*token.Pair, error)
	IssueAccess(a *models.Account) (string, error)
	IssuePending(a *models.Account) (string, error)
	IssueReset(email string) (string, error)
	IssueUnlock(email string) (string, error)
	Verify(tokenStr string, kind token.Kind) (*token.Claims, error)
}

// Notifier queues account notifications. Returned errors are rendering
// problems only; delivery happens asynchronously.
type Notifier interface {
	Registration(recipient, handle, role string) error
	AccountLocked(recipient, handle, until string) error
	PasswordReset(recipient, handle, token, maxAge string) error
	OTPCode(recipient, handle, code string) error
	UnlockRequest(recipient, handle, token, maxAge string) error
}

// Hasher hashes and verifies passwords
type Hasher interface {
	Hash(password string) (string, error)
	Verify(candidate, hash string) (bool, error)
}

// OTP generates and validates time-step codes
type OTP interface {
	GenerateSecret(accountName string) (string, error)
	CurrentCode(secret string) (string, error)
	Validate(secret, code string) (bool, error)
	ProvisioningURI(secret, accountName string) (string, error)
}

// Sealer encrypts secrets at rest
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// Identity is the verified subject of an account token
type Identity struct {
	AccountID int64
	Role      models.Role
}

// RequestMeta describes where a request came from
type RequestMeta struct {
	SourceAddr string
	Agent      string
}

// Deps are the collaborators of a Service
type Deps struct {
	Accounts Accounts
	Audit    Auditor
	Tokens   Tokens
	Notifier Notifier
	Hasher   Hasher
	OTP      OTP
	Sealer   Sealer
	Logger   *zap.Logger
}

// Options tune a Service
type Options struct {
	TwoFactorMode string
	Lockout       lockout.Policy
	ResetMaxAge   time.Duration
	UnlockMaxAge  time.Duration
	// Now may be nil to use the wall clock
	Now func() time.Time
}

// Service is the authentication orchestrator
type Service struct {
	accounts Accounts
	audit    Auditor
	tokens   Tokens
	notifier Notifier
	hasher   Hasher
	otp      OTP
	sealer   Sealer
	logger   *zap.Logger
	opts     Options

	dummyOnce sync.Once
	dummyHash string
}

// New creates a Service
func New(deps Deps, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TwoFactorMode == "" {
		opts.TwoFactorMode = TwoFactorApp
	}
	if opts.Lockout.Threshold <= 0 {
		opts.Lockout = lockout.DefaultPolicy
	}
	return &Service{
		accounts: deps.Accounts,
		audit:    deps.Audit,
		tokens:   deps.Tokens,
		notifier: deps.Notifier,
		hasher:   deps.Hasher,
		otp:      deps.OTP,
		sealer:   deps.Sealer,
		logger:   deps.Logger.Named("service"),
		opts:     opts,
	}
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}

// record writes an audit entry. Failure to audit an outcome the caller will
// observe is an internal error.
func (s *Service) record(ctx context.Context, account *models.Account, handle string, kind models.EventKind, meta RequestMeta) error {
	return s.audit.Record(ctx, audit.Entry{
		Account:    account,
		Handle:     handle,
		Kind:       kind,
		SourceAddr: meta.SourceAddr,
		Agent:      meta.Agent,
	})
}

// notify logs rendering failures; delivery is never part of a decision
func (s *Service) notify(kind string, err error) {
	if err != nil {
		s.logger.Warn("failed to queue notification", zap.String("notification", kind), zap.Error(err))
	}
}
