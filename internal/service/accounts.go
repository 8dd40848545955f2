package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/adamscao/ticketauth/internal/apperr"
	"github.com/adamscao/ticketauth/internal/auth"
	"github.com/adamscao/ticketauth/internal/lockout"
	"github.com/adamscao/ticketauth/internal/models"
	"github.com/adamscao/ticketauth/internal/token"
)

// RegisterRequest holds the fields of a new account
type RegisterRequest struct {
	Handle   string
	Email    string
	Password string
	Role     models.Role
}

// CreateAccount validates and stores a new account with a fresh TOTP secret.
// It performs no authorization check and is used by the operator CLI.
func (s *Service) CreateAccount(ctx context.Context, req RegisterRequest) (*models.Account, error) {
	req.Handle = strings.TrimSpace(req.Handle)
	req.Email = strings.TrimSpace(req.Email)
	if req.Handle == "" || req.Email == "" || req.Password == "" || req.Role == "" {
		return nil, apperr.ErrMissingFields
	}
	if !req.Role.Valid() {
		return nil, apperr.ErrInvalidRole
	}

	exists, err := s.accounts.Exists(ctx, req.Handle, req.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.ErrDuplicateIdentity
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	secret, err := s.otp.GenerateSecret(req.Handle)
	if err != nil {
		return nil, err
	}
	sealed, err := s.sealer.Seal(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to seal TOTP secret: %w", err)
	}

	account := &models.Account{
		Handle:       req.Handle,
		Email:        req.Email,
		PasswordHash: hash,
		TOTPSecret:   sealed,
		Role:         req.Role,
		CreatedAt:    s.now(),
	}
	// the unique indexes still catch a concurrent registration
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("account created",
		zap.Int64("account_id", account.ID),
		zap.String("handle", account.Handle),
		zap.String("role", string(account.Role)),
	)
	return account, nil
}

// Register creates an account on behalf of an administrator, records it and
// mails a confirmation to the new owner
func (s *Service) Register(ctx context.Context, actor Identity, req RegisterRequest, meta RequestMeta) (*models.Account, error) {
	if actor.Role != models.RoleAdmin {
		return nil, apperr.ErrRoleForbidden
	}

	account, err := s.CreateAccount(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.record(ctx, account, "", models.EventAccountRegistered, meta); err != nil {
		return nil, err
	}
	s.notify("registration", s.notifier.Registration(account.Email, account.Handle, string(account.Role)))
	return account, nil
}

// RequestPasswordReset mails a signed reset link to the account owner
func (s *Service) RequestPasswordReset(ctx context.Context, email string, meta RequestMeta) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperr.ErrMissingFields
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return err
	}

	tok, err := s.tokens.IssueReset(account.Email)
	if err != nil {
		return err
	}

	if err := s.record(ctx, account, "", models.EventPasswordResetRequested, meta); err != nil {
		return err
	}
	s.notify("password_reset", s.notifier.PasswordReset(account.Email, account.Handle, tok, s.opts.ResetMaxAge.String()))
	return nil
}

// ConfirmPasswordReset sets a new password for the account named by a reset token
func (s *Service) ConfirmPasswordReset(ctx context.Context, resetToken, password string, meta RequestMeta) error {
	claims, err := s.tokens.Verify(resetToken, token.KindReset)
	if err != nil {
		return err
	}
	if password == "" {
		return apperr.ErrMissingFields
	}

	account, err := s.accounts.GetByEmail(ctx, claims.Email)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	if err := s.accounts.SetPassword(ctx, account.ID, hash); err != nil {
		return err
	}

	return s.record(ctx, account, "", models.EventPasswordResetCompleted, meta)
}

// RequestUnlock mails a signed unlock link to the owner of a locked account
func (s *Service) RequestUnlock(ctx context.Context, email string, meta RequestMeta) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperr.ErrMissingFields
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, apperr.ErrUserNotFound) {
		if err := s.record(ctx, nil, email, models.EventUnlockRequestUnknownUser, meta); err != nil {
			return err
		}
		return apperr.ErrUserNotFound
	}
	if err != nil {
		return err
	}

	if lockout.StateOf(account, s.now()) != lockout.Locked {
		return apperr.ErrAccountNotLocked
	}

	tok, err := s.tokens.IssueUnlock(account.Email)
	if err != nil {
		return err
	}

	if err := s.record(ctx, account, "", models.EventUnlockRequestSent, meta); err != nil {
		return err
	}
	s.notify("unlock_request", s.notifier.UnlockRequest(account.Email, account.Handle, tok, s.opts.UnlockMaxAge.String()))
	return nil
}

// ConfirmUnlock unlocks the account named by an unlock token
func (s *Service) ConfirmUnlock(ctx context.Context, unlockToken string, meta RequestMeta) (*models.Account, error) {
	claims, err := s.tokens.Verify(unlockToken, token.KindUnlock)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByEmail(ctx, claims.Email)
	if errors.Is(err, apperr.ErrUserNotFound) {
		if err := s.record(ctx, nil, claims.Email, models.EventUnlockFailureUnknownUser, meta); err != nil {
			return nil, err
		}
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	return s.unlock(ctx, account.ID, meta)
}

// Unlock is the administrator unlock. It applies regardless of the current state.
func (s *Service) Unlock(ctx context.Context, accountID int64, meta RequestMeta) (*models.Account, error) {
	return s.unlock(ctx, accountID, meta)
}

func (s *Service) unlock(ctx context.Context, accountID int64, meta RequestMeta) (*models.Account, error) {
	account, err := s.accounts.Mutate(ctx, accountID, func(a *models.Account) error {
		lockout.Unlock(a)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.record(ctx, account, "", models.EventAccountUnlocked, meta); err != nil {
		return nil, err
	}
	s.logger.Info("account unlocked", zap.Int64("account_id", account.ID))
	return account, nil
}

// Me returns the account behind an access token
func (s *Service) Me(ctx context.Context, id Identity) (*models.Account, error) {
	account, err := s.accounts.GetByID(ctx, id.AccountID)
	if errors.Is(err, apperr.ErrUserNotFound) {
		return nil, apperr.ErrInvalidToken
	}
	return account, err
}

// ProvisioningURI returns the otpauth:// enrollment URI of an account
func (s *Service) ProvisioningURI(ctx context.Context, accountID int64) (string, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	secret, err := s.sealer.Open(account.TOTPSecret)
	if err != nil {
		return "", fmt.Errorf("failed to open TOTP secret: %w", err)
	}
	return s.otp.ProvisioningURI(secret, account.Handle)
}

// EnrollmentPNG renders the enrollment URI of an account as a QR code
func (s *Service) EnrollmentPNG(ctx context.Context, accountID int64) ([]byte, error) {
	uri, err := s.ProvisioningURI(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return auth.QRCodePNG(uri)
}

// ListAccounts lists every account, newest first
func (s *Service) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	return s.accounts.List(ctx)
}

// UpdateRole changes an account's role
func (s *Service) UpdateRole(ctx context.Context, accountID int64, role models.Role) (*models.Account, error) {
	if role == "" {
		return nil, apperr.ErrMissingFields
	}
	if !role.Valid() {
		return nil, apperr.ErrInvalidRole
	}

	account, err := s.accounts.Mutate(ctx, accountID, func(a *models.Account) error {
		a.Role = role
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account role changed", zap.Int64("account_id", account.ID), zap.String("role", string(role)))
	return account, nil
}

// DeleteAccount permanently deletes an account. Its audit history is kept.
func (s *Service) DeleteAccount(ctx context.Context, accountID int64) error {
	if err := s.accounts.Delete(ctx, accountID); err != nil {
		return err
	}
	s.logger.Info("account deleted", zap.Int64("account_id", accountID))
	return nil
}

// ListEvents lists audit events newest first. A zero limit means no limit.
func (s *Service) ListEvents(ctx context.Context, accountID *int64, kind models.EventKind, limit int) ([]*models.AuthEvent, error) {
	return s.audit.List(ctx, accountID, kind, limit)
}

// PurgeEvents deletes audit events older than days
func (s *Service) PurgeEvents(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, apperr.Wrap(apperr.ErrInvalidInput, errors.New("days must not be negative"))
	}
	return s.audit.PurgeOlderThan(ctx, days)
}
