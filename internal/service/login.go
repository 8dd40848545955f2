package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/adamscao/ticketauth/internal/apperr"
	"github.com/adamscao/ticketauth/internal/auth"
	"github.com/adamscao/ticketauth/internal/lockout"
	"github.com/adamscao/ticketauth/internal/models"
	"github.com/adamscao/ticketauth/internal/token"
)

var (
	errLockedInTx   = errors.New("account locked concurrently")
	errCodeMismatch = errors.New("fallback code mismatch")
)

// LoginResult is either a token pair or a pending two-factor challenge
type LoginResult struct {
	Tokens *token.Pair
	// PendingToken must be presented with the OTP code when TwoFactor is set
	PendingToken string
	TwoFactor    string
}

// Login checks a handle and password. The lock state is checked before the
// password is compared, and a locked account never reaches the hash.
func (s *Service) Login(ctx context.Context, handle, password string, meta RequestMeta) (*LoginResult, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" || password == "" {
		return nil, apperr.ErrMissingFields
	}

	account, err := s.accounts.GetByHandle(ctx, handle)
	if errors.Is(err, apperr.ErrUserNotFound) {
		s.equalizeTiming(password)
		if err := s.record(ctx, nil, handle, models.EventLoginFailureUnknownUser, meta); err != nil {
			return nil, err
		}
		return nil, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if account.IsLocked(s.now()) {
		if err := s.record(ctx, account, "", models.EventLoginAttemptLocked, meta); err != nil {
			return nil, err
		}
		return nil, apperr.ErrAccountLocked
	}

	ok, err := s.hasher.Verify(password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, s.registerFailure(ctx, account.ID, meta, apperr.ErrInvalidCredentials)
	}

	account, err = s.registerSuccess(ctx, account.ID, meta, nil)
	if err != nil {
		return nil, err
	}
	if err := s.record(ctx, account, "", models.EventLoginSuccess, meta); err != nil {
		return nil, err
	}

	if s.opts.TwoFactorMode == TwoFactorOff {
		pair, err := s.tokens.IssuePair(account)
		if err != nil {
			return nil, err
		}
		return &LoginResult{Tokens: pair}, nil
	}

	pending, err := s.tokens.IssuePending(account)
	if err != nil {
		return nil, err
	}
	if s.opts.TwoFactorMode == TwoFactorEmail {
		if err := s.mailCurrentCode(account); err != nil {
			return nil, err
		}
	}

	return &LoginResult{PendingToken: pending, TwoFactor: s.opts.TwoFactorMode}, nil
}

func (s *Service) mailCurrentCode(account *models.Account) error {
	secret, err := s.sealer.Open(account.TOTPSecret)
	if err != nil {
		return fmt.Errorf("failed to open TOTP secret: %w", err)
	}
	code, err := s.otp.CurrentCode(secret)
	if err != nil {
		return err
	}
	s.notify("otp_code", s.notifier.OTPCode(account.Email, account.Handle, code))
	return nil
}

// equalizeTiming spends a bcrypt comparison on unknown handles so response
// time does not reveal whether the handle exists
func (s *Service) equalizeTiming(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("ticketauth-timing-equalizer")
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(password, s.dummyHash)
	}
}

// registerFailure applies one failed attempt inside a transaction and
// records the outcome. It returns failure, or ErrAccountLocked when this
// attempt locked the account or found it locked.
func (s *Service) registerFailure(ctx context.Context, accountID int64, meta RequestMeta, failure error) error {
	now := s.now()
	var locked bool

	account, err := s.accounts.Mutate(ctx, accountID, func(a *models.Account) error {
		if a.IsLocked(now) {
			return errLockedInTx
		}
		locked = lockout.RegisterFailure(a, now, s.opts.Lockout)
		return nil
	})
	if errors.Is(err, errLockedInTx) {
		current, getErr := s.accounts.GetByID(ctx, accountID)
		if getErr != nil {
			return getErr
		}
		if err := s.record(ctx, current, "", models.EventLoginAttemptLocked, meta); err != nil {
			return err
		}
		return apperr.ErrAccountLocked
	}
	if err != nil {
		return err
	}

	if !locked {
		if err := s.record(ctx, account, "", models.EventLoginFailure, meta); err != nil {
			return err
		}
		return failure
	}

	if err := s.record(ctx, account, "", models.EventAccountLocked, meta); err != nil {
		return err
	}
	s.notify("account_locked", s.notifier.AccountLocked(account.Email, account.Handle, account.LockedUntil.Format(time.RFC3339)))
	s.logger.Info("account locked",
		zap.Int64("account_id", account.ID),
		zap.Time("until", *account.LockedUntil),
	)
	return apperr.ErrAccountLocked
}

// registerSuccess resets the failure counter inside a transaction. extra runs
// in the same transaction before the reset; it may reject the attempt.
func (s *Service) registerSuccess(ctx context.Context, accountID int64, meta RequestMeta, extra func(*models.Account) error) (*models.Account, error) {
	now := s.now()
	account, err := s.accounts.Mutate(ctx, accountID, func(a *models.Account) error {
		if a.IsLocked(now) {
			return errLockedInTx
		}
		if extra != nil {
			if err := extra(a); err != nil {
				return err
			}
		}
		lockout.RegisterSuccess(a, now)
		return nil
	})
	if errors.Is(err, errLockedInTx) {
		current, getErr := s.accounts.GetByID(ctx, accountID)
		if getErr != nil {
			return nil, getErr
		}
		if err := s.record(ctx, current, "", models.EventLoginAttemptLocked, meta); err != nil {
			return nil, err
		}
		return nil, apperr.ErrAccountLocked
	}
	return account, err
}

// VerifyOTP completes a pending login with the primary TOTP code
func (s *Service) VerifyOTP(ctx context.Context, id Identity, code string, meta RequestMeta) (*token.Pair, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperr.ErrMissingFields
	}

	account, err := s.accounts.GetByID(ctx, id.AccountID)
	if errors.Is(err, apperr.ErrUserNotFound) {
		return nil, apperr.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	if account.IsLocked(s.now()) {
		if err := s.record(ctx, account, "", models.EventLoginAttemptLocked, meta); err != nil {
			return nil, err
		}
		return nil, apperr.ErrAccountLocked
	}

	secret, err := s.sealer.Open(account.TOTPSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to open TOTP secret: %w", err)
	}
	valid, err := s.otp.Validate(secret, code)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, s.registerFailure(ctx, account.ID, meta, apperr.ErrInvalidCode)
	}

	account, err = s.registerSuccess(ctx, account.ID, meta, nil)
	if err != nil {
		return nil, err
	}
	if err := s.record(ctx, account, "", models.EventOTPVerified, meta); err != nil {
		return nil, err
	}

	return s.tokens.IssuePair(account)
}

// RequestFallbackOTP mails a fresh single-use numeric code, replacing any
// code issued earlier
func (s *Service) RequestFallbackOTP(ctx context.Context, email string, meta RequestMeta) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperr.ErrMissingFields
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return err
	}

	code, err := auth.GenerateFallbackCode()
	if err != nil {
		return err
	}
	hash := auth.HashCode(code)

	account, err = s.accounts.Mutate(ctx, account.ID, func(a *models.Account) error {
		a.FallbackCodeHash = &hash
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.record(ctx, account, "", models.EventFallbackOTPSent, meta); err != nil {
		return err
	}
	s.notify("fallback_code", s.notifier.OTPCode(account.Email, account.Handle, code))
	return nil
}

// VerifyFallbackOTP checks the fallback code. A match consumes it in the
// same transaction that resets the failure counter; a mismatch keeps it and
// counts as a failed login.
func (s *Service) VerifyFallbackOTP(ctx context.Context, email, code string, meta RequestMeta) (*token.Pair, error) {
	email = strings.TrimSpace(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return nil, apperr.ErrMissingFields
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if account.IsLocked(s.now()) {
		if err := s.record(ctx, account, "", models.EventLoginAttemptLocked, meta); err != nil {
			return nil, err
		}
		return nil, apperr.ErrAccountLocked
	}

	accountID := account.ID
	account, err = s.registerSuccess(ctx, accountID, meta, func(a *models.Account) error {
		if a.FallbackCodeHash == nil || !auth.VerifyCode(code, *a.FallbackCodeHash) {
			return errCodeMismatch
		}
		a.FallbackCodeHash = nil
		return nil
	})
	if errors.Is(err, errCodeMismatch) {
		return nil, s.registerFailure(ctx, accountID, meta, apperr.ErrInvalidCode)
	}
	if err != nil {
		return nil, err
	}

	if err := s.record(ctx, account, "", models.EventOTPVerified, meta); err != nil {
		return nil, err
	}
	return s.tokens.IssuePair(account)
}

// Refresh mints a new access token from a verified refresh token. The role
// is read from the current account so role changes apply on refresh.
func (s *Service) Refresh(ctx context.Context, id Identity, meta RequestMeta) (string, error) {
	account, err := s.accounts.GetByID(ctx, id.AccountID)
	if errors.Is(err, apperr.ErrUserNotFound) {
		return "", apperr.ErrInvalidToken
	}
	if err != nil {
		return "", err
	}

	access, err := s.tokens.IssueAccess(account)
	if err != nil {
		return "", err
	}
	if err := s.record(ctx, account, "", models.EventTokenRefreshed, meta); err != nil {
		return "", err
	}
	return access, nil
}
