package auth

import (
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	totpSkew   = 1
	totpDigits = otp.DigitsSix
)

// TOTP issues and validates time-step one-time codes
type TOTP struct {
	issuer string
	now    func() time.Time
}

// NewTOTP creates a TOTP helper. now may be nil to use the wall clock.
func NewTOTP(issuer string, now func() time.Time) *TOTP {
	if now == nil {
		now = time.Now
	}
	return &TOTP{issuer: issuer, now: now}
}

// GenerateSecret generates a new base32 TOTP secret (20 random bytes)
func (t *TOTP) GenerateSecret(accountName string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Digits:      totpDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	return key.Secret(), nil
}

// CurrentCode returns the code for the current time step
func (t *TOTP) CurrentCode(secret string) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, t.now(), t.opts())
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP code: %w", err)
	}
	return code, nil
}

// Validate checks code against the current step and one adjacent step either side
func (t *TOTP) Validate(secret, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != totpDigits.Length() {
		return false, nil
	}

	valid, err := totp.ValidateCustom(code, secret, t.now(), t.opts())
	if err != nil {
		// ErrValidateInputInvalidLength and friends are plain mismatches
		return false, nil
	}

	return valid, nil
}

// ProvisioningURI returns the otpauth:// enrollment URI for an account
func (t *TOTP) ProvisioningURI(secret, accountName string) (string, error) {
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).
		DecodeString(strings.ToUpper(strings.TrimRight(secret, "=")))
	if err != nil {
		return "", fmt.Errorf("invalid TOTP secret: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Secret:      raw,
		SecretSize:  uint(len(raw)),
		Digits:      totpDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build TOTP key: %w", err)
	}

	return key.URL(), nil
}

func (t *TOTP) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	}
}
