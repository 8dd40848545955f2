// Package token mints and verifies the signed, time-boxed tokens used for
// access, refresh, pending two-factor, password reset and unlock flows.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/adamscao/ticketauth/internal/apperr"
	"github.com/adamscao/ticketauth/internal/config"
	"github.com/adamscao/ticketauth/internal/keys"
	"github.com/adamscao/ticketauth/internal/models"
)

// Kind is the single purpose a token was minted for
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindMFA     Kind = "mfa"
	KindReset   Kind = "reset"
	KindUnlock  Kind = "unlock"
)

// Claims is the token payload. Account tokens carry aid and role; reset and
// unlock tokens carry the email they were issued for.
type Claims struct {
	AccountID int64       `json:"aid,omitempty"`
	Role      models.Role `json:"role,omitempty"`
	Email     string      `json:"email,omitempty"`
	Kind      Kind        `json:"kind"`
	jwt.RegisteredClaims
}

// Lifetimes holds the TTL of each token kind
type Lifetimes struct {
	Access  time.Duration
	Refresh time.Duration
	MFA     time.Duration
	Reset   time.Duration
	Unlock  time.Duration
}

// Issuer signs and verifies tokens with a single key
type Issuer struct {
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
	keyID     string
	keyPair   *keys.KeyPair
	issuer    string
	lifetimes Lifetimes
	now       func() time.Time
}

// Option customizes an Issuer
type Option func(*Issuer)

// WithClock replaces the wall clock, for tests
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewHS256 creates an issuer signing with a shared secret of at least 32 bytes
func NewHS256(secret []byte, issuer string, lifetimes Lifetimes, opts ...Option) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("hs256 secret must be at least 32 bytes")
	}
	return newIssuer(jwt.SigningMethodHS256, secret, secret, "", issuer, lifetimes, opts)
}

// NewEd25519 creates an issuer signing with an Ed25519 key pair
func NewEd25519(kp *keys.KeyPair, issuer string, lifetimes Lifetimes, opts ...Option) (*Issuer, error) {
	if kp == nil || len(kp.PrivateKey) == 0 {
		return nil, errors.New("ed25519 signing requires a key pair")
	}
	i, err := newIssuer(jwt.SigningMethodEdDSA, kp.PrivateKey, kp.PublicKey, kp.KeyID, issuer, lifetimes, opts)
	if err != nil {
		return nil, err
	}
	i.keyPair = kp
	return i, nil
}

// FromConfig builds the issuer described by cfg, loading or generating key
// files as needed. Any error here is a startup failure.
func FromConfig(cfg *config.Config, opts ...Option) (*Issuer, error) {
	lifetimes := Lifetimes{
		Access:  cfg.AccessTTL(),
		Refresh: cfg.RefreshTTL(),
		MFA:     cfg.PendingTTL(),
		Reset:   cfg.ResetMaxAge(),
		Unlock:  cfg.UnlockMaxAge(),
	}

	switch cfg.Tokens.SigningMethod {
	case "hs256":
		return NewHS256([]byte(cfg.Tokens.Secret), cfg.Tokens.Issuer, lifetimes, opts...)
	case "ed25519":
		kp, err := keys.LoadOrGenerate(cfg.Tokens.PrivateKeyPath, cfg.Tokens.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing key: %w", err)
		}
		return NewEd25519(kp, cfg.Tokens.Issuer, lifetimes, opts...)
	default:
		return nil, fmt.Errorf("unsupported signing method: %s", cfg.Tokens.SigningMethod)
	}
}

func newIssuer(method jwt.SigningMethod, signKey, verifyKey interface{}, kid, issuer string, lifetimes Lifetimes, opts []Option) (*Issuer, error) {
	for kind, ttl := range map[Kind]time.Duration{
		KindAccess:  lifetimes.Access,
		KindRefresh: lifetimes.Refresh,
		KindMFA:     lifetimes.MFA,
		KindReset:   lifetimes.Reset,
		KindUnlock:  lifetimes.Unlock,
	} {
		if ttl <= 0 {
			return nil, fmt.Errorf("invalid TTL for %s tokens", kind)
		}
	}

	i := &Issuer{
		method:    method,
		signKey:   signKey,
		verifyKey: verifyKey,
		keyID:     kid,
		issuer:    issuer,
		lifetimes: lifetimes,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}

	// A key that cannot round-trip a token is a misconfiguration
	probe, err := i.sign(Claims{Kind: KindAccess}, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("signing key self-check failed: %w", err)
	}
	if _, err := i.parse(probe); err != nil {
		return nil, fmt.Errorf("signing key self-check failed: %w", err)
	}

	return i, nil
}

// Pair is an access token with its refresh token
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// IssuePair mints an access and a refresh token for the account
func (i *Issuer) IssuePair(a *models.Account) (*Pair, error) {
	access, err := i.IssueAccess(a)
	if err != nil {
		return nil, err
	}
	refresh, err := i.sign(accountClaims(a, KindRefresh), i.lifetimes.Refresh)
	if err != nil {
		return nil, err
	}
	return &Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// IssueAccess mints an access token
func (i *Issuer) IssueAccess(a *models.Account) (string, error) {
	return i.sign(accountClaims(a, KindAccess), i.lifetimes.Access)
}

// IssuePending mints the short-lived token held between the password and OTP checks
func (i *Issuer) IssuePending(a *models.Account) (string, error) {
	return i.sign(accountClaims(a, KindMFA), i.lifetimes.MFA)
}

// IssueReset mints a password reset token for email
func (i *Issuer) IssueReset(email string) (string, error) {
	return i.sign(Claims{Email: email, Kind: KindReset}, i.lifetimes.Reset)
}

// IssueUnlock mints an account unlock token for email
func (i *Issuer) IssueUnlock(email string) (string, error) {
	return i.sign(Claims{Email: email, Kind: KindUnlock}, i.lifetimes.Unlock)
}

// KeyID returns the kid header value, empty for shared-secret signing
func (i *Issuer) KeyID() string {
	return i.keyID
}

// KeyPair returns the signing key pair, nil for shared-secret signing
func (i *Issuer) KeyPair() *keys.KeyPair {
	return i.keyPair
}

func accountClaims(a *models.Account, kind Kind) Claims {
	return Claims{AccountID: a.ID, Role: a.Role, Kind: kind}
}

func (i *Issuer) sign(claims Claims, ttl time.Duration) (string, error) {
	now := i.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if claims.AccountID != 0 {
		claims.Subject = fmt.Sprintf("%d", claims.AccountID)
	}

	tok := jwt.NewWithClaims(i.method, claims)
	if i.keyID != "" {
		tok.Header["kid"] = i.keyID
	}

	signed, err := tok.SignedString(i.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer, expiry and kind. Expiry maps to
// apperr.ErrExpiredToken; every other failure maps to apperr.ErrInvalidToken.
func (i *Issuer) Verify(tokenStr string, kind Kind) (*Claims, error) {
	claims, err := i.parse(tokenStr)
	if err != nil {
		return nil, err
	}

	if claims.Kind != kind {
		return nil, apperr.Wrap(apperr.ErrInvalidToken, fmt.Errorf("expected %s token, got %q", kind, claims.Kind))
	}
	switch kind {
	case KindReset, KindUnlock:
		if claims.Email == "" {
			return nil, apperr.Wrap(apperr.ErrInvalidToken, errors.New("missing email claim"))
		}
	default:
		if claims.AccountID == 0 || !claims.Role.Valid() {
			return nil, apperr.Wrap(apperr.ErrInvalidToken, errors.New("missing account claims"))
		}
	}

	return claims, nil
}

func (i *Issuer) parse(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)

	claims := &Claims{}
	tok, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if i.keyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != i.keyID {
				return nil, errors.New("unknown kid")
			}
		}
		return i.verifyKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Wrap(apperr.ErrExpiredToken, err)
		}
		return nil, apperr.Wrap(apperr.ErrInvalidToken, err)
	}
	if !tok.Valid {
		return nil, apperr.ErrInvalidToken
	}
	return claims, nil
}
