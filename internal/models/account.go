package models

import "time"

// Role gates which actions an authenticated identity may perform
type Role string

const (
	RoleConsumer Role = "consumer"
	RoleEngineer Role = "engineer"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is one of the enumerated roles
func (r Role) Valid() bool {
	switch r {
	case RoleConsumer, RoleEngineer, RoleAdmin:
		return true
	}
	return false
}

// Account represents a user identity record
type Account struct {
	ID               int64      `db:"id" json:"id"`
	Handle           string     `db:"handle" json:"username"`
	Email            string     `db:"email" json:"email"`
	PasswordHash     string     `db:"password_hash" json:"-"`      // Never expose password hash in JSON
	TOTPSecret       string     `db:"totp_secret" json:"-"`        // Sealed at rest
	FallbackCodeHash *string    `db:"fallback_code_hash" json:"-"` // SHA-256 of the pending fallback code
	Role             Role       `db:"role" json:"role"`
	FailedAttempts   int        `db:"failed_attempts" json:"failed_attempts"`
	LockedUntil      *time.Time `db:"locked_until" json:"locked_until,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// IsLocked reports whether the account is locked at the given instant.
// An elapsed lock counts as unlocked without any write.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(now)
}
