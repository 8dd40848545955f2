package models

import "time"

// EventKind identifies an authentication-relevant action
type EventKind string

// Authentication event kinds
const (
	EventLoginSuccess             EventKind = "LOGIN_SUCCESS"
	EventLoginFailure             EventKind = "LOGIN_FAILURE"
	EventLoginFailureUnknownUser  EventKind = "LOGIN_FAILURE_UNKNOWN_USER"
	EventLoginAttemptLocked       EventKind = "LOGIN_ATTEMPT_LOCKED"
	EventAccountLocked            EventKind = "ACCOUNT_LOCKED"
	EventAccountUnlocked          EventKind = "ACCOUNT_UNLOCKED"
	EventUnlockRequestSent        EventKind = "UNLOCK_REQUEST_SENT"
	EventUnlockRequestUnknownUser EventKind = "UNLOCK_REQUEST_UNKNOWN_USER"
	EventUnlockFailureUnknownUser EventKind = "UNLOCK_FAILURE_UNKNOWN_USER"
	EventOTPVerified              EventKind = "OTP_VERIFIED"
	EventFallbackOTPSent          EventKind = "FALLBACK_OTP_SENT"
	EventPasswordResetRequested   EventKind = "PASSWORD_RESET_REQUESTED"
	EventPasswordResetCompleted   EventKind = "PASSWORD_RESET_COMPLETED"
	EventAccountRegistered        EventKind = "ACCOUNT_REGISTERED"
	EventTokenRefreshed           EventKind = "TOKEN_REFRESHED"
)

// AuthEvent represents an immutable authentication audit record.
// AccountID is nil for attempts against unknown handles and after the account is deleted.
type AuthEvent struct {
	ID         int64     `db:"id" json:"id"`
	AccountID  *int64    `db:"account_id" json:"user_id"`
	Handle     string    `db:"handle" json:"username"`
	Kind       EventKind `db:"kind" json:"event"`
	SourceAddr string    `db:"source_addr" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"timestamp"`
}
