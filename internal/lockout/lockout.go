// Package lockout implements the failed-login lockout state machine.
//
// The functions here only mutate the account value they are given; callers
// run them inside AccountRepository.Mutate so that each transition commits
// as a single unit.
package lockout

import (
	"time"

	"github.com/adamscao/ticketauth/internal/models"
)

// State is the lockout state of an account at an instant
type State int

const (
	Unlocked State = iota
	Locked
)

func (s State) String() string {
	if s == Locked {
		return "locked"
	}
	return "unlocked"
}

// Policy controls when and for how long accounts lock
type Policy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultPolicy locks for 15 minutes after 3 consecutive failures
var DefaultPolicy = Policy{Threshold: 3, Duration: 15 * time.Minute}

// StateOf evaluates the lock lazily: an elapsed lock reads as Unlocked.
func StateOf(a *models.Account, now time.Time) State {
	if a.IsLocked(now) {
		return Locked
	}
	return Unlocked
}

// RegisterFailure counts a failed authentication. It returns true when this
// failure reaches the threshold and locks the account; the counter is then reset.
func RegisterFailure(a *models.Account, now time.Time, p Policy) bool {
	a.FailedAttempts++
	if a.FailedAttempts < p.Threshold {
		return false
	}

	until := now.Add(p.Duration).UTC()
	a.LockedUntil = &until
	a.FailedAttempts = 0
	return true
}

// RegisterSuccess resets the counter after a successful authentication.
// A lock that has already elapsed is cleared as well.
func RegisterSuccess(a *models.Account, now time.Time) {
	a.FailedAttempts = 0
	if a.LockedUntil != nil && !a.IsLocked(now) {
		a.LockedUntil = nil
	}
}

// Unlock forces the account to Unlocked regardless of its prior state
func Unlock(a *models.Account) {
	a.FailedAttempts = 0
	a.LockedUntil = nil
}
