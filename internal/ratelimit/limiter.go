// Package ratelimit throttles callers with limits that depend on their role.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adamscao/ticketauth/internal/models"
)

// Anonymous is the pseudo-role of callers without a valid access token
const Anonymous = "anonymous"

// Limit is a request budget per window
type Limit struct {
	Requests int
	Window   time.Duration
}

func (l Limit) String() string {
	return fmt.Sprintf("%d/%s", l.Requests, l.Window)
}

var (
	AnonymousLimit = Limit{Requests: 5, Window: time.Minute}
	ConsumerLimit  = Limit{Requests: 10, Window: time.Minute}
	EngineerLimit  = Limit{Requests: 20, Window: time.Minute}
	AdminLimit     = Limit{Requests: 100, Window: time.Hour}

	// PasswordResetRequestLimit applies to reset requests regardless of role
	PasswordResetRequestLimit = Limit{Requests: 10, Window: time.Hour}

	// VerificationLimit applies to OTP, reset and unlock confirmation regardless of role
	VerificationLimit = Limit{Requests: 5, Window: time.Minute}
)

// ForRole returns the limit for a role; unknown roles get the anonymous limit
func ForRole(role string) Limit {
	switch models.Role(role) {
	case models.RoleConsumer:
		return ConsumerLimit
	case models.RoleEngineer:
		return EngineerLimit
	case models.RoleAdmin:
		return AdminLimit
	}
	return AnonymousLimit
}

// Limiter decides whether one more request under key fits in limit.
// Implementations must be safe for concurrent use.
type Limiter interface {
	Allow(ctx context.Context, key string, limit Limit) (bool, error)
}

// AccountKey keys a route by authenticated account
func AccountKey(route string, accountID int64) string {
	return route + ":account:" + strconv.FormatInt(accountID, 10)
}

// AddrKey keys a route by source address
func AddrKey(route, addr string) string {
	return route + ":ip:" + addr
}
