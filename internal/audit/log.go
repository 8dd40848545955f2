// Package audit records authentication events and flags suspicious logins.
package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/adamscao/ticketauth/internal/metrics"
	"github.com/adamscao/ticketauth/internal/models"
)

// RecentSuccessWindow is how many recent successful logins the detector compares against
const RecentSuccessWindow = 5

// EventStore persists authentication events
type EventStore interface {
	Create(ctx context.Context, event *models.AuthEvent) error
	List(ctx context.Context, accountID *int64, kind models.EventKind, limit int) ([]*models.AuthEvent, error)
	RecentSourceAddrs(ctx context.Context, accountID int64, kind models.EventKind, n int) ([]string, error)
	DeleteOld(ctx context.Context, before time.Time) (int64, error)
}

// AdminDirectory lists the accounts that receive security alerts
type AdminDirectory interface {
	ListByRole(ctx context.Context, role models.Role) ([]*models.Account, error)
}

// Alerter notifies an administrator of a suspicious login
type Alerter interface {
	SuspiciousLogin(recipient, handle, sourceAddr, agent, kind string) error
}

// Entry describes one authentication-relevant action
type Entry struct {
	// Account is nil for attempts against unknown identities
	Account    *models.Account
	Handle     string
	Kind       models.EventKind
	SourceAddr string
	Agent      string
}

// Log appends events and runs the suspicious-login detector
type Log struct {
	store   EventStore
	admins  AdminDirectory
	alerter Alerter
	logger  *zap.Logger
	now     func() time.Time
}

// NewLog creates an audit log. now may be nil to use the wall clock.
func NewLog(store EventStore, admins AdminDirectory, alerter Alerter, logger *zap.Logger, now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{
		store:   store,
		admins:  admins,
		alerter: alerter,
		logger:  logger.Named("audit"),
		now:     now,
	}
}

// Record appends the event synchronously. Detector problems are logged and
// never fail the call once the event is stored.
func (l *Log) Record(ctx context.Context, e Entry) error {
	event := &models.AuthEvent{
		Handle:     e.Handle,
		Kind:       e.Kind,
		SourceAddr: e.SourceAddr,
		UserAgent:  e.Agent,
		CreatedAt:  l.now(),
	}
	if e.Account != nil {
		id := e.Account.ID
		event.AccountID = &id
		if event.Handle == "" {
			event.Handle = e.Account.Handle
		}
	}

	if err := l.store.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to record %s: %w", e.Kind, err)
	}
	metrics.AuthEventsTotal.WithLabelValues(string(e.Kind)).Inc()

	if event.AccountID != nil && (e.Kind == models.EventLoginFailure || e.Kind == models.EventAccountLocked) {
		if _, err := l.detect(ctx, *event.AccountID, event); err != nil {
			l.logger.Error("suspicious login check failed",
				zap.Int64("account_id", *event.AccountID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// detect compares the event's source address with the account's recent
// successful logins. An account with no successful logins is always flagged.
func (l *Log) detect(ctx context.Context, accountID int64, event *models.AuthEvent) (bool, error) {
	addrs, err := l.store.RecentSourceAddrs(ctx, accountID, models.EventLoginSuccess, RecentSuccessWindow)
	if err != nil {
		return false, err
	}
	for _, addr := range addrs {
		if addr == event.SourceAddr {
			return false, nil
		}
	}

	metrics.SuspiciousLoginsTotal.Inc()
	l.logger.Warn("suspicious login attempt",
		zap.Int64("account_id", accountID),
		zap.String("handle", event.Handle),
		zap.String("source_addr", event.SourceAddr),
		zap.String("user_agent", event.UserAgent),
		zap.String("kind", string(event.Kind)),
	)

	admins, err := l.admins.ListByRole(ctx, models.RoleAdmin)
	if err != nil {
		return true, fmt.Errorf("failed to list admins: %w", err)
	}
	for _, admin := range admins {
		if err := l.alerter.SuspiciousLogin(admin.Email, event.Handle, event.SourceAddr, event.UserAgent, string(event.Kind)); err != nil {
			l.logger.Warn("failed to queue suspicious login alert",
				zap.String("admin", admin.Handle),
				zap.Error(err),
			)
		}
	}

	return true, nil
}

// List returns events newest first. A zero limit means no limit.
func (l *Log) List(ctx context.Context, accountID *int64, kind models.EventKind, limit int) ([]*models.AuthEvent, error) {
	return l.store.List(ctx, accountID, kind, limit)
}

// PurgeOlderThan deletes events older than days and returns the count removed
func (l *Log) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, fmt.Errorf("retention days must not be negative")
	}
	before := l.now().Add(-time.Duration(days) * 24 * time.Hour)

	n, err := l.store.DeleteOld(ctx, before)
	if err != nil {
		return 0, err
	}
	metrics.AuditPurgedTotal.Add(float64(n))
	return n, nil
}
