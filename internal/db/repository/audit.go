package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/adamscao/ticketauth/internal/models"
	"github.com/jmoiron/sqlx"
)

const eventColumns = `id, account_id, handle, kind, source_addr, user_agent, created_at`

// AuditRepository handles authentication event data access
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create appends a new authentication event
func (r *AuditRepository) Create(ctx context.Context, event *models.AuthEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.CreatedAt = event.CreatedAt.UTC()

	query := `
		INSERT INTO auth_events (account_id, handle, kind, source_addr, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		event.AccountID,
		event.Handle,
		event.Kind,
		event.SourceAddr,
		event.UserAgent,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create auth event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	event.ID = id

	return nil
}

// List lists events newest first with optional filters. A zero limit means no limit.
func (r *AuditRepository) List(ctx context.Context, accountID *int64, kind models.EventKind, limit int) ([]*models.AuthEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM auth_events WHERE 1=1`
	args := []interface{}{}

	if accountID != nil {
		query += " AND account_id = ?"
		args = append(args, *accountID)
	}

	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}

	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var events []*models.AuthEvent
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list auth events: %w", err)
	}

	return events, nil
}

// RecentSourceAddrs returns the source addresses of the account's n most recent events of kind
func (r *AuditRepository) RecentSourceAddrs(ctx context.Context, accountID int64, kind models.EventKind, n int) ([]string, error) {
	query := `
		SELECT source_addr
		FROM auth_events
		WHERE account_id = ? AND kind = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	var addrs []string
	if err := r.db.SelectContext(ctx, &addrs, query, accountID, kind, n); err != nil {
		return nil, fmt.Errorf("failed to list recent source addresses: %w", err)
	}

	return addrs, nil
}

// DeleteOld deletes events older than the given time
func (r *AuditRepository) DeleteOld(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM auth_events WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old auth events: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return count, nil
}
