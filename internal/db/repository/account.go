package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adamscao/ticketauth/internal/apperr"
	"github.com/adamscao/ticketauth/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

const accountColumns = `id, handle, email, password_hash, totp_secret, fallback_code_hash, role,
	failed_attempts, locked_until, created_at, updated_at`

// AccountRepository handles account data access
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account. Handle or email collisions return apperr.ErrDuplicateIdentity.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if !account.Role.Valid() {
		return apperr.ErrInvalidRole
	}

	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.CreatedAt = account.CreatedAt.UTC()
	account.UpdatedAt = account.CreatedAt

	query := `
		INSERT INTO accounts (handle, email, password_hash, totp_secret, role, failed_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		account.Handle,
		account.Email,
		account.PasswordHash,
		account.TOTPSecret,
		account.Role,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Wrap(apperr.ErrDuplicateIdentity, err)
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	account.ID = id
	account.FailedAttempts = 0

	return nil
}

// Exists reports whether an account already uses handle or email
func (r *AccountRepository) Exists(ctx context.Context, handle, email string) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM accounts WHERE handle = ? OR email = ?`, handle, email)
	if err != nil {
		return false, fmt.Errorf("failed to check account existence: %w", err)
	}
	return count > 0, nil
}

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	return r.getOne(ctx, r.db, `WHERE id = ?`, id)
}

// GetByHandle retrieves an account by handle
func (r *AccountRepository) GetByHandle(ctx context.Context, handle string) (*models.Account, error) {
	return r.getOne(ctx, r.db, `WHERE handle = ?`, handle)
}

// GetByEmail retrieves an account by email
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.getOne(ctx, r.db, `WHERE email = ?`, email)
}

func (r *AccountRepository) getOne(ctx context.Context, q sqlx.QueryerContext, where string, arg interface{}) (*models.Account, error) {
	account := &models.Account{}
	err := sqlx.GetContext(ctx, q, account, `SELECT `+accountColumns+` FROM accounts `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// List lists all accounts
func (r *AccountRepository) List(ctx context.Context) ([]*models.Account, error) {
	var accounts []*models.Account
	err := r.db.SelectContext(ctx, &accounts,
		`SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// ListByRole lists the accounts holding role
func (r *AccountRepository) ListByRole(ctx context.Context, role models.Role) ([]*models.Account, error) {
	var accounts []*models.Account
	err := r.db.SelectContext(ctx, &accounts,
		`SELECT `+accountColumns+` FROM accounts WHERE role = ? ORDER BY id`, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts by role: %w", err)
	}
	return accounts, nil
}

// Mutate loads the account inside a write transaction, applies fn and persists
// the mutable columns in the same transaction. fn must only touch the account
// passed to it. If fn returns an error nothing is written and the error is
// returned unchanged; a cancelled ctx rolls the transaction back.
func (r *AccountRepository) Mutate(ctx context.Context, id int64, fn func(*models.Account) error) (*models.Account, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	account, err := r.getOne(ctx, tx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}

	if err := fn(account); err != nil {
		return nil, err
	}
	account.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE accounts
		SET password_hash = ?, totp_secret = ?, fallback_code_hash = ?, role = ?,
		    failed_attempts = ?, locked_until = ?, updated_at = ?
		WHERE id = ?
	`
	_, err = tx.ExecContext(ctx, query,
		account.PasswordHash,
		account.TOTPSecret,
		account.FallbackCodeHash,
		account.Role,
		account.FailedAttempts,
		utcPtr(account.LockedUntil),
		account.UpdatedAt,
		account.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit account update: %w", err)
	}

	return account, nil
}

// SetPassword replaces the password hash in a single statement
func (r *AccountRepository) SetPassword(ctx context.Context, id int64, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	return requireRow(result)
}

// Delete permanently deletes an account. Its audit events survive with a NULL account_id.
func (r *AccountRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
