package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/adamscao/ticketauth/internal/apperr"
	"github.com/adamscao/ticketauth/internal/db"
	"github.com/adamscao/ticketauth/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(database))
	t.Cleanup(func() { database.Close() })
	return database
}

func newAccount(handle string) *models.Account {
	return &models.Account{
		Handle:       handle,
		Email:        handle + "@example.com",
		PasswordHash: "hash",
		TOTPSecret:   "sealed",
		Role:         models.RoleConsumer,
	}
}

func TestAccountCreate_DuplicateIdentity(t *testing.T) {
	database := openTestDB(t)
	repo := NewAccountRepository(database.DB)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newAccount("alice")))

	dupHandle := newAccount("alice")
	dupHandle.Email = "other@example.com"
	assert.ErrorIs(t, repo.Create(ctx, dupHandle), apperr.ErrDuplicateIdentity)

	dupEmail := newAccount("bob")
	dupEmail.Email = "alice@example.com"
	assert.ErrorIs(t, repo.Create(ctx, dupEmail), apperr.ErrDuplicateIdentity)

	bad := newAccount("carol")
	bad.Role = "root"
	assert.ErrorIs(t, repo.Create(ctx, bad), apperr.ErrInvalidRole)
}

func TestAccountGetters(t *testing.T) {
	database := openTestDB(t)
	repo := NewAccountRepository(database.DB)
	ctx := context.Background()

	acct := newAccount("alice")
	require.NoError(t, repo.Create(ctx, acct))

	byHandle, err := repo.GetByHandle(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, byHandle.ID)
	assert.Nil(t, byHandle.LockedUntil)
	assert.Nil(t, byHandle.FallbackCodeHash)

	byEmail, err := repo.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.RoleConsumer, byEmail.Role)

	_, err = repo.GetByHandle(ctx, "nobody")
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}

func TestAccountMutate_PersistsAndRollsBack(t *testing.T) {
	database := openTestDB(t)
	repo := NewAccountRepository(database.DB)
	ctx := context.Background()

	acct := newAccount("alice")
	require.NoError(t, repo.Create(ctx, acct))

	until := time.Now().Add(15 * time.Minute)
	code := "abc"
	_, err := repo.Mutate(ctx, acct.ID, func(a *models.Account) error {
		a.FailedAttempts = 2
		a.LockedUntil = &until
		a.FallbackCodeHash = &code
		return nil
	})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.FailedAttempts)
	require.NotNil(t, got.LockedUntil)
	assert.WithinDuration(t, until, *got.LockedUntil, time.Second)
	require.NotNil(t, got.FallbackCodeHash)

	boom := errors.New("boom")
	_, err = repo.Mutate(ctx, acct.ID, func(a *models.Account) error {
		a.FailedAttempts = 99
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err = repo.GetByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.FailedAttempts)
}

func TestAccountMutate_ConcurrentIncrementsAreNotLost(t *testing.T) {
	database := openTestDB(t)
	repo := NewAccountRepository(database.DB)
	ctx := context.Background()

	acct := newAccount("alice")
	require.NoError(t, repo.Create(ctx, acct))

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Mutate(ctx, acct.ID, func(a *models.Account) error {
				a.FailedAttempts++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, got.FailedAttempts)
}

func TestAccountDelete_KeepsHistory(t *testing.T) {
	database := openTestDB(t)
	accounts := NewAccountRepository(database.DB)
	events := NewAuditRepository(database.DB)
	ctx := context.Background()

	acct := newAccount("alice")
	require.NoError(t, accounts.Create(ctx, acct))
	require.NoError(t, events.Create(ctx, &models.AuthEvent{
		AccountID:  &acct.ID,
		Handle:     acct.Handle,
		Kind:       models.EventLoginSuccess,
		SourceAddr: "1.1.1.1",
	}))

	require.NoError(t, accounts.Delete(ctx, acct.ID))
	assert.ErrorIs(t, accounts.Delete(ctx, acct.ID), apperr.ErrUserNotFound)

	all, err := events.List(ctx, nil, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Nil(t, all[0].AccountID)
	assert.Equal(t, "alice", all[0].Handle)
}

func TestAudit_RecentAndDeleteOld(t *testing.T) {
	database := openTestDB(t)
	accounts := NewAccountRepository(database.DB)
	events := NewAuditRepository(database.DB)
	ctx := context.Background()

	acct := newAccount("alice")
	require.NoError(t, accounts.Create(ctx, acct))

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	addrs := []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4", "5.5.5.5", "6.6.6.6"}
	for i, addr := range addrs {
		require.NoError(t, events.Create(ctx, &models.AuthEvent{
			AccountID:  &acct.ID,
			Handle:     acct.Handle,
			Kind:       models.EventLoginSuccess,
			SourceAddr: addr,
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
		}))
	}

	recent, err := events.RecentSourceAddrs(ctx, acct.ID, models.EventLoginSuccess, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"6.6.6.6", "5.5.5.5", "4.4.4.4", "3.3.3.3", "2.2.2.2"}, recent)

	n, err := events.DeleteOld(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = events.DeleteOld(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}
