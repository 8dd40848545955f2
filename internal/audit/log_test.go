package audit

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adamscao/ticketauth/internal/db"
	"github.com/adamscao/ticketauth/internal/db/repository"
	"github.com/adamscao/ticketauth/internal/models"
)

type alert struct {
	recipient, handle, addr, agent, kind string
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []alert
}

func (f *fakeAlerter) SuspiciousLogin(recipient, handle, sourceAddr, agent, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert{recipient, handle, sourceAddr, agent, kind})
	return nil
}

func (f *fakeAlerter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

type fixture struct {
	log      *Log
	events   *repository.AuditRepository
	accounts *repository.AccountRepository
	alerter  *fakeAlerter
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(database))
	t.Cleanup(func() { database.Close() })

	f := &fixture{
		events:   repository.NewAuditRepository(database.DB),
		accounts: repository.NewAccountRepository(database.DB),
		alerter:  &fakeAlerter{},
		now:      time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
	}
	f.log = NewLog(f.events, f.accounts, f.alerter, zap.NewNop(), func() time.Time { return f.now })
	return f
}

func (f *fixture) account(t *testing.T, handle string, role models.Role) *models.Account {
	t.Helper()
	a := &models.Account{
		Handle:       handle,
		Email:        handle + "@example.com",
		PasswordHash: "x",
		TOTPSecret:   "x",
		Role:         role,
	}
	require.NoError(t, f.accounts.Create(context.Background(), a))
	return a
}

func (f *fixture) record(t *testing.T, a *models.Account, kind models.EventKind, addr string) {
	t.Helper()
	f.now = f.now.Add(time.Second)
	require.NoError(t, f.log.Record(context.Background(), Entry{
		Account:    a,
		Kind:       kind,
		SourceAddr: addr,
		Agent:      "test-agent",
	}))
}

func TestDetector_FlagsUnseenAddress(t *testing.T) {
	f := newFixture(t)
	f.account(t, "root", models.RoleAdmin)
	f.account(t, "ops", models.RoleAdmin)
	alice := f.account(t, "alice", models.RoleConsumer)

	f.record(t, alice, models.EventLoginSuccess, "1.1.1.1")
	f.record(t, alice, models.EventLoginSuccess, "2.2.2.2")

	f.record(t, alice, models.EventLoginFailure, "9.9.9.9")
	require.Equal(t, 2, f.alerter.count(), "every admin is notified")
	a := f.alerter.alerts[0]
	assert.Equal(t, "alice", a.handle)
	assert.Equal(t, "9.9.9.9", a.addr)
	assert.Equal(t, "test-agent", a.agent)
	assert.ElementsMatch(t, []string{"root@example.com", "ops@example.com"},
		[]string{f.alerter.alerts[0].recipient, f.alerter.alerts[1].recipient})

	f.record(t, alice, models.EventLoginFailure, "1.1.1.1")
	assert.Equal(t, 2, f.alerter.count(), "known address is not suspicious")
}

func TestDetector_OnlyLooksAtFiveMostRecentSuccesses(t *testing.T) {
	f := newFixture(t)
	f.account(t, "root", models.RoleAdmin)
	alice := f.account(t, "alice", models.RoleConsumer)

	f.record(t, alice, models.EventLoginSuccess, "1.1.1.1")
	for _, addr := range []string{"3.3.3.3", "4.4.4.4", "5.5.5.5", "6.6.6.6", "7.7.7.7"} {
		f.record(t, alice, models.EventLoginSuccess, addr)
	}

	f.record(t, alice, models.EventAccountLocked, "1.1.1.1")
	assert.Equal(t, 1, f.alerter.count())
}

func TestDetector_IgnoresOtherKindsAndUnknownUsers(t *testing.T) {
	f := newFixture(t)
	f.account(t, "root", models.RoleAdmin)
	alice := f.account(t, "alice", models.RoleConsumer)

	f.record(t, alice, models.EventLoginSuccess, "9.9.9.9")
	f.record(t, alice, models.EventLoginAttemptLocked, "8.8.8.8")
	f.record(t, nil, models.EventLoginFailureUnknownUser, "8.8.8.8")
	assert.Zero(t, f.alerter.count())

	// no successful history at all flags the first failure
	bob := f.account(t, "bob", models.RoleConsumer)
	f.record(t, bob, models.EventLoginFailure, "8.8.8.8")
	assert.Equal(t, 1, f.alerter.count())
}

func TestRecord_DenormalizesHandle(t *testing.T) {
	f := newFixture(t)
	alice := f.account(t, "alice", models.RoleConsumer)
	f.record(t, alice, models.EventLoginSuccess, "1.1.1.1")
	require.NoError(t, f.log.Record(context.Background(), Entry{
		Handle: "ghost", Kind: models.EventLoginFailureUnknownUser, SourceAddr: "2.2.2.2",
	}))

	events, err := f.log.List(context.Background(), nil, "", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ghost", events[0].Handle)
	assert.Nil(t, events[0].AccountID)
	assert.Equal(t, "alice", events[1].Handle)
	require.NotNil(t, events[1].AccountID)
	assert.Equal(t, alice.ID, *events[1].AccountID)
}

func TestPurgeOlderThan_Idempotent(t *testing.T) {
	f := newFixture(t)
	alice := f.account(t, "alice", models.RoleConsumer)

	f.record(t, alice, models.EventLoginSuccess, "1.1.1.1")
	f.record(t, alice, models.EventLoginSuccess, "1.1.1.1")
	f.now = f.now.Add(40 * 24 * time.Hour)
	f.record(t, alice, models.EventLoginSuccess, "1.1.1.1")

	n, err := f.log.PurgeOlderThan(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = f.log.PurgeOlderThan(context.Background(), 30)
	require.NoError(t, err)
	assert.Zero(t, n)

	events, err := f.log.List(context.Background(), &alice.ID, "", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, err = f.log.PurgeOlderThan(context.Background(), -1)
	assert.Error(t, err)
}

func TestSweeper_RunsUntilCancelled(t *testing.T) {
	f := newFixture(t)
	alice := f.account(t, "alice", models.RoleConsumer)
	f.record(t, alice, models.EventLoginSuccess, "1.1.1.1")
	f.now = f.now.Add(31 * 24 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(f.log, 30, time.Hour, zap.NewNop()).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		events, err := f.events.List(context.Background(), nil, "", 0)
		return err == nil && len(events) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
