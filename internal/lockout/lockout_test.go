package lockout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamscao/ticketauth/internal/models"
)

func TestRegisterFailure_LocksAtThreshold(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &models.Account{}

	assert.False(t, RegisterFailure(a, now, DefaultPolicy))
	assert.False(t, RegisterFailure(a, now, DefaultPolicy))
	assert.Equal(t, 2, a.FailedAttempts)
	assert.Equal(t, Unlocked, StateOf(a, now))

	assert.True(t, RegisterFailure(a, now, DefaultPolicy))
	assert.Equal(t, 0, a.FailedAttempts)
	require.NotNil(t, a.LockedUntil)
	assert.Equal(t, now.Add(15*time.Minute), *a.LockedUntil)
	assert.Equal(t, Locked, StateOf(a, now.Add(14*time.Minute)))
}

func TestStateOf_ExpiredLockIsUnlocked(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(-time.Second)
	a := &models.Account{LockedUntil: &until}

	assert.Equal(t, Unlocked, StateOf(a, now))

	// exact expiry instant no longer locks
	until = now
	assert.Equal(t, Unlocked, StateOf(a, now))
}

func TestRegisterSuccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Minute)
	a := &models.Account{FailedAttempts: 2, LockedUntil: &expired}

	RegisterSuccess(a, now)
	assert.Equal(t, 0, a.FailedAttempts)
	assert.Nil(t, a.LockedUntil)
}

func TestUnlock(t *testing.T) {
	until := time.Now().Add(time.Hour)
	a := &models.Account{FailedAttempts: 1, LockedUntil: &until}

	Unlock(a)
	assert.Equal(t, 0, a.FailedAttempts)
	assert.Nil(t, a.LockedUntil)
	assert.Equal(t, Unlocked, StateOf(a, time.Now()))
	assert.Equal(t, "unlocked", StateOf(a, time.Now()).String())
}

func TestCustomPolicy(t *testing.T) {
	p := Policy{Threshold: 1, Duration: time.Minute}
	now := time.Now()
	a := &models.Account{}

	assert.True(t, RegisterFailure(a, now, p))
	assert.Equal(t, Locked, StateOf(a, now))
	assert.Equal(t, Unlocked, StateOf(a, now.Add(time.Minute)))
}
