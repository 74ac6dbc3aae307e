package iam

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/db/models"
)

func newTestEmulationManager(clock *fakeClock, profiles ...*models.Profile) (*EmulationManager, *mockEmulationRepository) {
	repo := &mockEmulationRepository{profiles: newMockProfileRepository(profiles...)}
	return NewEmulationManager(repo, clock.Now, nil, nil), repo
}

func TestEmulationManager_StartAndValidate(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(t0)
	m, repo := newTestEmulationManager(clock, &models.Profile{UserID: "admin", Role: "super_admin"})

	state, err := m.Start(ctx, StartInput{
		UserID:       "admin",
		OriginalRole: auth.RoleSuperAdmin,
		TargetRole:   auth.RoleOrgAdmin,
		Duration:     time.Hour,
		IPAddress:    "10.0.0.1",
	})
	require.NoError(t, err)
	require.NotNil(t, state.ExpiresAt)
	assert.True(t, state.ExpiresAt.Equal(t0.Add(time.Hour)))
	assert.True(t, state.StartedAt.Equal(t0))

	require.Len(t, repo.audit, 1)
	assert.Equal(t, models.EmulationStatusActive, repo.audit[0].Status)
	require.NotNil(t, repo.audit[0].IPAddress)
	assert.Equal(t, "10.0.0.1", *repo.audit[0].IPAddress)
	assert.Nil(t, repo.audit[0].UserAgent)

	t.Run("valid before expiry", func(t *testing.T) {
		clock.Advance(30 * time.Minute)
		assert.NoError(t, m.Validate(state))
		assert.False(t, m.IsExpired(state))
	})

	t.Run("valid exactly at expiry", func(t *testing.T) {
		clock.Advance(30 * time.Minute)
		assert.NoError(t, m.Validate(state))
	})

	t.Run("expired after expiry", func(t *testing.T) {
		clock.Advance(time.Minute)
		assert.ErrorIs(t, m.Validate(state), auth.ErrEmulationExpired)
		assert.True(t, m.IsExpired(state))
	})
}

func TestEmulationManager_Validate(t *testing.T) {
	m, _ := newTestEmulationManager(newFakeClock(t0))

	assert.NoError(t, m.Validate(nil))
	assert.NoError(t, m.Validate(auth.Inactive()))

	// Active without an expiry is malformed
	assert.ErrorIs(t, m.Validate(&auth.EmulationState{Active: true, OriginalRole: auth.RoleSuperAdmin}), auth.ErrEmulationExpired)
}

func TestEmulationManager_IsExpiringSoon(t *testing.T) {
	clock := newFakeClock(t0)
	m, _ := newTestEmulationManager(clock)
	expires := t0.Add(time.Hour)
	state := &auth.EmulationState{Active: true, OriginalRole: auth.RoleSuperAdmin, ExpiresAt: &expires}

	assert.False(t, m.IsExpiringSoon(state, 10*time.Minute))
	clock.Advance(50 * time.Minute)
	assert.False(t, m.IsExpiringSoon(state, 10*time.Minute), "exactly at the threshold is not yet expiring")
	clock.Advance(time.Second)
	assert.True(t, m.IsExpiringSoon(state, 10*time.Minute))
	assert.False(t, m.IsExpiringSoon(auth.Inactive(), 10*time.Minute))
}

func TestEmulationManager_StartSupersedes(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(t0)
	m, repo := newTestEmulationManager(clock, &models.Profile{UserID: "admin", Role: "super_admin"})

	_, err := m.Start(ctx, StartInput{UserID: "admin", OriginalRole: auth.RoleSuperAdmin, TargetRole: auth.RoleOrgAdmin, Duration: time.Hour})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := m.Start(ctx, StartInput{UserID: "admin", OriginalRole: auth.RoleSuperAdmin, TargetRole: auth.RoleIDGenViewer, Duration: time.Hour})
	require.NoError(t, err)

	loaded, err := m.Load(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleIDGenViewer, loaded.EmulatedRole)
	assert.True(t, loaded.ExpiresAt.Equal(*second.ExpiresAt))

	require.Len(t, repo.audit, 2)
	assert.Equal(t, models.EmulationStatusSuperseded, repo.audit[0].Status)
	assert.Equal(t, models.EmulationStatusActive, repo.audit[1].Status)
}

func TestEmulationManager_StartErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing original role", func(t *testing.T) {
		m, _ := newTestEmulationManager(newFakeClock(t0), &models.Profile{UserID: "admin"})
		_, err := m.Start(ctx, StartInput{UserID: "admin", TargetRole: auth.RoleUser, Duration: time.Hour})
		assert.ErrorIs(t, err, auth.ErrInvalidRole)
	})

	t.Run("non-positive duration", func(t *testing.T) {
		m, _ := newTestEmulationManager(newFakeClock(t0), &models.Profile{UserID: "admin"})
		_, err := m.Start(ctx, StartInput{UserID: "admin", OriginalRole: auth.RoleSuperAdmin, TargetRole: auth.RoleUser})
		assert.ErrorIs(t, err, ErrInvalidDuration)
	})

	t.Run("missing profile", func(t *testing.T) {
		m, _ := newTestEmulationManager(newFakeClock(t0))
		_, err := m.Start(ctx, StartInput{UserID: "ghost", OriginalRole: auth.RoleSuperAdmin, TargetRole: auth.RoleUser, Duration: time.Hour})
		assert.ErrorIs(t, err, auth.ErrProfileNotFound)
	})

	t.Run("store failure", func(t *testing.T) {
		m, repo := newTestEmulationManager(newFakeClock(t0), &models.Profile{UserID: "admin"})
		repo.startErr = errors.New("disk full")
		_, err := m.Start(ctx, StartInput{UserID: "admin", OriginalRole: auth.RoleSuperAdmin, TargetRole: auth.RoleUser, Duration: time.Hour})
		assert.ErrorIs(t, err, auth.ErrBackingStoreUnavailable)
	})
}

func TestEmulationManager_Stop(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(t0)
	m, repo := newTestEmulationManager(clock, &models.Profile{UserID: "admin", Role: "super_admin"})

	_, err := m.Start(ctx, StartInput{UserID: "admin", OriginalRole: auth.RoleSuperAdmin, TargetRole: auth.RoleOrgAdmin, Duration: time.Hour})
	require.NoError(t, err)

	// Stopping works after expiry too
	clock.Advance(2 * time.Hour)
	state, err := m.Stop(ctx, "admin")
	require.NoError(t, err)
	assert.False(t, state.Active)

	loaded, err := m.Load(ctx, "admin")
	require.NoError(t, err)
	assert.False(t, loaded.Active)
	assert.False(t, loaded.IsRecorded())

	require.Len(t, repo.audit, 1)
	assert.Equal(t, models.EmulationStatusEnded, repo.audit[0].Status)
	require.NotNil(t, repo.audit[0].EndedAt)
	assert.True(t, repo.audit[0].EndedAt.Equal(t0.Add(2*time.Hour)))
}

func TestEmulationManager_LoadMissingProfile(t *testing.T) {
	m, _ := newTestEmulationManager(newFakeClock(t0))
	_, err := m.Load(context.Background(), "ghost")
	assert.ErrorIs(t, err, auth.ErrProfileNotFound)
}

func TestStateColumnConversion(t *testing.T) {
	assert.False(t, StateFromColumn(nil).Active)
	assert.Nil(t, ColumnFromState(nil))
	assert.Nil(t, ColumnFromState(auth.Inactive()))

	org := "org-1"
	expires := t0.Add(time.Hour)
	state := &auth.EmulationState{
		Active:        true,
		EmulatedRole:  auth.RoleOrgAdmin,
		OriginalRole:  auth.RoleSuperAdmin,
		EmulatedOrgID: &org,
		StartedAt:     &t0,
		ExpiresAt:     &expires,
	}
	assert.Equal(t, state, StateFromColumn(ColumnFromState(state)))
}
