package identity_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	identity "github.com/Hasitha0/EcoTech-sub000"
)

func verifiedUser(id uuid.UUID, email string) *identity.AuthUser {
	now := time.Now()
	return &identity.AuthUser{ID: id, Email: email, EmailConfirmedAt: &now}
}

func TestReconcilerResolvesExistingProfile(t *testing.T) {
	id := uuid.New()
	repo := newFakeRepoManager(&identity.Profile{
		ID:     id,
		Email:  "amaya@example.com",
		Name:   "Amaya",
		Role:   identity.RolePublic,
		Status: identity.StatusActive,
	})
	client := &MockAuthClient{}

	r := identity.NewReconciler(client, repo, identity.NewMemoryPendingStore(), identity.NewLifecycleGate(nil, nil))

	res, err := r.Resolve(context.Background(), &identity.AuthUser{ID: id, Email: "amaya@example.com"})
	require.NoError(t, err)
	require.NotNil(t, res.User)
	assert.False(t, res.NeedsProfile)
	assert.Equal(t, id, res.User.ID)
	assert.Equal(t, identity.RolePublic, res.User.Role)
	client.AssertNotCalled(t, "SignOut", mock.Anything)
}

func TestReconcilerNeedsProfileWhenNothingMatches(t *testing.T) {
	repo := newFakeRepoManager()
	client := &MockAuthClient{}

	r := identity.NewReconciler(client, repo, identity.NewMemoryPendingStore(), nil)

	res, err := r.Resolve(context.Background(), verifiedUser(uuid.New(), "ghost@example.com"))
	require.NoError(t, err)
	assert.True(t, res.NeedsProfile)
	assert.Nil(t, res.User)
	assert.Empty(t, repo.profiles.created)
}

func TestReconcilerCreatesProfileFromPendingByID(t *testing.T) {
	id := uuid.New()
	repo := newFakeRepoManager()
	pending := identity.NewMemoryPendingStore()
	sink := &recordingSink{}
	ctx := context.Background()

	require.NoError(t, pending.Put(ctx, &identity.PendingRegistration{
		ProvisionalID: id,
		Name:          "Saman",
		Email:         "saman@example.com",
		Role:          identity.RoleCollector,
		AddressLine1:  "12 Galle Road",
		City:          "Colombo",
		VehicleType:   "lorry",
	}))

	r := identity.NewReconciler(&MockAuthClient{}, repo, pending, nil,
		identity.WithReconcilerActivitySink(sink))

	res, err := r.Resolve(ctx, verifiedUser(id, "saman@example.com"))
	require.NoError(t, err)
	require.NotNil(t, res.User)
	assert.Equal(t, id, res.User.ID)
	assert.Equal(t, identity.RoleCollector, res.User.Role)
	assert.Equal(t, identity.StatusPendingApproval, res.User.Status)
	assert.Equal(t, "12 Galle Road, Colombo", res.User.Profile.Address)

	// the cache entry is consumed
	got, err := pending.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Contains(t, sink.types(), identity.ActivityEventProfileCreated)
}

func TestReconcilerCrossSessionRecoveryByEmail(t *testing.T) {
	// registration ran in another session: the cache key holds a
	// provisional id that will never match the verified identity's id
	provisionalID := uuid.New()
	verifiedID := uuid.New()
	repo := newFakeRepoManager()
	pending := identity.NewMemoryPendingStore()
	ctx := context.Background()

	require.NoError(t, pending.Put(ctx, &identity.PendingRegistration{
		ProvisionalID: provisionalID,
		Name:          "Dilani",
		Email:         "dilani@example.com",
		Role:          identity.RoleRecyclingCenter,
		CenterName:    "Colombo Recycling",
	}))

	r := identity.NewReconciler(&MockAuthClient{}, repo, pending, nil)

	res, err := r.Resolve(ctx, verifiedUser(verifiedID, "dilani@example.com"))
	require.NoError(t, err)
	require.NotNil(t, res.User)
	// the profile id follows the verified identity, not the cache key
	assert.Equal(t, verifiedID, res.User.ID)

	require.Len(t, repo.centers.created, 1)
	assert.Equal(t, verifiedID, repo.centers.created[0].ProfileID)
	assert.Equal(t, "Colombo Recycling", repo.centers.created[0].CenterName)
}

func TestReconcilerIdempotentCreation(t *testing.T) {
	id := uuid.New()
	existing := &identity.Profile{
		ID:     id,
		Email:  "dup@example.com",
		Role:   identity.RolePublic,
		Status: identity.StatusActive,
	}
	repo := newFakeRepoManager(existing)
	pending := identity.NewMemoryPendingStore()
	sink := &recordingSink{}
	ctx := context.Background()

	// stale cache entry for a profile another session already created
	require.NoError(t, pending.Put(ctx, &identity.PendingRegistration{
		ProvisionalID: id,
		Email:         "dup@example.com",
		Role:          identity.RoleCollector,
	}))

	r := identity.NewReconciler(&MockAuthClient{}, repo, pending, nil,
		identity.WithReconcilerActivitySink(sink))

	profile, err := r.CreateFromPending(ctx, &identity.AuthUser{ID: id, Email: "dup@example.com"}, &identity.PendingRegistration{
		ProvisionalID: id,
		Email:         "dup@example.com",
		Role:          identity.RoleCollector,
	})
	require.NoError(t, err)
	// the stored row wins over the cached registration data
	assert.Equal(t, identity.RolePublic, profile.Role)
	assert.Contains(t, sink.types(), identity.ActivityEventProfileRecovered)
}

func TestReconcilerUnverifiedIdentityNeverCreatesProfile(t *testing.T) {
	id := uuid.New()
	repo := newFakeRepoManager()
	pending := identity.NewMemoryPendingStore()
	ctx := context.Background()

	require.NoError(t, pending.Put(ctx, &identity.PendingRegistration{
		ProvisionalID: id,
		Name:          "Tharindu",
		Email:         "tharindu@example.com",
		Role:          identity.RoleCollector,
	}))

	r := identity.NewReconciler(&MockAuthClient{}, repo, pending, nil)

	// a session exists but the email was never confirmed
	res, err := r.Resolve(ctx, &identity.AuthUser{ID: id, Email: "tharindu@example.com"})
	require.NoError(t, err)
	assert.True(t, res.NeedsProfile)
	assert.Nil(t, res.User)
	assert.Empty(t, repo.profiles.created)

	// the cache entry survives until verification completes
	entry, err := pending.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, entry)

	// once confirmed, the same identity materializes normally
	res, err = r.Resolve(ctx, verifiedUser(id, "tharindu@example.com"))
	require.NoError(t, err)
	require.NotNil(t, res.User)
	assert.Equal(t, identity.RoleCollector, res.User.Role)
}

func TestReconcilerCreateFromPendingConcurrent(t *testing.T) {
	id := uuid.New()
	repo := newFakeRepoManager()
	pending := identity.NewMemoryPendingStore()
	ctx := context.Background()

	entry := &identity.PendingRegistration{
		ProvisionalID: id,
		Name:          "Ruwan",
		Email:         "ruwan@example.com",
		Role:          identity.RolePublic,
	}
	require.NoError(t, pending.Put(ctx, entry))

	r := identity.NewReconciler(&MockAuthClient{}, repo, pending, nil)

	var wg sync.WaitGroup
	profiles := make([]*identity.Profile, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			profiles[i], errs[i] = r.CreateFromPending(ctx, verifiedUser(id, "ruwan@example.com"), entry)
		}(i)
	}
	wg.Wait()

	// both callers succeed and land on the same stored row
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, profiles[0].ID, profiles[1].ID)
	assert.Len(t, repo.profiles.created, 1)
}

func TestReconcilerGateDenialForcesSignOut(t *testing.T) {
	id := uuid.New()
	repo := newFakeRepoManager(&identity.Profile{
		ID:            id,
		Email:         "blocked@example.com",
		Role:          identity.RolePublic,
		Status:        identity.StatusActive,
		AccountStatus: identity.AccountDeactivated,
	})
	client := &MockAuthClient{}
	client.On("SignOut", mock.Anything).Return(nil).Once()

	r := identity.NewReconciler(client, repo, nil, identity.NewLifecycleGate(nil, nil))

	_, err := r.Resolve(context.Background(), &identity.AuthUser{ID: id, Email: "blocked@example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrAccountDeactivated)
	client.AssertExpectations(t)
}

func TestReconcilerGateDenialSurvivesSignOutFailure(t *testing.T) {
	id := uuid.New()
	repo := newFakeRepoManager(&identity.Profile{
		ID:            id,
		Email:         "gone@example.com",
		AccountStatus: identity.AccountDeleted,
	})
	client := &MockAuthClient{}
	client.On("SignOut", mock.Anything).Return(assert.AnError).Once()

	r := identity.NewReconciler(client, repo, nil, identity.NewLifecycleGate(nil, nil))

	_, err := r.Resolve(context.Background(), &identity.AuthUser{ID: id, Email: "gone@example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrAccountDeleted)
	client.AssertExpectations(t)
}

func TestReconcilerCreateDefault(t *testing.T) {
	id := uuid.New()
	repo := newFakeRepoManager()

	r := identity.NewReconciler(&MockAuthClient{}, repo, nil, nil)

	profile, err := r.CreateDefault(context.Background(), &identity.AuthUser{ID: id, Email: "minimal@example.com"})
	require.NoError(t, err)
	assert.Equal(t, identity.RolePublic, profile.Role)
	assert.Equal(t, "minimal", profile.Name)
	assert.Equal(t, identity.StatusActive, profile.Status)
}

func TestReconcilerRejectsNilUser(t *testing.T) {
	r := identity.NewReconciler(&MockAuthClient{}, newFakeRepoManager(), nil, nil)

	_, err := r.Resolve(context.Background(), nil)
	assert.ErrorIs(t, err, identity.ErrNoAuthenticatedUser)
}
