package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-featuregate/gate"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/Hasitha0/EcoTech-sub000"
)

type stubFeatureGate struct {
	enabled map[string]bool
	calls   []string
	err     error
}

func (s *stubFeatureGate) Enabled(ctx context.Context, key string, opts ...gate.ResolveOption) (bool, error) {
	s.calls = append(s.calls, key)
	if s.err != nil {
		return false, s.err
	}
	if s.enabled == nil {
		return true, nil
	}
	enabled, ok := s.enabled[key]
	if !ok {
		return true, nil
	}
	return enabled, nil
}

func TestAccountStateMachineDeactivateSetsTimestamp(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	profile := &identity.Profile{
		ID:            uuid.New(),
		Email:         "kasun@example.com",
		AccountStatus: identity.AccountActive,
	}
	repo := newFakeProfiles(profile)

	sm := identity.NewAccountStateMachine(repo, identity.WithStateMachineClock(func() time.Time { return now }))

	result, err := sm.Transition(context.Background(), identity.ActorRef{ID: "admin"}, profile, identity.AccountDeactivated)
	require.NoError(t, err)
	assert.Equal(t, identity.AccountDeactivated, result.AccountStatus)
	require.NotNil(t, result.DeactivatedAt)
	assert.Equal(t, now, result.DeactivatedAt.UTC())
}

func TestAccountStateMachineReinstateClearsTimestamp(t *testing.T) {
	then := time.Now().Add(-time.Hour)
	profile := &identity.Profile{
		ID:            uuid.New(),
		Email:         "kasun@example.com",
		AccountStatus: identity.AccountDeactivated,
		DeactivatedAt: &then,
	}
	repo := newFakeProfiles(profile)

	sm := identity.NewAccountStateMachine(repo)

	result, err := sm.Transition(context.Background(), identity.ActorRef{ID: "admin"}, profile, identity.AccountActive)
	require.NoError(t, err)
	assert.Equal(t, identity.AccountActive, result.AccountStatus)
	assert.Nil(t, result.DeactivatedAt)
}

func TestAccountStateMachineDeletedIsTerminal(t *testing.T) {
	profile := &identity.Profile{
		ID:            uuid.New(),
		AccountStatus: identity.AccountDeleted,
	}
	repo := newFakeProfiles(profile)

	sm := identity.NewAccountStateMachine(repo)

	_, err := sm.Transition(context.Background(), identity.ActorRef{}, profile, identity.AccountActive)
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrTerminalState)
	assert.Empty(t, repo.updates)
}

func TestAccountStateMachineRejectsUnknownTarget(t *testing.T) {
	profile := &identity.Profile{
		ID:            uuid.New(),
		AccountStatus: identity.AccountActive,
	}
	repo := newFakeProfiles(profile)

	sm := identity.NewAccountStateMachine(repo)

	_, err := sm.Transition(context.Background(), identity.ActorRef{}, profile, "archived")
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrInvalidTransition)
}

func TestLifecycleGateDeniesDeactivatedAndDeleted(t *testing.T) {
	gateCheck := identity.NewLifecycleGate(nil, nil)
	ctx := context.Background()

	err := gateCheck.Check(ctx, &identity.Profile{AccountStatus: identity.AccountDeactivated})
	assert.ErrorIs(t, err, identity.ErrAccountDeactivated)

	err = gateCheck.Check(ctx, &identity.Profile{AccountStatus: identity.AccountDeleted})
	assert.ErrorIs(t, err, identity.ErrAccountDeleted)

	err = gateCheck.Check(ctx, &identity.Profile{AccountStatus: identity.AccountActive, Status: identity.StatusActive})
	assert.NoError(t, err)
}

func TestLifecycleGateApprovalDisabledByDefault(t *testing.T) {
	gateCheck := identity.NewLifecycleGate(nil, nil)

	// pending approval passes when no feature gate is wired
	err := gateCheck.Check(context.Background(), &identity.Profile{
		AccountStatus: identity.AccountActive,
		Status:        identity.StatusPendingApproval,
	})
	assert.NoError(t, err)
}

func TestLifecycleGateApprovalEnforcedByFlag(t *testing.T) {
	stub := &stubFeatureGate{enabled: map[string]bool{
		identity.FeatureEnforceApprovalGate: true,
	}}
	gateCheck := identity.NewLifecycleGate(stub, nil)

	err := gateCheck.Check(context.Background(), &identity.Profile{
		AccountStatus: identity.AccountActive,
		Status:        identity.StatusPendingApproval,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrApprovalPending)

	// active profiles pass even with the flag on
	err = gateCheck.Check(context.Background(), &identity.Profile{
		AccountStatus: identity.AccountActive,
		Status:        identity.StatusActive,
	})
	assert.NoError(t, err)
}

func TestLifecycleGateApprovalFlagOff(t *testing.T) {
	stub := &stubFeatureGate{enabled: map[string]bool{
		identity.FeatureEnforceApprovalGate: false,
	}}
	gateCheck := identity.NewLifecycleGate(stub, nil)

	err := gateCheck.Check(context.Background(), &identity.Profile{
		AccountStatus: identity.AccountActive,
		Status:        identity.StatusPendingApproval,
	})
	assert.NoError(t, err)
}
