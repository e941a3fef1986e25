package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-featuregate/gate/guard"
)

const (
	textCodeInvalidTransition = "INVALID_ACCOUNT_TRANSITION"
	textCodeTerminalState     = "TERMINAL_ACCOUNT_STATE"
)

// FeatureEnforceApprovalGate controls whether pending_approval/rejected
// profiles are blocked at login. Disabled by default: the source system
// deliberately allows provisional access, and product owners flip this flag
// if that relaxation turns out to be unintended.
const FeatureEnforceApprovalGate = "identity.enforce_approval_gate"

// ErrInvalidTransition is returned when a requested account-status change is
// not allowed.
var ErrInvalidTransition = goerrors.New("invalid account state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrTerminalState is returned when attempting to move away from the
// deleted state.
var ErrTerminalState = goerrors.New("account state is terminal", goerrors.CategoryConflict).
	WithTextCode(textCodeTerminalState).
	WithCode(goerrors.CodeConflict)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithForceTransition bypasses validation rules (use sparingly).
func WithForceTransition() TransitionOption {
	return func(opts *transitionOptions) {
		opts.force = true
	}
}

type transitionOptions struct {
	metadata TransitionMetadata
	force    bool
}

// AccountStateMachine validates and persists account_status changes.
type AccountStateMachine interface {
	Transition(ctx context.Context, actor ActorRef, profile *Profile, target AccountStatus, opts ...TransitionOption) (*Profile, error)
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*accountStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *accountStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the sink used to publish status events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *accountStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *accountStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// NewAccountStateMachine returns the default implementation backed by the
// provided repository.
func NewAccountStateMachine(profiles Profiles, opts ...StateMachineOption) AccountStateMachine {
	sm := &accountStateMachine{
		profiles: profiles,
		transitions: map[AccountStatus]map[AccountStatus]struct{}{
			AccountActive: {
				AccountDeactivated: {},
				AccountDeleted:     {},
			},
			AccountDeactivated: {
				AccountActive:  {},
				AccountDeleted: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type accountStateMachine struct {
	profiles     Profiles
	transitions  map[AccountStatus]map[AccountStatus]struct{}
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

func (sm *accountStateMachine) Transition(ctx context.Context, actor ActorRef, profile *Profile, target AccountStatus, opts ...TransitionOption) (*Profile, error) {
	if profile == nil {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"target": target,
			"reason": "profile is nil",
		})
	}

	profile.EnsureStatus()
	from := profile.AccountStatus
	if target == "" {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"reason": "target status is empty",
		})
	}

	if from == target {
		return profile, nil
	}

	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	if from == AccountDeleted && !options.force {
		return nil, ErrTerminalState.WithMetadata(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	if !options.force && !sm.canTransition(from, target) {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	statusOpts := []AccountStatusOption{}
	var deactivatedAt *time.Time
	if target == AccountDeactivated {
		now := sm.now()
		deactivatedAt = &now
		statusOpts = append(statusOpts, WithDeactivatedAt(deactivatedAt))
	} else if from == AccountDeactivated && profile.DeactivatedAt != nil {
		statusOpts = append(statusOpts, WithDeactivatedAt(nil))
	}

	updated, err := sm.profiles.UpdateAccountStatus(ctx, profile.ID, target, statusOpts...)
	if err != nil {
		return nil, err
	}

	if updated != nil && updated.AccountStatus != "" {
		profile.AccountStatus = updated.AccountStatus
		profile.DeactivatedAt = updated.DeactivatedAt
	} else {
		profile.AccountStatus = target
		profile.DeactivatedAt = deactivatedAt
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventAccountStatusChange,
		Actor:      actor,
		UserID:     profile.ID.String(),
		FromStatus: from,
		ToStatus:   target,
		Metadata:   transitionMetadata(options.metadata),
	})

	return profile, nil
}

func (sm *accountStateMachine) canTransition(from, to AccountStatus) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *accountStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error: %v", err)
	}
}

func transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}

// LifecycleGate evaluates the account lifecycle whenever a profile is
// fetched during login or reconciliation. Deactivated and deleted accounts
// are denied; the approval status check sits behind a feature gate.
type LifecycleGate struct {
	featureGate gate.FeatureGate
	logger      Logger
}

// NewLifecycleGate creates a gate. featureGate may be nil, in which case
// the approval check is never enforced.
func NewLifecycleGate(featureGate gate.FeatureGate, logger Logger) *LifecycleGate {
	if logger == nil {
		logger = defLogger{}
	}
	return &LifecycleGate{featureGate: featureGate, logger: logger}
}

// Check returns the lifecycle denial for the profile, if any. Callers must
// force a subsystem sign-out before surfacing a denial so the session
// cannot outlive it.
func (g *LifecycleGate) Check(ctx context.Context, profile *Profile) error {
	if profile == nil {
		return ErrProfileFetchFailed
	}

	profile.EnsureStatus()

	switch profile.AccountStatus {
	case AccountDeactivated:
		return ErrAccountDeactivated
	case AccountDeleted:
		return ErrAccountDeleted
	}

	if profile.Status != StatusActive && g.approvalEnforced(ctx) {
		return ErrApprovalPending.WithMetadata(map[string]any{
			"status": profile.Status,
		})
	}

	return nil
}

func (g *LifecycleGate) approvalEnforced(ctx context.Context) bool {
	if g == nil || g.featureGate == nil {
		return false
	}
	err := guard.Require(ctx, g.featureGate, FeatureEnforceApprovalGate,
		guard.WithDisabledError(errApprovalGateDisabled),
		guard.WithErrorMapper(normalizeFeatureGateError),
	)
	return err == nil
}

var errApprovalGateDisabled = goerrors.New("approval gate disabled", goerrors.CategoryAuthz)

func normalizeFeatureGateError(err error) error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return err
	}

	return goerrors.Wrap(err, goerrors.CategoryAuthz, "feature gate check failed").
		WithCode(goerrors.CodeForbidden)
}
