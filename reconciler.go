package identity

import (
	"context"
	"database/sql"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Resolution is the outcome of reconciling a verified identity against the
// profile store.
type Resolution struct {
	User *CurrentUser
	// Profile is the durable record backing the view; nil when NeedsProfile.
	Profile *Profile
	// NeedsProfile means the identity is authenticated but no profile exists
	// and no cached registration data could materialize one. The caller may
	// trigger a minimal default profile explicitly.
	NeedsProfile bool
}

// Reconciler guarantees that a verified identity ends up with exactly one
// profile record, regardless of which path the identity arrived through:
// fresh registration, confirmation link on a different device, or a profile
// created by a concurrent session.
type Reconciler struct {
	client   AuthClient
	repo     RepositoryManager
	pending  PendingRegistrations
	gate     *LifecycleGate
	activity ActivitySink
	logger   Logger
	clock    func() time.Time
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerActivitySink sets the audit sink.
func WithReconcilerActivitySink(sink ActivitySink) ReconcilerOption {
	return func(r *Reconciler) {
		r.activity = normalizeActivitySink(sink)
	}
}

// WithReconcilerLogger sets the logger.
func WithReconcilerLogger(logger Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReconcilerClock overrides the time source, used in tests.
func WithReconcilerClock(clock func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewReconciler wires the reconciler. gate may be nil to skip lifecycle
// enforcement; pending may be nil when no registration cache is in play.
func NewReconciler(client AuthClient, repo RepositoryManager, pending PendingRegistrations, gate *LifecycleGate, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		client:   client,
		repo:     repo,
		pending:  pending,
		gate:     gate,
		activity: noopActivitySink{},
		logger:   defLogger{},
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve reconciles the verified identity into a CurrentUser. Lookup order:
// existing profile by id, cached registration data by id, cached
// registration data by unambiguous email match, and finally a NeedsProfile
// resolution when nothing can materialize a record.
//
// Cached registration data is consulted only for verified identities: a
// profile must never be materialized for an email that has not been
// confirmed, so an unverified session resolves to NeedsProfile and the
// cache entry stays put until verification completes.
//
// A lifecycle denial forces a sign-out before the error is returned so the
// session cannot outlive the denial.
func (r *Reconciler) Resolve(ctx context.Context, authUser *AuthUser) (*Resolution, error) {
	if authUser == nil || authUser.ID == uuid.Nil {
		return nil, ErrNoAuthenticatedUser
	}

	profile, err := r.fetchProfile(ctx, authUser.ID)
	if err != nil {
		return nil, err
	}

	if profile == nil && authUser.Verified() {
		pending, perr := r.lookupPending(ctx, authUser)
		if perr != nil {
			r.logger.Warn("pending registration lookup failed: %v", perr)
		}
		if pending != nil {
			if profile, err = r.CreateFromPending(ctx, authUser, pending); err != nil {
				return nil, err
			}
		}
	}

	if profile == nil {
		return &Resolution{NeedsProfile: true}, nil
	}

	if err := r.checkGate(ctx, profile); err != nil {
		return nil, err
	}

	return &Resolution{
		User:    NewCurrentUser(profile),
		Profile: profile,
	}, nil
}

// CreateFromPending materializes the profile (and any role-specific record)
// from cached registration data, inside one transaction. The set of
// operations is idempotent: when a concurrent session already created the
// profile, the stored row wins and the cache entry is still consumed.
func (r *Reconciler) CreateFromPending(ctx context.Context, authUser *AuthUser, pending *PendingRegistration) (*Profile, error) {
	if authUser == nil || pending == nil {
		return nil, ErrProfileCreationFailed
	}

	record := profileFromPending(authUser, pending)

	var (
		stored  *Profile
		created bool
	)
	err := r.repo.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var txErr error
		stored, created, txErr = r.repo.Profiles().CreateIdempotentTx(ctx, tx, record)
		if txErr != nil {
			return txErr
		}
		if created && record.Role == RoleRecyclingCenter {
			center := &RecyclingCenter{
				ProfileID:      stored.ID,
				CenterName:     firstNonEmpty(pending.CenterName, record.Name),
				OperatingHours: pending.OperatingHours,
				AcceptedItems:  pending.AcceptedItems,
			}
			if _, txErr = r.repo.RecyclingCenters().CreateTx(ctx, tx, center); txErr != nil {
				return txErr
			}
		}
		return nil
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create profile from registration data").
			WithCode(goerrors.CodeInternal)
	}

	// The cache entry is consumed either way; the relational store is now
	// authoritative for this identity.
	if r.pending != nil {
		if derr := r.pending.Delete(ctx, pending.ProvisionalID); derr != nil {
			r.logger.Warn("failed to delete pending registration %s: %v", pending.ProvisionalID, derr)
		}
	}

	eventType := ActivityEventProfileCreated
	if !created {
		eventType = ActivityEventProfileRecovered
	}
	r.recordActivity(ctx, ActivityEvent{
		EventType: eventType,
		Actor:     ActorRef{ID: authUser.ID.String(), Type: "user"},
		UserID:    stored.ID.String(),
		Metadata: map[string]any{
			"role":           stored.Role,
			"provisional_id": pending.ProvisionalID.String(),
		},
		OccurredAt: r.clock(),
	})

	return stored, nil
}

// CreateDefault materializes a minimal PUBLIC profile for an authenticated
// identity that has no cached registration data. This is the explicit manual
// path; Resolve never calls it on its own.
func (r *Reconciler) CreateDefault(ctx context.Context, authUser *AuthUser) (*Profile, error) {
	if authUser == nil || authUser.ID == uuid.Nil {
		return nil, ErrNoAuthenticatedUser
	}

	record := &Profile{
		ID:    authUser.ID,
		Email: authUser.Email,
		Name:  NameFromEmail(authUser.Email),
		Role:  RolePublic,
	}

	stored, created, err := r.repo.Profiles().CreateIdempotent(ctx, record)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create default profile").
			WithCode(goerrors.CodeInternal)
	}

	if created {
		r.recordActivity(ctx, ActivityEvent{
			EventType:  ActivityEventProfileCreated,
			Actor:      ActorRef{ID: authUser.ID.String(), Type: "user"},
			UserID:     stored.ID.String(),
			Metadata:   map[string]any{"role": stored.Role, "default": true},
			OccurredAt: r.clock(),
		})
	}

	return stored, nil
}

func (r *Reconciler) fetchProfile(ctx context.Context, id uuid.UUID) (*Profile, error) {
	profile, err := r.repo.Profiles().GetByID(ctx, id.String())
	if err == nil {
		return profile, nil
	}
	if repository.IsRecordNotFound(err) {
		return nil, nil
	}
	return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to fetch profile").
		WithTextCode("PROFILE_FETCH_FAILED").
		WithCode(goerrors.CodeInternal)
}

// lookupPending checks the cache by provisional id first, then by email. The
// email path covers confirmation links opened in a different session: the
// provisional id from registration never matched the verified identity's id,
// so only an unambiguous email match can claim the entry.
func (r *Reconciler) lookupPending(ctx context.Context, authUser *AuthUser) (*PendingRegistration, error) {
	if r.pending == nil {
		return nil, nil
	}

	pending, err := r.pending.Get(ctx, authUser.ID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return pending, nil
	}

	return FindPendingByEmail(ctx, r.pending, authUser.Email)
}

func (r *Reconciler) checkGate(ctx context.Context, profile *Profile) error {
	if r.gate == nil {
		return nil
	}
	err := r.gate.Check(ctx, profile)
	if err == nil {
		return nil
	}

	if serr := r.client.SignOut(ctx); serr != nil {
		r.logger.Warn("forced sign-out failed: %v", serr)
	}

	r.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventSessionFailed,
		Actor:      ActorRef{ID: profile.ID.String(), Type: "user"},
		UserID:     profile.ID.String(),
		FromStatus: profile.AccountStatus,
		Metadata:   map[string]any{"reason": err.Error()},
		OccurredAt: r.clock(),
	})

	return err
}

func (r *Reconciler) recordActivity(ctx context.Context, event ActivityEvent) {
	if err := r.activity.Record(ctx, event); err != nil {
		r.logger.Warn("failed to record %s activity: %v", event.EventType, err)
	}
}

func profileFromPending(authUser *AuthUser, pending *PendingRegistration) *Profile {
	email := authUser.Email
	if email == "" {
		email = pending.Email
	}

	return &Profile{
		ID:            authUser.ID,
		Name:          firstNonEmpty(pending.Name, NameFromEmail(email)),
		Email:         email,
		Role:          pending.Role,
		Phone:         pending.Phone,
		Address:       pending.ComposedAddress(),
		District:      pending.District,
		Area:          pending.Area,
		VehicleType:   pending.VehicleType,
		LicenseNumber: pending.LicenseNumber,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
