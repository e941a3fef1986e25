package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// Manager is the application-facing identity API: it owns the bootstrapper,
// the reconciler, and the lifecycle gate, and exposes the current-user view
// plus the mutation operations (login, register, logout, profile updates).
type Manager struct {
	client       AuthClient
	repo         RepositoryManager
	pending      PendingRegistrations
	featureGate  gate.FeatureGate
	location     Location
	logger       Logger
	activity     ActivitySink
	timeout      time.Duration
	phoneRegion  string
	gate         *LifecycleGate
	reconciler   *Reconciler
	bootstrapper *Bootstrapper
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used across the manager's components.
func WithLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithPendingStore sets the registration-data cache. Defaults to the
// in-memory store.
func WithPendingStore(store PendingRegistrations) ManagerOption {
	return func(m *Manager) {
		if store != nil {
			m.pending = store
		}
	}
}

// WithLocation sets the URL source consumed during bootstrap.
func WithLocation(loc Location) ManagerOption {
	return func(m *Manager) {
		if loc != nil {
			m.location = loc
		}
	}
}

// WithResolveTimeout bounds session resolution; zero disables the watchdog.
func WithResolveTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = d
	}
}

// WithActivitySink sets the audit sink.
func WithActivitySink(sink ActivitySink) ManagerOption {
	return func(m *Manager) {
		m.activity = normalizeActivitySink(sink)
	}
}

// WithFeatureGate enables gated behavior such as approval enforcement.
func WithFeatureGate(fg gate.FeatureGate) ManagerOption {
	return func(m *Manager) {
		m.featureGate = fg
	}
}

// WithPhoneRegion sets the region for phone normalization.
func WithPhoneRegion(region string) ManagerOption {
	return func(m *Manager) {
		if region != "" {
			m.phoneRegion = region
		}
	}
}

// Config carries host-supplied settings for the Manager. Hosts map their own
// configuration layer onto these getters; zero values keep the defaults.
type Config interface {
	GetWatchdogTimeout() time.Duration
	GetPhoneRegion() string
}

// WithConfig applies host configuration.
func WithConfig(cfg Config) ManagerOption {
	return func(m *Manager) {
		if cfg == nil {
			return
		}
		if d := cfg.GetWatchdogTimeout(); d > 0 {
			m.timeout = d
		}
		if region := cfg.GetPhoneRegion(); region != "" {
			m.phoneRegion = region
		}
	}
}

// New wires a Manager. client and repo are required.
func New(client AuthClient, repo RepositoryManager, opts ...ManagerOption) (*Manager, error) {
	if client == nil {
		return nil, goerrors.New("identity manager requires an auth client", goerrors.CategoryBadInput)
	}
	if repo == nil {
		return nil, goerrors.New("identity manager requires a repository manager", goerrors.CategoryBadInput)
	}

	m := &Manager{
		client:      client,
		repo:        repo,
		pending:     NewMemoryPendingStore(),
		location:    noopLocation{},
		logger:      defLogger{},
		activity:    noopActivitySink{},
		timeout:     DefaultWatchdogTimeout,
		phoneRegion: DefaultPhoneRegion,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	m.gate = NewLifecycleGate(m.featureGate, m.logger)
	m.reconciler = NewReconciler(client, repo, m.pending, m.gate,
		WithReconcilerLogger(m.logger),
		WithReconcilerActivitySink(m.activity),
	)
	m.bootstrapper = NewBootstrapper(client, m.reconciler, m.pending,
		WithBootstrapLocation(m.location),
		WithBootstrapLogger(m.logger),
		WithBootstrapActivitySink(m.activity),
		WithWatchdogTimeout(m.timeout),
	)

	return m, nil
}

// Start begins session bootstrap in the background.
func (m *Manager) Start(ctx context.Context) error {
	return m.bootstrapper.Start(ctx)
}

// Close tears down event subscriptions and timers.
func (m *Manager) Close() error {
	return m.bootstrapper.Close()
}

// Current returns the latest bootstrap snapshot.
func (m *Manager) Current() Snapshot {
	return m.bootstrapper.Current()
}

// Subscribe registers a snapshot listener; the returned function removes it.
func (m *Manager) Subscribe(fn func(Snapshot)) func() {
	return m.bootstrapper.Subscribe(fn)
}

// Login authenticates with email/password and reconciles the identity
// synchronously, so the caller gets the user (or the lifecycle denial) in
// the return value rather than through the snapshot. A denial forces the
// session out before the error surfaces.
//
// The user is nil with no error when authentication succeeded but no
// profile exists yet; the snapshot carries NeedsProfile.
func (m *Manager) Login(ctx context.Context, email, password string) (*CurrentUser, error) {
	session, err := m.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		m.recordActivity(ctx, ActivityEvent{
			EventType:  ActivityEventLoginFailure,
			Actor:      ActorRef{ID: email, Type: "credential"},
			Metadata:   map[string]any{"reason": err.Error()},
			OccurredAt: time.Now(),
		})
		// Only a credential rejection reads as invalid credentials.
		// Transport and other failures keep their category so callers
		// and telemetry can tell them apart.
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			if richErr.Category != goerrors.CategoryAuth {
				return nil, richErr
			}
			return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "invalid login credentials").
				WithTextCode("INVALID_CREDENTIALS").
				WithCode(goerrors.CodeUnauthorized)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "sign-in request failed").
			WithCode(goerrors.CodeInternal)
	}
	if session == nil || session.User == nil {
		return nil, ErrInvalidCredentials
	}

	res, err := m.reconciler.Resolve(ctx, session.User)
	if err != nil {
		return nil, err
	}

	m.bootstrapper.ApplyResolution(res)

	m.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventLoginSuccess,
		Actor:      ActorRef{ID: session.GetUserID(), Type: "user"},
		UserID:     session.GetUserID(),
		OccurredAt: time.Now(),
	})

	return res.User, nil
}

// Logout signs the session out of the subsystem and clears local state. The
// local clear happens regardless of the subsystem outcome; the underlying
// error is still returned so callers can report it.
func (m *Manager) Logout(ctx context.Context) error {
	userID := ""
	if cur := m.Current().User; cur != nil {
		userID = cur.ID.String()
	}

	err := m.client.SignOut(ctx)

	m.bootstrapper.ClearSession(ctx)

	m.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventLogout,
		Actor:      ActorRef{ID: userID, Type: "user"},
		UserID:     userID,
		OccurredAt: time.Now(),
	})

	if err != nil {
		m.logger.Warn("subsystem sign-out failed, local session cleared anyway: %v", err)
	}
	return err
}

// ConsumeTokens exchanges a URL-borne token bundle for a session and
// reconciles it synchronously. Used by HTTP callback routes where the
// tokens arrive in the request URL instead of the host location.
func (m *Manager) ConsumeTokens(ctx context.Context, bundle TokenBundle) (*CurrentUser, error) {
	var (
		session *AuthSession
		err     error
	)

	switch {
	case bundle.HasSessionPair():
		session, err = m.client.SetSession(ctx, bundle.AccessToken, bundle.RefreshToken)
	case bundle.HasVerification():
		session, err = m.client.VerifyOTP(ctx, bundle.VerificationToken(), verificationType(bundle))
	default:
		return nil, ErrTokenExchangeFailed
	}

	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "token exchange failed").
			WithTextCode("TOKEN_EXCHANGE_FAILED").
			WithCode(goerrors.CodeUnauthorized)
	}
	if session == nil || session.User == nil {
		return nil, ErrTokenExchangeFailed
	}

	res, err := m.reconciler.Resolve(ctx, session.User)
	if err != nil {
		return nil, err
	}
	m.bootstrapper.ApplyResolution(res)
	return res.User, nil
}

// RefreshUser re-reconciles the current session against the profile store.
func (m *Manager) RefreshUser(ctx context.Context) error {
	return m.bootstrapper.Refresh(ctx)
}

// Register signs up a new identity and caches the registration form data
// until email verification completes. When the subsystem issues a session
// immediately, the profile is materialized on the spot.
func (m *Manager) Register(ctx context.Context, data RegistrationData) (*RegistrationResult, error) {
	data.Email = normalizeEmail(data.Email)
	if err := data.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration data").
			WithCode(goerrors.CodeBadRequest)
	}

	phone, err := NormalizePhone(data.Phone, m.phoneRegion)
	if err != nil {
		return nil, err
	}
	data.Phone = phone

	result, err := m.client.SignUp(ctx, SignUpParams{
		Email:    data.Email,
		Password: data.Password,
		Metadata: map[string]any{
			"name": data.Name,
			"role": data.Role,
		},
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "sign-up failed").
			WithCode(goerrors.CodeBadRequest)
	}

	provisionalID := m.provisionalID(result, data.Email)
	pending := data.toPending(provisionalID)

	if result.ConfirmationRequired || result.Session == nil {
		// The identity is unverified; park the form data under the
		// provisional id until the confirmation link resolves it.
		if perr := m.pending.Put(ctx, pending); perr != nil {
			return nil, perr
		}
		return &RegistrationResult{
			NeedsEmailConfirmation: true,
			Email:                  data.Email,
		}, nil
	}

	// Verification is disabled upstream; materialize the profile now.
	if perr := m.pending.Put(ctx, pending); perr != nil {
		return nil, perr
	}

	res, err := m.reconciler.Resolve(ctx, result.Session.User)
	if err != nil {
		return nil, err
	}
	m.bootstrapper.ApplyResolution(res)

	return &RegistrationResult{
		User:  res.User,
		Email: data.Email,
	}, nil
}

// ResendVerification re-sends the sign-up confirmation email.
func (m *Manager) ResendVerification(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid email").
			WithCode(goerrors.CodeBadRequest)
	}
	return m.client.Resend(ctx, "signup", email)
}

// TriggerProfileCreation is the manual path for an authenticated identity
// that resolved with NeedsProfile: cached registration data is preferred,
// then the supplied data, then a minimal PUBLIC profile. The identity must
// be verified; profiles are never materialized for unconfirmed emails.
func (m *Manager) TriggerProfileCreation(ctx context.Context, data *RegistrationData) (*CurrentUser, error) {
	session, err := m.client.GetSession(ctx)
	if err != nil && !IsBenignSessionError(err) {
		return nil, err
	}
	if session == nil || session.User == nil {
		return nil, ErrNoAuthenticatedUser
	}
	authUser := session.User
	if !authUser.Verified() {
		return nil, ErrEmailNotVerified
	}

	pending, err := m.reconciler.lookupPending(ctx, authUser)
	if err != nil {
		m.logger.Warn("pending registration lookup failed: %v", err)
	}
	if pending == nil && data != nil {
		pending = data.toPending(authUser.ID)
	}

	var profile *Profile
	if pending != nil {
		profile, err = m.reconciler.CreateFromPending(ctx, authUser, pending)
	} else {
		profile, err = m.reconciler.CreateDefault(ctx, authUser)
	}
	if err != nil {
		return nil, err
	}

	if err := m.reconciler.checkGate(ctx, profile); err != nil {
		return nil, err
	}

	res := &Resolution{User: NewCurrentUser(profile), Profile: profile}
	m.bootstrapper.ApplyResolution(res)
	return res.User, nil
}

// UpdateUser persists the patch for the signed-in profile and refreshes the
// in-memory view.
func (m *Manager) UpdateUser(ctx context.Context, patch UserPatch) (*CurrentUser, error) {
	current := m.Current().User
	if current == nil || current.Profile == nil {
		return nil, ErrNoAuthenticatedUser
	}

	if patch.Phone != nil {
		phone, err := NormalizePhone(*patch.Phone, m.phoneRegion)
		if err != nil {
			return nil, err
		}
		patch.Phone = &phone
	}

	profile := *current.Profile
	view := CurrentUser{Profile: &profile}
	patch.Apply(&view)

	updated, err := m.repo.Profiles().Update(ctx, &profile)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update profile").
			WithCode(goerrors.CodeInternal)
	}

	res := &Resolution{User: NewCurrentUser(updated), Profile: updated}
	m.bootstrapper.ApplyResolution(res)
	return res.User, nil
}

func (m *Manager) provisionalID(result *SignUpResult, email string) uuid.UUID {
	if result != nil && result.User != nil && result.User.ID != uuid.Nil {
		return result.User.ID
	}
	// Deterministic fallback so a retry of the same registration lands on
	// the same cache key.
	if id, err := hashid.NewUUID(email); err == nil {
		return id
	}
	return uuid.New()
}

func (m *Manager) recordActivity(ctx context.Context, event ActivityEvent) {
	if err := m.activity.Record(ctx, event); err != nil {
		m.logger.Warn("failed to record %s activity: %v", event.EventType, err)
	}
}

// RegistrationData is the registration form payload.
type RegistrationData struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     ProfileRole `json:"role"`
	Phone    string      `json:"phone,omitempty"`

	Address      string `json:"address,omitempty"`
	AddressLine1 string `json:"address_line1,omitempty"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city,omitempty"`
	District     string `json:"district,omitempty"`
	Area         string `json:"area,omitempty"`

	VehicleType    string   `json:"vehicle_type,omitempty"`
	LicenseNumber  string   `json:"license_number,omitempty"`
	CenterName     string   `json:"center_name,omitempty"`
	OperatingHours string   `json:"operating_hours,omitempty"`
	AcceptedItems  []string `json:"accepted_items,omitempty"`
}

// Validate checks the payload. Admin accounts are never self-registered.
func (r RegistrationData) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(2, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
		validation.Field(
			&r.Role,
			validation.Required,
			validation.In(RolePublic, RoleCollector, RoleRecyclingCenter),
		),
		validation.Field(
			&r.CenterName,
			validation.By(requiredForRole(r.Role, RoleRecyclingCenter)),
		),
	)
}

// requiredForRole makes a field mandatory only for the given role.
func requiredForRole(role, target ProfileRole) validation.RuleFunc {
	return func(value any) error {
		if role != target {
			return nil
		}
		s, _ := value.(string)
		if strings.TrimSpace(s) == "" {
			return errors.New("is required for role " + string(target))
		}
		return nil
	}
}

func (r RegistrationData) toPending(provisionalID uuid.UUID) *PendingRegistration {
	return &PendingRegistration{
		ProvisionalID:  provisionalID,
		Name:           r.Name,
		Email:          normalizeEmail(r.Email),
		Role:           r.Role,
		Phone:          r.Phone,
		Address:        r.Address,
		AddressLine1:   r.AddressLine1,
		AddressLine2:   r.AddressLine2,
		City:           r.City,
		District:       r.District,
		Area:           r.Area,
		VehicleType:    r.VehicleType,
		LicenseNumber:  r.LicenseNumber,
		CenterName:     r.CenterName,
		OperatingHours: r.OperatingHours,
		AcceptedItems:  r.AcceptedItems,
	}
}

// RegistrationResult reports the outcome of Register.
type RegistrationResult struct {
	// User is set when the subsystem issued a session immediately.
	User *CurrentUser `json:"user,omitempty"`
	// NeedsEmailConfirmation means a verification email was sent and the
	// profile will materialize once the link is followed.
	NeedsEmailConfirmation bool   `json:"needs_email_confirmation"`
	Email                  string `json:"email"`
}
