package identity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// BootstrapState is the lifecycle of session resolution.
type BootstrapState string

const (
	// StateInit means Start has not run yet.
	StateInit BootstrapState = "INIT"
	// StateResolving means a resolution attempt is in flight.
	StateResolving BootstrapState = "RESOLVING"
	// StateResolved is terminal for the attempt: signed in or signed out.
	StateResolved BootstrapState = "RESOLVED"
	// StateFailed means resolution errored or the watchdog fired.
	StateFailed BootstrapState = "FAILED"
)

// DefaultWatchdogTimeout bounds how long the application can stay in a
// loading state no matter what hangs underneath.
const DefaultWatchdogTimeout = 15 * time.Second

// ErrBootstrapTimeout is committed when the watchdog outruns resolution.
var ErrBootstrapTimeout = goerrors.New("session bootstrap timed out", goerrors.CategoryOperation).
	WithTextCode("BOOTSTRAP_TIMEOUT").
	WithCode(goerrors.CodeInternal)

// Snapshot is an immutable view of the bootstrap state. User is non-nil only
// when State is RESOLVED and an identity reconciled successfully.
type Snapshot struct {
	State        BootstrapState
	User         *CurrentUser
	NeedsProfile bool
	Loading      bool
	Err          error
	Generation   uint64
}

// IsAuthenticated reports whether a signed-in user is resolved.
func (s Snapshot) IsAuthenticated() bool {
	return s.State == StateResolved && s.User != nil
}

// Bootstrapper owns session resolution: it consumes URL-borne tokens,
// restores persisted sessions, reconciles the identity into a CurrentUser,
// and keeps the snapshot current as auth-state events arrive.
//
// Every resolution attempt carries a generation number. A result commits
// only while its generation is still current, so a slow attempt can never
// clobber the outcome of a newer one.
type Bootstrapper struct {
	client     AuthClient
	reconciler *Reconciler
	pending    PendingRegistrations
	location   Location
	logger     Logger
	activity   ActivitySink
	timeout    time.Duration

	generation atomic.Uint64

	mu          sync.Mutex
	snapshot    Snapshot
	subscribers map[int]func(Snapshot)
	nextSub     int
	watchdog    *time.Timer
	unsubscribe func()
	closed      bool
}

// BootstrapOption configures a Bootstrapper.
type BootstrapOption func(*Bootstrapper)

// WithBootstrapLocation sets the URL source consumed during Start.
func WithBootstrapLocation(loc Location) BootstrapOption {
	return func(b *Bootstrapper) {
		if loc != nil {
			b.location = loc
		}
	}
}

// WithBootstrapLogger sets the logger.
func WithBootstrapLogger(logger Logger) BootstrapOption {
	return func(b *Bootstrapper) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBootstrapActivitySink sets the audit sink.
func WithBootstrapActivitySink(sink ActivitySink) BootstrapOption {
	return func(b *Bootstrapper) {
		b.activity = normalizeActivitySink(sink)
	}
}

// WithWatchdogTimeout overrides the resolution deadline. Zero or negative
// disables the watchdog.
func WithWatchdogTimeout(d time.Duration) BootstrapOption {
	return func(b *Bootstrapper) {
		b.timeout = d
	}
}

// NewBootstrapper wires a Bootstrapper; Start must be called to begin
// resolution.
func NewBootstrapper(client AuthClient, reconciler *Reconciler, pending PendingRegistrations, opts ...BootstrapOption) *Bootstrapper {
	b := &Bootstrapper{
		client:      client,
		reconciler:  reconciler,
		pending:     pending,
		location:    noopLocation{},
		logger:      defLogger{},
		activity:    noopActivitySink{},
		timeout:     DefaultWatchdogTimeout,
		subscribers: map[int]func(Snapshot){},
		snapshot:    Snapshot{State: StateInit},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Start subscribes to auth-state events and kicks off the initial resolution
// in the background. Callers observe the outcome through Current or
// Subscribe.
func (b *Bootstrapper) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return goerrors.New("bootstrapper is closed", goerrors.CategoryOperation)
	}
	if b.unsubscribe == nil {
		b.unsubscribe = b.client.OnAuthStateChange(func(event AuthStateEvent, session *AuthSession) {
			b.handleAuthEvent(ctx, event, session)
		})
	}
	b.mu.Unlock()

	gen := b.begin(false)
	go b.runInitial(ctx, gen)
	return nil
}

// Current returns the latest snapshot.
func (b *Bootstrapper) Current() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot
}

// Subscribe registers a listener, invoking it immediately with the current
// snapshot. The returned function removes the listener.
func (b *Bootstrapper) Subscribe(fn func(Snapshot)) func() {
	if fn == nil {
		return func() {}
	}

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subscribers[id] = fn
	current := b.snapshot
	b.mu.Unlock()

	fn(current)

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// Refresh re-resolves the current session against the profile store without
// entering a loading state.
func (b *Bootstrapper) Refresh(ctx context.Context) error {
	gen := b.begin(true)

	session, err := b.client.GetSession(ctx)
	if err != nil && !IsBenignSessionError(err) {
		b.commitFailure(gen, err)
		return err
	}

	return b.resolveSession(ctx, gen, session)
}

// ApplyResolution publishes an externally produced resolution, such as the
// synchronous result of a password login. Any in-flight attempt is fenced
// out.
func (b *Bootstrapper) ApplyResolution(res *Resolution) {
	gen := b.generation.Add(1)
	if res == nil {
		b.commit(gen, Snapshot{State: StateResolved})
		return
	}
	b.commit(gen, Snapshot{
		State:        StateResolved,
		User:         res.User,
		NeedsProfile: res.NeedsProfile,
	})
}

// ClearSession drops the resolved user, invalidating in-flight attempts and
// purging cached registration data. Called on logout regardless of whether
// the subsystem sign-out succeeded.
func (b *Bootstrapper) ClearSession(ctx context.Context) {
	gen := b.generation.Add(1)
	b.commit(gen, Snapshot{State: StateResolved})

	if b.pending != nil {
		if err := b.pending.Purge(ctx); err != nil {
			b.logger.Warn("failed to purge pending registrations: %v", err)
		}
	}
}

// Close stops the watchdog and unsubscribes from auth-state events. The
// bootstrapper cannot be restarted.
func (b *Bootstrapper) Close() error {
	b.mu.Lock()
	b.closed = true
	if b.watchdog != nil {
		b.watchdog.Stop()
		b.watchdog = nil
	}
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()

	b.generation.Add(1)

	if unsubscribe != nil {
		unsubscribe()
	}
	return nil
}

// runInitial is the Start path: consume URL tokens if present, otherwise
// restore the persisted session, then reconcile.
func (b *Bootstrapper) runInitial(ctx context.Context, gen uint64) {
	rawURL := b.location.CurrentURL()
	bundle := ExtractTokenBundle(rawURL)

	var (
		session *AuthSession
		err     error
	)

	switch {
	case bundle.HasSessionPair():
		session, err = b.client.SetSession(ctx, bundle.AccessToken, bundle.RefreshToken)
	case bundle.HasVerification():
		session, err = b.client.VerifyOTP(ctx, bundle.VerificationToken(), verificationType(bundle))
	default:
		session, err = b.client.GetSession(ctx)
	}

	// Tokens are single-use: scrub them from the address bar whether or not
	// the exchange worked, so a reload cannot re-submit them.
	if !bundle.IsZero() {
		if rerr := b.location.ReplaceURL(StripTokenParams(rawURL)); rerr != nil {
			b.logger.Warn("failed to rewrite URL after token consumption: %v", rerr)
		}
	}

	if err != nil {
		if IsBenignSessionError(err) {
			b.commit(gen, Snapshot{State: StateResolved})
			return
		}
		if !bundle.IsZero() {
			err = goerrors.Wrap(err, goerrors.CategoryAuth, "token exchange failed").
				WithTextCode("TOKEN_EXCHANGE_FAILED").
				WithCode(goerrors.CodeUnauthorized)
		}
		b.commitFailure(gen, err)
		return
	}

	if rerr := b.resolveSession(ctx, gen, session); rerr != nil {
		b.logger.Warn("initial session resolution failed: %v", rerr)
	}
}

// resolveSession reconciles the session's identity and commits the outcome
// under gen.
func (b *Bootstrapper) resolveSession(ctx context.Context, gen uint64, session *AuthSession) error {
	if session == nil || session.User == nil {
		b.commit(gen, Snapshot{State: StateResolved})
		return nil
	}

	res, err := b.reconciler.Resolve(ctx, session.User)
	if err != nil {
		b.commitFailure(gen, err)
		return err
	}

	b.commit(gen, Snapshot{
		State:        StateResolved,
		User:         res.User,
		NeedsProfile: res.NeedsProfile,
	})

	b.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventSessionResolved,
		Actor:      ActorRef{ID: session.GetUserID(), Type: "user"},
		UserID:     session.GetUserID(),
		OccurredAt: time.Now(),
	})
	return nil
}

func (b *Bootstrapper) handleAuthEvent(ctx context.Context, event AuthStateEvent, session *AuthSession) {
	switch event {
	case AuthStateSignedIn:
		gen := b.begin(true)
		go func() {
			if err := b.resolveSession(ctx, gen, session); err != nil {
				b.logger.Warn("sign-in resolution failed: %v", err)
			}
		}()
	case AuthStateTokenRefreshed:
		// Silent: the identity did not change, but the profile may have.
		gen := b.begin(true)
		go func() {
			if err := b.resolveSession(ctx, gen, session); err != nil {
				b.logger.Warn("refresh resolution failed: %v", err)
			}
		}()
	case AuthStateSignedOut:
		b.ClearSession(ctx)
	}
}

// begin opens a new resolution attempt: bump the generation, optionally
// publish a loading snapshot, and arm the watchdog.
func (b *Bootstrapper) begin(silent bool) uint64 {
	gen := b.generation.Add(1)

	b.mu.Lock()
	if b.watchdog != nil {
		b.watchdog.Stop()
	}
	if b.timeout > 0 {
		b.watchdog = time.AfterFunc(b.timeout, func() {
			b.watchdogFired(gen)
		})
	}

	if !silent {
		b.snapshot = Snapshot{
			State:      StateResolving,
			Loading:    true,
			Generation: gen,
		}
	}
	snapshot := b.snapshot
	subs := b.collectSubscribersLocked()
	b.mu.Unlock()

	if !silent {
		notify(subs, snapshot)
	}
	return gen
}

// commit publishes the snapshot only while gen is still the current
// generation.
func (b *Bootstrapper) commit(gen uint64, snapshot Snapshot) {
	if gen != b.generation.Load() {
		return
	}

	b.mu.Lock()
	if b.closed || gen != b.generation.Load() {
		b.mu.Unlock()
		return
	}
	if b.watchdog != nil {
		b.watchdog.Stop()
		b.watchdog = nil
	}
	snapshot.Generation = gen
	snapshot.Loading = false
	b.snapshot = snapshot
	subs := b.collectSubscribersLocked()
	b.mu.Unlock()

	notify(subs, snapshot)
}

func (b *Bootstrapper) commitFailure(gen uint64, err error) {
	b.commit(gen, Snapshot{State: StateFailed, Err: err})
}

// watchdogFired bounds the loading state: if gen is still current and
// unresolved, fail it. The generation is bumped before the failure is
// published so the timed-out attempt is fenced out first; its late result
// can never overwrite the timeout.
func (b *Bootstrapper) watchdogFired(gen uint64) {
	b.mu.Lock()
	stillLoading := b.snapshot.State == StateResolving || b.snapshot.State == StateInit
	b.mu.Unlock()

	if !stillLoading || gen != b.generation.Load() {
		return
	}

	b.logger.Error("session bootstrap watchdog fired after %s", b.timeout)
	b.commitFailure(b.generation.Add(1), ErrBootstrapTimeout)
}

func (b *Bootstrapper) collectSubscribersLocked() []func(Snapshot) {
	subs := make([]func(Snapshot), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func (b *Bootstrapper) recordActivity(ctx context.Context, event ActivityEvent) {
	if err := b.activity.Record(ctx, event); err != nil {
		b.logger.Warn("failed to record %s activity: %v", event.EventType, err)
	}
}

func notify(subs []func(Snapshot), snapshot Snapshot) {
	for _, fn := range subs {
		fn(snapshot)
	}
}

func verificationType(bundle TokenBundle) string {
	if bundle.Type != "" {
		return bundle.Type
	}
	return "email"
}
