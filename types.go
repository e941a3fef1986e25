package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// AuthStateEvent identifies a session-change notification emitted by the
// authentication subsystem.
type AuthStateEvent string

const (
	AuthStateInitialSession AuthStateEvent = "INITIAL_SESSION"
	AuthStateSignedIn       AuthStateEvent = "SIGNED_IN"
	AuthStateSignedOut      AuthStateEvent = "SIGNED_OUT"
	AuthStateTokenRefreshed AuthStateEvent = "TOKEN_REFRESHED"
)

// AuthUser is the subsystem's record of an identity: an opaque id, an email
// address, and a verification timestamp that stays nil until the email is
// confirmed. Immutable once issued; owned by the subsystem.
type AuthUser struct {
	ID               uuid.UUID      `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	Metadata         map[string]any `json:"user_metadata,omitempty"`
}

// Verified reports whether the identity's email has been confirmed.
func (u *AuthUser) Verified() bool {
	return u != nil && u.EmailConfirmedAt != nil
}

// AuthSession is the subsystem's bearer-token pair. The core observes it via
// callbacks and never persists tokens beyond what the subsystem manages.
type AuthSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *AuthUser `json:"user,omitempty"`
}

func (s *AuthSession) Expired() bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// GetUserID returns the session user's id as a string, empty when absent.
func (s *AuthSession) GetUserID() string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.ID.String()
}

// GetUserUUID returns the session user's id.
func (s *AuthSession) GetUserUUID() (uuid.UUID, error) {
	if s == nil || s.User == nil {
		return uuid.Nil, ErrNoSessionFound
	}
	return s.User.ID, nil
}

func (s AuthSession) String() string {
	user := "<nil>"
	if s.User != nil {
		user = s.User.ID.String()
	}
	return fmt.Sprintf("user=%s expires=%s", user, s.ExpiresAt.Format(time.RFC1123))
}

// SignUpParams carries the credentials and metadata for a new identity.
type SignUpParams struct {
	Email    string
	Password string
	Metadata map[string]any
}

// SignUpResult reports the outcome of a sign-up call. Session is nil and
// ConfirmationRequired true when the subsystem demands email verification
// before issuing tokens.
type SignUpResult struct {
	User                 *AuthUser
	Session              *AuthSession
	ConfirmationRequired bool
}

// AuthStateCallback receives session-change notifications. The session is
// nil for SIGNED_OUT events.
type AuthStateCallback func(event AuthStateEvent, session *AuthSession)

// AuthClient is the contract with the external authentication subsystem.
// Every method that can block takes a context; GetSession returns (nil, nil)
// when no session exists, which callers treat as a benign state.
type AuthClient interface {
	GetSession(ctx context.Context) (*AuthSession, error)
	GetUser(ctx context.Context) (*AuthUser, error)
	SetSession(ctx context.Context, accessToken, refreshToken string) (*AuthSession, error)
	VerifyOTP(ctx context.Context, tokenHash, otpType string) (*AuthSession, error)
	SignInWithPassword(ctx context.Context, email, password string) (*AuthSession, error)
	SignUp(ctx context.Context, params SignUpParams) (*SignUpResult, error)
	SignOut(ctx context.Context) error
	Resend(ctx context.Context, otpType, email string) error
	OnAuthStateChange(cb AuthStateCallback) (unsubscribe func())
}

// Location abstracts the browser address bar: the bootstrapper reads the
// current URL to extract verification tokens and rewrites it afterwards with
// replace-history semantics so a reload cannot re-submit them.
type Location interface {
	CurrentURL() string
	ReplaceURL(url string) error
}

type noopLocation struct{}

func (noopLocation) CurrentURL() string      { return "" }
func (noopLocation) ReplaceURL(string) error { return nil }

// StaticLocation is a Location over a mutable string, useful outside a real
// browser host and in tests.
type StaticLocation struct {
	URL string
}

func (l *StaticLocation) CurrentURL() string { return l.URL }

func (l *StaticLocation) ReplaceURL(url string) error {
	l.URL = url
	return nil
}

// NewDefaultLogger returns the stdout logger used when none is configured.
func NewDefaultLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
