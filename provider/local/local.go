// Package local is an in-process AuthClient for development and tests: it
// keeps accounts in memory, hashes passwords with bcrypt, and models the
// email-confirmation handshake with retrievable one-time tokens.
package local

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	identity "github.com/Hasitha0/EcoTech-sub000"
)

type account struct {
	id           uuid.UUID
	email        string
	passwordHash string
	confirmedAt  *time.Time
	metadata     map[string]any
}

// Client implements identity.AuthClient entirely in memory.
type Client struct {
	requireConfirmation bool
	sessionTTL          time.Duration
	bcryptCost          int
	clock               func() time.Time

	mu            sync.RWMutex
	accounts      map[string]*account
	confirmTokens map[string]string
	session       *identity.AuthSession
	listeners     map[int]identity.AuthStateCallback
	nextID        int
}

var _ identity.AuthClient = (*Client)(nil)

// Option configures the client.
type Option func(*Client)

// WithRequireConfirmation makes sign-up withhold the session until the
// confirmation token is verified, matching production behavior.
func WithRequireConfirmation(require bool) Option {
	return func(c *Client) {
		c.requireConfirmation = require
	}
}

// WithSessionTTL sets the issued session lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.sessionTTL = ttl
		}
	}
}

// WithBcryptCost lowers the hash cost in tests.
func WithBcryptCost(cost int) Option {
	return func(c *Client) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			c.bcryptCost = cost
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New creates the local client.
func New(opts ...Option) *Client {
	c := &Client{
		requireConfirmation: true,
		sessionTTL:          time.Hour,
		bcryptCost:          bcrypt.DefaultCost,
		clock:               time.Now,
		accounts:            map[string]*account{},
		confirmTokens:       map[string]string{},
		listeners:           map[int]identity.AuthStateCallback{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Client) GetSession(ctx context.Context) (*identity.AuthSession, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil || c.session.Expired() {
		return nil, nil
	}
	return c.session, nil
}

func (c *Client) GetUser(ctx context.Context) (*identity.AuthUser, error) {
	session, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, identity.ErrNoSessionFound
	}
	return session.User, nil
}

// SetSession only accepts tokens this client previously issued.
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*identity.AuthSession, error) {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()

	if session == nil || session.AccessToken != accessToken {
		return nil, goerrors.New("unknown access token", goerrors.CategoryAuth).
			WithTextCode("TOKEN_INVALID").
			WithCode(goerrors.CodeUnauthorized)
	}
	c.emit(identity.AuthStateSignedIn, session)
	return session, nil
}

func (c *Client) VerifyOTP(ctx context.Context, tokenHash, otpType string) (*identity.AuthSession, error) {
	c.mu.Lock()
	email, ok := c.confirmTokens[tokenHash]
	if !ok {
		c.mu.Unlock()
		return nil, goerrors.New("invalid or expired verification token", goerrors.CategoryAuth).
			WithTextCode("TOKEN_INVALID").
			WithCode(goerrors.CodeUnauthorized)
	}
	delete(c.confirmTokens, tokenHash)

	acct := c.accounts[email]
	if acct == nil {
		c.mu.Unlock()
		return nil, identity.ErrNoSessionFound
	}
	now := c.clock()
	acct.confirmedAt = &now
	session := c.issueSessionLocked(acct)
	c.mu.Unlock()

	c.emit(identity.AuthStateSignedIn, session)
	return session, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*identity.AuthSession, error) {
	c.mu.Lock()
	acct := c.accounts[email]
	if acct == nil {
		c.mu.Unlock()
		return nil, identity.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.passwordHash), []byte(password)); err != nil {
		c.mu.Unlock()
		return nil, identity.ErrInvalidCredentials
	}
	if c.requireConfirmation && acct.confirmedAt == nil {
		c.mu.Unlock()
		return nil, goerrors.New("email not confirmed", goerrors.CategoryAuth).
			WithTextCode("EMAIL_NOT_CONFIRMED").
			WithCode(goerrors.CodeUnauthorized)
	}
	session := c.issueSessionLocked(acct)
	c.mu.Unlock()

	c.emit(identity.AuthStateSignedIn, session)
	return session, nil
}

func (c *Client) SignUp(ctx context.Context, params identity.SignUpParams) (*identity.SignUpResult, error) {
	if params.Email == "" || params.Password == "" {
		return nil, goerrors.New("email and password are required", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), c.bcryptCost)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	c.mu.Lock()
	if _, exists := c.accounts[params.Email]; exists {
		c.mu.Unlock()
		return nil, goerrors.New("account already registered", goerrors.CategoryConflict).
			WithCode(goerrors.CodeConflict)
	}

	acct := &account{
		id:           uuid.New(),
		email:        params.Email,
		passwordHash: string(hash),
		metadata:     params.Metadata,
	}
	c.accounts[params.Email] = acct

	if c.requireConfirmation {
		c.confirmTokens[uuid.NewString()] = params.Email
		user := acct.toUser()
		c.mu.Unlock()
		return &identity.SignUpResult{
			User:                 user,
			ConfirmationRequired: true,
		}, nil
	}

	now := c.clock()
	acct.confirmedAt = &now
	session := c.issueSessionLocked(acct)
	c.mu.Unlock()

	c.emit(identity.AuthStateSignedIn, session)
	return &identity.SignUpResult{
		User:    session.User,
		Session: session,
	}, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()

	c.emit(identity.AuthStateSignedOut, nil)
	return nil
}

// Resend rotates the confirmation token for an unconfirmed account.
func (c *Client) Resend(ctx context.Context, otpType, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	acct := c.accounts[email]
	if acct == nil || acct.confirmedAt != nil {
		return nil
	}

	for token, e := range c.confirmTokens {
		if e == email {
			delete(c.confirmTokens, token)
		}
	}
	c.confirmTokens[uuid.NewString()] = email
	return nil
}

func (c *Client) OnAuthStateChange(cb identity.AuthStateCallback) func() {
	if cb == nil {
		return func() {}
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = cb
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// ConfirmationToken returns the pending confirmation token for the email,
// standing in for the verification link the real subsystem would send.
func (c *Client) ConfirmationToken(email string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for token, e := range c.confirmTokens {
		if e == email {
			return token, true
		}
	}
	return "", false
}

// UserID returns the account id for an email, for test assertions.
func (c *Client) UserID(email string) (uuid.UUID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if acct := c.accounts[email]; acct != nil {
		return acct.id, true
	}
	return uuid.Nil, false
}

func (c *Client) issueSessionLocked(acct *account) *identity.AuthSession {
	session := &identity.AuthSession{
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		ExpiresAt:    c.clock().Add(c.sessionTTL),
		User:         acct.toUser(),
	}
	c.session = session
	return session
}

func (c *Client) emit(event identity.AuthStateEvent, session *identity.AuthSession) {
	c.mu.RLock()
	listeners := make([]identity.AuthStateCallback, 0, len(c.listeners))
	for _, cb := range c.listeners {
		listeners = append(listeners, cb)
	}
	c.mu.RUnlock()

	for _, cb := range listeners {
		cb(event, session)
	}
}

func (a *account) toUser() *identity.AuthUser {
	return &identity.AuthUser{
		ID:               a.id,
		Email:            a.email,
		EmailConfirmedAt: a.confirmedAt,
		Metadata:         a.metadata,
	}
}
