package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	identity "github.com/Hasitha0/EcoTech-sub000"
)

// Client is the REST AuthClient. Safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	logger identity.Logger

	mu        sync.RWMutex
	session   *identity.AuthSession
	listeners map[int]identity.AuthStateCallback
	nextID    int
}

var _ identity.AuthClient = (*Client)(nil)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger identity.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a GoTrue client.
func New(cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.baseURL() == "" {
		return nil, goerrors.New("gotrue: base URL is required", goerrors.CategoryBadInput)
	}

	c := &Client{
		cfg:       cfg,
		http:      cfg.httpClient(),
		logger:    identity.NewDefaultLogger(),
		listeners: map[int]identity.AuthStateCallback{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// wire shapes

type wireUser struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	RefreshToken string    `json:"refresh_token"`
	User         *wireUser `json:"user"`
}

type apiError struct {
	Code        int    `json:"code"`
	Msg         string `json:"msg"`
	Message     string `json:"message"`
	ErrorCode   string `json:"error_code"`
	Description string `json:"error_description"`
}

func (e *apiError) text() string {
	for _, s := range []string{e.Description, e.Msg, e.Message} {
		if s != "" {
			return s
		}
	}
	return "request failed"
}

// GetSession returns the in-memory session, refreshing it through the
// refresh-token grant when expired. (nil, nil) means nobody is signed in.
func (c *Client) GetSession(ctx context.Context) (*identity.AuthSession, error) {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()

	if session == nil {
		return nil, nil
	}
	if !session.Expired() {
		return session, nil
	}
	if session.RefreshToken == "" {
		return nil, nil
	}

	refreshed, err := c.refreshGrant(ctx, session.RefreshToken)
	if err != nil {
		return nil, err
	}

	c.adopt(refreshed, identity.AuthStateTokenRefreshed)
	return refreshed, nil
}

// GetUser fetches the identity record for the current session.
func (c *Client) GetUser(ctx context.Context) (*identity.AuthUser, error) {
	session, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, identity.ErrNoSessionFound
	}

	var user wireUser
	if err := c.do(ctx, http.MethodGet, "/user", nil, session.AccessToken, &user); err != nil {
		return nil, err
	}
	return user.toUser()
}

// SetSession adopts an externally supplied token pair, confirming it against
// the /user endpoint and falling back to the refresh grant when the access
// token is stale.
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*identity.AuthSession, error) {
	var user wireUser
	err := c.do(ctx, http.MethodGet, "/user", nil, accessToken, &user)
	if err == nil {
		authUser, uerr := user.toUser()
		if uerr != nil {
			return nil, uerr
		}
		session := &identity.AuthSession{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			User:         authUser,
		}
		c.adopt(session, identity.AuthStateSignedIn)
		return session, nil
	}

	if refreshToken == "" {
		return nil, err
	}

	session, rerr := c.refreshGrant(ctx, refreshToken)
	if rerr != nil {
		return nil, rerr
	}
	c.adopt(session, identity.AuthStateSignedIn)
	return session, nil
}

// VerifyOTP exchanges a one-time verification token for a session.
func (c *Client) VerifyOTP(ctx context.Context, tokenHash, otpType string) (*identity.AuthSession, error) {
	body := map[string]string{
		"token_hash": tokenHash,
		"type":       otpType,
	}

	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/verify", body, "", &resp); err != nil {
		return nil, err
	}

	session, err := resp.toSession()
	if err != nil {
		return nil, err
	}
	c.adopt(session, identity.AuthStateSignedIn)
	return session, nil
}

// SignInWithPassword runs the password grant.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*identity.AuthSession, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}

	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=password", body, "", &resp); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "invalid login credentials").
			WithTextCode("INVALID_CREDENTIALS").
			WithCode(goerrors.CodeUnauthorized)
	}

	session, err := resp.toSession()
	if err != nil {
		return nil, err
	}
	c.adopt(session, identity.AuthStateSignedIn)
	return session, nil
}

// SignUp registers a new identity. When the endpoint demands email
// confirmation, no session is issued and ConfirmationRequired is set.
func (c *Client) SignUp(ctx context.Context, params identity.SignUpParams) (*identity.SignUpResult, error) {
	body := map[string]any{
		"email":    params.Email,
		"password": params.Password,
	}
	if len(params.Metadata) > 0 {
		body["data"] = params.Metadata
	}

	var resp struct {
		tokenResponse
		wireUser
	}
	if err := c.do(ctx, http.MethodPost, "/signup", body, "", &resp); err != nil {
		return nil, err
	}

	if resp.AccessToken != "" {
		session, err := resp.tokenResponse.toSession()
		if err != nil {
			return nil, err
		}
		c.adopt(session, identity.AuthStateSignedIn)
		return &identity.SignUpResult{
			User:    session.User,
			Session: session,
		}, nil
	}

	user, err := resp.wireUser.toUser()
	if err != nil {
		return nil, err
	}
	return &identity.SignUpResult{
		User:                 user,
		ConfirmationRequired: true,
	}, nil
}

// SignOut revokes the session upstream and always clears the local one.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()

	var err error
	if session != nil {
		err = c.do(ctx, http.MethodPost, "/logout", nil, session.AccessToken, nil)
	}

	c.adopt(nil, identity.AuthStateSignedOut)
	return err
}

// Resend re-sends an OTP email of the given type.
func (c *Client) Resend(ctx context.Context, otpType, email string) error {
	body := map[string]string{
		"type":  otpType,
		"email": email,
	}
	return c.do(ctx, http.MethodPost, "/resend", body, "", nil)
}

// OnAuthStateChange registers a session-change listener.
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

func (c *Client) refreshGrant(ctx context.Context, refreshToken string) (*identity.AuthSession, error) {
	body := map[string]string{"refresh_token": refreshToken}

	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", body, "", &resp); err != nil {
		return nil, err
	}
	return resp.toSession()
}

// adopt swaps the in-memory session and notifies listeners outside the lock.
func (c *Client) adopt(session *identity.AuthSession, event identity.AuthStateEvent) {
	c.mu.Lock()
	c.session = session
	listeners := make([]identity.AuthStateCallback, 0, len(c.listeners))
	for _, cb := range c.listeners {
		listeners = append(listeners, cb)
	}
	c.mu.Unlock()

	for _, cb := range listeners {
		cb(event, session)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, bearer string, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "gotrue: failed to encode request")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.baseURL()+path, reader)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "gotrue: failed to build request")
	}

	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AnonKey != "" {
		req.Header.Set("apikey", c.cfg.AnonKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else if c.cfg.AnonKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AnonKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "gotrue: request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "gotrue: failed to read response")
	}

	if resp.StatusCode >= 400 {
		apiErr := &apiError{}
		if uerr := json.Unmarshal(raw, apiErr); uerr != nil {
			apiErr.Msg = string(raw)
		}
		return c.mapError(resp.StatusCode, apiErr)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "gotrue: failed to decode response")
	}
	return nil
}

func (c *Client) mapError(status int, apiErr *apiError) error {
	msg := fmt.Sprintf("gotrue: %s", apiErr.text())

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return goerrors.New(msg, goerrors.CategoryAuth).
			WithTextCode("AUTH_REJECTED").
			WithCode(goerrors.CodeUnauthorized)
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return goerrors.New(msg, goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	case http.StatusTooManyRequests:
		return goerrors.New(msg, goerrors.CategoryRateLimit).
			WithTextCode("RATE_LIMITED").
			WithCode(goerrors.CodeBadRequest)
	default:
		return goerrors.New(msg, goerrors.CategoryOperation).
			WithCode(goerrors.CodeInternal)
	}
}

func (u wireUser) toUser() (*identity.AuthUser, error) {
	if u.ID == "" {
		return nil, goerrors.New("gotrue: response is missing user id", goerrors.CategoryInternal)
	}
	id, err := uuid.Parse(u.ID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "gotrue: invalid user id")
	}
	return &identity.AuthUser{
		ID:               id,
		Email:            u.Email,
		EmailConfirmedAt: u.EmailConfirmedAt,
		Metadata:         u.UserMetadata,
	}, nil
}

func (r tokenResponse) toSession() (*identity.AuthSession, error) {
	if r.AccessToken == "" || r.User == nil {
		return nil, goerrors.New("gotrue: token response is missing session", goerrors.CategoryInternal)
	}
	user, err := r.User.toUser()
	if err != nil {
		return nil, err
	}

	expiresAt := time.Unix(r.ExpiresAt, 0)
	if r.ExpiresAt == 0 && r.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(r.ExpiresIn) * time.Second)
	}

	return &identity.AuthSession{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    expiresAt,
		User:         user,
	}, nil
}
