package gotrue

import (
	"context"
	"log"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"

	"github.com/Hasitha0/EcoTech-sub000/middleware/sessionware"
)

// TokenValidator validates GoTrue access tokens against the endpoint's JWK
// Set. Implements sessionware.TokenValidator.
type TokenValidator struct {
	cfg  Config
	jwks *keyfunc.JWKS
}

var _ sessionware.TokenValidator = (*TokenValidator)(nil)

// NewTokenValidator fetches the JWK Set and keeps it refreshed in the
// background.
func NewTokenValidator(cfg Config) (*TokenValidator, error) {
	jwks, err := keyfunc.Get(cfg.jwksURL(), keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			log.Printf("failed to do a background refresh of JWK set: %s", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "gotrue: failed to fetch JWK set")
	}

	return &TokenValidator{cfg: cfg, jwks: jwks}, nil
}

// Validate parses and verifies the access token.
func (v *TokenValidator) Validate(ctx context.Context, tokenString string) (sessionware.SessionClaims, error) {
	claims := &AccessTokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.Keyfunc)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "invalid access token").
			WithTextCode("TOKEN_INVALID").
			WithCode(goerrors.CodeUnauthorized)
	}
	if !token.Valid {
		return nil, goerrors.New("invalid access token", goerrors.CategoryAuth).
			WithTextCode("TOKEN_INVALID").
			WithCode(goerrors.CodeUnauthorized)
	}

	return claims, nil
}

// Close stops the background JWK refresh.
func (v *TokenValidator) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// AccessTokenClaims is the GoTrue access token payload.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	UserEmail     string         `json:"email"`
	EmailVerified bool           `json:"email_verified"`
	Role          string         `json:"role"`
	UserMetadata  map[string]any `json:"user_metadata"`
}

// Subject returns the user id.
func (c *AccessTokenClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// Email returns the token's email claim.
func (c *AccessTokenClaims) Email() string {
	return c.UserEmail
}

// Verified reports the email_verified claim.
func (c *AccessTokenClaims) Verified() bool {
	return c.EmailVerified
}
