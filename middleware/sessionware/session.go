package sessionware

import (
	"context"
	"errors"
	"strings"

	"github.com/goliatone/go-router"
)

var (
	defaultTokenLookup      = "header:" + router.HeaderAuthorization
	ErrTokenMissing         = errors.New("missing or malformed session token")
	ErrSessionUserUnmatched = errors.New("no user resolved for session")
)

// SessionClaims is the validated content of a subsystem access token.
// Mirrors the claims surface of the identity package without importing it.
type SessionClaims interface {
	Subject() string
	Email() string
	Verified() bool
}

// TokenValidator validates a raw access token into claims.
type TokenValidator interface {
	Validate(ctx context.Context, tokenString string) (SessionClaims, error)
}

// UserResolver turns validated claims into the request user. Implementations
// are expected to enforce account lifecycle here so deactivated accounts
// never reach a handler.
type UserResolver func(ctx context.Context, claims SessionClaims) (any, error)

type Config struct {
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler
	// ContextKey is the router-locals key for the claims.
	ContextKey string
	// UserContextKey is the router-locals key for the resolved user.
	UserContextKey string
	// TokenLookup uses the "source:name" comma list format, e.g.
	// "header:Authorization,cookie:sb_token,query:access_token".
	TokenLookup string
	AuthScheme  string
	// TokenValidator is required.
	TokenValidator TokenValidator
	// UserResolver is optional; without it only claims are stashed.
	UserResolver UserResolver
	// ContextEnricher propagates claims into the standard Go context.
	ContextEnricher func(c context.Context, claims SessionClaims) context.Context
}

// New builds the session middleware: extract the bearer token, validate it,
// resolve the user, and enrich the request context.
func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := GetDefaultConfig(config...)
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			raw, err := ExtractRawTokenFromContext(ctx, cfg.getExtractors())
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			claims, err := cfg.TokenValidator.Validate(ctx.Context(), raw)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, claims)

			if cfg.UserResolver != nil {
				user, err := cfg.UserResolver(ctx.Context(), claims)
				if err != nil {
					return cfg.ErrorHandler(ctx, err)
				}
				if user == nil {
					return cfg.ErrorHandler(ctx, ErrSessionUserUnmatched)
				}
				ctx.Locals(cfg.UserContextKey, user)
			}

			if cfg.ContextEnricher != nil {
				ctx.SetContext(cfg.ContextEnricher(ctx.Context(), claims))
			}

			return cfg.SuccessHandler(ctx)
		}
	}
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c router.Context, err error) error {
			if err.Error() == ErrTokenMissing.Error() {
				return c.Status(router.StatusBadRequest).SendString(ErrTokenMissing.Error())
			}
			return c.Status(router.StatusUnauthorized).SendString("Invalid or expired session")
		}
	}

	if cfg.TokenValidator == nil {
		panic("IDENTITY: session middleware configuration: TokenValidator is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "session_claims"
	}

	if cfg.UserContextKey == "" {
		cfg.UserContextKey = "current_user"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	return cfg
}

func (cfg *Config) getExtractors() []TokenExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func ExtractRawTokenFromContext(ctx router.Context, extractors []TokenExtractor) (string, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

type TokenExtractor func(c router.Context) (string, error)

func GetExtractors(tokenLookup string, authSchemes ...string) []TokenExtractor {
	extractors := make([]TokenExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	// header:Authorization,cookie:sb_token,query:access_token,param:token
	rootParts := strings.Split(tokenLookup, ",")
	for _, rootPart := range rootParts {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, tokenFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, tokenFromQuery(parts[1]))
		case "param":
			extractors = append(extractors, tokenFromParam(parts[1]))
		case "cookie":
			extractors = append(extractors, tokenFromCookie(parts[1]))
		}
	}

	return extractors
}

// tokenFromHeader returns a function that extracts the token from the request header.
func tokenFromHeader(header string, authScheme string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		a := c.GetString(header, "")
		l := len(authScheme)
		if l == 0 {
			return "", ErrTokenMissing
		}
		authScheme = strings.TrimSpace(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrTokenMissing
	}
}

// tokenFromQuery returns a function that extracts the token from the query string.
func tokenFromQuery(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrTokenMissing
		}
		return token, nil
	}
}

// tokenFromParam returns a function that extracts the token from the url param string.
func tokenFromParam(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Param(param)
		if token == "" {
			return "", ErrTokenMissing
		}
		return token, nil
	}
}

// tokenFromCookie returns a function that extracts the token from the named cookie.
func tokenFromCookie(name string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrTokenMissing
		}
		return token, nil
	}
}
