package gotrue

import (
	"net/http"
	"strings"
	"time"
)

// Config holds connection settings for a GoTrue endpoint.
type Config struct {
	// BaseURL is the auth endpoint root, e.g. "https://xyz.supabase.co/auth/v1".
	BaseURL string

	// AnonKey is the public API key sent with every request.
	AnonKey string

	// JWKSURL overrides the JWK Set URL used by the token validator.
	// Default: "{BaseURL}/.well-known/jwks.json".
	JWKSURL string

	// HTTPClient overrides the transport. Default: 10s timeout client.
	HTTPClient *http.Client

	// Timeout applies when HTTPClient is not provided.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(baseURL, anonKey string) Config {
	return Config{
		BaseURL: baseURL,
		AnonKey: anonKey,
		Timeout: 10 * time.Second,
	}
}

func (c Config) baseURL() string {
	return strings.TrimSuffix(strings.TrimSpace(c.BaseURL), "/")
}

func (c Config) jwksURL() string {
	if c.JWKSURL != "" {
		return c.JWKSURL
	}
	return c.baseURL() + "/.well-known/jwks.json"
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
