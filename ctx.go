package identity

import (
	"context"

	"github.com/goliatone/go-router"
)

var currentUserCtxKey = &contextKey{"current_user"}
var sessionCtxKey = &contextKey{"auth_session"}

type contextKey struct {
	name string
}

// WithContext sets the CurrentUser in the given context
func WithContext(r context.Context, user *CurrentUser) context.Context {
	return context.WithValue(r, currentUserCtxKey, user)
}

// FromContext finds the current user from the context.
func FromContext(ctx context.Context) (*CurrentUser, bool) {
	raw, ok := ctx.Value(currentUserCtxKey).(*CurrentUser)
	return raw, ok
}

// WithSessionContext sets the AuthSession in the given context
func WithSessionContext(r context.Context, session *AuthSession) context.Context {
	return context.WithValue(r, sessionCtxKey, session)
}

// SessionFromContext extracts the AuthSession from the standard context
func SessionFromContext(ctx context.Context) (*AuthSession, bool) {
	raw, ok := ctx.Value(sessionCtxKey).(*AuthSession)
	return raw, ok
}

// FromRouterContext extracts the CurrentUser stashed by the session
// middleware in the router context.
func FromRouterContext(ctx router.Context, key string) (*CurrentUser, bool) {
	if key == "" {
		key = "current_user"
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return nil, false
	}
	user, ok := raw.(*CurrentUser)
	return user, ok
}

// HasRole checks the context user's role.
func HasRole(ctx context.Context, role ProfileRole) bool {
	user, ok := FromContext(ctx)
	if !ok || user == nil {
		return false
	}
	return user.Role == role
}

// IsElevated reports whether the context user holds an admin-tier role.
func IsElevated(ctx context.Context) bool {
	user, ok := FromContext(ctx)
	if !ok || user == nil {
		return false
	}
	return Elevated(user.Role)
}
