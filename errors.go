package identity

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeNoSession          = "NO_SESSION_FOUND"
	textCodeInvalidCredentials = "INVALID_CREDENTIALS"
	textCodeTokenExchange      = "TOKEN_EXCHANGE_FAILED"
	textCodeProfileFetch       = "PROFILE_FETCH_FAILED"
	textCodeProfileCreation    = "PROFILE_CREATION_FAILED"
	textCodeAccountDeactivated = "ACCOUNT_DEACTIVATED"
	textCodeAccountDeleted     = "ACCOUNT_DELETED"
	textCodeNoAuthenticated    = "NO_AUTHENTICATED_USER"
	textCodeApprovalPending    = "APPROVAL_PENDING"
	textCodeEmailNotVerified   = "EMAIL_NOT_VERIFIED"
)

// ErrNoSessionFound signals that no session exists. Benign: background
// bootstrap resolves it to a logged-out state rather than surfacing it.
var ErrNoSessionFound = goerrors.New("no session found", goerrors.CategoryAuth).
	WithTextCode(textCodeNoSession).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidCredentials is returned by login when the subsystem rejects the
// email/password pair.
var ErrInvalidCredentials = goerrors.New("invalid login credentials", goerrors.CategoryAuth).
	WithTextCode(textCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExchangeFailed is returned when URL-borne tokens cannot be
// exchanged for a session.
var ErrTokenExchangeFailed = goerrors.New("token exchange failed", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenExchange).
	WithCode(goerrors.CodeUnauthorized)

// ErrProfileFetchFailed wraps store failures while reading a profile.
var ErrProfileFetchFailed = goerrors.New("failed to fetch profile", goerrors.CategoryInternal).
	WithTextCode(textCodeProfileFetch).
	WithCode(goerrors.CodeInternal)

// ErrProfileCreationFailed wraps store failures while materializing a
// profile. Duplicate-key conflicts are recovered instead of raised.
var ErrProfileCreationFailed = goerrors.New("failed to create profile", goerrors.CategoryInternal).
	WithTextCode(textCodeProfileCreation).
	WithCode(goerrors.CodeInternal)

// ErrAccountDeactivated is raised by the lifecycle gate; the session is
// force-signed-out before this surfaces.
var ErrAccountDeactivated = goerrors.New("account has been deactivated", goerrors.CategoryAuthz).
	WithTextCode(textCodeAccountDeactivated).
	WithCode(goerrors.CodeForbidden)

// ErrAccountDeleted is raised by the lifecycle gate; the session is
// force-signed-out before this surfaces.
var ErrAccountDeleted = goerrors.New("account has been deleted", goerrors.CategoryAuthz).
	WithTextCode(textCodeAccountDeleted).
	WithCode(goerrors.CodeForbidden)

// ErrNoAuthenticatedUser is returned when a user-initiated operation that
// needs a live session runs without one.
var ErrNoAuthenticatedUser = goerrors.New("no authenticated user", goerrors.CategoryAuth).
	WithTextCode(textCodeNoAuthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailNotVerified is returned when profile creation is requested for a
// session whose email has not been confirmed. Profiles are only ever
// materialized for verified identities.
var ErrEmailNotVerified = goerrors.New("identity email is not verified", goerrors.CategoryAuthz).
	WithTextCode(textCodeEmailNotVerified).
	WithCode(goerrors.CodeForbidden)

// ErrApprovalPending is raised only when the approval feature gate is
// enabled; by default provisional accounts are allowed through.
var ErrApprovalPending = goerrors.New("account is pending approval", goerrors.CategoryAuthz).
	WithTextCode(textCodeApprovalPending).
	WithCode(goerrors.CodeForbidden)

// IsDuplicateKey reports whether err is a unique-constraint violation. The
// reconciler treats these as "profile already exists", never as failures.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "constraint failed: profiles.")
}

// IsBenignSessionError reports whether err only says "nobody is signed in".
func IsBenignSessionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoSessionFound) {
		return true
	}
	return strings.Contains(err.Error(), "session missing") ||
		strings.Contains(err.Error(), "no session")
}
