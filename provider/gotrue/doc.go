// Package gotrue implements the identity.AuthClient contract against a
// GoTrue-compatible REST endpoint. The client keeps the active session in
// memory and fans session changes out to registered listeners.
package gotrue
