// Package identity implements the identity reconciliation and session
// bootstrap core for the EcoTech e-waste collection marketplace.
//
// The package resolves, on every application start or identity-provider
// callback, who the visitor is: it exchanges URL-borne verification tokens
// for a session, synchronizes the local profile record against the external
// authentication subsystem, materializes missing profiles from registration
// data cached before email verification, and gates access on the account
// lifecycle state. Consumers observe a single CurrentUser view through the
// Manager and never talk to the subsystem directly.
package identity
