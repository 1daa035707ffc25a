// Package client contains the adapters for the systems the auth flow talks
// to but does not own.
//
// # Overview
//
// The package provides:
//  1. IdentityProvider and its Firebase implementation (FirebaseClient):
//     email/password sign-in, assertion refresh, and a notification channel
//     fed by a background refresher.
//  2. CredentialBackend and BackendClient, which fetch a service-account
//     credential with the identity assertion as bearer token.
//  3. ConsentFlow and GoogleConsent for the privileged path: a consent URL
//     with a random state, and an exchange that accepts the pasted redirect
//     URL or the bare code.
//  4. Local persistence bootstrap (InitDatabase, RunMigrations) wiring an
//     SQLite database and applying embedded goose migrations.
//
// # Error Handling
//
// Sign-in and consent failures wrap common.ErrInvalidCredentials, backend
// failures wrap common.ErrCredentialFetchFailed. Transport failures
// additionally wrap ErrUnavailable.
//
// Concurrency & Contexts
//
// All types are safe for concurrent use. Every network call takes a
// context.Context and honors cancellation.
package client
