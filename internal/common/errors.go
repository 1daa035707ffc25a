// Package common defines shared constants and sentinel errors used across
// the clinicdesk client. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// ErrInvalidCredentials means the identity provider rejected sign-in.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrCredentialFetchFailed means the backend did not return a usable
	// service-account object.
	ErrCredentialFetchFailed = errors.New("service account fetch failed")

	// ErrIncorrectPin means the stored credential could not be decrypted
	// with the PIN the user entered.
	ErrIncorrectPin = errors.New("incorrect pin")

	// ErrCredentialExchangeFailed means the OAuth endpoint rejected the
	// signed assertion, or the exchange could not be completed.
	ErrCredentialExchangeFailed = errors.New("credential exchange failed")

	// ErrUnauthorized is the terminal outcome of the gateway's one-shot
	// recovery.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrWrongStep is returned when an auth operation is invoked from a
	// state that does not allow it.
	ErrWrongStep = errors.New("operation not allowed in current step")
)
