package client

import "errors"

var (
	ErrUnavailable   = errors.New("service unavailable")
	ErrNotSignedIn   = errors.New("not signed in")
	ErrStateMismatch = errors.New("oauth state mismatch")
)
