package models

import "time"

// AdminUserID keys durable state for the privileged login path, which has no
// identity-provider user id.
const AdminUserID = "admin"

// Assertion is the identity provider's proof that the user signed in.
type Assertion struct {
	IDToken      string
	RefreshToken string
	UserID       string
	Email        string
	ExpiresAt    time.Time
}

// TokenEventKind tells what an external token notification carries.
type TokenEventKind int

const (
	// TokenEventAssertion is a refreshed identity assertion.
	TokenEventAssertion TokenEventKind = iota
	// TokenEventDirect is an access token from the privileged OAuth path.
	TokenEventDirect
)

func (k TokenEventKind) String() string {
	switch k {
	case TokenEventAssertion:
		return "assertion"
	case TokenEventDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// TokenEvent is an "already authenticated" signal arriving from outside the
// orchestrator, such as the identity provider's background refresh.
type TokenEvent struct {
	Kind      TokenEventKind
	Assertion Assertion
	Token     AccessToken
}
