package models

import "time"

// TokenSource names the path that produced the session's access token.
// Only one path may write the token per session.
type TokenSource string

const (
	TokenSourceNone           TokenSource = ""
	TokenSourceServiceAccount TokenSource = "service_account"
	TokenSourceDirect         TokenSource = "direct"
)

// AccessToken is a bearer token with its absolute expiry.
type AccessToken struct {
	Value     string      `json:"value"`
	ExpiresAt time.Time   `json:"expires_at"`
	Source    TokenSource `json:"source"`
}

// IsZero reports whether the token carries no value.
func (t AccessToken) IsZero() bool {
	return t.Value == ""
}

// NeedsRefresh reports whether now falls within skew of the expiry.
// A token without an expiry never needs refreshing.
func (t AccessToken) NeedsRefresh(now time.Time, skew time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.After(t.ExpiresAt.Add(-skew))
}
