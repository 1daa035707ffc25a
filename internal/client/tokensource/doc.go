// Package tokensource mints short-lived Google access tokens from a
// service-account credential.
//
// Refresh signs an RS256 JWT assertion with the credential's private key and
// exchanges it at the OAuth token endpoint using the JWT-bearer grant. The
// resulting token is written to the credential store's session tier, tagged
// as coming from the service-account path. Token hands out the current
// token and refreshes it first when it is within the refresh skew of
// expiring.
//
// Refresh never retries on its own. Every failure is reported as
// common.ErrCredentialExchangeFailed wrapping the cause.
package tokensource
