package common

const (
	// AuthorizationHeaderName carries bearer tokens on outbound HTTP requests.
	AuthorizationHeaderName = "Authorization"

	// BearerPrefix precedes the token value in the Authorization header.
	BearerPrefix = "Bearer "

	// MinPINLength is the shortest PIN the terminal surface accepts.
	MinPINLength = 6
)
