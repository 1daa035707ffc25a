// Package models defines the client-side data carried between the auth
// components: service-account credentials, access tokens, identity
// assertions, and record-store locations.
package models
