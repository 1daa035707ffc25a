package models

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultTokenURI is the Google OAuth token endpoint used when a service
// account does not name one.
const DefaultTokenURI = "https://oauth2.googleapis.com/token"

// ErrIncompleteCredential reports a service account missing a field needed to
// mint tokens.
var ErrIncompleteCredential = errors.New("incomplete service account credential")

// ServiceAccount is a Google service-account key as issued by the backend.
// Field names follow the Google JSON key file.
type ServiceAccount struct {
	Type                    string `json:"type,omitempty"`
	ProjectID               string `json:"project_id,omitempty"`
	PrivateKeyID            string `json:"private_key_id,omitempty"`
	PrivateKey              string `json:"private_key"`
	ClientEmail             string `json:"client_email"`
	ClientID                string `json:"client_id,omitempty"`
	AuthURI                 string `json:"auth_uri,omitempty"`
	TokenURI                string `json:"token_uri,omitempty"`
	AuthProviderX509CertURL string `json:"auth_provider_x509_cert_url,omitempty"`
	ClientX509CertURL       string `json:"client_x509_cert_url,omitempty"`
	UniverseDomain          string `json:"universe_domain,omitempty"`
}

// Validate checks the fields required to sign an assertion.
func (sa ServiceAccount) Validate() error {
	var missing []string
	if strings.TrimSpace(sa.ClientEmail) == "" {
		missing = append(missing, "client_email")
	}
	if strings.TrimSpace(sa.PrivateKey) == "" {
		missing = append(missing, "private_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteCredential, strings.Join(missing, ", "))
	}
	return nil
}

// Audience returns the token endpoint the assertion is addressed to.
func (sa ServiceAccount) Audience() string {
	if sa.TokenURI != "" {
		return sa.TokenURI
	}
	return DefaultTokenURI
}

// IsZero reports whether no credential is present.
func (sa ServiceAccount) IsZero() bool {
	return sa == ServiceAccount{}
}
