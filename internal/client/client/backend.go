package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/clinicdesk/internal/client/models"
	"github.com/dmitrijs2005/clinicdesk/internal/common"
)

const DefaultServiceAccountPath = "/api/auth/service-account"

// CredentialBackend hands out the service-account credential for a signed-in
// staff member.
type CredentialBackend interface {
	FetchServiceAccount(ctx context.Context, idToken string) (models.ServiceAccount, error)
}

type BackendClient struct {
	baseURL string
	path    string
	client  *http.Client
}

func NewBackendClient(baseURL string, hc *http.Client) *BackendClient {
	if hc == nil {
		hc = &http.Client{Timeout: 20 * time.Second}
	}
	return &BackendClient{baseURL: strings.TrimRight(baseURL, "/"), path: DefaultServiceAccountPath, client: hc}
}

// FetchServiceAccount calls the backend with the identity assertion as the
// bearer token. Every failure is reported as common.ErrCredentialFetchFailed.
func (b *BackendClient) FetchServiceAccount(ctx context.Context, idToken string) (models.ServiceAccount, error) {
	sa, err := b.fetch(ctx, idToken)
	if err != nil {
		return models.ServiceAccount{}, fmt.Errorf("%w: %w", common.ErrCredentialFetchFailed, err)
	}
	return sa, nil
}

func (b *BackendClient) fetch(ctx context.Context, idToken string) (models.ServiceAccount, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+b.path, nil)
	if err != nil {
		return models.ServiceAccount{}, err
	}
	req.Header.Set(common.AuthorizationHeaderName, common.BearerPrefix+idToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return models.ServiceAccount{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return models.ServiceAccount{}, fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		ServiceAccount *models.ServiceAccount `json:"serviceAccount"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.ServiceAccount{}, fmt.Errorf("decode response: %w", err)
	}
	if payload.ServiceAccount == nil {
		return models.ServiceAccount{}, fmt.Errorf("response has no serviceAccount")
	}
	if err := payload.ServiceAccount.Validate(); err != nil {
		return models.ServiceAccount{}, err
	}
	return *payload.ServiceAccount, nil
}
