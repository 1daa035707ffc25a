package tokensource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/clinicdesk/internal/client/models"
	"github.com/dmitrijs2005/clinicdesk/internal/common"
	"github.com/dmitrijs2005/clinicdesk/internal/logging"
	"github.com/dmitrijs2005/clinicdesk/internal/metrics"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

const (
	GrantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	DefaultRefreshSkew = 60 * time.Second

	assertionBackdate = 60 * time.Second
	assertionLifetime = time.Hour
	defaultExpiresIn  = 3600
	maxErrorBody      = 4 << 10
)

// DefaultScopes are the API scopes requested for the record store.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/spreadsheets",
	"https://www.googleapis.com/auth/drive.readonly",
	"https://www.googleapis.com/auth/drive.file",
}

// CredentialStore is the part of credstore.Store the token source needs.
type CredentialStore interface {
	ActiveCredential() (models.ServiceAccount, bool)
	SetActiveCredential(sa models.ServiceAccount)
	RestoreActive(ctx context.Context) (bool, error)
	SetSessionTokenAt(ctx context.Context, tok models.AccessToken, epoch uint64) error
	SessionToken(ctx context.Context) (models.AccessToken, bool, error)
	Epoch() uint64
}

type Source struct {
	store   CredentialStore
	client  *http.Client
	clock   clockwork.Clock
	uri     string
	scopes  []string
	skew    time.Duration
	log     logging.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	lastExpiry time.Time
	lastEpoch  uint64
}

type Option func(*Source)

func WithHTTPClient(c *http.Client) Option { return func(s *Source) { s.client = c } }

func WithClock(c clockwork.Clock) Option { return func(s *Source) { s.clock = c } }

// WithTokenURI overrides the endpoint named by the credential.
func WithTokenURI(uri string) Option { return func(s *Source) { s.uri = uri } }

func WithScopes(scopes ...string) Option { return func(s *Source) { s.scopes = scopes } }

func WithRefreshSkew(d time.Duration) Option { return func(s *Source) { s.skew = d } }

func WithLogger(l logging.Logger) Option { return func(s *Source) { s.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Source) { s.metrics = m } }

func New(store CredentialStore, opts ...Option) *Source {
	s := &Source{
		store:  store,
		client: http.DefaultClient,
		clock:  clockwork.NewRealClock(),
		scopes: DefaultScopes,
		skew:   DefaultRefreshSkew,
		log:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "tokensource")
	return s
}

// Login makes sa the active credential and performs one exchange. On failure
// the previously active credential, if any, is put back.
func (s *Source) Login(ctx context.Context, sa models.ServiceAccount) error {
	if err := sa.Validate(); err != nil {
		return fmt.Errorf("%w: %w", common.ErrCredentialExchangeFailed, err)
	}

	epoch := s.store.Epoch()
	prev, _ := s.store.ActiveCredential()
	s.store.SetActiveCredential(sa)

	if err := s.refresh(ctx, epoch); err != nil {
		switch cur, ok := s.store.ActiveCredential(); {
		case s.store.Epoch() == epoch:
			s.store.SetActiveCredential(prev)
		case ok && cur == sa:
			s.store.SetActiveCredential(models.ServiceAccount{})
		}
		return err
	}
	s.log.Info(ctx, "service account logged in", "client_email", sa.ClientEmail)
	return nil
}

// Refresh exchanges a freshly signed assertion for a new access token and
// saves it in the session tier. A token that arrives after the session was
// cleared is dropped.
func (s *Source) Refresh(ctx context.Context) error {
	return s.refresh(ctx, s.store.Epoch())
}

func (s *Source) refresh(ctx context.Context, epoch uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.lastEpoch {
		s.lastEpoch = epoch
		s.lastExpiry = time.Time{}
	}

	tok, err := s.exchange(ctx)
	if err == nil {
		err = s.store.SetSessionTokenAt(ctx, tok, epoch)
	}
	if err != nil {
		s.metrics.RecordTokenExchange("failure")
		s.log.Warn(ctx, "token exchange failed", "error", err)
		return fmt.Errorf("%w: %w", common.ErrCredentialExchangeFailed, err)
	}

	s.lastExpiry = tok.ExpiresAt
	s.metrics.RecordTokenExchange("success")
	s.log.Debug(ctx, "access token refreshed", "expires_at", tok.ExpiresAt)
	return nil
}

// Token returns a usable bearer token, refreshing first when the saved one
// is about to expire. Tokens from the direct path are returned as is.
func (s *Source) Token(ctx context.Context) (string, error) {
	tok, ok, err := s.store.SessionToken(ctx)
	if err != nil {
		return "", err
	}
	if ok && (tok.Source == models.TokenSourceDirect || !tok.NeedsRefresh(s.clock.Now(), s.skew)) {
		return tok.Value, nil
	}

	held, err := s.store.RestoreActive(ctx)
	if err != nil {
		return "", err
	}
	if !held {
		if ok {
			return tok.Value, nil
		}
		return "", common.ErrUnauthorized
	}

	if err := s.Refresh(ctx); err != nil {
		return "", err
	}
	tok, _, err = s.store.SessionToken(ctx)
	if err != nil {
		return "", err
	}
	return tok.Value, nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (s *Source) exchange(ctx context.Context) (models.AccessToken, error) {
	sa, ok := s.store.ActiveCredential()
	if !ok {
		return models.AccessToken{}, errors.New("no active credential")
	}

	endpoint := s.uri
	if endpoint == "" {
		endpoint = sa.Audience()
	}

	now := s.clock.Now()
	assertion, err := s.sign(sa, endpoint, now)
	if err != nil {
		return models.AccessToken{}, err
	}

	form := url.Values{}
	form.Set("grant_type", GrantTypeJWTBearer)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return models.AccessToken{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return models.AccessToken{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.AccessToken{}, err
	}

	var tr tokenResponse
	_ = json.Unmarshal(body, &tr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if tr.Error != "" {
			return models.AccessToken{}, fmt.Errorf("token endpoint returned %d: %s %s", resp.StatusCode, tr.Error, tr.ErrorDescription)
		}
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return models.AccessToken{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if tr.AccessToken == "" {
		return models.AccessToken{}, errors.New("token endpoint returned no access_token")
	}

	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	expiresAt := now.Add(time.Duration(expiresIn) * time.Second)
	if expiresAt.Before(s.lastExpiry) {
		expiresAt = s.lastExpiry
	}

	return models.AccessToken{
		Value:     tr.AccessToken,
		ExpiresAt: expiresAt,
		Source:    models.TokenSourceServiceAccount,
	}, nil
}

func (s *Source) sign(sa models.ServiceAccount, audience string, now time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}

	iat := now.Add(-assertionBackdate)
	claims := jwt.MapClaims{
		"iss":   sa.ClientEmail,
		"sub":   sa.ClientEmail,
		"aud":   audience,
		"scope": strings.Join(s.scopes, " "),
		"iat":   iat.Unix(),
		"exp":   iat.Add(assertionLifetime).Unix(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if sa.PrivateKeyID != "" {
		t.Header["kid"] = sa.PrivateKeyID
	}
	return t.SignedString(key)
}
