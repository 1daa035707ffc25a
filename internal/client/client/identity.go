package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/clinicdesk/internal/client/models"
	"github.com/dmitrijs2005/clinicdesk/internal/common"
	"github.com/dmitrijs2005/clinicdesk/internal/logging"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultIdentityBaseURL    = "https://identitytoolkit.googleapis.com"
	DefaultSecureTokenBaseURL = "https://securetoken.googleapis.com"
)

// IdentityProvider signs staff in and keeps their assertion fresh.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (models.Assertion, error)
	Refresh(ctx context.Context) (models.Assertion, error)
	Current() (models.Assertion, bool)
	Subscribe() <-chan models.TokenEvent
	SignOut(ctx context.Context) error
}

// FirebaseClient talks to the Firebase Auth REST API.
type FirebaseClient struct {
	notifier

	apiKey      string
	identityURL string
	secureURL   string
	client      *http.Client
	clock       clockwork.Clock
	log         logging.Logger

	mu      sync.RWMutex
	current *models.Assertion
}

type FirebaseOption func(*FirebaseClient)

func WithIdentityBaseURL(u string) FirebaseOption {
	return func(c *FirebaseClient) { c.identityURL = strings.TrimRight(u, "/") }
}

func WithSecureTokenBaseURL(u string) FirebaseOption {
	return func(c *FirebaseClient) { c.secureURL = strings.TrimRight(u, "/") }
}

func WithFirebaseHTTPClient(hc *http.Client) FirebaseOption {
	return func(c *FirebaseClient) { c.client = hc }
}

func WithFirebaseClock(clock clockwork.Clock) FirebaseOption {
	return func(c *FirebaseClient) { c.clock = clock }
}

func WithFirebaseLogger(l logging.Logger) FirebaseOption {
	return func(c *FirebaseClient) { c.log = l }
}

func NewFirebaseClient(apiKey string, opts ...FirebaseOption) *FirebaseClient {
	c := &FirebaseClient{
		apiKey:      apiKey,
		identityURL: DefaultIdentityBaseURL,
		secureURL:   DefaultSecureTokenBaseURL,
		client:      &http.Client{Timeout: 20 * time.Second},
		clock:       clockwork.NewRealClock(),
		log:         logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "identity")
	return c
}

type firebaseError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignIn exchanges email and password for an identity assertion. Any
// rejection or transport failure is reported as common.ErrInvalidCredentials.
func (c *FirebaseClient) SignIn(ctx context.Context, email, password string) (models.Assertion, error) {
	reqBody, err := json.Marshal(map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
	if err != nil {
		return models.Assertion{}, err
	}

	endpoint := c.identityURL + "/v1/accounts:signInWithPassword?key=" + url.QueryEscape(c.apiKey)
	var resp struct {
		IDToken      string `json:"idToken"`
		RefreshToken string `json:"refreshToken"`
		LocalID      string `json:"localId"`
		Email        string `json:"email"`
		ExpiresIn    string `json:"expiresIn"`
	}
	if err := c.post(ctx, endpoint, "application/json", bytes.NewReader(reqBody), &resp); err != nil {
		c.log.Warn(ctx, "sign-in rejected", "email", email, "error", err)
		return models.Assertion{}, fmt.Errorf("%w: %w", common.ErrInvalidCredentials, err)
	}
	if resp.IDToken == "" || resp.LocalID == "" {
		return models.Assertion{}, fmt.Errorf("%w: incomplete sign-in response", common.ErrInvalidCredentials)
	}

	a := models.Assertion{
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		UserID:       resp.LocalID,
		Email:        resp.Email,
		ExpiresAt:    c.expiry(resp.ExpiresIn),
	}
	c.set(&a)
	c.log.Info(ctx, "signed in", "user_id", a.UserID)
	c.publish(models.TokenEvent{Kind: models.TokenEventAssertion, Assertion: a})
	return a, nil
}

// Refresh renews the current assertion with its refresh token.
func (c *FirebaseClient) Refresh(ctx context.Context) (models.Assertion, error) {
	cur, ok := c.Current()
	if !ok || cur.RefreshToken == "" {
		return models.Assertion{}, ErrNotSignedIn
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cur.RefreshToken)

	endpoint := c.secureURL + "/v1/token?key=" + url.QueryEscape(c.apiKey)
	var resp struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		UserID       string `json:"user_id"`
		ExpiresIn    string `json:"expires_in"`
	}
	if err := c.post(ctx, endpoint, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &resp); err != nil {
		return models.Assertion{}, err
	}

	a := cur
	a.IDToken = resp.IDToken
	if resp.RefreshToken != "" {
		a.RefreshToken = resp.RefreshToken
	}
	a.ExpiresAt = c.expiry(resp.ExpiresIn)

	// a sign-out while the refresh was in flight wins
	c.mu.Lock()
	if c.current == nil || c.current.UserID != cur.UserID {
		c.mu.Unlock()
		return models.Assertion{}, ErrNotSignedIn
	}
	c.current = &a
	c.mu.Unlock()

	c.publish(models.TokenEvent{Kind: models.TokenEventAssertion, Assertion: a})
	return a, nil
}

func (c *FirebaseClient) Current() (models.Assertion, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return models.Assertion{}, false
	}
	return *c.current, true
}

func (c *FirebaseClient) SignOut(ctx context.Context) error {
	c.set(nil)
	c.log.Debug(ctx, "identity session cleared")
	return nil
}

// StartAutoRefresh renews the assertion every interval while signed in,
// until ctx is done. Each renewal is published to subscribers.
func (c *FirebaseClient) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	autoRefresh(ctx, c.clock, interval, func(ctx context.Context) {
		if _, ok := c.Current(); !ok {
			return
		}
		if _, err := c.Refresh(ctx); err != nil {
			c.log.Warn(ctx, "assertion refresh failed", "error", err)
		}
	})
}

func (c *FirebaseClient) set(a *models.Assertion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = a
}

func (c *FirebaseClient) expiry(expiresIn string) time.Time {
	secs, err := strconv.Atoi(expiresIn)
	if err != nil || secs <= 0 {
		secs = 3600
	}
	return c.clock.Now().Add(time.Duration(secs) * time.Second)
}

func (c *FirebaseClient) post(ctx context.Context, endpoint, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var fe firebaseError
		if json.Unmarshal(data, &fe) == nil && fe.Error.Message != "" {
			return fmt.Errorf("status=%d: %s", resp.StatusCode, fe.Error.Message)
		}
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.Unmarshal(data, out)
}
