package client

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
	"github.com/jonboulle/clockwork"
)

const (
	GoogleAuthURL      = "https://accounts.google.com/o/oauth2/auth"
	GoogleTokenURL     = "https://oauth2.googleapis.com/token"
	DefaultRedirectURI = "http://localhost:1456/oauth-callback"
)

// ConsentFlow is the privileged login path: the user approves access in a
// browser and pastes the redirect back.
type ConsentFlow interface {
	AuthCodeURL() (string, error)
	Exchange(ctx context.Context, input string) (models.AccessToken, error)
	Subscribe() <-chan models.TokenEvent
	Forget()
}

// OAuthConfig identifies the OAuth client used for consent.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
}

type GoogleConsent struct {
	notifier

	cfg    OAuthConfig
	client *http.Client
	clock  clockwork.Clock
	log    logging.Logger

	mu           sync.Mutex
	state        string
	refreshToken string
}

func NewGoogleConsent(cfg OAuthConfig, hc *http.Client, clock clockwork.Clock, log logging.Logger) *GoogleConsent {
	if cfg.AuthURL == "" {
		cfg.AuthURL = GoogleAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = GoogleTokenURL
	}
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = DefaultRedirectURI
	}
	if hc == nil {
		hc = &http.Client{Timeout: 20 * time.Second}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logging.Discard()
	}
	return &GoogleConsent{cfg: cfg, client: hc, clock: clock, log: log.With("component", "consent")}
}

// AuthCodeURL starts a consent round with a fresh state value.
func (g *GoogleConsent) AuthCodeURL() (string, error) {
	state, err := common.MakeRandHexString(16)
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	g.state = state
	g.mu.Unlock()

	values := url.Values{}
	values.Set("access_type", "offline")
	values.Set("client_id", g.cfg.ClientID)
	values.Set("prompt", "consent")
	values.Set("redirect_uri", g.cfg.RedirectURI)
	values.Set("response_type", "code")
	values.Set("scope", strings.Join(g.cfg.Scopes, " "))
	values.Set("state", state)
	return g.cfg.AuthURL + "?" + values.Encode(), nil
}

// Exchange accepts either the full redirect URL or the bare code and trades
// it for an access token tagged as coming from the direct path.
func (g *GoogleConsent) Exchange(ctx context.Context, input string) (models.AccessToken, error) {
	code, err := g.parseCode(input)
	if err != nil {
		return models.AccessToken{}, fmt.Errorf("%w: %w", common.ErrInvalidCredentials, err)
	}

	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", g.cfg.ClientID)
	form.Set("client_secret", g.cfg.ClientSecret)
	form.Set("redirect_uri", g.cfg.RedirectURI)
	form.Set("grant_type", "authorization_code")

	tok, refresh, err := g.token(ctx, form)
	if err != nil {
		g.log.Warn(ctx, "consent code exchange failed", "error", err)
		return models.AccessToken{}, fmt.Errorf("%w: %w", common.ErrInvalidCredentials, err)
	}

	g.mu.Lock()
	g.state = ""
	if refresh != "" {
		g.refreshToken = refresh
	}
	g.mu.Unlock()

	g.log.Info(ctx, "privileged login completed")
	return tok, nil
}

// Refresh renews the direct-path token with the stored refresh token and
// publishes it to subscribers.
func (g *GoogleConsent) Refresh(ctx context.Context) (models.AccessToken, error) {
	g.mu.Lock()
	refresh := g.refreshToken
	g.mu.Unlock()
	if refresh == "" {
		return models.AccessToken{}, ErrNotSignedIn
	}

	form := url.Values{}
	form.Set("client_id", g.cfg.ClientID)
	form.Set("client_secret", g.cfg.ClientSecret)
	form.Set("refresh_token", refresh)
	form.Set("grant_type", "refresh_token")

	tok, _, err := g.token(ctx, form)
	if err != nil {
		return models.AccessToken{}, err
	}
	g.publish(models.TokenEvent{Kind: models.TokenEventDirect, Token: tok})
	return tok, nil
}

// StartAutoRefresh renews the direct-path token every interval until ctx is
// done.
func (g *GoogleConsent) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	autoRefresh(ctx, g.clock, interval, func(ctx context.Context) {
		if _, err := g.Refresh(ctx); err != nil && !errors.Is(err, ErrNotSignedIn) {
			g.log.Warn(ctx, "direct token refresh failed", "error", err)
		}
	})
}

// Forget drops the refresh token and any pending state.
func (g *GoogleConsent) Forget() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = ""
	g.refreshToken = ""
}

func (g *GoogleConsent) parseCode(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("oauth code is empty")
	}
	if !strings.Contains(input, "://") && !strings.HasPrefix(input, "?") {
		return input, nil
	}

	raw := input
	if i := strings.Index(raw, "?"); i >= 0 {
		raw = raw[i+1:]
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return "", fmt.Errorf("parse redirect: %w", err)
	}
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("consent denied: %s", e)
	}

	g.mu.Lock()
	want := g.state
	g.mu.Unlock()
	if want != "" && q.Get("state") != want {
		return "", ErrStateMismatch
	}

	code := q.Get("code")
	if code == "" {
		return "", fmt.Errorf("redirect has no code")
	}
	return code, nil
}

func (g *GoogleConsent) token(ctx context.Context, form url.Values) (models.AccessToken, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return models.AccessToken{}, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return models.AccessToken{}, "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.AccessToken{}, "", fmt.Errorf("token exchange failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.AccessToken{}, "", err
	}
	if payload.AccessToken == "" {
		return models.AccessToken{}, "", fmt.Errorf("token exchange returned empty access_token")
	}

	tok := models.AccessToken{Value: payload.AccessToken, Source: models.TokenSourceDirect}
	if payload.ExpiresIn > 0 {
		tok.ExpiresAt = g.clock.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return tok, payload.RefreshToken, nil
}
