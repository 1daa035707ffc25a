package tokensource

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/clinicdesk/internal/client/credstore"
	"github.com/dmitrijs2005/clinicdesk/internal/client/models"
	"github.com/dmitrijs2005/clinicdesk/internal/client/repositories/kv"
	"github.com/dmitrijs2005/clinicdesk/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	keyOnce sync.Once
	rsaKey  *rsa.PrivateKey
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		rsaKey = k
	})
	return rsaKey
}

func pkcs8PEM(t *testing.T) string {
	der, err := x509.MarshalPKCS8PrivateKey(testKey(t))
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func pkcs1PEM(t *testing.T) string {
	der := x509.MarshalPKCS1PrivateKey(testKey(t))
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}))
}

type tokenServer struct {
	*httptest.Server
	calls     atomic.Int32
	mu        sync.Mutex
	lastForm  map[string]string
	lastToken *jwt.Token
	respond   func(n int32, w http.ResponseWriter)
}

func newTokenServer(t *testing.T) *tokenServer {
	testKey(t)
	ts := &tokenServer{}
	ts.respond = func(n int32, w http.ResponseWriter) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + string(rune('0'+n)),
			"expires_in":   3600,
			"token_type":   "Bearer",
		})
	}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.calls.Add(1)
		if !assert.NoError(t, r.ParseForm()) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assertion := r.PostForm.Get("assertion")
		parsed, err := jwt.Parse(assertion, func(*jwt.Token) (any, error) {
			return &rsaKey.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithoutClaimsValidation())
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		ts.mu.Lock()
		ts.lastForm = map[string]string{
			"grant_type":   r.PostForm.Get("grant_type"),
			"content_type": r.Header.Get("Content-Type"),
		}
		ts.lastToken = parsed
		ts.mu.Unlock()

		ts.respond(n, w)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) last() (map[string]string, *jwt.Token) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.lastForm, ts.lastToken
}

func newSource(t *testing.T, clock clockwork.Clock, opts ...Option) (*Source, *credstore.Store, *kv.MemoryRepository) {
	t.Helper()
	session := kv.NewMemoryRepository()
	store := credstore.New(session, kv.NewMemoryRepository(), nil)
	opts = append([]Option{WithClock(clock)}, opts...)
	return New(store, opts...), store, session
}

func TestLogin_SignsAssertionAndStoresToken(t *testing.T) {
	ts := newTokenServer(t)
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	src, store, _ := newSource(t, clock)
	ctx := context.Background()

	sa := models.ServiceAccount{ClientEmail: "sa@proj.iam.gserviceaccount.com", PrivateKey: pkcs8PEM(t), PrivateKeyID: "kid-1", TokenURI: ts.URL}
	require.NoError(t, src.Login(ctx, sa))

	form, parsed := ts.last()

	assert.Equal(t, GrantTypeJWTBearer, form["grant_type"])
	assert.Equal(t, "application/x-www-form-urlencoded", form["content_type"])
	assert.Equal(t, "kid-1", parsed.Header["kid"])

	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, sa.ClientEmail, claims["iss"])
	assert.Equal(t, sa.ClientEmail, claims["sub"])
	assert.Equal(t, ts.URL, claims["aud"])
	assert.Equal(t, "https://www.googleapis.com/auth/spreadsheets https://www.googleapis.com/auth/drive.readonly https://www.googleapis.com/auth/drive.file", claims["scope"])
	assert.Equal(t, float64(start.Add(-60*time.Second).Unix()), claims["iat"])
	assert.Equal(t, float64(start.Add(-60*time.Second).Add(time.Hour).Unix()), claims["exp"])

	tok, ok, err := store.SessionToken(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok-1", tok.Value)
	assert.Equal(t, models.TokenSourceServiceAccount, tok.Source)
	assert.True(t, start.Add(time.Hour).Equal(tok.ExpiresAt))

	active, ok := store.ActiveCredential()
	assert.True(t, ok)
	assert.Equal(t, sa, active)
}

func TestLogin_PKCS1KeyAndScopesOverride(t *testing.T) {
	ts := newTokenServer(t)
	src, _, _ := newSource(t, clockwork.NewFakeClock(), WithScopes("a", "b"), WithTokenURI(ts.URL))

	sa := models.ServiceAccount{ClientEmail: "sa@x", PrivateKey: pkcs1PEM(t)}
	require.NoError(t, src.Login(context.Background(), sa))

	_, parsed := ts.last()
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "a b", claims["scope"])
	assert.Equal(t, ts.URL, claims["aud"])
	_, hasKid := parsed.Header["kid"]
	assert.False(t, hasKid)
}

func TestLogin_FailureRestoresPreviousCredential(t *testing.T) {
	ts := newTokenServer(t)
	ts.respond = func(_ int32, w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid JWT Signature."}`))
	}
	src, store, _ := newSource(t, clockwork.NewFakeClock())
	ctx := context.Background()

	prev := models.ServiceAccount{ClientEmail: "prev@x", PrivateKey: "prev"}
	store.SetActiveCredential(prev)

	err := src.Login(ctx, models.ServiceAccount{ClientEmail: "new@x", PrivateKey: pkcs8PEM(t), TokenURI: ts.URL})
	require.ErrorIs(t, err, common.ErrCredentialExchangeFailed)
	assert.Contains(t, err.Error(), "invalid_grant")

	got, ok := store.ActiveCredential()
	assert.True(t, ok)
	assert.Equal(t, prev, got)

	_, ok, _ = store.SessionToken(ctx)
	assert.False(t, ok)
}

func TestLogin_FailureWithoutPreviousLeavesNothingActive(t *testing.T) {
	ts := newTokenServer(t)
	ts.respond = func(_ int32, w http.ResponseWriter) { w.WriteHeader(http.StatusInternalServerError) }
	src, store, _ := newSource(t, clockwork.NewFakeClock())

	err := src.Login(context.Background(), models.ServiceAccount{ClientEmail: "a@x", PrivateKey: pkcs8PEM(t), TokenURI: ts.URL})
	require.ErrorIs(t, err, common.ErrCredentialExchangeFailed)
	assert.False(t, store.HasActiveCredential())
}

func TestLogin_InvalidCredentialMakesNoRequest(t *testing.T) {
	ts := newTokenServer(t)
	src, store, _ := newSource(t, clockwork.NewFakeClock(), WithTokenURI(ts.URL))

	err := src.Login(context.Background(), models.ServiceAccount{ClientEmail: "a@x"})
	require.ErrorIs(t, err, common.ErrCredentialExchangeFailed)
	require.ErrorIs(t, err, models.ErrIncompleteCredential)
	assert.Equal(t, int32(0), ts.calls.Load())
	assert.False(t, store.HasActiveCredential())
}

func TestLogin_BadPEM(t *testing.T) {
	ts := newTokenServer(t)
	src, _, _ := newSource(t, clockwork.NewFakeClock(), WithTokenURI(ts.URL))

	err := src.Login(context.Background(), models.ServiceAccount{ClientEmail: "a@x", PrivateKey: "not a pem"})
	require.ErrorIs(t, err, common.ErrCredentialExchangeFailed)
	assert.Equal(t, int32(0), ts.calls.Load())
}

func TestRefresh_NetworkFailure(t *testing.T) {
	ts := newTokenServer(t)
	url := ts.URL
	ts.Close()

	src, store, _ := newSource(t, clockwork.NewFakeClock(), WithTokenURI(url))
	store.SetActiveCredential(models.ServiceAccount{ClientEmail: "a@x", PrivateKey: pkcs8PEM(t)})

	assert.ErrorIs(t, src.Refresh(context.Background()), common.ErrCredentialExchangeFailed)
}

func TestRefresh_NoAccessTokenInResponse(t *testing.T) {
	ts := newTokenServer(t)
	ts.respond = func(_ int32, w http.ResponseWriter) { _, _ = w.Write([]byte(`{"token_type":"Bearer"}`)) }
	src, store, _ := newSource(t, clockwork.NewFakeClock(), WithTokenURI(ts.URL))
	store.SetActiveCredential(models.ServiceAccount{ClientEmail: "a@x", PrivateKey: pkcs8PEM(t)})

	assert.ErrorIs(t, src.Refresh(context.Background()), common.ErrCredentialExchangeFailed)
}

func TestRefresh_RejectedWhenDirectPathOwnsSession(t *testing.T) {
	ts := newTokenServer(t)
	src, store, _ := newSource(t, clockwork.NewFakeClock(), WithTokenURI(ts.URL))
	ctx := context.Background()

	require.NoError(t, store.SetSessionToken(ctx, models.AccessToken{Value: "direct", Source: models.TokenSourceDirect}))
	store.SetActiveCredential(models.ServiceAccount{ClientEmail: "a@x", PrivateKey: pkcs8PEM(t)})

	err := src.Refresh(ctx)
	require.ErrorIs(t, err, common.ErrCredentialExchangeFailed)
	require.ErrorIs(t, err, credstore.ErrSourceConflict)

	tok, _, _ := store.SessionToken(ctx)
	assert.Equal(t, "direct", tok.Value)
}

func TestRefresh_DroppedWhenSessionClearedMidExchange(t *testing.T) {
	ts := newTokenServer(t)
	release := make(chan struct{})
	ts.respond = func(n int32, w http.ResponseWriter) {
		<-release
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "late", "expires_in": 3600})
	}
	src, store, _ := newSource(t, clockwork.NewFakeClock(), WithTokenURI(ts.URL))
	ctx := context.Background()
	store.SetActiveCredential(models.ServiceAccount{ClientEmail: "a@x", PrivateKey: pkcs8PEM(t)})

	done := make(chan error, 1)
	go func() { done <- src.Refresh(ctx) }()

	require.Eventually(t, func() bool { return ts.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, store.Logout(ctx))
	close(release)

	err := <-done
	require.ErrorIs(t, err, common.ErrCredentialExchangeFailed)
	require.ErrorIs(t, err, credstore.ErrSessionCleared)

	_, ok, err := store.SessionToken(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, store.HasActiveCredential())

	require.NoError(t, store.SetSessionToken(ctx, models.AccessToken{Value: "direct", Source: models.TokenSourceDirect}))
}

func TestToken_ProactiveRefresh(t *testing.T) {
	ts := newTokenServer(t)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	src, _, _ := newSource(t, clock, WithTokenURI(ts.URL))
	ctx := context.Background()

	require.NoError(t, src.Login(ctx, models.ServiceAccount{ClientEmail: "a@x", PrivateKey: pkcs8PEM(t)}))

	tok, err := src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int32(1), ts.calls.Load())

	clock.Advance(58 * time.Minute)
	tok, err = src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	clock.Advance(time.Minute + time.Second)
	tok, err = src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, int32(2), ts.calls.Load())
}

func TestRefresh_ExpiryIsMonotonic(t *testing.T) {
	ts := newTokenServer(t)
	ts.respond = func(n int32, w http.ResponseWriter) {
		expiresIn := 3600
		if n > 1 {
			expiresIn = 10
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "t", "expires_in": expiresIn})
	}
	clock := clockwork.NewFakeClock()
	src, store, _ := newSource(t, clock, WithTokenURI(ts.URL))
	ctx := context.Background()
	store.SetActiveCredential(models.ServiceAccount{ClientEmail: "a@x", PrivateKey: pkcs8PEM(t)})

	var prev time.Time
	for i := 0; i < 3; i++ {
		require.NoError(t, src.Refresh(ctx))
		tok, _, err := store.SessionToken(ctx)
		require.NoError(t, err)
		assert.False(t, tok.ExpiresAt.Before(prev), "expiry went backwards on call %d", i)
		prev = tok.ExpiresAt
		clock.Advance(time.Second)
	}
}

func TestToken_DirectTokenReturnedAsIs(t *testing.T) {
	ts := newTokenServer(t)
	clock := clockwork.NewFakeClock()
	src, store, _ := newSource(t, clock, WithTokenURI(ts.URL))
	ctx := context.Background()

	require.NoError(t, store.SetSessionToken(ctx, models.AccessToken{
		Value: "direct", Source: models.TokenSourceDirect, ExpiresAt: clock.Now().Add(-time.Hour),
	}))

	tok, err := src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "direct", tok)
	assert.Equal(t, int32(0), ts.calls.Load())
}

func TestToken_NothingAvailable(t *testing.T) {
	src, _, _ := newSource(t, clockwork.NewFakeClock())
	_, err := src.Token(context.Background())
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestToken_RestoresCredentialFromSession(t *testing.T) {
	ts := newTokenServer(t)
	clock := clockwork.NewFakeClock()
	_, first, session := newSource(t, clock)
	ctx := context.Background()
	require.NoError(t, first.SetSessionCredential(ctx, models.ServiceAccount{ClientEmail: "a@x", PrivateKey: pkcs8PEM(t)}))

	// rebuilt store and source share only the session tier
	store := credstore.New(session, kv.NewMemoryRepository(), nil)
	src := New(store, WithClock(clock), WithTokenURI(ts.URL))

	tok, err := src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.True(t, store.HasActiveCredential())
}
