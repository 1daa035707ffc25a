package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/clinicdesk/internal/client/client"
	"github.com/dmitrijs2005/clinicdesk/internal/client/credstore"
	"github.com/dmitrijs2005/clinicdesk/internal/client/models"
	"github.com/dmitrijs2005/clinicdesk/internal/client/repositories/kv"
	"github.com/dmitrijs2005/clinicdesk/internal/common"
	"github.com/dmitrijs2005/clinicdesk/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	timeout = 2 * time.Second
	tick    = 10 * time.Millisecond
)

var testSA = models.ServiceAccount{ClientEmail: "svc@clinic.iam", PrivateKey: "<pem>", PrivateKeyID: "kid1"}

type fakeIdentity struct {
	mu       sync.Mutex
	err      error
	gate     chan struct{}
	current  *models.Assertion
	signOuts int
	events   chan models.TokenEvent
}

func (f *fakeIdentity) SignIn(ctx context.Context, email, password string) (models.Assertion, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return models.Assertion{}, f.err
	}
	if password != "secret" {
		return models.Assertion{}, common.ErrInvalidCredentials
	}
	a := models.Assertion{IDToken: "id-1", UserID: "uid-1", Email: email}
	f.mu.Lock()
	f.current = &a
	f.mu.Unlock()
	return a, nil
}

func (f *fakeIdentity) Refresh(ctx context.Context) (models.Assertion, error) {
	return models.Assertion{}, client.ErrNotSignedIn
}

func (f *fakeIdentity) Current() (models.Assertion, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return models.Assertion{}, false
	}
	return *f.current, true
}

func (f *fakeIdentity) Subscribe() <-chan models.TokenEvent {
	if f.events == nil {
		f.events = make(chan models.TokenEvent)
	}
	return f.events
}

func (f *fakeIdentity) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = nil
	f.signOuts++
	return nil
}

func (f *fakeIdentity) SignOuts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOuts
}

type fakeBackend struct {
	err   error
	sa    models.ServiceAccount
	calls int
}

func (f *fakeBackend) FetchServiceAccount(ctx context.Context, idToken string) (models.ServiceAccount, error) {
	f.calls++
	if f.err != nil {
		return models.ServiceAccount{}, f.err
	}
	if !f.sa.IsZero() {
		return f.sa, nil
	}
	return testSA, nil
}

type fakeConsent struct {
	forgets int
}

func (f *fakeConsent) AuthCodeURL() (string, error) {
	return "https://accounts.example/auth?state=s1", nil
}

func (f *fakeConsent) Exchange(ctx context.Context, input string) (models.AccessToken, error) {
	if input != "good-code" {
		return models.AccessToken{}, common.ErrInvalidCredentials
	}
	return models.AccessToken{Value: "direct-1", Source: models.TokenSourceDirect}, nil
}

func (f *fakeConsent) Subscribe() <-chan models.TokenEvent { return nil }

func (f *fakeConsent) Forget() { f.forgets++ }

// fakeTokens behaves like the token source: it activates the credential and
// writes a service-account token to the session tier.
type fakeTokens struct {
	store *credstore.Store
	err   error
}

func (f *fakeTokens) Login(ctx context.Context, sa models.ServiceAccount) error {
	if f.err != nil {
		return f.err
	}
	f.store.SetActiveCredential(sa)
	return f.store.SetSessionToken(ctx, models.AccessToken{Value: "sa-token", Source: models.TokenSourceServiceAccount})
}

type fakeRecords struct {
	mu      sync.Mutex
	gate    chan struct{}
	listErr error
	sheets  []models.Spreadsheet
}

func (f *fakeRecords) ListSpreadsheets(ctx context.Context) ([]models.Spreadsheet, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.sheets, nil
}

func (f *fakeRecords) CreateSpreadsheet(ctx context.Context, title string) (models.Spreadsheet, error) {
	return models.Spreadsheet{ID: "new-1", Name: title}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []error
	for _, e := range r.events {
		if e.Kind == EventError {
			out = append(out, e.Err)
		}
	}
	return out
}

func (r *recorder) steps() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Step
	for _, e := range r.events {
		if e.Kind == EventStepChanged {
			out = append(out, e.Step)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type harness struct {
	orch     *Orchestrator
	identity *fakeIdentity
	backend  *fakeBackend
	consent  *fakeConsent
	tokens   *fakeTokens
	records  *fakeRecords
	store    *credstore.Store
	session  *kv.MemoryRepository
	durable  *kv.MemoryRepository
	events   *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	session, durable := kv.NewMemoryRepository(), kv.NewMemoryRepository()
	return newHarnessWith(t, session, durable)
}

func newHarnessWith(t *testing.T, session, durable *kv.MemoryRepository) *harness {
	t.Helper()
	store := credstore.New(session, durable, logging.Discard())
	h := &harness{
		identity: &fakeIdentity{},
		backend:  &fakeBackend{},
		consent:  &fakeConsent{},
		tokens:   &fakeTokens{store: store},
		records:  &fakeRecords{sheets: []models.Spreadsheet{{ID: "s1", Name: "Patients"}}},
		store:    store,
		session:  session,
		durable:  durable,
		events:   &recorder{},
	}
	h.orch = NewOrchestrator(Deps{
		Identity: h.identity,
		Backend:  h.backend,
		Consent:  h.consent,
		Store:    store,
		Tokens:   h.tokens,
		Records:  h.records,
		Sink:     h.events,
	})
	t.Cleanup(h.orch.Close)
	return h
}

// staffReady signs in a new staff member and sets a PIN.
func (h *harness) staffReady(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.orch.StaffLogin(ctx, "staff@clinic.test", "secret"))
	require.NoError(t, h.orch.SetupPIN(ctx, "123456"))
	h.orch.Wait()
}

func TestStaffLogin_NewUserSetsPin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.orch.StaffLogin(ctx, "staff@clinic.test", "secret"))
	assert.Equal(t, StepPinSetup, h.orch.Snapshot().Step)
	assert.Equal(t, 1, h.backend.calls)

	require.NoError(t, h.orch.SetupPIN(ctx, "123456"))
	h.orch.Wait()

	snap := h.orch.Snapshot()
	assert.Equal(t, StepSpreadsheetSetup, snap.Step)
	assert.Equal(t, PathStaff, snap.Path)
	assert.Equal(t, "uid-1", snap.UserID)
	assert.Equal(t, "staff@clinic.test", snap.Email)
	assert.Equal(t, []models.Spreadsheet{{ID: "s1", Name: "Patients"}}, snap.Spreadsheets)
	assert.Equal(t, []Step{StepPinSetup, StepLoading, StepSpreadsheetSetup}, h.events.steps())

	has, err := h.store.HasEncrypted(ctx, "uid-1")
	require.NoError(t, err)
	assert.True(t, has)

	sa, ok, err := h.store.SessionCredential(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testSA, sa)
}

func TestStaffLogin_StoredCredentialGoesToPinCheck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.staffReady(t)
	require.NoError(t, h.orch.SignOut(ctx))
	h.backend.calls = 0

	require.NoError(t, h.orch.StaffLogin(ctx, "staff@clinic.test", "secret"))
	assert.Equal(t, StepPinCheck, h.orch.Snapshot().Step)
	assert.Zero(t, h.backend.calls)
}

func TestStaffLogin_InvalidCredentials(t *testing.T) {
	h := newHarness(t)

	err := h.orch.StaffLogin(context.Background(), "staff@clinic.test", "wrong")
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
	assert.Equal(t, StepLogin, h.orch.Snapshot().Step)
	require.Len(t, h.events.errors(), 1)
	assert.ErrorIs(t, h.events.errors()[0], common.ErrInvalidCredentials)
}

func TestStaffLogin_BackendFailureSignsOut(t *testing.T) {
	h := newHarness(t)
	h.backend.err = common.ErrCredentialFetchFailed

	err := h.orch.StaffLogin(context.Background(), "staff@clinic.test", "secret")
	require.ErrorIs(t, err, common.ErrCredentialFetchFailed)

	snap := h.orch.Snapshot()
	assert.Equal(t, StepLogin, snap.Step)
	assert.Empty(t, snap.UserID)
	assert.Equal(t, 1, h.identity.SignOuts())
}

func TestCheckPIN(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.staffReady(t)
	require.NoError(t, h.orch.SignOut(ctx))
	require.NoError(t, h.orch.StaffLogin(ctx, "staff@clinic.test", "secret"))
	h.events.reset()

	err := h.orch.CheckPIN(ctx, "654321")
	require.ErrorIs(t, err, common.ErrIncorrectPin)
	assert.Equal(t, StepPinCheck, h.orch.Snapshot().Step)
	require.Len(t, h.events.errors(), 1)
	assert.ErrorIs(t, h.events.errors()[0], common.ErrIncorrectPin)

	_, ok, err := h.store.SessionToken(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, h.orch.CheckPIN(ctx, "123456"))
	h.orch.Wait()
	assert.Equal(t, StepSpreadsheetSetup, h.orch.Snapshot().Step)

	tok, ok, err := h.store.SessionToken(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sa-token", tok.Value)
}

func TestCheckPIN_TokenExchangeFailureStaysInPinCheck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.staffReady(t)
	require.NoError(t, h.orch.SignOut(ctx))
	require.NoError(t, h.orch.StaffLogin(ctx, "staff@clinic.test", "secret"))

	h.tokens.err = common.ErrCredentialExchangeFailed
	err := h.orch.CheckPIN(ctx, "123456")
	require.ErrorIs(t, err, common.ErrCredentialExchangeFailed)
	assert.Equal(t, StepPinCheck, h.orch.Snapshot().Step)
}

func TestCheckPIN_MissingBlobFetchesNewCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.staffReady(t)
	require.NoError(t, h.orch.SignOut(ctx))
	require.NoError(t, h.orch.StaffLogin(ctx, "staff@clinic.test", "secret"))

	require.NoError(t, h.store.RemoveEncrypted(ctx, "uid-1"))
	h.backend.calls = 0

	require.NoError(t, h.orch.CheckPIN(ctx, "123456"))
	assert.Equal(t, StepPinSetup, h.orch.Snapshot().Step)
	assert.Equal(t, 1, h.backend.calls)
}

func TestResetPIN(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.staffReady(t)
	require.NoError(t, h.orch.SignOut(ctx))
	require.NoError(t, h.orch.StaffLogin(ctx, "staff@clinic.test", "secret"))

	require.NoError(t, h.orch.ResetPIN(ctx))
	assert.Equal(t, StepPinSetup, h.orch.Snapshot().Step)

	has, err := h.store.HasEncrypted(ctx, "uid-1")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, h.orch.SetupPIN(ctx, "999999"))
	h.orch.Wait()
	assert.Equal(t, StepSpreadsheetSetup, h.orch.Snapshot().Step)
}

func TestResetPIN_WithoutSignInReturnsToLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.staffReady(t)
	require.NoError(t, h.orch.SignOut(ctx))
	require.NoError(t, h.orch.StaffLogin(ctx, "staff@clinic.test", "secret"))
	require.NoError(t, h.identity.SignOut(ctx))

	h.orch.mu.Lock()
	h.orch.assertion = models.Assertion{}
	h.orch.mu.Unlock()

	err := h.orch.ResetPIN(ctx)
	require.ErrorIs(t, err, client.ErrNotSignedIn)
	assert.Equal(t, StepLogin, h.orch.Snapshot().Step)
}

func TestSignOut_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.staffReady(t)
	h.events.reset()

	require.NoError(t, h.orch.SignOut(ctx))
	first := h.orch.Snapshot()
	require.NoError(t, h.orch.SignOut(ctx))
	second := h.orch.Snapshot()

	assert.Equal(t, first, second)
	assert.Equal(t, StepLogin, second.Step)
	assert.Empty(t, second.UserID)
	assert.Equal(t, PathNone, second.Path)
	assert.Equal(t, []Step{StepLogin}, h.events.steps())
	assert.Empty(t, h.events.errors())

	_, ok, err := h.store.SessionToken(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	has, err := h.store.HasEncrypted(ctx, "uid-1")
	require.NoError(t, err)
	assert.True(t, has, "durable credential must survive sign-out")
}

func TestStaleFetch_DiscardedAfterSignOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.records.gate = make(chan struct{})
	h.records.listErr = errors.New("backend exploded")

	require.NoError(t, h.orch.AdminLogin(ctx, "good-code"))
	assert.Equal(t, StepSpreadsheetSetup, h.orch.Snapshot().Step)

	require.NoError(t, h.orch.SignOut(ctx))
	h.events.reset()

	close(h.records.gate)
	h.orch.Wait()

	assert.Empty(t, h.events.errors())
	assert.Empty(t, h.events.steps())
	assert.Equal(t, StepLogin, h.orch.Snapshot().Step)
}

func TestStaleLogin_UndoesIdentitySignIn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.identity.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.orch.StaffLogin(ctx, "staff@clinic.test", "secret") }()

	require.Eventually(t, func() bool { return h.orch.Snapshot().InFlight == 1 }, timeout, tick)
	require.NoError(t, h.orch.SignOut(ctx))
	signOuts := h.identity.SignOuts()

	close(h.identity.gate)
	require.ErrorIs(t, <-done, ErrStale)

	assert.Equal(t, StepLogin, h.orch.Snapshot().Step)
	assert.Empty(t, h.orch.Snapshot().UserID)
	assert.Greater(t, h.identity.SignOuts(), signOuts)
	_, ok := h.identity.Current()
	assert.False(t, ok)
}

func TestUnauthorizedFetch_RoutesToPinCheck(t *testing.T) {
	h := newHarness(t)
	h.records.listErr = common.ErrUnauthorized
	h.staffReady(t)

	assert.Equal(t, StepPinCheck, h.orch.Snapshot().Step)
	require.Len(t, h.events.errors(), 1)
	assert.ErrorIs(t, h.events.errors()[0], common.ErrUnauthorized)
}

func TestUnauthorizedFetch_WithoutBlobSignsOut(t *testing.T) {
	h := newHarness(t)
	h.records.listErr = common.ErrUnauthorized

	require.NoError(t, h.orch.AdminLogin(context.Background(), "good-code"))
	h.orch.Wait()

	assert.Equal(t, StepLogin, h.orch.Snapshot().Step)
	assert.Equal(t, 1, h.consent.forgets)
}

func TestFetchError_StaysInSpreadsheetSetup(t *testing.T) {
	h := newHarness(t)
	h.records.listErr = errors.New("quota exceeded")
	h.staffReady(t)

	assert.Equal(t, StepSpreadsheetSetup, h.orch.Snapshot().Step)
	require.Len(t, h.events.errors(), 1)

	h.records.mu.Lock()
	h.records.listErr = nil
	h.records.mu.Unlock()

	sheets, err := h.orch.LoadSpreadsheets(context.Background())
	require.NoError(t, err)
	assert.Len(t, sheets, 1)
}

func TestOnExternalToken_IgnoredDuringPinSetup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.orch.StaffLogin(ctx, "staff@clinic.test", "secret"))

	ok := h.orch.OnExternalToken(ctx, models.TokenEvent{
		Kind:      models.TokenEventAssertion,
		Assertion: models.Assertion{IDToken: "id-2", UserID: "uid-1"},
	})
	assert.False(t, ok)
	assert.Equal(t, StepPinSetup, h.orch.Snapshot().Step)
}

func TestOnExternalToken_IgnoredWhileInFlight(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.records.gate = make(chan struct{})

	require.NoError(t, h.orch.StaffLogin(ctx, "staff@clinic.test", "secret"))
	require.NoError(t, h.orch.SetupPIN(ctx, "123456"))

	ev := models.TokenEvent{
		Kind:      models.TokenEventAssertion,
		Assertion: models.Assertion{IDToken: "id-2", UserID: "uid-1"},
	}
	assert.False(t, h.orch.OnExternalToken(ctx, ev))

	close(h.records.gate)
	h.orch.Wait()

	assert.True(t, h.orch.OnExternalToken(ctx, ev))
	assert.False(t, h.orch.OnExternalToken(ctx, models.TokenEvent{
		Kind:      models.TokenEventAssertion,
		Assertion: models.Assertion{IDToken: "id-3", UserID: "someone-else"},
	}))
}

func TestOnExternalToken_DirectOnlyOnAdminPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.staffReady(t)

	direct := models.TokenEvent{
		Kind:  models.TokenEventDirect,
		Token: models.AccessToken{Value: "direct-2", Source: models.TokenSourceDirect},
	}
	assert.False(t, h.orch.OnExternalToken(ctx, direct))

	tok, _, err := h.store.SessionToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sa-token", tok.Value)

	require.NoError(t, h.orch.SignOut(ctx))
	require.NoError(t, h.orch.AdminLogin(ctx, "good-code"))
	h.orch.Wait()

	assert.True(t, h.orch.OnExternalToken(ctx, direct))
	tok, _, err = h.store.SessionToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "direct-2", tok.Value)
}

func TestOnExternalToken_DirectAppliedDuringFetch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.records.gate = make(chan struct{})

	require.NoError(t, h.orch.AdminLogin(ctx, "good-code"))
	require.Equal(t, 1, h.orch.Snapshot().InFlight)

	ok := h.orch.OnExternalToken(ctx, models.TokenEvent{
		Kind:  models.TokenEventDirect,
		Token: models.AccessToken{Value: "direct-2", Source: models.TokenSourceDirect},
	})
	assert.True(t, ok)

	tok, _, err := h.store.SessionToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "direct-2", tok.Value)

	close(h.records.gate)
	h.orch.Wait()
	assert.Equal(t, StepSpreadsheetSetup, h.orch.Snapshot().Step)
}

func TestWatch_AppliesEvents(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.staffReady(t)

	ch := make(chan models.TokenEvent)
	stopped := make(chan struct{})
	go func() {
		h.orch.Watch(ctx, ch)
		close(stopped)
	}()

	ch <- models.TokenEvent{
		Kind:      models.TokenEventAssertion,
		Assertion: models.Assertion{IDToken: "id-9", UserID: "uid-1", Email: "new@clinic.test"},
	}
	require.Eventually(t, func() bool { return h.orch.Snapshot().Email == "new@clinic.test" }, timeout, tick)

	close(ch)
	<-stopped
}

func TestAdminLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u, err := h.orch.AdminConsentURL()
	require.NoError(t, err)
	assert.Contains(t, u, "state=")

	require.ErrorIs(t, h.orch.AdminLogin(ctx, "bad"), common.ErrInvalidCredentials)
	assert.Equal(t, StepLogin, h.orch.Snapshot().Step)

	require.NoError(t, h.orch.AdminLogin(ctx, "good-code"))
	h.orch.Wait()

	snap := h.orch.Snapshot()
	assert.Equal(t, StepSpreadsheetSetup, snap.Step)
	assert.Equal(t, PathAdmin, snap.Path)
	assert.Equal(t, models.AdminUserID, snap.UserID)

	src, err := h.store.SessionSource(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.TokenSourceDirect, src)
}

func TestAdminLogin_NotConfigured(t *testing.T) {
	o := NewOrchestrator(Deps{Store: credstore.New(kv.NewMemoryRepository(), kv.NewMemoryRepository(), nil)})
	defer o.Close()

	_, err := o.AdminConsentURL()
	assert.ErrorIs(t, err, ErrConsentUnavailable)
	assert.ErrorIs(t, o.AdminLogin(context.Background(), "x"), ErrConsentUnavailable)
}

func TestWrongStep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.orch.SetupPIN(ctx, "123456"), common.ErrWrongStep)
	assert.ErrorIs(t, h.orch.CheckPIN(ctx, "123456"), common.ErrWrongStep)
	assert.ErrorIs(t, h.orch.SelectSpreadsheet(ctx, "s1"), common.ErrWrongStep)
	assert.ErrorIs(t, h.orch.SetupPIN(ctx, ""), ErrEmptyPIN)
	assert.Equal(t, StepLogin, h.orch.Snapshot().Step)
}

func TestSelectSpreadsheet_OfferedOnNextLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.staffReady(t)

	assert.ErrorIs(t, h.orch.SelectSpreadsheet(ctx, "  "), ErrEmptySpreadsheetID)
	require.NoError(t, h.orch.SelectSpreadsheet(ctx, "s1"))
	snap := h.orch.Snapshot()
	assert.Equal(t, StepAuthenticated, snap.Step)
	assert.Equal(t, "s1", snap.SpreadsheetID)

	require.NoError(t, h.orch.SignOut(ctx))
	require.NoError(t, h.orch.StaffLogin(ctx, "staff@clinic.test", "secret"))
	require.NoError(t, h.orch.CheckPIN(ctx, "123456"))
	h.orch.Wait()

	snap = h.orch.Snapshot()
	assert.Equal(t, StepSpreadsheetSetup, snap.Step)
	assert.Equal(t, "s1", snap.DefaultSpreadsheetID)
	assert.Empty(t, snap.SpreadsheetID)
}

func TestCreateSpreadsheet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.staffReady(t)

	s, err := h.orch.CreateSpreadsheet(ctx, "Clinic records")
	require.NoError(t, err)
	assert.Equal(t, "new-1", s.ID)

	snap := h.orch.Snapshot()
	assert.Equal(t, StepAuthenticated, snap.Step)
	assert.Equal(t, "new-1", snap.SpreadsheetID)

	id, ok, err := h.store.SpreadsheetID(ctx, "uid-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new-1", id)
}

func TestRestore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.staffReady(t)

	// A new process over the same storage.
	h2 := newHarnessWith(t, h.session, h.durable)
	restored, err := h2.orch.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, restored)
	h2.orch.Wait()

	snap := h2.orch.Snapshot()
	assert.Equal(t, StepSpreadsheetSetup, snap.Step)
	assert.Equal(t, PathStaff, snap.Path)
	assert.Equal(t, "uid-1", snap.UserID)
	assert.Len(t, snap.Spreadsheets, 1)
	assert.True(t, h2.store.HasActiveCredential())
}

func TestRestore_PinCheckWhenOnlyBlobRemains(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.staffReady(t)

	require.NoError(t, h.session.Delete(ctx, credstore.KeyServiceAccount))

	h2 := newHarnessWith(t, h.session, h.durable)
	restored, err := h2.orch.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, StepPinCheck, h2.orch.Snapshot().Step)
}

func TestRestore_NothingToRestore(t *testing.T) {
	h := newHarness(t)

	restored, err := h.orch.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Equal(t, StepLogin, h.orch.Snapshot().Step)
}
