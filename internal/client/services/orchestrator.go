package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dmitrijs2005/clinicdesk/internal/client/client"
	"github.com/dmitrijs2005/clinicdesk/internal/client/models"
	"github.com/dmitrijs2005/clinicdesk/internal/common"
	"github.com/dmitrijs2005/clinicdesk/internal/cryptox"
	"github.com/dmitrijs2005/clinicdesk/internal/logging"
	"github.com/dmitrijs2005/clinicdesk/internal/metrics"
)

// CredentialStore is the part of credstore.Store the orchestrator uses.
type CredentialStore interface {
	SetSessionToken(ctx context.Context, tok models.AccessToken) error
	SessionToken(ctx context.Context) (models.AccessToken, bool, error)
	SessionSource(ctx context.Context) (models.TokenSource, error)
	SetSessionCredential(ctx context.Context, sa models.ServiceAccount) error
	SetSessionUser(ctx context.Context, uid string) error
	SessionUser(ctx context.Context) (string, bool, error)
	ClearSession(ctx context.Context) error
	Logout(ctx context.Context) error
	PutEncrypted(ctx context.Context, uid string, blob *cryptox.Blob) error
	GetEncrypted(ctx context.Context, uid string) (*cryptox.Blob, bool, error)
	HasEncrypted(ctx context.Context, uid string) (bool, error)
	RemoveEncrypted(ctx context.Context, uid string) error
	SetSpreadsheetID(ctx context.Context, uid, id string) error
	SpreadsheetID(ctx context.Context, uid string) (string, bool, error)
	RestoreActive(ctx context.Context) (bool, error)
}

// TokenSource activates a service-account credential.
type TokenSource interface {
	Login(ctx context.Context, sa models.ServiceAccount) error
}

// RecordStore lists and creates spreadsheets.
type RecordStore interface {
	ListSpreadsheets(ctx context.Context) ([]models.Spreadsheet, error)
	CreateSpreadsheet(ctx context.Context, title string) (models.Spreadsheet, error)
}

// Deps are the collaborators of an Orchestrator. Consent, Sink, Log and
// Metrics may be nil.
type Deps struct {
	Identity client.IdentityProvider
	Backend  client.CredentialBackend
	Consent  client.ConsentFlow
	Store    CredentialStore
	Tokens   TokenSource
	Records  RecordStore
	Sink     EventSink
	Log      logging.Logger
	Metrics  *metrics.Metrics
}

type Orchestrator struct {
	identity client.IdentityProvider
	backend  client.CredentialBackend
	consent  client.ConsentFlow
	store    CredentialStore
	tokens   TokenSource
	records  RecordStore
	sink     EventSink
	log      logging.Logger
	metrics  *metrics.Metrics

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu           sync.Mutex
	step         Step
	gen          uint64
	inflight     int
	path         Path
	uid          string
	assertion    models.Assertion
	pending      *models.ServiceAccount
	sheets       []models.Spreadsheet
	defaultSheet string
	sheetID      string
	restoreDone  chan struct{}
	markRestored func()
}

func NewOrchestrator(d Deps) *Orchestrator {
	if d.Log == nil {
		d.Log = logging.Discard()
	}
	if d.Sink == nil {
		d.Sink = EventSinkFunc(func(Event) {})
	}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	close(done)

	return &Orchestrator{
		identity:     d.Identity,
		backend:      d.Backend,
		consent:      d.Consent,
		store:        d.Store,
		tokens:       d.Tokens,
		records:      d.Records,
		sink:         d.Sink,
		log:          d.Log.With("component", "orchestrator"),
		metrics:      d.Metrics,
		baseCtx:      ctx,
		cancel:       cancel,
		step:         StepLogin,
		restoreDone:  done,
		markRestored: func() {},
	}
}

// Close stops background work and waits for it.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

// Wait blocks until background spreadsheet fetches have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		Step:                 o.step,
		Generation:           o.gen,
		Path:                 o.path,
		UserID:               o.uid,
		Email:                o.assertion.Email,
		InFlight:             o.inflight,
		Spreadsheets:         slices.Clone(o.sheets),
		DefaultSpreadsheetID: o.defaultSheet,
		SpreadsheetID:        o.sheetID,
	}
}

// begin admits an operation if the current step is one of allowed. When
// enter is set the orchestrator moves there before the operation runs.
func (o *Orchestrator) begin(op string, allowed []Step, enter Step) (ticket, error) {
	o.mu.Lock()
	if !slices.Contains(allowed, o.step) {
		step := o.step
		o.mu.Unlock()
		return ticket{}, fmt.Errorf("%w: %s in %s", common.ErrWrongStep, op, step)
	}

	var e effects
	if enter != "" {
		o.setStepLocked(&e, enter)
	}
	o.inflight++
	t := ticket{gen: o.gen, step: o.step, uid: o.uid}
	o.mu.Unlock()

	o.publish(e.events)
	return t, nil
}

// finish applies a completed operation if its ticket is still current.
// With cleanup set, a stale result that may already have written identity
// or session state is undone, provided the user is back at login and
// nothing newer is running.
func (o *Orchestrator) finish(ctx context.Context, t ticket, op string, cleanup bool, apply func(*effects)) bool {
	o.mu.Lock()
	o.inflight--

	if !o.currentLocked(t) {
		undo := cleanup && o.step == StepLogin && o.inflight == 0
		o.mu.Unlock()
		if undo {
			o.teardown(ctx)
		}
		o.metrics.RecordStale(op)
		o.log.Debug(ctx, "discarded stale result", "op", op)
		return false
	}

	var e effects
	apply(&e)
	o.mu.Unlock()

	if e.teardown {
		o.teardown(ctx)
	}
	o.publish(e.events)
	return true
}

// fail applies err to a current ticket and moves back to the given step.
func (o *Orchestrator) fail(ctx context.Context, t ticket, op string, back Step, err error) error {
	if !o.finish(ctx, t, op, false, func(e *effects) { o.failLocked(e, back, err) }) {
		return ErrStale
	}
	return err
}

func (o *Orchestrator) currentLocked(t ticket) bool {
	return t.gen == o.gen && t.step == o.step
}

func (o *Orchestrator) current(t ticket) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentLocked(t)
}

func (o *Orchestrator) publish(events []Event) {
	for _, ev := range events {
		o.sink.Publish(ev)
	}
}

func (o *Orchestrator) setStepLocked(e *effects, s Step) {
	if o.step == s {
		return
	}
	o.step = s
	o.metrics.RecordStep(string(s))
	e.emit(Event{Kind: EventStepChanged, Step: s})
}

func (o *Orchestrator) failLocked(e *effects, back Step, err error) {
	o.setStepLocked(e, back)
	e.emit(Event{Kind: EventError, Step: o.step, Err: err})
}

// resetLocked returns to login and invalidates every outstanding ticket.
func (o *Orchestrator) resetLocked(e *effects) {
	o.gen++
	o.path = PathNone
	o.uid = ""
	o.assertion = models.Assertion{}
	o.pending = nil
	o.sheets = nil
	o.defaultSheet = ""
	o.sheetID = ""
	o.markRestored()
	o.setStepLocked(e, StepLogin)
}

// signedOutLocked reports whether there is nothing left for a sign-out to
// invalidate.
func (o *Orchestrator) signedOutLocked() bool {
	return o.step == StepLogin && o.inflight == 0 && o.path == PathNone && o.uid == ""
}

// teardown ends the identity and session state outside the lock.
func (o *Orchestrator) teardown(ctx context.Context) {
	if o.identity != nil {
		if err := o.identity.SignOut(ctx); err != nil {
			o.log.Warn(ctx, "identity sign-out failed", "error", err)
		}
	}
	if o.consent != nil {
		o.consent.Forget()
	}
	if err := o.store.Logout(ctx); err != nil {
		o.log.Warn(ctx, "session logout failed", "error", err)
	}
}

// SignOut returns to login from any step. The durable encrypted credential
// is kept. Calling it again has no further effect.
func (o *Orchestrator) SignOut(ctx context.Context) error {
	o.mu.Lock()
	var e effects
	if !o.signedOutLocked() {
		o.resetLocked(&e)
	}
	o.mu.Unlock()

	o.teardown(ctx)
	o.publish(e.events)
	o.log.Info(ctx, "signed out")
	return nil
}

// enterSpreadsheetSetupLocked moves to spreadsheet_setup and starts the
// background spreadsheet fetch under a fresh ticket.
func (o *Orchestrator) enterSpreadsheetSetupLocked(e *effects) {
	o.setStepLocked(e, StepSpreadsheetSetup)
	o.inflight++
	t := ticket{gen: o.gen, step: o.step, uid: o.uid}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_, _ = o.fetch(o.baseCtx, t)
	}()
}

func (o *Orchestrator) restored() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.restoreDone
}

// routeUnauthorizedLocked sends the user back to PIN entry when a durable
// blob exists, or signs out completely otherwise.
func (o *Orchestrator) routeUnauthorizedLocked(e *effects, hasBlob bool, err error) {
	if hasBlob {
		o.failLocked(e, StepPinCheck, err)
		return
	}
	o.resetLocked(e)
	e.teardown = true
	e.emit(Event{Kind: EventError, Step: StepLogin, Err: err})
}

func (o *Orchestrator) hasBlob(ctx context.Context, uid string) bool {
	if uid == "" {
		return false
	}
	has, err := o.store.HasEncrypted(ctx, uid)
	if err != nil {
		o.log.Warn(ctx, "failed to check stored credential", "user_id", uid, "error", err)
		return false
	}
	return has
}

func isUnauthorized(err error) bool {
	return errors.Is(err, common.ErrUnauthorized)
}
