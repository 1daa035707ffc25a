package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/clinicdesk/internal/client/client"
	"github.com/dmitrijs2005/clinicdesk/internal/client/models"
	"github.com/dmitrijs2005/clinicdesk/internal/common"
	"github.com/dmitrijs2005/clinicdesk/internal/cryptox"
)

// SetupPIN encrypts the credential fetched at login under pin, stores it
// durably and activates it.
func (o *Orchestrator) SetupPIN(ctx context.Context, pin string) error {
	const op = "pin_setup"

	if pin == "" {
		return ErrEmptyPIN
	}

	t, err := o.begin(op, []Step{StepPinSetup}, StepLoading)
	if err != nil {
		return err
	}

	o.mu.Lock()
	pending := o.pending
	o.mu.Unlock()
	if pending == nil {
		return o.abort(ctx, t, op, client.ErrNotSignedIn)
	}

	key := []byte(pin)
	defer common.WipeByteArray(key)

	blob, err := cryptox.Encrypt(*pending, key)
	if err != nil {
		return o.fail(ctx, t, op, StepPinSetup, fmt.Errorf("failed to encrypt credential: %w", err))
	}

	if !o.current(t) {
		o.finish(ctx, t, op, false, func(*effects) {})
		return ErrStale
	}

	if err := o.store.PutEncrypted(ctx, t.uid, blob); err != nil {
		return o.fail(ctx, t, op, StepPinSetup, err)
	}

	return o.activate(ctx, t, op, StepPinSetup, *pending)
}

// CheckPIN decrypts the stored credential with pin and activates it. A wrong
// PIN leaves the orchestrator in pin_check.
func (o *Orchestrator) CheckPIN(ctx context.Context, pin string) error {
	const op = "pin_check"

	if pin == "" {
		return ErrEmptyPIN
	}

	t, err := o.begin(op, []Step{StepPinCheck}, StepLoading)
	if err != nil {
		return err
	}

	blob, ok, err := o.store.GetEncrypted(ctx, t.uid)
	if err != nil {
		return o.fail(ctx, t, op, StepPinCheck, err)
	}
	if !ok {
		o.log.Warn(ctx, "stored credential missing, fetching a new one", "user_id", t.uid)
		return o.refetch(ctx, t, op)
	}

	key := []byte(pin)
	defer common.WipeByteArray(key)

	var sa models.ServiceAccount
	if err := cryptox.Decrypt(blob, key, &sa); err != nil {
		return o.fail(ctx, t, op, StepPinCheck, common.ErrIncorrectPin)
	}
	if err := sa.Validate(); err != nil {
		return o.fail(ctx, t, op, StepPinCheck, err)
	}

	return o.activate(ctx, t, op, StepPinCheck, sa)
}

// ResetPIN forgets the stored credential and fetches a fresh one so a new
// PIN can be chosen. Without a live staff sign-in it signs out instead.
func (o *Orchestrator) ResetPIN(ctx context.Context) error {
	const op = "reset_pin"

	t, err := o.begin(op, []Step{StepPinCheck}, StepLoading)
	if err != nil {
		return err
	}

	if err := o.store.RemoveEncrypted(ctx, t.uid); err != nil {
		return o.fail(ctx, t, op, StepPinCheck, err)
	}
	o.log.Info(ctx, "stored credential removed", "user_id", t.uid)

	return o.refetch(ctx, t, op)
}

// activate hands sa to the token source and, on success, records it in the
// session tier and moves on to spreadsheet_setup.
func (o *Orchestrator) activate(ctx context.Context, t ticket, op string, back Step, sa models.ServiceAccount) error {
	if !o.current(t) {
		o.finish(ctx, t, op, false, func(*effects) {})
		return ErrStale
	}

	if err := o.tokens.Login(ctx, sa); err != nil {
		return o.fail(ctx, t, op, back, err)
	}

	ok := o.finish(ctx, t, op, true, func(e *effects) {
		if err := o.store.SetSessionCredential(ctx, sa); err != nil {
			o.log.Warn(ctx, "failed to keep credential in session", "error", err)
		}
		o.pending = nil
		o.enterSpreadsheetSetupLocked(e)
	})
	if !ok {
		return ErrStale
	}
	return nil
}

// refetch asks the backend for a new credential and moves to pin_setup.
func (o *Orchestrator) refetch(ctx context.Context, t ticket, op string) error {
	a, ok := o.liveAssertion(t.uid)
	if !ok {
		err := fmt.Errorf("%w: sign in again to set a new pin", client.ErrNotSignedIn)
		return o.abort(ctx, t, op, err)
	}

	sa, err := o.backend.FetchServiceAccount(ctx, a.IDToken)
	if err != nil {
		return o.fail(ctx, t, op, StepPinCheck, err)
	}

	ok = o.finish(ctx, t, op, false, func(e *effects) {
		o.pending = &sa
		o.setStepLocked(e, StepPinSetup)
	})
	if !ok {
		return ErrStale
	}
	return nil
}

// liveAssertion prefers the identity provider's current assertion, which is
// kept fresh in the background, over the one captured at sign-in.
func (o *Orchestrator) liveAssertion(uid string) (models.Assertion, bool) {
	if o.identity != nil {
		if a, ok := o.identity.Current(); ok && a.UserID == uid && a.IDToken != "" {
			return a, true
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.assertion.UserID == uid && o.assertion.IDToken != "" {
		return o.assertion, true
	}
	return models.Assertion{}, false
}
