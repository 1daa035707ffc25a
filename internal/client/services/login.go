package services

import (
	"context"

	"github.com/dmitrijs2005/clinicdesk/internal/client/models"
)

// StaffLogin signs a staff member in with email and password. It moves to
// pin_check when an encrypted credential is already stored for the user,
// otherwise it fetches one from the backend and moves to pin_setup.
func (o *Orchestrator) StaffLogin(ctx context.Context, email, password string) error {
	const op = "staff_login"

	t, err := o.begin(op, []Step{StepLogin}, "")
	if err != nil {
		return err
	}

	a, err := o.identity.SignIn(ctx, email, password)
	if err != nil {
		return o.fail(ctx, t, op, StepLogin, err)
	}

	has, err := o.store.HasEncrypted(ctx, a.UserID)
	if err != nil {
		return o.abort(ctx, t, op, err)
	}

	var sa models.ServiceAccount
	if !has {
		sa, err = o.backend.FetchServiceAccount(ctx, a.IDToken)
		if err != nil {
			return o.abort(ctx, t, op, err)
		}
	}

	ok := o.finish(ctx, t, op, true, func(e *effects) {
		o.path = PathStaff
		o.uid = a.UserID
		o.assertion = a
		if err := o.store.SetSessionUser(ctx, a.UserID); err != nil {
			o.log.Warn(ctx, "failed to record session user", "error", err)
		}
		if has {
			o.setStepLocked(e, StepPinCheck)
			return
		}
		o.pending = &sa
		o.setStepLocked(e, StepPinSetup)
	})
	if !ok {
		return ErrStale
	}

	o.log.Info(ctx, "staff signed in", "user_id", a.UserID, "has_stored_credential", has)
	return nil
}

// abort fails a login that got as far as signing in with the identity
// provider, so that sign-in is undone too.
func (o *Orchestrator) abort(ctx context.Context, t ticket, op string, err error) error {
	ok := o.finish(ctx, t, op, true, func(e *effects) {
		o.resetLocked(e)
		e.teardown = true
		e.emit(Event{Kind: EventError, Step: StepLogin, Err: err})
	})
	if !ok {
		return ErrStale
	}
	return err
}

// AdminConsentURL returns the URL the privileged user opens to grant access.
func (o *Orchestrator) AdminConsentURL() (string, error) {
	if o.consent == nil {
		return "", ErrConsentUnavailable
	}
	return o.consent.AuthCodeURL()
}

// AdminLogin completes the privileged path with the redirect URL or code
// pasted back from the browser. It skips the PIN steps.
func (o *Orchestrator) AdminLogin(ctx context.Context, input string) error {
	const op = "admin_login"

	if o.consent == nil {
		return ErrConsentUnavailable
	}

	t, err := o.begin(op, []Step{StepLogin}, "")
	if err != nil {
		return err
	}

	tok, err := o.consent.Exchange(ctx, input)
	if err != nil {
		return o.fail(ctx, t, op, StepLogin, err)
	}

	var applyErr error
	ok := o.finish(ctx, t, op, true, func(e *effects) {
		if applyErr = o.store.SetSessionToken(ctx, tok); applyErr != nil {
			o.failLocked(e, StepLogin, applyErr)
			return
		}
		o.path = PathAdmin
		o.uid = models.AdminUserID
		if err := o.store.SetSessionUser(ctx, models.AdminUserID); err != nil {
			o.log.Warn(ctx, "failed to record session user", "error", err)
		}
		o.enterSpreadsheetSetupLocked(e)
	})
	if !ok {
		return ErrStale
	}
	if applyErr != nil {
		return applyErr
	}

	o.log.Info(ctx, "admin signed in")
	return nil
}
