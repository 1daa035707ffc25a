package services

import (
	"context"

	"github.com/dmitrijs2005/clinicdesk/internal/client/models"
)

// OnExternalToken applies a token refreshed in the background. It is
// ignored during login, the PIN steps and loading. An assertion is only taken
// for the signed-in staff member and never while an operation is in flight;
// a direct token only on the privileged path, where it is applied even while
// the spreadsheet fetch is running.
func (o *Orchestrator) OnExternalToken(ctx context.Context, ev models.TokenEvent) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	busy := o.inflight > 0 && ev.Kind != models.TokenEventDirect
	switch {
	case busy,
		o.step == StepLogin,
		o.step == StepLoading,
		o.step == StepPinCheck,
		o.step == StepPinSetup:
		o.log.Debug(ctx, "ignored external token", "kind", ev.Kind.String(), "step", string(o.step), "in_flight", o.inflight)
		return false
	}

	switch ev.Kind {
	case models.TokenEventAssertion:
		if o.path != PathStaff || ev.Assertion.UserID != o.uid {
			return false
		}
		o.assertion = ev.Assertion
		return true

	case models.TokenEventDirect:
		if o.path != PathAdmin {
			return false
		}
		if err := o.store.SetSessionToken(ctx, ev.Token); err != nil {
			o.log.Warn(ctx, "failed to store refreshed token", "error", err)
			return false
		}
		return true
	}
	return false
}

// Watch feeds events from ch into OnExternalToken until ctx is done, ch
// is closed or the orchestrator is closed.
func (o *Orchestrator) Watch(ctx context.Context, ch <-chan models.TokenEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.baseCtx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			o.OnExternalToken(ctx, ev)
		}
	}
}
