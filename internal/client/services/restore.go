package services

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/clinicdesk/internal/client/models"
)

// Restore picks up a session left in the session tier by an earlier run of
// the process. It reports whether a user was restored. Spreadsheet fetches
// wait until it has finished.
func (o *Orchestrator) Restore(ctx context.Context) (bool, error) {
	const op = "restore"

	t, err := o.begin(op, []Step{StepLogin}, StepLoading)
	if err != nil {
		return false, err
	}

	o.mu.Lock()
	ch := make(chan struct{})
	o.restoreDone = ch
	o.markRestored = sync.OnceFunc(func() { close(ch) })
	done := o.markRestored
	o.mu.Unlock()
	defer done()

	uid, ok, err := o.store.SessionUser(ctx)
	if err != nil {
		return false, o.fail(ctx, t, op, StepLogin, err)
	}
	if !ok {
		o.finish(ctx, t, op, false, func(e *effects) { o.setStepLocked(e, StepLogin) })
		return false, nil
	}

	src, err := o.store.SessionSource(ctx)
	if err != nil {
		return false, o.fail(ctx, t, op, StepLogin, err)
	}

	var (
		next Step
		path Path
	)
	switch src {
	case models.TokenSourceDirect:
		if _, held, err := o.store.SessionToken(ctx); err == nil && held {
			next, path = StepSpreadsheetSetup, PathAdmin
		}
	default:
		held, err := o.store.RestoreActive(ctx)
		if err != nil {
			o.log.Warn(ctx, "failed to restore session credential", "error", err)
		}
		switch {
		case held:
			next, path = StepSpreadsheetSetup, PathStaff
		case o.hasBlob(ctx, uid):
			next, path = StepPinCheck, PathStaff
		}
	}

	if next == "" {
		o.finish(ctx, t, op, false, func(e *effects) {
			if err := o.store.ClearSession(ctx); err != nil {
				o.log.Warn(ctx, "failed to clear unusable session", "error", err)
			}
			o.setStepLocked(e, StepLogin)
		})
		return false, nil
	}

	ok = o.finish(ctx, t, op, false, func(e *effects) {
		o.uid = uid
		o.path = path
		if next == StepSpreadsheetSetup {
			o.enterSpreadsheetSetupLocked(e)
			return
		}
		o.setStepLocked(e, next)
	})
	if !ok {
		return false, ErrStale
	}

	o.log.Info(ctx, "session restored", "user_id", uid, "step", string(next))
	return true, nil
}
