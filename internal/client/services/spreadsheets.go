package services

import (
	"context"
	"slices"
	"strings"

	"github.com/dmitrijs2005/clinicdesk/internal/client/models"
)

// fetch lists spreadsheets under ticket t once any session restore has
// finished. An unauthorized outcome routes back to pin_check or signs out.
func (o *Orchestrator) fetch(ctx context.Context, t ticket) ([]models.Spreadsheet, error) {
	const op = "fetch_spreadsheets"

	select {
	case <-o.restored():
	case <-ctx.Done():
		o.finish(ctx, t, op, false, func(*effects) {})
		return nil, ctx.Err()
	}

	sheets, err := o.records.ListSpreadsheets(ctx)

	var has bool
	if isUnauthorized(err) {
		has = o.hasBlob(ctx, t.uid)
	}

	saved, _, serr := o.store.SpreadsheetID(ctx, t.uid)
	if serr != nil {
		o.log.Warn(ctx, "failed to read saved spreadsheet", "error", serr)
	}

	ok := o.finish(ctx, t, op, false, func(e *effects) {
		switch {
		case isUnauthorized(err):
			o.routeUnauthorizedLocked(e, has, err)
		case err != nil:
			e.emit(Event{Kind: EventError, Step: o.step, Err: err})
		default:
			o.sheets = sheets
			o.defaultSheet = saved
			e.emit(Event{
				Kind:                 EventSpreadsheets,
				Step:                 o.step,
				Spreadsheets:         slices.Clone(sheets),
				DefaultSpreadsheetID: saved,
			})
		}
	})
	if !ok {
		return nil, ErrStale
	}
	return sheets, err
}

// LoadSpreadsheets lists the spreadsheets visible to the current session.
func (o *Orchestrator) LoadSpreadsheets(ctx context.Context) ([]models.Spreadsheet, error) {
	t, err := o.begin("load_spreadsheets", []Step{StepSpreadsheetSetup, StepAuthenticated}, "")
	if err != nil {
		return nil, err
	}
	return o.fetch(ctx, t)
}

// SelectSpreadsheet remembers id as the user's spreadsheet and completes
// authentication.
func (o *Orchestrator) SelectSpreadsheet(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrEmptySpreadsheetID
	}

	t, err := o.begin("select_spreadsheet", []Step{StepSpreadsheetSetup, StepAuthenticated}, "")
	if err != nil {
		return err
	}

	if err := o.store.SetSpreadsheetID(ctx, t.uid, id); err != nil {
		return o.fail(ctx, t, "select_spreadsheet", t.step, err)
	}

	ok := o.finish(ctx, t, "select_spreadsheet", false, func(e *effects) {
		o.sheetID = id
		o.setStepLocked(e, StepAuthenticated)
	})
	if !ok {
		return ErrStale
	}
	return nil
}

// CreateSpreadsheet creates a spreadsheet titled title and selects it.
func (o *Orchestrator) CreateSpreadsheet(ctx context.Context, title string) (models.Spreadsheet, error) {
	const op = "create_spreadsheet"

	t, err := o.begin(op, []Step{StepSpreadsheetSetup, StepAuthenticated}, "")
	if err != nil {
		return models.Spreadsheet{}, err
	}

	s, err := o.records.CreateSpreadsheet(ctx, title)

	var has bool
	if isUnauthorized(err) {
		has = o.hasBlob(ctx, t.uid)
	}
	if err == nil {
		if serr := o.store.SetSpreadsheetID(ctx, t.uid, s.ID); serr != nil {
			o.log.Warn(ctx, "failed to save spreadsheet selection", "error", serr)
		}
	}

	ok := o.finish(ctx, t, op, false, func(e *effects) {
		switch {
		case isUnauthorized(err):
			o.routeUnauthorizedLocked(e, has, err)
		case err != nil:
			e.emit(Event{Kind: EventError, Step: o.step, Err: err})
		default:
			o.sheets = append(o.sheets, s)
			o.sheetID = s.ID
			o.setStepLocked(e, StepAuthenticated)
		}
	})
	if !ok {
		return models.Spreadsheet{}, ErrStale
	}
	return s, err
}
