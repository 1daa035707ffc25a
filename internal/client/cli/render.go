package cli

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dmitrijs2005/clinicdesk/internal/client/client"
	"github.com/dmitrijs2005/clinicdesk/internal/client/models"
	"github.com/dmitrijs2005/clinicdesk/internal/client/services"
	"github.com/dmitrijs2005/clinicdesk/internal/common"
)

// Renderer prints orchestrator events. It is safe for concurrent use since
// events arrive from background fetches as well as from the REPL.
type Renderer struct {
	mu    sync.Mutex
	w     io.Writer
	shown error
}

func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{w: w}
}

// Publish implements services.EventSink.
func (r *Renderer) Publish(ev services.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case services.EventStepChanged:
		fmt.Fprintf(r.w, "-> %s\n", ev.Step)
	case services.EventError:
		r.shown = ev.Err
		fmt.Fprintf(r.w, "! %s\n", describe(ev.Err))
	case services.EventSpreadsheets:
		r.spreadsheetsLocked(ev.Spreadsheets, ev.DefaultSpreadsheetID)
	}
}

// Error prints err unless the same error was just shown as an event.
func (r *Renderer) Error(err error) {
	if err == nil || errors.Is(err, services.ErrStale) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shown == err {
		r.shown = nil
		return
	}
	fmt.Fprintf(r.w, "! %s\n", describe(err))
}

func (r *Renderer) Printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, format, args...)
}

// Spreadsheets prints a numbered list. def is marked as the saved choice.
func (r *Renderer) Spreadsheets(sheets []models.Spreadsheet, def string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spreadsheetsLocked(sheets, def)
}

func (r *Renderer) spreadsheetsLocked(sheets []models.Spreadsheet, def string) {
	if len(sheets) == 0 {
		fmt.Fprintln(r.w, "No spreadsheets found. Use 'create <title>' to make one.")
		return
	}
	for i, s := range sheets {
		mark := " "
		if s.ID == def {
			mark = "*"
		}
		fmt.Fprintf(r.w, "%s [%d] %s (%s)\n", mark, i+1, s.Name, s.ID)
	}
}

// describe turns known errors into messages for the person at the desk.
func describe(err error) string {
	switch {
	case errors.Is(err, common.ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, common.ErrIncorrectPin):
		return "Incorrect PIN."
	case errors.Is(err, common.ErrCredentialFetchFailed):
		return "Could not fetch the clinic credential. Try again later."
	case errors.Is(err, common.ErrCredentialExchangeFailed):
		return "Could not obtain an access token."
	case errors.Is(err, common.ErrUnauthorized):
		return "Your session has expired."
	case errors.Is(err, client.ErrUnavailable):
		return "Service unavailable. Check your connection."
	case errors.Is(err, common.ErrWrongStep):
		return "That command is not available right now. Type 'help'."
	}
	return err.Error()
}
