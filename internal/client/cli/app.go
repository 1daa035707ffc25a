package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/dmitrijs2005/clinicdesk/internal/client/models"
	"github.com/dmitrijs2005/clinicdesk/internal/client/services"
)

// Orchestrator is the auth state machine the CLI drives.
type Orchestrator interface {
	StaffLogin(ctx context.Context, email, password string) error
	AdminConsentURL() (string, error)
	AdminLogin(ctx context.Context, input string) error
	SetupPIN(ctx context.Context, pin string) error
	CheckPIN(ctx context.Context, pin string) error
	ResetPIN(ctx context.Context) error
	Restore(ctx context.Context) (bool, error)
	LoadSpreadsheets(ctx context.Context) ([]models.Spreadsheet, error)
	SelectSpreadsheet(ctx context.Context, id string) error
	CreateSpreadsheet(ctx context.Context, title string) (models.Spreadsheet, error)
	SignOut(ctx context.Context) error
	Snapshot() services.Snapshot
	Wait()
	Close()
}

// RowStore reads and appends spreadsheet rows.
type RowStore interface {
	GetValues(ctx context.Context, id, rng string) ([][]any, error)
	AppendValues(ctx context.Context, id, rng string, rows [][]any) error
}

type App struct {
	orch    Orchestrator
	rebuild func() Orchestrator
	rows    RowStore
	checker *Checker
	out     *Renderer
	reader  *bufio.Reader
	w       io.Writer
}

// NewApp builds the CLI. checker may be nil, which disables 'check'.
func NewApp(orch Orchestrator, rows RowStore, checker *Checker, out *Renderer, in io.Reader, w io.Writer) *App {
	return &App{
		orch:    orch,
		rows:    rows,
		checker: checker,
		out:     out,
		reader:  bufio.NewReader(in),
		w:       w,
	}
}

// EnableReload lets the 'reload' command replace the orchestrator with one
// returned by build. build must share the credential store of the current
// orchestrator, otherwise there is nothing to restore.
func (a *App) EnableReload(build func() Orchestrator) {
	a.rebuild = build
}

// Close stops the current orchestrator.
func (a *App) Close() {
	a.orch.Close()
}

func (a *App) step() services.Step {
	return a.orch.Snapshot().Step
}

func (a *App) getStatus() string {
	snap := a.orch.Snapshot()
	if snap.UserID == "" {
		return fmt.Sprintf("(%s)", snap.Step)
	}
	who := snap.UserID
	if snap.Email != "" {
		who = snap.Email
	}
	return fmt.Sprintf("(%s %s)", who, snap.Step)
}

// Run restores any session left by a previous run, then serves the REPL
// until the user exits.
func (a *App) Run(ctx context.Context) {
	a.out.Printf("Welcome to clinicdesk (type 'help' for commands)\n")
	_ = a.restore(ctx)
	runREPL(ctx, a, a.getStatus, a.reader)
}

func (a *App) restore(ctx context.Context) error {
	restored, err := a.orch.Restore(ctx)
	switch {
	case err != nil:
		a.out.Error(err)
		return err
	case restored:
		a.orch.Wait()
		a.out.Printf("Session restored.\n")
	default:
		a.out.Printf("Sign in with 'login', or 'admin' for the privileged path.\n")
	}
	return nil
}
