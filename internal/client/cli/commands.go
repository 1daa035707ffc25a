package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/clinicdesk/internal/client/services"
	"github.com/dmitrijs2005/clinicdesk/internal/common"
)

// getSimpleText and getSecret are indirections used to facilitate testing.
var (
	getSimpleText = GetSimpleText
	getSecret     = GetSecret
)

var errNoSpreadsheet = errors.New("no spreadsheet selected, use 'sheets' and 'select'")

// Login prompts for staff credentials and continues with PIN entry.
func (a *App) Login(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", a.w)
	if err != nil {
		return err
	}

	password, err := getSecret(a.reader, "Enter password", a.w)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.orch.StaffLogin(ctx, email, string(password)); err != nil {
		a.out.Error(err)
		return err
	}
	return a.Pin(ctx)
}

// Admin runs the consent flow: print the URL, read back the redirect.
func (a *App) Admin(ctx context.Context) error {
	u, err := a.orch.AdminConsentURL()
	if err != nil {
		a.out.Error(err)
		return err
	}

	a.out.Printf("Open this URL in a browser and approve access:\n  %s\n", u)
	input, err := getSimpleText(a.reader, "Paste the URL you were redirected to (or the code)", a.w)
	if err != nil {
		return err
	}

	if err := a.orch.AdminLogin(ctx, input); err != nil {
		a.out.Error(err)
		return err
	}
	a.orch.Wait()
	return nil
}

// Pin asks for a new PIN in pin_setup or the existing one in pin_check.
func (a *App) Pin(ctx context.Context) error {
	switch a.step() {
	case services.StepPinSetup:
		return a.setupPin(ctx)
	case services.StepPinCheck:
		return a.checkPin(ctx)
	}
	a.out.Printf("No PIN is needed right now.\n")
	return nil
}

func (a *App) setupPin(ctx context.Context) error {
	a.out.Printf("Choose a PIN of at least %d digits. It protects the credential stored on this machine.\n", common.MinPINLength)

	pin, err := getSecret(a.reader, "New PIN", a.w)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pin)

	if err := ValidatePIN(string(pin)); err != nil {
		a.out.Error(err)
		return err
	}

	confirm, err := getSecret(a.reader, "Repeat PIN", a.w)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(confirm)

	if string(pin) != string(confirm) {
		err := errors.New("PINs do not match")
		a.out.Error(err)
		return err
	}

	if err := a.orch.SetupPIN(ctx, string(pin)); err != nil {
		a.out.Error(err)
		return err
	}
	a.orch.Wait()
	return nil
}

func (a *App) checkPin(ctx context.Context) error {
	pin, err := getSecret(a.reader, "PIN", a.w)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pin)

	if err := a.orch.CheckPIN(ctx, string(pin)); err != nil {
		a.out.Error(err)
		return err
	}
	a.orch.Wait()
	return nil
}

// ResetPin forgets the stored credential after confirmation and asks for a
// new PIN.
func (a *App) ResetPin(ctx context.Context) error {
	answer, err := getSimpleText(a.reader, "This removes the credential stored on this machine. Continue? [y/N]", a.w)
	if err != nil {
		return err
	}
	if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
		return nil
	}

	if err := a.orch.ResetPIN(ctx); err != nil {
		a.out.Error(err)
		return err
	}
	return a.Pin(ctx)
}

// Sheets reloads and prints the spreadsheet list.
func (a *App) Sheets(ctx context.Context) error {
	sheets, err := a.orch.LoadSpreadsheets(ctx)
	if err != nil {
		a.out.Error(err)
		return err
	}
	a.out.Spreadsheets(sheets, a.orch.Snapshot().DefaultSpreadsheetID)
	return nil
}

// Select picks a spreadsheet by list number or id. Without an argument the
// saved spreadsheet is used.
func (a *App) Select(ctx context.Context, arg string) error {
	snap := a.orch.Snapshot()

	id := arg
	if id == "" {
		id = snap.DefaultSpreadsheetID
	}
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(snap.Spreadsheets) {
		id = snap.Spreadsheets[n-1].ID
	}

	if err := a.orch.SelectSpreadsheet(ctx, id); err != nil {
		a.out.Error(err)
		return err
	}
	a.out.Printf("Using spreadsheet %s\n", id)
	return nil
}

// Create makes a new spreadsheet and selects it.
func (a *App) Create(ctx context.Context, title string) error {
	if title == "" {
		err := errors.New("usage: create <title>")
		a.out.Error(err)
		return err
	}

	s, err := a.orch.CreateSpreadsheet(ctx, title)
	if err != nil {
		a.out.Error(err)
		return err
	}
	a.out.Printf("Created %s (%s)\n", s.Name, s.ID)
	return nil
}

// Rows prints the values in rng of the selected spreadsheet.
func (a *App) Rows(ctx context.Context, rng string) error {
	id, err := a.selected(rng)
	if err != nil {
		a.out.Error(err)
		return err
	}

	values, err := a.rows.GetValues(ctx, id, rng)
	if err != nil {
		a.out.Error(err)
		return err
	}
	if len(values) == 0 {
		a.out.Printf("(empty)\n")
	}
	for _, row := range values {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = toString(c)
		}
		a.out.Printf("%s\n", strings.Join(cells, "\t"))
	}
	return nil
}

// Append reads one comma-separated row and appends it after rng.
func (a *App) Append(ctx context.Context, rng string) error {
	id, err := a.selected(rng)
	if err != nil {
		a.out.Error(err)
		return err
	}

	line, err := getSimpleText(a.reader, "Values, separated by commas", a.w)
	if err != nil {
		return err
	}

	var row []any
	for _, v := range strings.Split(line, ",") {
		row = append(row, strings.TrimSpace(v))
	}

	if err := a.rows.AppendValues(ctx, id, rng, [][]any{row}); err != nil {
		a.out.Error(err)
		return err
	}
	a.out.Printf("Appended %d values.\n", len(row))
	return nil
}

func (a *App) selected(rng string) (string, error) {
	if rng == "" {
		return "", errors.New("a range is required, e.g. Sheet1!A1:D10")
	}
	snap := a.orch.Snapshot()
	if snap.Step != services.StepAuthenticated || snap.SpreadsheetID == "" {
		return "", errNoSpreadsheet
	}
	return snap.SpreadsheetID, nil
}

// Status prints who is signed in and where the login sequence stands.
func (a *App) Status(ctx context.Context) error {
	snap := a.orch.Snapshot()
	a.out.Printf("step:        %s\n", snap.Step)
	if snap.UserID != "" {
		a.out.Printf("user:        %s\n", snap.UserID)
	}
	if snap.Email != "" {
		a.out.Printf("email:       %s\n", snap.Email)
	}
	if snap.Path != services.PathNone {
		a.out.Printf("path:        %s\n", snap.Path)
	}
	if snap.SpreadsheetID != "" {
		a.out.Printf("spreadsheet: %s\n", snap.SpreadsheetID)
	}
	return nil
}

// Logout signs out. The PIN-protected credential stays on this machine.
func (a *App) Logout(ctx context.Context) error {
	if err := a.orch.SignOut(ctx); err != nil {
		a.out.Error(err)
		return err
	}
	return nil
}

// Reload rebuilds the auth flow from scratch and picks up the session this
// process already holds.
func (a *App) Reload(ctx context.Context) error {
	if a.rebuild == nil {
		a.out.Printf("reload is not available\n")
		return nil
	}
	a.orch.Close()
	a.orch = a.rebuild()
	return a.restore(ctx)
}

func toString(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
