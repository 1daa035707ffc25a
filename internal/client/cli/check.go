package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/clinicdesk/internal/client/client"
	"github.com/dmitrijs2005/clinicdesk/internal/client/models"
	"github.com/dmitrijs2005/clinicdesk/internal/common"
)

// SpreadsheetLister is what a checked session must be able to do.
type SpreadsheetLister interface {
	ListSpreadsheets(ctx context.Context) ([]models.Spreadsheet, error)
}

// ConnectFunc turns a service-account credential into a working session,
// isolated from the user's own.
type ConnectFunc func(ctx context.Context, sa models.ServiceAccount) (SpreadsheetLister, error)

// CheckResult is the outcome of one stage of a check run.
type CheckResult struct {
	Stage  string
	Detail string
	Err    error
}

// Checker runs the staff login end to end against the real services
// without touching the signed-in session or the stored credential.
type Checker struct {
	identity client.IdentityProvider
	backend  client.CredentialBackend
	connect  ConnectFunc
}

func NewChecker(identity client.IdentityProvider, backend client.CredentialBackend, connect ConnectFunc) *Checker {
	return &Checker{identity: identity, backend: backend, connect: connect}
}

// Run stops at the first failing stage.
func (c *Checker) Run(ctx context.Context, email, password string) []CheckResult {
	var out []CheckResult
	record := func(stage, detail string, err error) bool {
		out = append(out, CheckResult{Stage: stage, Detail: detail, Err: err})
		return err == nil
	}

	a, err := c.identity.SignIn(ctx, email, password)
	if !record("sign in", a.UserID, err) {
		return out
	}
	defer func() { _ = c.identity.SignOut(ctx) }()

	sa, err := c.backend.FetchServiceAccount(ctx, a.IDToken)
	if !record("fetch credential", sa.ClientEmail, err) {
		return out
	}

	session, err := c.connect(ctx, sa)
	if !record("token exchange", "", err) {
		return out
	}

	sheets, err := session.ListSpreadsheets(ctx)
	record("list spreadsheets", fmt.Sprintf("%d found", len(sheets)), err)
	return out
}

// Check prompts for credentials and prints each stage of a check run.
func (a *App) Check(ctx context.Context) error {
	if a.checker == nil {
		err := fmt.Errorf("check is not available")
		a.out.Error(err)
		return err
	}

	email, err := getSimpleText(a.reader, "Enter email", a.w)
	if err != nil {
		return err
	}
	password, err := getSecret(a.reader, "Enter password", a.w)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	var failed error
	for _, r := range a.checker.Run(ctx, email, string(password)) {
		if r.Err != nil {
			failed = r.Err
			a.out.Printf("FAIL %-18s %s\n", r.Stage, describe(r.Err))
			continue
		}
		a.out.Printf("ok   %-18s %s\n", r.Stage, r.Detail)
	}
	return failed
}
