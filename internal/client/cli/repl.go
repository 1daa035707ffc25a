package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/clinicdesk/internal/client/services"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	step() services.Step
	Login(ctx context.Context) error
	Admin(ctx context.Context) error
	Pin(ctx context.Context) error
	ResetPin(ctx context.Context) error
	Sheets(ctx context.Context) error
	Select(ctx context.Context, arg string) error
	Create(ctx context.Context, title string) error
	Rows(ctx context.Context, rng string) error
	Append(ctx context.Context, rng string) error
	Status(ctx context.Context) error
	Check(ctx context.Context) error
	Reload(ctx context.Context) error
	Logout(ctx context.Context) error
}

// runREPL reads commands line by line from reader and dispatches them to a.
// The loop exits on EOF or when the user types "exit" or "quit".
//
// Commands
//
//	login            staff sign-in, then PIN entry
//	admin            privileged sign-in through the browser
//	pin              enter or set the PIN
//	resetpin         forget the stored credential and choose a new PIN
//	sheets           list spreadsheets
//	select [n|id]    choose a spreadsheet
//	create <title>   create a spreadsheet
//	rows <range>     print rows of the chosen spreadsheet
//	append <range>   append a row
//	status           show the current session
//	check            run the staff login end to end
//	reload           restart the auth flow and restore this session
//	logout           sign out
//	exit | quit      leave the program
//
// Errors are reported by the handlers themselves.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("clinic %s > ", statusFn()))
		line, err := readLine(reader)
		if err != nil {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, rest := parts[0], strings.Join(parts[1:], " ")

		switch cmd {
		case "help":
			printlnFn(helpFor(a.step()))

		case "login":
			_ = a.Login(ctx)

		case "admin":
			_ = a.Admin(ctx)

		case "pin":
			_ = a.Pin(ctx)

		case "resetpin":
			_ = a.ResetPin(ctx)

		case "sheets":
			_ = a.Sheets(ctx)

		case "select":
			_ = a.Select(ctx, rest)

		case "create":
			_ = a.Create(ctx, rest)

		case "rows":
			_ = a.Rows(ctx, rest)

		case "append":
			_ = a.Append(ctx, rest)

		case "status":
			_ = a.Status(ctx)

		case "check":
			_ = a.Check(ctx)

		case "reload":
			_ = a.Reload(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}

func helpFor(step services.Step) string {
	switch step {
	case services.StepLogin:
		return "Available commands: login, admin, check, reload, status, exit"
	case services.StepPinCheck:
		return "Available commands: pin, resetpin, logout, status, exit"
	case services.StepPinSetup:
		return "Available commands: pin, logout, status, exit"
	case services.StepSpreadsheetSetup:
		return "Available commands: sheets, select [n|id], create <title>, reload, logout, status, exit"
	case services.StepAuthenticated:
		return "Available commands: rows <range>, append <range>, sheets, select [n|id], create <title>, reload, logout, status, exit"
	}
	return "Available commands: status, reload, logout, exit"
}
