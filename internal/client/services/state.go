package services

import (
	"errors"

	"github.com/dmitrijs2005/clinicdesk/internal/client/models"
)

// Step is where the orchestrator is in the login sequence.
type Step string

const (
	StepLogin            Step = "login"
	StepPinCheck         Step = "pin_check"
	StepPinSetup         Step = "pin_setup"
	StepLoading          Step = "loading"
	StepSpreadsheetSetup Step = "spreadsheet_setup"
	StepAuthenticated    Step = "authenticated"
)

// Path is the login path that produced the current session.
type Path string

const (
	PathNone  Path = ""
	PathStaff Path = "staff"
	PathAdmin Path = "admin"
)

var (
	// ErrStale is returned by an operation whose result was discarded
	// because the orchestrator moved on while it ran.
	ErrStale = errors.New("auth state changed while operation was running")

	// ErrConsentUnavailable is returned when no consent flow is configured.
	ErrConsentUnavailable = errors.New("privileged login is not configured")

	ErrEmptyPIN           = errors.New("pin must not be empty")
	ErrEmptySpreadsheetID = errors.New("spreadsheet id must not be empty")
)

type EventKind int

const (
	EventStepChanged EventKind = iota
	EventError
	EventSpreadsheets
)

// Event is something the terminal surface should show.
type Event struct {
	Kind         EventKind
	Step         Step
	Err          error
	Spreadsheets []models.Spreadsheet

	// DefaultSpreadsheetID is the user's saved spreadsheet, if any.
	DefaultSpreadsheetID string
}

// EventSink receives events outside the orchestrator lock.
type EventSink interface {
	Publish(Event)
}

type EventSinkFunc func(Event)

func (f EventSinkFunc) Publish(e Event) { f(e) }

// Snapshot is a copy of the orchestrator's visible state.
type Snapshot struct {
	Step                 Step
	Generation           uint64
	Path                 Path
	UserID               string
	Email                string
	InFlight             int
	Spreadsheets         []models.Spreadsheet
	DefaultSpreadsheetID string
	SpreadsheetID        string
}

type ticket struct {
	gen  uint64
	step Step
	uid  string
}

// effects collects what a completed operation wants done once the lock is
// released.
type effects struct {
	events   []Event
	teardown bool
}

func (e *effects) emit(ev Event) {
	e.events = append(e.events, ev)
}
