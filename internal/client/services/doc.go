// Package services holds the auth orchestrator: the state machine that takes
// a user from signed out to holding a usable access token and a chosen
// spreadsheet.
//
// Steps run login, then pin_check or pin_setup, then loading, then
// spreadsheet_setup, and finally authenticated. SignOut returns to login
// from anywhere. The privileged path goes from login straight to
// spreadsheet_setup.
//
// Every operation that crosses a network boundary takes a ticket holding the
// generation counter and the step it started in. The result is applied only
// if both still match when it completes; otherwise it is dropped without
// touching state or raising an error event. SignOut bumps the generation.
package services
