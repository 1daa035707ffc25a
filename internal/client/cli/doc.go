// Package cli is the interactive clinicdesk terminal client.
//
// App.Run restores a session left by an earlier run, then serves a REPL.
// Staff sign in with email and password and unlock the clinic credential
// with a PIN; the privileged path goes through a browser consent page.
// Once a spreadsheet is chosen its rows can be read and appended.
//
// Secrets are read without echo when stdin is a terminal. Orchestrator
// events are printed by Renderer as they arrive.
package cli
