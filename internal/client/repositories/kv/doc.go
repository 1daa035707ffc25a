// Package kv provides keyed storage of opaque strings.
//
// Two implementations share the Repository contract: SQLiteRepository backs
// the durable tier and survives restarts, MemoryRepository backs the session
// tier and lives as long as the process. A missing key is reported as
// ok == false with a nil error.
package kv
