// Package stores provides the SQLite persistence layer for the installer.
// It holds the UI and execute sequence tables read by the sequencer, and the
// run history: one row per install session, the action start and end events
// of each run, and the ledger operations the run performed.
package stores
