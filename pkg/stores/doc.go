// Package stores provides the run journal: a SQLite database recording every
// install and revert run, an event per action transition and a snapshot of
// the plan document after each action, so an interrupted run can be
// reverted from the journal alone.
package stores
