// Package storage persists the run history: one Record per worker or task
// event, appended as it happens and read back newest-last by Recent.
//
// Drivers: "file" (JSON Lines), "sqlite" (modernc.org/sqlite, pure Go), or
// "none"/"" which disables persistence.
package storage
