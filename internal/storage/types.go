package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

var errClosed = errors.New("store closed")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file at <path without ext>.runs.jsonl
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// MaxRecords bounds the history kept on disk. 0 means DefaultMaxRecords.
	MaxRecords int
}

const DefaultMaxRecords = 10000

func (c Config) maxRecords() int {
	if c.MaxRecords <= 0 {
		return DefaultMaxRecords
	}
	return c.MaxRecords
}

// Record is one persisted scheduler or engine event.
// Keep it compact and schema-stable.
type Record struct {
	At       time.Time     `json:"at"`
	Type     string        `json:"type"`
	Worker   string        `json:"worker"`
	TaskID   string        `json:"task_id,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}
