package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Generation is the stored outcome of one structured-generation request,
// kept for operational diagnostics. It never holds game content beyond the
// issue notes.
type Generation struct {
	ID        string
	Model     string
	Success   bool
	Attempts  int
	Issues    string // JSON array stored as text
	Error     string
	Duration  time.Duration
	CreatedAt time.Time
}

// Probe is the stored outcome of one connection test.
type Probe struct {
	ID           string
	URL          string
	Model        string
	Success      bool
	ModelUsed    string
	ResponseTime time.Duration
	Error        string
	CreatedAt    time.Time
}
