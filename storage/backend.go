// Package storage defines the persisted session snapshot and the backends
// that hold it between runs.
package storage

import (
	"context"
	"errors"
)

// ErrCorrupt is returned by Backend.Load when persisted data exists but
// cannot be decoded.
var ErrCorrupt = errors.New("corrupt session data")

// Backend persists whole snapshots. Save always replaces everything the
// backend previously held; there are no partial updates.
type Backend interface {
	// Load returns the persisted snapshot. A backend that holds nothing yet
	// returns an empty snapshot and no error.
	Load(ctx context.Context) (Snapshot, error)
	// Save replaces the persisted snapshot with s.
	Save(ctx context.Context, s Snapshot) error
	// Location describes where the data lives (a path or URL) for
	// diagnostics.
	Location() string
	Close() error
}
