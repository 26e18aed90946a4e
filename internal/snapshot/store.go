// Package snapshot persists the recoverable projection of an in-progress
// expedition run. The store is a best-effort convenience cache, never a
// source of truth: a missing or corrupt entry means the run starts clean.
package snapshot

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Load when no snapshot exists under the key.
var ErrNotFound = errors.New("snapshot not found")

// Store is the persistence contract for run snapshots. Implementations must
// treat Save as a full overwrite and Clear on a missing key as a no-op.
type Store interface {
	// Load returns the raw snapshot bytes stored under key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)
	// Save overwrites the snapshot stored under key.
	Save(ctx context.Context, key string, data []byte) error
	// Clear removes the snapshot stored under key.
	Clear(ctx context.Context, key string) error
}

// Key builds the storage key for an expedition's run snapshot.
//
// Postcondition: Returns "<namespace>-gameplay-<expeditionID>".
func Key(namespace string, expeditionID int64) string {
	return fmt.Sprintf("%s-gameplay-%d", namespace, expeditionID)
}
