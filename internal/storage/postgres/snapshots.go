package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/delvecraft/expedition/internal/snapshot"
)

// SnapshotStore persists run snapshots in the run_snapshots table, one row
// per key. Implements snapshot.Store.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given pool.
//
// Precondition: pool must be connected.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Load reads the snapshot stored under key.
//
// Postcondition: Returns snapshot.ErrNotFound when no row exists.
func (s *SnapshotStore) Load(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.pool.DB().QueryRow(ctx,
		`SELECT data FROM run_snapshots WHERE key = $1`, key,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, snapshot.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %q: %w", key, err)
	}
	return data, nil
}

// Save upserts the snapshot stored under key.
func (s *SnapshotStore) Save(ctx context.Context, key string, data []byte) error {
	_, err := s.pool.DB().Exec(ctx,
		`INSERT INTO run_snapshots (key, data, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		key, data,
	)
	if err != nil {
		return fmt.Errorf("saving snapshot %q: %w", key, err)
	}
	return nil
}

// Clear deletes the snapshot stored under key.
//
// Postcondition: Returns nil when no row existed.
func (s *SnapshotStore) Clear(ctx context.Context, key string) error {
	_, err := s.pool.DB().Exec(ctx,
		`DELETE FROM run_snapshots WHERE key = $1`, key,
	)
	if err != nil {
		return fmt.Errorf("clearing snapshot %q: %w", key, err)
	}
	return nil
}
