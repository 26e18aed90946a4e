// Package storage opens the snapshot backend selected by configuration.
package storage

import (
	"context"
	"fmt"

	"github.com/delvecraft/expedition/internal/config"
	"github.com/delvecraft/expedition/internal/snapshot"
	"github.com/delvecraft/expedition/internal/storage/postgres"
	"github.com/delvecraft/expedition/internal/storage/redis"
)

// Open creates the snapshot store named by cfg.Snapshot.Backend. The
// returned close function releases backend resources; it is non-nil on
// success and safe to call once.
//
// Precondition: cfg must have passed Validate.
func Open(ctx context.Context, cfg config.Config) (snapshot.Store, func(), error) {
	switch cfg.Snapshot.Backend {
	case "file":
		store, err := snapshot.NewFileStore(cfg.Snapshot.Dir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "memory":
		return snapshot.NewMemStore(), func() {}, nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewSnapshotStore(pool), pool.Close, nil
	case "redis":
		store, err := redis.NewSnapshotStore(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("storage: unknown snapshot backend %q", cfg.Snapshot.Backend)
	}
}
