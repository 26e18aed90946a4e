// Package redis provides Redis persistence for run snapshots.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/delvecraft/expedition/internal/config"
	"github.com/delvecraft/expedition/internal/snapshot"
)

// SnapshotStore keeps run snapshots as plain Redis string values, one per
// key. Implements snapshot.Store. Entries carry no TTL: a snapshot lives
// until the run completes and clears it.
type SnapshotStore struct {
	client *goredis.Client
}

// NewSnapshotStore creates a SnapshotStore from configuration and verifies
// the connection.
func NewSnapshotStore(ctx context.Context, cfg config.RedisConfig) (*SnapshotStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &SnapshotStore{client: client}, nil
}

// Load reads the snapshot stored under key.
//
// Postcondition: Returns snapshot.ErrNotFound when the key is absent.
func (s *SnapshotStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, snapshot.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %q: %w", key, err)
	}
	return data, nil
}

// Save overwrites the snapshot stored under key.
func (s *SnapshotStore) Save(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("saving snapshot %q: %w", key, err)
	}
	return nil
}

// Clear removes the snapshot stored under key.
//
// Postcondition: Returns nil when the key was already absent.
func (s *SnapshotStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("clearing snapshot %q: %w", key, err)
	}
	return nil
}

// Health checks that Redis is reachable within the given timeout.
func (s *SnapshotStore) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close releases the client's resources.
func (s *SnapshotStore) Close() error {
	return s.client.Close()
}
