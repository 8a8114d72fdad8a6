// Package cache keeps the enrollment and grant snapshot in Redis so access
// checks do not hit Postgres on every request. Writes bump a version key;
// readers always fetch the snapshot stored under the current version.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/your-org/guarda/internal/models"
	"github.com/your-org/guarda/internal/observability"
)

const (
	versionKey  = "guarda:snapshot:version"
	snapshotKey = "guarda:snapshot:%d"
	bumpChannel = "guarda:snapshot:bump"
)

// Loader reads the snapshot from the system of record.
type Loader interface {
	LoadEnrollment(ctx context.Context) ([]models.FaceEmbedding, error)
	LoadGrants(ctx context.Context) ([]models.Authorization, error)
}

// Snapshot is the cached form of the enrollment and authorization state.
type Snapshot struct {
	Version        int64                  `json:"version"`
	Embeddings     []models.FaceEmbedding `json:"embeddings"`
	Authorizations []models.Authorization `json:"authorizations"`
	LoadedAt       time.Time              `json:"loaded_at"`
}

// SnapshotCache serves snapshots from Redis, falling back to the loader.
// A nil client disables caching.
type SnapshotCache struct {
	client *redis.Client
	loader Loader
	ttl    time.Duration
}

func NewSnapshotCache(client *redis.Client, loader Loader, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, loader: loader, ttl: ttl}
}

// Version returns the current snapshot version, initialising it when missing.
func (c *SnapshotCache) Version(ctx context.Context) (int64, error) {
	if c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, versionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, versionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Get returns the current snapshot. Redis errors are logged and the snapshot
// is loaded directly so access checks keep working without the cache.
func (c *SnapshotCache) Get(ctx context.Context) (*Snapshot, error) {
	if c.client == nil {
		observability.SnapshotLoads.WithLabelValues("store").Inc()
		return c.load(ctx, 0)
	}

	ver, err := c.Version(ctx)
	if err != nil {
		slog.Warn("snapshot cache version", "error", err)
		observability.SnapshotLoads.WithLabelValues("store").Inc()
		return c.load(ctx, 0)
	}

	key := fmt.Sprintf(snapshotKey, ver)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var snap Snapshot
		if err := json.Unmarshal(payload, &snap); err == nil {
			observability.SnapshotLoads.WithLabelValues("cache").Inc()
			return &snap, nil
		}
		slog.Warn("snapshot cache decode", "key", key, "error", err)
	} else if !errors.Is(err, redis.Nil) {
		slog.Warn("snapshot cache read", "key", key, "error", err)
	}

	observability.SnapshotLoads.WithLabelValues("store").Inc()
	snap, err := c.load(ctx, ver)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		slog.Warn("snapshot cache write", "key", key, "error", err)
	}
	return snap, nil
}

// Invalidate moves readers to a new version. The previous snapshot expires
// on its own through the TTL.
func (c *SnapshotCache) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey).Result()
	if err != nil {
		return fmt.Errorf("bump snapshot version: %w", err)
	}
	return c.client.Publish(ctx, bumpChannel, ver).Err()
}

func (c *SnapshotCache) load(ctx context.Context, ver int64) (*Snapshot, error) {
	embeddings, err := c.loader.LoadEnrollment(ctx)
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	grants, err := c.loader.LoadGrants(ctx)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	return &Snapshot{
		Version:        ver,
		Embeddings:     embeddings,
		Authorizations: grants,
		LoadedAt:       time.Now().UTC(),
	}, nil
}
