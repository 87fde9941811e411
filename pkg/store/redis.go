package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ledgerline/cortex/pkg/contracts"
)

// RedisArtifactCache fronts an ArtifactStore with a read-through Redis
// cache. A cache fault never fails the call; reads and writes degrade to
// the inner store.
type RedisArtifactCache struct {
	client *redis.Client
	inner  ArtifactStore
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedisArtifactCache creates a cache backed by Redis in front of inner.
// A zero ttl keeps entries until Redis evicts them.
func NewRedisArtifactCache(addr string, password string, db int, inner ArtifactStore, ttl time.Duration) *RedisArtifactCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisArtifactCache{
		client: rdb,
		inner:  inner,
		ttl:    ttl,
		log:    slog.Default().With("component", "artifact_cache"),
	}
}

func artifactKey(tenantID, artifactID string) string {
	return fmt.Sprintf("cortex:artifact:%s:%s", tenantID, artifactID)
}

// PutArtifact writes through to the inner store, then refreshes the cache.
func (c *RedisArtifactCache) PutArtifact(ctx context.Context, art contracts.Artifact) error {
	if err := c.inner.PutArtifact(ctx, art); err != nil {
		return err
	}
	c.fill(ctx, art)
	return nil
}

// GetArtifact serves from Redis when possible and falls back to the inner
// store on a miss or a cache fault.
func (c *RedisArtifactCache) GetArtifact(ctx context.Context, tenantID, artifactID string) (contracts.Artifact, error) {
	raw, err := c.client.Get(ctx, artifactKey(tenantID, artifactID)).Bytes()
	switch {
	case err == nil:
		var art contracts.Artifact
		if jsonErr := json.Unmarshal(raw, &art); jsonErr == nil {
			return art, nil
		}
		c.log.Warn("cached artifact is not valid JSON, rereading", "artifact_id", artifactID)
	case !errors.Is(err, redis.Nil):
		c.log.Warn("redis get failed, reading from inner store", "artifact_id", artifactID, "error", err)
	}

	art, err := c.inner.GetArtifact(ctx, tenantID, artifactID)
	if err != nil {
		return contracts.Artifact{}, err
	}
	c.fill(ctx, art)
	return art, nil
}

// ListMonth reads from the inner store; month listings are not cached.
func (c *RedisArtifactCache) ListMonth(ctx context.Context, tenantID, monthKey string) ([]contracts.Artifact, error) {
	return c.inner.ListMonth(ctx, tenantID, monthKey)
}

func (c *RedisArtifactCache) fill(ctx context.Context, art contracts.Artifact) {
	raw, err := json.Marshal(art)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, artifactKey(art.TenantID, art.ArtifactID), raw, c.ttl).Err(); err != nil {
		c.log.Warn("redis set failed, cache not refreshed", "artifact_id", art.ArtifactID, "error", err)
	}
}

// Close releases the Redis client. The inner store stays open.
func (c *RedisArtifactCache) Close() error {
	return c.client.Close()
}
