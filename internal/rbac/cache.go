package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache stores principal snapshots between requests.
type SnapshotCache interface {
	Get(ctx context.Context, userID int64) (*Principal, bool, error)
	Set(ctx context.Context, p *Principal) error
	Delete(ctx context.Context, userIDs ...int64) error
	Purge(ctx context.Context) error
}

const snapshotKeyPrefix = "rbac:principal:"

// RedisSnapshotCache keeps snapshots in redis with a TTL so that stale
// grants expire even if an invalidation is lost.
type RedisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache constructs a redis-backed cache.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *RedisSnapshotCache {
	return &RedisSnapshotCache{client: client, ttl: ttl}
}

// Get returns the cached snapshot for userID.
func (c *RedisSnapshotCache) Get(ctx context.Context, userID int64) (*Principal, bool, error) {
	data, err := c.client.Get(ctx, snapshotKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		// A corrupt entry is treated as a miss and dropped.
		_ = c.client.Del(ctx, snapshotKey(userID)).Err()
		return nil, false, nil
	}
	p := id.Principal()
	if p == nil {
		return nil, false, nil
	}
	return p, true, nil
}

// Set stores p.
func (c *RedisSnapshotCache) Set(ctx context.Context, p *Principal) error {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(p.Identity())
	if err != nil {
		return err
	}
	return c.client.Set(ctx, snapshotKey(p.UserID), data, c.ttl).Err()
}

// Delete drops the snapshots of userIDs.
func (c *RedisSnapshotCache) Delete(ctx context.Context, userIDs ...int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = snapshotKey(id)
	}
	return c.client.Del(ctx, keys...).Err()
}

// Purge drops every cached snapshot.
func (c *RedisSnapshotCache) Purge(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, snapshotKeyPrefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("rbac: purge snapshots: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("rbac: purge snapshots: %w", err)
	}
	if len(batch) > 0 {
		return c.client.Del(ctx, batch...).Err()
	}
	return nil
}

func snapshotKey(userID int64) string {
	return snapshotKeyPrefix + strconv.FormatInt(userID, 10)
}

var _ SnapshotCache = (*RedisSnapshotCache)(nil)
