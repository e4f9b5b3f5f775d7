package detectors

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisRepeatPrefix = "repeat/"

// RedisIndex is a ContentIndex shared between instances through Redis. Each
// fingerprint is a hash of per-user post counts that expires one window after
// the last post, so the window slides with activity.
type RedisIndex struct {
	client redis.UniversalClient
	prefix string
	window time.Duration
}

// NewRedisIndex creates an index on client. prefix namespaces the keys.
func NewRedisIndex(client redis.UniversalClient, prefix string, window time.Duration) *RedisIndex {
	return &RedisIndex{client: client, prefix: prefix, window: window}
}

func (r *RedisIndex) Record(ctx context.Context, fingerprint, userID string, _ time.Time) (Sighting, error) {
	key := r.prefix + redisRepeatPrefix + fingerprint

	// update and read back in a single round-trip
	var userCount *redis.IntCmd
	var distinct *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		userCount = pipe.HIncrBy(ctx, key, userID, 1)
		pipe.Expire(ctx, key, r.window)
		distinct = pipe.HLen(ctx, key)
		return nil
	})
	if err != nil {
		return Sighting{}, fmt.Errorf("failed to record fingerprint in redis: %w", err)
	}
	return Sighting{DistinctUsers: int(distinct.Val()), UserCount: int(userCount.Val())}, nil
}
