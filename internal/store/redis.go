package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const lastSeenTTL = 30 * 24 * time.Hour

// RedisStore handles Redis operations: rate-limit counters for the HTTP
// middleware and last-seen timestamps written when a user's final
// connection closes. Live presence itself is in-process only.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for the rate limiter middleware.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// lastSeenKey returns the key for a user's last-seen timestamp.
func lastSeenKey(userID string) string {
	return fmt.Sprintf("presence:lastseen:%s", userID)
}

// SetLastSeen records when a user's final connection closed.
func (s *RedisStore) SetLastSeen(ctx context.Context, userID string, at time.Time) error {
	return s.client.Set(ctx, lastSeenKey(userID), at.UnixMilli(), lastSeenTTL).Err()
}

// GetLastSeen returns the user's last-seen time, or the zero time if the
// user has never disconnected cleanly.
func (s *RedisStore) GetLastSeen(ctx context.Context, userID string) (time.Time, error) {
	ms, err := s.client.Get(ctx, lastSeenKey(userID)).Int64()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
