package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "meter:cache"

// RedisTier is the shared L2 tier. Values are stored as JSON envelopes that
// expire when their stale window ends.
type RedisTier struct {
	client *redis.Client
	prefix string
}

// NewRedisTier creates an L2 tier on an existing client. The caller keeps
// ownership of the client.
func NewRedisTier(client *redis.Client, prefix string) *RedisTier {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisTier{client: client, prefix: prefix}
}

func (r *RedisTier) key(namespace, key string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, namespace, key)
}

// Get returns the raw envelope, or nil on a miss
func (r *RedisTier) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s/%s: %w", namespace, key, err)
	}
	return data, nil
}

// Set stores an envelope for ttl
func (r *RedisTier) Set(ctx context.Context, namespace, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.key(namespace, key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete removes an envelope
func (r *RedisTier) Delete(ctx context.Context, namespace, key string) error {
	if err := r.client.Del(ctx, r.key(namespace, key)).Err(); err != nil {
		return fmt.Errorf("redis del %s/%s: %w", namespace, key, err)
	}
	return nil
}
