package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRevocationPrefix namespaces revoked key IDs in Redis
const DefaultRevocationPrefix = "apikey:revoked:"

// RedisRevocationList stores revoked key IDs in Redis so every instance sees
// a revocation at once
type RedisRevocationList struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisRevocationList creates a revocation list on an existing client
func NewRedisRevocationList(client redis.UniversalClient, prefix string) *RedisRevocationList {
	if prefix == "" {
		prefix = DefaultRevocationPrefix
	}
	return &RedisRevocationList{client: client, keyPrefix: prefix}
}

// Revoke adds keyID to the list. A ttl of zero keeps the entry forever;
// otherwise use the remaining lifetime of the key.
func (l *RedisRevocationList) Revoke(ctx context.Context, keyID string, ttl time.Duration) error {
	if err := l.client.Set(ctx, l.keyPrefix+keyID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	return nil
}

// IsRevoked checks whether keyID is on the list
func (l *RedisRevocationList) IsRevoked(ctx context.Context, keyID string) (bool, error) {
	n, err := l.client.Exists(ctx, l.keyPrefix+keyID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check api key revocation: %w", err)
	}
	return n > 0, nil
}

var _ RevocationList = (*RedisRevocationList)(nil)

// InMemoryRevocationList is a process-local revocation list for tests and
// single-instance deployments
type InMemoryRevocationList struct {
	mu      sync.Mutex
	entries map[string]time.Time // zero time means no expiry
	now     func() time.Time
}

// NewInMemoryRevocationList creates an empty list
func NewInMemoryRevocationList() *InMemoryRevocationList {
	return &InMemoryRevocationList{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke adds keyID to the list
func (l *InMemoryRevocationList) Revoke(_ context.Context, keyID string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = l.now().Add(ttl)
	}
	l.entries[keyID] = expires
	return nil
}

// IsRevoked checks whether keyID is on the list, dropping expired entries
func (l *InMemoryRevocationList) IsRevoked(_ context.Context, keyID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	expires, ok := l.entries[keyID]
	if !ok {
		return false, nil
	}
	if !expires.IsZero() && l.now().After(expires) {
		delete(l.entries, keyID)
		return false, nil
	}
	return true, nil
}

var _ RevocationList = (*InMemoryRevocationList)(nil)
