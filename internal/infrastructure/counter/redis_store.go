package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "meter:"

// incrementScript applies a deduplicated increment in one round trip.
// KEYS[1] counter, KEYS[2] dedupe marker
// ARGV[1] delta, ARGV[2] dedupe ttl ms, ARGV[3] counter ttl ms, ARGV[4] "1" to dedupe
// Returns {total, applied}.
var incrementScript = redis.NewScript(`
if ARGV[4] == "1" then
  if not redis.call("SET", KEYS[2], "1", "NX", "PX", ARGV[2]) then
    local cur = redis.call("GET", KEYS[1])
    return {tonumber(cur or "0"), 0}
  end
end
local total = redis.call("INCRBY", KEYS[1], ARGV[1])
if tonumber(ARGV[3]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
return {total, 1}
`)

// seedScript initialises a counter only if it does not exist yet.
// KEYS[1] counter; ARGV[1] value, ARGV[2] ttl ms. Returns the current value.
var seedScript = redis.NewScript(`
if tonumber(ARGV[2]) > 0 then
  redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2])
else
  redis.call("SET", KEYS[1], ARGV[1], "NX")
end
return tonumber(redis.call("GET", KEYS[1]))
`)

// RedisStore keeps usage counters in Redis so every instance sees the same totals
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a RedisStore
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the prefix applied to every key
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a store on an existing client. The caller keeps
// ownership of the client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Increment adds delta to key. When dedupeKey is set and was already seen
// within dedupeTTL the counter is left alone and applied is false.
func (s *RedisStore) Increment(ctx context.Context, key string, delta int64, dedupeKey string, dedupeTTL, counterTTL time.Duration) (int64, bool, error) {
	dedupe := "0"
	if dedupeKey != "" && dedupeTTL > 0 {
		dedupe = "1"
	}
	res, err := incrementScript.Run(ctx, s.client,
		[]string{s.prefix + key, s.prefix + dedupeKey},
		delta, dedupeTTL.Milliseconds(), counterTTL.Milliseconds(), dedupe,
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("increment %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("increment %s: unexpected reply %v", key, res)
	}
	return res[0], res[1] == 1, nil
}

// Get returns the counter value and whether it exists
func (s *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

// SeedIfAbsent sets key to value unless it already exists and returns the
// value now stored
func (s *RedisStore) SeedIfAbsent(ctx context.Context, key string, value int64, ttl time.Duration) (int64, error) {
	v, err := seedScript.Run(ctx, s.client, []string{s.prefix + key}, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("seed %s: %w", key, err)
	}
	return v, nil
}

// Close is a no-op; the client belongs to the caller
func (s *RedisStore) Close() error {
	return nil
}
