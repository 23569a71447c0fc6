package counter

import (
	"context"
	"sync"
	"time"

	"github.com/saasdash/backend/internal/infrastructure/cache"
)

type memoryCounter struct {
	value     int64
	expiresAt time.Time // zero means no expiry
}

const defaultMemorySweepInterval = time.Minute

// MemoryStore keeps counters in process. Suitable for a single instance and
// tests. A sweeper drops counters past their cycle; Close stops it.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]memoryCounter
	seen     *cache.InMemoryIdempotencyStore
	now      func() time.Time

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	now   func() time.Time
	sweep time.Duration
}

// WithMemoryClock overrides time.Now, for tests
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(c *memoryConfig) {
		c.now = now
	}
}

// WithMemorySweepInterval sets how often expired counters are evicted
func WithMemorySweepInterval(d time.Duration) MemoryOption {
	return func(c *memoryConfig) {
		if d > 0 {
			c.sweep = d
		}
	}
}

// NewMemoryStore creates an empty in-memory store and starts its sweeper
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	cfg := memoryConfig{now: time.Now, sweep: defaultMemorySweepInterval}
	for _, o := range opts {
		o(&cfg)
	}
	s := &MemoryStore{
		counters: make(map[string]memoryCounter),
		seen: cache.NewInMemoryIdempotencyStore(
			cache.WithIdempotencyClock(cfg.now),
			cache.WithSweepInterval(cfg.sweep)),
		now:    cfg.now,
		stopCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.sweepLoop(cfg.sweep)
	return s
}

func (s *MemoryStore) live(key string) (memoryCounter, bool) {
	c, ok := s.counters[key]
	if !ok {
		return c, false
	}
	if !c.expiresAt.IsZero() && !s.now().Before(c.expiresAt) {
		delete(s.counters, key)
		return memoryCounter{}, false
	}
	return c, true
}

// Increment adds delta to key unless dedupeKey was already applied
func (s *MemoryStore) Increment(ctx context.Context, key string, delta int64, dedupeKey string, dedupeTTL, counterTTL time.Duration) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dedupeKey != "" && dedupeTTL > 0 {
		fresh, err := s.seen.MarkProcessed(ctx, dedupeKey, dedupeTTL)
		if err != nil {
			return 0, false, err
		}
		if !fresh {
			c, _ := s.live(key)
			return c.value, false, nil
		}
	}

	c, _ := s.live(key)
	c.value += delta
	if counterTTL > 0 {
		c.expiresAt = s.now().Add(counterTTL)
	}
	s.counters[key] = c
	return c.value, true, nil
}

// Get returns the counter value and whether it exists
func (s *MemoryStore) Get(_ context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.live(key)
	return c.value, ok, nil
}

// SeedIfAbsent sets key to value unless it exists and returns the stored value
func (s *MemoryStore) SeedIfAbsent(_ context.Context, key string, value int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.live(key); ok {
		return c.value, nil
	}
	c := memoryCounter{value: value}
	if ttl > 0 {
		c.expiresAt = s.now().Add(ttl)
	}
	s.counters[key] = c
	return value, nil
}

// Len returns the number of stored counters, expired or not
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// Close stops the sweepers. Safe to call multiple times.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
	})
	return s.seen.Close()
}

func (s *MemoryStore) sweepLoop(every time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, c := range s.counters {
		if !c.expiresAt.IsZero() && !now.Before(c.expiresAt) {
			delete(s.counters, key)
		}
	}
}
