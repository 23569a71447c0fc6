package cache

import (
	"context"
	"sync"
	"time"

	"github.com/saasdash/backend/internal/domain/shared"
)

const defaultSweepInterval = time.Minute

// InMemoryIdempotencyStore remembers idempotency keys in process until their
// TTL passes. It backs the in-memory counter store and single-instance setups.
type InMemoryIdempotencyStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// IdempotencyOption configures an InMemoryIdempotencyStore
type IdempotencyOption func(*idempotencyConfig)

type idempotencyConfig struct {
	now   func() time.Time
	sweep time.Duration
}

// WithIdempotencyClock overrides time.Now, for tests
func WithIdempotencyClock(now func() time.Time) IdempotencyOption {
	return func(c *idempotencyConfig) {
		c.now = now
	}
}

// WithSweepInterval sets how often expired keys are evicted
func WithSweepInterval(d time.Duration) IdempotencyOption {
	return func(c *idempotencyConfig) {
		if d > 0 {
			c.sweep = d
		}
	}
}

// NewInMemoryIdempotencyStore creates a store and starts its sweeper
func NewInMemoryIdempotencyStore(opts ...IdempotencyOption) *InMemoryIdempotencyStore {
	cfg := idempotencyConfig{now: time.Now, sweep: defaultSweepInterval}
	for _, o := range opts {
		o(&cfg)
	}

	s := &InMemoryIdempotencyStore{
		expires: make(map[string]time.Time),
		now:     cfg.now,
		stopCh:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.sweepLoop(cfg.sweep)
	return s
}

// MarkProcessed records key for ttl. It returns false when the key is
// already recorded and has not expired.
func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.expires[key] = now.Add(ttl)
	return true, nil
}

// IsProcessed reports whether key is recorded and live
func (s *InMemoryIdempotencyStore) IsProcessed(_ context.Context, key string) (bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.expires[key]
	return ok && now.Before(exp), nil
}

// Forget drops key so it can be applied again
func (s *InMemoryIdempotencyStore) Forget(key string) {
	s.mu.Lock()
	delete(s.expires, key)
	s.mu.Unlock()
}

// Len returns the number of recorded keys, expired or not
func (s *InMemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expires)
}

// Close stops the sweeper. Safe to call multiple times.
func (s *InMemoryIdempotencyStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
	})
	return nil
}

func (s *InMemoryIdempotencyStore) sweepLoop(every time.Duration) {
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

func (s *InMemoryIdempotencyStore) sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, exp := range s.expires {
		if !now.Before(exp) {
			delete(s.expires, key)
		}
	}
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
