package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/billing"
	"github.com/saasdash/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// CounterStore is the atomic backing store of the live usage counters
type CounterStore interface {
	// Increment adds delta to key and returns the new total. When dedupeKey is
	// non-empty and was seen within dedupeTTL, nothing is added, the current
	// total is returned and applied is false.
	Increment(ctx context.Context, key string, delta int64, dedupeKey string, dedupeTTL, counterTTL time.Duration) (total int64, applied bool, err error)

	// Get returns the counter value and whether the counter exists
	Get(ctx context.Context, key string) (int64, bool, error)

	// SeedIfAbsent initialises key to value unless it exists, returning the stored value
	SeedIfAbsent(ctx context.Context, key string, value int64, ttl time.Duration) (int64, error)
}

// Recorder receives one observation per usage registration
type Recorder interface {
	RecordUsageIncrement(ctx context.Context, featureSlug string, accepted, duplicate bool)
}

// Config tunes the limiter
type Config struct {
	Shards           int
	Replicas         int
	MailboxSize      int
	DedupeWindow     time.Duration
	FlushBatchSize   int
	FlushInterval    time.Duration
	StoreTimeout     time.Duration // bound on one counter or log operation inside a shard
	CounterRetention time.Duration // how long a counter outlives its cycle end
}

// DefaultConfig returns the defaults used for zero fields
func DefaultConfig() Config {
	return Config{
		Shards:           8,
		Replicas:         100,
		MailboxSize:      1024,
		DedupeWindow:     5 * time.Minute,
		FlushBatchSize:   100,
		FlushInterval:    time.Second,
		StoreTimeout:     2 * time.Second,
		CounterRetention: 7 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Shards <= 0 {
		c.Shards = d.Shards
	}
	if c.Replicas <= 0 {
		c.Replicas = d.Replicas
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = d.MailboxSize
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = d.DedupeWindow
	}
	if c.FlushBatchSize <= 0 {
		c.FlushBatchSize = d.FlushBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.CounterRetention <= 0 {
		c.CounterRetention = d.CounterRetention
	}
	return c
}

// UsageRequest reports consumption of a feature
type UsageRequest struct {
	CustomerID     uuid.UUID
	ProjectID      uuid.UUID
	FeatureSlug    string
	Delta          int64
	IdempotencyKey string
	Limit          *int64 // nil means unlimited
	Cycle          billing.Cycle
	RecordedAt     time.Time
}

func (r UsageRequest) validate() error {
	if r.CustomerID == uuid.Nil {
		return shared.ErrInvalidInput.WithMessage("customer ID cannot be empty")
	}
	if err := billing.ValidateFeatureSlug(r.FeatureSlug); err != nil {
		return err
	}
	if r.Delta < 0 {
		return shared.ErrInvalidInput.WithMessage("usage delta cannot be negative")
	}
	if r.Cycle.StartAt.IsZero() {
		return shared.ErrInvalidInput.WithMessage("billing cycle is required")
	}
	return nil
}

// UsageResult is the outcome of a registration. The increment is recorded even
// when Accepted is false: the limit is soft, usage is counted first and the
// following calls are denied.
type UsageResult struct {
	Accepted     bool
	CurrentUsage int64
	Duplicate    bool
}

// CounterKey names the live counter of a customer, feature and cycle
func CounterKey(customerID uuid.UUID, featureSlug string, cycleStart time.Time) string {
	return fmt.Sprintf("usage:%s:%s:%d", customerID, featureSlug, cycleStart.Unix())
}

func dedupeKey(customerID uuid.UUID, featureSlug, idempotencyKey string) string {
	if idempotencyKey == "" {
		return ""
	}
	return fmt.Sprintf("usage:dedupe:%s:%s:%s", customerID, featureSlug, idempotencyKey)
}

// Limiter serializes all writes for one counter key through a single shard
// goroutine. Keys are spread across a fixed set of shards with a consistent
// hash ring. Each shard also buffers the usage log and flushes it in batches.
type Limiter struct {
	cfg      Config
	store    CounterStore
	records  billing.UsageRecordRepository
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time

	ring   *hashRing
	shards []*shard

	mu      sync.RWMutex
	running bool
	wg      sync.WaitGroup
}

// LimiterOption is a functional option for configuring the limiter
type LimiterOption func(*Limiter)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) LimiterOption {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithRecorder records increments as metrics
func WithRecorder(r Recorder) LimiterOption {
	return func(l *Limiter) {
		l.recorder = r
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a limiter. Call Start before use and Stop on shutdown.
func NewLimiter(cfg Config, store CounterStore, records billing.UsageRecordRepository, opts ...LimiterOption) *Limiter {
	cfg = cfg.withDefaults()
	l := &Limiter{
		cfg:     cfg,
		store:   store,
		records: records,
		logger:  zap.NewNop(),
		now:     time.Now,
		ring:    newHashRing(cfg.Shards, cfg.Replicas),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the shard goroutines
func (l *Limiter) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}

	l.shards = make([]*shard, l.cfg.Shards)
	for i := range l.shards {
		s := newShard(i, l)
		l.shards[i] = s
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			s.run()
		}()
	}
	l.running = true
	l.logger.Info("Usage limiter started",
		zap.Int("shards", l.cfg.Shards),
		zap.Int("mailbox_size", l.cfg.MailboxSize))
}

// Stop closes the mailboxes, lets every shard drain and flush its usage log,
// and waits for them until ctx is done
func (l *Limiter) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	for _, s := range l.shards {
		close(s.mailbox)
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		l.logger.Info("Usage limiter stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("usage limiter stop: %w", ctx.Err())
	}
}

// RegisterUsage adds req.Delta to the customer's counter for the cycle and
// reports whether the new total is still within req.Limit
func (l *Limiter) RegisterUsage(ctx context.Context, req UsageRequest) (UsageResult, error) {
	if err := req.validate(); err != nil {
		return UsageResult{}, err
	}
	if req.RecordedAt.IsZero() {
		req.RecordedAt = l.now()
	}

	reply, err := l.dispatch(ctx, &op{
		kind: opIncrement,
		ctx:  ctx,
		key:  CounterKey(req.CustomerID, req.FeatureSlug, req.Cycle.StartAt),
		req:  req,
	})
	if err != nil {
		return UsageResult{}, err
	}
	if l.recorder != nil {
		l.recorder.RecordUsageIncrement(ctx, req.FeatureSlug, reply.result.Accepted, reply.result.Duplicate)
	}
	return reply.result, nil
}

// CurrentUsage reads the live counter of a customer and feature in cycle,
// seeding it from the usage log on first access
func (l *Limiter) CurrentUsage(ctx context.Context, customerID uuid.UUID, featureSlug string, cycle billing.Cycle) (int64, error) {
	reply, err := l.dispatch(ctx, &op{
		kind: opRead,
		ctx:  ctx,
		key:  CounterKey(customerID, featureSlug, cycle.StartAt),
		req:  UsageRequest{CustomerID: customerID, FeatureSlug: featureSlug, Cycle: cycle},
	})
	if err != nil {
		return 0, err
	}
	return reply.result.CurrentUsage, nil
}

func (l *Limiter) dispatch(ctx context.Context, o *op) (opReply, error) {
	o.reply = make(chan opReply, 1)

	l.mu.RLock()
	if !l.running {
		l.mu.RUnlock()
		return opReply{}, shared.ErrLimiterUnavailable.WithMessage("usage limiter is not running")
	}
	s := l.shards[l.ring.shardFor(o.key)]
	select {
	case s.mailbox <- o:
	default:
		l.mu.RUnlock()
		l.logger.Warn("Usage shard mailbox full", zap.Int("shard", s.id), zap.String("key", o.key))
		return opReply{}, shared.ErrLimiterUnavailable.WithMessage("usage shard is overloaded")
	}
	l.mu.RUnlock()

	select {
	case r := <-o.reply:
		return r, r.err
	case <-ctx.Done():
		return opReply{}, shared.ErrTimeout.Wrap(ctx.Err())
	}
}

func (l *Limiter) counterTTL(cycle billing.Cycle) time.Duration {
	ttl := cycle.EndAt.Sub(l.now()) + l.cfg.CounterRetention
	if ttl < l.cfg.CounterRetention {
		return l.cfg.CounterRetention
	}
	return ttl
}
