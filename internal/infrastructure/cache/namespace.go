package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Options is the staleness policy of one namespace. Both TTLs are measured
// from the time the value was fetched.
type Options struct {
	FreshTTL       time.Duration
	StaleTTL       time.Duration
	LoadTimeout    time.Duration // bound on a blocking load, independent of the caller's deadline
	RefreshTimeout time.Duration // bound on a background refresh
	SweepInterval  time.Duration // how often expired L1 entries are dropped
}

// DefaultOptions returns the policy used when a namespace is not configured
func DefaultOptions() Options {
	return Options{
		FreshTTL:       time.Minute,
		StaleTTL:       5 * time.Minute,
		LoadTimeout:    2 * time.Second,
		RefreshTimeout: 5 * time.Second,
		SweepInterval:  time.Minute,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.FreshTTL <= 0 {
		o.FreshTTL = d.FreshTTL
	}
	if o.StaleTTL < o.FreshTTL {
		o.StaleTTL = o.FreshTTL
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = d.LoadTimeout
	}
	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = d.RefreshTimeout
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = d.SweepInterval
	}
	return o
}

// LookupRecorder receives one observation per SWR call
type LookupRecorder interface {
	RecordCacheLookup(ctx context.Context, namespace string, state string)
}

// Loader fetches the authoritative value for a key
type Loader[V any] func(ctx context.Context) (V, error)

// Namespace is a stale-while-revalidate cache for one kind of value.
// Lookups go L1 (in process) then L2 (Redis, optional). Fresh values are
// returned as is; stale values are returned while a background refresh runs;
// misses block on the loader. Concurrent loads of one key are coalesced.
type Namespace[V any] struct {
	name        string
	opts        Options
	l1          *memoryTier[V]
	l2          *RedisTier
	invalidator *Invalidator
	recorder    LookupRecorder
	logger      *zap.Logger
	now         func() time.Time

	group     singleflight.Group
	wg        sync.WaitGroup
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NamespaceOption is a functional option for configuring a namespace
type NamespaceOption func(*namespaceConfig)

type namespaceConfig struct {
	l2          *RedisTier
	invalidator *Invalidator
	recorder    LookupRecorder
	logger      *zap.Logger
	now         func() time.Time
}

// WithRedisTier enables the shared L2 tier
func WithRedisTier(tier *RedisTier) NamespaceOption {
	return func(c *namespaceConfig) {
		c.l2 = tier
	}
}

// WithInvalidator broadcasts purges to peers and registers the namespace for
// purges broadcast by them
func WithInvalidator(inv *Invalidator) NamespaceOption {
	return func(c *namespaceConfig) {
		c.invalidator = inv
	}
}

// WithLookupRecorder records hit/miss metrics
func WithLookupRecorder(r LookupRecorder) NamespaceOption {
	return func(c *namespaceConfig) {
		c.recorder = r
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) NamespaceOption {
	return func(c *namespaceConfig) {
		c.logger = logger
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) NamespaceOption {
	return func(c *namespaceConfig) {
		c.now = now
	}
}

// NewNamespace creates a namespace
func NewNamespace[V any](name string, opts Options, options ...NamespaceOption) *Namespace[V] {
	cfg := namespaceConfig{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range options {
		o(&cfg)
	}

	ns := &Namespace[V]{
		name:        name,
		opts:        opts.normalized(),
		l1:          newMemoryTier[V](),
		l2:          cfg.l2,
		invalidator: cfg.invalidator,
		recorder:    cfg.recorder,
		logger:      cfg.logger.With(zap.String("cache_namespace", name)),
		now:         cfg.now,
		stopCh:      make(chan struct{}),
	}
	if ns.invalidator != nil {
		ns.invalidator.Register(ns)
	}
	ns.wg.Add(1)
	go ns.sweepLoop()
	return ns
}

// Name returns the namespace name
func (n *Namespace[V]) Name() string {
	return n.name
}

// SWR returns the cached value for key, loading it when absent
func (n *Namespace[V]) SWR(ctx context.Context, key string, loader Loader[V]) (V, error) {
	gen := n.l1.generation(key)

	if e, state := n.lookup(ctx, key); state != StateMiss {
		n.record(ctx, state)
		if state == StateStale {
			n.revalidate(key, gen, loader)
		}
		return e.Value, nil
	}
	n.record(ctx, StateMiss)

	ch := n.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.opts.LoadTimeout)
		defer cancel()
		return n.load(loadCtx, key, gen, loader)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Set stores a value directly, bypassing the loader
func (n *Namespace[V]) Set(ctx context.Context, key string, value V) {
	n.store(ctx, key, n.l1.generation(key), value)
}

// Purge deletes key from both tiers and tells peers to drop their L1 copy.
// The broadcast is fire and forget; an L2 failure is returned.
func (n *Namespace[V]) Purge(ctx context.Context, key string) error {
	n.DropLocal(key)

	var err error
	if n.l2 != nil {
		err = n.l2.Delete(ctx, n.name, key)
	}
	if n.invalidator != nil {
		if pubErr := n.invalidator.Publish(ctx, n.name, key); pubErr != nil {
			n.logger.Warn("Failed to broadcast cache purge", zap.String("key", key), zap.Error(pubErr))
		}
	}
	return err
}

// DropLocal removes key from L1 only
func (n *Namespace[V]) DropLocal(key string) {
	n.l1.purge(key)
	n.group.Forget(key)
}

// Close stops the sweeper and waits for background refreshes to finish
func (n *Namespace[V]) Close() {
	n.closeOnce.Do(func() {
		close(n.stopCh)
	})
	n.wg.Wait()
}

func (n *Namespace[V]) sweepLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.sweep()
		}
	}
}

// sweep removes L1 entries past their stale window
func (n *Namespace[V]) sweep() {
	expired, stamps := n.l1.sweep(n.now())
	if expired > 0 || stamps > 0 {
		n.logger.Debug("Swept cache namespace",
			zap.Int("expired", expired),
			zap.Int("purge_stamps", stamps),
			zap.Int("remaining", n.l1.len()))
	}
}

func (n *Namespace[V]) lookup(ctx context.Context, key string) (Entry[V], State) {
	now := n.now()
	if e, ok := n.l1.get(key, now); ok {
		return e, e.StateAt(now)
	}
	if n.l2 == nil {
		return Entry[V]{}, StateMiss
	}

	data, err := n.l2.Get(ctx, n.name, key)
	if err != nil {
		n.logger.Warn("L2 cache read failed", zap.String("key", key), zap.Error(err))
		return Entry[V]{}, StateMiss
	}
	if data == nil {
		return Entry[V]{}, StateMiss
	}
	var e Entry[V]
	if err := json.Unmarshal(data, &e); err != nil {
		n.logger.Warn("Discarding undecodable L2 entry", zap.String("key", key), zap.Error(err))
		return Entry[V]{}, StateMiss
	}
	state := e.StateAt(now)
	if state != StateMiss {
		n.l1.setIf(key, e, n.l1.generation(key))
	}
	return e, state
}

func (n *Namespace[V]) load(ctx context.Context, key string, gen uint64, loader Loader[V]) (V, error) {
	v, err := loader(ctx)
	if err != nil {
		return v, err
	}
	n.store(ctx, key, gen, v)
	return v, nil
}

func (n *Namespace[V]) store(ctx context.Context, key string, gen uint64, v V) {
	now := n.now()
	e := Entry[V]{
		Value:      v,
		FetchedAt:  now,
		FreshUntil: now.Add(n.opts.FreshTTL),
		StaleUntil: now.Add(n.opts.StaleTTL),
	}
	if !n.l1.setIf(key, e, gen) {
		n.logger.Debug("Dropping load result for purged key", zap.String("key", key))
		return
	}
	if n.l2 == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		n.logger.Warn("Failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := n.l2.Set(ctx, n.name, key, data, n.opts.StaleTTL); err != nil {
		n.logger.Warn("L2 cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (n *Namespace[V]) revalidate(key string, gen uint64, loader Loader[V]) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				n.logger.Error("Panic in background refresh", zap.String("key", key), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), n.opts.RefreshTimeout)
		defer cancel()

		_, err, _ := n.group.Do(key, func() (any, error) {
			return n.load(ctx, key, gen, loader)
		})
		if err != nil {
			n.logger.Warn("Background refresh failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

func (n *Namespace[V]) record(ctx context.Context, state State) {
	if n.recorder != nil {
		n.recorder.RecordCacheLookup(ctx, n.name, string(state))
	}
}

// String implements fmt.Stringer
func (n *Namespace[V]) String() string {
	return fmt.Sprintf("cache.Namespace(%s, %d entries)", n.name, n.l1.len())
}
