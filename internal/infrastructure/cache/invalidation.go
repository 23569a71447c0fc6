package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultInvalidationChannel is the Pub/Sub channel peers listen on
	DefaultInvalidationChannel = "meter:cache:invalidate"

	defaultCloseTimeout = 5 * time.Second
)

// InvalidationMessage asks every instance to drop its L1 copy of a key
type InvalidationMessage struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Origin    string `json:"origin"`
	Timestamp int64  `json:"timestamp"`
}

// LocalPurger is a namespace that can drop its in-process copy of a key
type LocalPurger interface {
	Name() string
	DropLocal(key string)
}

// Invalidator broadcasts purges over Redis Pub/Sub and applies purges
// broadcast by other instances to the registered namespaces
type Invalidator struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *zap.Logger

	regMu      sync.RWMutex
	namespaces map[string]LocalPurger

	mu        sync.Mutex
	cancelFn  context.CancelFunc
	isRunning bool
	doneCh    chan struct{}
	doneOnce  sync.Once
}

// InvalidatorOption is a functional option for configuring the invalidator
type InvalidatorOption func(*Invalidator)

// WithInvalidationChannel sets the Pub/Sub channel name
func WithInvalidationChannel(channel string) InvalidatorOption {
	return func(i *Invalidator) {
		if channel != "" {
			i.channel = channel
		}
	}
}

// WithInvalidatorLogger sets the logger for the invalidator
func WithInvalidatorLogger(logger *zap.Logger) InvalidatorOption {
	return func(i *Invalidator) {
		i.logger = logger
	}
}

// NewInvalidator creates an invalidator on an existing client. The caller
// keeps ownership of the client.
func NewInvalidator(client *redis.Client, opts ...InvalidatorOption) *Invalidator {
	i := &Invalidator{
		client:     client,
		channel:    DefaultInvalidationChannel,
		origin:     uuid.NewString(),
		logger:     zap.NewNop(),
		namespaces: make(map[string]LocalPurger),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Register routes incoming messages for ns.Name() to ns
func (i *Invalidator) Register(ns LocalPurger) {
	i.regMu.Lock()
	i.namespaces[ns.Name()] = ns
	i.regMu.Unlock()
}

// Publish broadcasts a purge of namespace/key
func (i *Invalidator) Publish(ctx context.Context, namespace, key string) error {
	data, err := json.Marshal(InvalidationMessage{
		Namespace: namespace,
		Key:       key,
		Origin:    i.origin,
		Timestamp: time.Now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation: %w", err)
	}
	if err := i.client.Publish(ctx, i.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	i.logger.Debug("Published cache invalidation",
		zap.String("namespace", namespace),
		zap.String("key", key))
	return nil
}

// Run listens for invalidations until ctx is canceled or Close is called.
// It blocks; ready, when non-nil, is closed once the subscription is confirmed.
func (i *Invalidator) Run(ctx context.Context, ready chan<- struct{}) error {
	i.mu.Lock()
	if i.isRunning {
		i.mu.Unlock()
		return fmt.Errorf("invalidation subscription already running")
	}
	i.isRunning = true
	subCtx, cancel := context.WithCancel(ctx)
	i.cancelFn = cancel
	i.mu.Unlock()

	defer func() {
		i.mu.Lock()
		i.isRunning = false
		i.mu.Unlock()
		i.doneOnce.Do(func() { close(i.doneCh) })
	}()

	pubsub := i.client.Subscribe(subCtx, i.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	i.logger.Info("Subscribed to cache invalidation channel", zap.String("channel", i.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			i.logger.Info("Cache invalidation subscription stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				i.logger.Warn("Cache invalidation channel closed")
				return nil
			}
			i.handle(msg.Payload)
		}
	}
}

func (i *Invalidator) handle(payload string) {
	var msg InvalidationMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		i.logger.Error("Failed to unmarshal invalidation message",
			zap.String("payload", payload),
			zap.Error(err))
		return
	}
	if msg.Origin == i.origin {
		return
	}

	i.regMu.RLock()
	ns, ok := i.namespaces[msg.Namespace]
	i.regMu.RUnlock()
	if !ok {
		return
	}
	ns.DropLocal(msg.Key)
	i.logger.Debug("Dropped L1 entry on remote invalidation",
		zap.String("namespace", msg.Namespace),
		zap.String("key", msg.Key))
}

// Close stops a running subscription
func (i *Invalidator) Close() error {
	i.mu.Lock()
	cancelFn := i.cancelFn
	i.mu.Unlock()

	if cancelFn == nil {
		return nil
	}
	cancelFn()
	select {
	case <-i.doneCh:
	case <-time.After(defaultCloseTimeout):
		i.logger.Warn("Timeout waiting for invalidation subscription to stop")
	}
	return nil
}
