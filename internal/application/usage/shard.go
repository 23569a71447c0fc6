package usage

import (
	"context"
	"time"

	"github.com/saasdash/backend/internal/domain/billing"
	"github.com/saasdash/backend/internal/domain/shared"
	"go.uber.org/zap"
)

type opKind int

const (
	opIncrement opKind = iota
	opRead
)

type op struct {
	kind  opKind
	ctx   context.Context
	key   string
	req   UsageRequest
	reply chan opReply
}

type opReply struct {
	result UsageResult
	err    error
}

// maxSeededKeys bounds the per-shard memo of counters known to exist
const maxSeededKeys = 50_000

// shard owns every counter key the ring maps to it. It is the only writer of
// those counters, so increments for one key are applied in arrival order.
type shard struct {
	id      int
	l       *Limiter
	mailbox chan *op
	seeded  map[string]struct{}
	pending []*billing.UsageRecord
	logger  *zap.Logger
}

func newShard(id int, l *Limiter) *shard {
	return &shard{
		id:      id,
		l:       l,
		mailbox: make(chan *op, l.cfg.MailboxSize),
		seeded:  make(map[string]struct{}),
		logger:  l.logger.With(zap.Int("shard", id)),
	}
}

func (s *shard) run() {
	ticker := time.NewTicker(s.l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case o, ok := <-s.mailbox:
			if !ok {
				s.flush()
				if len(s.pending) > 0 {
					s.logger.Error("Dropping unflushed usage records on shutdown", zap.Int("count", len(s.pending)))
				}
				return
			}
			s.handle(o)
		case <-ticker.C:
			s.flush()
		}
	}
}

func (s *shard) handle(o *op) {
	replied := false
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in usage shard", zap.String("key", o.key), zap.Any("panic", r))
			if !replied {
				o.reply <- opReply{err: shared.ErrLimiterUnavailable.WithMessage("usage shard failed")}
			}
		}
	}()

	// The caller may give up waiting; the operation still completes so that
	// a counted request is never lost.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), s.l.cfg.StoreTimeout)
	defer cancel()

	switch o.kind {
	case opIncrement:
		result, err := s.increment(ctx, o.key, o.req)
		o.reply <- opReply{result: result, err: err}
	case opRead:
		usage, err := s.ensureSeeded(ctx, o.key, o.req)
		o.reply <- opReply{result: UsageResult{CurrentUsage: usage, Accepted: true}, err: err}
	}
	replied = true
}

func (s *shard) increment(ctx context.Context, key string, req UsageRequest) (UsageResult, error) {
	if _, known := s.seeded[key]; !known {
		if _, err := s.ensureSeeded(ctx, key, req); err != nil {
			return UsageResult{}, err
		}
	}

	total, applied, err := s.l.store.Increment(ctx, key, req.Delta,
		dedupeKey(req.CustomerID, req.FeatureSlug, req.IdempotencyKey),
		s.l.cfg.DedupeWindow, s.l.counterTTL(req.Cycle))
	if err != nil {
		s.logger.Error("Usage counter increment failed", zap.String("key", key), zap.Error(err))
		return UsageResult{}, shared.ErrLimiterUnavailable.Wrap(err)
	}

	if applied {
		s.buffer(req)
	}

	return UsageResult{
		Accepted:     req.Limit == nil || total <= *req.Limit,
		CurrentUsage: total,
		Duplicate:    !applied,
	}, nil
}

// ensureSeeded makes sure the live counter exists, initialising it from the
// usage log when it does not (cold start, eviction, or a new cycle)
func (s *shard) ensureSeeded(ctx context.Context, key string, req UsageRequest) (int64, error) {
	current, exists, err := s.l.store.Get(ctx, key)
	if err != nil {
		s.logger.Error("Usage counter read failed", zap.String("key", key), zap.Error(err))
		return 0, shared.ErrLimiterUnavailable.Wrap(err)
	}
	if exists {
		s.remember(key)
		return current, nil
	}
	if _, known := s.seeded[key]; known {
		s.logger.Warn("Usage counter vanished, reseeding from the usage log", zap.String("key", key))
	}

	var total int64
	if s.l.records != nil {
		total, err = s.l.records.SumSince(ctx, req.CustomerID, req.FeatureSlug, req.Cycle.StartAt)
		if err != nil {
			s.logger.Error("Usage log sum failed", zap.String("key", key), zap.Error(err))
			return 0, shared.ErrLimiterUnavailable.Wrap(err)
		}
	}
	total += s.pendingSum(req)

	seeded, err := s.l.store.SeedIfAbsent(ctx, key, total, s.l.counterTTL(req.Cycle))
	if err != nil {
		s.logger.Error("Usage counter seed failed", zap.String("key", key), zap.Error(err))
		return 0, shared.ErrLimiterUnavailable.Wrap(err)
	}
	s.remember(key)
	return seeded, nil
}

func (s *shard) remember(key string) {
	if len(s.seeded) >= maxSeededKeys {
		s.seeded = make(map[string]struct{})
	}
	s.seeded[key] = struct{}{}
}

// pendingSum is the usage buffered on this shard but not yet in the log
func (s *shard) pendingSum(req UsageRequest) int64 {
	var sum int64
	for _, r := range s.pending {
		if r.CustomerID == req.CustomerID && r.FeatureSlug == req.FeatureSlug && !r.RecordedAt.Before(req.Cycle.StartAt) {
			sum += r.Delta
		}
	}
	return sum
}

func (s *shard) buffer(req UsageRequest) {
	if s.l.records == nil {
		return
	}
	rec, err := billing.NewUsageRecord(req.CustomerID, req.ProjectID, req.FeatureSlug, req.Delta, req.IdempotencyKey, req.RecordedAt)
	if err != nil {
		s.logger.Error("Invalid usage record", zap.Error(err))
		return
	}
	s.pending = append(s.pending, rec)
	if len(s.pending) >= s.l.cfg.FlushBatchSize {
		s.flush()
	}
}

// flush writes buffered records to the usage log. On failure the records are
// kept for the next attempt, up to a bound.
func (s *shard) flush() {
	if len(s.pending) == 0 || s.l.records == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.l.cfg.StoreTimeout)
	defer cancel()

	batch := s.pending
	skipped, err := s.l.records.SaveBatch(ctx, batch)
	if err != nil {
		limit := s.l.cfg.FlushBatchSize * 10
		if len(s.pending) > limit {
			dropped := len(s.pending) - limit
			s.pending = s.pending[dropped:]
			s.logger.Error("Usage log backlog full, dropping oldest records",
				zap.Int("dropped", dropped), zap.Error(err))
			return
		}
		s.logger.Warn("Usage log flush failed, will retry",
			zap.Int("records", len(batch)), zap.Error(err))
		return
	}

	if len(skipped) > 0 {
		s.reportReplays(skipped)
	}
	s.pending = nil
	s.logger.Debug("Flushed usage records", zap.Int("records", len(batch)-len(skipped)))
}

// reportReplays logs records the log refused because their key was already
// stored. That happens when a key is replayed after the live dedupe window
// has lapsed: the counter applied it, the log did not. Counters never go
// down inside a cycle, so the live total stays ahead of the log until it is
// next seeded from the log.
func (s *shard) reportReplays(skipped []*billing.UsageRecord) {
	var over int64
	for _, r := range skipped {
		over += r.Delta
	}
	s.logger.Warn("Usage keys replayed after the dedupe window; live counters are ahead of the usage log",
		zap.Int("records", len(skipped)),
		zap.Int64("delta", over))
}
