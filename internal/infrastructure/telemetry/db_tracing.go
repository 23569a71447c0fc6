package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSlowQuery = 200 * time.Millisecond

// DBTracing configures statement spans. IncludeVars keeps bound values in
// the recorded SQL and must stay off wherever customer data is sensitive.
type DBTracing struct {
	Enabled       bool
	IncludeVars   bool
	SlowThreshold time.Duration
	System        string
}

type queryStartKey struct{}

// InstrumentDB installs otelgorm on db plus callbacks that add the table,
// the row count and a slow-query event to each statement span. Disabled
// tracing leaves db untouched.
func InstrumentDB(db *gorm.DB, cfg DBTracing, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Debug("Database tracing disabled")
		return nil
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = defaultSlowQuery
	}
	if cfg.System == "" {
		cfg.System = "postgresql"
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.System)}
	if !cfg.IncludeVars {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return fmt.Errorf("failed to install otelgorm: %w", err)
	}
	a := &spanAnnotator{slow: cfg.SlowThreshold}
	if err := a.install(db); err != nil {
		return err
	}

	logger.Info("Database tracing enabled",
		zap.String("db_system", cfg.System),
		zap.Bool("include_vars", cfg.IncludeVars),
		zap.Duration("slow_threshold", cfg.SlowThreshold))
	return nil
}

type spanAnnotator struct {
	slow time.Duration
}

type registrar interface {
	Register(name string, fn func(*gorm.DB)) error
}

// install hooks every operation twice: before GORM runs it, and after it
// ran but before otelgorm ends the span
func (a *spanAnnotator) install(db *gorm.DB) error {
	cb := db.Callback()
	ops := []struct {
		op            string
		before, after registrar
	}{
		{"create", cb.Create().Before("gorm:create"), cb.Create().After("gorm:create").Before("otel:after:create")},
		{"query", cb.Query().Before("gorm:query"), cb.Query().After("gorm:query").Before("otel:after:select")},
		{"update", cb.Update().Before("gorm:update"), cb.Update().After("gorm:update").Before("otel:after:update")},
		{"delete", cb.Delete().Before("gorm:delete"), cb.Delete().After("gorm:delete").Before("otel:after:delete")},
		{"row", cb.Row().Before("gorm:row"), cb.Row().After("gorm:row").Before("otel:after:row")},
		{"raw", cb.Raw().Before("gorm:raw"), cb.Raw().After("gorm:raw").Before("otel:after:raw")},
	}
	for _, o := range ops {
		if err := o.before.Register("meter:trace:start_"+o.op, a.start); err != nil {
			return fmt.Errorf("failed to register %s start hook: %w", o.op, err)
		}
		if err := o.after.Register("meter:trace:end_"+o.op, a.annotate); err != nil {
			return fmt.Errorf("failed to register %s end hook: %w", o.op, err)
		}
	}
	return nil
}

func (a *spanAnnotator) start(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, queryStartKey{}, time.Now())
	}
}

func (a *spanAnnotator) annotate(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	if db.Statement.RowsAffected >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	}
	// missing rows are an answer, not a failure
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.RecordError(db.Error)
		span.SetStatus(codes.Error, db.Error.Error())
	}

	began, ok := ctx.Value(queryStartKey{}).(time.Time)
	if !ok {
		return
	}
	if elapsed := time.Since(began); elapsed > a.slow {
		ms := elapsed.Milliseconds()
		span.SetAttributes(attribute.Bool("db.slow_query", true), attribute.Int64("db.query_duration_ms", ms))
		span.AddEvent("slow_query", trace.WithAttributes(
			attribute.Int64("duration_ms", ms),
			attribute.Int64("threshold_ms", a.slow.Milliseconds())))
	}
}
