package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schoolerp/backend/internal/infrastructure/config"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSlowQueryThresh = 200 * time.Millisecond

type contextKey string

const queryStartKey contextKey = "otel_query_start"

// DBTracing installs otelgorm on a gorm handle and flags slow statements on
// the active span.
type DBTracing struct {
	enabled    bool
	fullSQL    bool
	slowThresh time.Duration
	dbSystem   string
	provider   trace.TracerProvider
	logger     *zap.Logger
}

// DBTracingOption customizes DBTracing.
type DBTracingOption func(*DBTracing)

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) DBTracingOption {
	return func(d *DBTracing) { d.provider = tp }
}

// WithDBSystem sets the db.system attribute (default "postgresql").
func WithDBSystem(name string) DBTracingOption {
	return func(d *DBTracing) { d.dbSystem = name }
}

// NewDBTracing reads the db_* telemetry settings.
func NewDBTracing(cfg config.TelemetryConfig, logger *zap.Logger, opts ...DBTracingOption) *DBTracing {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &DBTracing{
		enabled:    cfg.Enabled && cfg.DBTraceEnabled,
		fullSQL:    cfg.DBLogFullSQL,
		slowThresh: cfg.DBSlowQueryThresh,
		dbSystem:   "postgresql",
		logger:     logger,
	}
	if d.slowThresh <= 0 {
		d.slowThresh = defaultSlowQueryThresh
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register attaches the plugin and timing callbacks. It is a no-op when
// database tracing is off.
func (d *DBTracing) Register(db *gorm.DB) error {
	if !d.enabled {
		return nil
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(d.dbSystem)}
	if !d.fullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if d.provider != nil {
		opts = append(opts, otelgorm.WithTracerProvider(d.provider))
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	cb := db.Callback()
	registrations := []struct {
		name   string
		before func() error
		after  func() error
	}{
		{"create",
			func() error { return cb.Create().Before("gorm:create").Register("slowq:before_create", d.before) },
			func() error { return cb.Create().After("gorm:create").Register("slowq:after_create", d.after) }},
		{"query",
			func() error { return cb.Query().Before("gorm:query").Register("slowq:before_query", d.before) },
			func() error { return cb.Query().After("gorm:query").Register("slowq:after_query", d.after) }},
		{"update",
			func() error { return cb.Update().Before("gorm:update").Register("slowq:before_update", d.before) },
			func() error { return cb.Update().After("gorm:update").Register("slowq:after_update", d.after) }},
		{"delete",
			func() error { return cb.Delete().Before("gorm:delete").Register("slowq:before_delete", d.before) },
			func() error { return cb.Delete().After("gorm:delete").Register("slowq:after_delete", d.after) }},
		{"raw",
			func() error { return cb.Raw().Before("gorm:raw").Register("slowq:before_raw", d.before) },
			func() error { return cb.Raw().After("gorm:raw").Register("slowq:after_raw", d.after) }},
	}
	for _, r := range registrations {
		if err := errors.Join(r.before(), r.after()); err != nil {
			return fmt.Errorf("register %s timing callbacks: %w", r.name, err)
		}
	}

	d.logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", d.fullSQL),
		zap.Duration("slow_query_threshold", d.slowThresh),
	)
	return nil
}

func (d *DBTracing) before(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, queryStartKey, time.Now())
	}
}

func (d *DBTracing) after(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	start, ok := ctx.Value(queryStartKey).(time.Time)
	if !ok {
		return
	}
	elapsed := time.Since(start)
	if elapsed <= d.slowThresh {
		return
	}

	d.logger.Warn("Slow query",
		zap.String("table", db.Statement.Table),
		zap.Duration("elapsed", elapsed),
	)
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.Bool("db.slow_query", true),
		attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
	)
}
