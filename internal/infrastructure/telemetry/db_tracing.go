package telemetry

import (
	"errors"
	"fmt"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig configures spans for store queries.
type DBTracingConfig struct {
	Enabled bool
	// DBName is recorded as db.name on every span.
	DBName string
	// WithQueryVariables puts bound values into db.statement. Mapping rows
	// carry seller data, so keep it off outside development.
	WithQueryVariables bool
}

// RegisterDBTracing adds otelgorm spans to db, plus the affected table, row
// count and error status otelgorm leaves out. Spans join the trace carried
// by the statement context.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}

	// Registered ahead of otelgorm so they run before its after hooks end the span.
	cb := db.Callback()
	for _, reg := range []struct {
		name string
		add  func() error
	}{
		{"create", func() error { return cb.Create().After("gorm:create").Register("db_tracing:create", annotateSpan) }},
		{"query", func() error { return cb.Query().After("gorm:query").Register("db_tracing:query", annotateSpan) }},
		{"update", func() error { return cb.Update().After("gorm:update").Register("db_tracing:update", annotateSpan) }},
		{"delete", func() error { return cb.Delete().After("gorm:delete").Register("db_tracing:delete", annotateSpan) }},
		{"raw", func() error { return cb.Raw().After("gorm:raw").Register("db_tracing:raw", annotateSpan) }},
	} {
		if err := reg.add(); err != nil {
			return fmt.Errorf("register %s span callback: %w", reg.name, err)
		}
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBName)}
	if !cfg.WithQueryVariables {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return fmt.Errorf("register otelgorm: %w", err)
	}

	logger.Info("Store query tracing enabled",
		zap.String("db_name", cfg.DBName),
		zap.Bool("query_variables", cfg.WithQueryVariables))
	return nil
}

func annotateSpan(tx *gorm.DB) {
	if tx.Statement == nil || tx.Statement.Context == nil {
		return
	}
	span := trace.SpanFromContext(tx.Statement.Context)
	if !span.IsRecording() {
		return
	}
	if tx.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", tx.Statement.Table))
	}
	if tx.Statement.RowsAffected >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", tx.Statement.RowsAffected))
	}
	// A missing row is an answer, not a failure.
	if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, tx.Error.Error())
	}
}
