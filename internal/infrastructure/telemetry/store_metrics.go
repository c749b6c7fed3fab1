package telemetry

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// storeStartKey is the gorm instance key holding a statement's start time.
const storeStartKey = "store_metrics:start"

// StoreMetrics records mapping store and Sync Log query latency through gorm
// callbacks. Queries slower than the slow threshold are logged.
type StoreMetrics struct {
	queries       metric.Int64Counter
	queryDuration metric.Float64Histogram
	slowQueries   metric.Int64Counter

	slowThreshold time.Duration
	logger        *zap.Logger
}

// NewStoreMetrics creates the store instruments.
func NewStoreMetrics(meter metric.Meter, slowThreshold time.Duration, logger *zap.Logger) (*StoreMetrics, error) {
	if slowThreshold <= 0 {
		slowThreshold = 200 * time.Millisecond
	}
	b := &instruments{meter: meter}
	m := &StoreMetrics{
		queries:       b.counter("db_query_total", "Store queries by operation and table", "{query}"),
		queryDuration: b.seconds("db_query_duration_seconds", "Store query latency", DBDurationBuckets),
		slowQueries:   b.counter("db_slow_query_total", "Store queries slower than the slow threshold", "{query}"),
		slowThreshold: slowThreshold,
		logger:        logger,
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// Name implements gorm.Plugin.
func (m *StoreMetrics) Name() string {
	return "store_metrics"
}

// Initialize implements gorm.Plugin.
func (m *StoreMetrics) Initialize(db *gorm.DB) error {
	before := func(tx *gorm.DB) {
		tx.InstanceSet(storeStartKey, time.Now())
	}
	after := func(op string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			m.record(tx, op)
		}
	}

	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("store_metrics:before_create", before); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("store_metrics:after_create", after("INSERT")); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("store_metrics:before_query", before); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("store_metrics:after_query", after("SELECT")); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("store_metrics:before_update", before); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("store_metrics:after_update", after("UPDATE")); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("store_metrics:before_delete", before); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("store_metrics:after_delete", after("DELETE")); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").Register("store_metrics:before_raw", before); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("store_metrics:after_raw", after("")); err != nil {
		return err
	}
	return nil
}

func (m *StoreMetrics) record(tx *gorm.DB, op string) {
	v, ok := tx.InstanceGet(storeStartKey)
	if !ok {
		return
	}
	start, ok := v.(time.Time)
	if !ok {
		return
	}
	elapsed := time.Since(start)

	if op == "" {
		op = sqlOperation(tx.Statement.SQL.String())
	}
	table := tx.Statement.Table
	if table == "" {
		table = "unknown"
	}
	ctx := tx.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}

	attrs := metric.WithAttributes(AttrDBOperation.String(op), AttrDBTable.String(table))
	m.queries.Add(ctx, 1, attrs)
	m.queryDuration.Record(ctx, elapsed.Seconds(), attrs)
	if elapsed >= m.slowThreshold {
		m.slowQueries.Add(ctx, 1, attrs)
		m.logger.Warn("Slow store query",
			zap.String("operation", op),
			zap.String("table", table),
			zap.Duration("duration", elapsed))
	}
}

func sqlOperation(sql string) string {
	sql = strings.ToUpper(strings.TrimSpace(sql))
	for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.HasPrefix(sql, op) {
			return op
		}
	}
	return "OTHER"
}
