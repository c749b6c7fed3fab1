package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

const (
	syncLogDefaultLimit  = 100
	syncLogAppendRetries = 10
)

// GormSyncLogRepository implements integration.SyncLog using GORM.
// Rows are only ever inserted; there is no update or delete path.
type GormSyncLogRepository struct {
	db *gorm.DB
}

// NewGormSyncLogRepository creates a new GormSyncLogRepository
func NewGormSyncLogRepository(db *gorm.DB) *GormSyncLogRepository {
	return &GormSyncLogRepository{db: db}
}

// Append assigns the next attempt number for the entity and inserts the row.
// Two writers picking the same number collide on idx_sync_log_attempt and the
// loser retries with a fresh number.
func (r *GormSyncLogRepository) Append(ctx context.Context, entry *integration.SyncLogEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	var lastErr error
	for range syncLogAppendRetries {
		next, err := r.nextAttempt(ctx, entry)
		if err != nil {
			return err
		}
		entry.AttemptNumber = next

		err = r.db.WithContext(ctx).Create(models.SyncLogEntryModelFromDomain(entry)).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("append sync log: %w", err)
		}
		lastErr = err
		entry.ID = uuid.New()
	}
	return fmt.Errorf("append sync log: attempt number contention: %w", lastErr)
}

func (r *GormSyncLogRepository) nextAttempt(ctx context.Context, entry *integration.SyncLogEntry) (int, error) {
	var maxAttempt *int
	err := r.db.WithContext(ctx).
		Model(&models.SyncLogEntryModel{}).
		Select("MAX(attempt_number)").
		Where("marketplace_code = ? AND entity_type = ? AND entity_id = ?", entry.Marketplace, entry.EntityType, entry.EntityID).
		Scan(&maxAttempt).Error
	if err != nil {
		return 0, fmt.Errorf("read last attempt number: %w", err)
	}
	if maxAttempt == nil {
		return 1, nil
	}
	return *maxAttempt + 1, nil
}

// Query returns rows matching the filter, newest first
func (r *GormSyncLogRepository) Query(ctx context.Context, filter integration.SyncLogFilter) ([]integration.SyncLogEntry, error) {
	query := r.db.WithContext(ctx).Model(&models.SyncLogEntryModel{})

	if filter.Marketplace != "" {
		query = query.Where("marketplace_code = ?", filter.Marketplace)
	}
	if filter.EntityType != "" {
		query = query.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != "" {
		query = query.Where("entity_id = ?", filter.EntityID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		query = query.Where("status IN ?", statuses)
	}
	if !filter.From.IsZero() {
		query = query.Where("finished_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("finished_at < ?", filter.To)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = syncLogDefaultLimit
	}

	var rows []models.SyncLogEntryModel
	if err := query.
		Order("finished_at DESC").
		Order("attempt_number DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	entries := make([]integration.SyncLogEntry, len(rows))
	for i := range rows {
		entries[i] = rows[i].ToDomain()
	}
	return entries, nil
}

// Ensure GormSyncLogRepository implements SyncLog
var _ integration.SyncLog = (*GormSyncLogRepository)(nil)
