package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormPendingEventRepository implements integration.PendingEventRepository using GORM
type GormPendingEventRepository struct {
	db    *gorm.DB
	lease time.Duration
}

// PendingEventRepositoryOption configures a GormPendingEventRepository
type PendingEventRepositoryOption func(*GormPendingEventRepository)

// WithProcessingLease sets how long a claim holds before the row can be claimed again
func WithProcessingLease(lease time.Duration) PendingEventRepositoryOption {
	return func(r *GormPendingEventRepository) {
		if lease > 0 {
			r.lease = lease
		}
	}
}

// NewGormPendingEventRepository creates a new GORM-based pending event repository
func NewGormPendingEventRepository(db *gorm.DB, opts ...PendingEventRepositoryOption) *GormPendingEventRepository {
	r := &GormPendingEventRepository{db: db, lease: integration.DefaultPendingProcessingLease}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Save persists one or more entries
func (r *GormPendingEventRepository) Save(ctx context.Context, entries ...*integration.PendingSyncEvent) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]*models.PendingSyncEventModel, len(entries))
	for i, e := range entries {
		rows[i] = models.PendingSyncEventModelFromDomain(e)
	}
	return r.db.WithContext(ctx).Create(rows).Error
}

// FindDue retrieves PENDING entries, FAILED entries whose retry time has passed
// and PROCESSING entries left behind by a replayer that died holding the claim
func (r *GormPendingEventRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*integration.PendingSyncEvent, error) {
	var rows []models.PendingSyncEventModel
	err := r.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND next_retry_at <= ?) OR (status = ? AND updated_at <= ?)",
			integration.PendingStatusPending,
			integration.PendingStatusFailed, now,
			integration.PendingStatusProcessing, now.Add(-r.lease)).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toPendingDomain(rows), nil
}

// MarkProcessing claims entries for this caller. The conditional update only
// matches rows still PENDING or FAILED, or PROCESSING past the lease, so each
// row is claimed by one caller; the claim token identifies which rows this
// caller won.
func (r *GormPendingEventRepository) MarkProcessing(ctx context.Context, ids []uuid.UUID) ([]*integration.PendingSyncEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	now := time.Now()
	token := uuid.New()
	result := r.db.WithContext(ctx).
		Model(&models.PendingSyncEventModel{}).
		Where("id IN ?", ids).
		Where("status IN ? OR (status = ? AND updated_at <= ?)", []string{
			string(integration.PendingStatusPending),
			string(integration.PendingStatusFailed),
		}, string(integration.PendingStatusProcessing), now.Add(-r.lease)).
		Updates(map[string]any{
			"status":      string(integration.PendingStatusProcessing),
			"claim_token": token,
			"updated_at":  now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	var rows []models.PendingSyncEventModel
	if err := r.db.WithContext(ctx).
		Where("claim_token = ?", token).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toPendingDomain(rows), nil
}

// Update updates an existing entry and releases its claim
func (r *GormPendingEventRepository) Update(ctx context.Context, entry *integration.PendingSyncEvent) error {
	model := models.PendingSyncEventModelFromDomain(entry)
	return r.db.WithContext(ctx).
		Model(&models.PendingSyncEventModel{}).
		Where("id = ?", entry.ID).
		Updates(map[string]any{
			"status":        model.Status,
			"retry_count":   model.RetryCount,
			"last_error":    model.LastError,
			"next_retry_at": model.NextRetryAt,
			"processed_at":  model.ProcessedAt,
			"claim_token":   nil,
			"updated_at":    model.UpdatedAt,
		}).Error
}

// DeleteSentBefore deletes SENT entries processed before the given time
func (r *GormPendingEventRepository) DeleteSentBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", integration.PendingStatusSent, before).
		Delete(&models.PendingSyncEventModel{})
	return result.RowsAffected, result.Error
}

// CountByStatus returns count of entries for each status
func (r *GormPendingEventRepository) CountByStatus(ctx context.Context) (map[integration.PendingStatus]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}

	var results []statusCount
	err := r.db.WithContext(ctx).
		Model(&models.PendingSyncEventModel{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[integration.PendingStatus]int64, len(results))
	for _, sc := range results {
		counts[integration.PendingStatus(sc.Status)] = sc.Count
	}
	return counts, nil
}

func toPendingDomain(rows []models.PendingSyncEventModel) []*integration.PendingSyncEvent {
	out := make([]*integration.PendingSyncEvent, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out
}

// Ensure GormPendingEventRepository implements PendingEventRepository
var _ integration.PendingEventRepository = (*GormPendingEventRepository)(nil)
