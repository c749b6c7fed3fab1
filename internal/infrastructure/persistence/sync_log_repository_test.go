package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func logEntry(entityID string, status integration.SyncLogStatus, at time.Time) *integration.SyncLogEntry {
	return &integration.SyncLogEntry{
		Marketplace: integration.MarketplaceHepsiburada,
		EntityType:  integration.EntityInventory,
		EntityID:    entityID,
		Operation:   integration.OperationUpdateStock,
		Status:      status,
		StartedAt:   at,
		FinishedAt:  at,
	}
}

func TestGormSyncLogRepository_AttemptNumbersIncrease(t *testing.T) {
	ctx := context.Background()
	repo := NewGormSyncLogRepository(setupTestDB(t))
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, status := range []integration.SyncLogStatus{integration.SyncLogRetrying, integration.SyncLogRetrying, integration.SyncLogSuccess} {
		e := logEntry("P1", status, t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, repo.Append(ctx, e))
		assert.Equal(t, i+1, e.AttemptNumber)
	}

	other := logEntry("P2", integration.SyncLogFailed, t0)
	require.NoError(t, repo.Append(ctx, other))
	assert.Equal(t, 1, other.AttemptNumber, "numbering is per entity")

	rows, err := repo.Query(ctx, integration.SyncLogFilter{EntityID: "P1"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 3, rows[0].AttemptNumber, "newest first")
	assert.Equal(t, integration.SyncLogSuccess, rows[0].Status)
}

func TestGormSyncLogRepository_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	repo := NewGormSyncLogRepository(setupTestDB(t))
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.Append(ctx, logEntry("P1", integration.SyncLogRetrying, now)))
		}()
	}
	wg.Wait()

	rows, err := repo.Query(ctx, integration.SyncLogFilter{EntityID: "P1", Limit: 50})
	require.NoError(t, err)
	require.Len(t, rows, 10)
	seen := map[int]bool{}
	for _, r := range rows {
		assert.False(t, seen[r.AttemptNumber], "attempt %d recorded twice", r.AttemptNumber)
		seen[r.AttemptNumber] = true
	}
}

func TestGormSyncLogRepository_QueryFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewGormSyncLogRepository(setupTestDB(t))
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(ctx, logEntry("P1", integration.SyncLogFailed, t0)))
	require.NoError(t, repo.Append(ctx, logEntry("P2", integration.SyncLogSuccess, t0.Add(time.Minute))))
	require.NoError(t, repo.Append(ctx, logEntry("P3", integration.SyncLogAbandoned, t0.Add(2*time.Minute))))

	failed, err := repo.Query(ctx, integration.SyncLogFilter{
		Marketplace: integration.MarketplaceHepsiburada,
		Statuses:    []integration.SyncLogStatus{integration.SyncLogFailed, integration.SyncLogAbandoned},
	})
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	window, err := repo.Query(ctx, integration.SyncLogFilter{From: t0.Add(30 * time.Second), To: t0.Add(90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "P2", window[0].EntityID)

	limited, err := repo.Query(ctx, integration.SyncLogFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "P3", limited[0].EntityID)
}

func TestGormSyncLogRepository_RejectsInvalidEntry(t *testing.T) {
	repo := NewGormSyncLogRepository(setupTestDB(t))
	err := repo.Append(context.Background(), &integration.SyncLogEntry{Marketplace: integration.MarketplaceAmazon})
	assert.ErrorIs(t, err, integration.ErrSyncLogInvalidEntry)
}

func TestGormSyncLogRepository_PropagatesDatabaseErrors(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT MAX\(attempt_number\) FROM "sync_log_entries"`).
		WillReturnError(assert.AnError)

	repo := NewGormSyncLogRepository(gormDB)
	err = repo.Append(context.Background(), logEntry("P1", integration.SyncLogSuccess, time.Now()))
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
