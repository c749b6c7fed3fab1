package integration

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// ProductMapping Tests
// ---------------------------------------------------------------------------

func TestNewProductMapping(t *testing.T) {
	t.Run("Valid mapping creation", func(t *testing.T) {
		mapping, err := NewProductMapping("P-1", MarketplaceTrendyol, "8680000000001", "SKU-1")
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, mapping.ID)
		assert.Equal(t, "P-1", mapping.LocalProductID)
		assert.Equal(t, MarketplaceTrendyol, mapping.Marketplace)
		assert.Equal(t, "8680000000001", mapping.RemoteProductID)
		assert.Equal(t, SyncStatusActive, mapping.SyncStatus)
		assert.NotNil(t, mapping.LastSyncedAt)
		assert.True(t, mapping.IsMapped())
	})

	t.Run("Invalid product ID", func(t *testing.T) {
		_, err := NewProductMapping("", MarketplaceTrendyol, "R-1", "")
		assert.ErrorIs(t, err, ErrMappingInvalidProductID)
	})

	t.Run("Invalid marketplace code", func(t *testing.T) {
		_, err := NewProductMapping("P-1", "", "R-1", "")
		assert.ErrorIs(t, err, ErrMarketplaceInvalidCode)
	})

	t.Run("Invalid remote ID", func(t *testing.T) {
		_, err := NewProductMapping("P-1", MarketplaceTrendyol, "", "")
		assert.ErrorIs(t, err, ErrMappingInvalidRemoteID)
	})
}

func TestProductMapping_CheckIdentity(t *testing.T) {
	mapping, err := NewProductMapping("P-1", MarketplaceAmazon, "ASIN-1", "SKU-1")
	require.NoError(t, err)

	assert.NoError(t, mapping.CheckIdentity("ASIN-1"))
	assert.NoError(t, mapping.CheckIdentity(""))

	err = mapping.CheckIdentity("ASIN-2")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "ASIN-1", conflict.ExistingRemoteID)
	assert.Equal(t, "ASIN-2", conflict.AttemptedRemote)
	assert.Equal(t, ErrorKindConflict, Classify(err))

	mapping.RemoteProductID = ""
	assert.NoError(t, mapping.CheckIdentity("ASIN-2"))
}

func TestProductMapping_SyncLifecycle(t *testing.T) {
	mapping, err := NewProductMapping("P-1", MarketplaceEbay, "SKU-1", "SKU-1")
	require.NoError(t, err)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mapping.RecordSyncFailure("remote deleted", at)
	assert.Equal(t, SyncStatusError, mapping.SyncStatus)
	assert.Equal(t, "remote deleted", mapping.LastError)

	mapping.RecordSyncSuccess(at.Add(time.Minute))
	assert.Equal(t, SyncStatusActive, mapping.SyncStatus)
	assert.Empty(t, mapping.LastError)

	assert.False(t, mapping.NeedsSync(at))
	assert.True(t, mapping.NeedsSync(at.Add(2*time.Minute)))

	mapping.LastSyncedAt = nil
	assert.True(t, mapping.NeedsSync(at))
}

func TestProductMapping_Validate(t *testing.T) {
	mapping := &ProductMapping{LocalProductID: "P-1", Marketplace: MarketplaceTrendyol, SyncStatus: SyncStatusPending}
	assert.NoError(t, mapping.Validate())

	mapping.SyncStatus = "bogus"
	assert.Error(t, mapping.Validate())
}

func TestCategoryMapping_Validate(t *testing.T) {
	m := &CategoryMapping{LocalCategoryID: "C-1", Marketplace: MarketplaceTrendyol, RemoteCategoryID: "411"}
	assert.NoError(t, m.Validate())

	m.RemoteCategoryID = ""
	assert.ErrorIs(t, m.Validate(), ErrCategoryMappingInvalid)
}
