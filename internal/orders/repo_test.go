package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shipvox/shipvox-backend/pkg/db/models"
	"github.com/shipvox/shipvox-backend/pkg/enums"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  awb TEXT NOT NULL UNIQUE,
  category TEXT NOT NULL,
  customer_name TEXT NOT NULL DEFAULT '',
  customer_phone TEXT NOT NULL DEFAULT '',
  customer_address TEXT NOT NULL DEFAULT '',
  customer_pincode TEXT NOT NULL DEFAULT '',
  cod_amount TEXT NOT NULL DEFAULT '',
  weight TEXT NOT NULL DEFAULT '',
  order_date TEXT NOT NULL DEFAULT '',
  tracking_url TEXT NOT NULL DEFAULT '',
  current_status TEXT NOT NULL DEFAULT '',
  last_scan TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  synced_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	t.Cleanup(func() {
		_ = db.Exec(`DELETE FROM orders`).Error
	})
	return db
}

func seedOrder(t *testing.T, db *gorm.DB, awb string, category enums.OrderCategory, status string) models.Order {
	t.Helper()
	order := models.Order{
		ID:            uuid.New(),
		AWB:           awb,
		Category:      category,
		CustomerName:  "Asha",
		CustomerPhone: "9876543210",
		CurrentStatus: status,
		SyncedAt:      time.Now().UTC(),
	}
	require.NoError(t, db.Create(&order).Error)
	return order
}

func TestRepository_ListCallable(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seedOrder(t, db, "AWB1", enums.OrderCategoryOutForDelivery, "Out For Delivery")
	seedOrder(t, db, "AWB2", enums.OrderCategoryUndelivered, "Undelivered")
	seedOrder(t, db, "AWB3", enums.OrderCategoryInTransit, "In Transit")

	rows, err := repo.ListCallable(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	for _, row := range rows {
		assert.True(t, row.Category.Callable())
	}

	count, err := repo.CountCallable(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestRepository_GetByAWB(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seeded := seedOrder(t, db, "AWB10", enums.OrderCategoryOutForDelivery, "Out For Delivery")

	found, err := repo.GetByAWB(ctx, "AWB10")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, found.ID)

	_, err = repo.GetByAWB(ctx, "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepository_DeleteCallable(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seedOrder(t, db, "AWB20", enums.OrderCategoryOutForDelivery, "Out For Delivery")
	seedOrder(t, db, "AWB21", enums.OrderCategoryUndelivered, "Undelivered")
	seedOrder(t, db, "AWB22", enums.OrderCategoryInTransit, "In Transit")

	deleted, err := repo.DeleteCallable(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	count, err := repo.CountCallable(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// non-callable rows survive the daily reset
	remaining, err := repo.ListByAWBs(ctx, []string{"AWB22"})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestRepository_DeleteByIDs(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	delivered := seedOrder(t, db, "AWB30", enums.OrderCategoryOutForDelivery, "Delivered to consignee")
	seedOrder(t, db, "AWB31", enums.OrderCategoryOutForDelivery, "Out For Delivery")

	deleted, err := repo.DeleteByIDs(ctx, []string{delivered.ID.String()})
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	count, err := repo.CountCallable(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestIsTerminalStatus(t *testing.T) {
	assert.True(t, IsTerminalStatus("Delivered to consignee"))
	assert.True(t, IsTerminalStatus("RTO In Transit"))
	assert.True(t, IsTerminalStatus("Shipment CANCELLED"))
	assert.False(t, IsTerminalStatus("Out For Delivery"))
	assert.False(t, IsTerminalStatus("Undelivered - address issue"))
}
