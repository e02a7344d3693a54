package orders

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/shipvox/shipvox-backend/pkg/db/models"
	"github.com/shipvox/shipvox-backend/pkg/enums"
)

// CleanupStatuses are the terminal courier statuses that disqualify an order
// from further calling. Matching is case-insensitive substring; "delivered"
// must not swallow "undelivered".
var CleanupStatuses = []string{
	"delivered",
	"rto",
	"cancelled",
	"lost",
	"damaged",
	"returned",
}

// Repository exposes persistence helpers for cached shipment orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetByAWB(ctx context.Context, awb string) (*models.Order, error)
	ListByAWBs(ctx context.Context, awbs []string) ([]models.Order, error)
	ListCallable(ctx context.Context) ([]models.Order, error)
	CountCallable(ctx context.Context) (int64, error)
	CreateBatch(ctx context.Context, rows []models.Order) error
	Save(ctx context.Context, order *models.Order) error
	DeleteCallable(ctx context.Context) (int64, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an orders repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) GetByAWB(ctx context.Context, awb string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where("awb = ?", awb).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repositoryImpl) ListByAWBs(ctx context.Context, awbs []string) ([]models.Order, error) {
	if len(awbs) == 0 {
		return nil, nil
	}
	var rows []models.Order
	err := r.db.WithContext(ctx).Where("awb IN ?", awbs).Find(&rows).Error
	return rows, err
}

func (r *repositoryImpl) ListCallable(ctx context.Context) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("category IN ?", callableCategories()).
		Order("synced_at DESC, awb ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repositoryImpl) CountCallable(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("category IN ?", callableCategories()).
		Count(&count).Error
	return count, err
}

func (r *repositoryImpl) CreateBatch(ctx context.Context, rows []models.Order) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(rows, 100).Error
}

func (r *repositoryImpl) Save(ctx context.Context, order *models.Order) error {
	order.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Save(order).Error
}

func (r *repositoryImpl) DeleteCallable(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("category IN ?", callableCategories()).
		Delete(&models.Order{})
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Order{})
	return result.RowsAffected, result.Error
}

func callableCategories() []enums.OrderCategory {
	return []enums.OrderCategory{enums.OrderCategoryOutForDelivery, enums.OrderCategoryUndelivered}
}

// IsTerminalStatus reports whether a courier status disqualifies the order
// from the calling pipeline.
func IsTerminalStatus(status string) bool {
	lowered := strings.ToLower(status)
	for _, keyword := range CleanupStatuses {
		if keyword == "delivered" {
			if strings.Contains(lowered, "delivered") && !strings.Contains(lowered, "undelivered") {
				return true
			}
			continue
		}
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}
