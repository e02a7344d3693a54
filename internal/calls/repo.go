package calls

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shipvox/shipvox-backend/pkg/db/models"
	"github.com/shipvox/shipvox-backend/pkg/pagination"
)

// Repository exposes persistence helpers for the call-attempt ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, attempt *models.CallAttempt) error
	Save(ctx context.Context, attempt *models.CallAttempt) error
	GetByCallID(ctx context.Context, callID string) (*models.CallAttempt, error)
	List(ctx context.Context, params ListAttemptsParams) ([]models.CallAttempt, *pagination.Cursor, error)
	LatestPerAWBSince(ctx context.Context, since time.Time) ([]models.CallAttempt, error)
	SuccessfulAWBsSince(ctx context.Context, since time.Time) ([]string, error)
	CalledAWBsSince(ctx context.Context, since time.Time) ([]string, error)
	CountForAWBSince(ctx context.Context, awb string, since time.Time) (int64, error)
	ListUnfinishedSince(ctx context.Context, since time.Time) ([]models.CallAttempt, error)
	TotalCostSince(ctx context.Context, since time.Time) (decimal.Decimal, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// ListAttemptsParams filters ledger listings.
type ListAttemptsParams struct {
	Since  time.Time
	Limit  int
	Cursor *pagination.Cursor
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a call-attempt repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, attempt *models.CallAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *repositoryImpl) Save(ctx context.Context, attempt *models.CallAttempt) error {
	attempt.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Save(attempt).Error
}

func (r *repositoryImpl) GetByCallID(ctx context.Context, callID string) (*models.CallAttempt, error) {
	var attempt models.CallAttempt
	err := r.db.WithContext(ctx).Where("call_id = ?", callID).First(&attempt).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *repositoryImpl) List(ctx context.Context, params ListAttemptsParams) ([]models.CallAttempt, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)

	query := r.db.WithContext(ctx).Model(&models.CallAttempt{})
	if !params.Since.IsZero() {
		query = query.Where("created_at >= ?", params.Since)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var attempts []models.CallAttempt
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&attempts).Error; err != nil {
		return nil, nil, err
	}

	page, next := pagination.Trim(attempts, params.Limit, func(a models.CallAttempt) pagination.Cursor {
		return pagination.Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
	})
	return page, next, nil
}

// LatestPerAWBSince returns the newest attempt per AWB inside the window.
func (r *repositoryImpl) LatestPerAWBSince(ctx context.Context, since time.Time) ([]models.CallAttempt, error) {
	var rows []models.CallAttempt
	err := r.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("awb ASC, created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	var latest []models.CallAttempt
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if seen[row.AWB] {
			continue
		}
		seen[row.AWB] = true
		latest = append(latest, row)
	}
	return latest, nil
}

func (r *repositoryImpl) SuccessfulAWBsSince(ctx context.Context, since time.Time) ([]string, error) {
	var awbs []string
	err := r.db.WithContext(ctx).
		Model(&models.CallAttempt{}).
		Where("created_at >= ? AND is_successful = ?", since, true).
		Distinct().
		Pluck("awb", &awbs).Error
	return awbs, err
}

func (r *repositoryImpl) CalledAWBsSince(ctx context.Context, since time.Time) ([]string, error) {
	var awbs []string
	err := r.db.WithContext(ctx).
		Model(&models.CallAttempt{}).
		Where("created_at >= ?", since).
		Distinct().
		Pluck("awb", &awbs).Error
	return awbs, err
}

func (r *repositoryImpl) CountForAWBSince(ctx context.Context, awb string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.CallAttempt{}).
		Where("awb = ? AND created_at >= ?", awb, since).
		Count(&count).Error
	return count, err
}

// ListUnfinishedSince returns attempts whose outcome never arrived: no end
// timestamp and no ended reason yet.
func (r *repositoryImpl) ListUnfinishedSince(ctx context.Context, since time.Time) ([]models.CallAttempt, error) {
	var rows []models.CallAttempt
	err := r.db.WithContext(ctx).
		Where("created_at >= ? AND call_ended_at IS NULL AND ended_reason = ?", since, "").
		Find(&rows).Error
	return rows, err
}

func (r *repositoryImpl) TotalCostSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.db.WithContext(ctx).
		Model(&models.CallAttempt{}).
		Select("SUM(cost)").
		Where("created_at >= ?", since).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func (r *repositoryImpl) DeleteAll(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Where("1 = 1").Delete(&models.CallAttempt{})
	return result.RowsAffected, result.Error
}
