package tracking

import (
	"context"
	"strings"
	"time"

	"github.com/shipvox/shipvox-backend/internal/orders"
	"github.com/shipvox/shipvox-backend/pkg/db/models"
	"github.com/shipvox/shipvox-backend/pkg/enums"
	pkgerrors "github.com/shipvox/shipvox-backend/pkg/errors"
	"github.com/shipvox/shipvox-backend/pkg/ithink"
	"github.com/shipvox/shipvox-backend/pkg/logger"
)

// placeholderNA mirrors the carrier's own missing-value marker.
const placeholderNA = "N/A"

// Carrier is the slice of the iThink client the sync needs.
type Carrier interface {
	OrdersByDateRange(ctx context.Context, start, end time.Time) (map[string]ithink.OrderRecord, error)
	TrackOrders(ctx context.Context, awbs []string) (map[string]ithink.TrackInfo, error)
}

// Service refreshes the cached order snapshot from the carrier.
type Service interface {
	Sync(ctx context.Context) (*SyncResult, error)
	Track(ctx context.Context, awbs []string) (map[string]ithink.TrackInfo, error)
}

// SyncResult summarizes one sync pass.
type SyncResult struct {
	Fetched   int `json:"fetched"`
	Matched   int `json:"matched"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Recovered int `json:"recovered_phones"`
}

// ServiceParams wires sync dependencies.
type ServiceParams struct {
	Repo           orders.Repository
	Carrier        Carrier
	Logger         *logger.Logger
	WindowDays     int
	BatchSize      int
	MinPhoneLength int
}

type service struct {
	repo           orders.Repository
	carrier        Carrier
	logg           *logger.Logger
	windowDays     int
	batchSize      int
	minPhoneLength int
	now            func() time.Time
}

// NewService validates dependencies and builds the tracking sync service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "orders repository required")
	}
	if params.Carrier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "carrier client required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	if params.WindowDays <= 0 {
		params.WindowDays = 7
	}
	if params.BatchSize <= 0 || params.BatchSize > ithink.TrackBatchLimit {
		params.BatchSize = ithink.TrackBatchLimit
	}
	if params.MinPhoneLength <= 0 {
		params.MinPhoneLength = 10
	}
	return &service{
		repo:           params.Repo,
		carrier:        params.Carrier,
		logg:           params.Logger,
		windowDays:     params.WindowDays,
		batchSize:      params.BatchSize,
		minPhoneLength: params.MinPhoneLength,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// Sync pulls the booking window from the carrier, keeps the callable subset,
// recovers missing phone numbers through the track API, and upserts the order
// cache. Existing rows are only written when the category changed or a
// placeholder phone became valid.
func (s *service) Sync(ctx context.Context) (*SyncResult, error) {
	now := s.now()
	start := now.AddDate(0, 0, -s.windowDays)

	records, err := s.carrier.OrdersByDateRange(ctx, start, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch order window")
	}

	result := &SyncResult{Fetched: len(records)}

	type kept struct {
		awb      string
		record   ithink.OrderRecord
		category enums.OrderCategory
		status   string
	}
	var keptRecords []kept
	for awb, record := range records {
		category, ok := ClassifyStatus(record.LatestCourierStatus)
		if !ok {
			continue
		}
		keptRecords = append(keptRecords, kept{
			awb:      awb,
			record:   record,
			category: category,
			status:   record.LatestCourierStatus,
		})
	}
	result.Matched = len(keptRecords)
	if len(keptRecords) == 0 {
		return result, nil
	}

	// Recover phones for records the order-list API returned without one.
	var toTrack []string
	for _, item := range keptRecords {
		if !s.validPhone(item.record.Phone()) {
			toTrack = append(toTrack, item.awb)
		}
	}
	phoneMap := s.recoverPhones(ctx, toTrack)
	result.Recovered = len(phoneMap)

	awbs := make([]string, 0, len(keptRecords))
	for _, item := range keptRecords {
		awbs = append(awbs, item.awb)
	}
	existingRows, err := s.repo.ListByAWBs(ctx, awbs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load existing orders")
	}
	existing := make(map[string]models.Order, len(existingRows))
	for _, row := range existingRows {
		existing[row.AWB] = row
	}

	var toCreate []models.Order
	for _, item := range keptRecords {
		phone := item.record.Phone()
		if !s.validPhone(phone) {
			if recovered, ok := phoneMap[item.awb]; ok {
				phone = recovered
			} else {
				phone = placeholderNA
			}
		}

		if row, ok := existing[item.awb]; ok {
			categoryChanged := row.Category != item.category
			phoneRecovered := !s.validPhone(row.CustomerPhone) && s.validPhone(phone)
			if !categoryChanged && !phoneRecovered {
				continue
			}
			row.Category = item.category
			row.CurrentStatus = item.status
			row.CustomerPhone = phone
			row.SyncedAt = now
			if err := s.repo.Save(ctx, &row); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
			}
			result.Updated++
			continue
		}

		toCreate = append(toCreate, models.Order{
			AWB:             item.awb,
			Category:        item.category,
			CustomerName:    fallback(item.record.CustomerName, placeholderNA),
			CustomerPhone:   phone,
			CustomerAddress: fallback(item.record.CustomerAddress, placeholderNA),
			CustomerPincode: fallback(item.record.CustomerPincode.String(), placeholderNA),
			CODAmount:       fallback(firstNonEmpty(item.record.CODAmount.String(), item.record.TotalAmount.String()), "0"),
			Weight:          fallback(item.record.Weight.String(), placeholderNA),
			OrderDate:       fallback(item.record.OrderDate, placeholderNA),
			TrackingURL:     ithink.TrackingURL(item.awb),
			CurrentStatus:   item.status,
			SyncedAt:        now,
		})
	}

	if err := s.repo.CreateBatch(ctx, toCreate); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert orders")
	}
	result.Created = len(toCreate)

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"fetched": result.Fetched,
		"matched": result.Matched,
		"created": result.Created,
		"updated": result.Updated,
	}), "order sync complete")
	return result, nil
}

// Track exposes raw batch tracking lookups for the pass-through endpoint.
func (s *service) Track(ctx context.Context, awbs []string) (map[string]ithink.TrackInfo, error) {
	if len(awbs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one awb is required")
	}

	merged := make(map[string]ithink.TrackInfo)
	for start := 0; start < len(awbs); start += s.batchSize {
		end := start + s.batchSize
		if end > len(awbs) {
			end = len(awbs)
		}
		batch, err := s.carrier.TrackOrders(ctx, awbs[start:end])
		if err != nil {
			return nil, err
		}
		for awb, info := range batch {
			merged[awb] = info
		}
	}
	return merged, nil
}

// recoverPhones batches track-API lookups; a failed batch is skipped, not fatal.
func (s *service) recoverPhones(ctx context.Context, awbs []string) map[string]string {
	phones := make(map[string]string)
	for start := 0; start < len(awbs); start += s.batchSize {
		end := start + s.batchSize
		if end > len(awbs) {
			end = len(awbs)
		}
		batch, err := s.carrier.TrackOrders(ctx, awbs[start:end])
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "phone recovery batch failed")
			continue
		}
		for awb, info := range batch {
			phone := info.CustomerDetails.Phone()
			if s.validPhone(phone) {
				phones[awb] = phone
			}
		}
	}
	return phones
}

func (s *service) validPhone(phone string) bool {
	trimmed := strings.TrimSpace(phone)
	return trimmed != "" && trimmed != placeholderNA && len(trimmed) >= s.minPhoneLength
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
