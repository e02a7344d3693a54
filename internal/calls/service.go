package calls

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/shipvox/shipvox-backend/internal/orders"
	"github.com/shipvox/shipvox-backend/pkg/db/models"
	"github.com/shipvox/shipvox-backend/pkg/enums"
	pkgerrors "github.com/shipvox/shipvox-backend/pkg/errors"
	"github.com/shipvox/shipvox-backend/pkg/logger"
	"github.com/shipvox/shipvox-backend/pkg/pagination"
	"github.com/shipvox/shipvox-backend/pkg/redis"
)

// Service is the HTTP-facing surface over the attempt ledger.
type Service interface {
	ListToday(ctx context.Context, limit int, cursor string) (*HistoryResult, error)
	ManualCall(ctx context.Context, req ManualCallRequest) (*ManualCallResult, error)
	InvalidateView(ctx context.Context)
}

// HistoryResult is one page of today's ledger plus the running cost.
type HistoryResult struct {
	Items     []models.CallAttempt `json:"items"`
	Cursor    string               `json:"cursor,omitempty"`
	TotalCost string               `json:"total_cost"`
	CachedAt  time.Time            `json:"cached_at"`
}

// ManualCallRequest places one operator-triggered call.
type ManualCallRequest struct {
	AWB         string `json:"awb" validate:"required"`
	PhoneNumber string `json:"phone_number,omitempty" validate:"omitempty,min=10"`
}

// ManualCallResult reports the placement outcome.
type ManualCallResult struct {
	CallID  string  `json:"call_id,omitempty"`
	Summary Summary `json:"summary"`
}

// ServiceParams wires ledger service dependencies.
type ServiceParams struct {
	Attempts   Repository
	Orders     orders.Repository
	Dispatcher Dispatcher
	Views      redis.ViewStore
	Logger     *logger.Logger
	ViewTTL    time.Duration
}

type service struct {
	attempts   Repository
	orders     orders.Repository
	dispatcher Dispatcher
	views      redis.ViewStore
	logg       *logger.Logger
	viewTTL    time.Duration
	now        func() time.Time
}

// NewService validates dependencies and builds the calls service.
func NewService(params ServiceParams) (Service, error) {
	if params.Attempts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "attempts repository required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "orders repository required")
	}
	if params.Dispatcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "dispatcher required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	if params.ViewTTL <= 0 {
		params.ViewTTL = 2 * time.Minute
	}
	return &service{
		attempts:   params.Attempts,
		orders:     params.Orders,
		dispatcher: params.Dispatcher,
		views:      params.Views,
		logg:       params.Logger,
		viewTTL:    params.ViewTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// ListToday pages through today's attempts, newest first. Only the unfiltered
// first page is served from the cached view.
func (s *service) ListToday(ctx context.Context, limit int, cursor string) (*HistoryResult, error) {
	firstPage := cursor == "" && limit <= 0
	if firstPage && s.views != nil {
		if cached, err := s.views.Get(ctx, s.viewKey()); err == nil && cached != "" {
			var result HistoryResult
			if err := json.Unmarshal([]byte(cached), &result); err == nil {
				return &result, nil
			}
		}
	}

	params := ListAttemptsParams{Since: s.dayStart(), Limit: limit}
	if cursor != "" {
		parsed, err := pagination.ParseCursor(cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		params.Cursor = parsed
	}

	items, next, err := s.attempts.List(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list call attempts")
	}
	totalCost, err := s.attempts.TotalCostSince(ctx, s.dayStart())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum call cost")
	}

	result := &HistoryResult{
		Items:     items,
		TotalCost: totalCost.StringFixed(4),
		CachedAt:  s.now(),
	}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}

	if firstPage && s.views != nil {
		if encoded, err := json.Marshal(result); err == nil {
			if err := s.views.Set(ctx, s.viewKey(), string(encoded), s.viewTTL); err != nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "caching call history view failed")
			}
		}
	}
	return result, nil
}

// ManualCall dispatches a single operator-triggered call for the AWB, bypassing
// the resolver's dedup gates but reusing the dispatcher's ledger bookkeeping.
func (s *service) ManualCall(ctx context.Context, req ManualCallRequest) (*ManualCallResult, error) {
	awb := strings.TrimSpace(req.AWB)
	if awb == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "awb is required")
	}

	order, err := s.orders.GetByAWB(ctx, awb)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	candidate := Candidate{
		AWB:             order.AWB,
		CustomerName:    order.CustomerName,
		CustomerPhone:   order.CustomerPhone,
		CustomerAddress: order.CustomerAddress,
		CustomerPincode: order.CustomerPincode,
		CODAmount:       order.CODAmount,
		Category:        order.Category,
		CurrentStatus:   order.CurrentStatus,
		Reason:          enums.CallReasonNotYetCalled,
	}
	if strings.TrimSpace(req.PhoneNumber) != "" {
		candidate.CustomerPhone = strings.TrimSpace(req.PhoneNumber)
	}

	summary := s.dispatcher.Dispatch(ctx, []Candidate{candidate})
	s.InvalidateView(ctx)

	if summary.Placed == 0 {
		if summary.Skipped > 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no usable phone number")
		}
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "call placement failed")
	}
	result := &ManualCallResult{Summary: summary}
	if len(summary.CallIDs) > 0 {
		result.CallID = summary.CallIDs[0]
	}
	return result, nil
}

func (s *service) InvalidateView(ctx context.Context) {
	if s.views == nil {
		return
	}
	if err := s.views.Del(ctx, s.viewKey()); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "invalidating call history view failed")
	}
}

func (s *service) viewKey() string {
	return s.views.ViewKey("calls", "today")
}

func (s *service) dayStart() time.Time {
	now := s.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
