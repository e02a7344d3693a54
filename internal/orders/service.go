package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shipvox/shipvox-backend/pkg/db/models"
	"github.com/shipvox/shipvox-backend/pkg/enums"
	pkgerrors "github.com/shipvox/shipvox-backend/pkg/errors"
	"github.com/shipvox/shipvox-backend/pkg/logger"
	"github.com/shipvox/shipvox-backend/pkg/redis"
)

// Service defines the order read/maintenance operations exposed over HTTP.
type Service interface {
	ListCallable(ctx context.Context) (*ListResult, error)
	Cleanup(ctx context.Context) (*CleanupResult, error)
	InvalidateView(ctx context.Context)
}

// ListResult is the cached callable-orders view.
type ListResult struct {
	Items            []models.Order `json:"items"`
	TotalCount       int            `json:"total_count"`
	OFDCount         int            `json:"ofd_count"`
	UndeliveredCount int            `json:"undelivered_count"`
	CachedAt         time.Time      `json:"cached_at"`
}

// CleanupResult summarizes a terminal-status purge.
type CleanupResult struct {
	Deleted int64 `json:"deleted_count"`
	Kept    int64 `json:"kept_count"`
}

// ServiceParams wires order service dependencies.
type ServiceParams struct {
	Repo    Repository
	Views   redis.ViewStore
	Logger  *logger.Logger
	ViewTTL time.Duration
}

type service struct {
	repo    Repository
	views   redis.ViewStore
	logg    *logger.Logger
	viewTTL time.Duration
}

// NewService validates dependencies and builds the orders service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "orders repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	if params.ViewTTL <= 0 {
		params.ViewTTL = 5 * time.Minute
	}
	return &service{
		repo:    params.Repo,
		views:   params.Views,
		logg:    params.Logger,
		viewTTL: params.ViewTTL,
	}, nil
}

func (s *service) ListCallable(ctx context.Context) (*ListResult, error) {
	if s.views != nil {
		if cached, err := s.views.Get(ctx, s.viewKey()); err == nil && cached != "" {
			var result ListResult
			if err := json.Unmarshal([]byte(cached), &result); err == nil {
				return &result, nil
			}
		}
	}

	rows, err := s.repo.ListCallable(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list callable orders")
	}

	result := &ListResult{
		Items:    rows,
		CachedAt: time.Now().UTC(),
	}
	for _, row := range rows {
		result.TotalCount++
		if row.Category == enums.OrderCategoryOutForDelivery {
			result.OFDCount++
		} else {
			result.UndeliveredCount++
		}
	}

	if s.views != nil {
		if encoded, err := json.Marshal(result); err == nil {
			if err := s.views.Set(ctx, s.viewKey(), string(encoded), s.viewTTL); err != nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "caching callable orders view failed")
			}
		}
	}
	return result, nil
}

func (s *service) Cleanup(ctx context.Context) (*CleanupResult, error) {
	rows, err := s.repo.ListCallable(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders for cleanup")
	}

	var ids []string
	for _, row := range rows {
		if IsTerminalStatus(row.CurrentStatus) {
			ids = append(ids, row.ID.String())
		}
	}

	deleted, err := s.repo.DeleteByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete terminal orders")
	}

	kept, err := s.repo.CountCallable(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count remaining orders")
	}

	s.InvalidateView(ctx)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"deleted": deleted, "kept": kept}), "terminal order cleanup complete")
	return &CleanupResult{Deleted: deleted, Kept: kept}, nil
}

func (s *service) InvalidateView(ctx context.Context) {
	if s.views == nil {
		return
	}
	if err := s.views.Del(ctx, s.viewKey()); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "invalidating callable orders view failed")
	}
}

func (s *service) viewKey() string {
	return s.views.ViewKey("orders", "callable")
}
