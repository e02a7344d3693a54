package calls

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/shipvox/shipvox-backend/internal/orders"
	"github.com/shipvox/shipvox-backend/pkg/enums"
	pkgerrors "github.com/shipvox/shipvox-backend/pkg/errors"
	"github.com/shipvox/shipvox-backend/pkg/logger"
)

// Candidate is one order the resolver decided should be called now.
type Candidate struct {
	AWB             string              `json:"awb"`
	CustomerName    string              `json:"customer_name"`
	CustomerPhone   string              `json:"customer_phone"`
	CustomerAddress string              `json:"customer_address"`
	CustomerPincode string              `json:"customer_pincode"`
	CODAmount       string              `json:"cod_amount"`
	Category        enums.OrderCategory `json:"category"`
	CurrentStatus   string              `json:"current_status"`
	Reason          enums.CallReason    `json:"reason"`
	RetryCount      int                 `json:"retry_count"`
	LastEndedReason string              `json:"last_ended_reason,omitempty"`
}

// Resolver computes the duplicate-free pending-call set.
type Resolver interface {
	Resolve(ctx context.Context) ([]Candidate, error)
}

// ResolverParams wires resolver dependencies.
type ResolverParams struct {
	Orders     orders.Repository
	Attempts   Repository
	Logger     *logger.Logger
	Cooldown   time.Duration
	MaxRetries int
}

type resolver struct {
	orders     orders.Repository
	attempts   Repository
	logg       *logger.Logger
	cooldown   time.Duration
	maxRetries int
	now        func() time.Time
}

// NewResolver validates dependencies and builds the pending-call resolver.
func NewResolver(params ResolverParams) (Resolver, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "orders repository required")
	}
	if params.Attempts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "attempts repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	if params.Cooldown <= 0 {
		params.Cooldown = 2 * time.Hour
	}
	if params.MaxRetries <= 0 {
		params.MaxRetries = 3
	}
	return &resolver{
		orders:     params.Orders,
		attempts:   params.Attempts,
		logg:       params.Logger,
		cooldown:   params.Cooldown,
		maxRetries: params.MaxRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Resolve builds the pending set in two passes. Orders never called today go
// first, unless they were reached successfully or sit inside the cooldown
// window. Then failed attempts needing a retry, newest attempt per AWB, while
// the daily retry budget lasts and the order still exists. An AWB appears at
// most once: the first pass requires no attempt today, the second requires one.
func (r *resolver) Resolve(ctx context.Context) ([]Candidate, error) {
	now := r.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	successToday, err := r.attempts.SuccessfulAWBsSince(ctx, dayStart)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load successful awbs")
	}
	inCooldown, err := r.attempts.CalledAWBsSince(ctx, now.Add(-r.cooldown))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cooldown awbs")
	}
	calledToday, err := r.attempts.CalledAWBsSince(ctx, dayStart)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load called awbs")
	}

	successSet := toSet(successToday)
	cooldownSet := toSet(inCooldown)
	calledSet := toSet(calledToday)

	callable, err := r.orders.ListCallable(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list callable orders")
	}

	var pending []Candidate
	for _, order := range callable {
		if successSet[order.AWB] || cooldownSet[order.AWB] || calledSet[order.AWB] {
			continue
		}
		pending = append(pending, Candidate{
			AWB:             order.AWB,
			CustomerName:    order.CustomerName,
			CustomerPhone:   order.CustomerPhone,
			CustomerAddress: order.CustomerAddress,
			CustomerPincode: order.CustomerPincode,
			CODAmount:       order.CODAmount,
			Category:        order.Category,
			CurrentStatus:   order.CurrentStatus,
			Reason:          enums.CallReasonNotYetCalled,
		})
	}

	latest, err := r.attempts.LatestPerAWBSince(ctx, dayStart)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load latest attempts")
	}
	for _, attempt := range latest {
		if successSet[attempt.AWB] {
			continue
		}
		if !attempt.NeedsRetry || attempt.IsSuccessful {
			continue
		}
		if attempt.RetryIndex >= r.maxRetries {
			continue
		}
		order, err := r.orders.GetByAWB(ctx, attempt.AWB)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order for retry")
		}
		pending = append(pending, Candidate{
			AWB:             attempt.AWB,
			CustomerName:    attempt.CustomerName,
			CustomerPhone:   attempt.CustomerPhone,
			CustomerAddress: order.CustomerAddress,
			CustomerPincode: order.CustomerPincode,
			CODAmount:       order.CODAmount,
			Category:        attempt.Category,
			CurrentStatus:   order.CurrentStatus,
			Reason:          enums.CallReasonRetryNeeded,
			RetryCount:      attempt.RetryIndex,
			LastEndedReason: attempt.EndedReason,
		})
	}

	return pending, nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, value := range values {
		set[value] = true
	}
	return set
}
