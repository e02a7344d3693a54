package calls

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shipvox/shipvox-backend/pkg/db/models"
	pkgerrors "github.com/shipvox/shipvox-backend/pkg/errors"
	"github.com/shipvox/shipvox-backend/pkg/logger"
	"github.com/shipvox/shipvox-backend/pkg/metrics"
	"github.com/shipvox/shipvox-backend/pkg/vapi"
)

// Voice is the slice of the Vapi client the dispatcher needs.
type Voice interface {
	CreateCall(ctx context.Context, req vapi.CreateCallRequest) (*vapi.Call, error)
}

// Observer receives live dispatch progress; all methods are optional via the
// nil observer.
type Observer interface {
	SessionStarted(total int)
	CallStarted(candidate Candidate)
	CallPlaced(candidate Candidate, callID string)
	CallSkipped(candidate Candidate, reason string)
	CallFailed(candidate Candidate, err error)
	SessionFinished(summary Summary)
}

// Summary aggregates one dispatch session.
type Summary struct {
	Total     int      `json:"total"`
	Completed int      `json:"completed"`
	Placed    int      `json:"placed"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	CallIDs   []string `json:"call_ids,omitempty"`
}

// Dispatcher places provider calls for resolved candidates and records one
// ledger row per accepted call.
type Dispatcher interface {
	Dispatch(ctx context.Context, candidates []Candidate) Summary
}

// DispatcherParams wires dispatcher dependencies.
type DispatcherParams struct {
	Voice          Voice
	Attempts       Repository
	Logger         *logger.Logger
	Metrics        *metrics.CallMetrics
	Observer       Observer
	AssistantID    string
	PhoneNumberID  string
	Pacing         time.Duration
	MinPhoneLength int
}

type dispatcher struct {
	voice          Voice
	attempts       Repository
	logg           *logger.Logger
	callMetrics    *metrics.CallMetrics
	observer       Observer
	assistantID    string
	phoneNumberID  string
	pacing         time.Duration
	minPhoneLength int
	now            func() time.Time
	sleep          func(time.Duration)
}

// NewDispatcher validates dependencies and builds the call dispatcher.
func NewDispatcher(params DispatcherParams) (Dispatcher, error) {
	if params.Voice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "voice client required")
	}
	if params.Attempts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "attempts repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	if strings.TrimSpace(params.AssistantID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "assistant id required")
	}
	if params.Pacing <= 0 {
		params.Pacing = 2 * time.Second
	}
	if params.MinPhoneLength <= 0 {
		params.MinPhoneLength = 10
	}
	return &dispatcher{
		voice:          params.Voice,
		attempts:       params.Attempts,
		logg:           params.Logger,
		callMetrics:    params.Metrics,
		observer:       params.Observer,
		assistantID:    params.AssistantID,
		phoneNumberID:  params.PhoneNumberID,
		pacing:         params.Pacing,
		minPhoneLength: params.MinPhoneLength,
		now:            func() time.Time { return time.Now().UTC() },
		sleep:          time.Sleep,
	}, nil
}

// Dispatch walks the candidate list in order. Each candidate is isolated: a
// placement or persistence failure moves on to the next one. Orders are never
// written here; only the attempt ledger grows.
func (d *dispatcher) Dispatch(ctx context.Context, candidates []Candidate) Summary {
	summary := Summary{Total: len(candidates)}
	d.notifyStart(len(candidates))

	for i, candidate := range candidates {
		if i > 0 {
			d.sleep(d.pacing)
		}
		d.notifyCallStarted(candidate)
		cctx := d.logg.WithAWB(ctx, candidate.AWB)

		phone := strings.TrimSpace(candidate.CustomerPhone)
		if phone == "" || phone == "N/A" || len(phone) < d.minPhoneLength {
			summary.Skipped++
			summary.Completed++
			d.callMetrics.IncDispatched("skipped")
			d.notifySkipped(candidate, "invalid phone number")
			d.logg.Warn(cctx, "skipping candidate without usable phone")
			continue
		}

		call, err := d.voice.CreateCall(ctx, vapi.CreateCallRequest{
			CustomerNumber: phone,
			AssistantID:    d.assistantID,
			PhoneNumberID:  d.phoneNumberID,
			Variables: map[string]string{
				"awb":              candidate.AWB,
				"customer_name":    fallbackValue(candidate.CustomerName, "Customer"),
				"order_category":   string(candidate.Category),
				"current_status":   fallbackValue(candidate.CurrentStatus, "Out for delivery"),
				"customer_address": fallbackValue(candidate.CustomerAddress, "N/A"),
				"customer_pincode": fallbackValue(candidate.CustomerPincode, "N/A"),
				"cod_amount":       fallbackValue(candidate.CODAmount, "0"),
			},
		})
		if err != nil {
			summary.Failed++
			summary.Completed++
			d.callMetrics.IncDispatched("failed")
			d.notifyFailed(candidate, err)
			d.logg.Error(cctx, "call placement failed", err)
			continue
		}

		attempt, err := d.buildAttempt(ctx, candidate, phone, call)
		if err == nil {
			err = d.attempts.Create(ctx, attempt)
		}
		if err != nil {
			summary.Failed++
			summary.Completed++
			d.callMetrics.IncDispatched("failed")
			d.notifyFailed(candidate, err)
			d.logg.Error(d.logg.WithCallID(cctx, call.ID), "recording call attempt failed", err)
			continue
		}

		summary.Placed++
		summary.Completed++
		summary.CallIDs = append(summary.CallIDs, call.ID)
		d.callMetrics.IncDispatched("placed")
		d.notifyPlaced(candidate, call.ID)
		d.logg.Info(d.logg.WithCallID(cctx, call.ID), "call placed")
	}

	d.notifyFinished(summary)
	return summary
}

// buildAttempt snapshots the candidate plus the provider's acceptance into a
// ledger row. The retry index is recomputed here as the count of today's
// earlier attempts for the AWB, so queue staleness cannot skew the budget.
func (d *dispatcher) buildAttempt(ctx context.Context, candidate Candidate, phone string, call *vapi.Call) (*models.CallAttempt, error) {
	now := d.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	previous, err := d.attempts.CountForAWBSince(ctx, candidate.AWB, dayStart)
	if err != nil {
		return nil, err
	}

	attempt := &models.CallAttempt{
		CallID:         call.ID,
		AWB:            candidate.AWB,
		CustomerName:   candidate.CustomerName,
		CustomerPhone:  phone,
		Category:       candidate.Category,
		AssistantID:    fallbackValue(call.AssistantID, d.assistantID),
		PhoneNumberID:  fallbackValue(call.PhoneNumberID, d.phoneNumberID),
		ProviderStatus: call.Status,
		CallType:       call.Type,
		RetryIndex:     int(previous),
		CallStartedAt:  call.CreatedAt,
	}
	if call.Cost > 0 {
		cost := decimal.NewFromFloat(call.Cost)
		attempt.Cost = &cost
	}
	if len(call.Raw) > 0 {
		attempt.ProviderPayload = json.RawMessage(call.Raw)
	}
	return attempt, nil
}

func (d *dispatcher) notifyStart(total int) {
	if d.observer != nil {
		d.observer.SessionStarted(total)
	}
}

func (d *dispatcher) notifyCallStarted(candidate Candidate) {
	if d.observer != nil {
		d.observer.CallStarted(candidate)
	}
}

func (d *dispatcher) notifyPlaced(candidate Candidate, callID string) {
	if d.observer != nil {
		d.observer.CallPlaced(candidate, callID)
	}
}

func (d *dispatcher) notifySkipped(candidate Candidate, reason string) {
	if d.observer != nil {
		d.observer.CallSkipped(candidate, reason)
	}
}

func (d *dispatcher) notifyFailed(candidate Candidate, err error) {
	if d.observer != nil {
		d.observer.CallFailed(candidate, err)
	}
}

func (d *dispatcher) notifyFinished(summary Summary) {
	if d.observer != nil {
		d.observer.SessionFinished(summary)
	}
}

func fallbackValue(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
