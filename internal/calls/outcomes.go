package calls

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/shipvox/shipvox-backend/pkg/db/models"
	pkgerrors "github.com/shipvox/shipvox-backend/pkg/errors"
	"github.com/shipvox/shipvox-backend/pkg/logger"
	"github.com/shipvox/shipvox-backend/pkg/metrics"
	"github.com/shipvox/shipvox-backend/pkg/vapi"
)

// CallFetcher is the slice of the Vapi client the recorder needs.
type CallFetcher interface {
	GetCall(ctx context.Context, callID string) (*vapi.Call, error)
	ListCalls(ctx context.Context, limit int, createdAtGt time.Time) ([]vapi.Call, error)
}

// Recorder folds provider outcome data into the attempt ledger.
type Recorder interface {
	RecordOutcome(ctx context.Context, call *vapi.Call) (*models.CallAttempt, error)
	PollOutcomes(ctx context.Context, callIDs []string) (*PollResult, error)
	ReconcileRecent(ctx context.Context) (*ReconcileResult, error)
}

// PollResult summarizes an explicit outcome poll.
type PollResult struct {
	Requested int      `json:"requested"`
	Updated   int      `json:"updated"`
	Missing   []string `json:"missing,omitempty"`
}

// ReconcileResult summarizes one webhook-miss sweep.
type ReconcileResult struct {
	Unfinished int `json:"unfinished"`
	Updated    int `json:"updated"`
}

// RecorderParams wires recorder dependencies.
type RecorderParams struct {
	Attempts Repository
	Provider CallFetcher
	Logger   *logger.Logger
	Metrics  *metrics.CallMetrics
}

type recorder struct {
	attempts    Repository
	provider    CallFetcher
	logg        *logger.Logger
	callMetrics *metrics.CallMetrics
	now         func() time.Time
}

// NewRecorder validates dependencies and builds the outcome recorder.
func NewRecorder(params RecorderParams) (Recorder, error) {
	if params.Attempts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "attempts repository required")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "voice provider required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &recorder{
		attempts:    params.Attempts,
		provider:    params.Provider,
		logg:        params.Logger,
		callMetrics: params.Metrics,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// RecordOutcome merges a provider call object into its ledger row and
// reclassifies it. Unknown call ids return NOT_FOUND; webhook callers treat
// that as ignorable. The merge only overwrites with non-empty values, so a
// status-update arriving after the end-of-call report cannot erase outcome
// fields, and replays converge on the same row.
func (r *recorder) RecordOutcome(ctx context.Context, call *vapi.Call) (*models.CallAttempt, error) {
	if call == nil || call.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "call id required")
	}

	attempt, err := r.attempts.GetByCallID(ctx, call.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.logg.Warn(r.logg.WithCallID(ctx, call.ID), "outcome for unknown call ignored")
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "call attempt not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load call attempt")
	}

	if call.Status != "" {
		attempt.ProviderStatus = call.Status
	}
	if call.EndedReason != "" {
		attempt.EndedReason = call.EndedReason
	}
	if call.DurationSeconds != nil {
		attempt.DurationSeconds = call.DurationSeconds
	}
	if call.Cost > 0 {
		cost := decimal.NewFromFloat(call.Cost)
		attempt.Cost = &cost
	}
	if call.StartedAt != nil {
		attempt.CallStartedAt = call.StartedAt
	}
	if call.EndedAt != nil {
		attempt.CallEndedAt = call.EndedAt
	}
	if url := call.BestRecordingURL(); url != "" {
		attempt.RecordingURL = url
	}
	if transcript := call.BestTranscript(); transcript != "" {
		attempt.Transcript = transcript
	}
	if len(call.Raw) > 0 {
		attempt.ProviderPayload = json.RawMessage(call.Raw)
	}

	var evaluation json.RawMessage
	if call.Analysis != nil {
		evaluation = call.Analysis.SuccessEvaluation
	}
	outcome := Classify(attempt.EndedReason, evaluation)
	attempt.IsSuccessful = outcome.Successful
	attempt.NeedsRetry = outcome.NeedsRetry

	if err := r.attempts.Save(ctx, attempt); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save call attempt")
	}

	switch {
	case outcome.Successful:
		r.callMetrics.IncOutcome("successful")
	case outcome.NeedsRetry:
		r.callMetrics.IncOutcome("retry")
	default:
		r.callMetrics.IncOutcome("final")
	}
	return attempt, nil
}

// PollOutcomes fetches fresh call objects for the given ids and records each.
// Per-call failures are collected, not fatal.
func (r *recorder) PollOutcomes(ctx context.Context, callIDs []string) (*PollResult, error) {
	if len(callIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one call id is required")
	}

	result := &PollResult{Requested: len(callIDs)}
	var errs error
	for _, callID := range callIDs {
		call, err := r.provider.GetCall(ctx, callID)
		if err != nil {
			errs = multierr.Append(errs, err)
			result.Missing = append(result.Missing, callID)
			continue
		}
		if _, err := r.RecordOutcome(ctx, call); err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
				result.Missing = append(result.Missing, callID)
				continue
			}
			errs = multierr.Append(errs, err)
			continue
		}
		result.Updated++
	}

	if result.Updated == 0 && errs != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, errs, "poll outcomes")
	}
	return result, nil
}

// ReconcileRecent sweeps today's unfinished attempts against the provider's
// call list. It is the fallback for missed webhooks.
func (r *recorder) ReconcileRecent(ctx context.Context) (*ReconcileResult, error) {
	now := r.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	unfinished, err := r.attempts.ListUnfinishedSince(ctx, dayStart)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list unfinished attempts")
	}
	result := &ReconcileResult{Unfinished: len(unfinished)}
	if len(unfinished) == 0 {
		return result, nil
	}

	wanted := make(map[string]bool, len(unfinished))
	for _, attempt := range unfinished {
		wanted[attempt.CallID] = true
	}

	cursor := dayStart.Add(-time.Minute)
	for {
		page, err := r.provider.ListCalls(ctx, vapi.ListCallsLimit, cursor)
		if err != nil {
			return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list provider calls")
		}
		if len(page) == 0 {
			break
		}
		for _, call := range page {
			if !wanted[call.ID] {
				continue
			}
			if _, err := r.RecordOutcome(ctx, &call); err == nil {
				result.Updated++
			}
		}

		last := page[len(page)-1]
		if last.CreatedAt == nil || !last.CreatedAt.After(cursor) {
			break
		}
		cursor = *last.CreatedAt
		if len(page) < vapi.ListCallsLimit {
			break
		}
	}
	return result, nil
}
