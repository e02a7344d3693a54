package vapiwebhook

import (
	"context"

	"github.com/shipvox/shipvox-backend/internal/calls"
	"github.com/shipvox/shipvox-backend/pkg/db/models"
	pkgerrors "github.com/shipvox/shipvox-backend/pkg/errors"
	"github.com/shipvox/shipvox-backend/pkg/logger"
	"github.com/shipvox/shipvox-backend/pkg/vapi"
)

type outcomeRecorder interface {
	RecordOutcome(ctx context.Context, call *vapi.Call) (*models.CallAttempt, error)
}

type viewInvalidator interface {
	InvalidateView(ctx context.Context)
}

// ServiceParams wires webhook handler dependencies.
type ServiceParams struct {
	Recorder calls.Recorder
	Views    viewInvalidator
	Logger   *logger.Logger
}

// Service folds Vapi webhook events into the attempt ledger.
type Service struct {
	recorder outcomeRecorder
	views    viewInvalidator
	logg     *logger.Logger
}

// NewService validates dependencies and builds the webhook service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Recorder == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outcome recorder required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &Service{
		recorder: params.Recorder,
		views:    params.Views,
		logg:     params.Logger,
	}, nil
}

// HandleEvent processes one webhook message. Events for unknown call ids and
// message types we do not track are acknowledged and dropped, so the provider
// never retries them.
func (s *Service) HandleEvent(ctx context.Context, event *vapi.WebhookEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event required")
	}

	switch event.Message.Type {
	case vapi.EventStatusUpdate, vapi.EventEndOfCallReport:
	default:
		s.logg.Info(s.logg.WithField(ctx, "event_type", event.Message.Type), "ignoring webhook event type")
		return nil
	}

	callID := event.CallID()
	if callID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event has no call id")
	}

	merged := event.MergedCall()
	if _, err := s.recorder.RecordOutcome(ctx, merged); err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			// Calls placed outside this system (dashboard tests, other envs).
			return nil
		}
		return err
	}

	if event.Message.Type == vapi.EventEndOfCallReport && s.views != nil {
		s.views.InvalidateView(ctx)
	}
	return nil
}
