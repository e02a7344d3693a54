package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/shipvox/shipvox-backend/api/responses"
	vapiwebhook "github.com/shipvox/shipvox-backend/internal/webhooks/vapi"
	pkgerrors "github.com/shipvox/shipvox-backend/pkg/errors"
	"github.com/shipvox/shipvox-backend/pkg/logger"
	"github.com/shipvox/shipvox-backend/pkg/vapi"
)

const maxWebhookBody = 1 << 20

type vapiWebhookService interface {
	HandleEvent(ctx context.Context, event *vapi.WebhookEvent) error
}

type vapiWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventKey string) (bool, error)
	Delete(ctx context.Context, eventKey string) error
}

// VapiWebhook ingests status-update and end-of-call-report events. Duplicate
// deliveries are acknowledged without reprocessing; a processing failure
// unmarks the event so the provider can retry it.
func VapiWebhook(svc vapiWebhookService, guard vapiWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		event, err := vapi.ParseWebhookEvent(payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse webhook event"))
			return
		}

		eventKey := vapiwebhook.EventKey(event)
		if guard != nil && eventKey != "" {
			seen, err := guard.CheckAndMark(ctx, eventKey)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			if seen {
				responses.WriteSuccess(w, map[string]string{"status": "duplicate"})
				return
			}
		}

		if err := svc.HandleEvent(ctx, event); err != nil {
			if guard != nil && eventKey != "" {
				_ = guard.Delete(ctx, eventKey)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "processed"})
	}
}
