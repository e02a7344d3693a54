package controllers

import (
	"net/http"

	"github.com/shipvox/shipvox-backend/api/responses"
	"github.com/shipvox/shipvox-backend/api/validators"
	"github.com/shipvox/shipvox-backend/internal/orders"
	"github.com/shipvox/shipvox-backend/internal/tracking"
	"github.com/shipvox/shipvox-backend/pkg/logger"
)

// OrdersOFD serves the cached callable-orders view.
func OrdersOFD(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		result, err := svc.ListCallable(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// OrdersSync triggers a carrier sync pass immediately.
func OrdersSync(svc tracking.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		result, err := svc.Sync(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type trackRequest struct {
	AWBs []string `json:"awbs" validate:"required,min=1,max=100,dive,required"`
}

// OrdersTrack is a pass-through batch tracking lookup against the carrier.
func OrdersTrack(svc tracking.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req trackRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		result, err := svc.Track(ctx, req.AWBs)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// OrdersCleanup deletes cached orders whose courier status went terminal.
func OrdersCleanup(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		result, err := svc.Cleanup(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
