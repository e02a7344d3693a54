package controllers

import (
	"net/http"

	"github.com/shipvox/shipvox-backend/api/responses"
	"github.com/shipvox/shipvox-backend/api/validators"
	"github.com/shipvox/shipvox-backend/internal/calls"
	"github.com/shipvox/shipvox-backend/pkg/logger"
	"github.com/shipvox/shipvox-backend/pkg/pagination"
)

// CallsList serves today's attempt ledger with cursor pagination.
func CallsList(svc calls.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		result, err := svc.ListToday(ctx, limit, r.URL.Query().Get("cursor"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// CallsCreate places a single operator-triggered call.
func CallsCreate(svc calls.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req calls.ManualCallRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		result, err := svc.ManualCall(ctx, req)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

type pollRequest struct {
	CallIDs []string `json:"call_ids" validate:"required,min=1,max=100,dive,required"`
}

// CallsPoll fetches fresh outcomes for the given provider call ids.
func CallsPoll(rec calls.Recorder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req pollRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		result, err := rec.PollOutcomes(ctx, req.CallIDs)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
