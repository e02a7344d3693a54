package controllers

import (
	"net/http"

	"github.com/shipvox/shipvox-backend/api/responses"
	"github.com/shipvox/shipvox-backend/api/validators"
	"github.com/shipvox/shipvox-backend/internal/scheduler"
	pkgerrors "github.com/shipvox/shipvox-backend/pkg/errors"
	"github.com/shipvox/shipvox-backend/pkg/logger"
)

// SchedulerStatus reports the timetable and the live session snapshot.
func SchedulerStatus(sched *scheduler.Scheduler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, sched.Status())
	}
}

type schedulerControlRequest struct {
	Action string `json:"action" validate:"required,oneof=start stop run_now"`
}

// SchedulerControl starts or stops the timetable, or triggers a cycle now.
func SchedulerControl(sched *scheduler.Scheduler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req schedulerControlRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		switch req.Action {
		case "start":
			sched.Start()
			responses.WriteSuccess(w, sched.Status())
		case "stop":
			sched.Stop()
			responses.WriteSuccess(w, sched.Status())
		case "run_now":
			result, err := sched.TriggerCycle(ctx)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			responses.WriteSuccess(w, result)
		default:
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown action"))
		}
	}
}
