package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/shipvox/shipvox-backend/api/responses"
	"github.com/shipvox/shipvox-backend/pkg/config"
	pkgerrors "github.com/shipvox/shipvox-backend/pkg/errors"
	"github.com/shipvox/shipvox-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger is anything that can confirm a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-ShipVox-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady confirms the database and redis are reachable before reporting
// ready. A nil pinger is treated as not configured and skipped.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP, redisP Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-ShipVox-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{}
		healthy := true
		for name, pinger := range map[string]Pinger{"database": dbP, "redis": redisP} {
			if pinger == nil {
				checks[name] = "skipped"
				continue
			}
			if err := pinger.Ping(ctx); err != nil {
				checks[name] = "down"
				healthy = false
				logg.Error(logg.WithField(ctx, "dependency", name), "readiness check failed", err)
				continue
			}
			checks[name] = "up"
		}

		if !healthy {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
