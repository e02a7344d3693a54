package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shipvox/shipvox-backend/api/controllers"
	webhookcontrollers "github.com/shipvox/shipvox-backend/api/controllers/webhooks"
	"github.com/shipvox/shipvox-backend/api/middleware"
	"github.com/shipvox/shipvox-backend/internal/calls"
	"github.com/shipvox/shipvox-backend/internal/orders"
	"github.com/shipvox/shipvox-backend/internal/scheduler"
	"github.com/shipvox/shipvox-backend/internal/tracking"
	vapiwebhook "github.com/shipvox/shipvox-backend/internal/webhooks/vapi"
	"github.com/shipvox/shipvox-backend/pkg/config"
	"github.com/shipvox/shipvox-backend/pkg/logger"
	"github.com/shipvox/shipvox-backend/pkg/redis"
)

// Params carries everything the router wires into handlers.
type Params struct {
	Config *config.Config
	Logger *logger.Logger

	DBPinger    controllers.Pinger
	RedisPinger controllers.Pinger

	Orders    orders.Service
	Tracking  tracking.Service
	Calls     calls.Service
	Recorder  calls.Recorder
	Scheduler *scheduler.Scheduler

	WebhookService *vapiwebhook.Service
	WebhookGuard   *vapiwebhook.IdempotencyGuard

	Idempotency redis.IdempotencyStore
}

// NewRouter assembles the HTTP surface: health, metrics, order and call
// operations, scheduler control, and the voice-provider webhook.
func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.CORS(cfg.App.CORSOrigins),
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Idempotency(p.Idempotency, logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DBPinger, p.RedisPinger))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Get("/ofd", controllers.OrdersOFD(p.Orders, logg))
		r.Post("/sync", controllers.OrdersSync(p.Tracking, logg))
		r.Post("/track", controllers.OrdersTrack(p.Tracking, logg))
		r.Post("/cleanup", controllers.OrdersCleanup(p.Orders, logg))
	})

	r.Route("/api/v1/calls", func(r chi.Router) {
		r.Get("/", controllers.CallsList(p.Calls, logg))
		r.Post("/", controllers.CallsCreate(p.Calls, logg))
		r.Post("/poll", controllers.CallsPoll(p.Recorder, logg))
	})

	r.Route("/api/v1/scheduler", func(r chi.Router) {
		r.Get("/", controllers.SchedulerStatus(p.Scheduler, logg))
		r.Post("/", controllers.SchedulerControl(p.Scheduler, logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/vapi", webhookcontrollers.VapiWebhook(p.WebhookService, p.WebhookGuard, logg))
	})

	return r
}
