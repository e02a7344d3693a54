package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shipvox/shipvox-backend/api/routes"
	"github.com/shipvox/shipvox-backend/internal/calls"
	"github.com/shipvox/shipvox-backend/internal/orders"
	"github.com/shipvox/shipvox-backend/internal/scheduler"
	"github.com/shipvox/shipvox-backend/internal/tracking"
	vapiwebhook "github.com/shipvox/shipvox-backend/internal/webhooks/vapi"
	"github.com/shipvox/shipvox-backend/pkg/config"
	"github.com/shipvox/shipvox-backend/pkg/db"
	"github.com/shipvox/shipvox-backend/pkg/ithink"
	"github.com/shipvox/shipvox-backend/pkg/logger"
	"github.com/shipvox/shipvox-backend/pkg/metrics"
	"github.com/shipvox/shipvox-backend/pkg/migrate"
	"github.com/shipvox/shipvox-backend/pkg/redis"
	"github.com/shipvox/shipvox-backend/pkg/vapi"
)

const webhookIdempotencyTTL = 24 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	carrier, err := ithink.NewClient(cfg.IThink.AccessToken, cfg.IThink.SecretKey,
		ithink.WithBaseURL(cfg.IThink.BaseURL),
		ithink.WithHTTPClient(&http.Client{Timeout: cfg.IThink.Timeout}),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create carrier client", err)
		os.Exit(1)
	}

	voice, err := vapi.NewClient(cfg.Vapi.PrivateKey,
		vapi.WithBaseURL(cfg.Vapi.BaseURL),
		vapi.WithHTTPClient(&http.Client{Timeout: cfg.Vapi.Timeout}),
		vapi.WithCountryCode(cfg.Calling.DefaultCountryCode),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create voice client", err)
		os.Exit(1)
	}

	callMetrics := metrics.NewCallMetrics(prometheus.DefaultRegisterer)
	jobMetrics := metrics.NewJobMetrics(prometheus.DefaultRegisterer)

	orderRepo := orders.NewRepository(dbClient.DB())
	attemptRepo := calls.NewRepository(dbClient.DB())

	orderService, err := orders.NewService(orders.ServiceParams{
		Repo:    orderRepo,
		Views:   redisClient,
		Logger:  logg,
		ViewTTL: cfg.Cache.OFDOrdersTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	trackingService, err := tracking.NewService(tracking.ServiceParams{
		Repo:           orderRepo,
		Carrier:        carrier,
		Logger:         logg,
		WindowDays:     cfg.Calling.SyncWindowDays,
		BatchSize:      cfg.IThink.BatchSize,
		MinPhoneLength: cfg.Calling.MinPhoneLength,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create tracking service", err)
		os.Exit(1)
	}

	resolver, err := calls.NewResolver(calls.ResolverParams{
		Orders:     orderRepo,
		Attempts:   attemptRepo,
		Logger:     logg,
		Cooldown:   cfg.Calling.Cooldown,
		MaxRetries: cfg.Calling.MaxRetriesPerDay,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create resolver", err)
		os.Exit(1)
	}

	session := scheduler.NewSession()
	dispatcher, err := calls.NewDispatcher(calls.DispatcherParams{
		Voice:          voice,
		Attempts:       attemptRepo,
		Logger:         logg,
		Metrics:        callMetrics,
		Observer:       session,
		AssistantID:    cfg.Vapi.AssistantID,
		PhoneNumberID:  cfg.Vapi.PhoneNumberID,
		Pacing:         cfg.Calling.PacingInterval,
		MinPhoneLength: cfg.Calling.MinPhoneLength,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create dispatcher", err)
		os.Exit(1)
	}

	recorder, err := calls.NewRecorder(calls.RecorderParams{
		Attempts: attemptRepo,
		Provider: voice,
		Logger:   logg,
		Metrics:  callMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create recorder", err)
		os.Exit(1)
	}

	callService, err := calls.NewService(calls.ServiceParams{
		Attempts:   attemptRepo,
		Orders:     orderRepo,
		Dispatcher: dispatcher,
		Views:      redisClient,
		Logger:     logg,
		ViewTTL:    cfg.Cache.CallHistoryTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create calls service", err)
		os.Exit(1)
	}

	lock, err := scheduler.NewRedisLock(redisClient, redisClient.LockKey("dispatch-cycle"), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create dispatch lock", err)
		os.Exit(1)
	}

	// The api's scheduler stays passive until an operator starts it; the
	// dedicated worker owns the timetable and the redis lock keeps cycles
	// from overlapping across processes.
	sched, err := scheduler.New(scheduler.Params{
		Syncer:            trackingService,
		Resolver:          resolver,
		Dispatcher:        dispatcher,
		Reconciler:        recorder,
		Attempts:          attemptRepo,
		Orders:            orderRepo,
		OrderViews:        orderService,
		CallViews:         callService,
		Lock:              lock,
		Logger:            logg,
		Metrics:           jobMetrics,
		Session:           session,
		CheckInterval:     cfg.Schedule.CheckInterval,
		DispatchTimes:     cfg.Schedule.DispatchTimes,
		SyncLead:          cfg.Schedule.SyncLead,
		DailyResetTime:    cfg.Schedule.DailyResetTime,
		ReconcileInterval: cfg.Schedule.ReconcileInterval,
		AllowedHourStart:  cfg.Calling.AllowedHourStart,
		AllowedHourEnd:    cfg.Calling.AllowedHourEnd,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create scheduler", err)
		os.Exit(1)
	}

	webhookService, err := vapiwebhook.NewService(vapiwebhook.ServiceParams{
		Recorder: recorder,
		Views:    callService,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := vapiwebhook.NewIdempotencyGuard(redisClient, webhookIdempotencyTTL, "vapi")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			logg.Error(ctx, "scheduler loop stopped unexpectedly", err)
		}
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:         cfg,
			Logger:         logg,
			DBPinger:       dbClient,
			RedisPinger:    redisClient,
			Orders:         orderService,
			Tracking:       trackingService,
			Calls:          callService,
			Recorder:       recorder,
			Scheduler:      sched,
			WebhookService: webhookService,
			WebhookGuard:   webhookGuard,
			Idempotency:    redisClient,
		}),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "error shutting down api server", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(context.Background(), "api server shutting down gracefully")
}
