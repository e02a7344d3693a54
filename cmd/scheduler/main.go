package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shipvox/shipvox-backend/internal/calls"
	"github.com/shipvox/shipvox-backend/internal/orders"
	"github.com/shipvox/shipvox-backend/internal/scheduler"
	"github.com/shipvox/shipvox-backend/internal/tracking"
	"github.com/shipvox/shipvox-backend/pkg/config"
	"github.com/shipvox/shipvox-backend/pkg/db"
	"github.com/shipvox/shipvox-backend/pkg/ithink"
	"github.com/shipvox/shipvox-backend/pkg/logger"
	"github.com/shipvox/shipvox-backend/pkg/metrics"
	"github.com/shipvox/shipvox-backend/pkg/migrate"
	"github.com/shipvox/shipvox-backend/pkg/redis"
	"github.com/shipvox/shipvox-backend/pkg/vapi"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "scheduler"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "scheduler"

	logg = logger.New(logger.Options{
		ServiceName: "scheduler",
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting scheduler worker")

	sched.Start()
	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "scheduler worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "scheduler worker shutting down gracefully")
}
