package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-o2c/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-o2c/internal/jobs"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
	"github.com/odyssey-erp/odyssey-o2c/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	stack, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build stack", slog.Any("error", err))
		os.Exit(1)
	}
	defer stack.Close()

	if err := run(ctx, stack); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		stack.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, stack *app.Stack) error {
	cfg, logger := stack.Config, stack.Logger
	tolerance, err := cfg.Tolerance()
	if err != nil {
		return err
	}

	jobMetrics := jobmetrics.NewMetrics(stack.Metrics.Registerer())
	integrity := jobs.NewIntegrityJob(jobs.IntegrityConfig{
		Scanner:   jobs.NewPgIntegrityScanner(stack.Pool),
		Registry:  stack.Registry,
		Locker:    redislock.New(stack.Redis),
		Metrics:   jobMetrics,
		Logger:    logger,
		Tolerance: tolerance,
	})
	integrityTask, err := jobs.NewLedgerIntegrityTask(jobs.LedgerIntegrityPayload{Grace: time.Hour})
	if err != nil {
		return err
	}
	cleanup := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(stack.Pool), jobMetrics, logger)
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(jobs.IdempotencyCleanupPayload{Retention: cfg.IdempotencyRetention})
	if err != nil {
		return err
	}
	dispatch := jobs.NewAccountingDispatchHandler(jobs.NewPgInbox(stack.Pool), logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: stack.RedisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAccountingDispatch, Handler: dispatch.ProcessTask},
			{Type: jobs.TaskLedgerIntegrity, Handler: integrity.ProcessTask},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanup.ProcessTask},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.IntegrityCron, Task: integrityTask},
			{Spec: cfg.CleanupCron, Task: cleanupTask},
		},
	})
	if err != nil {
		return err
	}

	inspector := asynq.NewInspector(stack.RedisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := chi.NewRouter()
	router.Use(stack.Metrics.Middleware)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := stack.Pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", stack.Metrics.Handler())
	router.Route("/jobs", jobs.NewHandler(inspector, logger).MountRoutes)

	srv := &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return worker.Run(ctx)
	})
	group.Go(func() error {
		logger.Info("ops server listening", slog.String("addr", cfg.OpsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
