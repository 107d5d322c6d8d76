package app

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-o2c/internal/accounting"
	"github.com/odyssey-erp/odyssey-o2c/internal/ar"
	"github.com/odyssey-erp/odyssey-o2c/internal/audit"
	"github.com/odyssey-erp/odyssey-o2c/internal/delivery"
	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	"github.com/odyssey-erp/odyssey-o2c/internal/integration"
	"github.com/odyssey-erp/odyssey-o2c/internal/inventory"
	"github.com/odyssey-erp/odyssey-o2c/internal/observability"
	"github.com/odyssey-erp/odyssey-o2c/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-o2c/internal/platform/db"
	"github.com/odyssey-erp/odyssey-o2c/internal/policy"
	"github.com/odyssey-erp/odyssey-o2c/internal/pricing"
	"github.com/odyssey-erp/odyssey-o2c/internal/reservation"
	"github.com/odyssey-erp/odyssey-o2c/internal/returns"
	"github.com/odyssey-erp/odyssey-o2c/internal/sales"
	"github.com/odyssey-erp/odyssey-o2c/internal/uom"
	"github.com/odyssey-erp/odyssey-o2c/jobs"
)

// Stack is the wired set of o2c dependencies shared by the binaries.
type Stack struct {
	Config    *Config
	Logger    *slog.Logger
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	RedisOpts asynq.RedisClientOpt
	Metrics   *observability.Metrics
	Policies  *policy.Service
	Jobs      *jobs.Client
	Registry  *docref.Registry
	History   *audit.Service

	Orders     *sales.Service
	Deliveries *delivery.Service
	Invoices   *ar.Service
	Returns    *returns.Service

	closers []func() error
}

// Build connects to Postgres and Redis and wires every document service.
// Close must be called when Build succeeds.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (_ *Stack, err error) {
	s := &Stack{Config: cfg, Logger: logger, RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr}}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	tolerance, err := cfg.Tolerance()
	if err != nil {
		return nil, err
	}
	strictness := reservation.ParseStrictness(cfg.ReservationStrictness)

	s.Pool, err = db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() error { s.Pool.Close(); return nil })

	s.Redis, err = cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.Redis.Close)

	s.Metrics = observability.NewMetrics()
	s.Policies = policy.NewService(policy.NewRepository(s.Pool), s.Redis, cfg.PolicyCacheTTL,
		policy.Policy{MakerChecker: cfg.MakerChecker, Strictness: strictness}, logger)

	units, err := uom.Load(ctx, s.Pool)
	if err != nil {
		return nil, err
	}
	catalog := pricing.NewCatalog(s.Pool)

	s.Jobs, err = jobs.NewClient(s.RedisOpts)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.Jobs.Close)

	bus, closeBus, err := integration.NewBus(integration.Options{
		Kind:         cfg.AccountingBus,
		Enqueuer:     s.Jobs,
		KafkaBrokers: cfg.KafkaBrokers,
		KafkaTopic:   cfg.KafkaTopic,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeBus)

	emitter := accounting.NewEmitter(bus, logger, s.Metrics.Ledger)
	stock := inventory.NewService(inventory.ServiceConfig{AllowNegativeStock: cfg.AllowNegativeStock})
	txOpts := db.TxOptions{LockTimeout: cfg.LockTimeout}
	retry := db.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.TxAttempts

	salesRepo := sales.NewRepository(s.Pool, txOpts)
	deliveryRepo := delivery.NewRepository(s.Pool, txOpts)
	invoiceRepo := ar.NewRepository(s.Pool, txOpts)
	returnRepo := returns.NewRepository(s.Pool, txOpts)

	s.Orders = sales.NewService(salesRepo, sales.ServiceConfig{
		Converter: units,
		Pricer:    catalog.Prices(),
		Taxer:     catalog.Taxes(),
		Policy:    s.Policies,
		Tolerance: tolerance,
		Retry:     retry,
		Logger:    logger,
		Metrics:   s.Metrics.Ledger,
	})
	s.Deliveries = delivery.NewService(deliveryRepo, delivery.ServiceConfig{
		Inventory: stock,
		Emitter:   emitter,
		Tolerance: tolerance,
		Retry:     retry,
		Logger:    logger,
		Metrics:   s.Metrics.Ledger,
	})
	s.Invoices = ar.NewService(invoiceRepo, ar.ServiceConfig{
		Emitter:      emitter,
		MakerChecker: s.Policies.MakerChecker,
		Tolerance:    tolerance,
		Retry:        retry,
		Logger:       logger,
		Metrics:      s.Metrics.Ledger,
	})
	s.Returns = returns.NewService(returnRepo, returns.ServiceConfig{
		Inventory:    stock,
		Emitter:      emitter,
		MakerChecker: s.Policies.MakerChecker,
		Tolerance:    tolerance,
		Retry:        retry,
		Logger:       logger,
		Metrics:      s.Metrics.Ledger,
	})

	s.Registry = docref.NewRegistry()
	s.Registry.Register(docref.KindOrder, salesRepo)
	s.Registry.Register(docref.KindDelivery, deliveryRepo)
	s.Registry.Register(docref.KindInvoice, invoiceRepo)
	s.Registry.Register(docref.KindReturn, returnRepo)
	s.History = audit.NewService(audit.NewRepository(s.Pool))
	return s, nil
}

// Close releases resources in reverse acquisition order.
func (s *Stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && s.Logger != nil {
			s.Logger.Warn("close", slog.Any("error", err))
		}
	}
	s.closers = nil
}
