package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/buildflow-erp/buildflow-erp/internal/app"
	"github.com/buildflow-erp/buildflow-erp/internal/consumption"
	"github.com/buildflow-erp/buildflow-erp/internal/inventory"
	"github.com/buildflow-erp/buildflow-erp/internal/observability"
	"github.com/buildflow-erp/buildflow-erp/internal/orders"
	"github.com/buildflow-erp/buildflow-erp/internal/platform/cache"
	"github.com/buildflow-erp/buildflow-erp/internal/platform/db"
	"github.com/buildflow-erp/buildflow-erp/internal/rbac"
	"github.com/buildflow-erp/buildflow-erp/internal/shared"
	"github.com/buildflow-erp/buildflow-erp/internal/thresholds"
	"github.com/buildflow-erp/buildflow-erp/jobs"
)

type transitionRecorder struct {
	metrics *observability.Metrics
	logger  *slog.Logger
}

func (t transitionRecorder) HandleOrderTransitioned(ctx context.Context, evt orders.TransitionedEvent) error {
	if t.metrics != nil {
		t.metrics.ObserveTransition(string(evt.Action))
	}
	t.logger.Info("order transitioned",
		slog.Int64("order_id", evt.OrderID),
		slog.String("number", evt.Number),
		slog.Int64("company_id", evt.CompanyID),
		slog.String("from", string(evt.FromStatus)),
		slog.String("to", string(evt.ToStatus)),
		slog.String("action", string(evt.Action)),
	)
	return nil
}

type lowStockNotifier struct {
	client *jobs.Client
	logger *slog.Logger
}

func (n lowStockNotifier) HandleLowStock(ctx context.Context, evt inventory.LowStockEvent) error {
	n.logger.Warn("stock below minimum",
		slog.Int64("company_id", evt.CompanyID),
		slog.Int64("record_id", evt.RecordID),
		slog.String("item", evt.Name),
		slog.String("location", evt.Location),
		slog.Float64("qty", evt.Qty),
		slog.Float64("min_qty", evt.MinQty),
	)
	if n.client == nil {
		return nil
	}
	_, err := n.client.EnqueueLowStockScan(ctx, jobs.LowStockScanPayload{CompanyID: evt.CompanyID})
	return err
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	locker := redislock.New(redisClient)

	inventoryRepo := inventory.NewRepository(dbpool)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, idempotencyStore, locker, lowStockNotifier{client: jobClient, logger: logger})
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	thresholdRepo := thresholds.NewRepository(dbpool)
	thresholdService := thresholds.NewService(thresholdRepo)
	thresholdHandler := thresholds.NewHandler(logger, thresholdService)

	consumptionRepo := consumption.NewRepository(dbpool)
	consumptionService := consumption.NewService(consumptionRepo)
	consumptionHandler := consumption.NewHandler(logger, consumptionService)

	rbacService := rbac.NewService(dbpool)
	rbacHandler := rbac.NewHandler(logger, rbacService)

	ordersRepo := orders.NewRepository(dbpool)
	ordersService := orders.NewService(ordersRepo, inventoryService, thresholdService, rbacService, auditLogger, transitionRecorder{metrics: metrics, logger: logger})
	ordersHandler := orders.NewHandler(logger, ordersService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		OrdersHandler:      ordersHandler,
		InventoryHandler:   inventoryHandler,
		ThresholdsHandler:  thresholdHandler,
		ConsumptionHandler: consumptionHandler,
		RBACHandler:        rbacHandler,
		JobHandler:         jobHandler,
		Pool:               dbpool,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
