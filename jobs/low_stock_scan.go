package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buildflow-erp/buildflow-erp/internal/inventory"
	jobmetrics "github.com/buildflow-erp/buildflow-erp/internal/jobs"
)

// LowStockSource lists the stock records of a company that sit below their
// configured minimum.
type LowStockSource interface {
	ListBelowMinimum(ctx context.Context, companyID int64) ([]inventory.Record, error)
}

// LowStockScanJob reports inventory records below minimum stock so purchasing
// can reorder before sites run dry.
type LowStockScanJob struct {
	Pool      *pgxpool.Pool
	Inventory LowStockSource
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewLowStockScanJob initialises the low-stock scan handler.
func NewLowStockScanJob(pool *pgxpool.Pool, inv LowStockSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Pool: pool, Inventory: inv, Logger: logger, Metrics: metrics}
}

// Handle executes the low-stock scan.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Inventory == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskInventoryLowStockScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting low stock scan", slog.Int64("company_id", payload.CompanyID))

	companies, err := j.companies(ctx, payload.CompanyID)
	if err != nil {
		resultErr = err
		logger.Error("listing companies failed", slog.Any("error", err))
		return resultErr
	}

	total := 0
	for _, companyID := range companies {
		records, err := j.Inventory.ListBelowMinimum(ctx, companyID)
		if err != nil {
			resultErr = err
			logger.Error("low stock lookup failed", slog.Int64("company_id", companyID), slog.Any("error", err))
			return resultErr
		}
		for _, rec := range records {
			logger.Warn("stock below minimum",
				slog.Int64("company_id", rec.CompanyID),
				slog.Int64("record_id", rec.ID),
				slog.String("item", rec.Name),
				slog.String("location", rec.Location),
				slog.Float64("qty", rec.Qty),
				slog.Float64("min_qty", rec.MinQty),
			)
		}
		total += len(records)
		j.metrics().AddAlerts("low_stock", companyID, len(records))
	}

	logger.Info("completed low stock scan",
		slog.Int("companies", len(companies)),
		slog.Int("below_minimum", total),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *LowStockScanJob) companies(ctx context.Context, companyID int64) ([]int64, error) {
	if companyID > 0 {
		return []int64{companyID}, nil
	}
	if j.Pool == nil {
		return nil, errors.New("low stock scan: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `SELECT DISTINCT company_id FROM inventory_records ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInventoryLowStockScan))
	}
	return slog.Default().With(slog.String("job", TaskInventoryLowStockScan))
}

func (j *LowStockScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
