package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/buildflow-erp/buildflow-erp/internal/consumption"
	jobmetrics "github.com/buildflow-erp/buildflow-erp/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ConsumptionSummarySource evaluates the consumption plans of one company.
type ConsumptionSummarySource interface {
	Summary(ctx context.Context, companyID int64, period consumption.Period) ([]consumption.PlanSummary, error)
}

// ConsumptionAlertScanJob walks consumption plans and reports the ones whose
// actual usage crossed the alert threshold for the current period.
type ConsumptionAlertScanJob struct {
	Pool      *pgxpool.Pool
	Summaries ConsumptionSummarySource
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewConsumptionAlertScanJob initialises the alert scan handler.
func NewConsumptionAlertScanJob(pool *pgxpool.Pool, summaries ConsumptionSummarySource, logger *slog.Logger, metrics *jobmetrics.Metrics) *ConsumptionAlertScanJob {
	return &ConsumptionAlertScanJob{
		Pool:      pool,
		Summaries: summaries,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the consumption alert scan.
func (j *ConsumptionAlertScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Summaries == nil {
		return errors.New("consumption alert scan: handler not configured")
	}
	var payload ConsumptionAlertScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.now()
	tracker := j.metrics().Track(TaskConsumptionAlertScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting consumption alert scan", slog.Int64("company_id", payload.CompanyID))

	companies, err := j.companies(ctx, payload.CompanyID)
	if err != nil {
		resultErr = err
		logger.Error("listing companies failed", slog.Any("error", err))
		return resultErr
	}

	var mu sync.Mutex
	plans := 0
	triggered := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, companyID := range companies {
		companyID := companyID
		g.Go(func() error {
			summaries, err := j.Summaries.Summary(gctx, companyID, "")
			if err != nil {
				logger.Error("summary failed", slog.Int64("company_id", companyID), slog.Any("error", err))
				return err
			}
			fired := 0
			for _, s := range summaries {
				if !s.Alert.Triggered {
					continue
				}
				fired++
				logger.Warn("consumption alert triggered",
					slog.Int64("company_id", companyID),
					slog.Int64("plan_id", s.Plan.ID),
					slog.String("item", s.Plan.Name),
					slog.String("period", string(s.Plan.Period)),
					slog.Float64("planned_qty", s.Alert.PlannedQty),
					slog.Float64("actual_qty", s.Alert.ActualQty),
					slog.Float64("percentage_used", s.Alert.PercentageUsed),
				)
			}
			j.metrics().AddAlerts("consumption", companyID, fired)
			mu.Lock()
			plans += len(summaries)
			triggered += fired
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		resultErr = err
		return resultErr
	}

	logger.Info("completed consumption alert scan",
		slog.Int("companies", len(companies)),
		slog.Int("plans", plans),
		slog.Int("triggered", triggered),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *ConsumptionAlertScanJob) companies(ctx context.Context, companyID int64) ([]int64, error) {
	if companyID > 0 {
		return []int64{companyID}, nil
	}
	if j.Pool == nil {
		return nil, errors.New("consumption alert scan: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `SELECT DISTINCT company_id FROM consumption_plans ORDER BY company_id`)
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

func (j *ConsumptionAlertScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskConsumptionAlertScan))
	}
	return slog.Default().With(slog.String("job", TaskConsumptionAlertScan))
}

func (j *ConsumptionAlertScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ConsumptionAlertScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
