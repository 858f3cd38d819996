package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskConsumptionAlertScan walks consumption plans and raises budget alerts.
	TaskConsumptionAlertScan = "consumption:alert_scan"
	// TaskInventoryLowStockScan reports stock records that fell below minimum.
	TaskInventoryLowStockScan = "inventory:low_stock_scan"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// ConsumptionAlertScanPayload narrows the alert scan to a single company when
// CompanyID is set; zero means every company with active plans.
type ConsumptionAlertScanPayload struct {
	CompanyID int64 `json:"company_id"`
}

// NewConsumptionAlertScanTask constructs an Asynq task.
func NewConsumptionAlertScanTask(payload ConsumptionAlertScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConsumptionAlertScan, data), nil
}

// LowStockScanPayload narrows the low-stock scan to a single company when
// CompanyID is set.
type LowStockScanPayload struct {
	CompanyID int64 `json:"company_id"`
}

// NewLowStockScanTask constructs an Asynq task.
func NewLowStockScanTask(payload LowStockScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryLowStockScan, data), nil
}

// IdempotencyCleanupPayload controls how old a key must be before removal.
type IdempotencyCleanupPayload struct {
	MaxAgeHours int `json:"max_age_hours"`
}

// NewIdempotencyCleanupTask constructs an Asynq task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
