package consumption

import (
	"errors"
	"time"
)

// Period enumerates the recurring windows a plan can cover.
type Period string

const (
	PeriodDaily     Period = "daily"
	PeriodWeekly    Period = "weekly"
	PeriodMonthly   Period = "monthly"
	PeriodQuarterly Period = "quarterly"
	PeriodYearly    Period = "yearly"
)

// Valid reports whether the period is one of the known windows.
func (p Period) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodQuarterly, PeriodYearly:
		return true
	}
	return false
}

// DestinationKind discriminates the plan destination union, mirroring
// order destinations.
type DestinationKind string

const (
	DestinationOrgUnit DestinationKind = "ORG_UNIT"
	DestinationProject DestinationKind = "PROJECT"
)

// Plan is a planned quantity for a product at a destination over a
// recurring period. Actual consumption is always computed from orders,
// never stored.
type Plan struct {
	ID              int64
	CompanyID       int64
	ProductID       int64
	Name            string
	DestinationKind DestinationKind
	DestinationID   int64
	PlannedQty      float64
	Period          Period
	AlertThreshold  float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Alert is the evaluation result of a plan against actual consumption.
type Alert struct {
	PlanID         int64   `json:"plan_id"`
	PlannedQty     float64 `json:"planned_qty"`
	ActualQty      float64 `json:"actual_qty"`
	PercentageUsed float64 `json:"percentage_used"`
	Triggered      bool    `json:"triggered"`
}

var (
	// ErrNotFound indicates a missing plan.
	ErrNotFound = errors.New("consumption: plan not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("consumption: invalid input")
)

// PeriodStart returns the beginning of the current period containing the
// reference time. Weeks start on Monday; quarters on Jan/Apr/Jul/Oct 1.
func PeriodStart(p Period, ref time.Time) time.Time {
	ref = ref.UTC()
	switch p {
	case PeriodDaily:
		return time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodWeekly:
		day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case PeriodMonthly:
		return time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	case PeriodQuarterly:
		quarterStart := time.Month(((int(ref.Month())-1)/3)*3 + 1)
		return time.Date(ref.Year(), quarterStart, 1, 0, 0, 0, 0, time.UTC)
	case PeriodYearly:
		return time.Date(ref.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Evaluate computes the alert state of a plan for the given actual
// quantity. A zero planned quantity never triggers.
func Evaluate(plan Plan, actual float64) Alert {
	alert := Alert{PlanID: plan.ID, PlannedQty: plan.PlannedQty, ActualQty: actual}
	if plan.PlannedQty <= 0 {
		return alert
	}
	alert.PercentageUsed = actual / plan.PlannedQty * 100
	alert.Triggered = alert.PercentageUsed >= plan.AlertThreshold
	return alert
}
