package consumption

import (
	"context"
	"fmt"
	"time"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	Create(ctx context.Context, plan Plan) (Plan, error)
	Update(ctx context.Context, plan Plan) (Plan, error)
	Delete(ctx context.Context, companyID, id int64) error
	Get(ctx context.Context, companyID, id int64) (Plan, error)
	List(ctx context.Context, companyID int64, period Period) ([]Plan, error)
	// SumConsumption totals line-item quantities of non-cancelled orders
	// matching the plan's product and destination, created at or after
	// since.
	SumConsumption(ctx context.Context, plan Plan, since time.Time) (float64, error)
}

// Service manages consumption plans and evaluates alerts against actual
// order history.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService constructs the consumption tracker.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Input describes a plan creation/update payload. Exactly one of
// OrgUnitID or ProjectID must be set.
type Input struct {
	CompanyID      int64
	ProductID      int64
	Name           string
	OrgUnitID      *int64
	ProjectID      *int64
	PlannedQty     float64
	Period         Period
	AlertThreshold float64
}

func (in Input) validate() error {
	if in.CompanyID == 0 {
		return fmt.Errorf("%w: company required", ErrValidation)
	}
	if in.ProductID == 0 && in.Name == "" {
		return fmt.Errorf("%w: product or item name required", ErrValidation)
	}
	if (in.OrgUnitID == nil) == (in.ProjectID == nil) {
		return fmt.Errorf("%w: exactly one of org unit or project must be set", ErrValidation)
	}
	if in.PlannedQty <= 0 {
		return fmt.Errorf("%w: planned quantity must be positive", ErrValidation)
	}
	if !in.Period.Valid() {
		return fmt.Errorf("%w: unknown period %q", ErrValidation, in.Period)
	}
	if in.AlertThreshold <= 0 || in.AlertThreshold > 100 {
		return fmt.Errorf("%w: alert threshold must be in (0,100]", ErrValidation)
	}
	return nil
}

func (in Input) toPlan() Plan {
	plan := Plan{
		CompanyID:       in.CompanyID,
		ProductID:       in.ProductID,
		Name:            in.Name,
		PlannedQty:      in.PlannedQty,
		Period:          in.Period,
		AlertThreshold:  in.AlertThreshold,
		DestinationKind: DestinationOrgUnit,
	}
	if in.ProjectID != nil {
		plan.DestinationKind = DestinationProject
		plan.DestinationID = *in.ProjectID
	} else if in.OrgUnitID != nil {
		plan.DestinationID = *in.OrgUnitID
	}
	return plan
}

// Create persists a new plan.
func (s *Service) Create(ctx context.Context, input Input) (Plan, error) {
	if err := input.validate(); err != nil {
		return Plan{}, err
	}
	return s.repo.Create(ctx, input.toPlan())
}

// Update replaces an existing plan's target and period.
func (s *Service) Update(ctx context.Context, id int64, input Input) (Plan, error) {
	if err := input.validate(); err != nil {
		return Plan{}, err
	}
	existing, err := s.repo.Get(ctx, input.CompanyID, id)
	if err != nil {
		return Plan{}, err
	}
	plan := input.toPlan()
	plan.ID = existing.ID
	plan.CreatedAt = existing.CreatedAt
	return s.repo.Update(ctx, plan)
}

// Delete removes a plan.
func (s *Service) Delete(ctx context.Context, companyID, id int64) error {
	return s.repo.Delete(ctx, companyID, id)
}

// Get loads one plan.
func (s *Service) Get(ctx context.Context, companyID, id int64) (Plan, error) {
	return s.repo.Get(ctx, companyID, id)
}

// List returns a company's plans, optionally filtered by period.
func (s *Service) List(ctx context.Context, companyID int64, period Period) ([]Plan, error) {
	return s.repo.List(ctx, companyID, period)
}

// ActualConsumption computes the quantity consumed in the plan's current
// period from order history.
func (s *Service) ActualConsumption(ctx context.Context, plan Plan) (float64, error) {
	return s.repo.SumConsumption(ctx, plan, PeriodStart(plan.Period, s.now()))
}

// CheckAlert evaluates one plan against actual consumption.
func (s *Service) CheckAlert(ctx context.Context, companyID, planID int64) (Alert, error) {
	plan, err := s.repo.Get(ctx, companyID, planID)
	if err != nil {
		return Alert{}, err
	}
	actual, err := s.ActualConsumption(ctx, plan)
	if err != nil {
		return Alert{}, err
	}
	return Evaluate(plan, actual), nil
}

// PlanSummary pairs a plan with its current alert state.
type PlanSummary struct {
	Plan  Plan
	Alert Alert
}

// Summary evaluates every plan of a company for the given period.
func (s *Service) Summary(ctx context.Context, companyID int64, period Period) ([]PlanSummary, error) {
	if period != "" && !period.Valid() {
		return nil, fmt.Errorf("%w: unknown period %q", ErrValidation, period)
	}
	plans, err := s.repo.List(ctx, companyID, period)
	if err != nil {
		return nil, err
	}
	out := make([]PlanSummary, 0, len(plans))
	for _, plan := range plans {
		actual, err := s.ActualConsumption(ctx, plan)
		if err != nil {
			return nil, err
		}
		out = append(out, PlanSummary{Plan: plan, Alert: Evaluate(plan, actual)})
	}
	return out, nil
}
