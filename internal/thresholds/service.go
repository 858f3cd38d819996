package thresholds

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	Create(ctx context.Context, t Threshold) (Threshold, error)
	Update(ctx context.Context, t Threshold) (Threshold, error)
	Delete(ctx context.Context, companyID, id int64) error
	Get(ctx context.Context, companyID, id int64) (Threshold, error)
	List(ctx context.Context, companyID int64) ([]Threshold, error)
	ListForScope(ctx context.Context, companyID int64, orgUnitID *int64) ([]Threshold, error)
}

// Service manages spend ceilings and resolves the approval level an
// order total requires.
type Service struct {
	repo RepositoryPort
}

// NewService constructs threshold service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Input describes creation/update payload.
type Input struct {
	CompanyID int64
	OrgUnitID *int64
	Amount    decimal.Decimal
	Currency  string
	Level     string
}

func (in *Input) validate() error {
	if in.CompanyID == 0 {
		return fmt.Errorf("%w: company required", ErrValidation)
	}
	if in.Amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if in.Level == "" {
		return fmt.Errorf("%w: approval level required", ErrValidation)
	}
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = "EUR"
	}
	if _, err := currency.ParseISO(in.Currency); err != nil {
		return fmt.Errorf("%w: unknown currency %q", ErrValidation, in.Currency)
	}
	return nil
}

// Create persists a new threshold.
func (s *Service) Create(ctx context.Context, input Input) (Threshold, error) {
	if err := input.validate(); err != nil {
		return Threshold{}, err
	}
	return s.repo.Create(ctx, Threshold{
		CompanyID: input.CompanyID,
		OrgUnitID: input.OrgUnitID,
		Amount:    input.Amount,
		Currency:  input.Currency,
		Level:     input.Level,
	})
}

// Update replaces an existing threshold's scope, amount and level.
func (s *Service) Update(ctx context.Context, id int64, input Input) (Threshold, error) {
	if err := input.validate(); err != nil {
		return Threshold{}, err
	}
	existing, err := s.repo.Get(ctx, input.CompanyID, id)
	if err != nil {
		return Threshold{}, err
	}
	existing.OrgUnitID = input.OrgUnitID
	existing.Amount = input.Amount
	existing.Currency = input.Currency
	existing.Level = input.Level
	return s.repo.Update(ctx, existing)
}

// Delete removes a threshold.
func (s *Service) Delete(ctx context.Context, companyID, id int64) error {
	return s.repo.Delete(ctx, companyID, id)
}

// Get loads one threshold.
func (s *Service) Get(ctx context.Context, companyID, id int64) (Threshold, error) {
	return s.repo.Get(ctx, companyID, id)
}

// List returns every threshold of a company.
func (s *Service) List(ctx context.Context, companyID int64) ([]Threshold, error) {
	return s.repo.List(ctx, companyID)
}

// CheckExceeded resolves the threshold an order total trips within the
// given scope. Returns nil when none is exceeded.
func (s *Service) CheckExceeded(ctx context.Context, companyID int64, orgUnitID *int64, total decimal.Decimal) (*Threshold, error) {
	candidates, err := s.repo.ListForScope(ctx, companyID, orgUnitID)
	if err != nil {
		return nil, err
	}
	return Resolve(candidates, orgUnitID, total), nil
}
