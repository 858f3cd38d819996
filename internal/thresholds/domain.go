package thresholds

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Approval levels a threshold can escalate to.
const (
	LevelManagement = "MANAGEMENT"
	LevelDirection  = "DIRECTION"
)

// Threshold is a spend ceiling. A nil OrgUnitID makes it company-wide;
// otherwise it applies to one organizational unit only. Several may
// apply to the same order total; Resolve picks the winner.
type Threshold struct {
	ID        int64
	CompanyID int64
	OrgUnitID *int64
	Amount    decimal.Decimal
	Currency  string
	Level     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

var (
	// ErrNotFound indicates a missing threshold.
	ErrNotFound = errors.New("thresholds: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("thresholds: invalid input")
)

// Resolve picks the most specific threshold exceeded by total: only
// thresholds whose amount is at or below the total qualify; unit-specific
// ones beat company-wide ones; among the rest the largest amount wins.
// Returns nil when no threshold is exceeded. Pure, so repeated calls with
// unchanged inputs always resolve identically.
func Resolve(candidates []Threshold, orgUnitID *int64, total decimal.Decimal) *Threshold {
	var winner *Threshold
	for i := range candidates {
		t := &candidates[i]
		if t.OrgUnitID != nil && (orgUnitID == nil || *t.OrgUnitID != *orgUnitID) {
			continue
		}
		if total.LessThan(t.Amount) {
			continue
		}
		if winner == nil {
			winner = t
			continue
		}
		winnerScoped := winner.OrgUnitID != nil
		candidateScoped := t.OrgUnitID != nil
		switch {
		case candidateScoped && !winnerScoped:
			winner = t
		case candidateScoped == winnerScoped && t.Amount.GreaterThan(winner.Amount):
			winner = t
		}
	}
	return winner
}
