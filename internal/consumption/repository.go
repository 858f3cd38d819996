package consumption

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists plans in PostgreSQL and reads order history for
// actual-consumption sums.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const planColumns = `id, company_id, product_id, name, destination_kind, destination_id, planned_qty, period, alert_threshold, created_at, updated_at`

func (r *Repository) Create(ctx context.Context, plan Plan) (Plan, error) {
	if r == nil {
		return Plan{}, errors.New("consumption repository not initialised")
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO consumption_plans (company_id, product_id, name, destination_kind, destination_id, planned_qty, period, alert_threshold, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		plan.CompanyID, plan.ProductID, plan.Name, string(plan.DestinationKind), plan.DestinationID, plan.PlannedQty, string(plan.Period), plan.AlertThreshold).
		Scan(&plan.ID, &plan.CreatedAt, &plan.UpdatedAt)
	return plan, err
}

func (r *Repository) Update(ctx context.Context, plan Plan) (Plan, error) {
	if r == nil {
		return Plan{}, errors.New("consumption repository not initialised")
	}
	err := r.pool.QueryRow(ctx, `UPDATE consumption_plans
SET product_id=$3, name=$4, destination_kind=$5, destination_id=$6, planned_qty=$7, period=$8, alert_threshold=$9, updated_at=NOW()
WHERE id=$1 AND company_id=$2 RETURNING updated_at`,
		plan.ID, plan.CompanyID, plan.ProductID, plan.Name, string(plan.DestinationKind), plan.DestinationID, plan.PlannedQty, string(plan.Period), plan.AlertThreshold).
		Scan(&plan.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Plan{}, ErrNotFound
	}
	return plan, err
}

func (r *Repository) Delete(ctx context.Context, companyID, id int64) error {
	if r == nil {
		return errors.New("consumption repository not initialised")
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM consumption_plans WHERE id=$1 AND company_id=$2`, id, companyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, companyID, id int64) (Plan, error) {
	if r == nil {
		return Plan{}, errors.New("consumption repository not initialised")
	}
	return scanPlan(r.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM consumption_plans WHERE id=$1 AND company_id=$2`, id, companyID))
}

func (r *Repository) List(ctx context.Context, companyID int64, period Period) ([]Plan, error) {
	if r == nil {
		return nil, errors.New("consumption repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+planColumns+` FROM consumption_plans
WHERE company_id=$1 AND ($2 = '' OR period=$2) ORDER BY id`, companyID, string(period))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	plans := []Plan{}
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// SumConsumption totals matching line quantities of non-cancelled orders
// created at or after since. Product plans match on product_id, free-text
// plans on name.
func (r *Repository) SumConsumption(ctx context.Context, plan Plan, since time.Time) (float64, error) {
	if r == nil {
		return 0, errors.New("consumption repository not initialised")
	}
	var total float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(l.qty), 0)
FROM order_lines l
JOIN purchase_orders o ON o.id = l.order_id
WHERE o.company_id=$1
  AND o.status <> 'CANCELLED'
  AND o.destination_kind=$2
  AND o.destination_id=$3
  AND o.created_at >= $4
  AND (($5 <> 0 AND l.product_id=$5) OR ($5 = 0 AND l.product_id=0 AND l.name=$6))`,
		plan.CompanyID, string(plan.DestinationKind), plan.DestinationID, since, plan.ProductID, plan.Name).Scan(&total)
	return total, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (Plan, error) {
	var plan Plan
	var kind, period string
	err := row.Scan(&plan.ID, &plan.CompanyID, &plan.ProductID, &plan.Name, &kind, &plan.DestinationID,
		&plan.PlannedQty, &period, &plan.AlertThreshold, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Plan{}, ErrNotFound
		}
		return Plan{}, err
	}
	plan.DestinationKind = DestinationKind(kind)
	plan.Period = Period(period)
	return plan, nil
}
