package thresholds

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists thresholds in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const thresholdColumns = `id, company_id, org_unit_id, amount, currency, approval_level, created_at, updated_at`

func (r *Repository) Create(ctx context.Context, t Threshold) (Threshold, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO price_thresholds (company_id, org_unit_id, amount, currency, approval_level, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW()) RETURNING `+thresholdColumns,
		t.CompanyID, t.OrgUnitID, t.Amount, t.Currency, t.Level)
	return scanThreshold(row)
}

func (r *Repository) Update(ctx context.Context, t Threshold) (Threshold, error) {
	row := r.pool.QueryRow(ctx, `UPDATE price_thresholds
SET org_unit_id=$3, amount=$4, currency=$5, approval_level=$6, updated_at=NOW()
WHERE id=$1 AND company_id=$2 RETURNING `+thresholdColumns,
		t.ID, t.CompanyID, t.OrgUnitID, t.Amount, t.Currency, t.Level)
	updated, err := scanThreshold(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Threshold{}, ErrNotFound
	}
	return updated, err
}

func (r *Repository) Delete(ctx context.Context, companyID, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM price_thresholds WHERE id=$1 AND company_id=$2`, id, companyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, companyID, id int64) (Threshold, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+thresholdColumns+` FROM price_thresholds WHERE id=$1 AND company_id=$2`, id, companyID)
	t, err := scanThreshold(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Threshold{}, ErrNotFound
	}
	return t, err
}

func (r *Repository) List(ctx context.Context, companyID int64) ([]Threshold, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+thresholdColumns+` FROM price_thresholds WHERE company_id=$1 ORDER BY amount DESC`, companyID)
	if err != nil {
		return nil, err
	}
	return collectThresholds(rows)
}

// ListForScope gathers unit-specific thresholds plus company-wide ones.
func (r *Repository) ListForScope(ctx context.Context, companyID int64, orgUnitID *int64) ([]Threshold, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+thresholdColumns+` FROM price_thresholds
WHERE company_id=$1 AND (org_unit_id IS NULL OR org_unit_id=$2)
ORDER BY amount DESC`, companyID, orgUnitID)
	if err != nil {
		return nil, err
	}
	return collectThresholds(rows)
}

func collectThresholds(rows pgx.Rows) ([]Threshold, error) {
	defer rows.Close()
	out := []Threshold{}
	for rows.Next() {
		t, err := scanThresholdRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanThreshold(row pgx.Row) (Threshold, error) {
	var t Threshold
	var amount decimal.Decimal
	err := row.Scan(&t.ID, &t.CompanyID, &t.OrgUnitID, &amount, &t.Currency, &t.Level, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Threshold{}, err
	}
	t.Amount = amount
	return t, nil
}

func scanThresholdRows(rows pgx.Rows) (Threshold, error) {
	var t Threshold
	var amount decimal.Decimal
	if err := rows.Scan(&t.ID, &t.CompanyID, &t.OrgUnitID, &amount, &t.Currency, &t.Level, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Threshold{}, err
	}
	t.Amount = amount
	return t, nil
}
