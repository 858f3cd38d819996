package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service resolves company-scoped role memberships.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// RoleInCompany returns the user's role within the given company. The
// boolean reports whether a membership exists at all.
func (s *Service) RoleInCompany(ctx context.Context, userID, companyID int64) (string, bool, error) {
	var role string
	err := s.pool.QueryRow(ctx, `SELECT role FROM company_memberships WHERE user_id=$1 AND company_id=$2`, userID, companyID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return role, true, nil
}

// ListMemberships returns every membership of a user.
func (s *Service) ListMemberships(ctx context.Context, userID int64) ([]Membership, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, user_id, company_id, role, created_at, updated_at
FROM company_memberships WHERE user_id=$1 ORDER BY company_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var memberships []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.ID, &m.UserID, &m.CompanyID, &m.Role, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// AssignRole upserts the user's role within a company.
func (s *Service) AssignRole(ctx context.Context, userID, companyID int64, role string) (Membership, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return Membership{}, errors.New("rbac: role required")
	}
	var m Membership
	err := s.pool.QueryRow(ctx, `INSERT INTO company_memberships (user_id, company_id, role, created_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW())
ON CONFLICT (user_id, company_id) DO UPDATE SET role=EXCLUDED.role, updated_at=NOW()
RETURNING id, user_id, company_id, role, created_at, updated_at`, userID, companyID, role).
		Scan(&m.ID, &m.UserID, &m.CompanyID, &m.Role, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return Membership{}, err
	}
	return m, nil
}

// RemoveRole deletes a membership. Returns ErrNotFound if nothing was deleted.
func (s *Service) RemoveRole(ctx context.Context, userID, companyID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM company_memberships WHERE user_id=$1 AND company_id=$2`, userID, companyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
