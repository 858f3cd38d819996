package rbac

import (
	"errors"
	"time"
)

// Membership ties a user to a company with one workflow role. A user may
// hold memberships in several companies (e.g. a supplier contact also
// registered at the buyer), so every role lookup is scoped by company.
type Membership struct {
	ID        int64
	UserID    int64
	CompanyID int64
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// ErrValidation indicates invalid input.
var ErrValidation = errors.New("rbac: invalid input")
