package orders

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Order lifecycle statuses.
type Status string

const (
	StatusDraft               Status = "DRAFT"
	StatusPendingSiteManager  Status = "PENDING_SITE_MANAGER"
	StatusApprovedSiteManager Status = "APPROVED_SITE_MANAGER"
	StatusCheckingStock       Status = "CHECKING_STOCK"
	StatusFulfilledInternal   Status = "FULFILLED_INTERNAL"
	StatusNeedsExternalOrder  Status = "NEEDS_EXTERNAL_ORDER"
	StatusPendingManagement   Status = "PENDING_MANAGEMENT"
	StatusApprovedManagement  Status = "APPROVED_MANAGEMENT"
	StatusRejectedManagement  Status = "REJECTED_MANAGEMENT"
	StatusSubmittedToSupplier Status = "SUBMITTED_TO_SUPPLIER"
	StatusPendingSupplier     Status = "PENDING_SUPPLIER"
	StatusAcceptedSupplier    Status = "ACCEPTED_SUPPLIER"
	StatusRejectedSupplier    Status = "REJECTED_SUPPLIER"
	StatusInTransit           Status = "IN_TRANSIT"
	StatusDelivered           Status = "DELIVERED"
	StatusCompleted           Status = "COMPLETED"
	StatusCancelled           Status = "CANCELLED"
)

// Workflow actions attached to transitions.
type Action string

const (
	ActionSubmit             Action = "submit"
	ActionApproveSiteManager Action = "approve_site_manager"
	ActionCheckStock         Action = "check_stock"
	ActionFulfillInternal    Action = "fulfill_internal"
	ActionRouteExternal      Action = "route_external"
	ActionRequestManagement  Action = "request_management"
	ActionApproveManagement  Action = "approve_management"
	ActionRejectManagement   Action = "reject_management"
	ActionSubmitToSupplier   Action = "submit_to_supplier"
	ActionAckSupplier        Action = "ack_supplier"
	ActionAcceptSupplier     Action = "accept_supplier"
	ActionRejectSupplier     Action = "reject_supplier"
	ActionMarkInTransit      Action = "mark_in_transit"
	ActionMarkDelivered      Action = "mark_delivered"
	ActionComplete           Action = "complete"
	ActionCancel             Action = "cancel"
)

// Roles known to the workflow. Supplier roles are resolved against the
// supplier company, every other role against the buying company.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleRequester   Role = "requester"
	RoleSiteManager Role = "site_manager"
	RoleManagement  Role = "management"
	RoleWarehouse   Role = "warehouse"
	RoleSupplier    Role = "supplier"
	// RoleSystem authorizes automatic transitions triggered by the engine.
	RoleSystem Role = "system"
)

// DestinationKind discriminates the order destination union.
type DestinationKind string

const (
	DestinationOrgUnit DestinationKind = "ORG_UNIT"
	DestinationProject DestinationKind = "PROJECT"
)

// Destination is a tagged union: internal orders point at an
// organizational unit, external orders at a project. Exactly one.
type Destination struct {
	Kind DestinationKind
	ID   int64
}

// Order is the purchase order header.
type Order struct {
	ID                   int64
	Number               string
	CompanyID            int64
	SupplierID           int64
	Destination          Destination
	CreatedBy            int64
	SiteManagerID        int64
	ManagementApproverID int64
	Status               Status
	Reason               string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	// StatusAt records when each reached status was entered.
	StatusAt map[Status]time.Time
}

// Line is a single order line. Total is derived, never stored on its own.
type Line struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Name      string
	Qty       float64
	Unit      string
	UnitPrice decimal.Decimal
}

// Total returns qty * unit price for the line.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromFloat(l.Qty))
}

// OrderTotal sums line totals at read time.
func OrderTotal(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Total())
	}
	return total
}

// HistoryEntry is the append-only workflow trail. One entry per
// successful transition, written in the same transaction as the status
// update.
type HistoryEntry struct {
	ID         int64
	OrderID    int64
	FromStatus Status
	ToStatus   Status
	ActorID    int64
	Action     Action
	Notes      string
	At         time.Time
}

// Actor identifies the caller of a workflow operation. CompanyID is the
// company the actor acts for, which for supplier-side actions differs
// from the order's owning company.
type Actor struct {
	UserID    int64
	CompanyID int64
}

var (
	// ErrNotFound indicates the order or a referenced record is missing.
	ErrNotFound = errors.New("orders: not found")
	// ErrInvalidTransition occurs when the requested edge is not declared
	// or the order sits in a terminal status.
	ErrInvalidTransition = errors.New("orders: invalid state transition")
	// ErrForbidden indicates the permission gate denied the action.
	ErrForbidden = errors.New("orders: forbidden")
	// ErrEmptyOrder occurs when fulfillment is attempted without lines.
	ErrEmptyOrder = errors.New("orders: order has no lines")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("orders: invalid input")
)

// IsTerminal reports whether the status has no outgoing edges.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFulfilledInternal,
		StatusRejectedManagement, StatusRejectedSupplier:
		return true
	}
	return false
}
