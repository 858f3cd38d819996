package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/buildflow-erp/buildflow-erp/internal/inventory"
	"github.com/buildflow-erp/buildflow-erp/internal/shared"
	"github.com/buildflow-erp/buildflow-erp/internal/thresholds"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (Order, []Line, error)
	ListOrders(ctx context.Context, limit, offset int, filters ListFilters) ([]Order, int, error)
	ListHistory(ctx context.Context, orderID int64) ([]HistoryEntry, error)
}

// InventoryPort exposes the ledger operations the engine needs.
type InventoryPort interface {
	CheckAvailability(ctx context.Context, companyID int64, location string, items []inventory.CheckItem) (inventory.CheckResult, error)
	Fulfill(ctx context.Context, input inventory.FulfillInput) error
}

// ThresholdPort resolves the approval level an order total requires.
type ThresholdPort interface {
	CheckExceeded(ctx context.Context, companyID int64, orgUnitID *int64, total decimal.Decimal) (*thresholds.Threshold, error)
}

// RBACPort resolves company-scoped role membership.
type RBACPort interface {
	RoleInCompany(ctx context.Context, userID, companyID int64) (string, bool, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the workflow engine: it validates edges, consults the
// permission gate, performs stock and threshold side effects and
// persists each transition atomically with its history entry.
type Service struct {
	repo       RepositoryPort
	inventory  InventoryPort
	thresholds ThresholdPort
	rbac       RBACPort
	audit      AuditPort
	events     IntegrationHandler
}

// NewService constructs the workflow engine.
func NewService(repo RepositoryPort, inv InventoryPort, th ThresholdPort, rbac RBACPort, audit AuditPort, events IntegrationHandler) *Service {
	return &Service{repo: repo, inventory: inv, thresholds: th, rbac: rbac, audit: audit, events: events}
}

// ListFilters narrows order listings.
type ListFilters struct {
	CompanyID       int64
	Status          string
	SupplierID      int64
	DestinationKind string
	Search          string
}

// LineInput describes one requested item.
type LineInput struct {
	ProductID int64
	Name      string
	Qty       float64
	Unit      string
	UnitPrice decimal.Decimal
}

// CreateInput describes order creation. Exactly one of OrgUnitID or
// ProjectID must be set.
type CreateInput struct {
	CompanyID  int64
	SupplierID int64
	OrgUnitID  *int64
	ProjectID  *int64
	Notes      string
	Lines      []LineInput
}

// TransitionOptions tunes a transition request. SkipValidation bypasses
// the permission gate only, never the edge check; it is reserved for
// system-triggered automatic transitions.
type TransitionOptions struct {
	Notes          string
	SkipValidation bool
}

// OrderDetail bundles an order with its lines and derived total.
type OrderDetail struct {
	Order Order
	Lines []Line
	Total decimal.Decimal
}

var systemActor = Actor{}

// CreateOrder persists the order header and lines in one transaction.
// Lines are frozen once the order leaves draft.
func (s *Service) CreateOrder(ctx context.Context, input CreateInput, actor Actor) (Order, error) {
	if input.CompanyID == 0 {
		return Order{}, fmt.Errorf("%w: company required", ErrValidation)
	}
	if (input.OrgUnitID == nil) == (input.ProjectID == nil) {
		return Order{}, fmt.Errorf("%w: exactly one of org unit or project must be set", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return Order{}, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	dest := Destination{Kind: DestinationOrgUnit}
	if input.ProjectID != nil {
		dest = Destination{Kind: DestinationProject, ID: *input.ProjectID}
	} else {
		dest.ID = *input.OrgUnitID
	}
	order := Order{
		Number:      generateNumber("PO"),
		CompanyID:   input.CompanyID,
		SupplierID:  input.SupplierID,
		Destination: dest,
		CreatedBy:   actor.UserID,
		Status:      StatusDraft,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateOrder(ctx, order)
		if err != nil {
			return err
		}
		order.ID = id
		for _, line := range input.Lines {
			if line.ProductID == 0 && line.Name == "" {
				return fmt.Errorf("%w: line needs a product or item name", ErrValidation)
			}
			if line.Qty <= 0 {
				return fmt.Errorf("%w: line quantity must be positive", ErrValidation)
			}
			if line.UnitPrice.IsNegative() {
				return fmt.Errorf("%w: line price must not be negative", ErrValidation)
			}
			if err := tx.InsertLine(ctx, Line{
				OrderID:   id,
				ProductID: line.ProductID,
				Name:      line.Name,
				Qty:       line.Qty,
				Unit:      line.Unit,
				UnitPrice: line.UnitPrice,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, actor.UserID, "order:create", order.ID, map[string]any{"number": order.Number})
	return order, nil
}

// GetOrder loads an order, its lines and the derived total.
func (s *Service) GetOrder(ctx context.Context, id int64) (OrderDetail, error) {
	order, lines, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return OrderDetail{}, err
	}
	return OrderDetail{Order: order, Lines: lines, Total: OrderTotal(lines)}, nil
}

// ListOrders lists orders with filters and pagination.
func (s *Service) ListOrders(ctx context.Context, limit, offset int, filters ListFilters) ([]Order, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListOrders(ctx, limit, offset, filters)
}

// History returns the append-only workflow trail of an order.
func (s *Service) History(ctx context.Context, orderID int64) ([]HistoryEntry, error) {
	if _, _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, orderID)
}

// Transition moves an order along one declared edge. The status update
// and its history entry commit in the same transaction; expected
// failures come back as typed errors, never as partial state.
func (s *Service) Transition(ctx context.Context, orderID int64, target Status, actor Actor, opts TransitionOptions) (Order, error) {
	order, lines, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	spec, ok := edgeFor(order.Status, target)
	if !ok {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, target)
	}
	if !opts.SkipValidation {
		if err := s.authorize(ctx, order, spec, actor); err != nil {
			return Order{}, err
		}
	}

	from := order.Status
	reason := ""
	switch spec.Action {
	case ActionCancel, ActionRejectManagement, ActionRejectSupplier:
		reason = opts.Notes
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if current.Status != from {
			// A concurrent writer moved the order; force re-validation.
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, target)
		}
		if err := tx.UpdateStatus(ctx, orderID, target, reason); err != nil {
			return err
		}
		switch spec.Action {
		case ActionApproveSiteManager:
			if err := tx.SetSiteManager(ctx, orderID, actor.UserID); err != nil {
				return err
			}
		case ActionApproveManagement:
			if actor.UserID != 0 {
				if err := tx.SetManagementApprover(ctx, orderID, actor.UserID); err != nil {
					return err
				}
			}
		}
		return tx.InsertHistory(ctx, HistoryEntry{
			OrderID:    orderID,
			FromStatus: from,
			ToStatus:   target,
			ActorID:    actor.UserID,
			Action:     spec.Action,
			Notes:      opts.Notes,
			At:         time.Now().UTC(),
		})
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, actor.UserID, fmt.Sprintf("order:%s", spec.Action), orderID, map[string]any{"from": from, "to": target})
	s.notifyTransition(ctx, order, from, target, spec.Action)

	// Automatic follow-up hops.
	switch target {
	case StatusApprovedSiteManager:
		return s.advanceStockCheck(ctx, orderID, lines)
	case StatusPendingManagement:
		return s.advancePastThreshold(ctx, orderID, order, lines)
	}

	updated, _, err := s.repo.GetOrder(ctx, orderID)
	return updated, err
}

// CanPerform reports whether the actor may run the action on the order.
func (s *Service) CanPerform(ctx context.Context, actor Actor, orderID int64, action Action) (bool, error) {
	order, _, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	_, spec, ok := actionTarget(order.Status, action)
	if !ok {
		return false, nil
	}
	if err := s.authorize(ctx, order, spec, actor); err != nil {
		if errors.Is(err, ErrForbidden) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AvailableActions lists the actions the actor may currently take. It
// answers from the same authorization path as CanPerform, so the two
// views always agree: role-bearing system edges (manual stock check,
// manual management approval) show up for the roles that hold them.
func (s *Service) AvailableActions(ctx context.Context, orderID int64, actor Actor) ([]Action, error) {
	order, _, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var out []Action
	for _, to := range OutgoingStatuses(order.Status) {
		spec, ok := edgeFor(order.Status, to)
		if !ok {
			continue
		}
		if err := s.authorize(ctx, order, spec, actor); err != nil {
			if errors.Is(err, ErrForbidden) {
				continue
			}
			return nil, err
		}
		out = append(out, spec.Action)
	}
	return out, nil
}

// CheckStock runs the availability check for every line without mutating
// inventory.
func (s *Service) CheckStock(ctx context.Context, orderID int64) (inventory.CheckResult, error) {
	order, lines, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return inventory.CheckResult{}, err
	}
	if len(lines) == 0 {
		return inventory.CheckResult{}, ErrEmptyOrder
	}
	return s.inventory.CheckAvailability(ctx, order.CompanyID, inventory.DefaultLocation, checkItems(lines))
}

// FulfillFromStock deducts every line from inventory, all or nothing,
// and moves the order to FULFILLED_INTERNAL. Valid only while the order
// sits in CHECKING_STOCK.
func (s *Service) FulfillFromStock(ctx context.Context, orderID int64, actor Actor) (Order, error) {
	order, lines, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status != StatusCheckingStock {
		return Order{}, fmt.Errorf("%w: fulfillment requires %s, order is %s", ErrInvalidTransition, StatusCheckingStock, order.Status)
	}
	if len(lines) == 0 {
		return Order{}, ErrEmptyOrder
	}
	err = s.fulfill(ctx, order, lines, actor)
	if err != nil && !errors.Is(err, shared.ErrIdempotencyConflict) {
		return Order{}, err
	}
	// An idempotency conflict means an earlier attempt already deducted
	// the stock but failed to record the status; finish the transition.
	return s.Transition(ctx, orderID, StatusFulfilledInternal, systemActor, TransitionOptions{SkipValidation: true, Notes: "fulfilled from stock"})
}

func (s *Service) fulfill(ctx context.Context, order Order, lines []Line, actor Actor) error {
	items := make([]inventory.FulfillItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, inventory.FulfillItem{
			ProductID: line.ProductID,
			Name:      line.Name,
			Qty:       line.Qty,
			Unit:      line.Unit,
		})
	}
	return s.inventory.Fulfill(ctx, inventory.FulfillInput{
		CompanyID: order.CompanyID,
		Location:  inventory.DefaultLocation,
		RefType:   "ORDER",
		RefID:     orderRef(order.ID).String(),
		ActorID:   actor.UserID,
		Items:     items,
	})
}

// advanceStockCheck runs the automatic hops after site-manager approval:
// into CHECKING_STOCK, then to FULFILLED_INTERNAL or
// NEEDS_EXTERNAL_ORDER depending on availability.
func (s *Service) advanceStockCheck(ctx context.Context, orderID int64, lines []Line) (Order, error) {
	order, err := s.Transition(ctx, orderID, StatusCheckingStock, systemActor, TransitionOptions{SkipValidation: true})
	if err != nil {
		return Order{}, err
	}
	if len(lines) == 0 {
		return Order{}, ErrEmptyOrder
	}
	result, err := s.inventory.CheckAvailability(ctx, order.CompanyID, inventory.DefaultLocation, checkItems(lines))
	if err != nil {
		return Order{}, err
	}
	if result.Available {
		err := s.fulfill(ctx, order, lines, systemActor)
		switch {
		case errors.Is(err, inventory.ErrInsufficientStock):
			// Stock raced away between check and fulfillment.
			return s.Transition(ctx, orderID, StatusNeedsExternalOrder, systemActor, TransitionOptions{SkipValidation: true, Notes: err.Error()})
		case errors.Is(err, shared.ErrIdempotencyConflict):
			// An earlier attempt already deducted the stock but failed to
			// record the status; finish the transition.
		case err != nil:
			return Order{}, err
		}
		return s.Transition(ctx, orderID, StatusFulfilledInternal, systemActor, TransitionOptions{SkipValidation: true, Notes: "fulfilled from stock"})
	}
	notes := "insufficient stock"
	for _, item := range result.Items {
		if !item.Sufficient {
			notes = fmt.Sprintf("insufficient stock: %s (requested %g, available %g)", itemLabel(item), item.Requested, item.Available)
			break
		}
	}
	return s.Transition(ctx, orderID, StatusNeedsExternalOrder, systemActor, TransitionOptions{SkipValidation: true, Notes: notes})
}

// advancePastThreshold auto-approves the management gate when the order
// total exceeds no configured threshold.
func (s *Service) advancePastThreshold(ctx context.Context, orderID int64, order Order, lines []Line) (Order, error) {
	var orgUnit *int64
	if order.Destination.Kind == DestinationOrgUnit {
		id := order.Destination.ID
		orgUnit = &id
	}
	threshold, err := s.thresholds.CheckExceeded(ctx, order.CompanyID, orgUnit, OrderTotal(lines))
	if err != nil {
		return Order{}, err
	}
	if threshold == nil {
		return s.Transition(ctx, orderID, StatusApprovedManagement, systemActor, TransitionOptions{SkipValidation: true, Notes: "below approval threshold"})
	}
	updated, _, err := s.repo.GetOrder(ctx, orderID)
	return updated, err
}

// authorize applies company scoping and the permission gate.
func (s *Service) authorize(ctx context.Context, order Order, spec edge, actor Actor) error {
	scopeCompany := order.CompanyID
	if spec.SupplierSide {
		scopeCompany = order.SupplierID
	}
	if actor.CompanyID != 0 && actor.CompanyID != scopeCompany {
		return ErrForbidden
	}
	// The original submitter may always cancel their own order.
	if spec.Action == ActionCancel && actor.UserID == order.CreatedBy && actor.UserID != 0 {
		return nil
	}
	role, found, err := s.rbac.RoleInCompany(ctx, actor.UserID, scopeCompany)
	if err != nil {
		return err
	}
	if !found {
		return ErrForbidden
	}
	if !Allowed(Role(role), order.Status, spec.Action) {
		return ErrForbidden
	}
	return nil
}

func (s *Service) notifyTransition(ctx context.Context, order Order, from, to Status, action Action) {
	if s.events == nil {
		return
	}
	_ = s.events.HandleOrderTransitioned(ctx, TransitionedEvent{
		OrderID:    order.ID,
		Number:     order.Number,
		CompanyID:  order.CompanyID,
		FromStatus: from,
		ToStatus:   to,
		Action:     action,
	})
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "purchase_order", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func checkItems(lines []Line) []inventory.CheckItem {
	items := make([]inventory.CheckItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, inventory.CheckItem{ProductID: line.ProductID, Name: line.Name, Qty: line.Qty})
	}
	return items
}

func itemLabel(item inventory.CheckResultItem) string {
	if item.Name != "" {
		return item.Name
	}
	return fmt.Sprintf("product %d", item.ProductID)
}

func orderRef(orderID int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("ORDER:%d", orderID)))
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
