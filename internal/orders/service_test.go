package orders

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/buildflow-erp/buildflow-erp/internal/inventory"
	"github.com/buildflow-erp/buildflow-erp/internal/shared"
	"github.com/buildflow-erp/buildflow-erp/internal/thresholds"
)

type memoryRepo struct {
	orders  map[int64]Order
	lines   map[int64][]Line
	history []HistoryEntry
	nextID  int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: make(map[int64]Order), lines: make(map[int64][]Line)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetOrder(ctx context.Context, id int64) (Order, []Line, error) {
	order, ok := r.orders[id]
	if !ok {
		return Order{}, nil, ErrNotFound
	}
	lines := make([]Line, len(r.lines[id]))
	copy(lines, r.lines[id])
	return order, lines, nil
}

func (r *memoryRepo) ListOrders(ctx context.Context, limit, offset int, filters ListFilters) ([]Order, int, error) {
	out := []Order{}
	for _, order := range r.orders {
		if filters.CompanyID != 0 && order.CompanyID != filters.CompanyID {
			continue
		}
		if filters.Status != "" && string(order.Status) != filters.Status {
			continue
		}
		out = append(out, order)
	}
	return out, len(out), nil
}

func (r *memoryRepo) ListHistory(ctx context.Context, orderID int64) ([]HistoryEntry, error) {
	out := []HistoryEntry{}
	for _, entry := range r.history {
		if entry.OrderID == orderID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (tx *memoryTx) CreateOrder(ctx context.Context, order Order) (int64, error) {
	tx.repo.nextID++
	order.ID = tx.repo.nextID
	tx.repo.orders[order.ID] = order
	return order.ID, nil
}

func (tx *memoryTx) InsertLine(ctx context.Context, line Line) error {
	tx.repo.nextID++
	line.ID = tx.repo.nextID
	tx.repo.lines[line.OrderID] = append(tx.repo.lines[line.OrderID], line)
	return nil
}

func (tx *memoryTx) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	order, ok := tx.repo.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return order, nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, id int64, status Status, reason string) error {
	order, ok := tx.repo.orders[id]
	if !ok {
		return ErrNotFound
	}
	order.Status = status
	order.Reason = reason
	tx.repo.orders[id] = order
	return nil
}

func (tx *memoryTx) SetSiteManager(ctx context.Context, id, userID int64) error {
	order := tx.repo.orders[id]
	order.SiteManagerID = userID
	tx.repo.orders[id] = order
	return nil
}

func (tx *memoryTx) SetManagementApprover(ctx context.Context, id, userID int64) error {
	order := tx.repo.orders[id]
	order.ManagementApproverID = userID
	tx.repo.orders[id] = order
	return nil
}

func (tx *memoryTx) InsertHistory(ctx context.Context, entry HistoryEntry) error {
	tx.repo.history = append(tx.repo.history, entry)
	return nil
}

type fakeInventory struct {
	stock        map[int64]float64
	fulfillCalls []inventory.FulfillInput
	fulfillErr   error
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{stock: make(map[int64]float64)}
}

func (f *fakeInventory) CheckAvailability(ctx context.Context, companyID int64, location string, items []inventory.CheckItem) (inventory.CheckResult, error) {
	result := inventory.CheckResult{Available: true}
	for _, item := range items {
		available := f.stock[item.ProductID]
		entry := inventory.CheckResultItem{
			ProductID:  item.ProductID,
			Name:       item.Name,
			Requested:  item.Qty,
			Available:  available,
			Sufficient: available >= item.Qty,
		}
		if !entry.Sufficient {
			result.Available = false
		}
		result.Items = append(result.Items, entry)
	}
	return result, nil
}

func (f *fakeInventory) Fulfill(ctx context.Context, input inventory.FulfillInput) error {
	if f.fulfillErr != nil {
		return f.fulfillErr
	}
	for _, item := range input.Items {
		if f.stock[item.ProductID] < item.Qty {
			return &inventory.InsufficientStockError{Item: item.Name, Requested: item.Qty, Available: f.stock[item.ProductID]}
		}
	}
	for _, item := range input.Items {
		f.stock[item.ProductID] -= item.Qty
	}
	f.fulfillCalls = append(f.fulfillCalls, input)
	return nil
}

type fakeThresholds struct {
	exceeded *thresholds.Threshold
}

func (f *fakeThresholds) CheckExceeded(ctx context.Context, companyID int64, orgUnitID *int64, total decimal.Decimal) (*thresholds.Threshold, error) {
	return f.exceeded, nil
}

type fakeRBAC struct {
	roles map[string]string
}

func newFakeRBAC() *fakeRBAC {
	return &fakeRBAC{roles: make(map[string]string)}
}

func (f *fakeRBAC) grant(userID, companyID int64, role Role) {
	f.roles[fmt.Sprintf("%d:%d", userID, companyID)] = string(role)
}

func (f *fakeRBAC) RoleInCompany(ctx context.Context, userID, companyID int64) (string, bool, error) {
	role, ok := f.roles[fmt.Sprintf("%d:%d", userID, companyID)]
	return role, ok, nil
}

type fixture struct {
	repo       *memoryRepo
	inventory  *fakeInventory
	thresholds *fakeThresholds
	rbac       *fakeRBAC
	svc        *Service
}

const (
	buyerCompany    = int64(1)
	supplierCompany = int64(2)
	requesterID     = int64(10)
	siteManagerID   = int64(11)
	managerID       = int64(12)
	supplierUserID  = int64(20)
	outsiderID      = int64(99)
)

func newFixture() *fixture {
	repo := newMemoryRepo()
	inv := newFakeInventory()
	th := &fakeThresholds{}
	rbac := newFakeRBAC()
	rbac.grant(requesterID, buyerCompany, RoleRequester)
	rbac.grant(siteManagerID, buyerCompany, RoleSiteManager)
	rbac.grant(managerID, buyerCompany, RoleManagement)
	rbac.grant(supplierUserID, supplierCompany, RoleSupplier)
	return &fixture{
		repo:       repo,
		inventory:  inv,
		thresholds: th,
		rbac:       rbac,
		svc:        NewService(repo, inv, th, rbac, nil, nil),
	}
}

func requester() Actor   { return Actor{UserID: requesterID, CompanyID: buyerCompany} }
func siteManager() Actor { return Actor{UserID: siteManagerID, CompanyID: buyerCompany} }
func manager() Actor     { return Actor{UserID: managerID, CompanyID: buyerCompany} }
func supplier() Actor    { return Actor{UserID: supplierUserID, CompanyID: supplierCompany} }

func createOrder(t *testing.T, f *fixture, lines ...LineInput) Order {
	t.Helper()
	if len(lines) == 0 {
		lines = []LineInput{{ProductID: 1, Qty: 5, Unit: "kg", UnitPrice: decimal.NewFromInt(100)}}
	}
	unit := int64(3)
	order, err := f.svc.CreateOrder(context.Background(), CreateInput{
		CompanyID:  buyerCompany,
		SupplierID: supplierCompany,
		OrgUnitID:  &unit,
		Lines:      lines,
	}, requester())
	require.NoError(t, err)
	return order
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	unit := int64(3)
	project := int64(4)

	_, err := f.svc.CreateOrder(ctx, CreateInput{CompanyID: buyerCompany, OrgUnitID: &unit}, requester())
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreateOrder(ctx, CreateInput{
		CompanyID: buyerCompany,
		Lines:     []LineInput{{ProductID: 1, Qty: 1, UnitPrice: decimal.NewFromInt(1)}},
	}, requester())
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreateOrder(ctx, CreateInput{
		CompanyID: buyerCompany,
		OrgUnitID: &unit,
		ProjectID: &project,
		Lines:     []LineInput{{ProductID: 1, Qty: 1, UnitPrice: decimal.NewFromInt(1)}},
	}, requester())
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreateOrder(ctx, CreateInput{
		CompanyID: buyerCompany,
		OrgUnitID: &unit,
		Lines:     []LineInput{{ProductID: 1, Qty: -1, UnitPrice: decimal.NewFromInt(1)}},
	}, requester())
	require.ErrorIs(t, err, ErrValidation)

	order := createOrder(t, f)
	require.Equal(t, StatusDraft, order.Status)
	require.Equal(t, requesterID, order.CreatedBy)
	require.NotEmpty(t, order.Number)

	detail, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, detail.Lines, 1)
	require.True(t, detail.Total.Equal(decimal.NewFromInt(500)))
}

func TestSiteManagerApprovalFulfillsFromStock(t *testing.T) {
	f := newFixture()
	f.inventory.stock[1] = 20
	ctx := context.Background()
	order := createOrder(t, f)

	_, err := f.svc.Transition(ctx, order.ID, StatusPendingSiteManager, requester(), TransitionOptions{})
	require.NoError(t, err)

	updated, err := f.svc.Transition(ctx, order.ID, StatusApprovedSiteManager, siteManager(), TransitionOptions{})
	require.NoError(t, err)
	require.Equal(t, StatusFulfilledInternal, updated.Status)
	require.Equal(t, siteManagerID, updated.SiteManagerID)
	require.InDelta(t, 15, f.inventory.stock[1], 0.0001)
	require.Len(t, f.inventory.fulfillCalls, 1)
	require.Equal(t, "ORDER", f.inventory.fulfillCalls[0].RefType)

	history, err := f.svc.History(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	require.Equal(t, ActionSubmit, history[0].Action)
	require.Equal(t, ActionApproveSiteManager, history[1].Action)
	require.Equal(t, ActionCheckStock, history[2].Action)
	require.Equal(t, ActionFulfillInternal, history[3].Action)
	require.Zero(t, history[2].ActorID)
	require.Zero(t, history[3].ActorID)
}

func TestInsufficientStockRoutesExternal(t *testing.T) {
	f := newFixture()
	f.inventory.stock[1] = 2
	ctx := context.Background()
	order := createOrder(t, f)

	_, err := f.svc.Transition(ctx, order.ID, StatusPendingSiteManager, requester(), TransitionOptions{})
	require.NoError(t, err)
	updated, err := f.svc.Transition(ctx, order.ID, StatusApprovedSiteManager, siteManager(), TransitionOptions{})
	require.NoError(t, err)
	require.Equal(t, StatusNeedsExternalOrder, updated.Status)
	// Nothing was deducted.
	require.InDelta(t, 2, f.inventory.stock[1], 0.0001)
	require.Empty(t, f.inventory.fulfillCalls)

	history, err := f.svc.History(ctx, order.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	require.Equal(t, ActionRouteExternal, last.Action)
	require.Contains(t, last.Notes, "insufficient stock")
}

func TestManagementGateHeldWhenThresholdExceeded(t *testing.T) {
	f := newFixture()
	f.thresholds.exceeded = &thresholds.Threshold{ID: 1, CompanyID: buyerCompany, Level: thresholds.LevelManagement}
	ctx := context.Background()
	order := toExternalRouting(t, f)

	updated, err := f.svc.Transition(ctx, order.ID, StatusPendingManagement, requester(), TransitionOptions{})
	require.NoError(t, err)
	require.Equal(t, StatusPendingManagement, updated.Status)

	updated, err = f.svc.Transition(ctx, order.ID, StatusApprovedManagement, manager(), TransitionOptions{})
	require.NoError(t, err)
	require.Equal(t, StatusApprovedManagement, updated.Status)
	require.Equal(t, managerID, updated.ManagementApproverID)
}

func TestManagementGateAutoApprovedBelowThreshold(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order := toExternalRouting(t, f)

	updated, err := f.svc.Transition(ctx, order.ID, StatusPendingManagement, requester(), TransitionOptions{})
	require.NoError(t, err)
	require.Equal(t, StatusApprovedManagement, updated.Status)
	require.Zero(t, updated.ManagementApproverID)

	history, err := f.svc.History(ctx, order.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	require.Equal(t, ActionApproveManagement, last.Action)
	require.Zero(t, last.ActorID)
	require.Equal(t, "below approval threshold", last.Notes)
}

func TestManagementRejectRecordsReason(t *testing.T) {
	f := newFixture()
	f.thresholds.exceeded = &thresholds.Threshold{ID: 1, Level: thresholds.LevelManagement}
	ctx := context.Background()
	order := toExternalRouting(t, f)

	_, err := f.svc.Transition(ctx, order.ID, StatusPendingManagement, requester(), TransitionOptions{})
	require.NoError(t, err)
	updated, err := f.svc.Transition(ctx, order.ID, StatusRejectedManagement, manager(), TransitionOptions{Notes: "budget frozen"})
	require.NoError(t, err)
	require.Equal(t, StatusRejectedManagement, updated.Status)
	require.Equal(t, "budget frozen", updated.Reason)
	require.True(t, updated.Status.IsTerminal())
}

func TestSupplierFlowScopedToSupplierCompany(t *testing.T) {
	f := newFixture()
	f.thresholds.exceeded = nil
	ctx := context.Background()
	order := toExternalRouting(t, f)

	_, err := f.svc.Transition(ctx, order.ID, StatusPendingManagement, requester(), TransitionOptions{})
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, order.ID, StatusSubmittedToSupplier, requester(), TransitionOptions{})
	require.NoError(t, err)

	// A buyer-side user cannot act on supplier edges.
	_, err = f.svc.Transition(ctx, order.ID, StatusPendingSupplier, requester(), TransitionOptions{})
	require.ErrorIs(t, err, ErrForbidden)

	for _, target := range []Status{StatusPendingSupplier, StatusAcceptedSupplier, StatusInTransit, StatusDelivered} {
		_, err = f.svc.Transition(ctx, order.ID, target, supplier(), TransitionOptions{})
		require.NoError(t, err, "target %s", target)
	}

	updated, err := f.svc.Transition(ctx, order.ID, StatusCompleted, requester(), TransitionOptions{})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, updated.Status)
}

func TestUndeclaredTransitionRejected(t *testing.T) {
	f := newFixture()
	order := createOrder(t, f)

	_, err := f.svc.Transition(context.Background(), order.ID, StatusCompleted, requester(), TransitionOptions{})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTerminalOrdersAreFrozen(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order := createOrder(t, f)
	_, err := f.svc.Transition(ctx, order.ID, StatusCancelled, requester(), TransitionOptions{Notes: "duplicate"})
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, order.ID, StatusPendingSiteManager, requester(), TransitionOptions{})
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.Transition(ctx, order.ID, StatusCancelled, requester(), TransitionOptions{})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPermissionGateBlocksUnknownAndWrongRoles(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order := createOrder(t, f)

	// No membership in the buying company. The denied attempt leaves no
	// history behind.
	_, err := f.svc.Transition(ctx, order.ID, StatusPendingSiteManager, Actor{UserID: outsiderID, CompanyID: buyerCompany}, TransitionOptions{})
	require.ErrorIs(t, err, ErrForbidden)
	history, err := f.svc.History(ctx, order.ID)
	require.NoError(t, err)
	require.Empty(t, history)

	// Actor claims a different company than the order's scope.
	_, err = f.svc.Transition(ctx, order.ID, StatusPendingSiteManager, Actor{UserID: requesterID, CompanyID: supplierCompany}, TransitionOptions{})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Transition(ctx, order.ID, StatusPendingSiteManager, requester(), TransitionOptions{})
	require.NoError(t, err)

	// Requester holds no approval role.
	_, err = f.svc.Transition(ctx, order.ID, StatusApprovedSiteManager, requester(), TransitionOptions{})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestCreatorMayAlwaysCancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order := createOrder(t, f)
	_, err := f.svc.Transition(ctx, order.ID, StatusPendingSiteManager, requester(), TransitionOptions{})
	require.NoError(t, err)

	updated, err := f.svc.Transition(ctx, order.ID, StatusCancelled, requester(), TransitionOptions{Notes: "no longer needed"})
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, updated.Status)
	require.Equal(t, "no longer needed", updated.Reason)
}

func TestCanPerformAndAvailableActions(t *testing.T) {
	f := newFixture()
	f.thresholds.exceeded = &thresholds.Threshold{ID: 1, Level: thresholds.LevelManagement}
	ctx := context.Background()
	order := toExternalRouting(t, f)
	_, err := f.svc.Transition(ctx, order.ID, StatusPendingManagement, requester(), TransitionOptions{})
	require.NoError(t, err)

	ok, err := f.svc.CanPerform(ctx, manager(), order.ID, ActionApproveManagement)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = f.svc.CanPerform(ctx, requester(), order.ID, ActionApproveManagement)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = f.svc.CanPerform(ctx, manager(), order.ID, ActionSubmit)
	require.NoError(t, err)
	require.False(t, ok)

	// The listing answers from the same gate as CanPerform, so the
	// manual management approval shows up for the management role.
	actions, err := f.svc.AvailableActions(ctx, order.ID, manager())
	require.NoError(t, err)
	require.ElementsMatch(t, []Action{ActionApproveManagement, ActionRejectManagement, ActionCancel}, actions)
}

func TestAvailableActionsAgreesWithCanPerform(t *testing.T) {
	f := newFixture()
	f.rbac.grant(42, buyerCompany, RoleWarehouse)
	warehouse := Actor{UserID: 42, CompanyID: buyerCompany}
	ctx := context.Background()
	order := createOrder(t, f)

	// Park the order before the stock routing ran, as if the cascade
	// stalled, so the manual stock check is the pending step.
	stored := f.repo.orders[order.ID]
	stored.Status = StatusApprovedSiteManager
	f.repo.orders[order.ID] = stored

	ok, err := f.svc.CanPerform(ctx, warehouse, order.ID, ActionCheckStock)
	require.NoError(t, err)
	require.True(t, ok)

	actions, err := f.svc.AvailableActions(ctx, order.ID, warehouse)
	require.NoError(t, err)
	require.ElementsMatch(t, []Action{ActionCheckStock}, actions)

	for _, action := range actions {
		ok, err := f.svc.CanPerform(ctx, warehouse, order.ID, action)
		require.NoError(t, err)
		require.True(t, ok, action)
	}
}

func TestCheckStockReadsWithoutMutating(t *testing.T) {
	f := newFixture()
	f.inventory.stock[1] = 3
	order := createOrder(t, f)

	result, err := f.svc.CheckStock(context.Background(), order.ID)
	require.NoError(t, err)
	require.False(t, result.Available)
	require.InDelta(t, 3, f.inventory.stock[1], 0.0001)
}

func TestFulfillFromStockRequiresCheckingStock(t *testing.T) {
	f := newFixture()
	f.inventory.stock[1] = 20
	ctx := context.Background()
	order := createOrder(t, f)

	_, err := f.svc.FulfillFromStock(ctx, order.ID, siteManager())
	require.ErrorIs(t, err, ErrInvalidTransition)

	// Park the order in CHECKING_STOCK as if a previous routing attempt
	// stalled, then retry fulfillment manually.
	stored := f.repo.orders[order.ID]
	stored.Status = StatusCheckingStock
	f.repo.orders[order.ID] = stored

	updated, err := f.svc.FulfillFromStock(ctx, order.ID, siteManager())
	require.NoError(t, err)
	require.Equal(t, StatusFulfilledInternal, updated.Status)
	require.InDelta(t, 15, f.inventory.stock[1], 0.0001)
}

func TestFulfillFromStockRetriesAfterDeductedButUnrecorded(t *testing.T) {
	f := newFixture()
	f.inventory.stock[1] = 20
	ctx := context.Background()
	order := createOrder(t, f)

	// A previous attempt deducted the stock but lost the status race, so
	// the order sits in CHECKING_STOCK and the ledger reports the
	// fulfillment as already processed.
	stored := f.repo.orders[order.ID]
	stored.Status = StatusCheckingStock
	f.repo.orders[order.ID] = stored
	f.inventory.fulfillErr = shared.ErrIdempotencyConflict

	updated, err := f.svc.FulfillFromStock(ctx, order.ID, siteManager())
	require.NoError(t, err)
	require.Equal(t, StatusFulfilledInternal, updated.Status)

	// No second deduction happened.
	require.Empty(t, f.inventory.fulfillCalls)
	require.InDelta(t, 20, f.inventory.stock[1], 0.0001)
}

// toExternalRouting drives a fresh order to NEEDS_EXTERNAL_ORDER.
func toExternalRouting(t *testing.T, f *fixture) Order {
	t.Helper()
	ctx := context.Background()
	order := createOrder(t, f)
	_, err := f.svc.Transition(ctx, order.ID, StatusPendingSiteManager, requester(), TransitionOptions{})
	require.NoError(t, err)
	updated, err := f.svc.Transition(ctx, order.ID, StatusApprovedSiteManager, siteManager(), TransitionOptions{})
	require.NoError(t, err)
	require.Equal(t, StatusNeedsExternalOrder, updated.Status)
	return updated
}
