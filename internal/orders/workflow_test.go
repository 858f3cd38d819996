package orders

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var allStatuses = []Status{
	StatusDraft, StatusPendingSiteManager, StatusApprovedSiteManager,
	StatusCheckingStock, StatusFulfilledInternal, StatusNeedsExternalOrder,
	StatusPendingManagement, StatusApprovedManagement, StatusRejectedManagement,
	StatusSubmittedToSupplier, StatusPendingSupplier, StatusAcceptedSupplier,
	StatusRejectedSupplier, StatusInTransit, StatusDelivered,
	StatusCompleted, StatusCancelled,
}

func TestTerminalStatusesHaveNoOutgoingEdges(t *testing.T) {
	for _, status := range allStatuses {
		if !status.IsTerminal() {
			continue
		}
		require.Empty(t, OutgoingStatuses(status), "status %s", status)
		for _, to := range allStatuses {
			require.False(t, EdgeDeclared(status, to), "%s -> %s", status, to)
		}
	}
}

func TestEveryNonTerminalStatusCanCancel(t *testing.T) {
	for _, status := range allStatuses {
		if status.IsTerminal() {
			continue
		}
		require.True(t, EdgeDeclared(status, StatusCancelled), "status %s", status)
		spec, ok := edgeFor(status, StatusCancelled)
		require.True(t, ok)
		require.Equal(t, ActionCancel, spec.Action)
	}
}

func TestUndeclaredEdgesAreRejected(t *testing.T) {
	cases := []struct {
		from, to Status
	}{
		{StatusDraft, StatusApprovedSiteManager},
		{StatusDraft, StatusCompleted},
		{StatusPendingSiteManager, StatusCheckingStock},
		{StatusApprovedManagement, StatusPendingSupplier},
		{StatusDelivered, StatusInTransit},
		{StatusCompleted, StatusDraft},
		{StatusCancelled, StatusDraft},
	}
	for _, tc := range cases {
		require.False(t, EdgeDeclared(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestHappyPathEdgesDeclared(t *testing.T) {
	path := []Status{
		StatusDraft, StatusPendingSiteManager, StatusApprovedSiteManager,
		StatusCheckingStock, StatusNeedsExternalOrder, StatusPendingManagement,
		StatusApprovedManagement, StatusSubmittedToSupplier, StatusPendingSupplier,
		StatusAcceptedSupplier, StatusInTransit, StatusDelivered, StatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		require.True(t, EdgeDeclared(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
}

func TestActionTargetRoundTrips(t *testing.T) {
	for from, edges := range transitions {
		for to, spec := range edges {
			target, resolved, ok := actionTarget(from, spec.Action)
			require.True(t, ok, "%s/%s", from, spec.Action)
			require.Equal(t, to, target)
			require.Equal(t, spec.Action, resolved.Action)
		}
	}
}

func TestStockRoutingEdgesAreSystemOnly(t *testing.T) {
	spec, ok := edgeFor(StatusCheckingStock, StatusFulfilledInternal)
	require.True(t, ok)
	require.True(t, spec.System)
	spec, ok = edgeFor(StatusCheckingStock, StatusNeedsExternalOrder)
	require.True(t, ok)
	require.True(t, spec.System)
}

func TestSupplierEdgesScopedToSupplierCompany(t *testing.T) {
	supplierEdges := []struct {
		from, to Status
	}{
		{StatusSubmittedToSupplier, StatusPendingSupplier},
		{StatusPendingSupplier, StatusAcceptedSupplier},
		{StatusPendingSupplier, StatusRejectedSupplier},
		{StatusAcceptedSupplier, StatusInTransit},
		{StatusInTransit, StatusDelivered},
	}
	for _, tc := range supplierEdges {
		spec, ok := edgeFor(tc.from, tc.to)
		require.True(t, ok, "%s -> %s", tc.from, tc.to)
		require.True(t, spec.SupplierSide, "%s -> %s", tc.from, tc.to)
		require.Contains(t, spec.Roles, RoleSupplier)
	}
}
