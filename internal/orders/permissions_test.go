package orders

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllowedRoleTable(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		from   Status
		action Action
		want   bool
	}{
		{"requester submits draft", RoleRequester, StatusDraft, ActionSubmit, true},
		{"site manager submits draft", RoleSiteManager, StatusDraft, ActionSubmit, true},
		{"warehouse cannot submit", RoleWarehouse, StatusDraft, ActionSubmit, false},
		{"site manager approves", RoleSiteManager, StatusPendingSiteManager, ActionApproveSiteManager, true},
		{"requester cannot approve for site manager", RoleRequester, StatusPendingSiteManager, ActionApproveSiteManager, false},
		{"management approves", RoleManagement, StatusPendingManagement, ActionApproveManagement, true},
		{"management rejects", RoleManagement, StatusPendingManagement, ActionRejectManagement, true},
		{"site manager cannot approve for management", RoleSiteManager, StatusPendingManagement, ActionApproveManagement, false},
		{"supplier accepts", RoleSupplier, StatusPendingSupplier, ActionAcceptSupplier, true},
		{"supplier rejects", RoleSupplier, StatusPendingSupplier, ActionRejectSupplier, true},
		{"management cannot act for supplier", RoleManagement, StatusPendingSupplier, ActionAcceptSupplier, false},
		{"supplier marks in transit", RoleSupplier, StatusAcceptedSupplier, ActionMarkInTransit, true},
		{"requester completes", RoleRequester, StatusDelivered, ActionComplete, true},
		{"requester cancels own stage", RoleRequester, StatusPendingManagement, ActionCancel, true},
		{"supplier cannot cancel buyer order", RoleSupplier, StatusPendingSupplier, ActionCancel, false},
		{"action not available in status", RoleSiteManager, StatusDraft, ActionApproveSiteManager, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Allowed(tc.role, tc.from, tc.action))
		})
	}
}

func TestAdminPassesEveryNonTerminalAction(t *testing.T) {
	for from, edges := range transitions {
		for _, spec := range edges {
			require.True(t, Allowed(RoleAdmin, from, spec.Action), "%s/%s", from, spec.Action)
		}
	}
	require.True(t, Allowed(RoleAdmin, StatusDraft, ActionCancel))
}

func TestNoRolePassesTerminalStatuses(t *testing.T) {
	roles := []Role{RoleAdmin, RoleRequester, RoleSiteManager, RoleManagement, RoleWarehouse, RoleSupplier, RoleSystem}
	terminal := []Status{StatusCompleted, StatusCancelled, StatusFulfilledInternal, StatusRejectedManagement, StatusRejectedSupplier}
	actions := []Action{ActionSubmit, ActionCancel, ActionComplete, ActionApproveManagement}
	for _, status := range terminal {
		for _, role := range roles {
			for _, action := range actions {
				require.False(t, Allowed(role, status, action), "%s/%s/%s", role, status, action)
			}
		}
	}
}

func TestSystemRoleLimitedToSystemEdges(t *testing.T) {
	require.True(t, Allowed(RoleSystem, StatusApprovedSiteManager, ActionCheckStock))
	require.True(t, Allowed(RoleSystem, StatusCheckingStock, ActionFulfillInternal))
	require.True(t, Allowed(RoleSystem, StatusCheckingStock, ActionRouteExternal))
	require.True(t, Allowed(RoleSystem, StatusPendingManagement, ActionApproveManagement))

	require.False(t, Allowed(RoleSystem, StatusDraft, ActionSubmit))
	require.False(t, Allowed(RoleSystem, StatusPendingSupplier, ActionAcceptSupplier))
	require.False(t, Allowed(RoleSystem, StatusDraft, ActionCancel))
}

func TestAllowedStatusesPerRole(t *testing.T) {
	got := AllowedStatuses(RoleManagement, StatusPendingManagement)
	require.ElementsMatch(t, []Status{StatusApprovedManagement, StatusRejectedManagement, StatusCancelled}, got)

	got = AllowedStatuses(RoleWarehouse, StatusPendingSupplier)
	require.Empty(t, got)

	got = AllowedStatuses(RoleSupplier, StatusPendingSupplier)
	require.ElementsMatch(t, []Status{StatusAcceptedSupplier, StatusRejectedSupplier}, got)
}
