package orders

// edge declares one legal transition of the order state machine together
// with the action name and the roles the permission gate accepts for it.
type edge struct {
	Action Action
	Roles  []Role
	// SupplierSide edges authorize against the order's supplier company
	// instead of the buying company.
	SupplierSide bool
	// System edges are triggered by the engine itself, never by a client
	// request directly.
	System bool
}

// transitions is the full edge set. Anything absent here is an illegal
// transition regardless of the caller's role. Cancellation edges are not
// listed; they are derived from every non-terminal status.
var transitions = map[Status]map[Status]edge{
	StatusDraft: {
		StatusPendingSiteManager: {Action: ActionSubmit, Roles: []Role{RoleRequester, RoleSiteManager}},
	},
	StatusPendingSiteManager: {
		StatusApprovedSiteManager: {Action: ActionApproveSiteManager, Roles: []Role{RoleSiteManager}},
	},
	StatusApprovedSiteManager: {
		StatusCheckingStock: {Action: ActionCheckStock, Roles: []Role{RoleWarehouse}, System: true},
	},
	StatusCheckingStock: {
		StatusFulfilledInternal:  {Action: ActionFulfillInternal, System: true},
		StatusNeedsExternalOrder: {Action: ActionRouteExternal, System: true},
	},
	StatusNeedsExternalOrder: {
		StatusPendingManagement: {Action: ActionRequestManagement, Roles: []Role{RoleRequester, RoleSiteManager}},
	},
	StatusPendingManagement: {
		StatusApprovedManagement: {Action: ActionApproveManagement, Roles: []Role{RoleManagement}, System: true},
		StatusRejectedManagement: {Action: ActionRejectManagement, Roles: []Role{RoleManagement}},
	},
	StatusApprovedManagement: {
		StatusSubmittedToSupplier: {Action: ActionSubmitToSupplier, Roles: []Role{RoleRequester, RoleSiteManager}},
	},
	StatusSubmittedToSupplier: {
		StatusPendingSupplier: {Action: ActionAckSupplier, Roles: []Role{RoleSupplier}, SupplierSide: true},
	},
	StatusPendingSupplier: {
		StatusAcceptedSupplier: {Action: ActionAcceptSupplier, Roles: []Role{RoleSupplier}, SupplierSide: true},
		StatusRejectedSupplier: {Action: ActionRejectSupplier, Roles: []Role{RoleSupplier}, SupplierSide: true},
	},
	StatusAcceptedSupplier: {
		StatusInTransit: {Action: ActionMarkInTransit, Roles: []Role{RoleSupplier}, SupplierSide: true},
	},
	StatusInTransit: {
		StatusDelivered: {Action: ActionMarkDelivered, Roles: []Role{RoleSupplier}, SupplierSide: true},
	},
	StatusDelivered: {
		StatusCompleted: {Action: ActionComplete, Roles: []Role{RoleRequester, RoleSiteManager}},
	},
}

// cancelRoles maps each non-terminal status to the approver role that may
// cancel at that stage, alongside the creator and administrators.
var cancelRoles = map[Status][]Role{
	StatusDraft:               {RoleRequester},
	StatusPendingSiteManager:  {RoleRequester, RoleSiteManager},
	StatusApprovedSiteManager: {RoleRequester, RoleSiteManager},
	StatusCheckingStock:       {RoleRequester, RoleWarehouse},
	StatusNeedsExternalOrder:  {RoleRequester, RoleSiteManager},
	StatusPendingManagement:   {RoleRequester, RoleManagement},
	StatusApprovedManagement:  {RoleRequester, RoleManagement},
	StatusSubmittedToSupplier: {RoleRequester, RoleSiteManager},
	StatusPendingSupplier:     {RoleRequester, RoleSiteManager},
	StatusAcceptedSupplier:    {RoleRequester, RoleSiteManager},
	StatusInTransit:           {RoleRequester, RoleSiteManager},
	StatusDelivered:           {RoleRequester, RoleSiteManager},
}

// EdgeDeclared reports whether (from, to) is a legal transition.
func EdgeDeclared(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	_, ok := transitions[from][to]
	return ok
}

// edgeFor resolves the edge spec for a pair of statuses.
func edgeFor(from, to Status) (edge, bool) {
	if from.IsTerminal() {
		return edge{}, false
	}
	if to == StatusCancelled {
		return edge{Action: ActionCancel, Roles: cancelRoles[from]}, true
	}
	spec, ok := transitions[from][to]
	return spec, ok
}

// actionTarget finds the target status an action leads to out of from.
func actionTarget(from Status, action Action) (Status, edge, bool) {
	if action == ActionCancel {
		if from.IsTerminal() {
			return "", edge{}, false
		}
		return StatusCancelled, edge{Action: ActionCancel, Roles: cancelRoles[from]}, true
	}
	for to, spec := range transitions[from] {
		if spec.Action == action {
			return to, spec, true
		}
	}
	return "", edge{}, false
}

// OutgoingStatuses lists the declared targets out of from, cancellation
// included for non-terminal statuses.
func OutgoingStatuses(from Status) []Status {
	if from.IsTerminal() {
		return nil
	}
	out := make([]Status, 0, len(transitions[from])+1)
	for to := range transitions[from] {
		out = append(out, to)
	}
	out = append(out, StatusCancelled)
	return out
}
