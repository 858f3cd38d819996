package orders

// Allowed is the permission gate: a pure predicate over
// (role, current status, action). Administrators pass for every action in
// every non-terminal status. No side effects, so the full table is
// enumerable in tests.
func Allowed(role Role, from Status, action Action) bool {
	if from.IsTerminal() {
		return false
	}
	_, spec, ok := actionTarget(from, action)
	if !ok {
		return false
	}
	if role == RoleAdmin {
		return true
	}
	if role == RoleSystem {
		return spec.System
	}
	for _, allowed := range spec.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// AllowedStatuses returns the target statuses the role may move the order
// to from its current status.
func AllowedStatuses(role Role, from Status) []Status {
	var out []Status
	for _, to := range OutgoingStatuses(from) {
		spec, ok := edgeFor(from, to)
		if !ok {
			continue
		}
		if Allowed(role, from, spec.Action) {
			out = append(out, to)
		}
	}
	return out
}
