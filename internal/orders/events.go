package orders

import "context"

// TransitionedEvent is emitted after every committed transition.
type TransitionedEvent struct {
	OrderID    int64
	Number     string
	CompanyID  int64
	FromStatus Status
	ToStatus   Status
	Action     Action
}

// IntegrationHandler receives workflow events. Delivery is best-effort:
// the transition has already committed when the handler runs.
type IntegrationHandler interface {
	HandleOrderTransitioned(ctx context.Context, evt TransitionedEvent) error
}
