package inventory

import "context"

// LowStockEvent fires when a mutation leaves a record under its minimum.
type LowStockEvent struct {
	RecordID  int64
	CompanyID int64
	ProductID int64
	Name      string
	Location  string
	Qty       float64
	MinQty    float64
}

// IntegrationHandler receives ledger domain events.
type IntegrationHandler interface {
	HandleLowStock(ctx context.Context, evt LowStockEvent) error
}
