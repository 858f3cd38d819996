package inventory

import (
	"errors"
	"fmt"
	"time"
)

// TransactionType enumerates supported ledger movements.
type TransactionType string

const (
	// TransactionTypeEntry represents stock added to a record.
	TransactionTypeEntry TransactionType = "ENTRY"
	// TransactionTypeExit represents stock removed from a record.
	TransactionTypeExit TransactionType = "EXIT"
	// TransactionTypeAdjustment indicates a manual count correction.
	TransactionTypeAdjustment TransactionType = "ADJUSTMENT"
	// TransactionTypeTransfer moves stock between locations.
	TransactionTypeTransfer TransactionType = "TRANSFER"
)

// DefaultLocation is used when callers do not name a stock location.
const DefaultLocation = "MAIN"

// Record is a quantity-on-hand row. At most one record exists per
// (company, product, location); free-text items use Name with ProductID 0.
// Qty never goes negative.
type Record struct {
	ID          int64
	CompanyID   int64
	ProductID   int64
	Name        string
	Unit        string
	Location    string
	Qty         float64
	MinQty      float64
	LastCountAt time.Time
	UpdatedAt   time.Time
}

// DisplayName returns the free-text name or a product reference.
func (r Record) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("product %d", r.ProductID)
}

// BelowMinimum reports whether the record dropped under its configured
// minimum. A zero MinQty means no threshold is set.
func (r Record) BelowMinimum() bool {
	return r.MinQty > 0 && r.Qty < r.MinQty
}

// StockTransaction is the append-only ledger log. One row per mutation,
// written in the same transaction as the quantity change it describes.
type StockTransaction struct {
	ID           int64
	RecordID     int64
	Type         TransactionType
	Qty          float64
	RefType      string
	RefID        string
	FromLocation string
	ToLocation   string
	ActorID      int64
	At           time.Time
}

var (
	// ErrRecordNotFound indicates a missing inventory record.
	ErrRecordNotFound = errors.New("inventory: record not found")
	// ErrInsufficientStock occurs when a deduction would go negative.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("inventory: invalid quantity")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("inventory: invalid input")
	// ErrEmptyFulfillment occurs when fulfillment is requested with no items.
	ErrEmptyFulfillment = errors.New("inventory: nothing to fulfill")
)

// InsufficientStockError names the first deficient item of a failed
// deduction. It unwraps to ErrInsufficientStock.
type InsufficientStockError struct {
	Item      string
	Requested float64
	Available float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for %s: requested %g, available %g", e.Item, e.Requested, e.Available)
}

// Unwrap keeps errors.Is(err, ErrInsufficientStock) working.
func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// CheckItem is one requested quantity in an availability check.
type CheckItem struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Qty       float64 `json:"qty"`
}

// CheckResultItem reports availability for a single item. The struct
// doubles as the API response shape.
type CheckResultItem struct {
	ProductID  int64   `json:"product_id,omitempty"`
	Name       string  `json:"name,omitempty"`
	Requested  float64 `json:"requested"`
	Available  float64 `json:"available"`
	Sufficient bool    `json:"sufficient"`
}

// CheckResult aggregates a multi-item availability check.
type CheckResult struct {
	Available bool              `json:"available"`
	Items     []CheckResultItem `json:"items"`
}

// ListFilter narrows record listings.
type ListFilter struct {
	CompanyID int64
	Location  string
	Search    string
	Limit     int
	Offset    int
}
