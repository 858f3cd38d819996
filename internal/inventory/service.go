package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bsm/redislock"

	"github.com/buildflow-erp/buildflow-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRecord(ctx context.Context, id int64) (Record, error)
	FindRecord(ctx context.Context, companyID, productID int64, name, location string) (Record, error)
	ListRecords(ctx context.Context, filter ListFilter) ([]Record, int, error)
	ListTransactions(ctx context.Context, recordID int64, limit int) ([]StockTransaction, error)
	ListBelowMinimum(ctx context.Context, companyID int64) ([]Record, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Locker serializes fulfillment per order on top of row locks, so two
// workers fulfilling the same order contend on one key instead of on
// interleaved row locks.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// Service coordinates ledger operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	locker      Locker
	integration IntegrationHandler
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, locker Locker, integration IntegrationHandler) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, locker: locker, integration: integration}
}

// AddInput describes an inbound stock entry.
type AddInput struct {
	CompanyID int64
	ProductID int64
	Name      string
	Qty       float64
	Unit      string
	Location  string
	MinQty    float64
	RefType   string
	RefID     string
	ActorID   int64
}

// RemoveInput describes an outbound deduction.
type RemoveInput struct {
	CompanyID int64
	RecordID  int64
	Qty       float64
	RefType   string
	RefID     string
	ActorID   int64
}

// AdjustInput sets a record quantity directly.
type AdjustInput struct {
	CompanyID int64
	RecordID  int64
	NewQty    float64
	Reason    string
	ActorID   int64
}

// TransferInput moves stock from a record to another location.
type TransferInput struct {
	CompanyID  int64
	RecordID   int64
	Qty        float64
	ToLocation string
	Notes      string
	ActorID    int64
}

// FulfillItem is one line of a multi-item fulfillment.
type FulfillItem struct {
	ProductID int64
	Name      string
	Qty       float64
	Unit      string
}

// FulfillInput describes an all-or-nothing multi-item deduction.
type FulfillInput struct {
	CompanyID int64
	Location  string
	RefType   string
	RefID     string
	ActorID   int64
	Items     []FulfillItem
}

// AddStock creates the record if absent, else increments it, and appends
// an ENTRY transaction in the same database transaction.
func (s *Service) AddStock(ctx context.Context, input AddInput) (Record, error) {
	if input.CompanyID == 0 {
		return Record{}, fmt.Errorf("%w: company required", ErrValidation)
	}
	if input.ProductID == 0 && input.Name == "" {
		return Record{}, fmt.Errorf("%w: product or item name required", ErrValidation)
	}
	if input.Qty <= 0 {
		return Record{}, ErrInvalidQuantity
	}
	if input.Location == "" {
		input.Location = DefaultLocation
	}
	var updated Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.FindRecordForUpdate(ctx, input.CompanyID, input.ProductID, input.Name, input.Location)
		switch {
		case errors.Is(err, ErrRecordNotFound):
			rec = Record{
				CompanyID: input.CompanyID,
				ProductID: input.ProductID,
				Name:      input.Name,
				Unit:      input.Unit,
				Location:  input.Location,
				Qty:       input.Qty,
				MinQty:    input.MinQty,
			}
			rec.ID, err = tx.InsertRecord(ctx, rec)
			if err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			rec.Qty += input.Qty
			if err := tx.UpdateRecordQty(ctx, rec.ID, rec.Qty); err != nil {
				return err
			}
		}
		updated = rec
		_, err = tx.InsertTransaction(ctx, StockTransaction{
			RecordID: rec.ID,
			Type:     TransactionTypeEntry,
			Qty:      input.Qty,
			RefType:  input.RefType,
			RefID:    input.RefID,
			ActorID:  input.ActorID,
			At:       time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return Record{}, err
	}
	s.recordAudit(ctx, input.ActorID, "stock:entry", updated.ID, map[string]any{"qty": input.Qty, "location": updated.Location})
	return updated, nil
}

// RemoveStock decrements a record and appends an EXIT transaction. The
// quantity never goes negative; a short deduction fails cleanly.
func (s *Service) RemoveStock(ctx context.Context, input RemoveInput) (Record, error) {
	if input.Qty <= 0 {
		return Record{}, ErrInvalidQuantity
	}
	var updated Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetRecordForUpdate(ctx, input.RecordID)
		if err != nil {
			return err
		}
		if rec.CompanyID != input.CompanyID {
			return ErrRecordNotFound
		}
		if input.Qty > rec.Qty {
			return &InsufficientStockError{Item: rec.DisplayName(), Requested: input.Qty, Available: rec.Qty}
		}
		rec.Qty -= input.Qty
		if err := tx.UpdateRecordQty(ctx, rec.ID, rec.Qty); err != nil {
			return err
		}
		updated = rec
		_, err = tx.InsertTransaction(ctx, StockTransaction{
			RecordID: rec.ID,
			Type:     TransactionTypeExit,
			Qty:      input.Qty,
			RefType:  input.RefType,
			RefID:    input.RefID,
			ActorID:  input.ActorID,
			At:       time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return Record{}, err
	}
	s.recordAudit(ctx, input.ActorID, "stock:exit", updated.ID, map[string]any{"qty": input.Qty})
	s.notifyLowStock(ctx, updated)
	return updated, nil
}

// AdjustStock sets the quantity directly and logs the signed delta as an
// ADJUSTMENT transaction.
func (s *Service) AdjustStock(ctx context.Context, input AdjustInput) (Record, error) {
	if input.NewQty < 0 {
		return Record{}, ErrInvalidQuantity
	}
	var updated Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetRecordForUpdate(ctx, input.RecordID)
		if err != nil {
			return err
		}
		if rec.CompanyID != input.CompanyID {
			return ErrRecordNotFound
		}
		delta := input.NewQty - rec.Qty
		rec.Qty = input.NewQty
		rec.LastCountAt = time.Now().UTC()
		if err := tx.UpdateRecordQty(ctx, rec.ID, rec.Qty); err != nil {
			return err
		}
		if err := tx.SetLastCount(ctx, rec.ID, rec.LastCountAt); err != nil {
			return err
		}
		updated = rec
		_, err = tx.InsertTransaction(ctx, StockTransaction{
			RecordID: rec.ID,
			Type:     TransactionTypeAdjustment,
			Qty:      delta,
			RefType:  "ADJUSTMENT",
			RefID:    input.Reason,
			ActorID:  input.ActorID,
			At:       time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return Record{}, err
	}
	s.recordAudit(ctx, input.ActorID, "stock:adjustment", updated.ID, map[string]any{"new_qty": input.NewQty, "reason": input.Reason})
	s.notifyLowStock(ctx, updated)
	return updated, nil
}

// TransferStock composes a removal at the source with an add-or-merge at
// the destination location inside one transaction. A short source fails
// the whole transfer; total quantity across both records is conserved.
func (s *Service) TransferStock(ctx context.Context, input TransferInput) (Record, Record, error) {
	if input.Qty <= 0 {
		return Record{}, Record{}, ErrInvalidQuantity
	}
	if input.ToLocation == "" {
		return Record{}, Record{}, fmt.Errorf("%w: destination location required", ErrValidation)
	}
	var src, dst Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetRecordForUpdate(ctx, input.RecordID)
		if err != nil {
			return err
		}
		if rec.CompanyID != input.CompanyID {
			return ErrRecordNotFound
		}
		if rec.Location == input.ToLocation {
			return fmt.Errorf("%w: source and destination location must differ", ErrValidation)
		}
		if input.Qty > rec.Qty {
			return &InsufficientStockError{Item: rec.DisplayName(), Requested: input.Qty, Available: rec.Qty}
		}
		dest, err := tx.FindRecordForUpdate(ctx, rec.CompanyID, rec.ProductID, rec.Name, input.ToLocation)
		switch {
		case errors.Is(err, ErrRecordNotFound):
			dest = Record{
				CompanyID: rec.CompanyID,
				ProductID: rec.ProductID,
				Name:      rec.Name,
				Unit:      rec.Unit,
				Location:  input.ToLocation,
				Qty:       input.Qty,
			}
			dest.ID, err = tx.InsertRecord(ctx, dest)
			if err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			dest.Qty += input.Qty
			if err := tx.UpdateRecordQty(ctx, dest.ID, dest.Qty); err != nil {
				return err
			}
		}
		rec.Qty -= input.Qty
		if err := tx.UpdateRecordQty(ctx, rec.ID, rec.Qty); err != nil {
			return err
		}
		src, dst = rec, dest
		_, err = tx.InsertTransaction(ctx, StockTransaction{
			RecordID:     rec.ID,
			Type:         TransactionTypeTransfer,
			Qty:          input.Qty,
			RefType:      "TRANSFER",
			RefID:        input.Notes,
			FromLocation: rec.Location,
			ToLocation:   input.ToLocation,
			ActorID:      input.ActorID,
			At:           time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return Record{}, Record{}, err
	}
	s.recordAudit(ctx, input.ActorID, "stock:transfer", src.ID, map[string]any{"qty": input.Qty, "to": input.ToLocation})
	s.notifyLowStock(ctx, src)
	return src, dst, nil
}

// CheckAvailability compares requested quantities against on-hand
// quantities without mutating anything.
func (s *Service) CheckAvailability(ctx context.Context, companyID int64, location string, items []CheckItem) (CheckResult, error) {
	if location == "" {
		location = DefaultLocation
	}
	result := CheckResult{Available: true}
	for _, item := range mergeCheckItems(items) {
		rec, err := s.repo.FindRecord(ctx, companyID, item.ProductID, item.Name, location)
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			return CheckResult{}, err
		}
		entry := CheckResultItem{
			ProductID:  item.ProductID,
			Name:       item.Name,
			Requested:  item.Qty,
			Available:  rec.Qty,
			Sufficient: rec.Qty >= item.Qty,
		}
		if !entry.Sufficient {
			result.Available = false
		}
		result.Items = append(result.Items, entry)
	}
	return result, nil
}

type itemKey struct {
	productID int64
	name      string
}

// mergeCheckItems collapses duplicate (product, name) entries so the
// availability check sees the combined demand on a record, not per-line
// slices of it.
func mergeCheckItems(in []CheckItem) []CheckItem {
	merged := make([]CheckItem, 0, len(in))
	index := make(map[itemKey]int, len(in))
	for _, item := range in {
		key := itemKey{productID: item.ProductID, name: item.Name}
		if i, ok := index[key]; ok {
			merged[i].Qty += item.Qty
			continue
		}
		index[key] = len(merged)
		merged = append(merged, item)
	}
	return merged
}

// mergeFulfillItems validates quantities, collapses duplicate
// (product, name) entries into one combined deduction per record and
// sorts for a stable lock order across concurrent fulfillments.
func mergeFulfillItems(in []FulfillItem) ([]FulfillItem, error) {
	merged := make([]FulfillItem, 0, len(in))
	index := make(map[itemKey]int, len(in))
	for _, item := range in {
		if item.Qty <= 0 {
			return nil, ErrInvalidQuantity
		}
		key := itemKey{productID: item.ProductID, name: item.Name}
		if i, ok := index[key]; ok {
			merged[i].Qty += item.Qty
			continue
		}
		index[key] = len(merged)
		merged = append(merged, item)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].ProductID != merged[j].ProductID {
			return merged[i].ProductID < merged[j].ProductID
		}
		return merged[i].Name < merged[j].Name
	})
	return merged, nil
}

// Fulfill deducts every item or none. Duplicate lines of one record are
// combined before the check, records are locked in a stable order and
// re-checked under lock before any quantity changes, so a concurrent
// fulfillment re-validates availability instead of blindly decrementing.
func (s *Service) Fulfill(ctx context.Context, input FulfillInput) error {
	if len(input.Items) == 0 {
		return ErrEmptyFulfillment
	}
	if input.Location == "" {
		input.Location = DefaultLocation
	}
	if s.locker != nil && input.RefID != "" {
		lock, err := s.locker.Obtain(ctx, shared.FulfillmentLockKey(input.RefType, input.RefID), 10*time.Second, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 10),
		})
		if err != nil {
			return fmt.Errorf("inventory: obtain fulfillment lock: %w", err)
		}
		defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()
	}
	key := fmt.Sprintf("FULFILL:%s:%s", input.RefType, input.RefID)
	items, err := mergeFulfillItems(input.Items)
	if err != nil {
		return err
	}
	inserted := false
	if s.idempotency != nil && input.RefID != "" {
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return err
		}
		inserted = true
	}

	var touched []Record
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		touched = touched[:0]
		locked := make([]Record, 0, len(items))
		for _, item := range items {
			rec, err := tx.FindRecordForUpdate(ctx, input.CompanyID, item.ProductID, item.Name, input.Location)
			if errors.Is(err, ErrRecordNotFound) {
				return &InsufficientStockError{Item: itemName(item), Requested: item.Qty, Available: 0}
			}
			if err != nil {
				return err
			}
			if rec.Qty < item.Qty {
				return &InsufficientStockError{Item: itemName(item), Requested: item.Qty, Available: rec.Qty}
			}
			locked = append(locked, rec)
		}
		// Every item passed the check; only now mutate.
		for i, item := range items {
			rec := locked[i]
			rec.Qty -= item.Qty
			if err := tx.UpdateRecordQty(ctx, rec.ID, rec.Qty); err != nil {
				return err
			}
			if _, err := tx.InsertTransaction(ctx, StockTransaction{
				RecordID: rec.ID,
				Type:     TransactionTypeExit,
				Qty:      item.Qty,
				RefType:  input.RefType,
				RefID:    input.RefID,
				ActorID:  input.ActorID,
				At:       time.Now().UTC(),
			}); err != nil {
				return err
			}
			touched = append(touched, rec)
		}
		return nil
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return err
	}
	s.recordAudit(ctx, input.ActorID, "stock:fulfill", input.CompanyID, map[string]any{"ref": input.RefID, "items": len(items)})
	for _, rec := range touched {
		s.notifyLowStock(ctx, rec)
	}
	return nil
}

// GetRecord loads a single record scoped to a company.
func (s *Service) GetRecord(ctx context.Context, companyID, id int64) (Record, error) {
	rec, err := s.repo.GetRecord(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.CompanyID != companyID {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

// ListRecords lists records for a company.
func (s *Service) ListRecords(ctx context.Context, filter ListFilter) ([]Record, int, error) {
	if filter.CompanyID == 0 {
		return nil, 0, fmt.Errorf("%w: company required", ErrValidation)
	}
	return s.repo.ListRecords(ctx, filter)
}

// ListTransactions lists the ledger trail of one record.
func (s *Service) ListTransactions(ctx context.Context, companyID, recordID int64, limit int) ([]StockTransaction, error) {
	if _, err := s.GetRecord(ctx, companyID, recordID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, recordID, limit)
}

// ListBelowMinimum returns records under their configured minimum.
func (s *Service) ListBelowMinimum(ctx context.Context, companyID int64) ([]Record, error) {
	return s.repo.ListBelowMinimum(ctx, companyID)
}

func (s *Service) notifyLowStock(ctx context.Context, rec Record) {
	if s.integration == nil || !rec.BelowMinimum() {
		return
	}
	_ = s.integration.HandleLowStock(ctx, LowStockEvent{
		RecordID:  rec.ID,
		CompanyID: rec.CompanyID,
		ProductID: rec.ProductID,
		Name:      rec.Name,
		Location:  rec.Location,
		Qty:       rec.Qty,
		MinQty:    rec.MinQty,
	})
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "inventory_record", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func itemName(item FulfillItem) string {
	if item.Name != "" {
		return item.Name
	}
	return fmt.Sprintf("product %d", item.ProductID)
}
