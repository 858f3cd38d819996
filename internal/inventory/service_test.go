package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	records map[int64]Record
	txs     []StockTransaction
	nextID  int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: make(map[int64]Record)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetRecord(ctx context.Context, id int64) (Record, error) {
	if rec, ok := r.records[id]; ok {
		return rec, nil
	}
	return Record{}, ErrRecordNotFound
}

func (r *memoryRepo) FindRecord(ctx context.Context, companyID, productID int64, name, location string) (Record, error) {
	for _, rec := range r.records {
		if rec.CompanyID != companyID || rec.Location != location {
			continue
		}
		if productID != 0 && rec.ProductID == productID {
			return rec, nil
		}
		if productID == 0 && rec.ProductID == 0 && rec.Name == name {
			return rec, nil
		}
	}
	return Record{}, ErrRecordNotFound
}

func (r *memoryRepo) ListRecords(ctx context.Context, filter ListFilter) ([]Record, int, error) {
	out := []Record{}
	for _, rec := range r.records {
		if rec.CompanyID == filter.CompanyID {
			out = append(out, rec)
		}
	}
	return out, len(out), nil
}

func (r *memoryRepo) ListTransactions(ctx context.Context, recordID int64, limit int) ([]StockTransaction, error) {
	out := []StockTransaction{}
	for _, t := range r.txs {
		if t.RecordID == recordID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListBelowMinimum(ctx context.Context, companyID int64) ([]Record, error) {
	out := []Record{}
	for _, rec := range r.records {
		if rec.BelowMinimum() && (companyID == 0 || rec.CompanyID == companyID) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (tx *memoryTx) GetRecordForUpdate(ctx context.Context, id int64) (Record, error) {
	return tx.repo.GetRecord(ctx, id)
}

func (tx *memoryTx) FindRecordForUpdate(ctx context.Context, companyID, productID int64, name, location string) (Record, error) {
	return tx.repo.FindRecord(ctx, companyID, productID, name, location)
}

func (tx *memoryTx) InsertRecord(ctx context.Context, rec Record) (int64, error) {
	tx.repo.nextID++
	rec.ID = tx.repo.nextID
	tx.repo.records[rec.ID] = rec
	return rec.ID, nil
}

func (tx *memoryTx) UpdateRecordQty(ctx context.Context, id int64, qty float64) error {
	rec, ok := tx.repo.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Qty = qty
	tx.repo.records[id] = rec
	return nil
}

func (tx *memoryTx) SetLastCount(ctx context.Context, id int64, at time.Time) error {
	rec, ok := tx.repo.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.LastCountAt = at
	tx.repo.records[id] = rec
	return nil
}

func (tx *memoryTx) InsertTransaction(ctx context.Context, t StockTransaction) (int64, error) {
	tx.repo.nextID++
	t.ID = tx.repo.nextID
	tx.repo.txs = append(tx.repo.txs, t)
	return t.ID, nil
}

type capturedLowStock struct {
	events []LowStockEvent
}

func (c *capturedLowStock) HandleLowStock(ctx context.Context, evt LowStockEvent) error {
	c.events = append(c.events, evt)
	return nil
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, nil, nil, nil, nil)
}

func seedRecord(t *testing.T, svc *Service, productID int64, qty float64) Record {
	t.Helper()
	rec, err := svc.AddStock(context.Background(), AddInput{CompanyID: 1, ProductID: productID, Qty: qty, Unit: "kg"})
	require.NoError(t, err)
	return rec
}

func TestAddStockCreatesThenIncrements(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	rec, err := svc.AddStock(ctx, AddInput{CompanyID: 1, ProductID: 7, Qty: 10, Unit: "kg"})
	require.NoError(t, err)
	require.InDelta(t, 10, rec.Qty, 0.0001)
	require.Equal(t, DefaultLocation, rec.Location)

	rec, err = svc.AddStock(ctx, AddInput{CompanyID: 1, ProductID: 7, Qty: 5})
	require.NoError(t, err)
	require.InDelta(t, 15, rec.Qty, 0.0001)
	require.Len(t, repo.records, 1)

	txs, err := svc.ListTransactions(ctx, 1, rec.ID, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Equal(t, TransactionTypeEntry, txs[0].Type)
}

func TestRemoveStockNeverGoesNegative(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	rec := seedRecord(t, svc, 7, 10)

	rec, err := svc.RemoveStock(ctx, RemoveInput{CompanyID: 1, RecordID: rec.ID, Qty: 6})
	require.NoError(t, err)
	require.InDelta(t, 4, rec.Qty, 0.0001)

	// The same deduction again exceeds what is left.
	_, err = svc.RemoveStock(ctx, RemoveInput{CompanyID: 1, RecordID: rec.ID, Qty: 6})
	require.ErrorIs(t, err, ErrInsufficientStock)

	after, err := svc.GetRecord(ctx, 1, rec.ID)
	require.NoError(t, err)
	require.InDelta(t, 4, after.Qty, 0.0001)
}

func TestRemoveStockRejectsWrongCompany(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	rec := seedRecord(t, svc, 7, 10)

	_, err := svc.RemoveStock(context.Background(), RemoveInput{CompanyID: 2, RecordID: rec.ID, Qty: 1})
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestAdjustStockLogsSignedDelta(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	rec := seedRecord(t, svc, 7, 10)

	rec, err := svc.AdjustStock(ctx, AdjustInput{CompanyID: 1, RecordID: rec.ID, NewQty: 3, Reason: "count"})
	require.NoError(t, err)
	require.InDelta(t, 3, rec.Qty, 0.0001)
	require.False(t, rec.LastCountAt.IsZero())

	txs, err := svc.ListTransactions(ctx, 1, rec.ID, 0)
	require.NoError(t, err)
	last := txs[len(txs)-1]
	require.Equal(t, TransactionTypeAdjustment, last.Type)
	require.InDelta(t, -7, last.Qty, 0.0001)
}

func TestTransferConservesTotalQuantity(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	rec := seedRecord(t, svc, 7, 20)

	src, dst, err := svc.TransferStock(ctx, TransferInput{CompanyID: 1, RecordID: rec.ID, Qty: 8, ToLocation: "SITE-A"})
	require.NoError(t, err)
	require.InDelta(t, 12, src.Qty, 0.0001)
	require.InDelta(t, 8, dst.Qty, 0.0001)
	require.InDelta(t, 20, src.Qty+dst.Qty, 0.0001)
	require.Equal(t, "SITE-A", dst.Location)

	_, _, err = svc.TransferStock(ctx, TransferInput{CompanyID: 1, RecordID: rec.ID, Qty: 5, ToLocation: DefaultLocation})
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = svc.TransferStock(ctx, TransferInput{CompanyID: 1, RecordID: rec.ID, Qty: 100, ToLocation: "SITE-A"})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestCheckAvailabilityReportsPerItem(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	seedRecord(t, svc, 1, 10)
	seedRecord(t, svc, 2, 3)

	result, err := svc.CheckAvailability(ctx, 1, "", []CheckItem{
		{ProductID: 1, Qty: 5},
		{ProductID: 2, Qty: 5},
		{ProductID: 99, Qty: 1},
	})
	require.NoError(t, err)
	require.False(t, result.Available)
	require.Len(t, result.Items, 3)
	require.True(t, result.Items[0].Sufficient)
	require.False(t, result.Items[1].Sufficient)
	require.InDelta(t, 3, result.Items[1].Available, 0.0001)
	require.False(t, result.Items[2].Sufficient)
	require.InDelta(t, 0, result.Items[2].Available, 0.0001)
}

func TestFulfillCombinesDuplicateProductLines(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	rec := seedRecord(t, svc, 7, 5)

	// Two lines of the same product are one combined demand: 3+3 > 5
	// must fail, not pass twice against the same snapshot.
	err := svc.Fulfill(ctx, FulfillInput{CompanyID: 1, RefType: "ORDER", RefID: "po-dup", Items: []FulfillItem{
		{ProductID: 7, Qty: 3},
		{ProductID: 7, Qty: 3},
	}})
	require.ErrorIs(t, err, ErrInsufficientStock)
	var insufficientErr *InsufficientStockError
	require.ErrorAs(t, err, &insufficientErr)
	require.InDelta(t, 6, insufficientErr.Requested, 0.0001)
	require.InDelta(t, 5, insufficientErr.Available, 0.0001)

	after, err := svc.GetRecord(ctx, 1, rec.ID)
	require.NoError(t, err)
	require.InDelta(t, 5, after.Qty, 0.0001)
	txs, err := svc.ListTransactions(ctx, 1, rec.ID, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1) // the seeding ENTRY only

	// Within stock the duplicates deduct once, as one EXIT transaction.
	err = svc.Fulfill(ctx, FulfillInput{CompanyID: 1, RefType: "ORDER", RefID: "po-dup", Items: []FulfillItem{
		{ProductID: 7, Qty: 2},
		{ProductID: 7, Qty: 3},
	}})
	require.NoError(t, err)

	after, err = svc.GetRecord(ctx, 1, rec.ID)
	require.NoError(t, err)
	require.InDelta(t, 0, after.Qty, 0.0001)
	txs, err = svc.ListTransactions(ctx, 1, rec.ID, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	last := txs[len(txs)-1]
	require.Equal(t, TransactionTypeExit, last.Type)
	require.InDelta(t, 5, last.Qty, 0.0001)
}

func TestCheckAvailabilityCombinesDuplicateProductLines(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	seedRecord(t, svc, 7, 5)

	result, err := svc.CheckAvailability(ctx, 1, "", []CheckItem{
		{ProductID: 7, Qty: 3},
		{ProductID: 7, Qty: 3},
	})
	require.NoError(t, err)
	require.False(t, result.Available)
	require.Len(t, result.Items, 1)
	require.InDelta(t, 6, result.Items[0].Requested, 0.0001)
	require.InDelta(t, 5, result.Items[0].Available, 0.0001)
	require.False(t, result.Items[0].Sufficient)
}

func TestFulfillAllOrNothing(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	a := seedRecord(t, svc, 1, 10)
	b := seedRecord(t, svc, 2, 3)

	// One short item fails the whole fulfillment and deducts nothing.
	err := svc.Fulfill(ctx, FulfillInput{CompanyID: 1, RefType: "ORDER", RefID: "po-1", Items: []FulfillItem{
		{ProductID: 1, Qty: 5},
		{ProductID: 2, Qty: 5},
	}})
	require.ErrorIs(t, err, ErrInsufficientStock)
	var insufficientErr *InsufficientStockError
	require.ErrorAs(t, err, &insufficientErr)
	require.InDelta(t, 5, insufficientErr.Requested, 0.0001)
	require.InDelta(t, 3, insufficientErr.Available, 0.0001)

	after, err := svc.GetRecord(ctx, 1, a.ID)
	require.NoError(t, err)
	require.InDelta(t, 10, after.Qty, 0.0001)

	// All sufficient: every line is deducted with an EXIT transaction.
	err = svc.Fulfill(ctx, FulfillInput{CompanyID: 1, RefType: "ORDER", RefID: "po-1", Items: []FulfillItem{
		{ProductID: 1, Qty: 5},
		{ProductID: 2, Qty: 3},
	}})
	require.NoError(t, err)

	after, err = svc.GetRecord(ctx, 1, a.ID)
	require.NoError(t, err)
	require.InDelta(t, 5, after.Qty, 0.0001)
	after, err = svc.GetRecord(ctx, 1, b.ID)
	require.NoError(t, err)
	require.InDelta(t, 0, after.Qty, 0.0001)

	txs, err := svc.ListTransactions(ctx, 1, b.ID, 0)
	require.NoError(t, err)
	last := txs[len(txs)-1]
	require.Equal(t, TransactionTypeExit, last.Type)
	require.Equal(t, "po-1", last.RefID)
}

func TestFulfillUnknownItemFails(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	err := svc.Fulfill(context.Background(), FulfillInput{CompanyID: 1, RefType: "ORDER", RefID: "po-2", Items: []FulfillItem{
		{Name: "rebar 12mm", Qty: 1},
	}})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestFulfillRequiresItems(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	err := svc.Fulfill(context.Background(), FulfillInput{CompanyID: 1})
	require.ErrorIs(t, err, ErrEmptyFulfillment)
}

func TestLowStockEventEmitted(t *testing.T) {
	repo := newMemoryRepo()
	captured := &capturedLowStock{}
	svc := NewService(repo, nil, nil, nil, captured)
	ctx := context.Background()

	rec, err := svc.AddStock(ctx, AddInput{CompanyID: 1, ProductID: 5, Qty: 10, MinQty: 4})
	require.NoError(t, err)

	_, err = svc.RemoveStock(ctx, RemoveInput{CompanyID: 1, RecordID: rec.ID, Qty: 8})
	require.NoError(t, err)
	require.Len(t, captured.events, 1)
	require.Equal(t, rec.ID, captured.events[0].RecordID)
	require.InDelta(t, 2, captured.events[0].Qty, 0.0001)
}

func TestFreeTextItemsKeyedByName(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	first, err := svc.AddStock(ctx, AddInput{CompanyID: 1, Name: "rebar 12mm", Qty: 10})
	require.NoError(t, err)
	second, err := svc.AddStock(ctx, AddInput{CompanyID: 1, Name: "rebar 12mm", Qty: 5})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.InDelta(t, 15, second.Qty, 0.0001)

	other, err := svc.AddStock(ctx, AddInput{CompanyID: 1, Name: "rebar 16mm", Qty: 2})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)
	require.InDelta(t, 2, other.Qty, 0.0001)
}
