package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetRecordForUpdate(ctx context.Context, id int64) (Record, error)
	FindRecordForUpdate(ctx context.Context, companyID, productID int64, name, location string) (Record, error)
	InsertRecord(ctx context.Context, rec Record) (int64, error)
	UpdateRecordQty(ctx context.Context, id int64, qty float64) error
	SetLastCount(ctx context.Context, id int64, at time.Time) error
	InsertTransaction(ctx context.Context, tx StockTransaction) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

const serializationFailure = "40001"

const maxTxRetries = 3

// WithTx executes the callback inside a repeatable-read transaction.
// Serialization failures are retried so a losing concurrent writer
// re-validates availability on a fresh snapshot.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
		if err != nil {
			return err
		}
		wrapper := &txRepository{tx: tx}
		if err := fn(ctx, wrapper); err != nil {
			_ = tx.Rollback(ctx)
			if isSerializationFailure(err) {
				lastErr = err
				continue
			}
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			if isSerializationFailure(err) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailure
}

func (r *Repository) GetRecord(ctx context.Context, id int64) (Record, error) {
	if r == nil {
		return Record{}, errors.New("inventory repository not initialised")
	}
	return scanRecord(r.pool.QueryRow(ctx, `SELECT id, company_id, product_id, name, unit, location, qty, min_qty, last_count_at, updated_at
FROM inventory_records WHERE id=$1`, id))
}

func (r *Repository) FindRecord(ctx context.Context, companyID, productID int64, name, location string) (Record, error) {
	if r == nil {
		return Record{}, errors.New("inventory repository not initialised")
	}
	return scanRecord(r.pool.QueryRow(ctx, `SELECT id, company_id, product_id, name, unit, location, qty, min_qty, last_count_at, updated_at
FROM inventory_records
WHERE company_id=$1 AND location=$4 AND (($2 <> 0 AND product_id=$2) OR ($2 = 0 AND product_id=0 AND name=$3))`,
		companyID, productID, name, location))
}

func (r *Repository) ListRecords(ctx context.Context, filter ListFilter) ([]Record, int, error) {
	if r == nil {
		return nil, 0, errors.New("inventory repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, product_id, name, unit, location, qty, min_qty, last_count_at, updated_at
FROM inventory_records
WHERE company_id=$1
  AND ($2 = '' OR location=$2)
  AND ($3 = '' OR name ILIKE '%' || $3 || '%')
ORDER BY location, name, product_id
LIMIT $4 OFFSET $5`, filter.CompanyID, filter.Location, filter.Search, limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	records := []Record{}
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	var total int
	err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_records
WHERE company_id=$1 AND ($2 = '' OR location=$2) AND ($3 = '' OR name ILIKE '%' || $3 || '%')`,
		filter.CompanyID, filter.Location, filter.Search).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *Repository) ListTransactions(ctx context.Context, recordID int64, limit int) ([]StockTransaction, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, record_id, tx_type, qty, ref_type, ref_id, from_location, to_location, actor_id, at
FROM stock_transactions WHERE record_id=$1 ORDER BY at DESC, id DESC LIMIT $2`, recordID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	txs := []StockTransaction{}
	for rows.Next() {
		var t StockTransaction
		var txType string
		if err := rows.Scan(&t.ID, &t.RecordID, &txType, &t.Qty, &t.RefType, &t.RefID, &t.FromLocation, &t.ToLocation, &t.ActorID, &t.At); err != nil {
			return nil, err
		}
		t.Type = TransactionType(txType)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (r *Repository) ListBelowMinimum(ctx context.Context, companyID int64) ([]Record, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, product_id, name, unit, location, qty, min_qty, last_count_at, updated_at
FROM inventory_records
WHERE min_qty > 0 AND qty < min_qty AND ($1 = 0 OR company_id=$1)
ORDER BY company_id, location, name`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []Record{}
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *txRepository) GetRecordForUpdate(ctx context.Context, id int64) (Record, error) {
	return scanRecord(r.tx.QueryRow(ctx, `SELECT id, company_id, product_id, name, unit, location, qty, min_qty, last_count_at, updated_at
FROM inventory_records WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) FindRecordForUpdate(ctx context.Context, companyID, productID int64, name, location string) (Record, error) {
	return scanRecord(r.tx.QueryRow(ctx, `SELECT id, company_id, product_id, name, unit, location, qty, min_qty, last_count_at, updated_at
FROM inventory_records
WHERE company_id=$1 AND location=$4 AND (($2 <> 0 AND product_id=$2) OR ($2 = 0 AND product_id=0 AND name=$3))
FOR UPDATE`, companyID, productID, name, location))
}

func (r *txRepository) InsertRecord(ctx context.Context, rec Record) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_records (company_id, product_id, name, unit, location, qty, min_qty, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id`,
		rec.CompanyID, rec.ProductID, rec.Name, rec.Unit, rec.Location, rec.Qty, rec.MinQty).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateRecordQty(ctx context.Context, id int64, qty float64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_records SET qty=$2, updated_at=NOW() WHERE id=$1`, id, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *txRepository) SetLastCount(ctx context.Context, id int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE inventory_records SET last_count_at=$2 WHERE id=$1`, id, at)
	return err
}

func (r *txRepository) InsertTransaction(ctx context.Context, t StockTransaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transactions (record_id, tx_type, qty, ref_type, ref_id, from_location, to_location, actor_id, at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		t.RecordID, string(t.Type), t.Qty, t.RefType, t.RefID, t.FromLocation, t.ToLocation, nullInt(t.ActorID), t.At).Scan(&id)
	return id, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var lastCount *time.Time
	err := row.Scan(&rec.ID, &rec.CompanyID, &rec.ProductID, &rec.Name, &rec.Unit, &rec.Location, &rec.Qty, &rec.MinQty, &lastCount, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, err
	}
	if lastCount != nil {
		rec.LastCountAt = *lastCount
	}
	return rec, nil
}

func scanRecordRows(rows pgx.Rows) (Record, error) {
	var rec Record
	var lastCount *time.Time
	if err := rows.Scan(&rec.ID, &rec.CompanyID, &rec.ProductID, &rec.Name, &rec.Unit, &rec.Location, &rec.Qty, &rec.MinQty, &lastCount, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	if lastCount != nil {
		rec.LastCountAt = *lastCount
	}
	return rec, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
