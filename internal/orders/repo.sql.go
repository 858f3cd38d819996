package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by Service.
type TxRepository interface {
	CreateOrder(ctx context.Context, order Order) (int64, error)
	InsertLine(ctx context.Context, line Line) error
	GetOrderForUpdate(ctx context.Context, id int64) (Order, error)
	UpdateStatus(ctx context.Context, id int64, status Status, reason string) error
	SetSiteManager(ctx context.Context, id, userID int64) error
	SetManagementApprover(ctx context.Context, id, userID int64) error
	InsertHistory(ctx context.Context, entry HistoryEntry) error
}

type txRepository struct {
	tx pgx.Tx
}

const serializationFailure = "40001"

const maxTxRetries = 3

// WithTx executes the callback inside a repeatable-read transaction,
// retrying serialization failures.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("orders repository not initialised")
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

const orderColumns = `id, number, company_id, supplier_id, destination_kind, destination_id, created_by, site_manager_id, management_approver_id, status, reason, created_at, updated_at`

// GetOrder loads the order header, its lines and the per-status entry
// times derived from the history trail.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, []Line, error) {
	if r == nil {
		return Order{}, nil, errors.New("orders repository not initialised")
	}
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1`, id))
	if err != nil {
		return Order{}, nil, err
	}
	lines, err := r.listLines(ctx, id)
	if err != nil {
		return Order{}, nil, err
	}
	if err := r.loadStatusTimes(ctx, &order); err != nil {
		return Order{}, nil, err
	}
	return order, lines, nil
}

func (r *Repository) listLines(ctx context.Context, orderID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, product_id, name, qty, unit, unit_price::text
FROM order_lines WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var line Line
		var price string
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.Name, &line.Qty, &line.Unit, &price); err != nil {
			return nil, err
		}
		line.UnitPrice, err = decimal.NewFromString(price)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *Repository) loadStatusTimes(ctx context.Context, order *Order) error {
	rows, err := r.pool.Query(ctx, `SELECT to_status, MIN(at) FROM order_status_history WHERE order_id=$1 GROUP BY to_status`, order.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	order.StatusAt = map[Status]time.Time{StatusDraft: order.CreatedAt}
	for rows.Next() {
		var status string
		var at time.Time
		if err := rows.Scan(&status, &at); err != nil {
			return err
		}
		order.StatusAt[Status(status)] = at
	}
	return rows.Err()
}

// ListOrders lists order headers with filters and a total count.
func (r *Repository) ListOrders(ctx context.Context, limit, offset int, filters ListFilters) ([]Order, int, error) {
	if r == nil {
		return nil, 0, errors.New("orders repository not initialised")
	}
	const where = `WHERE ($1 = 0 OR company_id=$1)
  AND ($2 = '' OR status=$2)
  AND ($3 = 0 OR supplier_id=$3)
  AND ($4 = '' OR destination_kind=$4)
  AND ($5 = '' OR number ILIKE '%' || $5 || '%')`
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM purchase_orders `+where+`
ORDER BY created_at DESC, id DESC LIMIT $6 OFFSET $7`,
		filters.CompanyID, filters.Status, filters.SupplierID, filters.DestinationKind, filters.Search, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Order{}
	for rows.Next() {
		order, err := scanOrderRows(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	var total int
	err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders `+where,
		filters.CompanyID, filters.Status, filters.SupplierID, filters.DestinationKind, filters.Search).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListHistory returns the workflow trail oldest-first.
func (r *Repository) ListHistory(ctx context.Context, orderID int64) ([]HistoryEntry, error) {
	if r == nil {
		return nil, errors.New("orders repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, from_status, to_status, actor_id, action, notes, at
FROM order_status_history WHERE order_id=$1 ORDER BY at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		var from, to, action string
		var actorID *int64
		if err := rows.Scan(&e.ID, &e.OrderID, &from, &to, &actorID, &action, &e.Notes, &e.At); err != nil {
			return nil, err
		}
		e.FromStatus = Status(from)
		e.ToStatus = Status(to)
		e.Action = Action(action)
		if actorID != nil {
			e.ActorID = *actorID
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepository) CreateOrder(ctx context.Context, order Order) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, company_id, supplier_id, destination_kind, destination_id, created_by, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW()) RETURNING id`,
		order.Number, order.CompanyID, nullInt(order.SupplierID), string(order.Destination.Kind), order.Destination.ID, order.CreatedBy, string(order.Status)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO order_lines (order_id, product_id, name, qty, unit, unit_price)
VALUES ($1,$2,$3,$4,$5,$6)`,
		line.OrderID, line.ProductID, line.Name, line.Qty, line.Unit, line.UnitPrice.String())
	return err
}

func (r *txRepository) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	return scanOrder(r.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status, reason string) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2, reason=$3, updated_at=NOW() WHERE id=$1`, id, string(status), reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) SetSiteManager(ctx context.Context, id, userID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET site_manager_id=$2 WHERE id=$1`, id, nullInt(userID))
	return err
}

func (r *txRepository) SetManagementApprover(ctx context.Context, id, userID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET management_approver_id=$2 WHERE id=$1`, id, nullInt(userID))
	return err
}

func (r *txRepository) InsertHistory(ctx context.Context, entry HistoryEntry) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO order_status_history (order_id, from_status, to_status, actor_id, action, notes, at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.OrderID, string(entry.FromStatus), string(entry.ToStatus), nullInt(entry.ActorID), string(entry.Action), entry.Notes, entry.At)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (Order, error) {
	var order Order
	var destKind string
	var status string
	var supplierID, siteManagerID, approverID *int64
	var reason *string
	err := row.Scan(&order.ID, &order.Number, &order.CompanyID, &supplierID, &destKind, &order.Destination.ID,
		&order.CreatedBy, &siteManagerID, &approverID, &status, &reason, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	order.Destination.Kind = DestinationKind(destKind)
	order.Status = Status(status)
	if supplierID != nil {
		order.SupplierID = *supplierID
	}
	if siteManagerID != nil {
		order.SiteManagerID = *siteManagerID
	}
	if approverID != nil {
		order.ManagementApproverID = *approverID
	}
	if reason != nil {
		order.Reason = *reason
	}
	return order, nil
}

func scanOrderRows(rows pgx.Rows) (Order, error) {
	return scanOrder(rows)
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
