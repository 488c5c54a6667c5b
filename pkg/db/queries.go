package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

const orderColumns = `order_id, token_in, token_out, amount_in, slippage, status,
	selected_dex, executed_price, tx_hash, error, attempts, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateOrder inserts a new order row and returns it as stored.
func (d *Database) CreateOrder(ctx context.Context, o Order) (Order, error) {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}

	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (order_id, token_in, token_out, amount_in, slippage, status,
			selected_dex, executed_price, tx_hash, error, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?)
	`, o.ID, o.TokenIn, o.TokenOut, o.AmountIn, o.Slippage, o.Status,
		o.SelectedDex, nullFloat(o.ExecutedPrice), o.TxHash, o.Error, o.Attempts,
		o.CreatedAt.UnixNano(), o.UpdatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return Order{}, fmt.Errorf("create order %s: %w", o.ID, ErrDuplicate)
		}
		return Order{}, fmt.Errorf("create order %s: %w", o.ID, err)
	}
	return d.GetOrder(ctx, o.ID)
}

// UpdateOrderStatus sets status, merges the non-zero fields of upd and bumps
// updated_at so that it strictly increases. Returns ErrNotFound for unknown ids.
func (d *Database) UpdateOrderStatus(ctx context.Context, id, status string, upd OrderUpdate) (Order, error) {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return Order{}, fmt.Errorf("begin update %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().UnixNano()
	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET
			status = ?,
			selected_dex = COALESCE(NULLIF(?, ''), selected_dex),
			executed_price = COALESCE(?, executed_price),
			tx_hash = COALESCE(NULLIF(?, ''), tx_hash),
			error = COALESCE(NULLIF(?, ''), error),
			attempts = CASE WHEN ? > 0 THEN ? ELSE attempts END,
			updated_at = CASE WHEN ? > updated_at THEN ? ELSE updated_at + 1 END
		WHERE order_id = ?
	`, status, upd.SelectedDex, nullFloat(upd.ExecutedPrice), upd.TxHash, upd.Error,
		upd.Attempts, upd.Attempts, now, now, id)
	if err != nil {
		return Order{}, fmt.Errorf("update order %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Order{}, fmt.Errorf("update order %s: %w", id, err)
	}
	if n == 0 {
		return Order{}, ErrNotFound
	}

	o, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, id))
	if err != nil {
		return Order{}, fmt.Errorf("reload order %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return Order{}, fmt.Errorf("commit update %s: %w", id, err)
	}
	return o, nil
}

// GetOrder loads a single order. Returns ErrNotFound for unknown ids.
func (d *Database) GetOrder(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(d.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

// ListOrdersByStatus returns orders in the given status, newest first.
func (d *Database) ListOrdersByStatus(ctx context.Context, status string) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = ?
		ORDER BY created_at DESC, rowid DESC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("query orders by status: %w", err)
	}
	return collectOrders(rows)
}

// ListRecentOrders returns at most limit orders, newest first.
func (d *Database) ListRecentOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent orders: %w", err)
	}
	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]Order, error) {
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrder(row rowScanner) (Order, error) {
	var (
		o             Order
		selectedDex   sql.NullString
		executedPrice sql.NullFloat64
		txHash        sql.NullString
		errMsg        sql.NullString
		createdAt     int64
		updatedAt     int64
	)
	if err := row.Scan(&o.ID, &o.TokenIn, &o.TokenOut, &o.AmountIn, &o.Slippage, &o.Status,
		&selectedDex, &executedPrice, &txHash, &errMsg, &o.Attempts, &createdAt, &updatedAt); err != nil {
		return Order{}, err
	}
	o.SelectedDex = selectedDex.String
	o.TxHash = txHash.String
	o.Error = errMsg.String
	if executedPrice.Valid {
		price := executedPrice.Float64
		o.ExecutedPrice = &price
	}
	o.CreatedAt = time.Unix(0, createdAt).UTC()
	o.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return o, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
