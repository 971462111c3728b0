package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/farmcart/farmcart/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders
		(id, buyer_id, farmer_id, total_price, delivery_address, payment_reference, notes, status, snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	getOrderSQL = `SELECT id, buyer_id, farmer_id, total_price, delivery_address, payment_reference, notes, status, snapshot, created_at
		FROM orders WHERE id = $1`

	findOrderByPaymentRefSQL = `SELECT id, buyer_id, farmer_id, total_price, delivery_address, payment_reference, notes, status, snapshot, created_at
		FROM orders WHERE payment_reference = $1`

	listUnfinishedOrdersSQL = `SELECT id, buyer_id, farmer_id, total_price, delivery_address, payment_reference, notes, status, snapshot, created_at
		FROM orders WHERE status <> 'complete' ORDER BY created_at LIMIT $1`

	createOrderItemSQL = `INSERT INTO order_items (order_id, product_id, quantity, price_per_unit, total_price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id, product_id) DO NOTHING`

	getOrderItemsSQL = `SELECT order_id, product_id, quantity, price_per_unit, total_price
		FROM order_items WHERE order_id = $1 ORDER BY product_id`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`
)

// uniqueViolation is the PostgreSQL error code for a unique constraint breach.
const uniqueViolation = "23505"

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order header. A duplicate payment reference is
// reported as order.ErrAlreadyExists so the saga can resume the existing
// order instead of double-inserting.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.BuyerID, o.FarmerID, o.TotalPrice, o.DeliveryAddress,
		o.PaymentReference, o.Notes, string(o.Status), o.Snapshot, o.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return order.ErrAlreadyExists
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns a single order by its identifier.
func (r *OrderRepository) Get(ctx context.Context, orderID string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", orderID, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", orderID, err)
	}
	return &o, nil
}

// FindByPaymentReference returns the order created for the given payment
// reference, or order.ErrNotFound.
func (r *OrderRepository) FindByPaymentReference(ctx context.Context, ref string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, findOrderByPaymentRefSQL, ref)
	if err != nil {
		return nil, fmt.Errorf("finding order by payment reference: %w", err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order by payment reference: %w", err)
	}
	return &o, nil
}

// CreateItems bulk-inserts the order's line items in one batch. Re-inserting
// an item that already exists is a no-op, which makes saga retries safe.
func (r *OrderRepository) CreateItems(ctx context.Context, items []order.Item) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(createOrderItemSQL, it.OrderID, it.ProductID, it.Quantity, it.PricePerUnit, it.TotalPrice)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for _, it := range items {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("inserting order item %q/%q: %w", it.OrderID, it.ProductID, err)
		}
	}
	return nil
}

// GetItems returns the line items of an order ordered by product ID.
func (r *OrderRepository) GetItems(ctx context.Context, orderID string) ([]order.Item, error) {
	rows, err := r.pool.Query(ctx, getOrderItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting items for order %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, scanOrderItem)
}

// UpdateStatus advances the order's saga status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status order.Status) error {
	_, err := r.pool.Exec(ctx, updateOrderStatusSQL, orderID, string(status))
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", orderID, err)
	}
	return nil
}

// ListUnfinished returns orders that have not reached the complete status,
// oldest first.
func (r *OrderRepository) ListUnfinished(ctx context.Context, limit int) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listUnfinishedOrdersSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unfinished orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.BuyerID, &o.FarmerID, &o.TotalPrice, &o.DeliveryAddress,
		&o.PaymentReference, &o.Notes, &status, &o.Snapshot, &o.CreatedAt,
	)
	o.Status = order.Status(status)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(&it.OrderID, &it.ProductID, &it.Quantity, &it.PricePerUnit, &it.TotalPrice)
	return it, err
}
