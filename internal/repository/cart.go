package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/farmcart/farmcart/internal/domain/cart"
)

const (
	getCartItemsSQL = `SELECT product_id, quantity, unit_price, product_name, farmer_id
		FROM cart_items WHERE buyer_id = $1 ORDER BY product_id`

	upsertCartItemSQL = `INSERT INTO cart_items (buyer_id, product_id, quantity, unit_price, product_name, farmer_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (buyer_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = now()`

	removeCartItemSQL = `DELETE FROM cart_items WHERE buyer_id = $1 AND product_id = $2`

	updateCartQuantitySQL = `UPDATE cart_items SET quantity = $3, updated_at = now()
		WHERE buyer_id = $1 AND product_id = $2`

	clearCartSQL = `DELETE FROM cart_items WHERE buyer_id = $1`

	clearCartItemsSQL = `DELETE FROM cart_items WHERE buyer_id = $1 AND product_id = ANY($2)`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. One row per
// (buyer, product); the upsert keeps the uniqueness invariant without a
// read-modify-write round trip.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// GetItems returns the buyer's cart entries ordered by product ID.
func (r *CartRepository) GetItems(ctx context.Context, buyerID string) ([]cart.Entry, error) {
	rows, err := r.pool.Query(ctx, getCartItemsSQL, buyerID)
	if err != nil {
		return nil, fmt.Errorf("getting cart items for %q: %w", buyerID, err)
	}
	return pgx.CollectRows(rows, scanCartEntry)
}

// UpsertItem writes the entry, replacing the stored quantity. The local
// store has already merged quantities, so the write carries the final value.
func (r *CartRepository) UpsertItem(ctx context.Context, buyerID string, entry cart.Entry) error {
	_, err := r.pool.Exec(ctx, upsertCartItemSQL,
		buyerID, entry.ProductID, entry.Quantity, entry.UnitPrice, entry.ProductName, entry.FarmerID,
	)
	if err != nil {
		return fmt.Errorf("upserting cart item %q for %q: %w", entry.ProductID, buyerID, err)
	}
	return nil
}

// RemoveItem deletes one entry. Deleting an absent entry is a no-op.
func (r *CartRepository) RemoveItem(ctx context.Context, buyerID, productID string) error {
	_, err := r.pool.Exec(ctx, removeCartItemSQL, buyerID, productID)
	if err != nil {
		return fmt.Errorf("removing cart item %q for %q: %w", productID, buyerID, err)
	}
	return nil
}

// UpdateQuantity sets the stored quantity of one entry.
func (r *CartRepository) UpdateQuantity(ctx context.Context, buyerID, productID string, quantity int) error {
	_, err := r.pool.Exec(ctx, updateCartQuantitySQL, buyerID, productID, quantity)
	if err != nil {
		return fmt.Errorf("updating quantity of cart item %q for %q: %w", productID, buyerID, err)
	}
	return nil
}

// Clear deletes the buyer's entire cart record.
func (r *CartRepository) Clear(ctx context.Context, buyerID string) error {
	_, err := r.pool.Exec(ctx, clearCartSQL, buyerID)
	if err != nil {
		return fmt.Errorf("clearing cart for %q: %w", buyerID, err)
	}
	return nil
}

// ClearItems deletes only the given products from the buyer's cart.
func (r *CartRepository) ClearItems(ctx context.Context, buyerID string, productIDs []string) error {
	_, err := r.pool.Exec(ctx, clearCartItemsSQL, buyerID, productIDs)
	if err != nil {
		return fmt.Errorf("clearing %d cart items for %q: %w", len(productIDs), buyerID, err)
	}
	return nil
}

func scanCartEntry(row pgx.CollectableRow) (cart.Entry, error) {
	var e cart.Entry
	err := row.Scan(&e.ProductID, &e.Quantity, &e.UnitPrice, &e.ProductName, &e.FarmerID)
	return e, err
}
