package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/farmcart/farmcart/internal/domain/discount"
)

const (
	listActiveDiscountsSQL = `SELECT code, percentage, description
		FROM discounts WHERE active = TRUE ORDER BY code`

	upsertDiscountSQL = `INSERT INTO discounts (code, percentage, description, active)
		VALUES (UPPER($1), $2, $3, TRUE)
		ON CONFLICT (code)
		DO UPDATE SET percentage = EXCLUDED.percentage, description = EXCLUDED.description, active = TRUE`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// ListActive returns all active discount rules ordered by code.
func (r *DiscountRepository) ListActive(ctx context.Context) ([]discount.Rule, error) {
	rows, err := r.pool.Query(ctx, listActiveDiscountsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing active discounts: %w", err)
	}
	return pgx.CollectRows(rows, scanDiscountRule)
}

// Upsert writes one discount rule, reactivating it if it was disabled.
func (r *DiscountRepository) Upsert(ctx context.Context, rule discount.Rule) error {
	_, err := r.pool.Exec(ctx, upsertDiscountSQL, rule.Code, rule.Percentage, rule.Description)
	if err != nil {
		return fmt.Errorf("upserting discount %q: %w", rule.Code, err)
	}
	return nil
}

func scanDiscountRule(row pgx.CollectableRow) (discount.Rule, error) {
	var d discount.Rule
	err := row.Scan(&d.Code, &d.Percentage, &d.Description)
	return d, err
}
