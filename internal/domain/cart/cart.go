// Package cart holds a buyer's pending selections and keeps them
// synchronized with the remote cart record.
package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for cart validation.
var (
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	ErrEntryNotFound   = errors.New("cart entry not found")
)

// Entry represents one buyer-selected product line. UnitPrice is a snapshot
// of the catalog price taken when the entry was first added.
type Entry struct {
	ProductID   string          `json:"product_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ProductName string          `json:"product_name"`
	FarmerID    string          `json:"farmer_id"`
}

// LineTotal returns quantity * unit price.
func (e Entry) LineTotal() decimal.Decimal {
	return e.UnitPrice.Mul(decimal.NewFromInt(int64(e.Quantity)))
}

// Repository defines persistence operations for one buyer's cart record.
type Repository interface {
	GetItems(ctx context.Context, buyerID string) ([]Entry, error)
	UpsertItem(ctx context.Context, buyerID string, entry Entry) error
	RemoveItem(ctx context.Context, buyerID, productID string) error
	UpdateQuantity(ctx context.Context, buyerID, productID string, quantity int) error
	Clear(ctx context.Context, buyerID string) error
	ClearItems(ctx context.Context, buyerID string, productIDs []string) error
}
