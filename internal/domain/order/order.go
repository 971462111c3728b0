package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no order matches the lookup.
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyExists is returned by Create when an order with the same
	// payment reference has already been inserted.
	ErrAlreadyExists = errors.New("order already exists for payment reference")
)

// Status tracks how far a checkout's writes have progressed. The status is a
// saga marker, not a fulfilment state: an order only becomes StatusComplete
// once its line items are written and the purchased cart entries retired.
type Status string

const (
	// StatusIncomplete means the order header exists but its line items have
	// not been written yet. Money has been captured, so incomplete orders
	// must be retried, never abandoned.
	StatusIncomplete Status = "incomplete"
	// StatusProcessing means the line items are written and only cart
	// retirement remains.
	StatusProcessing Status = "processing"
	// StatusComplete is the terminal success state.
	StatusComplete Status = "complete"
)

// Order is the durable record of one successful checkout. PaymentReference is
// unique: it is the idempotency key that prevents a retried checkout from
// inserting a second order.
type Order struct {
	ID               string
	BuyerID          string
	FarmerID         string
	TotalPrice       decimal.Decimal
	DeliveryAddress  string
	PaymentReference string
	Notes            string
	Status           Status
	// Snapshot is the serialized checkout snapshot the order was written
	// from. It lets a recovery run resume item insertion and cart
	// retirement after a crash.
	Snapshot  []byte
	CreatedAt time.Time
}

// Item is a single line of an order. TotalPrice = Quantity * PricePerUnit.
type Item struct {
	OrderID      string
	ProductID    string
	Quantity     int
	PricePerUnit decimal.Decimal
	TotalPrice   decimal.Decimal
}

// Repository defines persistence operations for orders and their line items.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	// FindByPaymentReference returns ErrNotFound when no order has been
	// created for the reference. Used as the saga idempotency lookup.
	FindByPaymentReference(ctx context.Context, ref string) (*Order, error)
	CreateItems(ctx context.Context, items []Item) error
	GetItems(ctx context.Context, orderID string) ([]Item, error)
	UpdateStatus(ctx context.Context, orderID string, status Status) error
	// ListUnfinished returns orders whose saga has not reached
	// StatusComplete, oldest first, for the recovery loop.
	ListUnfinished(ctx context.Context, limit int) ([]Order, error)
	Get(ctx context.Context, orderID string) (*Order, error)
}
