// Package checkout converts a confirmed payment into a persisted order, its
// line items, and a retired set of cart entries. The three writes are not
// atomic in the store, so they are coordinated as a saga keyed by the payment
// reference.
package checkout

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/farmcart/farmcart/internal/domain/cart"
	"github.com/farmcart/farmcart/internal/domain/discount"
	"github.com/farmcart/farmcart/internal/domain/order"
)

// Sentinel errors for snapshot validation.
var (
	ErrEmptySnapshot  = errors.New("no items to check out")
	ErrMissingAddress = errors.New("delivery address required")
	ErrZeroTotal      = errors.New("snapshot total must be positive")
	ErrMixedFarmers   = errors.New("items from multiple farmers in one checkout")
)

// FreeShippingThreshold is the subtotal above which shipping is free.
var FreeShippingThreshold = decimal.NewFromInt(50)

// FixedShippingFee is charged when the subtotal does not qualify for free
// shipping.
var FixedShippingFee = decimal.RequireFromString("5.99")

// Snapshot is an immutable point-in-time copy of the items and totals being
// purchased in one checkout attempt. It is built once, before payment is
// initiated, and reused verbatim for the order write: later cart mutations
// never affect an in-flight checkout.
type Snapshot struct {
	Items           []cart.Entry    `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountCode    string          `json:"discount_code,omitempty"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	Shipping        decimal.Decimal `json:"shipping"`
	Total           decimal.Decimal `json:"total"`
	BuyerID         string          `json:"buyer_id"`
	FarmerID        string          `json:"farmer_id"`
	DeliveryAddress string          `json:"delivery_address"`
	Notes           string          `json:"notes,omitempty"`
}

// BuildSnapshot validates the items and computes the totals that will be
// charged and persisted.
//
// Pricing rule: shipping is free when the subtotal exceeds the threshold,
// otherwise the fixed fee applies; total = subtotal - discount + shipping.
// The discount is computed against the snapshot's own subtotal, so checking
// out a subset of a larger cart discounts only what is actually purchased.
func BuildSnapshot(
	items []cart.Entry,
	registry *discount.Registry,
	discountCode string,
	buyerID, deliveryAddress, notes string,
) (*Snapshot, error) {
	if len(items) == 0 {
		return nil, ErrEmptySnapshot
	}
	if deliveryAddress == "" {
		return nil, ErrMissingAddress
	}

	farmerID := items[0].FarmerID
	subtotal := decimal.Zero
	copied := make([]cart.Entry, len(items))
	for i, e := range items {
		if e.Quantity <= 0 {
			return nil, cart.ErrInvalidQuantity
		}
		if e.FarmerID != farmerID {
			return nil, ErrMixedFarmers
		}
		copied[i] = e
		subtotal = subtotal.Add(e.LineTotal())
	}

	discountAmount := decimal.Zero
	if discountCode != "" {
		amount, err := registry.Compute(discountCode, subtotal)
		if err != nil {
			return nil, err
		}
		discountAmount = amount
	}

	shipping := FixedShippingFee
	if subtotal.GreaterThan(FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	total := subtotal.Sub(discountAmount).Add(shipping).Round(2)
	if !total.IsPositive() {
		return nil, ErrZeroTotal
	}

	return &Snapshot{
		Items:           copied,
		Subtotal:        subtotal.Round(2),
		DiscountCode:    discountCode,
		DiscountAmount:  discountAmount,
		Shipping:        shipping,
		Total:           total,
		BuyerID:         buyerID,
		FarmerID:        farmerID,
		DeliveryAddress: deliveryAddress,
		Notes:           notes,
	}, nil
}

// ProductIDs returns the IDs of the snapshot's items.
func (s *Snapshot) ProductIDs() []string {
	ids := make([]string, len(s.Items))
	for i, e := range s.Items {
		ids[i] = e.ProductID
	}
	return ids
}

// OrderItems maps the snapshot's entries to order line items for orderID.
func (s *Snapshot) OrderItems(orderID string) []order.Item {
	items := make([]order.Item, len(s.Items))
	for i, e := range s.Items {
		items[i] = order.Item{
			OrderID:      orderID,
			ProductID:    e.ProductID,
			Quantity:     e.Quantity,
			PricePerUnit: e.UnitPrice,
			TotalPrice:   e.LineTotal().Round(2),
		}
	}
	return items
}
