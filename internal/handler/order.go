package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/farmcart/farmcart/internal/domain/order"
)

// GetOrder returns an order header with its line items. This is the read
// surface downstream consumers (invoicing) use once a checkout completes.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderID")

	o, err := h.orders.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.lg.Error("Order lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "order lookup failed")
		return
	}

	items, err := h.orders.GetItems(r.Context(), orderID)
	if err != nil {
		h.lg.Error("Order items lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "order lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
			e.Field("buyer_id", func(e *jx.Encoder) { e.Str(o.BuyerID) })
			e.Field("farmer_id", func(e *jx.Encoder) { e.Str(o.FarmerID) })
			e.Field("total_price", func(e *jx.Encoder) { e.Float64(o.TotalPrice.InexactFloat64()) })
			e.Field("delivery_address", func(e *jx.Encoder) { e.Str(o.DeliveryAddress) })
			e.Field("payment_reference", func(e *jx.Encoder) { e.Str(o.PaymentReference) })
			e.Field("notes", func(e *jx.Encoder) { e.Str(o.Notes) })
			e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
			e.Field("items", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, it := range items {
						e.Obj(func(e *jx.Encoder) {
							e.Field("product_id", func(e *jx.Encoder) { e.Str(it.ProductID) })
							e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
							e.Field("price_per_unit", func(e *jx.Encoder) { e.Float64(it.PricePerUnit.InexactFloat64()) })
							e.Field("total_price", func(e *jx.Encoder) { e.Float64(it.TotalPrice.InexactFloat64()) })
						})
					}
				})
			})
		})
	})
}
