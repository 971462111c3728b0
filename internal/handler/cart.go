package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/farmcart/farmcart/internal/domain/cart"
	"github.com/farmcart/farmcart/internal/domain/discount"
	"github.com/farmcart/farmcart/internal/domain/product"
)

// GetCart returns the buyer's current cart with derived totals.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	store := h.buyerStore(w, r)
	if store == nil {
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeCart(e, store)
	})
}

// AddCartItem adds a product to the cart, snapshotting its catalog price.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	store := h.buyerStore(w, r)
	if store == nil {
		return
	}

	var (
		productID string
		quantity  int
	)
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		switch key {
		case "product_id":
			v, err := d.Str()
			productID = v
			return err
		case "quantity":
			v, err := d.Int()
			quantity = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.products.GetByID(r.Context(), productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			writeError(w, http.StatusUnprocessableEntity, "product "+productID+" not found")
			return
		}
		h.lg.Error("Product lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "product lookup failed")
		return
	}

	if err := store.AddItem(*p, quantity); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeCart(e, store)
	})
}

// UpdateCartItem sets an entry's quantity; zero or less removes the entry.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	store := h.buyerStore(w, r)
	if store == nil {
		return
	}
	productID := r.PathValue("productID")

	quantity := 0
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key == "quantity" {
			v, err := d.Int()
			quantity = v
			return err
		}
		return d.Skip()
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := store.UpdateQuantity(productID, quantity); err != nil {
		if errors.Is(err, cart.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, "cart entry not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeCart(e, store)
	})
}

// RemoveCartItem deletes one entry from the cart.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	store := h.buyerStore(w, r)
	if store == nil {
		return
	}

	store.RemoveItem(r.PathValue("productID"))
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeCart(e, store)
	})
}

// ClearCart empties the buyer's cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	store := h.buyerStore(w, r)
	if store == nil {
		return
	}

	store.ClearCart()
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeCart(e, store)
	})
}

// ApplyDiscount validates and applies a discount code to the cart.
func (h *Handler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	store := h.buyerStore(w, r)
	if store == nil {
		return
	}

	code := ""
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key == "code" {
			v, err := d.Str()
			code = v
			return err
		}
		return d.Skip()
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := store.ApplyDiscount(code); err != nil {
		if errors.Is(err, discount.ErrUnknownCode) {
			writeError(w, http.StatusUnprocessableEntity, "unknown discount code")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeCart(e, store)
	})
}

// RemoveDiscount clears the applied discount code.
func (h *Handler) RemoveDiscount(w http.ResponseWriter, r *http.Request) {
	store := h.buyerStore(w, r)
	if store == nil {
		return
	}

	store.RemoveDiscount()
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeCart(e, store)
	})
}

// encodeCart writes the cart body: entries plus derived totals. Totals are
// always computed from the live cache, never stored.
func encodeCart(e *jx.Encoder, store *cart.Store) {
	entries := store.Entries()
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, entry := range entries {
					encodeEntry(e, entry)
				}
			})
		})
		e.Field("total_items", func(e *jx.Encoder) { e.Int(store.TotalItems()) })
		e.Field("subtotal", func(e *jx.Encoder) { e.Float64(store.Subtotal().InexactFloat64()) })
		if code := store.DiscountCode(); code != "" {
			e.Field("discount_code", func(e *jx.Encoder) { e.Str(code) })
			e.Field("discount_amount", func(e *jx.Encoder) { e.Float64(store.DiscountAmount().InexactFloat64()) })
		}
	})
}

func encodeEntry(e *jx.Encoder, entry cart.Entry) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("product_id", func(e *jx.Encoder) { e.Str(entry.ProductID) })
		e.Field("product_name", func(e *jx.Encoder) { e.Str(entry.ProductName) })
		e.Field("farmer_id", func(e *jx.Encoder) { e.Str(entry.FarmerID) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(entry.Quantity) })
		e.Field("unit_price", func(e *jx.Encoder) { e.Float64(entry.UnitPrice.InexactFloat64()) })
		e.Field("line_total", func(e *jx.Encoder) { e.Float64(entry.LineTotal().InexactFloat64()) })
	})
}
