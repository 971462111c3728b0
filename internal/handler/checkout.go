package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/farmcart/farmcart/internal/domain/cart"
	"github.com/farmcart/farmcart/internal/domain/checkout"
	"github.com/farmcart/farmcart/internal/domain/order"
	"github.com/farmcart/farmcart/internal/domain/payment"
)

// Checkout takes an immutable snapshot of the requested items, runs the
// payment capture, and commits the resulting order. An empty product_ids
// list checks out the whole cart.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	store := h.buyerStore(w, r)
	if store == nil {
		return
	}

	var (
		productIDs      []string
		deliveryAddress string
		notes           string
	)
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		switch key {
		case "product_ids":
			return d.Arr(func(d *jx.Decoder) error {
				v, err := d.Str()
				productIDs = append(productIDs, v)
				return err
			})
		case "delivery_address":
			v, err := d.Str()
			deliveryAddress = v
			return err
		case "notes":
			v, err := d.Str()
			notes = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Settle pending remote writes so the snapshot is taken from a cart
	// the server agrees with.
	if err := store.Sync(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "cart sync interrupted")
		return
	}

	entries := selectEntries(store.Entries(), productIDs)
	snap, err := checkout.BuildSnapshot(
		entries, h.registry, store.DiscountCode(),
		r.Header.Get("X-Buyer-ID"), deliveryAddress, notes,
	)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.coordinator.Run(r.Context(), snap)
	if err != nil {
		h.respondCheckoutError(w, o, err)
		return
	}

	// Local cache converges back to the server's truth after retirement.
	if err := store.Load(r.Context()); err != nil {
		h.lg.Warn("Cart reload after checkout failed", zap.Error(err))
	}
	if len(store.Entries()) == 0 {
		store.RemoveDiscount()
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o, snap)
	})
}

// respondCheckoutError distinguishes payment failures (no money captured,
// user retries from scratch) from post-capture write failures (order exists,
// recovery retries automatically).
func (h *Handler) respondCheckoutError(w http.ResponseWriter, o *order.Order, err error) {
	var stageErr *checkout.StageError
	if !errors.As(err, &stageErr) {
		h.lg.Error("Checkout failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "checkout failed")
		return
	}

	if stageErr.Retryable() && o != nil {
		h.lg.Warn("Checkout partially committed, recovery will resume",
			zap.String("order_id", o.ID),
			zap.String("stage", string(stageErr.Stage)),
			zap.Error(stageErr.Err),
		)
		writeJSON(w, http.StatusAccepted, func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("order_id", func(e *jx.Encoder) { e.Str(o.ID) })
				e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
			})
		})
		return
	}

	h.lg.Info("Checkout payment failed",
		zap.String("stage", string(stageErr.Stage)),
		zap.Error(stageErr.Err),
	)
	writeError(w, http.StatusPaymentRequired, stageErr.Error())
}

// PaymentWebhook handles server-to-server payment confirmations. The body
// must carry a valid HMAC signature; unauthenticated confirmations are
// rejected regardless of content.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if !payment.VerifySignature(body, signature, h.webhookSecret) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var event struct {
		PaymentReference string `json:"payment_reference"`
		Status           string `json:"status"`
	}
	if err := json.Unmarshal(body, &event); err != nil || event.PaymentReference == "" {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	if payment.Status(event.Status) != payment.StatusCaptured {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	o, err := h.orders.FindByPaymentReference(r.Context(), event.PaymentReference)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			// The synchronous checkout path has not committed yet; it will
			// pick the confirmation up via the authoritative status fetch.
			w.WriteHeader(http.StatusAccepted)
			return
		}
		h.lg.Error("Webhook order lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	var snap checkout.Snapshot
	if err := json.Unmarshal(o.Snapshot, &snap); err != nil {
		h.lg.Error("Webhook cannot decode order snapshot", zap.String("order_id", o.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "snapshot decode failed")
		return
	}

	if _, err := h.coordinator.Commit(r.Context(), &snap, event.PaymentReference); err != nil {
		h.lg.Warn("Webhook-triggered commit failed, recovery will retry",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
	w.WriteHeader(http.StatusNoContent)
}

// selectEntries returns the entries matching the requested product IDs, or
// all entries when none are named.
func selectEntries(entries []cart.Entry, productIDs []string) []cart.Entry {
	if len(productIDs) == 0 {
		return entries
	}

	wanted := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = struct{}{}
	}

	subset := make([]cart.Entry, 0, len(productIDs))
	for _, e := range entries {
		if _, ok := wanted[e.ProductID]; ok {
			subset = append(subset, e)
		}
	}
	return subset
}

func encodeOrder(e *jx.Encoder, o *order.Order, snap *checkout.Snapshot) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("payment_reference", func(e *jx.Encoder) { e.Str(o.PaymentReference) })
		e.Field("subtotal", func(e *jx.Encoder) { e.Float64(snap.Subtotal.InexactFloat64()) })
		e.Field("discount_amount", func(e *jx.Encoder) { e.Float64(snap.DiscountAmount.InexactFloat64()) })
		e.Field("shipping", func(e *jx.Encoder) { e.Float64(snap.Shipping.InexactFloat64()) })
		e.Field("total", func(e *jx.Encoder) { e.Float64(o.TotalPrice.InexactFloat64()) })
	})
}
