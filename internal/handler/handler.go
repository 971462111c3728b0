// Package handler exposes the checkout pipeline over HTTP. Buyer identity
// comes from the X-Buyer-ID header; session and authentication management
// live outside this service.
package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/farmcart/farmcart/internal/domain/cart"
	"github.com/farmcart/farmcart/internal/domain/checkout"
	"github.com/farmcart/farmcart/internal/domain/discount"
	"github.com/farmcart/farmcart/internal/domain/order"
	"github.com/farmcart/farmcart/internal/domain/product"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// WebhookSecret authenticates payment confirmations delivered
	// server-to-server.
	WebhookSecret string
}

// Handler routes HTTP requests to the cart store, checkout coordinator, and
// read repositories.
type Handler struct {
	sessions    *cart.Sessions
	products    product.Repository
	orders      order.Repository
	registry    *discount.Registry
	coordinator *checkout.Coordinator

	webhookSecret string
	lg            *zap.Logger
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	sessions *cart.Sessions,
	products product.Repository,
	orders order.Repository,
	registry *discount.Registry,
	coordinator *checkout.Coordinator,
	lg *zap.Logger,
) *Handler {
	return &Handler{
		sessions:      sessions,
		products:      products,
		orders:        orders,
		registry:      registry,
		coordinator:   coordinator,
		webhookSecret: cfg.WebhookSecret,
		lg:            lg,
	}
}

// Register mounts all API routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/cart", h.GetCart)
	mux.HandleFunc("POST /api/cart/items", h.AddCartItem)
	mux.HandleFunc("PATCH /api/cart/items/{productID}", h.UpdateCartItem)
	mux.HandleFunc("DELETE /api/cart/items/{productID}", h.RemoveCartItem)
	mux.HandleFunc("DELETE /api/cart", h.ClearCart)
	mux.HandleFunc("POST /api/cart/discount", h.ApplyDiscount)
	mux.HandleFunc("DELETE /api/cart/discount", h.RemoveDiscount)
	mux.HandleFunc("POST /api/checkout", h.Checkout)
	mux.HandleFunc("POST /api/payment/webhook", h.PaymentWebhook)
	mux.HandleFunc("GET /api/orders/{orderID}", h.GetOrder)
}

// buyerStore resolves the caller's cart store from the X-Buyer-ID header.
// A missing header is reported as 401 and a nil store is returned.
func (h *Handler) buyerStore(w http.ResponseWriter, r *http.Request) *cart.Store {
	buyerID := r.Header.Get("X-Buyer-ID")
	if buyerID == "" {
		writeError(w, http.StatusUnauthorized, "X-Buyer-ID header required")
		return nil
	}

	store, err := h.sessions.Get(r.Context(), buyerID)
	if err != nil {
		h.lg.Error("Failed to load cart session", zap.String("buyer_id", buyerID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load cart")
		return nil
	}
	return store
}
