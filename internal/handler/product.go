package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"go.uber.org/zap"
)

// ListProducts returns the full catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		h.lg.Error("Product list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "product list failed")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, p := range products {
				e.Obj(func(e *jx.Encoder) {
					e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
					e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
					e.Field("price", func(e *jx.Encoder) { e.Float64(p.Price.InexactFloat64()) })
					e.Field("unit", func(e *jx.Encoder) { e.Str(p.Unit) })
					e.Field("farmer_id", func(e *jx.Encoder) { e.Str(p.FarmerID) })
					e.Field("stock", func(e *jx.Encoder) { e.Int(p.Stock) })
				})
			}
		})
	})
}
