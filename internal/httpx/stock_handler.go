package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// Products is the catalog's write side.
type Products interface {
	UpsertProduct(ctx context.Context, productID, name string, price decimal.Decimal) error
}

type StockHandler struct {
	Ledger   *inventory.Ledger
	Products Products
	Log      *zap.Logger
}

// putStockReq seeds a product on first use; Add restocks it.
type putStockReq struct {
	Name              string           `json:"name"`
	UnitPrice         *decimal.Decimal `json:"unit_price,omitempty"`
	Total             int              `json:"total"`
	LowStockThreshold int              `json:"low_stock_threshold"`
	Add               int              `json:"add"`
}

type putStockResp struct {
	Created bool                  `json:"created"`
	Stock   inventory.StockRecord `json:"stock"`
}

func (h *StockHandler) Register(r chi.Router) {
	r.Get("/stock/{productId}", h.get)
	r.Put("/stock/{productId}", h.put)
}

func (h *StockHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	rec, err := h.Ledger.Get(ctx, chi.URLParam(r, "productId"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *StockHandler) put(w http.ResponseWriter, r *http.Request) {
	if a := actorFrom(r); a.Role != orders.RoleMerchant && a.Role != orders.RoleAdmin {
		writeError(w, h.Log, orders.ErrForbidden)
		return
	}
	var req putStockReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	productID := chi.URLParam(r, "productId")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if req.UnitPrice != nil {
		if req.UnitPrice.IsNegative() {
			writeError(w, h.Log, &orders.ValidationError{Field: "unit_price", Reason: "must not be negative"})
			return
		}
		if err := h.Products.UpsertProduct(ctx, productID, req.Name, *req.UnitPrice); err != nil {
			writeError(w, h.Log, err)
			return
		}
	}

	rec, created, err := h.Ledger.Seed(ctx, productID, req.Total, req.LowStockThreshold)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if req.Add > 0 {
		if rec, err = h.Ledger.Increase(ctx, productID, req.Add); err != nil {
			writeError(w, h.Log, err)
			return
		}
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, putStockResp{Created: created, Stock: rec})
}
