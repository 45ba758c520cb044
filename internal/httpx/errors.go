package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/orders"
)

type errorResp struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	ProductID string `json:"productId,omitempty"`
	Available *int   `json:"available,omitempty"`
	Requested *int   `json:"requested,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto status codes. Anything unrecognised is a
// 500 and its detail stays in the log.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var (
		insufficient *inventory.InsufficientStockError
		transition   *orders.InvalidStateTransitionError
		terminal     *inventory.ReservationTerminalError
		resNotFound  *inventory.ReservationNotFoundError
		mismatch     *orders.PaymentAmountMismatchError
		concurrent   *orders.ConcurrentModificationError
	)
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, errorResp{
			Error:     "insufficient_stock",
			Message:   err.Error(),
			ProductID: insufficient.ProductID,
			Available: &insufficient.Available,
			Requested: &insufficient.Requested,
		})
	case errors.Is(err, orders.ErrValidation), errors.Is(err, inventory.ErrInvalidQuantity):
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "validation_failed", Message: err.Error()})
	case errors.As(err, &concurrent):
		writeJSON(w, http.StatusConflict, errorResp{Error: "concurrent_modification", Message: "order was modified concurrently, please try again"})
	case errors.As(err, &transition):
		writeJSON(w, http.StatusConflict, errorResp{Error: "invalid_state_transition", Message: err.Error()})
	case errors.As(err, &terminal):
		writeJSON(w, http.StatusConflict, errorResp{Error: "reservation_terminal", Message: err.Error()})
	case errors.Is(err, orders.ErrPaymentDeadline):
		writeJSON(w, http.StatusConflict, errorResp{Error: "payment_deadline_passed", Message: err.Error()})
	case errors.As(err, &mismatch):
		writeJSON(w, http.StatusUnprocessableEntity, errorResp{Error: "payment_amount_mismatch", Message: err.Error()})
	case errors.Is(err, orders.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResp{Error: "forbidden", Message: err.Error()})
	case errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, orders.ErrReturnNotFound),
		errors.Is(err, orders.ErrPaymentNotFound),
		errors.Is(err, inventory.ErrProductNotFound),
		errors.As(err, &resNotFound):
		writeJSON(w, http.StatusNotFound, errorResp{Error: "not_found", Message: err.Error()})
	default:
		log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "internal", Message: "internal error"})
	}
}
