package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// StatusCache keeps rendered views of orders that can no longer change.
type StatusCache interface {
	Get(ctx context.Context, orderID string) ([]byte, bool)
	Put(ctx context.Context, orderID string, view []byte)
}

type OrdersHandler struct {
	Coord *orders.Coordinator
	Cache StatusCache
	Log   *zap.Logger
}

type createOrderResp struct {
	Success bool   `json:"success"`
	OrderNo string `json:"orderNo"`
	OrderID string `json:"orderId"`
	Message string `json:"message"`
}

type successResp struct {
	Success bool `json:"success"`
}

type reasonReq struct {
	Reason string `json:"reason"`
}

type payReq struct {
	Method string `json:"method"`
}

type shipReq struct {
	TrackingNo string `json:"tracking_no"`
}

type returnReq struct {
	ItemIDs []string `json:"item_ids"`
	Reason  string   `json:"reason"`
}

type returnResp struct {
	Success      bool   `json:"success"`
	ReturnID     string `json:"returnId"`
	RefundAmount string `json:"refundAmount"`
}

type callbackResp struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId,omitempty"`
	Message string `json:"message"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/orders/{id}/pay", h.pay)
	r.Post("/orders/{id}/confirm", h.confirm)
	r.Post("/orders/{id}/ship", h.ship)
	r.Post("/orders/{id}/deliver", h.deliver)
	r.Post("/orders/{id}/confirm-delivery", h.confirmDelivery)
	r.Post("/orders/{id}/returns", h.applyReturn)
	r.Post("/returns/{id}/received", h.returnReceived)
	r.Get("/users/{id}/orders", h.listUserOrders)
	r.Post("/payments/callback", h.paymentCallback)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &orders.ValidationError{Field: "body", Reason: "invalid json"}
	}
	return nil
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "validation_failed", Message: "invalid json"})
		return
	}
	actor := actorFrom(r)
	if req.UserID == "" {
		req.UserID = actor.ID
	}
	if req.UserID != actor.ID && actor.Role == orders.RoleCustomer {
		writeError(w, h.Log, orders.ErrForbidden)
		return
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get("Idempotency-Key")
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Coord.CreateOrder(ctx, req)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResp{
		Success: true,
		OrderNo: o.OrderNo,
		OrderID: o.ID,
		Message: "order created, awaiting payment",
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := actorFrom(r)
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Cache != nil {
		if b, ok := h.Cache.Get(ctx, id); ok {
			var cached orders.Order
			if json.Unmarshal(b, &cached) == nil && actor.CanView(cached) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Cache", "hit")
				_, _ = w.Write(b)
				return
			}
		}
	}

	o, err := h.Coord.GetOrder(ctx, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if !actor.CanView(o) {
		writeError(w, h.Log, orders.ErrForbidden)
		return
	}
	if h.Cache != nil && orders.IsTerminalOrder(o.Status) {
		if b, err := json.Marshal(o); err == nil {
			h.Cache.Put(ctx, id, b)
		}
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listUserOrders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if !actorFrom(r).CanView(orders.Order{UserID: userID}) {
		writeError(w, h.Log, orders.ErrForbidden)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	list, err := h.Coord.ListUserOrders(ctx, userID, limit, offset)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req reasonReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.Coord.CancelOrder(ctx, chi.URLParam(r, "id"), actorFrom(r), req.Reason); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, successResp{Success: true})
}

func (h *OrdersHandler) pay(w http.ResponseWriter, r *http.Request) {
	var req payReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	params, err := h.Coord.InitiatePayment(ctx, chi.URLParam(r, "id"), actorFrom(r), req.Method)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, params)
}

func (h *OrdersHandler) confirm(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, func(ctx context.Context, id string, a orders.Actor) error {
		return h.Coord.ConfirmOrder(ctx, id, a)
	})
}

func (h *OrdersHandler) ship(w http.ResponseWriter, r *http.Request) {
	var req shipReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.step(w, r, func(ctx context.Context, id string, a orders.Actor) error {
		return h.Coord.ShipOrder(ctx, id, a, req.TrackingNo)
	})
}

func (h *OrdersHandler) deliver(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, func(ctx context.Context, id string, a orders.Actor) error {
		return h.Coord.MarkDelivered(ctx, id, a)
	})
}

func (h *OrdersHandler) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, func(ctx context.Context, id string, a orders.Actor) error {
		return h.Coord.ConfirmDelivery(ctx, id, a)
	})
}

func (h *OrdersHandler) step(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, orders.Actor) error) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := fn(ctx, chi.URLParam(r, "id"), actorFrom(r)); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, successResp{Success: true})
}

func (h *OrdersHandler) applyReturn(w http.ResponseWriter, r *http.Request) {
	var req returnReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	res, err := h.Coord.ApplyReturn(ctx, chi.URLParam(r, "id"), actorFrom(r), req.ItemIDs, req.Reason)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, returnResp{Success: true, ReturnID: res.ReturnID, RefundAmount: res.RefundAmount.StringFixed(2)})
}

func (h *OrdersHandler) returnReceived(w http.ResponseWriter, r *http.Request) {
	if a := actorFrom(r); a.Role != orders.RoleMerchant && a.Role != orders.RoleAdmin {
		writeError(w, h.Log, orders.ErrForbidden)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.Coord.ReceiveReturn(ctx, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, successResp{Success: true})
}

// paymentCallback is safe for the gateway to retry: a replay answers 200.
func (h *OrdersHandler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "validation_failed", Message: "unreadable body"})
		return
	}
	var cb orders.PaymentCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "validation_failed", Message: "invalid json"})
		return
	}
	cb.Raw = raw

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	res, err := h.Coord.HandlePaymentCallback(ctx, cb)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, callbackResp{Success: true, OrderID: res.OrderID, Message: res.Message})
}
