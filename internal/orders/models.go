package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/storefront-orders/internal/audit"
)

type OrderItem struct {
	ItemID    string          `json:"item_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type Order struct {
	ID             string          `json:"order_id"`
	OrderNo        string          `json:"order_no"`
	RequestID      string          `json:"request_id,omitempty"`
	UserID         string          `json:"user_id"`
	Items          []OrderItem     `json:"items"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	ShippingFee    decimal.Decimal `json:"shipping_fee"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	ActualAmount   decimal.Decimal `json:"actual_amount"`
	Status         OrderStatus     `json:"status"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	ReservationIDs []string        `json:"reservation_ids"`
	// PaymentTxnID is the gateway transaction that paid the order.
	PaymentTxnID    string     `json:"payment_txn_id,omitempty"`
	PaymentDeadline time.Time  `json:"payment_deadline"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	ShippedAt       *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time `json:"delivered_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	RefundingAt     *time.Time `json:"refunding_at,omitempty"`
	RefundedAt      *time.Time `json:"refunded_at,omitempty"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	TrackingNo      string     `json:"tracking_no,omitempty"`
	// Version guards every update; see Coordinator.updateOrder.
	Version int `json:"version"`
	audit.Meta
}

// Item returns the line with the given id.
func (o Order) Item(itemID string) (OrderItem, bool) {
	for _, it := range o.Items {
		if it.ItemID == itemID {
			return it, true
		}
	}
	return OrderItem{}, false
}

// stamp moves the order to status and records when each stage was reached.
func (o *Order) stamp(to OrderStatus, at time.Time) {
	o.Status = to
	t := at
	switch to {
	case StatusPaid:
		o.PaidAt = &t
	case StatusConfirmed:
		o.ConfirmedAt = &t
	case StatusShipped:
		o.ShippedAt = &t
	case StatusDelivered:
		o.DeliveredAt = &t
	case StatusCompleted:
		o.CompletedAt = &t
	case StatusCancelled:
		o.CancelledAt = &t
	case StatusRefunding:
		o.RefundingAt = &t
	case StatusRefunded:
		o.RefundedAt = &t
	}
	o.Touch(at)
}

type PaymentRecord struct {
	PaymentID             string          `json:"payment_id"`
	OrderID               string          `json:"order_id"`
	ExternalTransactionID string          `json:"external_transaction_id,omitempty"`
	Method                string          `json:"method"`
	Amount                decimal.Decimal `json:"amount"`
	Status                PaymentStatus   `json:"status"`
	RawCallbackPayload    json.RawMessage `json:"raw_callback_payload,omitempty"`
	// ReviewReason is set when the record needs a human to look at it.
	ReviewReason string `json:"review_reason,omitempty"`
	audit.Meta
}

// settled reports whether a callback for this record already produced its
// outcome. A record parked for review counts as settled.
func (p PaymentRecord) settled() bool {
	if p.ReviewReason != "" {
		return true
	}
	return p.Status != PaymentPending && p.Status != PaymentProcessing
}

type ReturnStatus string

const (
	ReturnRequested ReturnStatus = "REQUESTED"
	ReturnReceived  ReturnStatus = "RECEIVED"
	ReturnRejected  ReturnStatus = "REJECTED"
	ReturnCancelled ReturnStatus = "CANCELLED"
)

type ReturnRequest struct {
	ReturnID     string          `json:"return_id"`
	OrderID      string          `json:"order_id"`
	ItemIDs      []string        `json:"item_ids"`
	Reason       string          `json:"reason"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	Status       ReturnStatus    `json:"status"`
	ReceivedAt   *time.Time      `json:"received_at,omitempty"`
	// Restocked lists the items whose units are already back in stock.
	Restocked []string `json:"restocked_item_ids,omitempty"`
	audit.Meta
}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleMerchant Role = "merchant"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// Actor is whoever asks for a transition.
type Actor struct {
	ID   string
	Role Role
}

var SystemActor = Actor{ID: "system", Role: RoleSystem}

func (a Actor) staff() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

// owns reports whether a may act as the buyer of o.
func (a Actor) owns(o Order) bool {
	return a.staff() || (a.ID != "" && a.ID == o.UserID)
}

// fulfils reports whether a may drive the merchant side of an order.
func (a Actor) fulfils() bool {
	return a.staff() || a.Role == RoleMerchant
}

// CanView reports whether the actor may read the order.
func (a Actor) CanView(o Order) bool {
	return a.owns(o) || a.fulfils()
}
