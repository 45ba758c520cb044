package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderStatusChanged = "OrderStatusChanged"
	EventRefundRequested    = "RefundRequested"
	EventReviewRequired     = "PaymentReviewRequired"
	EventStockLow           = "StockLow"
	EventStockAvailable     = "StockAvailable"
	EventReturnReceived     = "ReturnReceived"
	EventRefundResult       = "RefundResult"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the constants above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- outbound payloads ----

type StatusChangedPayload struct {
	OrderID       string        `json:"order_id"`
	OrderNo       string        `json:"order_no"`
	UserID        string        `json:"user_id"`
	From          OrderStatus   `json:"from,omitempty"`
	To            OrderStatus   `json:"to"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Actor         string        `json:"actor"`
	Reason        string        `json:"reason,omitempty"`
	At            time.Time     `json:"at"`
}

type RefundRequestedPayload struct {
	OrderID      string          `json:"order_id"`
	OrderNo      string          `json:"order_no"`
	ReturnID     string          `json:"return_id,omitempty"`
	PaymentTxnID string          `json:"payment_txn_id"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       string          `json:"reason"`
}

type ReviewRequiredPayload struct {
	OrderID   string `json:"order_id,omitempty"`
	OrderNo   string `json:"order_no"`
	PaymentID string `json:"payment_id,omitempty"`
	TxnID     string `json:"txn_id"`
	Reason    string `json:"reason"`
}

// ---- inbound payloads ----

type ReturnReceivedPayload struct {
	ReturnID string `json:"return_id"`
}

// RefundResult is the payment collaborator's answer to a RefundRequested event.
type RefundResult struct {
	OrderID  string `json:"order_id"`
	Approved bool   `json:"approved"`
	RefundID string `json:"refund_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}
