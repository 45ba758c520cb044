package orders

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
)

type OrderStore interface {
	// Insert fails with ErrDuplicateOrderNo or ErrDuplicateRequest on the unique keys.
	Insert(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	GetByOrderNo(ctx context.Context, orderNo string) (Order, error)
	GetByRequestID(ctx context.Context, requestID string) (Order, error)
	// Update stores o only if the row still has expectedVersion, else ErrVersionConflict.
	Update(ctx context.Context, o Order, expectedVersion int) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error)
	// ListOverdue returns orders in status whose payment deadline is before t.
	ListOverdue(ctx context.Context, status OrderStatus, before time.Time, limit int) ([]Order, error)
}

type PaymentStore interface {
	// Insert fails with ErrDuplicateTxn when the external transaction id is taken.
	Insert(ctx context.Context, p PaymentRecord) error
	GetByExternalID(ctx context.Context, txnID string) (PaymentRecord, error)
	// ClaimPending binds txnID to the newest PENDING attempt of the order and
	// moves it to PROCESSING. ok=false when there is no such attempt.
	ClaimPending(ctx context.Context, orderID, txnID string, at time.Time) (PaymentRecord, bool, error)
	Update(ctx context.Context, p PaymentRecord) error
	ListByOrder(ctx context.Context, orderID string) ([]PaymentRecord, error)
}

type ReturnStore interface {
	Insert(ctx context.Context, r ReturnRequest) error
	Get(ctx context.Context, id string) (ReturnRequest, error)
	Transition(ctx context.Context, id string, from, to ReturnStatus, at time.Time) (bool, error)
	// MarkRestocked adds (done) or removes an item from the return's restocked
	// set. It reports false when the item was already in the requested state.
	MarkRestocked(ctx context.Context, id, itemID string, done bool) (bool, error)
	// OpenForOrder returns the REQUESTED or RECEIVED return of the order, or ErrReturnNotFound.
	OpenForOrder(ctx context.Context, orderID string) (ReturnRequest, error)
}

// Catalog is the product catalog's price lookup.
type Catalog interface {
	UnitPrice(ctx context.Context, productID string) (decimal.Decimal, error)
}

type PaymentParams struct {
	OrderNo    string            `json:"order_no"`
	Amount     decimal.Decimal   `json:"amount"`
	Method     string            `json:"method"`
	PaymentURL string            `json:"payment_url,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

// Gateway is the outbound payment provider. The coordinator never retries it.
type Gateway interface {
	InitiatePayment(ctx context.Context, orderNo string, amount decimal.Decimal, method string) (PaymentParams, error)
}

// Reservations is the slice of inventory.Manager the coordinator relies on.
type Reservations interface {
	Reserve(ctx context.Context, productID string, qty int, holderID string, ttl time.Duration) (inventory.Reservation, error)
	Confirm(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (inventory.Reservation, error)
	Restock(ctx context.Context, productID string, qty int) error
}

// Events is fire-and-forget: implementations must not block or fail the caller.
type Events interface {
	StatusChanged(ctx context.Context, ev StatusChangedPayload)
	RefundRequested(ctx context.Context, ev RefundRequestedPayload)
	ReviewRequired(ctx context.Context, ev ReviewRequiredPayload)
}

// CallbackCache is a fast path in front of the payments table for replayed callbacks.
type CallbackCache interface {
	Lookup(ctx context.Context, txnID string) (orderID string, ok bool)
	Remember(ctx context.Context, txnID, orderID string)
}

type nopEvents struct{}

func (nopEvents) StatusChanged(context.Context, StatusChangedPayload)     {}
func (nopEvents) RefundRequested(context.Context, RefundRequestedPayload) {}
func (nopEvents) ReviewRequired(context.Context, ReviewRequiredPayload)   {}

type nopCache struct{}

func (nopCache) Lookup(context.Context, string) (string, bool) { return "", false }
func (nopCache) Remember(context.Context, string, string)      {}
