package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/audit"
	"github.com/ariefcatur/storefront-orders/internal/inventory"
)

// PaymentCallback is the gateway's asynchronous notification. Gateways retry
// these, so the same ExternalTransactionID may arrive many times.
type PaymentCallback struct {
	OrderNo               string          `json:"order_no"`
	ExternalTransactionID string          `json:"external_transaction_id"`
	Amount                decimal.Decimal `json:"amount"`
	Status                PaymentStatus   `json:"status"` // SUCCESS or FAILED
	Method                string          `json:"method,omitempty"`
	Raw                   json.RawMessage `json:"-"`
}

type CallbackResult struct {
	OrderID   string
	Status    PaymentStatus
	Duplicate bool
	Message   string
}

var errAlreadyApplied = errors.New("payment already applied")

// HandlePaymentCallback applies a gateway callback exactly once per external
// transaction id. Replays return Duplicate without side effects.
func (c *Coordinator) HandlePaymentCallback(ctx context.Context, cb PaymentCallback) (_ CallbackResult, err error) {
	ctx, span := c.span(ctx, "orders.HandlePaymentCallback",
		attribute.String("order_no", cb.OrderNo), attribute.String("txn_id", cb.ExternalTransactionID))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(cb.ExternalTransactionID) == "" {
		return CallbackResult{}, &ValidationError{Field: "externalTransactionId", Reason: "is required"}
	}
	if strings.TrimSpace(cb.OrderNo) == "" {
		return CallbackResult{}, &ValidationError{Field: "orderNo", Reason: "is required"}
	}
	if cb.Status != PaymentSuccess && cb.Status != PaymentFailed {
		return CallbackResult{}, &ValidationError{Field: "status", Reason: "must be SUCCESS or FAILED"}
	}
	txn := cb.ExternalTransactionID

	if orderID, ok := c.cache.Lookup(ctx, txn); ok {
		c.metrics.Callback("duplicate")
		return CallbackResult{OrderID: orderID, Duplicate: true, Message: "already processed"}, nil
	}

	p, err := c.payments.GetByExternalID(ctx, txn)
	switch {
	case err == nil:
		if p.settled() {
			return c.duplicate(ctx, p), nil
		}
	case errors.Is(err, ErrPaymentNotFound):
	default:
		return CallbackResult{}, fmt.Errorf("lookup payment %s: %w", txn, err)
	}

	order, err := c.orders.GetByOrderNo(ctx, cb.OrderNo)
	if err != nil {
		return CallbackResult{}, err
	}
	if p.PaymentID == "" {
		p, err = c.claimAttempt(ctx, order, cb)
		if err != nil {
			return CallbackResult{}, err
		}
		if p.settled() {
			return c.duplicate(ctx, p), nil
		}
	}
	if p.OrderID != order.ID {
		return CallbackResult{}, &ValidationError{Field: "orderNo", Reason: "does not match the transaction's order"}
	}
	p.RawCallbackPayload = cb.Raw
	p.Amount = cb.Amount
	if cb.Method != "" {
		p.Method = cb.Method
	}

	if order.PaymentTxnID == txn {
		return c.finishReplay(ctx, p, order)
	}

	if cb.Status == PaymentFailed {
		if p.Status, err = ApplyPayment(p.Status, PaymentFailed); err != nil {
			return CallbackResult{}, err
		}
		if err := c.savePayment(ctx, p); err != nil {
			return CallbackResult{}, err
		}
		c.cache.Remember(ctx, txn, order.ID)
		c.metrics.Callback("failed")
		c.log.Info("payment failed", zap.String("order_id", order.ID), zap.String("txn_id", txn))
		return CallbackResult{OrderID: order.ID, Status: PaymentFailed, Message: "payment failed"}, nil
	}

	if !cb.Amount.Equal(order.ActualAmount) {
		mismatch := &PaymentAmountMismatchError{OrderNo: order.OrderNo, Expected: order.ActualAmount, Actual: cb.Amount}
		c.flag(ctx, p, order, mismatch.Error())
		return CallbackResult{}, mismatch
	}
	if _, err := ApplyOrder(order.Status, StatusPaid); err != nil {
		c.flag(ctx, p, order, "paid while order is "+string(order.Status))
		return CallbackResult{}, err
	}

	holds, err := c.liveHolds(ctx, order)
	if err != nil {
		var terminal *inventory.ReservationTerminalError
		if errors.As(err, &terminal) {
			c.flag(ctx, p, order, "stock confirmation failed: "+terminal.Error())
		}
		return CallbackResult{}, err
	}

	prev, paid, err := c.updateOrder(ctx, order.ID, func(o *Order) (bool, error) {
		if o.PaymentTxnID == txn {
			return false, errAlreadyApplied
		}
		if err := c.move(o, StatusPaid, PaymentSuccess); err != nil {
			return false, err
		}
		o.PaymentTxnID = txn
		return true, nil
	})
	switch {
	case errors.Is(err, errAlreadyApplied):
		return c.finishReplay(ctx, p, prev)
	case err != nil:
		var transition *InvalidStateTransitionError
		if errors.As(err, &transition) {
			c.flag(ctx, p, prev, "paid while order is "+string(prev.Status))
		}
		return CallbackResult{}, err
	}

	if p.Status, err = ApplyPayment(p.Status, PaymentSuccess); err != nil {
		return CallbackResult{}, err
	}
	if err := c.savePayment(ctx, p); err != nil {
		c.log.Error("order paid but payment record not updated",
			zap.String("order_id", paid.ID), zap.String("txn_id", txn), zap.Error(err))
	}
	c.cache.Remember(ctx, txn, paid.ID)
	c.changed(ctx, prev.Status, paid, SystemActor, "payment "+txn)

	if err := c.confirmHolds(ctx, holds); err != nil {
		c.refundUnfulfillable(ctx, paid, p, holds, err)
		c.metrics.Callback("refunding")
		return CallbackResult{}, fmt.Errorf("confirm stock for order %s: %w", paid.OrderNo, err)
	}

	c.metrics.Callback("success")
	c.log.Info("order paid",
		zap.String("order_id", paid.ID), zap.String("order_no", paid.OrderNo), zap.String("txn_id", txn))
	return CallbackResult{OrderID: paid.ID, Status: PaymentSuccess, Message: "payment accepted"}, nil
}

// claimAttempt binds txn to the order's pending attempt or opens a new one.
// The unique key on the transaction id decides concurrent first deliveries.
func (c *Coordinator) claimAttempt(ctx context.Context, order Order, cb PaymentCallback) (PaymentRecord, error) {
	now := c.now()
	p, ok, err := c.payments.ClaimPending(ctx, order.ID, cb.ExternalTransactionID, now)
	if errors.Is(err, ErrDuplicateTxn) {
		return c.payments.GetByExternalID(ctx, cb.ExternalTransactionID)
	}
	if err != nil {
		return PaymentRecord{}, fmt.Errorf("claim payment attempt: %w", err)
	}
	if ok {
		return p, nil
	}
	p = PaymentRecord{
		PaymentID:             uuid.NewString(),
		OrderID:               order.ID,
		ExternalTransactionID: cb.ExternalTransactionID,
		Method:                cb.Method,
		Amount:                cb.Amount,
		Status:                PaymentProcessing,
		Meta:                  audit.New(now),
	}
	err = c.payments.Insert(ctx, p)
	if errors.Is(err, ErrDuplicateTxn) {
		return c.payments.GetByExternalID(ctx, cb.ExternalTransactionID)
	}
	if err != nil {
		return PaymentRecord{}, fmt.Errorf("record payment: %w", err)
	}
	return p, nil
}

// liveHolds checks, without changing anything, that every reservation of the
// order can still be confirmed. An order whose holds lapsed is left as it is.
func (c *Coordinator) liveHolds(ctx context.Context, order Order) ([]inventory.Reservation, error) {
	now := c.now()
	holds := make([]inventory.Reservation, 0, len(order.ReservationIDs))
	for _, id := range order.ReservationIDs {
		r, err := c.reservations.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !r.Live(now) {
			state := r.State
			if state == inventory.StateActive {
				state = inventory.StateExpired
			}
			return nil, &inventory.ReservationTerminalError{ID: id, State: state}
		}
		holds = append(holds, r)
	}
	return holds, nil
}

func (c *Coordinator) confirmHolds(ctx context.Context, holds []inventory.Reservation) error {
	for _, r := range holds {
		if err := c.reservations.Confirm(ctx, r.ID); err != nil {
			return err
		}
	}
	return nil
}

// refundUnfulfillable handles the narrow window where a hold lapsed between the
// pre-check and its confirmation: the money is in, the goods are not.
func (c *Coordinator) refundUnfulfillable(ctx context.Context, paid Order, p PaymentRecord, holds []inventory.Reservation, cause error) {
	ctx = context.WithoutCancel(ctx)
	// Confirmed holds stay sold until the refund is approved.
	for _, r := range holds {
		cur, err := c.reservations.Get(ctx, r.ID)
		if err != nil {
			c.log.Warn("reservation lookup failed", zap.String("reservation_id", r.ID), zap.Error(err))
			continue
		}
		if cur.State == inventory.StateActive {
			c.releaseAll(ctx, []string{cur.ID})
		}
	}

	prev, next, err := c.updateOrder(ctx, paid.ID, func(o *Order) (bool, error) {
		if o.Status != StatusPaid {
			return false, nil
		}
		return true, c.move(o, StatusRefunding, PaymentRefunding)
	})
	if err != nil {
		c.log.Error("move unfulfillable order to refund", zap.String("order_id", paid.ID), zap.Error(err))
		return
	}
	if p.Status, err = ApplyPayment(p.Status, PaymentRefunding); err == nil {
		_ = c.savePayment(ctx, p)
	}
	if next.Version != prev.Version {
		c.changed(ctx, prev.Status, next, SystemActor, "stock confirmation failed")
	}
	c.events.RefundRequested(ctx, RefundRequestedPayload{
		OrderID:      paid.ID,
		OrderNo:      paid.OrderNo,
		PaymentTxnID: paid.PaymentTxnID,
		Amount:       paid.ActualAmount,
		Reason:       "stock confirmation failed",
	})
	c.events.ReviewRequired(ctx, ReviewRequiredPayload{
		OrderID:   paid.ID,
		OrderNo:   paid.OrderNo,
		PaymentID: p.PaymentID,
		TxnID:     p.ExternalTransactionID,
		Reason:    cause.Error(),
	})
}

// finishReplay closes out a record whose order was already paid by the same
// transaction, e.g. a replay that raced the first delivery.
func (c *Coordinator) finishReplay(ctx context.Context, p PaymentRecord, order Order) (CallbackResult, error) {
	if !p.settled() {
		if next, err := ApplyPayment(p.Status, PaymentSuccess); err == nil {
			p.Status = next
			if err := c.savePayment(ctx, p); err != nil {
				return CallbackResult{}, err
			}
		}
	}
	return c.duplicate(ctx, p), nil
}

func (c *Coordinator) duplicate(ctx context.Context, p PaymentRecord) CallbackResult {
	c.cache.Remember(ctx, p.ExternalTransactionID, p.OrderID)
	c.metrics.Callback("duplicate")
	c.log.Debug("duplicate payment callback", zap.String("txn_id", p.ExternalTransactionID))
	return CallbackResult{OrderID: p.OrderID, Status: p.Status, Duplicate: true, Message: "already processed"}
}

// flag parks the payment record for manual review and tells whoever watches.
func (c *Coordinator) flag(ctx context.Context, p PaymentRecord, order Order, reason string) {
	p.ReviewReason = reason
	if err := c.savePayment(ctx, p); err != nil {
		c.log.Error("flag payment for review", zap.String("payment_id", p.PaymentID), zap.Error(err))
	}
	c.cache.Remember(ctx, p.ExternalTransactionID, order.ID)
	c.metrics.Callback("review")
	c.log.Warn("payment needs review",
		zap.String("order_id", order.ID), zap.String("txn_id", p.ExternalTransactionID), zap.String("reason", reason))
	c.events.ReviewRequired(ctx, ReviewRequiredPayload{
		OrderID:   order.ID,
		OrderNo:   order.OrderNo,
		PaymentID: p.PaymentID,
		TxnID:     p.ExternalTransactionID,
		Reason:    reason,
	})
}

func (c *Coordinator) savePayment(ctx context.Context, p PaymentRecord) error {
	p.Touch(c.now())
	if err := c.payments.Update(ctx, p); err != nil {
		return fmt.Errorf("update payment %s: %w", p.PaymentID, err)
	}
	return nil
}

// syncPayment carries the order's payment status over to the record of the
// transaction that paid it. Failures are logged; the order stays authoritative.
func (c *Coordinator) syncPayment(ctx context.Context, o Order) {
	if o.PaymentTxnID == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	p, err := c.payments.GetByExternalID(ctx, o.PaymentTxnID)
	if err != nil {
		c.log.Warn("payment record lookup failed", zap.String("order_id", o.ID), zap.String("txn_id", o.PaymentTxnID), zap.Error(err))
		return
	}
	if p.Status == o.PaymentStatus {
		return
	}
	if p.Status, err = ApplyPayment(p.Status, o.PaymentStatus); err != nil {
		c.log.Warn("payment record out of step", zap.String("payment_id", p.PaymentID), zap.Error(err))
		return
	}
	if err := c.savePayment(ctx, p); err != nil {
		c.log.Error("payment record not updated", zap.String("payment_id", p.PaymentID), zap.Error(err))
	}
}

// InitiatePayment asks the gateway for payment parameters and opens a PENDING
// attempt for the order. The gateway call is not retried.
func (c *Coordinator) InitiatePayment(ctx context.Context, orderID string, actor Actor, method string) (_ PaymentParams, err error) {
	ctx, span := c.span(ctx, "orders.InitiatePayment", attribute.String("order_id", orderID))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(method) == "" {
		return PaymentParams{}, &ValidationError{Field: "method", Reason: "is required"}
	}
	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return PaymentParams{}, err
	}
	if !actor.owns(order) {
		return PaymentParams{}, ErrForbidden
	}
	if _, err := ApplyOrder(order.Status, StatusPaid); err != nil {
		return PaymentParams{}, err
	}
	now := c.now()
	if !now.Before(order.PaymentDeadline) {
		return PaymentParams{}, ErrPaymentDeadline
	}
	if c.gateway == nil {
		return PaymentParams{}, errors.New("no payment gateway configured")
	}

	params, err := c.gateway.InitiatePayment(ctx, order.OrderNo, order.ActualAmount, method)
	if err != nil {
		return PaymentParams{}, fmt.Errorf("gateway initiate %s: %w", order.OrderNo, err)
	}
	attempt := PaymentRecord{
		PaymentID: uuid.NewString(),
		OrderID:   order.ID,
		Method:    method,
		Amount:    order.ActualAmount,
		Status:    PaymentPending,
		Meta:      audit.New(now),
	}
	if err := c.payments.Insert(ctx, attempt); err != nil {
		return PaymentParams{}, fmt.Errorf("record payment attempt: %w", err)
	}

	_, _, err = c.updateOrder(ctx, order.ID, func(o *Order) (bool, error) {
		if o.Status != StatusPendingPayment || o.PaymentStatus != PaymentPending {
			return false, nil
		}
		ps, err := ApplyPayment(o.PaymentStatus, PaymentProcessing)
		if err != nil {
			return false, err
		}
		o.PaymentStatus = ps
		o.Touch(now)
		return true, nil
	})
	if err != nil {
		return PaymentParams{}, err
	}
	c.log.Info("payment initiated",
		zap.String("order_id", order.ID), zap.String("method", method), zap.String("payment_id", attempt.PaymentID))
	return params, nil
}
