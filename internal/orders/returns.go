package orders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/audit"
	"github.com/ariefcatur/storefront-orders/internal/inventory"
)

type ReturnResult struct {
	ReturnID     string
	RefundAmount decimal.Decimal
}

// ApplyReturn opens a return for some lines of a paid order and asks the
// payment side for the refund. Stock comes back only once the goods do.
func (c *Coordinator) ApplyReturn(ctx context.Context, orderID string, actor Actor, itemIDs []string, reason string) (_ ReturnResult, err error) {
	ctx, span := c.span(ctx, "orders.ApplyReturn", attribute.String("order_id", orderID))
	defer func() { endSpan(span, err) }()

	if len(itemIDs) == 0 {
		return ReturnResult{}, &ValidationError{Field: "itemIds", Reason: "at least one item is required"}
	}
	if strings.TrimSpace(reason) == "" {
		return ReturnResult{}, &ValidationError{Field: "reason", Reason: "is required"}
	}

	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return ReturnResult{}, err
	}
	if !actor.owns(order) {
		return ReturnResult{}, ErrForbidden
	}
	if _, err := ApplyOrder(order.Status, StatusRefunding); err != nil {
		return ReturnResult{}, err
	}
	ids, refund, err := returnLines(order, itemIDs)
	if err != nil {
		return ReturnResult{}, err
	}
	if order.ShippedAt == nil && len(ids) < len(order.Items) {
		return ReturnResult{}, &ValidationError{Field: "itemIds", Reason: "an order that has not shipped can only be returned in full"}
	}

	now := c.now()
	ret := ReturnRequest{
		ReturnID:     uuid.NewString(),
		OrderID:      order.ID,
		ItemIDs:      ids,
		Reason:       reason,
		RefundAmount: refund,
		Status:       ReturnRequested,
		Meta:         audit.New(now),
	}
	if err := c.returns.Insert(ctx, ret); err != nil {
		return ReturnResult{}, fmt.Errorf("persist return: %w", err)
	}

	prev, next, err := c.updateOrder(ctx, orderID, func(o *Order) (bool, error) {
		return true, c.move(o, StatusRefunding, PaymentRefunding)
	})
	if err != nil {
		if _, cerr := c.returns.Transition(context.WithoutCancel(ctx), ret.ReturnID, ReturnRequested, ReturnCancelled, now); cerr != nil {
			c.log.Error("withdraw return request", zap.String("return_id", ret.ReturnID), zap.Error(cerr))
		}
		return ReturnResult{}, err
	}

	c.syncPayment(ctx, next)
	c.changed(ctx, prev.Status, next, actor, reason)
	c.events.RefundRequested(ctx, RefundRequestedPayload{
		OrderID:      next.ID,
		OrderNo:      next.OrderNo,
		ReturnID:     ret.ReturnID,
		PaymentTxnID: next.PaymentTxnID,
		Amount:       refund,
		Reason:       reason,
	})
	return ReturnResult{ReturnID: ret.ReturnID, RefundAmount: refund}, nil
}

// returnLines dedups the requested item ids and prices them. The refund never
// exceeds what the buyer actually paid.
func returnLines(o Order, itemIDs []string) ([]string, decimal.Decimal, error) {
	var ids []string
	sum := decimal.Zero
	seen := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		it, ok := o.Item(id)
		if !ok {
			return nil, decimal.Zero, &ValidationError{Field: "itemIds", Reason: fmt.Sprintf("item %s is not part of the order", id)}
		}
		ids = append(ids, id)
		sum = sum.Add(it.Subtotal)
	}
	return ids, decimal.Min(sum, o.ActualAmount), nil
}

// ReceiveReturn records that the warehouse got the goods back and restocks
// them. Receiving the same return twice restocks once, and a retry after a
// failed restock picks up the items still outstanding.
func (c *Coordinator) ReceiveReturn(ctx context.Context, returnID string) (err error) {
	ctx, span := c.span(ctx, "orders.ReceiveReturn", attribute.String("return_id", returnID))
	defer func() { endSpan(span, err) }()

	ret, err := c.returns.Get(ctx, returnID)
	if err != nil {
		return err
	}
	if ret.Status != ReturnReceived {
		won, err := c.returns.Transition(ctx, returnID, ReturnRequested, ReturnReceived, c.now())
		if err != nil {
			return fmt.Errorf("receive return %s: %w", returnID, err)
		}
		if !won {
			cur, err := c.returns.Get(ctx, returnID)
			if err != nil {
				return err
			}
			if cur.Status != ReturnReceived {
				return &InvalidStateTransitionError{Machine: "return", Current: string(cur.Status), Target: string(ReturnReceived)}
			}
		}
	}

	order, err := c.orders.Get(ctx, ret.OrderID)
	if err != nil {
		return err
	}
	// Goods that never left the warehouse are restocked with the refund instead.
	if order.ShippedAt == nil {
		return nil
	}
	if err := c.restockReturn(ctx, ret.ReturnID, order); err != nil {
		return err
	}
	c.log.Info("return received", zap.String("return_id", returnID), zap.String("order_id", order.ID))
	return nil
}

// restockReturn puts the returned lines back into stock. Each item is claimed
// on the return before its units are added and the claim is dropped again if
// the restock fails, so every line is restocked exactly once across retries.
func (c *Coordinator) restockReturn(ctx context.Context, returnID string, order Order) error {
	ret, err := c.returns.Get(ctx, returnID)
	if err != nil {
		return err
	}
	for _, id := range ret.ItemIDs {
		if slices.Contains(ret.Restocked, id) {
			continue
		}
		it, ok := order.Item(id)
		if !ok {
			continue
		}
		claimed, err := c.returns.MarkRestocked(ctx, returnID, id, true)
		if err != nil {
			return fmt.Errorf("claim restock of %s: %w", id, err)
		}
		if !claimed {
			continue
		}
		if err := c.reservations.Restock(ctx, it.ProductID, it.Quantity); err != nil {
			if _, uerr := c.returns.MarkRestocked(context.WithoutCancel(ctx), returnID, id, false); uerr != nil {
				c.log.Error("drop restock claim", zap.String("return_id", returnID), zap.String("item_id", id), zap.Error(uerr))
			}
			c.log.Error("restock returned item",
				zap.String("return_id", returnID), zap.String("product_id", it.ProductID), zap.Error(err))
			return fmt.Errorf("restock %s: %w", it.ProductID, err)
		}
	}
	return nil
}

// HandleRefundResult settles a REFUNDING order. Redelivery of the same result
// is a no-op, except that it finishes restocking an unshipped return that
// failed part way.
func (c *Coordinator) HandleRefundResult(ctx context.Context, res RefundResult) (err error) {
	ctx, span := c.span(ctx, "orders.HandleRefundResult", attribute.String("order_id", res.OrderID))
	defer func() { endSpan(span, err) }()

	ret, err := c.returns.OpenForOrder(ctx, res.OrderID)
	hasReturn := err == nil
	if err != nil && !errors.Is(err, ErrReturnNotFound) {
		return fmt.Errorf("open return for %s: %w", res.OrderID, err)
	}

	prev, next, err := c.updateOrder(ctx, res.OrderID, func(o *Order) (bool, error) {
		if o.Status != StatusRefunding {
			if (res.Approved && o.Status == StatusRefunded) || (!res.Approved && o.Status == StatusConfirmed) {
				return false, nil
			}
			_, err := ApplyOrder(o.Status, StatusRefunded)
			return false, err
		}
		if !res.Approved {
			return true, c.move(o, StatusConfirmed, PaymentSuccess)
		}
		pay := PaymentRefunded
		if hasReturn && len(ret.ItemIDs) < len(o.Items) {
			pay = PaymentPartialRefunded
		}
		return true, c.move(o, StatusRefunded, pay)
	})
	if err != nil {
		return err
	}
	settled := next.Version != prev.Version
	unshipped := res.Approved && next.ShippedAt == nil
	if !settled && !(unshipped && hasReturn) {
		return nil
	}

	if settled {
		c.syncPayment(ctx, next)
		if !res.Approved && hasReturn && ret.Status == ReturnRequested {
			if _, err := c.returns.Transition(ctx, ret.ReturnID, ReturnRequested, ReturnRejected, c.now()); err != nil {
				c.log.Warn("reject return", zap.String("return_id", ret.ReturnID), zap.Error(err))
			}
		}
		c.changed(ctx, prev.Status, next, SystemActor, res.Reason)
	}
	if !unshipped {
		return nil
	}
	if !hasReturn {
		c.restockSold(ctx, next)
		return nil
	}
	if err := c.restockReturn(ctx, ret.ReturnID, next); err != nil {
		return err
	}
	if ret.Status == ReturnRequested {
		if _, err := c.returns.Transition(ctx, ret.ReturnID, ReturnRequested, ReturnCancelled, c.now()); err != nil {
			c.log.Warn("close return", zap.String("return_id", ret.ReturnID), zap.Error(err))
		}
	}
	return nil
}

// restockSold hands back the units the order's confirmed holds took out of
// stock. Holds that never confirmed left nothing to restock.
func (c *Coordinator) restockSold(ctx context.Context, o Order) {
	for _, id := range o.ReservationIDs {
		r, err := c.reservations.Get(ctx, id)
		if err != nil {
			c.log.Warn("reservation lookup failed", zap.String("reservation_id", id), zap.Error(err))
			continue
		}
		if r.State != inventory.StateConfirmed {
			continue
		}
		if err := c.reservations.Restock(ctx, r.ProductID, r.Quantity); err != nil {
			c.log.Error("restock refunded item",
				zap.String("order_id", o.ID), zap.String("product_id", r.ProductID), zap.Error(err))
		}
	}
}
