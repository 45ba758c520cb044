package orders

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// ConfirmOrder is the merchant accepting a paid order.
func (c *Coordinator) ConfirmOrder(ctx context.Context, orderID string, actor Actor) error {
	return c.advance(ctx, orderID, actor, StatusConfirmed, Actor.fulfils, nil)
}

func (c *Coordinator) ShipOrder(ctx context.Context, orderID string, actor Actor, trackingNo string) error {
	if strings.TrimSpace(trackingNo) == "" {
		return &ValidationError{Field: "trackingNo", Reason: "is required"}
	}
	return c.advance(ctx, orderID, actor, StatusShipped, Actor.fulfils, func(o *Order) {
		o.TrackingNo = trackingNo
	})
}

// MarkDelivered records the carrier's delivery notice.
func (c *Coordinator) MarkDelivered(ctx context.Context, orderID string, actor Actor) error {
	return c.advance(ctx, orderID, actor, StatusDelivered, Actor.fulfils, nil)
}

// ConfirmDelivery is the buyer closing the order. Stock was settled at payment
// time, so no reservation changes here.
func (c *Coordinator) ConfirmDelivery(ctx context.Context, orderID string, actor Actor) error {
	return c.advance(ctx, orderID, actor, StatusCompleted, func(a Actor) bool { return true }, nil)
}

func (c *Coordinator) advance(ctx context.Context, orderID string, actor Actor, to OrderStatus, allowed func(Actor) bool, apply func(*Order)) (err error) {
	ctx, span := c.span(ctx, "orders.advance",
		attribute.String("order_id", orderID), attribute.String("to", string(to)))
	defer func() { endSpan(span, err) }()

	prev, next, err := c.updateOrder(ctx, orderID, func(o *Order) (bool, error) {
		if !allowed(actor) {
			return false, ErrForbidden
		}
		if to == StatusCompleted && !actor.owns(*o) {
			return false, ErrForbidden
		}
		if err := c.move(o, to, ""); err != nil {
			return false, err
		}
		if apply != nil {
			apply(o)
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	c.changed(ctx, prev.Status, next, actor, "")
	return nil
}
