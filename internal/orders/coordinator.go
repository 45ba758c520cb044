package orders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/audit"
	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/metrics"
)

const (
	DefaultReservationTTL = 15 * time.Minute
	orderNoAttempts       = 3
	maxPageSize           = 100
)

type Deps struct {
	Log          *zap.Logger
	Orders       OrderStore
	Payments     PaymentStore
	Returns      ReturnStore
	Reservations Reservations
	Catalog      Catalog
	Gateway      Gateway
	Events       Events
	Cache        CallbackCache
	Metrics      *metrics.Metrics
	Tracer       trace.Tracer

	// ReservationTTL is both the hold lifetime and the payment window.
	ReservationTTL time.Duration
	Clock          func() time.Time
	Rand           RandSource
}

// Coordinator drives orders through their lifecycle. It keeps no state of its
// own; every order write is guarded by the row version.
type Coordinator struct {
	log          *zap.Logger
	orders       OrderStore
	payments     PaymentStore
	returns      ReturnStore
	reservations Reservations
	catalog      Catalog
	gateway      Gateway
	events       Events
	cache        CallbackCache
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	ttl          time.Duration
	now          func() time.Time
	numbers      *NumberGenerator
}

func NewCoordinator(d Deps) *Coordinator {
	c := &Coordinator{
		log:          d.Log,
		orders:       d.Orders,
		payments:     d.Payments,
		returns:      d.Returns,
		reservations: d.Reservations,
		catalog:      d.Catalog,
		gateway:      d.Gateway,
		events:       d.Events,
		cache:        d.Cache,
		metrics:      d.Metrics,
		tracer:       d.Tracer,
		ttl:          d.ReservationTTL,
		now:          d.Clock,
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.events == nil {
		c.events = nopEvents{}
	}
	if c.cache == nil {
		c.cache = nopCache{}
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("storefront/orders")
	}
	if c.ttl <= 0 {
		c.ttl = DefaultReservationTTL
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	c.numbers = NewNumberGenerator(c.now, d.Rand)
	return c
}

func (c *Coordinator) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CreateOrder validates the request, reserves stock for every line and stores
// the order in PENDING_PAYMENT. On any failure the reservations made so far
// are released.
func (c *Coordinator) CreateOrder(ctx context.Context, req CreateOrderRequest) (_ Order, err error) {
	ctx, span := c.span(ctx, "orders.CreateOrder", attribute.String("user_id", req.UserID))
	defer func() { endSpan(span, err) }()

	if err := ValidateCreateOrder(req); err != nil {
		return Order{}, err
	}
	if req.RequestID != "" {
		existing, err := c.orders.GetByRequestID(ctx, req.RequestID)
		switch {
		case err == nil:
			return existing, nil
		case !errors.Is(err, ErrOrderNotFound):
			return Order{}, fmt.Errorf("lookup request %s: %w", req.RequestID, err)
		}
	}
	if c.catalog != nil {
		if err := checkCatalogPrices(ctx, c.catalog, req.Items); err != nil {
			return Order{}, err
		}
	}

	orderID := uuid.NewString()
	reservationIDs, err := c.reserveAll(ctx, orderID, req.Items)
	if err != nil {
		return Order{}, err
	}

	now := c.now()
	o := Order{
		ID:              orderID,
		RequestID:       req.RequestID,
		UserID:          req.UserID,
		Items:           make([]OrderItem, 0, len(req.Items)),
		TotalAmount:     req.TotalAmount,
		ShippingFee:     req.ShippingFee,
		DiscountAmount:  req.DiscountAmount,
		ActualAmount:    req.ActualAmount,
		Status:          StatusPendingPayment,
		PaymentStatus:   PaymentPending,
		ReservationIDs:  reservationIDs,
		PaymentDeadline: now.Add(c.ttl),
		Version:         1,
		Meta:            audit.New(now),
	}
	for _, it := range req.Items {
		o.Items = append(o.Items, OrderItem{
			ItemID:    uuid.NewString(),
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal,
		})
	}

	for attempt := 0; attempt < orderNoAttempts; attempt++ {
		o.OrderNo = c.numbers.Next()
		if err = c.orders.Insert(ctx, o); !errors.Is(err, ErrDuplicateOrderNo) {
			break
		}
		c.log.Warn("order number collision, retrying", zap.String("order_no", o.OrderNo), zap.Int("attempt", attempt+1))
	}
	if err != nil {
		c.releaseAll(ctx, reservationIDs)
		if errors.Is(err, ErrDuplicateRequest) {
			return c.orders.GetByRequestID(ctx, req.RequestID)
		}
		return Order{}, fmt.Errorf("persist order: %w", err)
	}

	c.log.Info("order created",
		zap.String("order_id", o.ID), zap.String("order_no", o.OrderNo),
		zap.String("user_id", o.UserID), zap.String("amount", o.ActualAmount.String()))
	c.changed(ctx, "", o, SystemActor, "")
	return o, nil
}

// reserveAll takes one reservation per line in ascending product order so that
// concurrent orders touching the same products always contend in the same order.
func (c *Coordinator) reserveAll(ctx context.Context, holderID string, items []ItemRequest) ([]string, error) {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b ItemRequest) int { return strings.Compare(a.ProductID, b.ProductID) })

	ids := make([]string, 0, len(sorted))
	for _, it := range sorted {
		r, err := c.reservations.Reserve(ctx, it.ProductID, it.Quantity, holderID, c.ttl)
		if err != nil {
			c.releaseAll(ctx, ids)
			return nil, err
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// releaseAll is best effort. Holds that already expired or were released are fine.
func (c *Coordinator) releaseAll(ctx context.Context, ids []string) {
	ctx = context.WithoutCancel(ctx)
	for _, id := range ids {
		err := c.reservations.Release(ctx, id)
		var terminal *inventory.ReservationTerminalError
		switch {
		case err == nil:
		case errors.As(err, &terminal) && terminal.State == inventory.StateExpired:
		default:
			c.log.Warn("release reservation failed", zap.String("reservation_id", id), zap.Error(err))
		}
	}
}

// CancelOrder cancels an unpaid order or turns a paid one into a refund.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID string, actor Actor, reason string) (err error) {
	ctx, span := c.span(ctx, "orders.CancelOrder", attribute.String("order_id", orderID))
	defer func() { endSpan(span, err) }()

	prev, next, err := c.updateOrder(ctx, orderID, func(o *Order) (bool, error) {
		if !actor.owns(*o) {
			return false, ErrForbidden
		}
		switch o.Status {
		case StatusPendingPayment:
			if err := c.move(o, StatusCancelled, PaymentCancelled); err != nil {
				return false, err
			}
			o.CancelReason = reason
		case StatusPaid:
			if err := c.move(o, StatusRefunding, PaymentRefunding); err != nil {
				return false, err
			}
			o.CancelReason = reason
		default:
			_, err := ApplyOrder(o.Status, StatusCancelled)
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	if next.Status == StatusCancelled {
		c.releaseAll(ctx, next.ReservationIDs)
	} else {
		c.syncPayment(ctx, next)
		c.events.RefundRequested(ctx, RefundRequestedPayload{
			OrderID:      next.ID,
			OrderNo:      next.OrderNo,
			PaymentTxnID: next.PaymentTxnID,
			Amount:       next.ActualAmount,
			Reason:       reasonOr(reason, "cancelled after payment"),
		})
	}
	c.changed(ctx, prev.Status, next, actor, reason)
	return nil
}

// CancelExpiredOrders times out unpaid orders past their payment deadline and
// returns how many it cancelled.
func (c *Coordinator) CancelExpiredOrders(ctx context.Context, limit int) (n int, err error) {
	ctx, span := c.span(ctx, "orders.CancelExpiredOrders")
	defer func() { endSpan(span, err) }()

	now := c.now()
	due, err := c.orders.ListOverdue(ctx, StatusPendingPayment, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list overdue orders: %w", err)
	}
	for _, o := range due {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		prev, next, err := c.updateOrder(ctx, o.ID, func(o *Order) (bool, error) {
			if o.Status != StatusPendingPayment || now.Before(o.PaymentDeadline) {
				return false, nil
			}
			if err := c.move(o, StatusCancelled, PaymentTimeout); err != nil {
				return false, err
			}
			o.CancelReason = "payment timeout"
			return true, nil
		})
		if err != nil {
			c.log.Warn("timeout order failed", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		if next.Version == prev.Version {
			continue
		}
		c.releaseAll(ctx, next.ReservationIDs)
		c.changed(ctx, prev.Status, next, SystemActor, next.CancelReason)
		n++
	}
	if n > 0 {
		c.log.Info("unpaid orders timed out", zap.Int("count", n))
	}
	return n, nil
}

func (c *Coordinator) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return c.orders.Get(ctx, orderID)
}

func (c *Coordinator) GetOrderByNo(ctx context.Context, orderNo string) (Order, error) {
	return c.orders.GetByOrderNo(ctx, orderNo)
}

func (c *Coordinator) ListUserOrders(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return c.orders.ListByUser(ctx, userID, limit, offset)
}

// updateOrder re-reads the order, applies mutate and writes it back under the
// version guard. A lost race is retried once against the fresh row; mutate
// re-validates it. mutate returning false leaves the row untouched and next
// equal to prev.
func (c *Coordinator) updateOrder(ctx context.Context, orderID string, mutate func(o *Order) (bool, error)) (prev, next Order, err error) {
	for attempt := 0; attempt < 2; attempt++ {
		prev, err = c.orders.Get(ctx, orderID)
		if err != nil {
			return Order{}, Order{}, err
		}
		next = prev
		changed, err := mutate(&next)
		if err != nil {
			return prev, prev, err
		}
		if !changed {
			return prev, prev, nil
		}
		next.Version = prev.Version + 1
		err = c.orders.Update(ctx, next, prev.Version)
		if err == nil {
			return prev, next, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return prev, prev, fmt.Errorf("update order %s: %w", orderID, err)
		}
		c.log.Debug("order version conflict", zap.String("order_id", orderID), zap.Int("attempt", attempt+1))
	}
	return prev, prev, &ConcurrentModificationError{OrderID: orderID}
}

// move applies both state machines to o. An empty pay leaves the payment status alone.
func (c *Coordinator) move(o *Order, to OrderStatus, pay PaymentStatus) error {
	if _, err := ApplyOrder(o.Status, to); err != nil {
		return err
	}
	if pay != "" && pay != o.PaymentStatus {
		ps, err := ApplyPayment(o.PaymentStatus, pay)
		if err != nil {
			return err
		}
		o.PaymentStatus = ps
	}
	o.stamp(to, c.now())
	return nil
}

func (c *Coordinator) changed(ctx context.Context, from OrderStatus, o Order, actor Actor, reason string) {
	c.metrics.Transition(string(o.Status))
	if from != "" {
		c.log.Info("order status changed",
			zap.String("order_id", o.ID), zap.String("from", string(from)), zap.String("to", string(o.Status)),
			zap.String("actor", actor.ID))
	}
	c.events.StatusChanged(ctx, StatusChangedPayload{
		OrderID:       o.ID,
		OrderNo:       o.OrderNo,
		UserID:        o.UserID,
		From:          from,
		To:            o.Status,
		PaymentStatus: o.PaymentStatus,
		Actor:         actor.ID,
		Reason:        reason,
		At:            o.UpdatedAt,
	})
}

func reasonOr(reason, fallback string) string {
	if strings.TrimSpace(reason) == "" {
		return fallback
	}
	return reason
}
