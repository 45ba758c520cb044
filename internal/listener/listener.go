// Package listener consumes the warehouse and payment topics and feeds them
// into the order coordinator.
package listener

import (
	"context"
	"errors"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// Coordinator is the part of orders.Coordinator the listeners drive.
type Coordinator interface {
	ReceiveReturn(ctx context.Context, returnID string) error
	HandleRefundResult(ctx context.Context, res orders.RefundResult) error
}

// Dedup records processed event ids. Both coordinator calls are idempotent
// on their own; dedup only saves the round trip.
type Dedup interface {
	First(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type Handlers struct {
	log   *zap.Logger
	coord Coordinator
	dedup Dedup
}

func New(log *zap.Logger, coord Coordinator, dedup Dedup) *Handlers {
	return &Handlers{log: log, coord: coord, dedup: dedup}
}

// ReturnReceived handles warehouse.return.received.
func (h *Handlers) ReturnReceived(ctx context.Context, m kafkago.Message) error {
	return h.handle(ctx, m, orders.EventReturnReceived, func(ctx context.Context, env orders.Envelope) error {
		p, err := kafkax.UnwrapPayload[orders.ReturnReceivedPayload](env.Payload)
		if err != nil {
			return err
		}
		return h.coord.ReceiveReturn(ctx, p.ReturnID)
	})
}

// RefundResult handles payment.refund.result.
func (h *Handlers) RefundResult(ctx context.Context, m kafkago.Message) error {
	return h.handle(ctx, m, orders.EventRefundResult, func(ctx context.Context, env orders.Envelope) error {
		p, err := kafkax.UnwrapPayload[orders.RefundResult](env.Payload)
		if err != nil {
			return err
		}
		return h.coord.HandleRefundResult(ctx, p)
	})
}

func (h *Handlers) handle(ctx context.Context, m kafkago.Message, want string, apply func(context.Context, orders.Envelope) error) error {
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		h.log.Error("invalid envelope", zap.ByteString("raw_value", m.Value), zap.Error(err))
		return err
	}
	if env.EventType != want {
		return nil
	}
	log := h.log.With(zap.String("event_id", env.EventID), zap.String("event_type", env.EventType))

	if h.dedup != nil && env.EventID != "" {
		first, err := h.dedup.First(ctx, env.EventID)
		if err != nil {
			log.Warn("dedup unavailable, processing anyway", zap.Error(err))
		} else if !first {
			log.Debug("duplicate event skipped")
			return nil
		}
	}

	if err := apply(ctx, env); err != nil {
		if h.dedup != nil && env.EventID != "" {
			if ferr := h.dedup.Forget(context.WithoutCancel(ctx), env.EventID); ferr != nil {
				log.Warn("dedup forget failed", zap.Error(ferr))
			}
		}
		if permanent(err) {
			log.Error("event rejected", zap.Error(err))
			return errors.Join(kafkax.ErrPermanent, err)
		}
		return err
	}
	log.Info("event applied")
	return nil
}

// permanent reports domain outcomes that a redelivery cannot change.
func permanent(err error) bool {
	var transition *orders.InvalidStateTransitionError
	var notFound *inventory.ReservationNotFoundError
	return errors.Is(err, kafkax.ErrPermanent) ||
		errors.Is(err, orders.ErrValidation) ||
		errors.Is(err, orders.ErrOrderNotFound) ||
		errors.Is(err, orders.ErrReturnNotFound) ||
		errors.Is(err, inventory.ErrProductNotFound) ||
		errors.As(err, &transition) ||
		errors.As(err, &notFound)
}
