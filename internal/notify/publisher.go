// Package notify turns domain signals into Kafka envelopes. Delivery is
// fire-and-forget: a slow or unavailable broker never fails the caller.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/tracing"
)

// Sink is one topic's producer.
type Sink interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafkago.Header)
}

type StockPayload struct {
	ProductID         string `json:"product_id"`
	AvailableStock    int    `json:"available_stock"`
	LowStockThreshold int    `json:"low_stock_threshold"`
}

type Publisher struct {
	log     *zap.Logger
	service string
	sinks   map[string]Sink
	now     func() time.Time

	mu       sync.RWMutex
	onStatus []func(ctx context.Context, orderID string)
}

// New maps topics to sinks. Events for a topic without a sink are dropped.
func New(log *zap.Logger, service string, sinks map[string]Sink) *Publisher {
	return &Publisher{
		log:     log,
		service: service,
		sinks:   sinks,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// OnStatusChanged registers a local hook, e.g. invalidating a read cache.
func (p *Publisher) OnStatusChanged(fn func(ctx context.Context, orderID string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStatus = append(p.onStatus, fn)
}

func (p *Publisher) StatusChanged(ctx context.Context, ev orders.StatusChangedPayload) {
	p.mu.RLock()
	hooks := p.onStatus
	p.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, ev.OrderID)
	}
	p.emit(ctx, orders.TopicStatusChanged, orders.EventOrderStatusChanged, ev.OrderID, ev)
}

func (p *Publisher) RefundRequested(ctx context.Context, ev orders.RefundRequestedPayload) {
	p.emit(ctx, orders.TopicRefundRequested, orders.EventRefundRequested, ev.OrderID, ev)
}

func (p *Publisher) ReviewRequired(ctx context.Context, ev orders.ReviewRequiredPayload) {
	key := ev.OrderID
	if key == "" {
		key = ev.OrderNo
	}
	p.emit(ctx, orders.TopicReviewRequired, orders.EventReviewRequired, key, ev)
}

func (p *Publisher) LowStock(ctx context.Context, rec inventory.StockRecord) {
	p.emit(ctx, orders.TopicStockLow, orders.EventStockLow, rec.ProductID, stockPayload(rec))
}

func (p *Publisher) BackInStock(ctx context.Context, rec inventory.StockRecord) {
	p.emit(ctx, orders.TopicStockAvailable, orders.EventStockAvailable, rec.ProductID, stockPayload(rec))
}

func stockPayload(rec inventory.StockRecord) StockPayload {
	return StockPayload{
		ProductID:         rec.ProductID,
		AvailableStock:    rec.AvailableStock,
		LowStockThreshold: rec.LowStockThreshold,
	}
}

func (p *Publisher) emit(ctx context.Context, topic, eventType, key string, payload any) {
	sink, ok := p.sinks[topic]
	if !ok {
		p.log.Debug("no sink for topic", zap.String("topic", topic), zap.String("event_type", eventType))
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    p.now(),
		Producer:      p.service,
		TraceID:       tracing.TraceID(ctx),
		CorrelationID: key,
		Payload:       kafkax.MustMarshal(payload),
	}
	sink.Publish(ctx, orders.PartitionKey(key), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
