package listener_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/listener"
	"github.com/ariefcatur/storefront-orders/internal/orders"
)

type fakeCoord struct {
	received []string
	results  []orders.RefundResult
	err      error
}

func (c *fakeCoord) ReceiveReturn(_ context.Context, id string) error {
	c.received = append(c.received, id)
	return c.err
}

func (c *fakeCoord) HandleRefundResult(_ context.Context, res orders.RefundResult) error {
	c.results = append(c.results, res)
	return c.err
}

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (d *memDedup) First(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *memDedup) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	return nil
}

func message(eventID, eventType string, payload any) kafkago.Message {
	return kafkago.Message{Value: kafkax.MustMarshal(orders.Envelope{
		EventID:   eventID,
		EventType: eventType,
		Payload:   kafkax.MustMarshal(payload),
	})}
}

func TestReturnReceivedIsDeduplicated(t *testing.T) {
	coord := &fakeCoord{}
	h := listener.New(zap.NewNop(), coord, &memDedup{seen: map[string]bool{}})
	m := message("ev-1", orders.EventReturnReceived, orders.ReturnReceivedPayload{ReturnID: "r-1"})

	require.NoError(t, h.ReturnReceived(context.Background(), m))
	require.NoError(t, h.ReturnReceived(context.Background(), m))
	assert.Equal(t, []string{"r-1"}, coord.received)
}

func TestRefundResultDecodesPayload(t *testing.T) {
	coord := &fakeCoord{}
	h := listener.New(zap.NewNop(), coord, nil)
	m := message("ev-2", orders.EventRefundResult, orders.RefundResult{OrderID: "o-1", Approved: true, RefundID: "rf-1"})

	require.NoError(t, h.RefundResult(context.Background(), m))
	require.Len(t, coord.results, 1)
	assert.Equal(t, "o-1", coord.results[0].OrderID)
	assert.True(t, coord.results[0].Approved)
}

func TestOtherEventTypesAreIgnored(t *testing.T) {
	coord := &fakeCoord{}
	h := listener.New(zap.NewNop(), coord, nil)

	require.NoError(t, h.RefundResult(context.Background(), message("ev-3", orders.EventStockLow, struct{}{})))
	assert.Empty(t, coord.results)
}

func TestBadEnvelopeIsPermanent(t *testing.T) {
	h := listener.New(zap.NewNop(), &fakeCoord{}, nil)
	err := h.ReturnReceived(context.Background(), kafkago.Message{Value: []byte("{not json")})
	assert.ErrorIs(t, err, kafkax.ErrPermanent)
}

func TestFailuresForgetTheEventId(t *testing.T) {
	dedup := &memDedup{seen: map[string]bool{}}
	coord := &fakeCoord{err: errors.New("connection reset")}
	h := listener.New(zap.NewNop(), coord, dedup)
	m := message("ev-4", orders.EventReturnReceived, orders.ReturnReceivedPayload{ReturnID: "r-2"})

	err := h.ReturnReceived(context.Background(), m)
	require.Error(t, err)
	assert.NotErrorIs(t, err, kafkax.ErrPermanent)

	coord.err = nil
	require.NoError(t, h.ReturnReceived(context.Background(), m))
	assert.Len(t, coord.received, 2)
}

func TestUnknownReturnIsPermanent(t *testing.T) {
	coord := &fakeCoord{err: orders.ErrReturnNotFound}
	h := listener.New(zap.NewNop(), coord, nil)
	err := h.ReturnReceived(context.Background(), message("ev-5", orders.EventReturnReceived, orders.ReturnReceivedPayload{ReturnID: "nope"}))
	assert.ErrorIs(t, err, kafkax.ErrPermanent)
	assert.ErrorIs(t, err, orders.ErrReturnNotFound)
}

func TestDedupOutageStillProcesses(t *testing.T) {
	coord := &fakeCoord{}
	h := listener.New(zap.NewNop(), coord, &memDedup{err: errors.New("redis down")})
	require.NoError(t, h.ReturnReceived(context.Background(), message("ev-6", orders.EventReturnReceived, orders.ReturnReceivedPayload{ReturnID: "r-3"})))
	assert.Len(t, coord.received, 1)
}
