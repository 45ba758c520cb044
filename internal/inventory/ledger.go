package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/audit"
	"github.com/ariefcatur/storefront-orders/internal/metrics"
)

// Ledger is the only writer of StockRecord counters.
type Ledger struct {
	log     *zap.Logger
	store   StockStore
	events  StockEvents
	metrics *metrics.Metrics
}

func NewLedger(log *zap.Logger, store StockStore, events StockEvents, m *metrics.Metrics) *Ledger {
	if events == nil {
		events = nopStockEvents{}
	}
	return &Ledger{log: log, store: store, events: events, metrics: m}
}

func (l *Ledger) Get(ctx context.Context, productID string) (StockRecord, error) {
	return l.store.Get(ctx, productID)
}

// Seed creates the record for a new product with all of total available.
// An existing record is returned untouched; use Increase to restock.
func (l *Ledger) Seed(ctx context.Context, productID string, total, lowStockThreshold int) (StockRecord, bool, error) {
	if total < 0 || lowStockThreshold < 0 {
		return StockRecord{}, false, ErrInvalidQuantity
	}
	now := time.Now().UTC()
	return l.store.Create(ctx, StockRecord{
		ProductID:         productID,
		TotalStock:        total,
		AvailableStock:    total,
		LowStockThreshold: lowStockThreshold,
		Meta:              audit.New(now),
	})
}

func (l *Ledger) Reserve(ctx context.Context, productID string, qty int) (Hold, error) {
	if qty <= 0 {
		return Hold{}, ErrInvalidQuantity
	}
	rec, ok, err := l.store.ReserveAvailable(ctx, productID, qty)
	if err != nil {
		l.metrics.StockOp("reserve", "error")
		return Hold{}, fmt.Errorf("reserve %s: %w", productID, err)
	}
	if !ok {
		l.metrics.StockOp("reserve", "insufficient")
		return Hold{}, &InsufficientStockError{ProductID: productID, Available: rec.AvailableStock, Requested: qty}
	}
	l.metrics.StockOp("reserve", "ok")
	if crossedLow(rec, qty) {
		l.events.LowStock(ctx, rec)
	}
	return Hold{ProductID: productID, Quantity: qty, After: rec}, nil
}

func (l *Ledger) Release(ctx context.Context, productID string, qty int) (StockRecord, error) {
	if qty <= 0 {
		return StockRecord{}, ErrInvalidQuantity
	}
	rec, ok, err := l.store.ReleaseReserved(ctx, productID, qty)
	if err != nil {
		l.metrics.StockOp("release", "error")
		return StockRecord{}, fmt.Errorf("release %s: %w", productID, err)
	}
	if !ok {
		l.metrics.StockOp("release", "underflow")
		l.log.Error("release would underflow reserved stock",
			zap.String("product_id", productID), zap.Int("qty", qty), zap.Int("reserved", rec.ReservedStock))
		return rec, fmt.Errorf("release %d of %s: %w", qty, productID, ErrStockCounterUnderflow)
	}
	l.metrics.StockOp("release", "ok")
	if rec.AvailableStock == qty {
		l.events.BackInStock(ctx, rec)
	}
	return rec, nil
}

func (l *Ledger) Confirm(ctx context.Context, productID string, qty int) (StockRecord, error) {
	if qty <= 0 {
		return StockRecord{}, ErrInvalidQuantity
	}
	rec, ok, err := l.store.ConfirmReserved(ctx, productID, qty)
	if err != nil {
		l.metrics.StockOp("confirm", "error")
		return StockRecord{}, fmt.Errorf("confirm %s: %w", productID, err)
	}
	if !ok {
		l.metrics.StockOp("confirm", "underflow")
		l.log.Error("confirm would underflow reserved stock",
			zap.String("product_id", productID), zap.Int("qty", qty), zap.Int("reserved", rec.ReservedStock))
		return rec, fmt.Errorf("confirm %d of %s: %w", qty, productID, ErrStockCounterUnderflow)
	}
	l.metrics.StockOp("confirm", "ok")
	return rec, nil
}

// Increase restocks a product. Crossing from zero available is reported as back in stock.
func (l *Ledger) Increase(ctx context.Context, productID string, qty int) (StockRecord, error) {
	if qty <= 0 {
		return StockRecord{}, ErrInvalidQuantity
	}
	rec, err := l.store.AddStock(ctx, productID, qty)
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrProductNotFound) {
			outcome = "not_found"
		}
		l.metrics.StockOp("increase", outcome)
		return StockRecord{}, fmt.Errorf("increase %s: %w", productID, err)
	}
	l.metrics.StockOp("increase", "ok")
	if rec.AvailableStock == qty {
		l.events.BackInStock(ctx, rec)
	}
	return rec, nil
}

// crossedLow reports whether taking qty moved available from above the
// threshold to at or below it.
func crossedLow(after StockRecord, qty int) bool {
	if after.LowStockThreshold <= 0 {
		return false
	}
	before := after.AvailableStock + qty
	return before > after.LowStockThreshold && after.AvailableStock <= after.LowStockThreshold
}
