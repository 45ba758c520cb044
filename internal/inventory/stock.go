package inventory

import (
	"context"

	"github.com/ariefcatur/storefront-orders/internal/audit"
)

// StockRecord holds the counters of one product. TotalStock always equals
// AvailableStock + ReservedStock.
type StockRecord struct {
	ProductID         string `json:"product_id"`
	TotalStock        int    `json:"total_stock"`
	AvailableStock    int    `json:"available_stock"`
	ReservedStock     int    `json:"reserved_stock"`
	SoldCount         int    `json:"sold_count"`
	LowStockThreshold int    `json:"low_stock_threshold"`
	audit.Meta
}

// Hold is what Ledger.Reserve hands back: proof that qty left the available pool.
type Hold struct {
	ProductID string
	Quantity  int
	After     StockRecord
}

// StockStore is the storage side of the ledger. Every mutating method must be a
// single atomic conditional row update. ok=false means the guard did not hold;
// the returned record is then the current row, read for reporting only.
type StockStore interface {
	Get(ctx context.Context, productID string) (StockRecord, error)
	// Create inserts a new record unless one exists; created=false returns the existing row.
	Create(ctx context.Context, rec StockRecord) (StockRecord, bool, error)
	// available -= qty, reserved += qty WHERE available >= qty
	ReserveAvailable(ctx context.Context, productID string, qty int) (StockRecord, bool, error)
	// reserved -= qty, available += qty WHERE reserved >= qty
	ReleaseReserved(ctx context.Context, productID string, qty int) (StockRecord, bool, error)
	// reserved -= qty, total -= qty, sold += qty WHERE reserved >= qty
	ConfirmReserved(ctx context.Context, productID string, qty int) (StockRecord, bool, error)
	// total += qty, available += qty
	AddStock(ctx context.Context, productID string, qty int) (StockRecord, error)
}

// StockEvents receives availability signals. Implementations must not block.
type StockEvents interface {
	LowStock(ctx context.Context, rec StockRecord)
	BackInStock(ctx context.Context, rec StockRecord)
}

type nopStockEvents struct{}

func (nopStockEvents) LowStock(context.Context, StockRecord)    {}
func (nopStockEvents) BackInStock(context.Context, StockRecord) {}
