package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
)

// StockStore keeps the counters in one row per product. Every mutation is a
// single conditional UPDATE; the WHERE clause is the guard.
type StockStore struct{ DB *pgxpool.Pool }

const stockColumns = `product_id, total_stock, available_stock, reserved_stock, sold_count,
	low_stock_threshold, created_at, updated_at, deleted_at`

func scanStock(row pgx.Row) (inventory.StockRecord, error) {
	var r inventory.StockRecord
	err := row.Scan(&r.ProductID, &r.TotalStock, &r.AvailableStock, &r.ReservedStock, &r.SoldCount,
		&r.LowStockThreshold, &r.CreatedAt, &r.UpdatedAt, &r.DeletedAt)
	return r, err
}

func (s *StockStore) Get(ctx context.Context, productID string) (inventory.StockRecord, error) {
	rec, err := scanStock(s.DB.QueryRow(ctx, `SELECT `+stockColumns+` FROM stock WHERE product_id=$1`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.StockRecord{}, inventory.ErrProductNotFound
	}
	return rec, err
}

func (s *StockStore) Create(ctx context.Context, rec inventory.StockRecord) (inventory.StockRecord, bool, error) {
	created, err := scanStock(s.DB.QueryRow(ctx, `
		INSERT INTO stock(product_id, total_stock, available_stock, reserved_stock, sold_count,
			low_stock_threshold, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (product_id) DO NOTHING
		RETURNING `+stockColumns,
		rec.ProductID, rec.TotalStock, rec.AvailableStock, rec.ReservedStock, rec.SoldCount,
		rec.LowStockThreshold, rec.CreatedAt, rec.UpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		cur, err := s.Get(ctx, rec.ProductID)
		return cur, false, err
	}
	if err != nil {
		return inventory.StockRecord{}, false, fmt.Errorf("insert stock %s: %w", rec.ProductID, err)
	}
	return created, true, nil
}

func (s *StockStore) ReserveAvailable(ctx context.Context, productID string, qty int) (inventory.StockRecord, bool, error) {
	return s.guarded(ctx, productID, `
		UPDATE stock SET available_stock = available_stock - $2, reserved_stock = reserved_stock + $2, updated_at = now()
		WHERE product_id = $1 AND available_stock >= $2
		RETURNING `+stockColumns, qty)
}

func (s *StockStore) ReleaseReserved(ctx context.Context, productID string, qty int) (inventory.StockRecord, bool, error) {
	return s.guarded(ctx, productID, `
		UPDATE stock SET reserved_stock = reserved_stock - $2, available_stock = available_stock + $2, updated_at = now()
		WHERE product_id = $1 AND reserved_stock >= $2
		RETURNING `+stockColumns, qty)
}

func (s *StockStore) ConfirmReserved(ctx context.Context, productID string, qty int) (inventory.StockRecord, bool, error) {
	return s.guarded(ctx, productID, `
		UPDATE stock SET reserved_stock = reserved_stock - $2, total_stock = total_stock - $2,
			sold_count = sold_count + $2, updated_at = now()
		WHERE product_id = $1 AND reserved_stock >= $2
		RETURNING `+stockColumns, qty)
}

func (s *StockStore) AddStock(ctx context.Context, productID string, qty int) (inventory.StockRecord, error) {
	rec, ok, err := s.guarded(ctx, productID, `
		UPDATE stock SET total_stock = total_stock + $2, available_stock = available_stock + $2, updated_at = now()
		WHERE product_id = $1
		RETURNING `+stockColumns, qty)
	if err == nil && !ok {
		err = inventory.ErrProductNotFound
	}
	return rec, err
}

// guarded runs a conditional UPDATE. No row back means either the product is
// unknown or the guard failed; the current row tells which.
func (s *StockStore) guarded(ctx context.Context, productID, sql string, qty int) (inventory.StockRecord, bool, error) {
	rec, err := scanStock(s.DB.QueryRow(ctx, sql, productID, qty))
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return inventory.StockRecord{}, false, fmt.Errorf("update stock %s: %w", productID, err)
	}
	cur, err := s.Get(ctx, productID)
	if err != nil {
		return inventory.StockRecord{}, false, err
	}
	return cur, false, nil
}

// Catalog reads unit prices from the products table.
type Catalog struct{ DB *pgxpool.Pool }

func (c *Catalog) UnitPrice(ctx context.Context, productID string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := c.DB.QueryRow(ctx, `SELECT price FROM products WHERE id=$1`, productID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, inventory.ErrProductNotFound
	}
	return price, err
}

// UpsertProduct sets the catalog price of a product.
func (c *Catalog) UpsertProduct(ctx context.Context, productID, name string, price decimal.Decimal) error {
	_, err := c.DB.Exec(ctx, `
		INSERT INTO products(id, name, price) VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price, updated_at = now()`,
		productID, name, price)
	return err
}
