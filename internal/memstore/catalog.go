package memstore

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
)

// Catalog is a fixed price list.
type Catalog struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func NewCatalog() *Catalog {
	return &Catalog{prices: map[string]decimal.Decimal{}}
}

func (c *Catalog) SetPrice(productID string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[productID] = price
}

func (c *Catalog) UnitPrice(_ context.Context, productID string) (decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[productID]
	if !ok {
		return decimal.Zero, inventory.ErrProductNotFound
	}
	return p, nil
}

func (c *Catalog) UpsertProduct(_ context.Context, productID, _ string, price decimal.Decimal) error {
	c.SetPrice(productID, price)
	return nil
}
