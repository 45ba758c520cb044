// Package memstore holds in-process implementations of the storage ports.
// Each store serializes access to its rows with one mutex, which stands in for
// the row-level atomicity of a conditional UPDATE in PostgreSQL.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
)

type StockStore struct {
	mu   sync.Mutex
	rows map[string]inventory.StockRecord
}

func NewStockStore() *StockStore {
	return &StockStore{rows: map[string]inventory.StockRecord{}}
}

func (s *StockStore) Get(_ context.Context, productID string) (inventory.StockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[productID]
	if !ok {
		return inventory.StockRecord{}, inventory.ErrProductNotFound
	}
	return rec, nil
}

func (s *StockStore) Create(_ context.Context, rec inventory.StockRecord) (inventory.StockRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.rows[rec.ProductID]; ok {
		return cur, false, nil
	}
	s.rows[rec.ProductID] = rec
	return rec, true, nil
}

func (s *StockStore) ReserveAvailable(_ context.Context, productID string, qty int) (inventory.StockRecord, bool, error) {
	return s.update(productID, func(r *inventory.StockRecord) bool {
		if r.AvailableStock < qty {
			return false
		}
		r.AvailableStock -= qty
		r.ReservedStock += qty
		return true
	})
}

func (s *StockStore) ReleaseReserved(_ context.Context, productID string, qty int) (inventory.StockRecord, bool, error) {
	return s.update(productID, func(r *inventory.StockRecord) bool {
		if r.ReservedStock < qty {
			return false
		}
		r.ReservedStock -= qty
		r.AvailableStock += qty
		return true
	})
}

func (s *StockStore) ConfirmReserved(_ context.Context, productID string, qty int) (inventory.StockRecord, bool, error) {
	return s.update(productID, func(r *inventory.StockRecord) bool {
		if r.ReservedStock < qty {
			return false
		}
		r.ReservedStock -= qty
		r.TotalStock -= qty
		r.SoldCount += qty
		return true
	})
}

func (s *StockStore) AddStock(_ context.Context, productID string, qty int) (inventory.StockRecord, error) {
	rec, _, err := s.update(productID, func(r *inventory.StockRecord) bool {
		r.TotalStock += qty
		r.AvailableStock += qty
		return true
	})
	return rec, err
}

func (s *StockStore) update(productID string, apply func(*inventory.StockRecord) bool) (inventory.StockRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[productID]
	if !ok {
		return inventory.StockRecord{}, false, inventory.ErrProductNotFound
	}
	if !apply(&rec) {
		return rec, false, nil
	}
	rec.Touch(time.Now().UTC())
	s.rows[productID] = rec
	return rec, true, nil
}
