package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
)

type ReservationStore struct {
	mu   sync.Mutex
	rows map[string]inventory.Reservation
}

func NewReservationStore() *ReservationStore {
	return &ReservationStore{rows: map[string]inventory.Reservation{}}
}

func (s *ReservationStore) Insert(_ context.Context, r inventory.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[r.ID]; ok {
		return fmt.Errorf("reservation %s already exists", r.ID)
	}
	s.rows[r.ID] = r
	return nil
}

func (s *ReservationStore) Get(_ context.Context, id string) (inventory.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return inventory.Reservation{}, inventory.ErrReservationMissing
	}
	return r, nil
}

func (s *ReservationStore) Transition(_ context.Context, id string, from, to inventory.State, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return false, inventory.ErrReservationMissing
	}
	if r.State != from {
		return false, nil
	}
	r.State = to
	r.Touch(at)
	s.rows[id] = r
	return true, nil
}

func (s *ReservationStore) ListExpired(_ context.Context, now time.Time, limit int) ([]inventory.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Reservation
	for _, r := range s.rows {
		if r.State == inventory.StateActive && !now.Before(r.ExpiresAt) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ReservationStore) ListByHolder(_ context.Context, holderID string) ([]inventory.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Reservation
	for _, r := range s.rows {
		if r.HolderID == holderID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}
