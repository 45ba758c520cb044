package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/audit"
	"github.com/ariefcatur/storefront-orders/internal/metrics"
)

type State string

const (
	StateActive    State = "ACTIVE"
	StateConfirmed State = "CONFIRMED"
	StateReleased  State = "RELEASED"
	StateExpired   State = "EXPIRED"
)

// Reservation is a time-bounded hold on stock. Once it leaves ACTIVE it is never mutated again.
type Reservation struct {
	ID        string    `json:"reservation_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	HolderID  string    `json:"holder_id"`
	State     State     `json:"state"`
	ExpiresAt time.Time `json:"expires_at"`
	audit.Meta
}

// Live reports whether the hold can still be confirmed at now.
func (r Reservation) Live(now time.Time) bool {
	return r.State == StateActive && now.Before(r.ExpiresAt)
}

type ReservationStore interface {
	Insert(ctx context.Context, r Reservation) error
	// Get returns ErrReservationMissing for unknown ids.
	Get(ctx context.Context, id string) (Reservation, error)
	// Transition moves id from -> to only if the row is currently in from.
	Transition(ctx context.Context, id string, from, to State, at time.Time) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Reservation, error)
	ListByHolder(ctx context.Context, holderID string) ([]Reservation, error)
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns reservation state. The ACTIVE -> terminal transition is the
// guard: whoever wins it applies the matching ledger operation, exactly once.
type Manager struct {
	log     *zap.Logger
	ledger  *Ledger
	store   ReservationStore
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewManager(log *zap.Logger, ledger *Ledger, store ReservationStore, m *metrics.Metrics, opts ...Option) *Manager {
	mgr := &Manager{
		log:     log,
		ledger:  ledger,
		store:   store,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(mgr)
	}
	return mgr
}

func (m *Manager) Reserve(ctx context.Context, productID string, qty int, holderID string, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		return Reservation{}, fmt.Errorf("reserve %s: ttl must be positive", productID)
	}
	hold, err := m.ledger.Reserve(ctx, productID, qty)
	if err != nil {
		m.metrics.Reservation("rejected")
		return Reservation{}, err
	}

	now := m.now()
	r := Reservation{
		ID:        uuid.NewString(),
		ProductID: productID,
		Quantity:  qty,
		HolderID:  holderID,
		State:     StateActive,
		ExpiresAt: now.Add(ttl),
		Meta:      audit.New(now),
	}
	if err := m.store.Insert(ctx, r); err != nil {
		if _, rerr := m.ledger.Release(ctx, hold.ProductID, hold.Quantity); rerr != nil {
			m.log.Error("compensating release failed",
				zap.String("product_id", productID), zap.Int("qty", qty), zap.Error(rerr))
		}
		return Reservation{}, fmt.Errorf("persist reservation: %w", err)
	}
	m.metrics.Reservation("active")
	return r, nil
}

func (m *Manager) Get(ctx context.Context, id string) (Reservation, error) {
	r, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrReservationMissing) {
		return Reservation{}, &ReservationNotFoundError{ID: id}
	}
	return r, err
}

func (m *Manager) ListByHolder(ctx context.Context, holderID string) ([]Reservation, error) {
	return m.store.ListByHolder(ctx, holderID)
}

// Confirm turns the hold into a permanent stock decrement. Confirming twice is a no-op.
// A hold that is still ACTIVE but past its expiry is expired here instead.
func (m *Manager) Confirm(ctx context.Context, id string) error {
	r, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	switch r.State {
	case StateConfirmed:
		return nil
	case StateReleased, StateExpired:
		return &ReservationTerminalError{ID: id, State: r.State}
	}

	now := m.now()
	if !r.Live(now) {
		if _, err := m.expire(ctx, r, now); err != nil {
			return err
		}
		return m.settled(ctx, id, StateConfirmed)
	}

	won, err := m.store.Transition(ctx, id, StateActive, StateConfirmed, now)
	if err != nil {
		return fmt.Errorf("confirm reservation %s: %w", id, err)
	}
	if !won {
		return m.settled(ctx, id, StateConfirmed)
	}
	if _, err := m.ledger.Confirm(ctx, r.ProductID, r.Quantity); err != nil {
		m.revert(ctx, id, StateConfirmed, now)
		return fmt.Errorf("confirm reservation %s: %w", id, err)
	}
	m.metrics.Reservation("confirmed")
	return nil
}

// Release hands the hold back to available stock. Releasing twice is a no-op.
func (m *Manager) Release(ctx context.Context, id string) error {
	r, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	switch r.State {
	case StateReleased:
		return nil
	case StateConfirmed, StateExpired:
		return &ReservationTerminalError{ID: id, State: r.State}
	}

	now := m.now()
	won, err := m.store.Transition(ctx, id, StateActive, StateReleased, now)
	if err != nil {
		return fmt.Errorf("release reservation %s: %w", id, err)
	}
	if !won {
		return m.settled(ctx, id, StateReleased)
	}
	if _, err := m.ledger.Release(ctx, r.ProductID, r.Quantity); err != nil {
		m.revert(ctx, id, StateReleased, now)
		return fmt.Errorf("release reservation %s: %w", id, err)
	}
	m.metrics.Reservation("released")
	return nil
}

// Restock adds returned or refunded goods back to the product.
func (m *Manager) Restock(ctx context.Context, productID string, qty int) error {
	_, err := m.ledger.Increase(ctx, productID, qty)
	return err
}

// SweepExpired expires up to limit ACTIVE reservations past their deadline and
// returns how many this call won. Safe to run concurrently from several replicas.
func (m *Manager) SweepExpired(ctx context.Context, limit int) (int, error) {
	now := m.now()
	due, err := m.store.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list expired reservations: %w", err)
	}
	n := 0
	for _, r := range due {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		won, err := m.expire(ctx, r, now)
		if err != nil {
			m.log.Warn("expire reservation failed", zap.String("reservation_id", r.ID), zap.Error(err))
			continue
		}
		if won {
			n++
		}
	}
	return n, nil
}

func (m *Manager) expire(ctx context.Context, r Reservation, now time.Time) (bool, error) {
	won, err := m.store.Transition(ctx, r.ID, StateActive, StateExpired, now)
	if err != nil || !won {
		return false, err
	}
	if _, err := m.ledger.Release(ctx, r.ProductID, r.Quantity); err != nil {
		m.revert(ctx, r.ID, StateExpired, now)
		return false, err
	}
	m.metrics.Reservation("expired")
	m.log.Info("reservation expired",
		zap.String("reservation_id", r.ID), zap.String("holder_id", r.HolderID), zap.String("product_id", r.ProductID))
	return true, nil
}

// revert puts a claimed reservation back to ACTIVE after its ledger step failed,
// so the next confirm, release or sweep can retry it.
func (m *Manager) revert(ctx context.Context, id string, from State, now time.Time) {
	if _, err := m.store.Transition(ctx, id, from, StateActive, now); err != nil {
		m.log.Error("revert reservation claim failed",
			zap.String("reservation_id", id), zap.String("from", string(from)), zap.Error(err))
	}
}

// settled re-reads a reservation after losing a race and reports whether it
// ended in want.
func (m *Manager) settled(ctx context.Context, id string, want State) error {
	r, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.State == want {
		return nil
	}
	return &ReservationTerminalError{ID: id, State: r.State}
}
