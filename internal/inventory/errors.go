package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound       = errors.New("product not found")
	ErrInvalidQuantity       = errors.New("quantity must be positive")
	ErrStockCounterUnderflow = errors.New("stock counter would go negative")
	// ErrReservationMissing is returned by stores; Manager reports it as *ReservationNotFoundError.
	ErrReservationMissing = errors.New("reservation missing")
)

type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

type ReservationNotFoundError struct {
	ID string
}

func (e *ReservationNotFoundError) Error() string {
	return fmt.Sprintf("reservation %s not found", e.ID)
}

// ReservationTerminalError reports a confirm/release against a reservation
// that already left ACTIVE in the other direction.
type ReservationTerminalError struct {
	ID    string
	State State
}

func (e *ReservationTerminalError) Error() string {
	return fmt.Sprintf("reservation %s is %s", e.ID, e.State)
}
