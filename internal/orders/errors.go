package orders

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrOrderNotFound    = errors.New("order not found")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrReturnNotFound   = errors.New("return not found")
	ErrForbidden        = errors.New("actor may not act on this order")
	ErrVersionConflict  = errors.New("order version conflict")
	ErrDuplicateOrderNo = errors.New("duplicate order number")
	ErrDuplicateRequest = errors.New("duplicate request id")
	ErrDuplicateTxn     = errors.New("duplicate external transaction id")
	ErrPaymentDeadline  = errors.New("payment deadline has passed")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// PriceMismatchError reports client-submitted money that does not reconcile.
type PriceMismatchError struct {
	Field     string
	ProductID string
	Expected  decimal.Decimal
	Actual    decimal.Decimal
}

func (e *PriceMismatchError) Error() string {
	if e.ProductID != "" {
		return fmt.Sprintf("price mismatch on %s for product %s: expected %s, got %s",
			e.Field, e.ProductID, e.Expected, e.Actual)
	}
	return fmt.Sprintf("price mismatch on %s: expected %s, got %s", e.Field, e.Expected, e.Actual)
}

func (e *PriceMismatchError) Unwrap() error { return ErrValidation }

type InvalidStateTransitionError struct {
	Machine string
	Current string
	Target  string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("%s status cannot move from %s to %s", e.Machine, e.Current, e.Target)
}

type PaymentAmountMismatchError struct {
	OrderNo  string
	Expected decimal.Decimal
	Actual   decimal.Decimal
}

func (e *PaymentAmountMismatchError) Error() string {
	return fmt.Sprintf("payment for order %s is %s, expected %s", e.OrderNo, e.Actual, e.Expected)
}

// ConcurrentModificationError is surfaced once the single re-read retry also lost.
type ConcurrentModificationError struct {
	OrderID string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("order %s was modified concurrently, please try again", e.OrderID)
}

func (e *ConcurrentModificationError) Unwrap() error { return ErrVersionConflict }
