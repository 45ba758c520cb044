package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type ItemRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type CreateOrderRequest struct {
	// RequestID makes creation idempotent when the client retries.
	RequestID      string          `json:"request_id,omitempty"`
	UserID         string          `json:"user_id"`
	Items          []ItemRequest   `json:"items"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	ShippingFee    decimal.Decimal `json:"shipping_fee"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	ActualAmount   decimal.Decimal `json:"actual_amount"`
}

// ValidateCreateOrder checks that every client-submitted amount reconciles:
// subtotal = unit price x quantity, total = sum of subtotals,
// actual = total - discount + shipping.
func ValidateCreateOrder(req CreateOrderRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return &ValidationError{Field: "userId", Reason: "is required"}
	}
	if len(req.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	for _, f := range []struct {
		name string
		v    decimal.Decimal
	}{
		{"totalAmount", req.TotalAmount},
		{"shippingFee", req.ShippingFee},
		{"discountAmount", req.DiscountAmount},
		{"actualAmount", req.ActualAmount},
	} {
		if f.v.IsNegative() {
			return &ValidationError{Field: f.name, Reason: "must not be negative"}
		}
	}

	sum := decimal.Zero
	for i, it := range req.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return &ValidationError{Field: fmt.Sprintf("items[%d].productId", i), Reason: "is required"}
		}
		if it.Quantity <= 0 {
			return &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must be positive"}
		}
		if it.UnitPrice.IsNegative() {
			return &ValidationError{Field: fmt.Sprintf("items[%d].unitPrice", i), Reason: "must not be negative"}
		}
		want := it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		if !it.Subtotal.Equal(want) {
			return &PriceMismatchError{Field: "subtotal", ProductID: it.ProductID, Expected: want, Actual: it.Subtotal}
		}
		sum = sum.Add(it.Subtotal)
	}

	if !req.TotalAmount.Equal(sum) {
		return &PriceMismatchError{Field: "totalAmount", Expected: sum, Actual: req.TotalAmount}
	}
	if req.DiscountAmount.GreaterThan(req.TotalAmount) {
		return &ValidationError{Field: "discountAmount", Reason: "exceeds total amount"}
	}
	actual := req.TotalAmount.Sub(req.DiscountAmount).Add(req.ShippingFee)
	if !req.ActualAmount.Equal(actual) {
		return &PriceMismatchError{Field: "actualAmount", Expected: actual, Actual: req.ActualAmount}
	}
	return nil
}

// checkCatalogPrices compares each unit price with the catalog, which is the
// source of truth.
func checkCatalogPrices(ctx context.Context, catalog Catalog, items []ItemRequest) error {
	for _, it := range items {
		price, err := catalog.UnitPrice(ctx, it.ProductID)
		if err != nil {
			return fmt.Errorf("catalog price for %s: %w", it.ProductID, err)
		}
		if !it.UnitPrice.Equal(price) {
			return &PriceMismatchError{Field: "unitPrice", ProductID: it.ProductID, Expected: price, Actual: it.UnitPrice}
		}
	}
	return nil
}
