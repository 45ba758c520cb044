package orders_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func validRequest() orders.CreateOrderRequest {
	return orders.CreateOrderRequest{
		UserID: "u-1",
		Items: []orders.ItemRequest{
			{ProductID: "sku-a", Quantity: 2, UnitPrice: d("10.00"), Subtotal: d("20.00")},
			{ProductID: "sku-b", Quantity: 1, UnitPrice: d("25.50"), Subtotal: d("25.50")},
		},
		TotalAmount:    d("45.50"),
		ShippingFee:    d("5.00"),
		DiscountAmount: d("10.00"),
		ActualAmount:   d("40.50"),
	}
}

func TestValidateCreateOrder(t *testing.T) {
	require.NoError(t, orders.ValidateCreateOrder(validRequest()))

	cases := []struct {
		name   string
		mutate func(*orders.CreateOrderRequest)
		field  string
		price  bool
	}{
		{"no user", func(r *orders.CreateOrderRequest) { r.UserID = " " }, "userId", false},
		{"no items", func(r *orders.CreateOrderRequest) { r.Items = nil }, "items", false},
		{"zero quantity", func(r *orders.CreateOrderRequest) { r.Items[0].Quantity = 0 }, "items[0].quantity", false},
		{"negative price", func(r *orders.CreateOrderRequest) { r.Items[1].UnitPrice = d("-1") }, "items[1].unitPrice", false},
		{"bad subtotal", func(r *orders.CreateOrderRequest) { r.Items[0].Subtotal = d("19.99") }, "subtotal", true},
		{"bad total", func(r *orders.CreateOrderRequest) { r.TotalAmount = d("45.00") }, "totalAmount", true},
		{"discount above total", func(r *orders.CreateOrderRequest) {
			r.DiscountAmount = d("50.00")
			r.ActualAmount = d("0.50")
		}, "discountAmount", false},
		{"bad actual", func(r *orders.CreateOrderRequest) { r.ActualAmount = d("45.50") }, "actualAmount", true},
		{"negative shipping", func(r *orders.CreateOrderRequest) { r.ShippingFee = d("-5") }, "shippingFee", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			err := orders.ValidateCreateOrder(req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, orders.ErrValidation))

			if tc.price {
				var pm *orders.PriceMismatchError
				require.ErrorAs(t, err, &pm)
				assert.Equal(t, tc.field, pm.Field)
				return
			}
			var ve *orders.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestValidateCreateOrder_TrailingZerosAreEqual(t *testing.T) {
	req := validRequest()
	req.Items[0].Subtotal = d("20")
	require.NoError(t, orders.ValidateCreateOrder(req))
}
