// Package gateway talks to the external payment provider.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

type initiateRequest struct {
	OrderNo string          `json:"order_no"`
	Amount  decimal.Decimal `json:"amount"`
	Method  string          `json:"method"`
}

// HTTPGateway posts payment initiations to {base}/payments. It makes exactly
// one attempt; the buyer retries by asking to pay again.
type HTTPGateway struct {
	base   string
	client *http.Client
}

func NewHTTP(base string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPGateway{base: strings.TrimRight(base, "/"), client: &http.Client{Timeout: timeout}}
}

func (g *HTTPGateway) InitiatePayment(ctx context.Context, orderNo string, amount decimal.Decimal, method string) (orders.PaymentParams, error) {
	data, err := json.Marshal(initiateRequest{OrderNo: orderNo, Amount: amount, Method: method})
	if err != nil {
		return orders.PaymentParams{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+"/payments", bytes.NewReader(data))
	if err != nil {
		return orders.PaymentParams{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := g.client.Do(req)
	if err != nil {
		return orders.PaymentParams{}, fmt.Errorf("payment gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return orders.PaymentParams{}, fmt.Errorf("payment gateway: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var params orders.PaymentParams
	if err := json.NewDecoder(resp.Body).Decode(&params); err != nil {
		return orders.PaymentParams{}, fmt.Errorf("payment gateway: decode: %w", err)
	}
	if params.OrderNo == "" {
		params.OrderNo = orderNo
	}
	if params.Method == "" {
		params.Method = method
	}
	if params.Amount.IsZero() {
		params.Amount = amount
	}
	return params, nil
}

// Sandbox hands out a checkout link without calling anyone. Used when no
// gateway URL is configured.
type Sandbox struct {
	CheckoutBase string
}

func (s Sandbox) InitiatePayment(_ context.Context, orderNo string, amount decimal.Decimal, method string) (orders.PaymentParams, error) {
	base := s.CheckoutBase
	if base == "" {
		base = "https://sandbox.pay.local"
	}
	q := url.Values{"amount": {amount.StringFixed(2)}, "method": {method}}
	return orders.PaymentParams{
		OrderNo:    orderNo,
		Amount:     amount,
		Method:     method,
		PaymentURL: fmt.Sprintf("%s/checkout/%s?%s", strings.TrimRight(base, "/"), url.PathEscape(orderNo), q.Encode()),
	}, nil
}
