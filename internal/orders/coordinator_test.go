package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/memstore"
	"github.com/ariefcatur/storefront-orders/internal/orders"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu       sync.Mutex
	statuses []orders.StatusChangedPayload
	refunds  []orders.RefundRequestedPayload
	reviews  []orders.ReviewRequiredPayload
}

func (r *recorder) StatusChanged(_ context.Context, ev orders.StatusChangedPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, ev)
}

func (r *recorder) RefundRequested(_ context.Context, ev orders.RefundRequestedPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refunds = append(r.refunds, ev)
}

func (r *recorder) ReviewRequired(_ context.Context, ev orders.ReviewRequiredPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reviews = append(r.reviews, ev)
}

func (r *recorder) counts() (statuses, refunds, reviews int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses), len(r.refunds), len(r.reviews)
}

type stubGateway struct {
	calls int
	err   error
}

func (g *stubGateway) InitiatePayment(_ context.Context, orderNo string, amount decimal.Decimal, method string) (orders.PaymentParams, error) {
	g.calls++
	if g.err != nil {
		return orders.PaymentParams{}, g.err
	}
	return orders.PaymentParams{
		OrderNo:    orderNo,
		Amount:     amount,
		Method:     method,
		PaymentURL: "https://pay.example/" + orderNo,
	}, nil
}

// conflictingStore loses the version race a fixed number of times.
type conflictingStore struct {
	*memstore.OrderStore
	mu        sync.Mutex
	conflicts int
}

func (s *conflictingStore) Update(ctx context.Context, o orders.Order, expected int) error {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return orders.ErrVersionConflict
	}
	s.mu.Unlock()
	return s.OrderStore.Update(ctx, o, expected)
}

// flakyRestock fails the first Restock calls for the listed products.
type flakyRestock struct {
	*inventory.Manager
	mu    sync.Mutex
	fails map[string]int
}

func (f *flakyRestock) Restock(ctx context.Context, productID string, qty int) error {
	f.mu.Lock()
	if f.fails[productID] > 0 {
		f.fails[productID]--
		f.mu.Unlock()
		return errors.New("db blip")
	}
	f.mu.Unlock()
	return f.Manager.Restock(ctx, productID, qty)
}

type line struct {
	product string
	qty     int
	price   string
}

func request(userID string, lines ...line) orders.CreateOrderRequest {
	req := orders.CreateOrderRequest{UserID: userID}
	total := decimal.Zero
	for _, l := range lines {
		p := decimal.RequireFromString(l.price)
		sub := p.Mul(decimal.NewFromInt(int64(l.qty)))
		req.Items = append(req.Items, orders.ItemRequest{ProductID: l.product, Quantity: l.qty, UnitPrice: p, Subtotal: sub})
		total = total.Add(sub)
	}
	req.TotalAmount = total
	req.ActualAmount = total
	return req
}

var (
	buyer    = orders.Actor{ID: "u-1", Role: orders.RoleCustomer}
	stranger = orders.Actor{ID: "u-2", Role: orders.RoleCustomer}
	merchant = orders.Actor{ID: "m-1", Role: orders.RoleMerchant}
)

type CoordinatorSuite struct {
	suite.Suite
	ctx      context.Context
	clock    *fakeClock
	ledger   *inventory.Ledger
	manager  *inventory.Manager
	reserve  orders.Reservations
	orders   *memstore.OrderStore
	payments *memstore.PaymentStore
	returns  *memstore.ReturnStore
	catalog  *memstore.Catalog
	events   *recorder
	gateway  *stubGateway
	coord    *orders.Coordinator
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.ledger = inventory.NewLedger(zap.NewNop(), memstore.NewStockStore(), nil, nil)
	s.manager = inventory.NewManager(zap.NewNop(), s.ledger, memstore.NewReservationStore(), nil, inventory.WithClock(s.clock.Now))
	s.reserve = s.manager
	s.orders = memstore.NewOrderStore()
	s.payments = memstore.NewPaymentStore()
	s.returns = memstore.NewReturnStore()
	s.catalog = memstore.NewCatalog()
	s.events = &recorder{}
	s.gateway = &stubGateway{}

	for _, p := range []struct {
		id    string
		stock int
		price string
	}{
		{"sku-a", 10, "10.00"},
		{"sku-b", 5, "25.50"},
		{"sku-c", 1, "5.00"},
	} {
		_, _, err := s.ledger.Seed(s.ctx, p.id, p.stock, 0)
		s.Require().NoError(err)
		s.catalog.SetPrice(p.id, decimal.RequireFromString(p.price))
	}
	s.coord = s.build(s.orders, nil)
}

func (s *CoordinatorSuite) build(store orders.OrderStore, rnd orders.RandSource) *orders.Coordinator {
	return orders.NewCoordinator(orders.Deps{
		Log:            zap.NewNop(),
		Orders:         store,
		Payments:       s.payments,
		Returns:        s.returns,
		Reservations:   s.reserve,
		Catalog:        s.catalog,
		Gateway:        s.gateway,
		Events:         s.events,
		ReservationTTL: 15 * time.Minute,
		Clock:          s.clock.Now,
		Rand:           rnd,
	})
}

func (s *CoordinatorSuite) stock(productID string) inventory.StockRecord {
	rec, err := s.ledger.Get(s.ctx, productID)
	s.Require().NoError(err)
	s.Equal(rec.TotalStock, rec.AvailableStock+rec.ReservedStock, "ledger out of balance for %s", productID)
	return rec
}

func (s *CoordinatorSuite) order(id string) orders.Order {
	o, err := s.coord.GetOrder(s.ctx, id)
	s.Require().NoError(err)
	return o
}

func (s *CoordinatorSuite) create(lines ...line) orders.Order {
	o, err := s.coord.CreateOrder(s.ctx, request(buyer.ID, lines...))
	s.Require().NoError(err)
	return o
}

func (s *CoordinatorSuite) pay(o orders.Order, txn string) (orders.CallbackResult, error) {
	return s.coord.HandlePaymentCallback(s.ctx, orders.PaymentCallback{
		OrderNo:               o.OrderNo,
		ExternalTransactionID: txn,
		Amount:                o.ActualAmount,
		Status:                orders.PaymentSuccess,
	})
}

func (s *CoordinatorSuite) paymentStatus(o orders.Order) orders.PaymentStatus {
	p, err := s.payments.GetByExternalID(s.ctx, o.PaymentTxnID)
	s.Require().NoError(err)
	return p.Status
}

func (s *CoordinatorSuite) delivered(lines ...line) orders.Order {
	o := s.paid(lines...)
	s.Require().NoError(s.coord.ConfirmOrder(s.ctx, o.ID, merchant))
	s.Require().NoError(s.coord.ShipOrder(s.ctx, o.ID, merchant, "JNE-1"))
	s.Require().NoError(s.coord.MarkDelivered(s.ctx, o.ID, merchant))
	return s.order(o.ID)
}

func (s *CoordinatorSuite) paid(lines ...line) orders.Order {
	o := s.create(lines...)
	_, err := s.pay(o, "txn-"+o.ID)
	s.Require().NoError(err)
	return s.order(o.ID)
}

func (s *CoordinatorSuite) TestCreateOrderReservesStock() {
	o := s.create(line{"sku-b", 1, "25.50"}, line{"sku-a", 2, "10.00"})

	s.Equal(orders.StatusPendingPayment, o.Status)
	s.Equal(orders.PaymentPending, o.PaymentStatus)
	s.Len(o.OrderNo, 20)
	s.Equal(s.clock.Now().Add(15*time.Minute), o.PaymentDeadline)
	s.Require().Len(o.ReservationIDs, 2)

	first, err := s.manager.Get(s.ctx, o.ReservationIDs[0])
	s.Require().NoError(err)
	s.Equal("sku-a", first.ProductID, "reservations are taken in ascending product order")
	s.Equal(o.ID, first.HolderID)

	a := s.stock("sku-a")
	s.Equal(8, a.AvailableStock)
	s.Equal(2, a.ReservedStock)

	statuses, _, _ := s.events.counts()
	s.Equal(1, statuses)
}

// Scenario B: a paid order confirms its holds for good.
func (s *CoordinatorSuite) TestPaymentConfirmsReservations() {
	o := s.create(line{"sku-a", 2, "10.00"})

	res, err := s.pay(o, "txn-1")
	s.Require().NoError(err)
	s.False(res.Duplicate)
	s.Equal(orders.PaymentSuccess, res.Status)

	got := s.order(o.ID)
	s.Equal(orders.StatusPaid, got.Status)
	s.Equal(orders.PaymentSuccess, got.PaymentStatus)
	s.Equal("txn-1", got.PaymentTxnID)
	s.NotNil(got.PaidAt)

	a := s.stock("sku-a")
	s.Equal(8, a.TotalStock)
	s.Equal(8, a.AvailableStock)
	s.Equal(0, a.ReservedStock)
	s.Equal(2, a.SoldCount)

	rec, err := s.payments.GetByExternalID(s.ctx, "txn-1")
	s.Require().NoError(err)
	s.Equal(orders.PaymentSuccess, rec.Status)
}

func (s *CoordinatorSuite) TestCallbackReplayIsNoop() {
	o := s.create(line{"sku-a", 2, "10.00"})
	_, err := s.pay(o, "txn-1")
	s.Require().NoError(err)
	before := s.order(o.ID)
	statuses, _, _ := s.events.counts()

	for i := 0; i < 3; i++ {
		res, err := s.pay(o, "txn-1")
		s.Require().NoError(err)
		s.True(res.Duplicate)
		s.Equal(o.ID, res.OrderID)
	}

	s.Equal(before, s.order(o.ID))
	s.Equal(2, s.stock("sku-a").SoldCount)
	after, _, _ := s.events.counts()
	s.Equal(statuses, after)
}

// Scenario C: the hold lapsed before the money arrived.
func (s *CoordinatorSuite) TestCallbackAfterExpiryLeavesOrderUntouched() {
	o := s.create(line{"sku-a", 2, "10.00"})
	s.clock.Advance(16 * time.Minute)
	n, err := s.manager.SweepExpired(s.ctx, 100)
	s.Require().NoError(err)
	s.Equal(1, n)

	_, err = s.pay(o, "txn-late")
	var terminal *inventory.ReservationTerminalError
	s.Require().ErrorAs(err, &terminal)
	s.Equal(inventory.StateExpired, terminal.State)

	got := s.order(o.ID)
	s.Equal(orders.StatusPendingPayment, got.Status)
	s.Empty(got.PaymentTxnID)

	rec, err := s.payments.GetByExternalID(s.ctx, "txn-late")
	s.Require().NoError(err)
	s.NotEmpty(rec.ReviewReason)
	_, _, reviews := s.events.counts()
	s.Equal(1, reviews)

	a := s.stock("sku-a")
	s.Equal(10, a.AvailableStock)
	s.Equal(0, a.SoldCount)
}

func (s *CoordinatorSuite) TestCallbackAfterDeadlineBeforeSweep() {
	o := s.create(line{"sku-a", 1, "10.00"})
	s.clock.Advance(15 * time.Minute)

	_, err := s.pay(o, "txn-late")
	var terminal *inventory.ReservationTerminalError
	s.Require().ErrorAs(err, &terminal)
	s.Equal(orders.StatusPendingPayment, s.order(o.ID).Status)
	s.Equal(1, s.stock("sku-a").ReservedStock, "the sweeper still owns the release")
}

func (s *CoordinatorSuite) TestCallbackAmountMismatch() {
	o := s.create(line{"sku-a", 1, "10.00"})

	_, err := s.coord.HandlePaymentCallback(s.ctx, orders.PaymentCallback{
		OrderNo:               o.OrderNo,
		ExternalTransactionID: "txn-short",
		Amount:                decimal.RequireFromString("9.00"),
		Status:                orders.PaymentSuccess,
	})
	var mismatch *orders.PaymentAmountMismatchError
	s.Require().ErrorAs(err, &mismatch)
	s.True(mismatch.Expected.Equal(decimal.RequireFromString("10")))
	s.Equal(orders.StatusPendingPayment, s.order(o.ID).Status)

	res, err := s.coord.HandlePaymentCallback(s.ctx, orders.PaymentCallback{
		OrderNo:               o.OrderNo,
		ExternalTransactionID: "txn-short",
		Amount:                decimal.RequireFromString("9.00"),
		Status:                orders.PaymentSuccess,
	})
	s.Require().NoError(err)
	s.True(res.Duplicate, "a flagged transaction is not processed twice")
	_, _, reviews := s.events.counts()
	s.Equal(1, reviews)
}

func (s *CoordinatorSuite) TestFailedCallbackThenRetrySucceeds() {
	o := s.create(line{"sku-a", 1, "10.00"})

	res, err := s.coord.HandlePaymentCallback(s.ctx, orders.PaymentCallback{
		OrderNo:               o.OrderNo,
		ExternalTransactionID: "txn-declined",
		Amount:                o.ActualAmount,
		Status:                orders.PaymentFailed,
	})
	s.Require().NoError(err)
	s.Equal(orders.PaymentFailed, res.Status)
	s.Equal(orders.StatusPendingPayment, s.order(o.ID).Status)

	_, err = s.pay(o, "txn-ok")
	s.Require().NoError(err)
	s.Equal(orders.StatusPaid, s.order(o.ID).Status)
}

func (s *CoordinatorSuite) TestCallbackValidation() {
	_, err := s.coord.HandlePaymentCallback(s.ctx, orders.PaymentCallback{OrderNo: "x", Status: orders.PaymentSuccess})
	s.ErrorIs(err, orders.ErrValidation)

	_, err = s.coord.HandlePaymentCallback(s.ctx, orders.PaymentCallback{
		OrderNo: "nope", ExternalTransactionID: "t", Status: orders.PaymentSuccess,
	})
	s.ErrorIs(err, orders.ErrOrderNotFound)
}

func (s *CoordinatorSuite) TestInitiatePaymentThenCallbackClaimsAttempt() {
	o := s.create(line{"sku-a", 1, "10.00"})

	params, err := s.coord.InitiatePayment(s.ctx, o.ID, buyer, "VA_BCA")
	s.Require().NoError(err)
	s.Equal(o.OrderNo, params.OrderNo)
	s.True(params.Amount.Equal(o.ActualAmount))
	s.Equal(orders.PaymentProcessing, s.order(o.ID).PaymentStatus)

	_, err = s.pay(o, "txn-va")
	s.Require().NoError(err)

	attempts, err := s.payments.ListByOrder(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Require().Len(attempts, 1)
	s.Equal("txn-va", attempts[0].ExternalTransactionID)
	s.Equal("VA_BCA", attempts[0].Method)
	s.Equal(orders.PaymentSuccess, attempts[0].Status)
}

func (s *CoordinatorSuite) TestInitiatePaymentRules() {
	o := s.create(line{"sku-a", 1, "10.00"})

	_, err := s.coord.InitiatePayment(s.ctx, o.ID, stranger, "VA_BCA")
	s.ErrorIs(err, orders.ErrForbidden)

	s.clock.Advance(15 * time.Minute)
	_, err = s.coord.InitiatePayment(s.ctx, o.ID, buyer, "VA_BCA")
	s.ErrorIs(err, orders.ErrPaymentDeadline)
	s.Equal(0, s.gateway.calls)
}

func (s *CoordinatorSuite) TestCancelPendingReleasesStock() {
	o := s.create(line{"sku-a", 3, "10.00"}, line{"sku-c", 1, "5.00"})

	s.Require().NoError(s.coord.CancelOrder(s.ctx, o.ID, buyer, "changed my mind"))

	got := s.order(o.ID)
	s.Equal(orders.StatusCancelled, got.Status)
	s.Equal(orders.PaymentCancelled, got.PaymentStatus)
	s.Equal("changed my mind", got.CancelReason)
	s.NotNil(got.CancelledAt)
	s.Equal(10, s.stock("sku-a").AvailableStock)
	s.Equal(1, s.stock("sku-c").AvailableStock)
}

func (s *CoordinatorSuite) TestCancelToleratesExpiredReservations() {
	o := s.create(line{"sku-a", 2, "10.00"})
	s.clock.Advance(20 * time.Minute)
	_, err := s.manager.SweepExpired(s.ctx, 100)
	s.Require().NoError(err)

	s.Require().NoError(s.coord.CancelOrder(s.ctx, o.ID, buyer, ""))
	s.Equal(orders.StatusCancelled, s.order(o.ID).Status)
	s.Equal(10, s.stock("sku-a").AvailableStock)
}

func (s *CoordinatorSuite) TestCancelPaidRequestsRefund() {
	o := s.paid(line{"sku-a", 2, "10.00"})

	s.Require().NoError(s.coord.CancelOrder(s.ctx, o.ID, buyer, "too slow"))

	got := s.order(o.ID)
	s.Equal(orders.StatusRefunding, got.Status)
	s.Equal(orders.PaymentRefunding, got.PaymentStatus)
	s.Equal(orders.PaymentRefunding, s.paymentStatus(got))
	s.Require().Len(s.events.refunds, 1)
	s.True(s.events.refunds[0].Amount.Equal(o.ActualAmount))
	s.Equal(o.PaymentTxnID, s.events.refunds[0].PaymentTxnID)
}

func (s *CoordinatorSuite) TestCancelForbiddenForOtherUsers() {
	o := s.create(line{"sku-a", 1, "10.00"})
	s.ErrorIs(s.coord.CancelOrder(s.ctx, o.ID, stranger, ""), orders.ErrForbidden)
	s.NoError(s.coord.CancelOrder(s.ctx, o.ID, orders.Actor{ID: "ops", Role: orders.RoleAdmin}, ""))
}

// Scenario D: a completed order cannot be cancelled.
func (s *CoordinatorSuite) TestCompletedOrderCannotBeCancelled() {
	o := s.paid(line{"sku-a", 1, "10.00"})
	s.Require().NoError(s.coord.ConfirmOrder(s.ctx, o.ID, merchant))
	s.Require().NoError(s.coord.ShipOrder(s.ctx, o.ID, merchant, "JNE-123"))
	s.Require().NoError(s.coord.MarkDelivered(s.ctx, o.ID, merchant))
	s.Require().NoError(s.coord.ConfirmDelivery(s.ctx, o.ID, buyer))

	done := s.order(o.ID)
	s.Equal(orders.StatusCompleted, done.Status)
	s.Equal("JNE-123", done.TrackingNo)
	s.NotNil(done.CompletedAt)

	err := s.coord.CancelOrder(s.ctx, o.ID, buyer, "")
	var ite *orders.InvalidStateTransitionError
	s.Require().ErrorAs(err, &ite)
	s.Equal(string(orders.StatusCompleted), ite.Current)
	s.Equal(string(orders.StatusCancelled), ite.Target)
	s.Equal(orders.StatusCompleted, s.order(o.ID).Status)
}

func (s *CoordinatorSuite) TestFulfilmentRoles() {
	o := s.paid(line{"sku-a", 1, "10.00"})
	s.ErrorIs(s.coord.ConfirmOrder(s.ctx, o.ID, buyer), orders.ErrForbidden)
	s.ErrorIs(s.coord.ShipOrder(s.ctx, o.ID, merchant, ""), orders.ErrValidation)

	err := s.coord.ShipOrder(s.ctx, o.ID, merchant, "JNE-1")
	var ite *orders.InvalidStateTransitionError
	s.ErrorAs(err, &ite, "PAID cannot skip CONFIRMED")
}

// Scenario A across two lines: one short line releases the other.
func (s *CoordinatorSuite) TestInsufficientStockRollsBack() {
	_, err := s.coord.CreateOrder(s.ctx, request(buyer.ID, line{"sku-a", 2, "10.00"}, line{"sku-c", 2, "5.00"}))

	var short *inventory.InsufficientStockError
	s.Require().ErrorAs(err, &short)
	s.Equal("sku-c", short.ProductID)
	s.Equal(1, short.Available)
	s.Equal(2, short.Requested)

	a := s.stock("sku-a")
	s.Equal(10, a.AvailableStock)
	s.Equal(0, a.ReservedStock)
}

func (s *CoordinatorSuite) TestCatalogPriceIsAuthoritative() {
	_, err := s.coord.CreateOrder(s.ctx, request(buyer.ID, line{"sku-a", 1, "9.99"}))
	var pm *orders.PriceMismatchError
	s.Require().ErrorAs(err, &pm)
	s.Equal("unitPrice", pm.Field)
	s.Equal("sku-a", pm.ProductID)
	s.Equal(0, s.stock("sku-a").ReservedStock)
}

func (s *CoordinatorSuite) TestRequestIDMakesCreateIdempotent() {
	req := request(buyer.ID, line{"sku-a", 2, "10.00"})
	req.RequestID = "req-1"

	first, err := s.coord.CreateOrder(s.ctx, req)
	s.Require().NoError(err)
	second, err := s.coord.CreateOrder(s.ctx, req)
	s.Require().NoError(err)

	s.Equal(first.ID, second.ID)
	s.Equal(2, s.stock("sku-a").ReservedStock)
}

func (s *CoordinatorSuite) TestOrderNumberCollisionGivesUp() {
	coord := s.build(s.orders, fixedRand(7))
	_, err := coord.CreateOrder(s.ctx, request(buyer.ID, line{"sku-a", 1, "10.00"}))
	s.Require().NoError(err)

	_, err = coord.CreateOrder(s.ctx, request(buyer.ID, line{"sku-a", 1, "10.00"}))
	s.ErrorIs(err, orders.ErrDuplicateOrderNo)
	s.Equal(1, s.stock("sku-a").ReservedStock, "the losing order's hold is released")
}

func (s *CoordinatorSuite) TestVersionConflictIsRetriedOnce() {
	store := &conflictingStore{OrderStore: s.orders}
	coord := s.build(store, nil)

	o := s.create(line{"sku-a", 1, "10.00"})
	store.conflicts = 1
	s.Require().NoError(coord.CancelOrder(s.ctx, o.ID, buyer, ""))

	o = s.create(line{"sku-a", 1, "10.00"})
	store.conflicts = 2
	err := coord.CancelOrder(s.ctx, o.ID, buyer, "")
	var cme *orders.ConcurrentModificationError
	s.Require().ErrorAs(err, &cme)
	s.ErrorIs(err, orders.ErrVersionConflict)
	s.Equal(orders.StatusPendingPayment, s.order(o.ID).Status)
}

// Cancel and payment race for the same order; whichever wins, stock and
// order agree.
func (s *CoordinatorSuite) TestCancelRacesPayment() {
	_, _, err := s.ledger.Seed(s.ctx, "sku-race", 50, 0)
	s.Require().NoError(err)
	s.catalog.SetPrice("sku-race", decimal.RequireFromString("1.00"))

	for i := 0; i < 20; i++ {
		o := s.create(line{"sku-race", 1, "1.00"})
		before := s.stock("sku-race")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.coord.CancelOrder(s.ctx, o.ID, buyer, "race")
		}()
		go func() {
			defer wg.Done()
			_, _ = s.pay(o, "txn-race-"+o.ID)
		}()
		wg.Wait()

		after := s.stock("sku-race")
		s.Equal(before.ReservedStock-1, after.ReservedStock, "the hold is settled either way")
		switch got := s.order(o.ID); got.Status {
		case orders.StatusCancelled:
			s.Equal(before.SoldCount, after.SoldCount)
			s.Equal(before.AvailableStock+1, after.AvailableStock)
		case orders.StatusRefunding, orders.StatusPaid:
			s.Equal(before.SoldCount+1, after.SoldCount)
			s.Equal("txn-race-"+o.ID, got.PaymentTxnID)
		default:
			s.Failf("unexpected status", "order ended in %s", got.Status)
		}
	}
}

func (s *CoordinatorSuite) TestCancelExpiredOrders() {
	stale := s.create(line{"sku-a", 2, "10.00"})
	s.clock.Advance(10 * time.Minute)
	fresh := s.create(line{"sku-a", 1, "10.00"})
	s.clock.Advance(6 * time.Minute)

	n, err := s.coord.CancelExpiredOrders(s.ctx, 50)
	s.Require().NoError(err)
	s.Equal(1, n)

	got := s.order(stale.ID)
	s.Equal(orders.StatusCancelled, got.Status)
	s.Equal(orders.PaymentTimeout, got.PaymentStatus)
	s.Equal("payment timeout", got.CancelReason)
	s.Equal(orders.StatusPendingPayment, s.order(fresh.ID).Status)
	s.Equal(1, s.stock("sku-a").ReservedStock)

	n, err = s.coord.CancelExpiredOrders(s.ctx, 50)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *CoordinatorSuite) TestPartialReturnOfDeliveredOrder() {
	o := s.paid(line{"sku-a", 2, "10.00"}, line{"sku-b", 1, "25.50"})
	s.Require().NoError(s.coord.ConfirmOrder(s.ctx, o.ID, merchant))
	s.Require().NoError(s.coord.ShipOrder(s.ctx, o.ID, merchant, "JNE-9"))
	s.Require().NoError(s.coord.MarkDelivered(s.ctx, o.ID, merchant))
	itemA := o.Items[0].ItemID

	res, err := s.coord.ApplyReturn(s.ctx, o.ID, buyer, []string{itemA, itemA}, "broken")
	s.Require().NoError(err)
	s.True(res.RefundAmount.Equal(decimal.RequireFromString("20")))
	got := s.order(o.ID)
	s.Equal(orders.StatusRefunding, got.Status)
	s.Equal(orders.PaymentRefunding, got.PaymentStatus)
	s.Equal(8, s.stock("sku-a").TotalStock, "nothing is restocked before the goods come back")

	s.Require().NoError(s.coord.ReceiveReturn(s.ctx, res.ReturnID))
	s.Require().NoError(s.coord.ReceiveReturn(s.ctx, res.ReturnID))
	a := s.stock("sku-a")
	s.Equal(10, a.TotalStock)
	s.Equal(10, a.AvailableStock)

	s.Require().NoError(s.coord.HandleRefundResult(s.ctx, orders.RefundResult{OrderID: o.ID, Approved: true}))
	s.Require().NoError(s.coord.HandleRefundResult(s.ctx, orders.RefundResult{OrderID: o.ID, Approved: true}))
	got = s.order(o.ID)
	s.Equal(orders.StatusRefunded, got.Status)
	s.Equal(orders.PaymentPartialRefunded, got.PaymentStatus)
	s.Equal(10, s.stock("sku-a").TotalStock)
}

func (s *CoordinatorSuite) TestRefundNeverExceedsAmountPaid() {
	req := request(buyer.ID, line{"sku-a", 2, "10.00"}, line{"sku-b", 1, "25.50"})
	req.DiscountAmount = decimal.RequireFromString("15.00")
	req.ActualAmount = decimal.RequireFromString("30.50")
	o, err := s.coord.CreateOrder(s.ctx, req)
	s.Require().NoError(err)
	_, err = s.pay(o, "txn-discount")
	s.Require().NoError(err)

	res, err := s.coord.ApplyReturn(s.ctx, o.ID, buyer, []string{o.Items[0].ItemID, o.Items[1].ItemID}, "unwanted")
	s.Require().NoError(err)
	s.True(res.RefundAmount.Equal(decimal.RequireFromString("30.50")))
}

func (s *CoordinatorSuite) TestReturnRejectsForeignItems() {
	o := s.paid(line{"sku-a", 1, "10.00"})
	_, err := s.coord.ApplyReturn(s.ctx, o.ID, buyer, []string{"not-an-item"}, "x")
	s.ErrorIs(err, orders.ErrValidation)
	s.Equal(orders.StatusPaid, s.order(o.ID).Status)
}

func (s *CoordinatorSuite) TestDeniedRefundRestoresOrder() {
	o := s.paid(line{"sku-a", 1, "10.00"})
	s.Require().NoError(s.coord.ConfirmOrder(s.ctx, o.ID, merchant))
	res, err := s.coord.ApplyReturn(s.ctx, o.ID, buyer, []string{o.Items[0].ItemID}, "changed mind")
	s.Require().NoError(err)

	s.Require().NoError(s.coord.HandleRefundResult(s.ctx, orders.RefundResult{OrderID: o.ID, Approved: false, Reason: "policy"}))

	got := s.order(o.ID)
	s.Equal(orders.StatusConfirmed, got.Status)
	s.Equal(orders.PaymentSuccess, got.PaymentStatus)
	ret, err := s.returns.Get(s.ctx, res.ReturnID)
	s.Require().NoError(err)
	s.Equal(orders.ReturnRejected, ret.Status)
}

func (s *CoordinatorSuite) TestApprovedRefundOfUnshippedOrderRestocks() {
	o := s.paid(line{"sku-a", 2, "10.00"})
	s.Equal(8, s.stock("sku-a").TotalStock)
	s.Require().NoError(s.coord.CancelOrder(s.ctx, o.ID, buyer, "too slow"))

	s.Require().NoError(s.coord.HandleRefundResult(s.ctx, orders.RefundResult{OrderID: o.ID, Approved: true}))

	got := s.order(o.ID)
	s.Equal(orders.StatusRefunded, got.Status)
	s.Equal(orders.PaymentRefunded, got.PaymentStatus)
	s.Equal(orders.PaymentRefunded, s.paymentStatus(got))
	a := s.stock("sku-a")
	s.Equal(10, a.TotalStock)
	s.Equal(10, a.AvailableStock)

	s.Require().NoError(s.coord.HandleRefundResult(s.ctx, orders.RefundResult{OrderID: o.ID, Approved: true}))
	s.Equal(10, s.stock("sku-a").TotalStock)
}

func (s *CoordinatorSuite) TestUnshippedOrderIsReturnedOnlyInFull() {
	o := s.paid(line{"sku-a", 2, "10.00"}, line{"sku-b", 1, "25.50"})
	itemA, itemB := o.Items[0].ItemID, o.Items[1].ItemID

	_, err := s.coord.ApplyReturn(s.ctx, o.ID, buyer, []string{itemA}, "wrong size")
	s.ErrorIs(err, orders.ErrValidation)
	s.Equal(orders.StatusPaid, s.order(o.ID).Status)

	res, err := s.coord.ApplyReturn(s.ctx, o.ID, buyer, []string{itemA, itemB}, "wrong size")
	s.Require().NoError(err)
	s.Require().NoError(s.coord.HandleRefundResult(s.ctx, orders.RefundResult{OrderID: o.ID, Approved: true}))
	s.Require().NoError(s.coord.HandleRefundResult(s.ctx, orders.RefundResult{OrderID: o.ID, Approved: true}))

	got := s.order(o.ID)
	s.Equal(orders.StatusRefunded, got.Status)
	s.Equal(orders.PaymentRefunded, got.PaymentStatus)
	s.Equal(10, s.stock("sku-a").TotalStock)
	s.Equal(5, s.stock("sku-b").TotalStock)
	ret, err := s.returns.Get(s.ctx, res.ReturnID)
	s.Require().NoError(err)
	s.Equal(orders.ReturnCancelled, ret.Status)
	s.ElementsMatch([]string{itemA, itemB}, ret.Restocked)
}

func (s *CoordinatorSuite) TestPartialReturnRestocksOnlyReturnedLines() {
	o := s.delivered(line{"sku-a", 2, "10.00"}, line{"sku-b", 1, "25.50"})

	res, err := s.coord.ApplyReturn(s.ctx, o.ID, buyer, []string{o.Items[0].ItemID}, "broken")
	s.Require().NoError(err)
	s.Require().NoError(s.coord.HandleRefundResult(s.ctx, orders.RefundResult{OrderID: o.ID, Approved: true}))
	s.Require().NoError(s.coord.ReceiveReturn(s.ctx, res.ReturnID))

	s.Equal(10, s.stock("sku-a").TotalStock)
	b := s.stock("sku-b")
	s.Equal(4, b.TotalStock, "the kept line stays sold")
	s.Equal(4, b.AvailableStock)
	s.Equal(orders.PaymentPartialRefunded, s.paymentStatus(o))
}

func (s *CoordinatorSuite) TestReceiveReturnResumesAfterRestockFailure() {
	flaky := &flakyRestock{Manager: s.manager, fails: map[string]int{"sku-b": 1}}
	s.reserve = flaky
	s.coord = s.build(s.orders, nil)

	o := s.delivered(line{"sku-a", 2, "10.00"}, line{"sku-b", 1, "25.50"})
	itemA, itemB := o.Items[0].ItemID, o.Items[1].ItemID
	res, err := s.coord.ApplyReturn(s.ctx, o.ID, buyer, []string{itemA, itemB}, "broken")
	s.Require().NoError(err)

	s.Error(s.coord.ReceiveReturn(s.ctx, res.ReturnID))
	s.Equal(10, s.stock("sku-a").TotalStock)
	s.Equal(4, s.stock("sku-b").TotalStock)
	ret, err := s.returns.Get(s.ctx, res.ReturnID)
	s.Require().NoError(err)
	s.Equal(orders.ReturnReceived, ret.Status)
	s.Equal([]string{itemA}, ret.Restocked)

	s.Require().NoError(s.coord.ReceiveReturn(s.ctx, res.ReturnID))
	s.Require().NoError(s.coord.ReceiveReturn(s.ctx, res.ReturnID))
	s.Equal(10, s.stock("sku-a").TotalStock)
	s.Equal(5, s.stock("sku-b").TotalStock)
}

func (s *CoordinatorSuite) TestDeniedRefundRestoresPaymentRecord() {
	o := s.delivered(line{"sku-a", 1, "10.00"})
	_, err := s.coord.ApplyReturn(s.ctx, o.ID, buyer, []string{o.Items[0].ItemID}, "changed mind")
	s.Require().NoError(err)
	s.Equal(orders.PaymentRefunding, s.paymentStatus(o))

	s.Require().NoError(s.coord.HandleRefundResult(s.ctx, orders.RefundResult{OrderID: o.ID, Approved: false}))
	s.Equal(orders.PaymentSuccess, s.paymentStatus(o))
}

func (s *CoordinatorSuite) TestRefundResultForWrongStatus() {
	o := s.create(line{"sku-a", 1, "10.00"})
	err := s.coord.HandleRefundResult(s.ctx, orders.RefundResult{OrderID: o.ID, Approved: true})
	s.True(errors.As(err, new(*orders.InvalidStateTransitionError)))
}

func (s *CoordinatorSuite) TestListUserOrders() {
	s.create(line{"sku-a", 1, "10.00"})
	s.clock.Advance(time.Second)
	latest := s.create(line{"sku-b", 1, "25.50"})

	list, err := s.coord.ListUserOrders(s.ctx, buyer.ID, 10, 0)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(latest.ID, list[0].ID)

	byNo, err := s.coord.GetOrderByNo(s.ctx, latest.OrderNo)
	s.Require().NoError(err)
	s.Equal(latest.ID, byNo.ID)

	_, err = s.coord.GetOrder(s.ctx, "missing")
	s.ErrorIs(err, orders.ErrOrderNotFound)
}
