package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

type OrderStore struct {
	mu        sync.Mutex
	rows      map[string]orders.Order
	byNo      map[string]string
	byRequest map[string]string
}

func NewOrderStore() *OrderStore {
	return &OrderStore{
		rows:      map[string]orders.Order{},
		byNo:      map[string]string{},
		byRequest: map[string]string{},
	}
}

// clone detaches the slices so callers never share backing arrays with a stored row.
func clone(o orders.Order) orders.Order {
	o.Items = slices.Clone(o.Items)
	o.ReservationIDs = slices.Clone(o.ReservationIDs)
	return o
}

func (s *OrderStore) Insert(_ context.Context, o orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byNo[o.OrderNo]; ok {
		return orders.ErrDuplicateOrderNo
	}
	if o.RequestID != "" {
		if _, ok := s.byRequest[o.RequestID]; ok {
			return orders.ErrDuplicateRequest
		}
		s.byRequest[o.RequestID] = o.ID
	}
	s.byNo[o.OrderNo] = o.ID
	s.rows[o.ID] = clone(o)
	return nil
}

func (s *OrderStore) Get(_ context.Context, id string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rows[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return clone(o), nil
}

func (s *OrderStore) GetByOrderNo(ctx context.Context, orderNo string) (orders.Order, error) {
	s.mu.Lock()
	id, ok := s.byNo[orderNo]
	s.mu.Unlock()
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return s.Get(ctx, id)
}

func (s *OrderStore) GetByRequestID(ctx context.Context, requestID string) (orders.Order, error) {
	s.mu.Lock()
	id, ok := s.byRequest[requestID]
	s.mu.Unlock()
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return s.Get(ctx, id)
}

func (s *OrderStore) Update(_ context.Context, o orders.Order, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[o.ID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	if cur.Version != expectedVersion {
		return orders.ErrVersionConflict
	}
	s.rows[o.ID] = clone(o)
	return nil
}

func (s *OrderStore) ListByUser(_ context.Context, userID string, limit, offset int) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Order
	for _, o := range s.rows {
		if o.UserID == userID {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *OrderStore) ListOverdue(_ context.Context, status orders.OrderStatus, before time.Time, limit int) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Order
	for _, o := range s.rows {
		if o.Status == status && o.PaymentDeadline.Before(before) {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentDeadline.Before(out[j].PaymentDeadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type PaymentStore struct {
	mu    sync.Mutex
	rows  map[string]orders.PaymentRecord
	byTxn map[string]string
}

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{rows: map[string]orders.PaymentRecord{}, byTxn: map[string]string{}}
}

func (s *PaymentStore) Insert(_ context.Context, p orders.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ExternalTransactionID != "" {
		if _, ok := s.byTxn[p.ExternalTransactionID]; ok {
			return orders.ErrDuplicateTxn
		}
		s.byTxn[p.ExternalTransactionID] = p.PaymentID
	}
	s.rows[p.PaymentID] = p
	return nil
}

func (s *PaymentStore) GetByExternalID(_ context.Context, txnID string) (orders.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byTxn[txnID]
	if !ok {
		return orders.PaymentRecord{}, orders.ErrPaymentNotFound
	}
	return s.rows[id], nil
}

func (s *PaymentStore) ClaimPending(_ context.Context, orderID, txnID string, at time.Time) (orders.PaymentRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byTxn[txnID]; ok {
		return orders.PaymentRecord{}, false, orders.ErrDuplicateTxn
	}
	var (
		pick  orders.PaymentRecord
		found bool
	)
	for _, p := range s.rows {
		if p.OrderID != orderID || p.Status != orders.PaymentPending || p.ExternalTransactionID != "" {
			continue
		}
		if !found || p.CreatedAt.After(pick.CreatedAt) {
			pick, found = p, true
		}
	}
	if !found {
		return orders.PaymentRecord{}, false, nil
	}
	pick.ExternalTransactionID = txnID
	pick.Status = orders.PaymentProcessing
	pick.Touch(at)
	s.rows[pick.PaymentID] = pick
	s.byTxn[txnID] = pick.PaymentID
	return pick, true, nil
}

func (s *PaymentStore) Update(_ context.Context, p orders.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[p.PaymentID]
	if !ok {
		return orders.ErrPaymentNotFound
	}
	if cur.ExternalTransactionID != p.ExternalTransactionID && p.ExternalTransactionID != "" {
		if _, taken := s.byTxn[p.ExternalTransactionID]; taken {
			return orders.ErrDuplicateTxn
		}
		s.byTxn[p.ExternalTransactionID] = p.PaymentID
	}
	s.rows[p.PaymentID] = p
	return nil
}

func (s *PaymentStore) ListByOrder(_ context.Context, orderID string) ([]orders.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.PaymentRecord
	for _, p := range s.rows {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type ReturnStore struct {
	mu   sync.Mutex
	rows map[string]orders.ReturnRequest
}

func NewReturnStore() *ReturnStore {
	return &ReturnStore{rows: map[string]orders.ReturnRequest{}}
}

func (s *ReturnStore) Insert(_ context.Context, r orders.ReturnRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ItemIDs = slices.Clone(r.ItemIDs)
	r.Restocked = slices.Clone(r.Restocked)
	s.rows[r.ReturnID] = r
	return nil
}

func (s *ReturnStore) Get(_ context.Context, id string) (orders.ReturnRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return orders.ReturnRequest{}, orders.ErrReturnNotFound
	}
	r.ItemIDs = slices.Clone(r.ItemIDs)
	r.Restocked = slices.Clone(r.Restocked)
	return r, nil
}

func (s *ReturnStore) MarkRestocked(_ context.Context, id, itemID string, done bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return false, orders.ErrReturnNotFound
	}
	if slices.Contains(r.Restocked, itemID) == done {
		return false, nil
	}
	if done {
		r.Restocked = append(slices.Clone(r.Restocked), itemID)
	} else {
		r.Restocked = slices.DeleteFunc(slices.Clone(r.Restocked), func(x string) bool { return x == itemID })
	}
	s.rows[id] = r
	return true, nil
}

func (s *ReturnStore) Transition(_ context.Context, id string, from, to orders.ReturnStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return false, orders.ErrReturnNotFound
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	if to == orders.ReturnReceived {
		t := at
		r.ReceivedAt = &t
	}
	r.Touch(at)
	s.rows[id] = r
	return true, nil
}

func (s *ReturnStore) OpenForOrder(_ context.Context, orderID string) (orders.ReturnRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.OrderID == orderID && (r.Status == orders.ReturnRequested || r.Status == orders.ReturnReceived) {
			r.ItemIDs = slices.Clone(r.ItemIDs)
			r.Restocked = slices.Clone(r.Restocked)
			return r, nil
		}
	}
	return orders.ReturnRequest{}, orders.ErrReturnNotFound
}
