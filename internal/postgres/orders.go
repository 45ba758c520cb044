package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

type OrderStore struct{ DB *pgxpool.Pool }

const orderColumns = `id, order_no, COALESCE(request_id, ''), user_id, total_amount, shipping_fee,
	discount_amount, actual_amount, status, payment_status, reservation_ids, payment_txn_id,
	payment_deadline, paid_at, confirmed_at, shipped_at, delivered_at, completed_at, cancelled_at,
	refunding_at, refunded_at, cancel_reason, tracking_no, version, created_at, updated_at, deleted_at`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o             orders.Order
		status, paySt string
	)
	err := row.Scan(&o.ID, &o.OrderNo, &o.RequestID, &o.UserID, &o.TotalAmount, &o.ShippingFee,
		&o.DiscountAmount, &o.ActualAmount, &status, &paySt, &o.ReservationIDs, &o.PaymentTxnID,
		&o.PaymentDeadline, &o.PaidAt, &o.ConfirmedAt, &o.ShippedAt, &o.DeliveredAt, &o.CompletedAt, &o.CancelledAt,
		&o.RefundingAt, &o.RefundedAt, &o.CancelReason, &o.TrackingNo, &o.Version, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt)
	o.Status = orders.OrderStatus(status)
	o.PaymentStatus = orders.PaymentStatus(paySt)
	return o, err
}

// Insert writes the order and its lines in one transaction.
func (s *OrderStore) Insert(ctx context.Context, o orders.Order) error {
	reservationIDs := o.ReservationIDs
	if reservationIDs == nil {
		reservationIDs = []string{}
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, order_no, request_id, user_id, total_amount, shipping_fee, discount_amount,
			actual_amount, status, payment_status, reservation_ids, payment_txn_id, payment_deadline,
			version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		o.ID, o.OrderNo, nullable(o.RequestID), o.UserID, o.TotalAmount, o.ShippingFee, o.DiscountAmount,
		o.ActualAmount, string(o.Status), string(o.PaymentStatus), reservationIDs, o.PaymentTxnID, o.PaymentDeadline,
		o.Version, o.CreatedAt, o.UpdatedAt)
	switch {
	case uniqueViolation(err, "orders_order_no_key"):
		return orders.ErrDuplicateOrderNo
	case uniqueViolation(err, "orders_request_id_key"):
		return orders.ErrDuplicateRequest
	case err != nil:
		return fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for i, it := range o.Items {
		batch.Queue(`INSERT INTO order_items(item_id, order_id, position, product_id, quantity, unit_price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`, it.ItemID, o.ID, i, it.ProductID, it.Quantity, it.UnitPrice, it.Subtotal)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *OrderStore) Get(ctx context.Context, id string) (orders.Order, error) {
	return s.one(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
}

func (s *OrderStore) GetByOrderNo(ctx context.Context, orderNo string) (orders.Order, error) {
	return s.one(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_no=$1`, orderNo)
}

func (s *OrderStore) GetByRequestID(ctx context.Context, requestID string) (orders.Order, error) {
	return s.one(ctx, `SELECT `+orderColumns+` FROM orders WHERE request_id=$1`, requestID)
}

// Update is the optimistic write: it only lands if the row still carries expectedVersion.
// Lines are immutable after insert and are not rewritten.
func (s *OrderStore) Update(ctx context.Context, o orders.Order, expectedVersion int) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders SET status=$3, payment_status=$4, payment_txn_id=$5, paid_at=$6, confirmed_at=$7,
			shipped_at=$8, delivered_at=$9, completed_at=$10, cancelled_at=$11, refunding_at=$12, refunded_at=$13,
			cancel_reason=$14, tracking_no=$15, version=$16, updated_at=$17
		WHERE id=$1 AND version=$2`,
		o.ID, expectedVersion, string(o.Status), string(o.PaymentStatus), o.PaymentTxnID, o.PaidAt, o.ConfirmedAt,
		o.ShippedAt, o.DeliveredAt, o.CompletedAt, o.CancelledAt, o.RefundingAt, o.RefundedAt,
		o.CancelReason, o.TrackingNo, o.Version, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := s.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, o.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return orders.ErrOrderNotFound
		}
		return orders.ErrVersionConflict
	}
	return nil
}

func (s *OrderStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]orders.Order, error) {
	return s.many(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
}

func (s *OrderStore) ListOverdue(ctx context.Context, status orders.OrderStatus, before time.Time, limit int) ([]orders.Order, error) {
	return s.many(ctx, `SELECT `+orderColumns+` FROM orders WHERE status=$1 AND payment_deadline < $2
		ORDER BY payment_deadline LIMIT $3`, string(status), before, limit)
}

func (s *OrderStore) one(ctx context.Context, sql string, arg any) (orders.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	if err != nil {
		return orders.Order{}, err
	}
	byOrder, err := s.items(ctx, o.ID)
	if err != nil {
		return orders.Order{}, err
	}
	o.Items = byOrder[o.ID]
	return o, nil
}

func (s *OrderStore) many(ctx context.Context, sql string, args ...any) ([]orders.Order, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out []orders.Order
		ids []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}
	byOrder, err := s.items(ctx, ids...)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = byOrder[out[i].ID]
	}
	return out, nil
}

func (s *OrderStore) items(ctx context.Context, orderIDs ...string) (map[string][]orders.OrderItem, error) {
	rows, err := s.DB.Query(ctx, `SELECT order_id, item_id, product_id, quantity, unit_price, subtotal
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]orders.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			it      orders.OrderItem
		)
		if err := rows.Scan(&orderID, &it.ItemID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.Subtotal); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}
