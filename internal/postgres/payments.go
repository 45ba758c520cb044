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

type PaymentStore struct{ DB *pgxpool.Pool }

const paymentColumns = `payment_id, order_id, COALESCE(external_txn_id, ''), method, amount, status,
	raw_callback_payload, review_reason, created_at, updated_at, deleted_at`

func scanPayment(row pgx.Row) (orders.PaymentRecord, error) {
	var (
		p      orders.PaymentRecord
		status string
	)
	err := row.Scan(&p.PaymentID, &p.OrderID, &p.ExternalTransactionID, &p.Method, &p.Amount, &status,
		&p.RawCallbackPayload, &p.ReviewReason, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	p.Status = orders.PaymentStatus(status)
	return p, err
}

// rawJSON keeps an absent callback body NULL instead of an invalid empty document.
func rawJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func (s *PaymentStore) Insert(ctx context.Context, p orders.PaymentRecord) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO payments(payment_id, order_id, external_txn_id, method, amount, status,
			raw_callback_payload, review_reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.PaymentID, p.OrderID, nullable(p.ExternalTransactionID), p.Method, p.Amount, string(p.Status),
		rawJSON(p.RawCallbackPayload), p.ReviewReason, p.CreatedAt, p.UpdatedAt)
	if uniqueViolation(err, "payments_external_txn_id_key") {
		return orders.ErrDuplicateTxn
	}
	return err
}

func (s *PaymentStore) GetByExternalID(ctx context.Context, txnID string) (orders.PaymentRecord, error) {
	p, err := scanPayment(s.DB.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE external_txn_id=$1`, txnID))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.PaymentRecord{}, orders.ErrPaymentNotFound
	}
	return p, err
}

// ClaimPending binds the transaction to the newest open attempt. SKIP LOCKED
// keeps two first deliveries of different transactions off the same row.
func (s *PaymentStore) ClaimPending(ctx context.Context, orderID, txnID string, at time.Time) (orders.PaymentRecord, bool, error) {
	p, err := scanPayment(s.DB.QueryRow(ctx, `
		UPDATE payments SET external_txn_id=$2, status='PROCESSING', updated_at=$3
		WHERE payment_id = (
			SELECT payment_id FROM payments
			WHERE order_id=$1 AND status='PENDING' AND external_txn_id IS NULL
			ORDER BY created_at DESC LIMIT 1
			FOR UPDATE SKIP LOCKED)
		RETURNING `+paymentColumns, orderID, txnID, at))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return orders.PaymentRecord{}, false, nil
	case uniqueViolation(err, "payments_external_txn_id_key"):
		return orders.PaymentRecord{}, false, orders.ErrDuplicateTxn
	case err != nil:
		return orders.PaymentRecord{}, false, fmt.Errorf("claim payment for %s: %w", orderID, err)
	}
	return p, true, nil
}

func (s *PaymentStore) Update(ctx context.Context, p orders.PaymentRecord) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE payments SET external_txn_id=$2, method=$3, amount=$4, status=$5, raw_callback_payload=$6,
			review_reason=$7, updated_at=$8
		WHERE payment_id=$1`,
		p.PaymentID, nullable(p.ExternalTransactionID), p.Method, p.Amount, string(p.Status),
		rawJSON(p.RawCallbackPayload), p.ReviewReason, p.UpdatedAt)
	if uniqueViolation(err, "payments_external_txn_id_key") {
		return orders.ErrDuplicateTxn
	}
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrPaymentNotFound
	}
	return nil
}

func (s *PaymentStore) ListByOrder(ctx context.Context, orderID string) ([]orders.PaymentRecord, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id=$1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
