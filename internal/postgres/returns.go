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

type ReturnStore struct{ DB *pgxpool.Pool }

const returnColumns = `return_id, order_id, item_ids, reason, refund_amount, status, received_at,
	restocked_item_ids, created_at, updated_at, deleted_at`

func scanReturn(row pgx.Row) (orders.ReturnRequest, error) {
	var (
		r      orders.ReturnRequest
		status string
	)
	err := row.Scan(&r.ReturnID, &r.OrderID, &r.ItemIDs, &r.Reason, &r.RefundAmount, &status, &r.ReceivedAt,
		&r.Restocked, &r.CreatedAt, &r.UpdatedAt, &r.DeletedAt)
	r.Status = orders.ReturnStatus(status)
	return r, err
}

func (s *ReturnStore) Insert(ctx context.Context, r orders.ReturnRequest) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO order_returns(return_id, order_id, item_ids, reason, refund_amount, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ReturnID, r.OrderID, r.ItemIDs, r.Reason, r.RefundAmount, string(r.Status), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert return: %w", err)
	}
	return nil
}

func (s *ReturnStore) Get(ctx context.Context, id string) (orders.ReturnRequest, error) {
	r, err := scanReturn(s.DB.QueryRow(ctx, `SELECT `+returnColumns+` FROM order_returns WHERE return_id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.ReturnRequest{}, orders.ErrReturnNotFound
	}
	return r, err
}

func (s *ReturnStore) Transition(ctx context.Context, id string, from, to orders.ReturnStatus, at time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE order_returns SET status=$3, updated_at=$4,
			received_at = CASE WHEN $3 = 'RECEIVED' THEN $4 ELSE received_at END
		WHERE return_id=$1 AND status=$2`, id, string(from), string(to), at)
	if err != nil {
		return false, fmt.Errorf("transition return %s: %w", id, err)
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *ReturnStore) MarkRestocked(ctx context.Context, id, itemID string, done bool) (bool, error) {
	q := `UPDATE order_returns SET restocked_item_ids = array_append(restocked_item_ids, $2)
		WHERE return_id=$1 AND NOT ($2 = ANY(restocked_item_ids))`
	if !done {
		q = `UPDATE order_returns SET restocked_item_ids = array_remove(restocked_item_ids, $2)
		WHERE return_id=$1 AND $2 = ANY(restocked_item_ids)`
	}
	ct, err := s.DB.Exec(ctx, q, id, itemID)
	if err != nil {
		return false, fmt.Errorf("mark return %s item %s: %w", id, itemID, err)
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *ReturnStore) OpenForOrder(ctx context.Context, orderID string) (orders.ReturnRequest, error) {
	r, err := scanReturn(s.DB.QueryRow(ctx, `SELECT `+returnColumns+` FROM order_returns
		WHERE order_id=$1 AND status IN ('REQUESTED','RECEIVED') ORDER BY created_at DESC LIMIT 1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.ReturnRequest{}, orders.ErrReturnNotFound
	}
	return r, err
}
