package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/storefront-orders/internal/inventory"
)

type ReservationStore struct{ DB *pgxpool.Pool }

const reservationColumns = `id, product_id, quantity, holder_id, state, expires_at, created_at, updated_at, deleted_at`

func scanReservation(row pgx.Row) (inventory.Reservation, error) {
	var r inventory.Reservation
	var state string
	err := row.Scan(&r.ID, &r.ProductID, &r.Quantity, &r.HolderID, &state, &r.ExpiresAt,
		&r.CreatedAt, &r.UpdatedAt, &r.DeletedAt)
	r.State = inventory.State(state)
	return r, err
}

func (s *ReservationStore) Insert(ctx context.Context, r inventory.Reservation) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO reservations(id, product_id, quantity, holder_id, state, expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID, r.ProductID, r.Quantity, r.HolderID, string(r.State), r.ExpiresAt, r.CreatedAt, r.UpdatedAt)
	return err
}

func (s *ReservationStore) Get(ctx context.Context, id string) (inventory.Reservation, error) {
	r, err := scanReservation(s.DB.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Reservation{}, inventory.ErrReservationMissing
	}
	return r, err
}

// Transition is the reservation's compare-and-set.
func (s *ReservationStore) Transition(ctx context.Context, id string, from, to inventory.State, at time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `UPDATE reservations SET state=$3, updated_at=$4 WHERE id=$1 AND state=$2`,
		id, string(from), string(to), at)
	if err != nil {
		return false, fmt.Errorf("transition reservation %s: %w", id, err)
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *ReservationStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]inventory.Reservation, error) {
	return s.list(ctx, `SELECT `+reservationColumns+` FROM reservations
		WHERE state='ACTIVE' AND expires_at <= $1 ORDER BY expires_at LIMIT $2`, now, limit)
}

func (s *ReservationStore) ListByHolder(ctx context.Context, holderID string) ([]inventory.Reservation, error) {
	return s.list(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE holder_id=$1 ORDER BY product_id`, holderID)
}

func (s *ReservationStore) list(ctx context.Context, sql string, args ...any) ([]inventory.Reservation, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
