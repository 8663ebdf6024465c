package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"

	"github.com/erazemk/knjiznica/internal/model"
)

// queuePosition is the 1-based place of an active reservation in its book's
// queue, ordered by creation time and then ID. With a non-zero asOf,
// reservations that lapsed by then hold no place and take none.
func queuePosition(asOf time.Time) exp.LiteralExpression {
	if asOf.IsZero() {
		return goqu.L(`CASE WHEN r.status = 'active' THEN (
	SELECT COUNT(*) FROM reservations q
	WHERE q.book_id = r.book_id AND q.status = 'active'
	  AND (q.created_at < r.created_at OR (q.created_at = r.created_at AND q.id <= r.id))
) ELSE 0 END`)
	}
	return goqu.L(`CASE WHEN r.status = 'active' AND r.expires_at > ? THEN (
	SELECT COUNT(*) FROM reservations q
	WHERE q.book_id = r.book_id AND q.status = 'active' AND q.expires_at > ?
	  AND (q.created_at < r.created_at OR (q.created_at = r.created_at AND q.id <= r.id))
) ELSE 0 END`, asOf, asOf)
}

// CreateReservation inserts an active reservation and returns it with its
// ID set. A second active reservation for the same pair yields ErrConflict.
func CreateReservation(ctx context.Context, q sqlx.ExtContext, r model.Reservation) (*model.Reservation, error) {
	if !r.ExpiresAt.After(r.CreatedAt) {
		return nil, fmt.Errorf("%w: reservation must expire after it is created", model.ErrInvalidArgument)
	}
	err := q.QueryRowxContext(ctx,
		q.Rebind(`INSERT INTO reservations (book_id, requester_id, created_at, expires_at, status)
		          VALUES (?, ?, ?, ?, 'active') RETURNING id`),
		r.BookID, r.RequesterID, r.CreatedAt, r.ExpiresAt,
	).Scan(&r.ID)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: user %d already has an active reservation for book %d", model.ErrConflict, r.RequesterID, r.BookID)
	}
	if err != nil {
		return nil, fmt.Errorf("creating reservation: %w", err)
	}
	r.Status = model.ReservationActive
	r.ResolvedAt = nil
	return &r, nil
}

// SetReservationStatus moves an active reservation to a terminal status.
// Reservations that already left the active state yield ErrConflict.
func SetReservationStatus(ctx context.Context, q sqlx.ExtContext, id int64, status model.ReservationStatus, at time.Time) error {
	if !model.CanTransition(model.ReservationActive, status) {
		return fmt.Errorf("%w: cannot move reservation to %s", model.ErrInvalidArgument, status)
	}
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE reservations SET status = ?, resolved_at = ? WHERE id = ? AND status = 'active'`),
		status, at, id,
	)
	if err != nil {
		return fmt.Errorf("updating reservation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: reservation %d is no longer active", model.ErrConflict, id)
	}
	return nil
}

// GetActiveReservation returns the active reservation for a (book, requester)
// pair, whether or not it has passed its expiry.
func GetActiveReservation(ctx context.Context, q sqlx.ExtContext, bookID, requesterID int64) (*model.Reservation, error) {
	rs, err := ListReservations(ctx, q, model.ReservationFilter{
		BookID: bookID, RequesterID: requesterID, Status: model.ReservationActive, Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, nil
	}
	return &rs[0], nil
}

// PendingQueue returns a book's unexpired active reservations, head first.
func PendingQueue(ctx context.Context, q sqlx.ExtContext, bookID int64, now time.Time) ([]model.Reservation, error) {
	return ListReservations(ctx, q, model.ReservationFilter{BookID: bookID, PendingAt: now})
}

// ListReservations returns reservations matching the filter in queue order.
func ListReservations(ctx context.Context, q sqlx.ExtContext, f model.ReservationFilter) ([]model.Reservation, error) {
	ds := builder(q).
		From(goqu.T("reservations").As("r")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("r.book_id")))).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("r.requester_id")))).
		Select(
			col("r", "id"), col("r", "book_id"), col("r", "requester_id"), col("r", "created_at"),
			col("r", "expires_at"), col("r", "status"), col("r", "resolved_at"),
			queuePosition(asOf(f)).As("queue_position"),
			goqu.I("b.title").As("book_title"), goqu.I("u.username").As("requester_name"),
		).
		Order(goqu.I("r.created_at").Asc(), goqu.I("r.id").Asc()).
		Prepared(true)

	if f.BookID != 0 {
		ds = ds.Where(goqu.I("r.book_id").Eq(f.BookID))
	}
	if f.RequesterID != 0 {
		ds = ds.Where(goqu.I("r.requester_id").Eq(f.RequesterID))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.I("r.status").Eq(string(f.Status)))
	}
	if !f.PendingAt.IsZero() {
		ds = ds.Where(
			goqu.I("r.status").Eq(string(model.ReservationActive)),
			goqu.I("r.expires_at").Gt(f.PendingAt),
		)
	}
	if !f.ExpiredBy.IsZero() {
		ds = ds.Where(
			goqu.I("r.status").Eq(string(model.ReservationActive)),
			goqu.I("r.expires_at").Lte(f.ExpiredBy),
		)
	}
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building reservation query: %w", err)
	}

	var rs []model.Reservation
	if err := sqlx.SelectContext(ctx, q, &rs, query, args...); err != nil {
		return nil, fmt.Errorf("listing reservations: %w", err)
	}
	return rs, nil
}

// asOf picks the instant queue positions are computed at.
func asOf(f model.ReservationFilter) time.Time {
	switch {
	case !f.AsOf.IsZero():
		return f.AsOf
	case !f.PendingAt.IsZero():
		return f.PendingAt
	}
	return time.Time{}
}

// ExpireReservations moves every active reservation whose expiry is at or
// before now to expired and returns the ones it moved.
func ExpireReservations(ctx context.Context, q sqlx.ExtContext, now time.Time) ([]model.Reservation, error) {
	due, err := ListReservations(ctx, q, model.ReservationFilter{ExpiredBy: now})
	if err != nil {
		return nil, err
	}

	expired := due[:0]
	for _, r := range due {
		err := SetReservationStatus(ctx, q, r.ID, model.ReservationExpired, now)
		if errors.Is(err, model.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		r.Status = model.ReservationExpired
		r.ResolvedAt = &now
		r.QueuePosition = 0
		expired = append(expired, r)
	}
	return expired, nil
}
