package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/knjiznica/internal/model"
)

// GetStats computes the dashboard summary as of now. Monthly counters start
// at the first day of now's month in UTC.
func GetStats(ctx context.Context, q sqlx.ExtContext, now time.Time) (*model.Stats, error) {
	now = now.UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	s := &model.Stats{}

	var catalog struct {
		Books     int `db:"books"`
		Copies    int `db:"copies"`
		Available int `db:"available"`
	}
	err := sqlx.GetContext(ctx, q, &catalog,
		`SELECT COUNT(*) AS books,
		        COALESCE(SUM(total_copies), 0) AS copies,
		        COALESCE(SUM(available_copies), 0) AS available
		 FROM books WHERE deleted_at IS NULL`,
	)
	if err != nil {
		return nil, fmt.Errorf("counting catalog: %w", err)
	}
	s.TotalBooks, s.TotalCopies, s.AvailableCopies = catalog.Books, catalog.Copies, catalog.Available

	counters := []struct {
		dst   *int
		query string
		args  []any
	}{
		{&s.ActiveLoans, `SELECT COUNT(*) FROM loans WHERE returned_at IS NULL`, nil},
		{&s.OverdueLoans, `SELECT COUNT(*) FROM loans WHERE returned_at IS NULL AND due_at < ?`, []any{now}},
		{&s.ActiveReservations, `SELECT COUNT(*) FROM reservations WHERE status = 'active' AND expires_at > ?`, []any{now}},
		{&s.CheckoutsThisMonth, `SELECT COUNT(*) FROM loans WHERE checked_out_at >= ?`, []any{monthStart}},
		{&s.ReturnsThisMonth, `SELECT COUNT(*) FROM loans WHERE returned_at >= ?`, []any{monthStart}},
		{&s.TotalUsers, `SELECT COUNT(*) FROM users WHERE deleted_at IS NULL`, nil},
	}
	for _, c := range counters {
		if err := sqlx.GetContext(ctx, q, c.dst, q.Rebind(c.query), c.args...); err != nil {
			return nil, fmt.Errorf("computing stats: %w", err)
		}
	}

	s.MostPopularBook, err = topEntry(ctx, q,
		`SELECT b.id AS id, b.title AS name, COUNT(*) AS total
		 FROM loans l JOIN books b ON b.id = l.book_id
		 WHERE b.deleted_at IS NULL
		 GROUP BY b.id, b.title
		 ORDER BY total DESC, b.id ASC
		 LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("finding most popular book: %w", err)
	}

	s.MostActiveUser, err = topEntry(ctx, q,
		`SELECT u.id AS id, u.username AS name, COUNT(*) AS total
		 FROM loans l JOIN users u ON u.id = l.borrower_id
		 WHERE u.deleted_at IS NULL
		 GROUP BY u.id, u.username
		 ORDER BY total DESC, u.id ASC
		 LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("finding most active user: %w", err)
	}

	return s, nil
}

func topEntry(ctx context.Context, q sqlx.ExtContext, query string) (*model.RankedEntry, error) {
	e := &model.RankedEntry{}
	err := sqlx.GetContext(ctx, q, e, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}
