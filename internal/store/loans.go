package store

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"github.com/erazemk/knjiznica/internal/model"
)

// CreateLoan inserts an open loan and returns it with its ID set.
func CreateLoan(ctx context.Context, q sqlx.ExtContext, l model.Loan) (*model.Loan, error) {
	err := q.QueryRowxContext(ctx,
		q.Rebind(`INSERT INTO loans (book_id, borrower_id, checked_out_by, checked_out_at, due_at)
		          VALUES (?, ?, ?, ?, ?) RETURNING id`),
		l.BookID, l.BorrowerID, l.CheckedOutBy, l.CheckedOutAt, l.DueAt,
	).Scan(&l.ID)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: user %d already has book %d on loan", model.ErrConflict, l.BorrowerID, l.BookID)
	}
	if err != nil {
		return nil, fmt.Errorf("creating loan: %w", err)
	}
	l.ReturnedAt = nil
	l.Condition = ""
	return &l, nil
}

// CloseLoan marks an open loan returned. A loan that is already closed
// yields ErrNotFound.
func CloseLoan(ctx context.Context, q sqlx.ExtContext, id int64, returnedAt time.Time, condition model.Condition) error {
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE loans SET returned_at = ?, return_condition = ? WHERE id = ? AND returned_at IS NULL`),
		returnedAt, condition, id,
	)
	if err != nil {
		return fmt.Errorf("closing loan: %w", err)
	}
	return expectOne(res, "open loan", id)
}

// GetOpenLoan returns the open loan for a (book, borrower) pair.
func GetOpenLoan(ctx context.Context, q sqlx.ExtContext, bookID, borrowerID int64) (*model.Loan, error) {
	loans, err := ListLoans(ctx, q, model.LoanFilter{BookID: bookID, BorrowerID: borrowerID, OpenOnly: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(loans) == 0 {
		return nil, nil
	}
	return &loans[0], nil
}

// CountOpenLoans returns how many loans a borrower has not returned.
func CountOpenLoans(ctx context.Context, q sqlx.ExtContext, borrowerID int64) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, q, &count,
		q.Rebind(`SELECT COUNT(*) FROM loans WHERE borrower_id = ? AND returned_at IS NULL`), borrowerID,
	)
	if err != nil {
		return 0, fmt.Errorf("counting open loans: %w", err)
	}
	return count, nil
}

// ListLoans returns loans matching the filter with book titles and borrower
// names. Overdue listings are ordered by due date, everything else by most
// recent checkout.
func ListLoans(ctx context.Context, q sqlx.ExtContext, f model.LoanFilter) ([]model.Loan, error) {
	ds := builder(q).
		From(goqu.T("loans").As("l")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id")))).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("l.borrower_id")))).
		Select(
			col("l", "id"), col("l", "book_id"), col("l", "borrower_id"), col("l", "checked_out_by"),
			col("l", "checked_out_at"), col("l", "due_at"), col("l", "returned_at"), col("l", "return_condition"),
			goqu.I("b.title").As("book_title"), goqu.I("u.username").As("borrower_name"),
		).
		Prepared(true)

	if f.BookID != 0 {
		ds = ds.Where(goqu.I("l.book_id").Eq(f.BookID))
	}
	if f.BorrowerID != 0 {
		ds = ds.Where(goqu.I("l.borrower_id").Eq(f.BorrowerID))
	}
	if f.OpenOnly {
		ds = ds.Where(goqu.I("l.returned_at").IsNull())
	}
	if !f.DueBefore.IsZero() {
		ds = ds.Where(goqu.I("l.due_at").Lt(f.DueBefore)).
			Order(goqu.I("l.due_at").Asc(), goqu.I("l.id").Asc())
	} else {
		ds = ds.Order(goqu.I("l.checked_out_at").Desc(), goqu.I("l.id").Desc())
	}
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building loan query: %w", err)
	}

	var loans []model.Loan
	if err := sqlx.SelectContext(ctx, q, &loans, query, args...); err != nil {
		return nil, fmt.Errorf("listing loans: %w", err)
	}
	return loans, nil
}
