package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/knjiznica/internal/model"
)

type txKey struct{}

// Repository is the circulation manager's view of the database. Calls made
// with a context returned by WithTx run inside that transaction.
type Repository struct {
	db *sqlx.DB
}

// NewRepository wraps a database handle.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// DB returns the underlying database handle.
func (r *Repository) DB() *sqlx.DB {
	return r.db
}

// WithTx runs fn in a transaction carried by its context. Nested calls reuse
// the outer transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func txFromContext(ctx context.Context) *sqlx.Tx {
	tx, _ := ctx.Value(txKey{}).(*sqlx.Tx)
	return tx
}

func (r *Repository) q(ctx context.Context) sqlx.ExtContext {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return r.db
}

// GetBook returns a book or ErrNotFound.
func (r *Repository) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	b, err := GetBook(ctx, r.q(ctx), id)
	return bookOrNotFound(b, err, id)
}

// BookExists reports whether the book exists.
func (r *Repository) BookExists(ctx context.Context, id int64) (bool, error) {
	return BookExists(ctx, r.q(ctx), id)
}

// UpdateAvailability atomically moves the available counter by delta.
func (r *Repository) UpdateAvailability(ctx context.Context, id int64, delta int) (*model.Book, error) {
	return UpdateAvailability(ctx, r.q(ctx), id, delta)
}

// LockBook takes the per-book lock and returns the book or ErrNotFound.
func (r *Repository) LockBook(ctx context.Context, id int64) (*model.Book, error) {
	b, err := LockBook(ctx, r.q(ctx), id)
	return bookOrNotFound(b, err, id)
}

// SetCopies changes a book's total copy count.
func (r *Repository) SetCopies(ctx context.Context, id int64, total int) (*model.Book, error) {
	return SetCopies(ctx, r.q(ctx), id, total)
}

// SetBookStatus marks a book active or withdrawn.
func (r *Repository) SetBookStatus(ctx context.Context, id int64, status string) error {
	return SetBookStatus(ctx, r.q(ctx), id, status)
}

// DeleteBook soft-deletes a book.
func (r *Repository) DeleteBook(ctx context.Context, id int64) error {
	return DeleteBook(ctx, r.q(ctx), id)
}

// CountHolds counts open loans and active reservations on a book.
func (r *Repository) CountHolds(ctx context.Context, bookID int64) (int, int, error) {
	return CountHolds(ctx, r.q(ctx), bookID)
}

// LockUser serializes work on one user's account until the transaction
// ends. Deleted or missing users yield ErrNotFound.
func (r *Repository) LockUser(ctx context.Context, id int64) error {
	return LockUser(ctx, r.q(ctx), id)
}

// SoftDeleteUser marks the user deleted.
func (r *Repository) SoftDeleteUser(ctx context.Context, id int64, at time.Time) error {
	return SoftDeleteUser(ctx, r.q(ctx), id, at)
}

// CreateLoan inserts an open loan.
func (r *Repository) CreateLoan(ctx context.Context, l model.Loan) (*model.Loan, error) {
	return CreateLoan(ctx, r.q(ctx), l)
}

// CloseLoan returns an open loan.
func (r *Repository) CloseLoan(ctx context.Context, id int64, at time.Time, condition model.Condition) error {
	return CloseLoan(ctx, r.q(ctx), id, at, condition)
}

// FindOpenLoan returns the open loan for the pair, or nil.
func (r *Repository) FindOpenLoan(ctx context.Context, bookID, borrowerID int64) (*model.Loan, error) {
	return GetOpenLoan(ctx, r.q(ctx), bookID, borrowerID)
}

// CountOpenLoans counts a borrower's open loans.
func (r *Repository) CountOpenLoans(ctx context.Context, borrowerID int64) (int, error) {
	return CountOpenLoans(ctx, r.q(ctx), borrowerID)
}

// ListLoans lists loans matching the filter.
func (r *Repository) ListLoans(ctx context.Context, f model.LoanFilter) ([]model.Loan, error) {
	return ListLoans(ctx, r.q(ctx), f)
}

// PendingQueue returns the book's unexpired active reservations, head first.
func (r *Repository) PendingQueue(ctx context.Context, bookID int64, now time.Time) ([]model.Reservation, error) {
	return PendingQueue(ctx, r.q(ctx), bookID, now)
}

// FindActiveReservation returns the pair's active reservation, or nil.
func (r *Repository) FindActiveReservation(ctx context.Context, bookID, requesterID int64) (*model.Reservation, error) {
	return GetActiveReservation(ctx, r.q(ctx), bookID, requesterID)
}

// CreateReservation inserts an active reservation.
func (r *Repository) CreateReservation(ctx context.Context, res model.Reservation) (*model.Reservation, error) {
	return CreateReservation(ctx, r.q(ctx), res)
}

// SetReservationStatus resolves an active reservation.
func (r *Repository) SetReservationStatus(ctx context.Context, id int64, status model.ReservationStatus, at time.Time) error {
	return SetReservationStatus(ctx, r.q(ctx), id, status, at)
}

// ListReservations lists reservations matching the filter.
func (r *Repository) ListReservations(ctx context.Context, f model.ReservationFilter) ([]model.Reservation, error) {
	return ListReservations(ctx, r.q(ctx), f)
}

// ExpireReservations expires every reservation due at now.
func (r *Repository) ExpireReservations(ctx context.Context, now time.Time) ([]model.Reservation, error) {
	return ExpireReservations(ctx, r.q(ctx), now)
}

// bookOrNotFound converts the (nil, nil) not-found convention into ErrNotFound.
func bookOrNotFound(b *model.Book, err error, id int64) (*model.Book, error) {
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: book %d", model.ErrNotFound, id)
	}
	return b, nil
}
