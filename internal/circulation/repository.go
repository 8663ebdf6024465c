package circulation

import (
	"context"
	"time"

	"github.com/erazemk/knjiznica/internal/model"
)

// Catalog is the book store contract the manager relies on. GetBook returns
// model.ErrNotFound for missing books and UpdateAvailability refuses to move
// the counter outside [0, total] with model.ErrConflict.
type Catalog interface {
	GetBook(ctx context.Context, id int64) (*model.Book, error)
	BookExists(ctx context.Context, id int64) (bool, error)
	UpdateAvailability(ctx context.Context, id int64, delta int) (*model.Book, error)
}

// Repository is everything the manager persists. Calls made with the context
// passed to a WithTx callback run in that transaction. Find methods return
// nil when nothing matches.
type Repository interface {
	Catalog

	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// LockBook serializes work on one book until the transaction ends.
	LockBook(ctx context.Context, id int64) (*model.Book, error)
	SetCopies(ctx context.Context, id int64, total int) (*model.Book, error)
	SetBookStatus(ctx context.Context, id int64, status string) error
	DeleteBook(ctx context.Context, id int64) error
	CountHolds(ctx context.Context, bookID int64) (loans, reservations int, err error)

	// LockUser serializes work on one account until the transaction ends.
	// Take it after LockBook when both are needed.
	LockUser(ctx context.Context, id int64) error
	SoftDeleteUser(ctx context.Context, id int64, at time.Time) error

	CreateLoan(ctx context.Context, l model.Loan) (*model.Loan, error)
	CloseLoan(ctx context.Context, id int64, at time.Time, condition model.Condition) error
	FindOpenLoan(ctx context.Context, bookID, borrowerID int64) (*model.Loan, error)
	CountOpenLoans(ctx context.Context, borrowerID int64) (int, error)
	ListLoans(ctx context.Context, f model.LoanFilter) ([]model.Loan, error)

	PendingQueue(ctx context.Context, bookID int64, now time.Time) ([]model.Reservation, error)
	FindActiveReservation(ctx context.Context, bookID, requesterID int64) (*model.Reservation, error)
	CreateReservation(ctx context.Context, r model.Reservation) (*model.Reservation, error)
	SetReservationStatus(ctx context.Context, id int64, status model.ReservationStatus, at time.Time) error
	ListReservations(ctx context.Context, f model.ReservationFilter) ([]model.Reservation, error)
	ExpireReservations(ctx context.Context, now time.Time) ([]model.Reservation, error)
}
