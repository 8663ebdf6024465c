package circulation

import (
	"context"
	"fmt"
	"time"

	"github.com/erazemk/knjiznica/internal/model"
)

// ListBorrowed returns the open loans of a user. Zero userID means the
// caller; patrons may only list their own.
func (m *Manager) ListBorrowed(ctx context.Context, caller model.Identity, userID int64) (loans []model.Loan, err error) {
	defer m.observe(ctx, "list_borrowed", time.Now(), &err)

	target, err := resolveTarget(caller, userID)
	if err != nil {
		return nil, err
	}
	return m.repo.ListLoans(ctx, model.LoanFilter{BorrowerID: target, OpenOnly: true})
}

// ListReserved returns the pending reservations of a user with their
// current queue positions. Lapsed reservations are left out even before
// the sweeper marks them expired.
func (m *Manager) ListReserved(ctx context.Context, caller model.Identity, userID int64) (rs []model.Reservation, err error) {
	defer m.observe(ctx, "list_reserved", time.Now(), &err)

	target, err := resolveTarget(caller, userID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	err = m.repo.WithTx(ctx, func(ctx context.Context) error {
		rs, err = m.repo.ListReservations(ctx, model.ReservationFilter{RequesterID: target, PendingAt: now})
		if err != nil {
			return err
		}
		for i := range rs {
			queue, err := m.repo.PendingQueue(ctx, rs[i].BookID, now)
			if err != nil {
				return err
			}
			rs[i].QueuePosition = queueIndex(queue, target) + 1
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// ListOverdue returns open loans past their due date. Staff see every
// borrower unless userID narrows it; patrons only ever see their own.
func (m *Manager) ListOverdue(ctx context.Context, caller model.Identity, userID int64) (loans []model.Loan, err error) {
	defer m.observe(ctx, "list_overdue", time.Now(), &err)

	var borrower int64
	switch {
	case caller.IsStaff():
		if userID < 0 {
			return nil, fmt.Errorf("%w: invalid user id %d", model.ErrInvalidArgument, userID)
		}
		borrower = userID
	default:
		borrower, err = resolveTarget(caller, userID)
		if err != nil {
			return nil, err
		}
	}

	return m.repo.ListLoans(ctx, model.LoanFilter{
		BorrowerID: borrower,
		OpenOnly:   true,
		DueBefore:  m.clock.Now(),
	})
}

// BookStatus returns a book with its derived availability, computed from one
// consistent read of the counters and the queue.
func (m *Manager) BookStatus(ctx context.Context, bookID int64) (status *model.BookStatus, err error) {
	defer m.observe(ctx, "book_status", time.Now(), &err)

	now := m.clock.Now()
	err = m.repo.WithTx(ctx, func(ctx context.Context) error {
		book, err := m.repo.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		queue, err := m.repo.PendingQueue(ctx, bookID, now)
		if err != nil {
			return err
		}
		status = &model.BookStatus{
			Book:         book,
			Availability: model.DeriveAvailability(book, len(queue)),
			QueueLength:  len(queue),
			ActiveLoans:  book.OnLoan(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// History is the full circulation record of one book.
type History struct {
	Loans        []model.Loan        `json:"loans"`
	Reservations []model.Reservation `json:"reservations"`
}

// BookHistory returns every loan and reservation of a book. Staff only.
func (m *Manager) BookHistory(ctx context.Context, caller model.Identity, bookID int64) (h *History, err error) {
	defer m.observe(ctx, "book_history", time.Now(), &err)

	if !caller.IsStaff() {
		return nil, fmt.Errorf("%w: only librarians may view book history", model.ErrUnauthorized)
	}

	now := m.clock.Now()
	err = m.repo.WithTx(ctx, func(ctx context.Context) error {
		ok, err := m.repo.BookExists(ctx, bookID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: book %d", model.ErrNotFound, bookID)
		}
		h = &History{}
		if h.Loans, err = m.repo.ListLoans(ctx, model.LoanFilter{BookID: bookID}); err != nil {
			return err
		}
		h.Reservations, err = m.repo.ListReservations(ctx, model.ReservationFilter{BookID: bookID, AsOf: now})
		return err
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}
