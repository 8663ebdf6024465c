package circulation

import (
	"context"
	"fmt"
	"time"

	"github.com/erazemk/knjiznica/internal/model"
)

// SetCopies changes the number of copies a book has. The new total may not
// drop below the copies currently on loan.
func (m *Manager) SetCopies(ctx context.Context, caller model.Identity, bookID int64, total int) (book *model.Book, err error) {
	defer m.observe(ctx, "set_copies", time.Now(), &err)

	if !caller.IsStaff() {
		return nil, fmt.Errorf("%w: only librarians may change copy counts", model.ErrUnauthorized)
	}

	err = m.repo.WithTx(ctx, func(ctx context.Context) error {
		if _, err := m.repo.LockBook(ctx, bookID); err != nil {
			return err
		}
		book, err = m.repo.SetCopies(ctx, bookID, total)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("copy count changed", "book_id", book.ID, "actor_id", caller.UserID,
		"total", book.TotalCopies, "available", book.AvailableCopies)
	return book, nil
}

// SetWithdrawn withdraws a book from circulation or restores it. Withdrawing
// cancels every active reservation; open loans stay open until returned.
func (m *Manager) SetWithdrawn(ctx context.Context, caller model.Identity, bookID int64, withdrawn bool) (book *model.Book, err error) {
	defer m.observe(ctx, "set_withdrawn", time.Now(), &err)

	if !caller.IsStaff() {
		return nil, fmt.Errorf("%w: only librarians may withdraw books", model.ErrUnauthorized)
	}

	status := model.BookStatusActive
	if withdrawn {
		status = model.BookStatusWithdrawn
	}

	now := m.clock.Now()
	var cancelled int
	err = m.repo.WithTx(ctx, func(ctx context.Context) error {
		if _, err := m.repo.LockBook(ctx, bookID); err != nil {
			return err
		}
		if err := m.repo.SetBookStatus(ctx, bookID, status); err != nil {
			return err
		}
		if withdrawn {
			active, err := m.repo.ListReservations(ctx, model.ReservationFilter{
				BookID: bookID,
				Status: model.ReservationActive,
			})
			if err != nil {
				return err
			}
			for _, r := range active {
				if err := m.repo.SetReservationStatus(ctx, r.ID, model.ReservationCancelled, now); err != nil {
					return err
				}
			}
			cancelled = len(active)
		}
		book, err = m.repo.GetBook(ctx, bookID)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("book status changed", "book_id", bookID, "actor_id", caller.UserID,
		"status", status, "reservations_cancelled", cancelled)
	return book, nil
}

// DeleteBook removes a book from the catalog. It is refused while any copy
// is on loan or any reservation is active.
func (m *Manager) DeleteBook(ctx context.Context, caller model.Identity, bookID int64) (err error) {
	defer m.observe(ctx, "delete_book", time.Now(), &err)

	if !caller.IsStaff() {
		return fmt.Errorf("%w: only librarians may delete books", model.ErrUnauthorized)
	}

	err = m.repo.WithTx(ctx, func(ctx context.Context) error {
		if _, err := m.repo.LockBook(ctx, bookID); err != nil {
			return err
		}
		loans, reservations, err := m.repo.CountHolds(ctx, bookID)
		if err != nil {
			return err
		}
		if loans > 0 || reservations > 0 {
			return fmt.Errorf("%w: book %d has %d open loans and %d active reservations",
				model.ErrConflict, bookID, loans, reservations)
		}
		return m.repo.DeleteBook(ctx, bookID)
	})
	if err != nil {
		return err
	}

	m.logger.Info("book deleted", "book_id", bookID, "actor_id", caller.UserID)
	return nil
}
