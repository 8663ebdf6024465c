// Package circulation moves book copies between patrons: borrowing,
// returning, reserving and cancelling reservations, with every change applied
// as one transaction serialized per book.
package circulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/erazemk/knjiznica/internal/clock"
	"github.com/erazemk/knjiznica/internal/metrics"
	"github.com/erazemk/knjiznica/internal/model"
)

// Defaults for Manager options.
const (
	DefaultLoanPeriod = 14 * 24 * time.Hour
	DefaultHoldPeriod = 7 * 24 * time.Hour
	DefaultMaxLoans   = 10
)

// Manager owns the circulation lifecycle. All mutations of a book's available
// counter and reservation queue go through it.
type Manager struct {
	repo       Repository
	clock      clock.Clock
	loanPeriod time.Duration
	holdPeriod time.Duration
	maxLoans   int
	logger     *slog.Logger
	metrics    metrics.Recorder
}

// Option configures a Manager.
type Option func(*Manager)

// WithLoanPeriod overrides the standard loan period.
func WithLoanPeriod(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.loanPeriod = d
		}
	}
}

// WithHoldPeriod overrides how long a reservation stays active.
func WithHoldPeriod(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.holdPeriod = d
		}
	}
}

// WithMaxLoans caps concurrent open loans per borrower. Zero disables the cap.
func WithMaxLoans(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.maxLoans = n
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics sets the operation recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.metrics = r
		}
	}
}

// NewManager creates a Manager.
func NewManager(repo Repository, clk clock.Clock, opts ...Option) *Manager {
	m := &Manager{
		repo:       repo,
		clock:      clk,
		loanPeriod: DefaultLoanPeriod,
		holdPeriod: DefaultHoldPeriod,
		maxLoans:   DefaultMaxLoans,
		logger:     slog.Default(),
		metrics:    metrics.Nop{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoanPeriod returns the configured standard loan period.
func (m *Manager) LoanPeriod() time.Duration { return m.loanPeriod }

// HoldPeriod returns the configured reservation hold period.
func (m *Manager) HoldPeriod() time.Duration { return m.holdPeriod }

// BorrowRequest describes a checkout. Zero TargetUserID means the caller;
// zero DueAt means now plus the loan period.
type BorrowRequest struct {
	BookID       int64
	TargetUserID int64
	DueAt        time.Time
}

// Borrow checks a copy out to the target user. Free copies are earmarked for
// the oldest pending reservations first; a borrower holding one of those
// reservations takes the earmarked copy and the reservation is fulfilled.
func (m *Manager) Borrow(ctx context.Context, caller model.Identity, req BorrowRequest) (loan *model.Loan, err error) {
	defer m.observe(ctx, "borrow", time.Now(), &err)

	if req.BookID <= 0 {
		return nil, fmt.Errorf("%w: book id required", model.ErrInvalidArgument)
	}
	target, err := resolveTarget(caller, req.TargetUserID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	due := now.Add(m.loanPeriod)
	if !req.DueAt.IsZero() {
		if !caller.IsStaff() {
			return nil, fmt.Errorf("%w: only librarians may set a due date", model.ErrUnauthorized)
		}
		if !req.DueAt.After(now) {
			return nil, fmt.Errorf("%w: due date must be in the future", model.ErrInvalidArgument)
		}
		due = req.DueAt.UTC()
	}

	var fulfilled *model.Reservation
	err = m.repo.WithTx(ctx, func(ctx context.Context) error {
		book, err := m.repo.LockBook(ctx, req.BookID)
		if err != nil {
			return err
		}
		if book.Withdrawn() {
			return fmt.Errorf("%w: book %d is withdrawn", model.ErrConflict, book.ID)
		}
		if err := m.repo.LockUser(ctx, target); err != nil {
			return err
		}

		open, err := m.repo.FindOpenLoan(ctx, book.ID, target)
		if err != nil {
			return err
		}
		if open != nil {
			return fmt.Errorf("%w: user %d already has book %d on loan", model.ErrConflict, target, book.ID)
		}
		if m.maxLoans > 0 {
			n, err := m.repo.CountOpenLoans(ctx, target)
			if err != nil {
				return err
			}
			if n >= m.maxLoans {
				return fmt.Errorf("%w: user %d has reached the limit of %d loans", model.ErrConflict, target, m.maxLoans)
			}
		}

		queue, err := m.repo.PendingQueue(ctx, book.ID, now)
		if err != nil {
			return err
		}
		pos := queueIndex(queue, target)
		if !mayBorrow(book.AvailableCopies, len(queue), pos) {
			if book.AvailableCopies == 0 {
				return fmt.Errorf("%w: no copies of book %d available", model.ErrConflict, book.ID)
			}
			return fmt.Errorf("%w: available copies of book %d are held for earlier reservations", model.ErrConflict, book.ID)
		}

		if _, err := m.repo.UpdateAvailability(ctx, book.ID, -1); err != nil {
			return err
		}
		loan, err = m.repo.CreateLoan(ctx, model.Loan{
			BookID:       book.ID,
			BorrowerID:   target,
			CheckedOutBy: caller.UserID,
			CheckedOutAt: now,
			DueAt:        due,
			BookTitle:    book.Title,
		})
		if err != nil {
			return err
		}

		if pos >= 0 {
			r := queue[pos]
			if err := m.repo.SetReservationStatus(ctx, r.ID, model.ReservationFulfilled, now); err != nil {
				return err
			}
			fulfilled = &r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("book borrowed",
		"book_id", loan.BookID, "user_id", loan.BorrowerID, "actor_id", caller.UserID,
		"loan_id", loan.ID, "due", loan.DueAt)
	if fulfilled != nil {
		m.logger.Info("reservation fulfilled", "reservation_id", fulfilled.ID, "book_id", fulfilled.BookID, "user_id", target)
	}
	return loan, nil
}

// ReturnRequest describes a return. Zero TargetUserID means the caller; an
// empty Condition means good.
type ReturnRequest struct {
	BookID       int64
	TargetUserID int64
	Condition    model.Condition
}

// Return closes the target user's open loan on the book and puts the copy
// back. If reservations are waiting the copy is held for the queue head.
func (m *Manager) Return(ctx context.Context, caller model.Identity, req ReturnRequest) (loan *model.Loan, err error) {
	defer m.observe(ctx, "return", time.Now(), &err)

	if req.BookID <= 0 {
		return nil, fmt.Errorf("%w: book id required", model.ErrInvalidArgument)
	}
	target, err := resolveTarget(caller, req.TargetUserID)
	if err != nil {
		return nil, err
	}
	condition, err := model.ParseCondition(string(req.Condition))
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	var queued int
	err = m.repo.WithTx(ctx, func(ctx context.Context) error {
		book, err := m.repo.LockBook(ctx, req.BookID)
		if err != nil {
			return err
		}

		loan, err = m.repo.FindOpenLoan(ctx, book.ID, target)
		if err != nil {
			return err
		}
		if loan == nil {
			return fmt.Errorf("%w: no open loan of book %d for user %d", model.ErrNotFound, book.ID, target)
		}

		if err := m.repo.CloseLoan(ctx, loan.ID, now, condition); err != nil {
			return err
		}
		if _, err := m.repo.UpdateAvailability(ctx, book.ID, 1); err != nil {
			return err
		}

		queue, err := m.repo.PendingQueue(ctx, book.ID, now)
		if err != nil {
			return err
		}
		queued = len(queue)

		loan.ReturnedAt = &now
		loan.Condition = condition
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("book returned",
		"book_id", loan.BookID, "user_id", loan.BorrowerID, "actor_id", caller.UserID,
		"loan_id", loan.ID, "condition", condition, "queued", queued)
	if condition != model.ConditionGood {
		m.logger.Warn("copy returned in poor condition",
			"book_id", loan.BookID, "loan_id", loan.ID, "condition", condition)
	}
	return loan, nil
}

// Reserve queues the caller for the next free copy of a book.
func (m *Manager) Reserve(ctx context.Context, caller model.Identity, bookID int64) (res *model.Reservation, err error) {
	defer m.observe(ctx, "reserve", time.Now(), &err)

	if bookID <= 0 {
		return nil, fmt.Errorf("%w: book id required", model.ErrInvalidArgument)
	}
	requester, err := resolveTarget(caller, 0)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	err = m.repo.WithTx(ctx, func(ctx context.Context) error {
		book, err := m.repo.LockBook(ctx, bookID)
		if err != nil {
			return err
		}
		if book.Withdrawn() {
			return fmt.Errorf("%w: book %d is withdrawn", model.ErrConflict, book.ID)
		}
		if err := m.repo.LockUser(ctx, requester); err != nil {
			return err
		}

		open, err := m.repo.FindOpenLoan(ctx, book.ID, requester)
		if err != nil {
			return err
		}
		if open != nil {
			return fmt.Errorf("%w: user %d already has book %d on loan", model.ErrConflict, requester, book.ID)
		}

		existing, err := m.repo.FindActiveReservation(ctx, book.ID, requester)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.Pending(now) {
				return fmt.Errorf("%w: user %d already reserved book %d", model.ErrConflict, requester, book.ID)
			}
			// Lapsed but not yet swept.
			if err := m.repo.SetReservationStatus(ctx, existing.ID, model.ReservationExpired, now); err != nil {
				return err
			}
		}

		res, err = m.repo.CreateReservation(ctx, model.Reservation{
			BookID:      book.ID,
			RequesterID: requester,
			CreatedAt:   now,
			ExpiresAt:   now.Add(m.holdPeriod),
			BookTitle:   book.Title,
		})
		if err != nil {
			return err
		}

		queue, err := m.repo.PendingQueue(ctx, book.ID, now)
		if err != nil {
			return err
		}
		res.QueuePosition = queueIndex(queue, requester) + 1
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("book reserved",
		"book_id", res.BookID, "user_id", res.RequesterID, "reservation_id", res.ID,
		"position", res.QueuePosition, "expires", res.ExpiresAt)
	return res, nil
}

// CancelReservation cancels the target user's pending reservation on a book.
// Zero targetUserID means the caller.
func (m *Manager) CancelReservation(ctx context.Context, caller model.Identity, bookID, targetUserID int64) (res *model.Reservation, err error) {
	defer m.observe(ctx, "cancel_reservation", time.Now(), &err)

	if bookID <= 0 {
		return nil, fmt.Errorf("%w: book id required", model.ErrInvalidArgument)
	}
	target, err := resolveTarget(caller, targetUserID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	err = m.repo.WithTx(ctx, func(ctx context.Context) error {
		if _, err := m.repo.LockBook(ctx, bookID); err != nil {
			return err
		}

		res, err = m.repo.FindActiveReservation(ctx, bookID, target)
		if err != nil {
			return err
		}
		if res == nil || !res.Pending(now) {
			return fmt.Errorf("%w: no active reservation of book %d for user %d", model.ErrNotFound, bookID, target)
		}

		if err := m.repo.SetReservationStatus(ctx, res.ID, model.ReservationCancelled, now); err != nil {
			return err
		}
		res.Status = model.ReservationCancelled
		res.ResolvedAt = &now
		res.QueuePosition = 0
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("reservation cancelled",
		"book_id", res.BookID, "user_id", res.RequesterID, "actor_id", caller.UserID, "reservation_id", res.ID)
	return res, nil
}

// ExpireReservations moves every reservation past its expiry to expired.
func (m *Manager) ExpireReservations(ctx context.Context) (expired []model.Reservation, err error) {
	defer m.observe(ctx, "expire_reservations", time.Now(), &err)

	now := m.clock.Now()
	err = m.repo.WithTx(ctx, func(ctx context.Context) error {
		expired, err = m.repo.ExpireReservations(ctx, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, r := range expired {
		m.logger.Info("reservation expired", "reservation_id", r.ID, "book_id", r.BookID, "user_id", r.RequesterID)
	}
	m.metrics.ReservationsExpired(ctx, len(expired))
	return expired, nil
}

func (m *Manager) observe(ctx context.Context, op string, start time.Time, err *error) {
	m.metrics.Observe(ctx, op, *err == nil, time.Since(start))
}

// resolveTarget returns the user an operation acts on. Acting for someone
// else needs librarian or admin.
func resolveTarget(caller model.Identity, target int64) (int64, error) {
	if caller.UserID <= 0 || !model.ValidRole(caller.Role) {
		return 0, fmt.Errorf("%w: unknown caller", model.ErrUnauthorized)
	}
	if target < 0 {
		return 0, fmt.Errorf("%w: invalid user id %d", model.ErrInvalidArgument, target)
	}
	if target == 0 || target == caller.UserID {
		return caller.UserID, nil
	}
	if !caller.IsStaff() {
		return 0, fmt.Errorf("%w: only librarians may act for other users", model.ErrUnauthorized)
	}
	return target, nil
}

// queueIndex returns the user's 0-based place in the queue, or -1.
func queueIndex(queue []model.Reservation, userID int64) int {
	for i, r := range queue {
		if r.RequesterID == userID {
			return i
		}
	}
	return -1
}

// mayBorrow applies the earmark policy: the first min(available, queued)
// reservations each hold a free copy, and anyone may take a copy beyond those.
func mayBorrow(available, queued, pos int) bool {
	if pos >= 0 && pos < available {
		return true
	}
	return available-queued >= 1
}
