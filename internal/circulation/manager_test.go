package circulation

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/knjiznica/internal/clock"
	"github.com/erazemk/knjiznica/internal/db"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

var start = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

type fixture struct {
	t       *testing.T
	ctx     context.Context
	repo    *store.Repository
	clock   *clock.Manual
	manager *Manager
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	database := db.NewTestDB(t)
	clk := clock.NewManual(start)
	repo := store.NewRepository(database)
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return &fixture{
		t:       t,
		ctx:     context.Background(),
		repo:    repo,
		clock:   clk,
		manager: NewManager(repo, clk, opts...),
	}
}

func (f *fixture) user(name, role string) model.Identity {
	f.t.Helper()
	u, err := store.CreateUser(f.ctx, f.repo.DB(), name, "hash", role)
	require.NoError(f.t, err)
	return model.Identity{UserID: u.ID, Username: u.Username, Role: u.Role}
}

func (f *fixture) book(title string, copies int) *model.Book {
	f.t.Helper()
	b, err := store.CreateBook(f.ctx, f.repo.DB(), title, "Author", "", "", copies)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) status(bookID int64) *model.BookStatus {
	f.t.Helper()
	s, err := f.manager.BookStatus(f.ctx, bookID)
	require.NoError(f.t, err)
	return s
}

// checkInvariant asserts that open loans plus free copies account for every copy.
func (f *fixture) checkInvariant(bookID int64) {
	f.t.Helper()
	b, err := f.repo.GetBook(f.ctx, bookID)
	require.NoError(f.t, err)
	loans, err := f.repo.ListLoans(f.ctx, model.LoanFilter{BookID: bookID, OpenOnly: true})
	require.NoError(f.t, err)
	assert.Equal(f.t, b.TotalCopies, b.AvailableCopies+len(loans))
	assert.GreaterOrEqual(f.t, b.AvailableCopies, 0)
}

func TestBorrowUntilExhausted(t *testing.T) {
	f := newFixture(t)
	a := f.user("ana", model.RolePatron)
	b := f.user("bor", model.RolePatron)
	c := f.user("cene", model.RolePatron)
	x := f.book("Dune", 2)

	loan, err := f.manager.Borrow(f.ctx, a, BorrowRequest{BookID: x.ID})
	require.NoError(t, err)
	assert.Equal(t, a.UserID, loan.BorrowerID)
	assert.True(t, loan.DueAt.Equal(start.Add(DefaultLoanPeriod)))
	assert.Equal(t, 1, f.status(x.ID).Book.AvailableCopies)

	_, err = f.manager.Borrow(f.ctx, b, BorrowRequest{BookID: x.ID})
	require.NoError(t, err)
	s := f.status(x.ID)
	assert.Equal(t, 0, s.Book.AvailableCopies)
	assert.Equal(t, model.FullyBorrowed, s.Availability)

	_, err = f.manager.Borrow(f.ctx, c, BorrowRequest{BookID: x.ID})
	assert.ErrorIs(t, err, model.ErrConflict)

	f.checkInvariant(x.ID)
}

func TestReservationHoldsReturnedCopy(t *testing.T) {
	f := newFixture(t)
	a := f.user("ana", model.RolePatron)
	b := f.user("bor", model.RolePatron)
	c := f.user("cene", model.RolePatron)
	d := f.user("dora", model.RolePatron)
	x := f.book("Dune", 2)

	_, err := f.manager.Borrow(f.ctx, a, BorrowRequest{BookID: x.ID})
	require.NoError(t, err)
	_, err = f.manager.Borrow(f.ctx, b, BorrowRequest{BookID: x.ID})
	require.NoError(t, err)

	res, err := f.manager.Reserve(f.ctx, c, x.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationActive, res.Status)
	assert.Equal(t, 1, res.QueuePosition)
	assert.True(t, res.ExpiresAt.Equal(start.Add(DefaultHoldPeriod)))
	assert.Equal(t, 1, f.status(x.ID).QueueLength)

	f.clock.Advance(time.Hour)
	closed, err := f.manager.Return(f.ctx, a, ReturnRequest{BookID: x.ID})
	require.NoError(t, err)
	assert.False(t, closed.Open())
	assert.Equal(t, model.ConditionGood, closed.Condition)

	s := f.status(x.ID)
	assert.Equal(t, 1, s.Book.AvailableCopies)
	assert.Equal(t, model.ReservedPending, s.Availability)

	// The free copy is held for the queue head.
	_, err = f.manager.Borrow(f.ctx, d, BorrowRequest{BookID: x.ID})
	assert.ErrorIs(t, err, model.ErrConflict)

	_, err = f.manager.Borrow(f.ctx, c, BorrowRequest{BookID: x.ID})
	require.NoError(t, err)

	s = f.status(x.ID)
	assert.Equal(t, 0, s.Book.AvailableCopies)
	assert.Equal(t, 0, s.QueueLength)
	assert.Equal(t, model.FullyBorrowed, s.Availability)

	h, err := f.manager.BookHistory(f.ctx, model.Identity{UserID: 99, Role: model.RoleAdmin}, x.ID)
	require.NoError(t, err)
	require.Len(t, h.Reservations, 1)
	assert.Equal(t, model.ReservationFulfilled, h.Reservations[0].Status)
	assert.Len(t, h.Loans, 3)

	f.checkInvariant(x.ID)
}

func TestBorrowFreeCopyBeyondQueue(t *testing.T) {
	f := newFixture(t)
	a := f.user("ana", model.RolePatron)
	c := f.user("cene", model.RolePatron)
	d := f.user("dora", model.RolePatron)
	x := f.book("Dune", 1)

	_, err := f.manager.Borrow(f.ctx, a, BorrowRequest{BookID: x.ID})
	require.NoError(t, err)
	_, err = f.manager.Reserve(f.ctx, c, x.ID)
	require.NoError(t, err)

	// A second copy arrives while the first is still out.
	_, err = f.manager.SetCopies(f.ctx, model.Identity{UserID: 99, Role: model.RoleLibrarian}, x.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, model.ReservedPending, f.status(x.ID).Availability)

	_, err = f.manager.Return(f.ctx, a, ReturnRequest{BookID: x.ID})
	require.NoError(t, err)
	assert.Equal(t, model.Available, f.status(x.ID).Availability)

	// Two free copies, one earmarked for cene: dora takes the other.
	_, err = f.manager.Borrow(f.ctx, d, BorrowRequest{BookID: x.ID})
	require.NoError(t, err)
	_, err = f.manager.Borrow(f.ctx, a, BorrowRequest{BookID: x.ID})
	assert.ErrorIs(t, err, model.ErrConflict)
	_, err = f.manager.Borrow(f.ctx, c, BorrowRequest{BookID: x.ID})
	require.NoError(t, err)

	f.checkInvariant(x.ID)
}

func TestCancelReservationAuthorization(t *testing.T) {
	f := newFixture(t)
	d := f.user("dora", model.RolePatron)
	e := f.user("ema", model.RolePatron)
	lib := f.user("lib", model.RoleLibrarian)
	x := f.book("Dune", 1)

	_, err := f.manager.Reserve(f.ctx, e, x.ID)
	require.NoError(t, err)

	_, err = f.manager.CancelReservation(f.ctx, d, x.ID, e.UserID)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	res, err := f.manager.CancelReservation(f.ctx, lib, x.ID, e.UserID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCancelled, res.Status)
	assert.Equal(t, e.UserID, res.RequesterID)

	_, err = f.manager.CancelReservation(f.ctx, e, x.ID, 0)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestOverdue(t *testing.T) {
	f := newFixture(t)
	a := f.user("ana", model.RolePatron)
	b := f.user("bor", model.RolePatron)
	lib := f.user("lib", model.RoleLibrarian)
	x := f.book("Dune", 2)

	_, err := f.manager.Borrow(f.ctx, lib, BorrowRequest{BookID: x.ID, TargetUserID: a.UserID, DueAt: start.Add(24 * time.Hour)})
	require.NoError(t, err)
	_, err = f.manager.Borrow(f.ctx, b, BorrowRequest{BookID: x.ID})
	require.NoError(t, err)

	overdue, err := f.manager.ListOverdue(f.ctx, lib, 0)
	require.NoError(t, err)
	assert.Empty(t, overdue)

	f.clock.Advance(48 * time.Hour)

	overdue, err = f.manager.ListOverdue(f.ctx, lib, 0)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, a.UserID, overdue[0].BorrowerID)

	// Patrons only see their own.
	overdue, err = f.manager.ListOverdue(f.ctx, b, 0)
	require.NoError(t, err)
	assert.Empty(t, overdue)

	_, err = f.manager.Return(f.ctx, lib, ReturnRequest{BookID: x.ID, TargetUserID: a.UserID})
	require.NoError(t, err)

	overdue, err = f.manager.ListOverdue(f.ctx, lib, 0)
	require.NoError(t, err)
	assert.Empty(t, overdue)
}

func TestBorrowValidation(t *testing.T) {
	f := newFixture(t, WithMaxLoans(2))
	a := f.user("ana", model.RolePatron)
	b := f.user("bor", model.RolePatron)
	lib := f.user("lib", model.RoleLibrarian)
	x := f.book("Dune", 3)
	y := f.book("Emma", 1)
	z := f.book("Faust", 1)

	tests := []struct {
		name   string
		caller model.Identity
		req    BorrowRequest
		want   error
	}{
		{"missing book id", a, BorrowRequest{}, model.ErrInvalidArgument},
		{"unknown book", a, BorrowRequest{BookID: 999}, model.ErrNotFound},
		{"patron for another user", a, BorrowRequest{BookID: x.ID, TargetUserID: b.UserID}, model.ErrUnauthorized},
		{"patron sets due date", a, BorrowRequest{BookID: x.ID, DueAt: start.Add(time.Hour)}, model.ErrUnauthorized},
		{"due date in the past", lib, BorrowRequest{BookID: x.ID, DueAt: start.Add(-time.Hour)}, model.ErrInvalidArgument},
		{"unknown target user", lib, BorrowRequest{BookID: x.ID, TargetUserID: 999}, model.ErrNotFound},
		{"no identity", model.Identity{}, BorrowRequest{BookID: x.ID}, model.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Borrow(f.ctx, tt.caller, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := f.manager.Borrow(f.ctx, a, BorrowRequest{BookID: x.ID})
	require.NoError(t, err)
	_, err = f.manager.Borrow(f.ctx, a, BorrowRequest{BookID: x.ID})
	assert.ErrorIs(t, err, model.ErrConflict, "duplicate loan")

	_, err = f.manager.Borrow(f.ctx, a, BorrowRequest{BookID: y.ID})
	require.NoError(t, err)
	_, err = f.manager.Borrow(f.ctx, a, BorrowRequest{BookID: z.ID})
	assert.ErrorIs(t, err, model.ErrConflict, "loan limit")

	f.checkInvariant(x.ID)
	f.checkInvariant(z.ID)
}

func TestReturnTwice(t *testing.T) {
	f := newFixture(t)
	a := f.user("ana", model.RolePatron)
	x := f.book("Dune", 1)

	_, err := f.manager.Borrow(f.ctx, a, BorrowRequest{BookID: x.ID})
	require.NoError(t, err)

	loan, err := f.manager.Return(f.ctx, a, ReturnRequest{BookID: x.ID, Condition: model.ConditionDamaged})
	require.NoError(t, err)
	assert.Equal(t, model.ConditionDamaged, loan.Condition)

	_, err = f.manager.Return(f.ctx, a, ReturnRequest{BookID: x.ID})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.manager.Return(f.ctx, a, ReturnRequest{BookID: x.ID, Condition: "soggy"})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	assert.Equal(t, 1, f.status(x.ID).Book.AvailableCopies)
}

func TestReserveRules(t *testing.T) {
	f := newFixture(t)
	a := f.user("ana", model.RolePatron)
	c := f.user("cene", model.RolePatron)
	lib := f.user("lib", model.RoleLibrarian)
	x := f.book("Dune", 1)

	_, err := f.manager.Borrow(f.ctx, a, BorrowRequest{BookID: x.ID})
	require.NoError(t, err)

	_, err = f.manager.Reserve(f.ctx, a, x.ID)
	assert.ErrorIs(t, err, model.ErrConflict, "reserve while holding")

	_, err = f.manager.Reserve(f.ctx, c, x.ID)
	require.NoError(t, err)
	_, err = f.manager.Reserve(f.ctx, c, x.ID)
	assert.ErrorIs(t, err, model.ErrConflict, "duplicate reservation")

	// A lapsed reservation no longer blocks a new one.
	f.clock.Advance(DefaultHoldPeriod)
	res, err := f.manager.Reserve(f.ctx, c, x.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.QueuePosition)

	_, err = f.manager.SetWithdrawn(f.ctx, lib, x.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.Unavailable, f.status(x.ID).Availability)

	_, err = f.manager.Reserve(f.ctx, a, x.ID)
	assert.ErrorIs(t, err, model.ErrConflict, "withdrawn book")

	reserved, err := f.manager.ListReserved(f.ctx, c, 0)
	require.NoError(t, err)
	assert.Empty(t, reserved, "withdrawal cancels reservations")

	// Open loans on a withdrawn book can still be returned.
	_, err = f.manager.Return(f.ctx, a, ReturnRequest{BookID: x.ID})
	require.NoError(t, err)
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	a := f.user("ana", model.RolePatron)
	b := f.user("bor", model.RolePatron)
	lib := f.user("lib", model.RoleLibrarian)
	x := f.book("Dune", 1)
	y := f.book("Emma", 1)

	_, err := f.manager.Borrow(f.ctx, a, BorrowRequest{BookID: x.ID})
	require.NoError(t, err)
	_, err = f.manager.Borrow(f.ctx, b, BorrowRequest{BookID: y.ID})
	require.NoError(t, err)
	_, err = f.manager.Reserve(f.ctx, a, y.ID)
	require.NoError(t, err)
	_, err = f.manager.Reserve(f.ctx, b, x.ID)
	require.NoError(t, err)

	borrowed, err := f.manager.ListBorrowed(f.ctx, a, 0)
	require.NoError(t, err)
	require.Len(t, borrowed, 1)
	assert.Equal(t, "Dune", borrowed[0].BookTitle)

	_, err = f.manager.ListBorrowed(f.ctx, a, b.UserID)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	borrowed, err = f.manager.ListBorrowed(f.ctx, lib, b.UserID)
	require.NoError(t, err)
	require.Len(t, borrowed, 1)
	assert.Equal(t, "Emma", borrowed[0].BookTitle)

	reserved, err := f.manager.ListReserved(f.ctx, a, 0)
	require.NoError(t, err)
	require.Len(t, reserved, 1)
	assert.Equal(t, y.ID, reserved[0].BookID)
	assert.Equal(t, 1, reserved[0].QueuePosition)
}

func TestDeleteBook(t *testing.T) {
	f := newFixture(t)
	a := f.user("ana", model.RolePatron)
	lib := f.user("lib", model.RoleLibrarian)
	x := f.book("Dune", 1)

	err := f.manager.DeleteBook(f.ctx, a, x.ID)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = f.manager.Borrow(f.ctx, a, BorrowRequest{BookID: x.ID})
	require.NoError(t, err)
	err = f.manager.DeleteBook(f.ctx, lib, x.ID)
	assert.ErrorIs(t, err, model.ErrConflict)

	_, err = f.manager.SetCopies(f.ctx, lib, x.ID, 0)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = f.manager.Return(f.ctx, a, ReturnRequest{BookID: x.ID})
	require.NoError(t, err)
	require.NoError(t, f.manager.DeleteBook(f.ctx, lib, x.ID))

	_, err = f.manager.BookStatus(f.ctx, x.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestConcurrentBorrowOfLastCopy(t *testing.T) {
	f := newFixture(t)
	x := f.book("Dune", 1)

	const n = 8
	callers := make([]model.Identity, n)
	for i := range callers {
		callers[i] = f.user("reader"+string(rune('a'+i)), model.RolePatron)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for _, c := range callers {
		wg.Add(1)
		go func(c model.Identity) {
			defer wg.Done()
			_, err := f.manager.Borrow(f.ctx, c, BorrowRequest{BookID: x.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, model.ErrConflict):
				conflicts++
			}
		}(c)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, conflicts)
	f.checkInvariant(x.ID)
}

func TestExpireReservations(t *testing.T) {
	f := newFixture(t, WithHoldPeriod(time.Hour))
	a := f.user("ana", model.RolePatron)
	c := f.user("cene", model.RolePatron)
	x := f.book("Dune", 1)

	_, err := f.manager.Borrow(f.ctx, a, BorrowRequest{BookID: x.ID})
	require.NoError(t, err)
	_, err = f.manager.Reserve(f.ctx, c, x.ID)
	require.NoError(t, err)

	expired, err := f.manager.ExpireReservations(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)

	f.clock.Advance(time.Hour)
	assert.Equal(t, 0, f.status(x.ID).QueueLength, "lapsed reservations leave the queue immediately")

	expired, err = f.manager.ExpireReservations(f.ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, model.ReservationExpired, expired[0].Status)

	expired, err = f.manager.ExpireReservations(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestSweeperStopsOnCancel(t *testing.T) {
	f := newFixture(t, WithHoldPeriod(time.Minute))
	c := f.user("cene", model.RolePatron)
	x := f.book("Dune", 1)

	_, err := f.manager.Reserve(f.ctx, c, x.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan error, 1)
	go func() { done <- NewSweeper(f.manager, 10*time.Millisecond).Run(ctx) }()

	require.Eventually(t, func() bool {
		rs, err := f.repo.ListReservations(f.ctx, model.ReservationFilter{BookID: x.ID, Status: model.ReservationExpired})
		return err == nil && len(rs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestMayBorrow(t *testing.T) {
	tests := []struct {
		available, queued, pos int
		want                   bool
	}{
		{0, 0, -1, false},
		{1, 0, -1, true},
		{1, 1, -1, false},
		{1, 1, 0, true},
		{1, 2, 1, false},
		{2, 1, -1, true},
		{2, 2, 1, true},
		{2, 3, 2, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mayBorrow(tt.available, tt.queued, tt.pos),
			"available=%d queued=%d pos=%d", tt.available, tt.queued, tt.pos)
	}
}

func TestHistoryQueuePositionsSkipLapsed(t *testing.T) {
	f := newFixture(t, WithHoldPeriod(time.Hour))
	a := f.user("ana", model.RolePatron)
	b := f.user("bor", model.RolePatron)
	c := f.user("cene", model.RolePatron)
	lib := f.user("lib", model.RoleLibrarian)
	x := f.book("Dune", 1)

	_, err := f.manager.Borrow(f.ctx, a, BorrowRequest{BookID: x.ID})
	require.NoError(t, err)
	_, err = f.manager.Reserve(f.ctx, c, x.ID)
	require.NoError(t, err)
	f.clock.Advance(30 * time.Minute)
	_, err = f.manager.Reserve(f.ctx, b, x.ID)
	require.NoError(t, err)

	// c's reservation lapses; the sweeper has not run yet.
	f.clock.Advance(31 * time.Minute)

	h, err := f.manager.BookHistory(f.ctx, lib, x.ID)
	require.NoError(t, err)
	positions := map[int64]int{}
	for _, r := range h.Reservations {
		positions[r.RequesterID] = r.QueuePosition
	}
	assert.Equal(t, 0, positions[c.UserID])
	assert.Equal(t, 1, positions[b.UserID])

	own, err := f.manager.ListReserved(f.ctx, b, 0)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, positions[b.UserID], own[0].QueuePosition)
}
