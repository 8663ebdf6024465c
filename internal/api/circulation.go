package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/erazemk/knjiznica/internal/circulation"
	"github.com/erazemk/knjiznica/internal/model"
)

// CirculationHandler exposes borrowing, returning and reservations.
type CirculationHandler struct {
	Manager *circulation.Manager
}

type borrowRequest struct {
	UserID  int64  `json:"user_id"`
	DueDate string `json:"due_date"`
}

type returnRequest struct {
	UserID    int64  `json:"user_id"`
	Condition string `json:"condition"`
}

type cancelRequest struct {
	UserID int64 `json:"user_id"`
}

// parseDueDate accepts RFC 3339 or a plain date, which means the end of
// that day in UTC.
func parseDueDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return d.Add(24*time.Hour - time.Second), nil
}

// Borrow handles POST /api/books/{id}/borrow.
func (h *CirculationHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	bookID, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid book id")
		return
	}

	var req borrowRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	br := circulation.BorrowRequest{BookID: bookID, TargetUserID: req.UserID}
	if req.DueDate != "" {
		due, err := parseDueDate(req.DueDate)
		if err != nil {
			badRequest(w, "invalid due_date")
			return
		}
		br.DueAt = due
	}

	caller, _ := CallerFrom(r.Context())
	loan, err := h.Manager.Borrow(r.Context(), caller, br)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, loan)
}

// Return handles POST /api/books/{id}/return.
func (h *CirculationHandler) Return(w http.ResponseWriter, r *http.Request) {
	bookID, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid book id")
		return
	}

	var req returnRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	caller, _ := CallerFrom(r.Context())
	loan, err := h.Manager.Return(r.Context(), caller, circulation.ReturnRequest{
		BookID:       bookID,
		TargetUserID: req.UserID,
		Condition:    model.Condition(req.Condition),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, loan)
}

// Reserve handles POST /api/books/{id}/reserve.
func (h *CirculationHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	bookID, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid book id")
		return
	}

	caller, _ := CallerFrom(r.Context())
	res, err := h.Manager.Reserve(r.Context(), caller, bookID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, res)
}

// CancelReservation handles POST /api/books/{id}/cancel-reservation.
func (h *CirculationHandler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	bookID, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid book id")
		return
	}

	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	caller, _ := CallerFrom(r.Context())
	res, err := h.Manager.CancelReservation(r.Context(), caller, bookID, req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

// OwnLoans handles GET /api/loans.
func (h *CirculationHandler) OwnLoans(w http.ResponseWriter, r *http.Request) {
	h.loans(w, r, 0)
}

// UserLoans handles GET /api/users/{id}/loans.
func (h *CirculationHandler) UserLoans(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid user id")
		return
	}
	h.loans(w, r, id)
}

func (h *CirculationHandler) loans(w http.ResponseWriter, r *http.Request, userID int64) {
	caller, _ := CallerFrom(r.Context())
	loans, err := h.Manager.ListBorrowed(r.Context(), caller, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if loans == nil {
		loans = []model.Loan{}
	}
	jsonResponse(w, http.StatusOK, loans)
}

// OwnReservations handles GET /api/reservations.
func (h *CirculationHandler) OwnReservations(w http.ResponseWriter, r *http.Request) {
	h.reservations(w, r, 0)
}

// UserReservations handles GET /api/users/{id}/reservations.
func (h *CirculationHandler) UserReservations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid user id")
		return
	}
	h.reservations(w, r, id)
}

func (h *CirculationHandler) reservations(w http.ResponseWriter, r *http.Request, userID int64) {
	caller, _ := CallerFrom(r.Context())
	rs, err := h.Manager.ListReserved(r.Context(), caller, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rs == nil {
		rs = []model.Reservation{}
	}
	jsonResponse(w, http.StatusOK, rs)
}

// Overdue handles GET /api/loans/overdue?user_id=. Patrons only see their own.
func (h *CirculationHandler) Overdue(w http.ResponseWriter, r *http.Request) {
	var userID int64
	if v := r.URL.Query().Get("user_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			badRequest(w, "invalid user_id")
			return
		}
		userID = n
	}

	caller, _ := CallerFrom(r.Context())
	loans, err := h.Manager.ListOverdue(r.Context(), caller, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if loans == nil {
		loans = []model.Loan{}
	}
	jsonResponse(w, http.StatusOK, loans)
}
