package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/knjiznica/internal/circulation"
	"github.com/erazemk/knjiznica/internal/covers"
	"github.com/erazemk/knjiznica/internal/imaging"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// BooksHandler handles catalog endpoints.
type BooksHandler struct {
	DB      *sqlx.DB
	Manager *circulation.Manager
	Covers  covers.Store
}

type bookRequest struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	ISBN        string `json:"isbn"`
	Description string `json:"description"`
	Copies      int    `json:"copies"`
}

type copiesRequest struct {
	Copies int `json:"copies"`
}

type withdrawnRequest struct {
	Withdrawn bool `json:"withdrawn"`
}

type bookPage struct {
	Books []model.Book `json:"books"`
	Total int          `json:"total"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
}

// List handles GET /api/books?q=&author=&available=&status=&page=&limit=.
func (h *BooksHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, limit := 1, defaultPageSize
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(w, "invalid page")
			return
		}
		page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(w, "invalid limit")
			return
		}
		limit = min(n, maxPageSize)
	}

	filter := model.BookFilter{
		Query:  q.Get("q"),
		Author: q.Get("author"),
		Status: q.Get("status"),
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
	if v := q.Get("available"); v != "" {
		available, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(w, "invalid available flag")
			return
		}
		filter.AvailableOnly = available
	}

	books, err := store.ListBooks(r.Context(), h.DB, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, err := store.CountBooks(r.Context(), h.DB, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if books == nil {
		books = []model.Book{}
	}
	jsonResponse(w, http.StatusOK, bookPage{Books: books, Total: total, Page: page, Limit: limit})
}

// Create handles POST /api/books.
func (h *BooksHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.Copies == 0 {
		req.Copies = 1
	}

	book, err := store.CreateBook(r.Context(), h.DB, req.Title, req.Author, req.ISBN, req.Description, req.Copies)
	if err != nil {
		writeError(w, r, err)
		return
	}

	caller, _ := CallerFrom(r.Context())
	slog.Info("book created", "user", caller.Username, "book_id", book.ID, "title", book.Title, "copies", book.TotalCopies)
	jsonResponse(w, http.StatusCreated, book)
}

// Get handles GET /api/books/{id}. The book comes with its derived status.
func (h *BooksHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.Status(w, r)
}

// Status handles GET /api/books/{id}/status.
func (h *BooksHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid book id")
		return
	}

	status, err := h.Manager.BookStatus(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, status)
}

// Update handles PUT /api/books/{id}. Copy counts change through
// SetCopies so the available counter stays consistent.
func (h *BooksHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid book id")
		return
	}

	var req bookRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	if err := store.UpdateBookDetails(r.Context(), h.DB, id, req.Title, req.Author, req.ISBN, req.Description); err != nil {
		writeError(w, r, err)
		return
	}

	book, err := store.GetBook(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	caller, _ := CallerFrom(r.Context())
	slog.Info("book updated", "user", caller.Username, "book_id", id)
	jsonResponse(w, http.StatusOK, book)
}

// SetCopies handles PUT /api/books/{id}/copies.
func (h *BooksHandler) SetCopies(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid book id")
		return
	}

	var req copiesRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	caller, _ := CallerFrom(r.Context())
	book, err := h.Manager.SetCopies(r.Context(), caller, id, req.Copies)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, book)
}

// SetWithdrawn handles PUT /api/books/{id}/withdrawn.
func (h *BooksHandler) SetWithdrawn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid book id")
		return
	}

	var req withdrawnRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	caller, _ := CallerFrom(r.Context())
	book, err := h.Manager.SetWithdrawn(r.Context(), caller, id, req.Withdrawn)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, book)
}

// Delete handles DELETE /api/books/{id}.
func (h *BooksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid book id")
		return
	}

	caller, _ := CallerFrom(r.Context())
	if err := h.Manager.DeleteBook(r.Context(), caller, id); err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, message{"book deleted"})
}

// History handles GET /api/books/{id}/history.
func (h *BooksHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid book id")
		return
	}

	caller, _ := CallerFrom(r.Context())
	history, err := h.Manager.BookHistory(r.Context(), caller, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if history.Loans == nil {
		history.Loans = []model.Loan{}
	}
	if history.Reservations == nil {
		history.Reservations = []model.Reservation{}
	}
	jsonResponse(w, http.StatusOK, history)
}

// UploadCover handles PUT /api/books/{id}/cover with a multipart "cover" file.
func (h *BooksHandler) UploadCover(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid book id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err != nil {
		badRequest(w, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("cover")
	if err != nil {
		badRequest(w, "cover file required")
		return
	}
	defer file.Close()

	cover, err := imaging.NormalizeCover(file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Covers.Put(r.Context(), id, cover.Data, cover.MIME); err != nil {
		writeError(w, r, err)
		return
	}

	caller, _ := CallerFrom(r.Context())
	slog.Info("cover uploaded", "user", caller.Username, "book_id", id, "bytes", len(cover.Data))
	jsonResponse(w, http.StatusOK, message{"cover uploaded"})
}

// GetCover handles GET /api/books/{id}/cover.
func (h *BooksHandler) GetCover(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid book id")
		return
	}

	data, mime, err := h.Covers.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}
