package api

import (
	"net/http"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/knjiznica/internal/auth"
	"github.com/erazemk/knjiznica/internal/circulation"
	"github.com/erazemk/knjiznica/internal/clock"
	"github.com/erazemk/knjiznica/internal/covers"
	"github.com/erazemk/knjiznica/internal/model"
)

// Deps are the collaborators the API needs.
type Deps struct {
	DB      *sqlx.DB
	Auth    *auth.Provider
	Manager *circulation.Manager
	Covers  covers.Store
	Clock   clock.Clock
	Metrics http.Handler
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: d.DB, Auth: d.Auth}
	usersHandler := &UsersHandler{DB: d.DB, Manager: d.Manager}
	booksHandler := &BooksHandler{DB: d.DB, Manager: d.Manager, Covers: d.Covers}
	circHandler := &CirculationHandler{Manager: d.Manager}
	statsHandler := &StatsHandler{DB: d.DB, Clock: d.Clock}
	catalogHandler := &CatalogHandler{DB: d.DB}

	authMW := AuthMiddleware(d.Auth)
	requireAdmin := RequireRole(model.RoleAdmin)
	requireStaff := RequireRole(model.RoleLibrarian)

	authed := func(h http.HandlerFunc) http.Handler { return authMW(h) }
	admin := func(h http.HandlerFunc) http.Handler { return authMW(requireAdmin(h)) }
	staff := func(h http.HandlerFunc) http.Handler { return authMW(requireStaff(h)) }

	// Public.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	// Own account.
	mux.Handle("POST /api/auth/logout", authed(authHandler.Logout))
	mux.Handle("PUT /api/auth/password", authed(authHandler.ChangePassword))
	mux.Handle("GET /api/auth/me", authed(authHandler.Me))

	// Users (admin only).
	mux.Handle("GET /api/users", admin(usersHandler.List))
	mux.Handle("POST /api/users", admin(usersHandler.Create))
	mux.Handle("GET /api/users/{id}", admin(usersHandler.Get))
	mux.Handle("PUT /api/users/{id}", admin(usersHandler.Update))
	mux.Handle("PUT /api/users/{id}/password", admin(usersHandler.ResetPassword))
	mux.Handle("DELETE /api/users/{id}", admin(usersHandler.Delete))

	// Books: read (all roles), write (librarian+).
	mux.Handle("GET /api/books", authed(booksHandler.List))
	mux.Handle("POST /api/books", staff(booksHandler.Create))
	mux.Handle("GET /api/books/{id}", authed(booksHandler.Get))
	mux.Handle("PUT /api/books/{id}", staff(booksHandler.Update))
	mux.Handle("DELETE /api/books/{id}", staff(booksHandler.Delete))
	mux.Handle("GET /api/books/{id}/status", authed(booksHandler.Status))
	mux.Handle("PUT /api/books/{id}/copies", staff(booksHandler.SetCopies))
	mux.Handle("PUT /api/books/{id}/withdrawn", staff(booksHandler.SetWithdrawn))
	mux.Handle("GET /api/books/{id}/history", staff(booksHandler.History))
	mux.Handle("PUT /api/books/{id}/cover", staff(booksHandler.UploadCover))
	mux.Handle("GET /api/books/{id}/cover", authed(booksHandler.GetCover))

	// Circulation. Acting for another user is checked by the manager.
	mux.Handle("POST /api/books/{id}/borrow", authed(circHandler.Borrow))
	mux.Handle("POST /api/books/{id}/return", authed(circHandler.Return))
	mux.Handle("POST /api/books/{id}/reserve", authed(circHandler.Reserve))
	mux.Handle("POST /api/books/{id}/cancel-reservation", authed(circHandler.CancelReservation))

	// Listings.
	mux.Handle("GET /api/loans", authed(circHandler.OwnLoans))
	mux.Handle("GET /api/loans/overdue", authed(circHandler.Overdue))
	mux.Handle("GET /api/reservations", authed(circHandler.OwnReservations))
	mux.Handle("GET /api/users/{id}/loans", authed(circHandler.UserLoans))
	mux.Handle("GET /api/users/{id}/reservations", authed(circHandler.UserReservations))

	// Dashboard and catalog.
	mux.Handle("GET /api/stats", staff(statsHandler.Get))
	mux.Handle("POST /api/catalog/import", admin(catalogHandler.Import))
	mux.Handle("GET /api/catalog/export", admin(catalogHandler.Export))

	return LoggingMiddleware(mux)
}
