package api

import (
	"net/http"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/knjiznica/internal/clock"
	"github.com/erazemk/knjiznica/internal/store"
)

// StatsHandler serves the librarian dashboard.
type StatsHandler struct {
	DB    *sqlx.DB
	Clock clock.Clock
}

// Get handles GET /api/stats.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats, err := store.GetStats(r.Context(), h.DB, h.Clock.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, stats)
}
