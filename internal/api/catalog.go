package api

import (
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/knjiznica/internal/catalog"
)

const maxImportBytes = 20 << 20

// CatalogHandler handles CSV import and export (admin only).
type CatalogHandler struct {
	DB *sqlx.DB
}

// Import handles POST /api/catalog/import with a multipart "file".
func (h *CatalogHandler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		badRequest(w, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "csv file required")
		return
	}
	defer file.Close()

	report, err := catalog.Import(r.Context(), h.DB, file)
	if err != nil {
		writeError(w, r, err)
		return
	}

	caller, _ := CallerFrom(r.Context())
	slog.Info("catalog import", "user", caller.Username, "created", report.Created, "skipped", report.Skipped)
	jsonResponse(w, http.StatusOK, report)
}

// Export handles GET /api/catalog/export.
func (h *CatalogHandler) Export(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="catalog.csv"`)
	if _, err := catalog.Export(r.Context(), h.DB, w); err != nil {
		// Headers are already sent.
		slog.Error("catalog export failed", "request_id", RequestID(r.Context()), "error", err)
	}
}
