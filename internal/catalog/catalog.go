// Package catalog bulk-loads and dumps the book catalog as CSV with the
// columns title, author, isbn, copies, description.
package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// Header is the column row written by Export and accepted by Import.
var Header = []string{"title", "author", "isbn", "copies", "description"}

const exportPageSize = 500

// RowError describes a rejected input row.
type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// Report summarizes an import.
type Report struct {
	Created int        `json:"created"`
	Skipped int        `json:"skipped"`
	Errors  []RowError `json:"errors"`
}

// Import reads books from r and creates them. Invalid rows are reported
// by line and do not stop the import. Rows whose ISBN is already in the
// catalog are skipped. A leading header row is optional.
func Import(ctx context.Context, db *sqlx.DB, r io.Reader) (*Report, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	report := &Report{Errors: []RowError{}}
	first := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			report.Errors = append(report.Errors, RowError{Line: perr.Line, Message: perr.Err.Error()})
			continue
		}
		if err != nil {
			return report, fmt.Errorf("reading csv: %w", err)
		}

		line, _ := cr.FieldPos(0)
		if first {
			first = false
			if len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), Header[0]) {
				continue
			}
		}
		if isBlank(rec) {
			continue
		}

		created, err := importRow(ctx, db, rec)
		switch {
		case err == nil && created:
			report.Created++
		case err == nil:
			report.Skipped++
		case errors.Is(err, model.ErrInvalidArgument):
			report.Errors = append(report.Errors, RowError{Line: line, Message: err.Error()})
		default:
			return report, fmt.Errorf("line %d: %w", line, err)
		}
	}

	slog.Info("catalog imported", "created", report.Created, "skipped", report.Skipped, "errors", len(report.Errors))
	return report, nil
}

func importRow(ctx context.Context, db *sqlx.DB, rec []string) (bool, error) {
	if len(rec) < 4 {
		return false, fmt.Errorf("%w: expected at least 4 columns, got %d", model.ErrInvalidArgument, len(rec))
	}
	title, author, isbn := strings.TrimSpace(rec[0]), strings.TrimSpace(rec[1]), strings.TrimSpace(rec[2])
	copies, err := strconv.Atoi(strings.TrimSpace(rec[3]))
	if err != nil {
		return false, fmt.Errorf("%w: copies %q is not a number", model.ErrInvalidArgument, rec[3])
	}
	var description string
	if len(rec) > 4 {
		description = strings.TrimSpace(rec[4])
	}

	if err := model.ValidateBook(title, author, isbn, copies); err != nil {
		return false, err
	}
	if isbn != "" {
		existing, err := store.GetBookByISBN(ctx, db, model.NormalizeISBN(isbn))
		if err != nil {
			return false, err
		}
		if existing != nil {
			return false, nil
		}
	}

	_, err = store.CreateBook(ctx, db, title, author, isbn, description, copies)
	if errors.Is(err, model.ErrConflict) {
		return false, nil
	}
	return err == nil, err
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Export writes every book in the catalog to w, ordered by title.
func Export(ctx context.Context, db *sqlx.DB, w io.Writer) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return 0, fmt.Errorf("writing csv header: %w", err)
	}

	n := 0
	for offset := 0; ; offset += exportPageSize {
		books, err := store.ListBooks(ctx, db, model.BookFilter{Limit: exportPageSize, Offset: offset})
		if err != nil {
			return n, err
		}
		for _, b := range books {
			rec := []string{b.Title, b.Author, b.ISBN, strconv.Itoa(b.TotalCopies), b.Description}
			if err := cw.Write(rec); err != nil {
				return n, fmt.Errorf("writing csv row: %w", err)
			}
			n++
		}
		if len(books) < exportPageSize {
			break
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("flushing csv: %w", err)
	}
	return n, nil
}
