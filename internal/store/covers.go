package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SetBookCover stores cover image data for a book.
func SetBookCover(ctx context.Context, q sqlx.ExtContext, id int64, data []byte, mime string) error {
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE books SET cover = ?, cover_mime = ?, updated_at = CURRENT_TIMESTAMP
		          WHERE id = ? AND deleted_at IS NULL`),
		data, mime, id,
	)
	if err != nil {
		return fmt.Errorf("setting book cover: %w", err)
	}
	return expectOne(res, "book", id)
}

// SetBookCoverMime records the cover type for covers kept outside the database.
func SetBookCoverMime(ctx context.Context, q sqlx.ExtContext, id int64, mime string) error {
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE books SET cover = NULL, cover_mime = ?, updated_at = CURRENT_TIMESTAMP
		          WHERE id = ? AND deleted_at IS NULL`),
		mime, id,
	)
	if err != nil {
		return fmt.Errorf("setting book cover type: %w", err)
	}
	return expectOne(res, "book", id)
}

// GetBookCover returns the cover data and MIME type. Data is nil when the
// book has no stored cover.
func GetBookCover(ctx context.Context, q sqlx.ExtContext, id int64) ([]byte, string, error) {
	var row struct {
		Cover []byte `db:"cover"`
		Mime  string `db:"cover_mime"`
	}
	err := sqlx.GetContext(ctx, q, &row,
		q.Rebind(`SELECT cover, cover_mime FROM books WHERE id = ? AND deleted_at IS NULL`), id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting book cover: %w", err)
	}
	return row.Cover, row.Mime, nil
}
