// Package covers keeps book cover images in the database or in an S3
// bucket, optionally behind an in-memory cache.
package covers

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// Store keeps one cover per book. Get returns model.ErrNotFound when the
// book has no cover.
type Store interface {
	Put(ctx context.Context, bookID int64, data []byte, mime string) error
	Get(ctx context.Context, bookID int64) ([]byte, string, error)
	Delete(ctx context.Context, bookID int64) error
}

// DBStore keeps covers in the books table.
type DBStore struct {
	DB *sqlx.DB
}

// NewDBStore creates a DBStore.
func NewDBStore(db *sqlx.DB) *DBStore {
	return &DBStore{DB: db}
}

func (s *DBStore) Put(ctx context.Context, bookID int64, data []byte, mime string) error {
	return store.SetBookCover(ctx, s.DB, bookID, data, mime)
}

func (s *DBStore) Get(ctx context.Context, bookID int64) ([]byte, string, error) {
	data, mime, err := store.GetBookCover(ctx, s.DB, bookID)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: cover of book %d", model.ErrNotFound, bookID)
	}
	return data, mime, nil
}

func (s *DBStore) Delete(ctx context.Context, bookID int64) error {
	return store.SetBookCover(ctx, s.DB, bookID, nil, "")
}
