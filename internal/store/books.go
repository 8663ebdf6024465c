package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"

	"github.com/erazemk/knjiznica/internal/model"
)

var bookColumns = []any{
	"id", "title", "author", "isbn", "description", "total_copies", "available_copies",
	"status", "cover_mime", "version", "created_at", "updated_at", "deleted_at",
}

const bookColumnList = `id, title, author, isbn, description, total_copies, available_copies,
	status, cover_mime, version, created_at, updated_at, deleted_at`

// CreateBook adds a book with all copies available. A duplicate ISBN yields
// ErrConflict.
func CreateBook(ctx context.Context, q sqlx.ExtContext, title, author, isbn, description string, copies int) (*model.Book, error) {
	if err := model.ValidateBook(title, author, isbn, copies); err != nil {
		return nil, err
	}
	isbn = model.NormalizeISBN(isbn)

	var id int64
	err := q.QueryRowxContext(ctx,
		q.Rebind(`INSERT INTO books (title, author, isbn, description, total_copies, available_copies)
		          VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		strings.TrimSpace(title), strings.TrimSpace(author), isbn, description, copies, copies,
	).Scan(&id)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: a book with isbn %s already exists", model.ErrConflict, isbn)
	}
	if err != nil {
		return nil, fmt.Errorf("creating book: %w", err)
	}

	return GetBook(ctx, q, id)
}

// GetBook returns a non-deleted book by ID.
func GetBook(ctx context.Context, q sqlx.ExtContext, id int64) (*model.Book, error) {
	b := &model.Book{}
	err := sqlx.GetContext(ctx, q, b,
		q.Rebind(`SELECT `+bookColumnList+` FROM books WHERE id = ? AND deleted_at IS NULL`), id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting book: %w", err)
	}
	return b, nil
}

// GetBookByISBN returns a non-deleted book by normalized ISBN.
func GetBookByISBN(ctx context.Context, q sqlx.ExtContext, isbn string) (*model.Book, error) {
	isbn = model.NormalizeISBN(isbn)
	if isbn == "" {
		return nil, nil
	}
	b := &model.Book{}
	err := sqlx.GetContext(ctx, q, b,
		q.Rebind(`SELECT `+bookColumnList+` FROM books WHERE isbn = ? AND deleted_at IS NULL`), isbn,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting book by isbn: %w", err)
	}
	return b, nil
}

// BookExists reports whether a non-deleted book with the ID exists.
func BookExists(ctx context.Context, q sqlx.ExtContext, id int64) (bool, error) {
	var count int
	err := sqlx.GetContext(ctx, q, &count,
		q.Rebind(`SELECT COUNT(*) FROM books WHERE id = ? AND deleted_at IS NULL`), id,
	)
	if err != nil {
		return false, fmt.Errorf("checking book: %w", err)
	}
	return count > 0, nil
}

func bookConditions(f model.BookFilter) []exp.Expression {
	where := []exp.Expression{goqu.C("deleted_at").IsNull()}
	if f.Query != "" {
		pattern := "%" + f.Query + "%"
		where = append(where, goqu.Or(
			goqu.C("title").ILike(pattern),
			goqu.C("author").ILike(pattern),
			goqu.C("isbn").ILike("%"+model.NormalizeISBN(f.Query)+"%"),
		))
	}
	if f.Author != "" {
		where = append(where, goqu.C("author").ILike("%"+f.Author+"%"))
	}
	if f.Status != "" {
		where = append(where, goqu.C("status").Eq(f.Status))
	}
	if f.AvailableOnly {
		where = append(where, goqu.C("available_copies").Gt(0), goqu.C("status").Eq(model.BookStatusActive))
	}
	return where
}

// ListBooks returns non-deleted books matching the filter, ordered by title.
func ListBooks(ctx context.Context, q sqlx.ExtContext, f model.BookFilter) ([]model.Book, error) {
	ds := builder(q).From("books").
		Select(bookColumns...).
		Where(bookConditions(f)...).
		Order(goqu.C("title").Asc(), goqu.C("id").Asc()).
		Prepared(true)
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building book query: %w", err)
	}

	var books []model.Book
	if err := sqlx.SelectContext(ctx, q, &books, query, args...); err != nil {
		return nil, fmt.Errorf("listing books: %w", err)
	}
	return books, nil
}

// CountBooks returns how many books match the filter, ignoring pagination.
func CountBooks(ctx context.Context, q sqlx.ExtContext, f model.BookFilter) (int, error) {
	query, args, err := builder(q).From("books").
		Select(goqu.COUNT(goqu.Star())).
		Where(bookConditions(f)...).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("building book count query: %w", err)
	}

	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, args...); err != nil {
		return 0, fmt.Errorf("counting books: %w", err)
	}
	return count, nil
}

// UpdateBookDetails changes descriptive fields. Copy counts and status go
// through the circulation manager.
func UpdateBookDetails(ctx context.Context, q sqlx.ExtContext, id int64, title, author, isbn, description string) error {
	if err := model.ValidateBook(title, author, isbn, 1); err != nil {
		return err
	}
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE books SET title = ?, author = ?, isbn = ?, description = ?, updated_at = CURRENT_TIMESTAMP
		          WHERE id = ? AND deleted_at IS NULL`),
		strings.TrimSpace(title), strings.TrimSpace(author), model.NormalizeISBN(isbn), description, id,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: a book with isbn %s already exists", model.ErrConflict, model.NormalizeISBN(isbn))
	}
	if err != nil {
		return fmt.Errorf("updating book: %w", err)
	}
	return expectOne(res, "book", id)
}

// LockBook takes the per-book write lock for the current transaction by
// bumping the version, then returns the book. Postgres holds a row lock
// until commit; SQLite already holds the database write lock.
func LockBook(ctx context.Context, q sqlx.ExtContext, id int64) (*model.Book, error) {
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE books SET version = version + 1 WHERE id = ? AND deleted_at IS NULL`), id,
	)
	if err != nil {
		return nil, fmt.Errorf("locking book: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("locking book: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return GetBook(ctx, q, id)
}

// UpdateAvailability atomically adds delta to the available counter. The
// update only applies while 0 <= available+delta <= total; otherwise it
// returns ErrConflict and leaves the row untouched.
func UpdateAvailability(ctx context.Context, q sqlx.ExtContext, id int64, delta int) (*model.Book, error) {
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE books
		          SET available_copies = available_copies + ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		          WHERE id = ? AND deleted_at IS NULL
		            AND available_copies + ? >= 0 AND available_copies + ? <= total_copies`),
		delta, id, delta, delta,
	)
	if err != nil {
		return nil, fmt.Errorf("updating availability: %w", err)
	}
	if err := conflictUnlessUpdated(ctx, q, res, id, "no copy available to move"); err != nil {
		return nil, err
	}
	return GetBook(ctx, q, id)
}

// SetCopies changes the total copy count, keeping the number of copies on
// loan. The new total must cover every copy currently on loan.
func SetCopies(ctx context.Context, q sqlx.ExtContext, id int64, total int) (*model.Book, error) {
	if total <= 0 {
		return nil, fmt.Errorf("%w: copy count must be positive", model.ErrInvalidArgument)
	}
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE books
		          SET available_copies = ? - (total_copies - available_copies), total_copies = ?,
		              version = version + 1, updated_at = CURRENT_TIMESTAMP
		          WHERE id = ? AND deleted_at IS NULL AND total_copies - available_copies <= ?`),
		total, total, id, total,
	)
	if err != nil {
		return nil, fmt.Errorf("setting copies: %w", err)
	}
	if err := conflictUnlessUpdated(ctx, q, res, id, "more copies are on loan than the new total"); err != nil {
		return nil, err
	}
	return GetBook(ctx, q, id)
}

// SetBookStatus marks a book active or withdrawn.
func SetBookStatus(ctx context.Context, q sqlx.ExtContext, id int64, status string) error {
	if status != model.BookStatusActive && status != model.BookStatusWithdrawn {
		return fmt.Errorf("%w: unknown book status %q", model.ErrInvalidArgument, status)
	}
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE books SET status = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		          WHERE id = ? AND deleted_at IS NULL`),
		status, id,
	)
	if err != nil {
		return fmt.Errorf("setting book status: %w", err)
	}
	return expectOne(res, "book", id)
}

// DeleteBook soft-deletes a book. Callers check for open loans and active
// reservations first.
func DeleteBook(ctx context.Context, q sqlx.ExtContext, id int64) error {
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE books SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`),
		id,
	)
	if err != nil {
		return fmt.Errorf("deleting book: %w", err)
	}
	return expectOne(res, "book", id)
}

// CountHolds returns the open loans and active reservations referencing a book.
func CountHolds(ctx context.Context, q sqlx.ExtContext, bookID int64) (loans, reservations int, err error) {
	err = sqlx.GetContext(ctx, q, &loans,
		q.Rebind(`SELECT COUNT(*) FROM loans WHERE book_id = ? AND returned_at IS NULL`), bookID,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("counting open loans: %w", err)
	}
	err = sqlx.GetContext(ctx, q, &reservations,
		q.Rebind(`SELECT COUNT(*) FROM reservations WHERE book_id = ? AND status = 'active'`), bookID,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("counting active reservations: %w", err)
	}
	return loans, reservations, nil
}

// conflictUnlessUpdated distinguishes a missing book from a guarded update
// that matched no row.
func conflictUnlessUpdated(ctx context.Context, q sqlx.ExtContext, res sql.Result, id int64, reason string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}
	exists, err := BookExists(ctx, q, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: book %d", model.ErrNotFound, id)
	}
	return fmt.Errorf("%w: %s", model.ErrConflict, reason)
}
