package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/knjiznica/internal/model"
)

const userColumns = `id, username, password_hash, role, created_at, deleted_at`

// CreateUser creates a new user. A taken username yields ErrConflict.
func CreateUser(ctx context.Context, q sqlx.ExtContext, username, passwordHash, role string) (*model.User, error) {
	var id int64
	err := q.QueryRowxContext(ctx,
		q.Rebind(`INSERT INTO users (username, password_hash, role) VALUES (?, ?, ?) RETURNING id`),
		username, passwordHash, role,
	).Scan(&id)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: username %q already exists", model.ErrConflict, username)
	}
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return GetUser(ctx, q, id)
}

// GetUser returns a user by ID.
func GetUser(ctx context.Context, q sqlx.ExtContext, id int64) (*model.User, error) {
	u := &model.User{}
	err := sqlx.GetContext(ctx, q, u,
		q.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// GetUserByUsername returns an active user by username.
func GetUserByUsername(ctx context.Context, q sqlx.ExtContext, username string) (*model.User, error) {
	u := &model.User{}
	err := sqlx.GetContext(ctx, q, u,
		q.Rebind(`SELECT `+userColumns+` FROM users WHERE username = ? AND deleted_at IS NULL`), username,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by username: %w", err)
	}
	return u, nil
}

// ListUsers returns all non-deleted users.
func ListUsers(ctx context.Context, q sqlx.ExtContext) ([]model.User, error) {
	var users []model.User
	err := sqlx.SelectContext(ctx, q, &users,
		`SELECT `+userColumns+` FROM users WHERE deleted_at IS NULL ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// UpdateUserRole changes a user's role.
func UpdateUserRole(ctx context.Context, q sqlx.ExtContext, id int64, role string) error {
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE users SET role = ? WHERE id = ? AND deleted_at IS NULL`),
		role, id,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return expectOne(res, "user", id)
}

// UpdateUserPassword updates a user's password hash.
func UpdateUserPassword(ctx context.Context, q sqlx.ExtContext, id int64, passwordHash string) error {
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE users SET password_hash = ? WHERE id = ? AND deleted_at IS NULL`),
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("updating user password: %w", err)
	}
	return expectOne(res, "user", id)
}

// LockUser takes the user's row lock for the rest of the transaction. The
// no-op update is the first write, so on SQLite it also takes the database
// write lock. Deleted or missing users yield ErrNotFound.
func LockUser(ctx context.Context, q sqlx.ExtContext, id int64) error {
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE users SET username = username WHERE id = ? AND deleted_at IS NULL`), id,
	)
	if err != nil {
		return fmt.Errorf("locking user: %w", err)
	}
	return expectOne(res, "user", id)
}

// SoftDeleteUser marks a user deleted. Their loans and reservations must
// already be settled by the caller.
func SoftDeleteUser(ctx context.Context, q sqlx.ExtContext, id int64, at time.Time) error {
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE users SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`),
		at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return expectOne(res, "user", id)
}

// expectOne turns a zero-row update into ErrNotFound.
func expectOne(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %d", model.ErrNotFound, what, id)
	}
	return nil
}
