// Package store persists users, books, loans and reservations.
//
// Functions take a sqlx.ExtContext so they run unchanged against a *sqlx.DB
// or inside a *sqlx.Tx. Getters return (nil, nil) when the row does not exist.
package store

import (
	"errors"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/erazemk/knjiznica/internal/db"
)

// builder returns a goqu dialect matching the connection's driver.
func builder(q sqlx.ExtContext) goqu.DialectWrapper {
	return goqu.Dialect(db.Dialect(q))
}

// col selects alias.name as name, so scanned column names never carry the
// table alias.
func col(alias, name string) any {
	return goqu.I(alias + "." + name).As(name)
}

// isUniqueViolation reports whether err came from a unique index.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
		return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE")
	}
	return false
}
