package db

import (
	"net/url"
	"strings"
	"testing"
)

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN("/tmp/library.sqlite3")

	path, query, ok := strings.Cut(dsn, "?")
	if !ok {
		t.Fatalf("expected query parameters in %q", dsn)
	}
	if path != "/tmp/library.sqlite3" {
		t.Errorf("expected path to be preserved, got %q", path)
	}

	params, err := url.ParseQuery(query)
	if err != nil {
		t.Fatalf("parsing query: %v", err)
	}
	if got := params.Get("_txlock"); got != "immediate" {
		t.Errorf("expected _txlock=immediate, got %q", got)
	}
	pragmas := strings.Join(params["_pragma"], ",")
	for _, want := range []string{"foreign_keys(1)", "busy_timeout(5000)", "journal_mode(WAL)"} {
		if !strings.Contains(pragmas, want) {
			t.Errorf("missing pragma %s in %q", want, pragmas)
		}
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open("mysql", "whatever"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	database := NewTestDB(t)

	if err := EnsureSchema(database); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}

	var fk int
	if err := database.Get(&fk, "PRAGMA foreign_keys"); err != nil {
		t.Fatalf("reading foreign_keys pragma: %v", err)
	}
	if fk != 1 {
		t.Errorf("expected foreign keys enabled, got %d", fk)
	}

	if got := Dialect(database); got != "sqlite3" {
		t.Errorf("expected sqlite3 dialect, got %q", got)
	}
}
