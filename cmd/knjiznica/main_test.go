package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitAndUserAdd(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "test.sqlite3")

	out, err := run(t, "", "init", "--db", dsn, "--user", "boss")
	require.NoError(t, err)
	assert.Contains(t, out, "Username: boss")

	_, err = run(t, "", "init", "--db", dsn)
	assert.ErrorContains(t, err, "already initialized")

	out, err = run(t, "longenough\n", "user", "add", "ana", "--role", "librarian", "--db", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, `librarian "ana"`)

	_, err = run(t, "short\n", "user", "add", "bor", "--db", dsn)
	assert.Error(t, err)

	_, err = run(t, "longenough\n", "user", "add", "bor", "--role", "wizard", "--db", dsn)
	assert.ErrorContains(t, err, "unknown role")
}

func TestImportExportStats(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "test.sqlite3")
	in := filepath.Join(dir, "books.csv")
	require.NoError(t, os.WriteFile(in, []byte("title,author,isbn,copies,description\nDune,Frank Herbert,,3,\n,Nobody,,1,\n"), 0644))

	out, err := run(t, "", "import", in, "--db", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "Created 1, skipped 0, rejected 1")
	assert.Contains(t, out, "line 3:")

	out, err = run(t, "", "export", "--db", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "Dune,Frank Herbert,,3,")

	out, err = run(t, "", "stats", "--db", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "Copies")

	out, err = run(t, "", "overdue", "--db", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "No overdue loans.")

	out, err = run(t, "", "sweep", "--db", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "Expired 0 reservations")
}

func TestInvalidConfig(t *testing.T) {
	_, err := run(t, "", "stats", "--driver", "mysql")
	assert.ErrorContains(t, err, "unknown database driver")
}

func TestGeneratePassword(t *testing.T) {
	a, err := generatePassword(16)
	require.NoError(t, err)
	b, err := generatePassword(16)
	require.NoError(t, err)
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
}
