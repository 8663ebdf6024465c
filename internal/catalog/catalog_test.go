package catalog

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/knjiznica/internal/db"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

func TestImport(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	_, err := store.CreateBook(ctx, database, "Existing", "Someone", "978-0-441-17271-9", "", 1)
	require.NoError(t, err)

	input := strings.Join([]string{
		"title,author,isbn,copies,description",
		`Emma,Jane Austen,9780141439587,2,"A novel, in three volumes"`,
		"Dune again,Frank Herbert,9780441172719,1,",
		",No Title,,1,",
		"Faust,Goethe,,many,",
		"Short,Row",
		"",
		"Ulysses,James Joyce,,3",
	}, "\n")

	report, err := Import(ctx, database, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Errors, 3)
	assert.Equal(t, 4, report.Errors[0].Line)
	assert.Equal(t, 5, report.Errors[1].Line)
	assert.Equal(t, 6, report.Errors[2].Line)

	books, err := store.ListBooks(ctx, database, model.BookFilter{})
	require.NoError(t, err)
	require.Len(t, books, 3)

	emma, err := store.GetBookByISBN(ctx, database, "9780141439587")
	require.NoError(t, err)
	require.NotNil(t, emma)
	assert.Equal(t, "A novel, in three volumes", emma.Description)
	assert.Equal(t, 2, emma.AvailableCopies)
}

func TestImportWithoutHeader(t *testing.T) {
	database := db.NewTestDB(t)

	report, err := Import(context.Background(), database, strings.NewReader("Emma,Jane Austen,,1\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Empty(t, report.Errors)
}

func TestExportRoundTrip(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	_, err := store.CreateBook(ctx, database, "Emma", "Jane Austen", "9780141439587", "Comedy of manners", 2)
	require.NoError(t, err)
	_, err = store.CreateBook(ctx, database, "Dune", "Frank Herbert", "", "", 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := Export(ctx, database, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, Header, records[0])
	assert.Equal(t, []string{"Dune", "Frank Herbert", "", "1", ""}, records[1])

	// Importing an export into a fresh catalog recreates it.
	fresh := db.NewTestDB(t)
	report, err := Import(ctx, fresh, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
}
