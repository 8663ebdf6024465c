package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/knjiznica/internal/db"
)

func TestRevocationList(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	live, other := uuid.NewString(), uuid.NewString()

	revoked, err := IsTokenRevoked(ctx, database, live)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, RevokeToken(ctx, database, live, time.Now().Add(time.Hour)))
	// Revoking twice is not an error.
	require.NoError(t, RevokeToken(ctx, database, live, time.Now().Add(time.Hour)))

	revoked, err = IsTokenRevoked(ctx, database, live)
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = IsTokenRevoked(ctx, database, other)
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevokeTokenPurgesExpired(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	stale, fresh := uuid.NewString(), uuid.NewString()

	require.NoError(t, RevokeToken(ctx, database, stale, time.Now().Add(-time.Minute)))
	require.NoError(t, RevokeToken(ctx, database, fresh, time.Now().Add(time.Hour)))

	var n int
	require.NoError(t, database.GetContext(ctx, &n, `SELECT COUNT(*) FROM revoked_tokens`))
	assert.Equal(t, 1, n, "the expired revocation should be purged")

	revoked, err := IsTokenRevoked(ctx, database, fresh)
	require.NoError(t, err)
	assert.True(t, revoked)
}
