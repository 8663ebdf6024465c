package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/knjiznica/internal/db"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

func TestProviderAuthenticate(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	p := NewProvider(database, "secret")

	user, err := store.CreateUser(ctx, database, "ana", "hash", model.RolePatron)
	require.NoError(t, err)

	token, err := GenerateToken(p.Secret, user.ID, user.Username, user.Role)
	require.NoError(t, err)

	id, err := p.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, model.Identity{UserID: user.ID, Username: "ana", Role: model.RolePatron}, id)

	// The current role wins over the one in the token.
	require.NoError(t, store.UpdateUserRole(ctx, database, user.ID, model.RoleLibrarian))
	id, err = p.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, model.RoleLibrarian, id.Role)

	_, err = p.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestProviderRevoke(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	p := NewProvider(database, "secret")

	user, err := store.CreateUser(ctx, database, "ana", "hash", model.RolePatron)
	require.NoError(t, err)
	token, err := GenerateToken(p.Secret, user.ID, user.Username, user.Role)
	require.NoError(t, err)

	claims, err := ValidateToken(p.Secret, token)
	require.NoError(t, err)
	require.NoError(t, p.Revoke(ctx, claims))

	_, err = p.Authenticate(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestProviderDeletedUser(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	p := NewProvider(database, "secret")

	user, err := store.CreateUser(ctx, database, "ana", "hash", model.RolePatron)
	require.NoError(t, err)
	token, err := GenerateToken(p.Secret, user.ID, user.Username, user.Role)
	require.NoError(t, err)

	require.NoError(t, store.SoftDeleteUser(ctx, database, user.ID, time.Now()))

	_, err = p.Authenticate(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
