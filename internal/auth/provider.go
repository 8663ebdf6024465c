package auth

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// Provider turns bearer tokens into caller identities.
type Provider struct {
	DB     *sqlx.DB
	Secret string
}

// NewProvider creates a Provider.
func NewProvider(db *sqlx.DB, secret string) *Provider {
	return &Provider{DB: db, Secret: secret}
}

// Authenticate validates a token and returns the caller. Revoked tokens and
// deleted users are refused. The role comes from the user record, so a role
// change applies to tokens issued before it.
func (p *Provider) Authenticate(ctx context.Context, token string) (model.Identity, error) {
	claims, err := ValidateToken(p.Secret, token)
	if err != nil {
		return model.Identity{}, err
	}

	revoked, err := store.IsTokenRevoked(ctx, p.DB, claims.ID)
	if err != nil {
		return model.Identity{}, err
	}
	if revoked {
		return model.Identity{}, fmt.Errorf("%w: token revoked", ErrUnauthenticated)
	}

	user, err := store.GetUser(ctx, p.DB, claims.UserID)
	if err != nil {
		return model.Identity{}, err
	}
	if user == nil || user.DeletedAt != nil {
		return model.Identity{}, fmt.Errorf("%w: user no longer exists", ErrUnauthenticated)
	}

	return model.Identity{UserID: user.ID, Username: user.Username, Role: user.Role}, nil
}

// Revoke invalidates a token until it would have expired anyway.
func (p *Provider) Revoke(ctx context.Context, claims *Claims) error {
	return store.RevokeToken(ctx, p.DB, claims.ID, claims.ExpiresAt.Time)
}
