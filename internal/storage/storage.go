package storage

import (
	"context"

	"github.com/harshavardhanjagdale/inboxsense/internal/apperr"
	"github.com/harshavardhanjagdale/inboxsense/internal/models"
)

var (
	ErrUserNotFound  = apperr.NotFound("user not found")
	ErrDuplicateUser = apperr.Validation("user already exists")
)

// Storage owns the canonical credential records and classification records.
// Token-bearing fields are sealed on write and opened on read; reads build a
// decrypted view field by field, so one corrupted field never hides the rest
// of a record.
type Storage interface {
	CreateUser(ctx context.Context, id string, tokens models.TokenSet) (*models.User, error)
	// GetUser returns the decrypted view of a record, or (nil, nil) when the
	// id is unknown. Fields that fail to decrypt come back nil.
	GetUser(ctx context.Context, id string) (*models.User, error)
	UserExists(ctx context.Context, id string) (bool, error)
	// UpdateUserTokens overwrites all token-bearing fields and bumps the
	// update timestamp. Returns ErrUserNotFound when the id does not exist.
	UpdateUserTokens(ctx context.Context, id string, tokens models.TokenSet) error
	// UpdateUserTokensIfNewer is the refresh-path variant: it only overwrites
	// when the incoming expiry is not older than the stored one, so a stale
	// concurrent refresh cannot revert a newer token set. Returns false when
	// the guard rejected the write or the id is unknown.
	UpdateUserTokensIfNewer(ctx context.Context, id string, tokens models.TokenSet) (bool, error)
	CountUsers(ctx context.Context) (int, error)
	ListUsers(ctx context.Context) ([]*models.User, error)

	CreateEmail(ctx context.Context, email *models.Email) error
	GetEmailsByUser(ctx context.Context, userID string) ([]*models.Email, error)

	Close() error
}
