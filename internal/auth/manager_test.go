package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/harshavardhanjagdale/inboxsense/internal/apperr"
	"github.com/harshavardhanjagdale/inboxsense/internal/crypto"
	"github.com/harshavardhanjagdale/inboxsense/internal/models"
	"github.com/harshavardhanjagdale/inboxsense/internal/storage"
	"github.com/harshavardhanjagdale/inboxsense/pkg/config"
)

func newTestManager(t *testing.T) (*Manager, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage(crypto.NewKeyring([]byte("auth-test-secret")), zap.NewNop())
	manager := NewManager(config.GoogleConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8080/auth/google/callback",
	}, store, zap.NewNop())
	return manager, store
}

func futureExpiry() int64 {
	return time.Now().Add(time.Hour).UnixMilli()
}

func TestGetLiveCredentialValidation(t *testing.T) {
	manager, _ := newTestManager(t)

	_, err := manager.GetLiveCredential(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestGetLiveCredentialUnknownUser(t *testing.T) {
	manager, _ := newTestManager(t)

	_, err := manager.GetLiveCredential(context.Background(), "nonexistent-user-id")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestGetLiveCredentialUnusableTokens(t *testing.T) {
	manager, store := newTestManager(t)
	ctx := context.Background()

	// A record whose every token field is nil, as after a key rotation.
	_, err := store.CreateUser(ctx, "rotated-user", models.TokenSet{TokenType: "Bearer"})
	require.NoError(t, err)

	_, err = manager.GetLiveCredential(ctx, "rotated-user")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindAuthentication))
}

func TestGetLiveCredentialSuccess(t *testing.T) {
	manager, store := newTestManager(t)
	ctx := context.Background()

	_, err := store.CreateUser(ctx, "good-user", models.TokenSet{
		AccessToken:  strPtr("live-access-token"),
		RefreshToken: strPtr("live-refresh-token"),
		TokenType:    "Bearer",
		ExpiryDate:   futureExpiry(),
	})
	require.NoError(t, err)

	cred, err := manager.GetLiveCredential(ctx, "good-user")
	require.NoError(t, err)
	assert.Equal(t, "good-user", cred.UserID)

	// An unexpired token comes straight from the source without a refresh.
	token, err := cred.Source.Token()
	require.NoError(t, err)
	assert.Equal(t, "live-access-token", token.AccessToken)
}

func TestMergeTokensPreservesRefreshToken(t *testing.T) {
	known := models.TokenSet{
		AccessToken:  strPtr("old-access"),
		RefreshToken: strPtr("original-refresh"),
		TokenType:    "Bearer",
		Scope:        "gmail.readonly",
		ExpiryDate:   1_700_000_000_000,
	}

	// Refresh event without a rotated refresh token.
	refreshed := &oauth2.Token{
		AccessToken: "new-access",
		TokenType:   "Bearer",
		Expiry:      time.UnixMilli(1_800_000_000_000),
	}

	merged := mergeTokens(known, refreshed)
	require.NotNil(t, merged.AccessToken)
	assert.Equal(t, "new-access", *merged.AccessToken)
	require.NotNil(t, merged.RefreshToken)
	assert.Equal(t, "original-refresh", *merged.RefreshToken)
	assert.Equal(t, int64(1_800_000_000_000), merged.ExpiryDate)
	assert.Equal(t, "gmail.readonly", merged.Scope)
}

func TestMergeTokensAdoptsRotatedRefreshToken(t *testing.T) {
	known := models.TokenSet{
		AccessToken:  strPtr("old-access"),
		RefreshToken: strPtr("original-refresh"),
	}

	refreshed := &oauth2.Token{
		AccessToken:  "new-access",
		RefreshToken: "rotated-refresh",
	}

	merged := mergeTokens(known, refreshed)
	require.NotNil(t, merged.RefreshToken)
	assert.Equal(t, "rotated-refresh", *merged.RefreshToken)
}

type staticTokenSource struct {
	token *oauth2.Token
	err   error
}

func (s *staticTokenSource) Token() (*oauth2.Token, error) {
	return s.token, s.err
}

func TestNotifyingTokenSourceObservesRefresh(t *testing.T) {
	initial := &oauth2.Token{AccessToken: "initial"}
	refreshed := &oauth2.Token{
		AccessToken: "refreshed",
		Expiry:      time.Now().Add(time.Hour),
	}

	inner := &staticTokenSource{token: refreshed}
	var persisted []models.TokenSet
	source := &notifyingTokenSource{
		inner: inner,
		last:  initial,
		known: models.TokenSet{
			AccessToken:  strPtr("initial"),
			RefreshToken: strPtr("keep-me"),
		},
		onRefresh: func(set models.TokenSet) {
			persisted = append(persisted, set)
		},
	}

	token, err := source.Token()
	require.NoError(t, err)
	assert.Equal(t, "refreshed", token.AccessToken)

	require.Len(t, persisted, 1)
	assert.Equal(t, "refreshed", *persisted[0].AccessToken)
	assert.Equal(t, "keep-me", *persisted[0].RefreshToken)

	// A second call with an unchanged token does not re-notify.
	_, err = source.Token()
	require.NoError(t, err)
	assert.Len(t, persisted, 1)
}

func TestNotifyingTokenSourcePropagatesSourceError(t *testing.T) {
	inner := &staticTokenSource{err: errors.New("refresh denied")}
	source := &notifyingTokenSource{
		inner:     inner,
		onRefresh: func(models.TokenSet) { t.Fatal("onRefresh must not fire on error") },
	}

	_, err := source.Token()
	assert.Error(t, err)
}

// failingStorage errors on every token persist, standing in for a database
// outage during an out-of-band refresh.
type failingStorage struct {
	storage.Storage
}

func (f *failingStorage) UpdateUserTokensIfNewer(ctx context.Context, id string, tokens models.TokenSet) (bool, error) {
	return false, errors.New("database unavailable")
}

func TestPersistRefreshedSwallowsStorageFailure(t *testing.T) {
	store := storage.NewMemoryStorage(crypto.NewKeyring([]byte("auth-test-secret")), zap.NewNop())
	manager := NewManager(config.GoogleConfig{}, &failingStorage{Storage: store}, zap.NewNop())

	// Must log and return, never panic or propagate.
	manager.persistRefreshed("some-user", models.TokenSet{AccessToken: strPtr("a")})
}

func TestExchangeCodeValidation(t *testing.T) {
	manager, _ := newTestManager(t)

	_, err := manager.ExchangeCode(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}
