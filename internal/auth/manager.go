// Package auth owns the credential lifecycle: exchanging an authorization
// code into a stored record, and resolving a live, auto-refreshing credential
// for one remote-API session.
package auth

import (
	"context"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/harshavardhanjagdale/inboxsense/internal/apperr"
	"github.com/harshavardhanjagdale/inboxsense/internal/models"
	"github.com/harshavardhanjagdale/inboxsense/internal/storage"
	"github.com/harshavardhanjagdale/inboxsense/pkg/config"
)

// Manager wraps the provider OAuth client. It is the only component that
// turns stored, sealed credentials into usable token sources.
type Manager struct {
	config  *oauth2.Config
	storage storage.Storage
	logger  *zap.Logger
}

func NewManager(cfg config.GoogleConfig, store storage.Storage, logger *zap.Logger) *Manager {
	return &Manager{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				gmail.GmailReadonlyScope,
				gmail.GmailSendScope,
				"openid", "email",
			},
			Endpoint: google.Endpoint,
		},
		storage: store,
		logger:  logger,
	}
}

// AuthCodeURL returns the provider consent URL for the given state token.
func (m *Manager) AuthCodeURL(state string) string {
	return m.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode exchanges an authorization code and creates the credential
// record. The user id is generated here, never derived from provider
// identity.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", apperr.Validation("authorization code is required")
	}

	token, err := m.config.Exchange(ctx, code)
	if err != nil {
		return "", apperr.Wrap(apperr.KindAuthentication, "failed to exchange authorization code", err)
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to generate user id", err)
	}

	if _, err := m.storage.CreateUser(ctx, id, tokenSetFromOAuth(token)); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to store credentials", err)
	}

	return id, nil
}

// Credential is the transient decrypted working copy of a user's tokens,
// valid for one pipeline invocation. Source refreshes transparently; every
// refresh is merged back into storage out of band.
type Credential struct {
	UserID string
	Source oauth2.TokenSource
}

// GetLiveCredential resolves a usable credential for userID.
//
// Unknown ids fail with a not-found kind; there is deliberately no fallback
// to any other record, so a garbled id can never leak another user's mailbox.
// A record whose access and refresh tokens both decrypt to nil fails with an
// authentication kind: whether the user never finished consent or the
// encryption key rotated, the remediation is the same, re-authenticate.
func (m *Manager) GetLiveCredential(ctx context.Context, userID string) (*Credential, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}

	user, err := m.storage.GetUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load user", err)
	}
	if user == nil {
		return nil, apperr.NotFound("user not found")
	}
	if user.AccessToken == nil && user.RefreshToken == nil {
		return nil, apperr.Authentication("stored tokens are unusable; re-authentication required")
	}

	token := oauthTokenFromSet(user.Tokens())
	inner := m.config.TokenSource(ctx, token)

	source := &notifyingTokenSource{
		inner: inner,
		last:  token,
		known: user.Tokens(),
		onRefresh: func(known models.TokenSet) {
			m.persistRefreshed(userID, known)
		},
	}

	return &Credential{UserID: userID, Source: source}, nil
}

// persistRefreshed writes a refreshed token set back against the originally
// resolved user id. Failure here is logged and swallowed: the in-memory
// credential stays authoritative for the current invocation and the persisted
// copy self-heals on the next successful refresh.
func (m *Manager) persistRefreshed(userID string, tokens models.TokenSet) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	updated, err := m.storage.UpdateUserTokensIfNewer(ctx, userID, tokens)
	if err != nil {
		m.logger.Warn("Failed to persist refreshed tokens",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}
	if !updated {
		m.logger.Debug("Skipped stale token persist",
			zap.String("user_id", userID))
	}
}

// notifyingTokenSource wraps an oauth2.TokenSource and observes out-of-band
// refreshes. Its only side effect is merge-and-persist; callers never depend
// on the persist outcome.
type notifyingTokenSource struct {
	mu        sync.Mutex
	inner     oauth2.TokenSource
	last      *oauth2.Token
	known     models.TokenSet
	onRefresh func(models.TokenSet)
}

func (s *notifyingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.inner.Token()
	if err != nil {
		return nil, err
	}

	if s.last == nil || token.AccessToken != s.last.AccessToken {
		s.known = mergeTokens(s.known, token)
		s.last = token
		s.onRefresh(s.known)
	}
	return token, nil
}

// mergeTokens folds a refreshed oauth2 token into the last-known set. The
// provider rotates refresh tokens only occasionally, so a refresh event
// without one keeps the previous refresh token.
func mergeTokens(known models.TokenSet, token *oauth2.Token) models.TokenSet {
	merged := known
	merged.AccessToken = strPtr(token.AccessToken)
	if token.RefreshToken != "" {
		merged.RefreshToken = strPtr(token.RefreshToken)
	}
	if idToken, ok := token.Extra("id_token").(string); ok && idToken != "" {
		merged.IDToken = strPtr(idToken)
	}
	if token.TokenType != "" {
		merged.TokenType = token.TokenType
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		merged.Scope = scope
	}
	if !token.Expiry.IsZero() {
		merged.ExpiryDate = token.Expiry.UnixMilli()
	}
	return merged
}

func tokenSetFromOAuth(token *oauth2.Token) models.TokenSet {
	set := models.TokenSet{
		AccessToken: strPtr(token.AccessToken),
		TokenType:   token.TokenType,
	}
	if token.RefreshToken != "" {
		set.RefreshToken = strPtr(token.RefreshToken)
	}
	if idToken, ok := token.Extra("id_token").(string); ok && idToken != "" {
		set.IDToken = strPtr(idToken)
	}
	if scope, ok := token.Extra("scope").(string); ok {
		set.Scope = scope
	}
	if !token.Expiry.IsZero() {
		set.ExpiryDate = token.Expiry.UnixMilli()
	}
	return set
}

func oauthTokenFromSet(set models.TokenSet) *oauth2.Token {
	token := &oauth2.Token{TokenType: set.TokenType}
	if set.AccessToken != nil {
		token.AccessToken = *set.AccessToken
	}
	if set.RefreshToken != nil {
		token.RefreshToken = *set.RefreshToken
	}
	if set.ExpiryDate > 0 {
		token.Expiry = time.UnixMilli(set.ExpiryDate)
	}
	return token
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
