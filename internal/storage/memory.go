package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harshavardhanjagdale/inboxsense/internal/crypto"
	"github.com/harshavardhanjagdale/inboxsense/internal/models"
)

// MemoryStorage mirrors the Postgres semantics for development and tests,
// including sealing token fields at rest.
type MemoryStorage struct {
	mu      sync.RWMutex
	users   map[string]*models.User
	emails  map[string]*models.Email
	keyring *crypto.Keyring
	logger  *zap.Logger
}

func NewMemoryStorage(keyring *crypto.Keyring, logger *zap.Logger) *MemoryStorage {
	return &MemoryStorage{
		users:   make(map[string]*models.User),
		emails:  make(map[string]*models.Email),
		keyring: keyring,
		logger:  logger,
	}
}

func (s *MemoryStorage) CreateUser(ctx context.Context, id string, tokens models.TokenSet) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[id]; exists {
		return nil, ErrDuplicateUser
	}

	sealed := tokens
	if err := s.keyring.SealTokens(&sealed); err != nil {
		return nil, err
	}

	now := time.Now()
	s.users[id] = &models.User{
		ID:                    id,
		AccessToken:           sealed.AccessToken,
		RefreshToken:          sealed.RefreshToken,
		IDToken:               sealed.IDToken,
		TokenType:             sealed.TokenType,
		Scope:                 sealed.Scope,
		ExpiryDate:            sealed.ExpiryDate,
		RefreshTokenExpiresIn: sealed.RefreshTokenExpiresIn,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	user := *s.users[id]
	user.AccessToken = tokens.AccessToken
	user.RefreshToken = tokens.RefreshToken
	user.IDToken = tokens.IDToken
	return &user, nil
}

func (s *MemoryStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, exists := s.users[id]
	if !exists {
		return nil, nil
	}
	return s.openedCopy(stored), nil
}

func (s *MemoryStorage) openedCopy(stored *models.User) *models.User {
	user := *stored
	user.AccessToken = copyString(stored.AccessToken)
	user.RefreshToken = copyString(stored.RefreshToken)
	user.IDToken = copyString(stored.IDToken)

	tokens := user.Tokens()
	failures := s.keyring.OpenTokens(&tokens)
	for field, err := range failures {
		s.logger.Debug("Token field failed to decrypt",
			zap.String("user_id", user.ID),
			zap.String("field", field),
			zap.Error(err))
	}
	user.AccessToken = tokens.AccessToken
	user.RefreshToken = tokens.RefreshToken
	user.IDToken = tokens.IDToken
	return &user
}

func (s *MemoryStorage) UserExists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.users[id]
	return exists, nil
}

func (s *MemoryStorage) UpdateUserTokens(ctx context.Context, id string, tokens models.TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(id, tokens)
}

func (s *MemoryStorage) UpdateUserTokensIfNewer(ctx context.Context, id string, tokens models.TokenSet) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[id]
	if !exists || user.ExpiryDate > tokens.ExpiryDate {
		return false, nil
	}
	if err := s.updateLocked(id, tokens); err != nil {
		return false, err
	}
	return true, nil
}

func (s *MemoryStorage) updateLocked(id string, tokens models.TokenSet) error {
	user, exists := s.users[id]
	if !exists {
		return ErrUserNotFound
	}

	sealed := tokens
	if err := s.keyring.SealTokens(&sealed); err != nil {
		return err
	}

	user.AccessToken = sealed.AccessToken
	user.RefreshToken = sealed.RefreshToken
	user.IDToken = sealed.IDToken
	user.TokenType = sealed.TokenType
	user.Scope = sealed.Scope
	user.ExpiryDate = sealed.ExpiryDate
	user.RefreshTokenExpiresIn = sealed.RefreshTokenExpiresIn
	user.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStorage) CountUsers(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.users), nil
}

func (s *MemoryStorage) ListUsers(ctx context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*models.User, 0, len(s.users))
	for _, stored := range s.users {
		users = append(users, s.openedCopy(stored))
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

func (s *MemoryStorage) CreateEmail(ctx context.Context, email *models.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[email.UserID]; !exists {
		return ErrUserNotFound
	}
	email.CreatedAt = time.Now()
	stored := *email
	s.emails[email.ID] = &stored
	return nil
}

func (s *MemoryStorage) GetEmailsByUser(ctx context.Context, userID string) ([]*models.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var emails []*models.Email
	for _, email := range s.emails {
		if email.UserID == userID {
			stored := *email
			emails = append(emails, &stored)
		}
	}
	sort.Slice(emails, func(i, j int) bool {
		return emails[i].CreatedAt.After(emails[j].CreatedAt)
	})
	return emails, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
