package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/harshavardhanjagdale/inboxsense/internal/crypto"
	"github.com/harshavardhanjagdale/inboxsense/internal/models"
)

//go:embed schema.sql
var schema embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type PostgresStorage struct {
	db      *sql.DB
	keyring *crypto.Keyring
	logger  *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, keyring *crypto.Keyring, logger *zap.Logger) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, keyring: keyring, logger: logger}

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	schemaSQL, err := schema.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("error reading schema file: %w", err)
	}

	if _, err := s.db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}
	return nil
}

func (s *PostgresStorage) CreateUser(ctx context.Context, id string, tokens models.TokenSet) (*models.User, error) {
	sealed := tokens
	if err := s.keyring.SealTokens(&sealed); err != nil {
		return nil, fmt.Errorf("error sealing tokens: %w", err)
	}

	query := `
		INSERT INTO users (id, access_token, refresh_token, id_token, token_type, scope, expiry_date, refresh_token_expires_in)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	user := &models.User{
		ID:                    id,
		AccessToken:           tokens.AccessToken,
		RefreshToken:          tokens.RefreshToken,
		IDToken:               tokens.IDToken,
		TokenType:             tokens.TokenType,
		Scope:                 tokens.Scope,
		ExpiryDate:            tokens.ExpiryDate,
		RefreshTokenExpiresIn: tokens.RefreshTokenExpiresIn,
	}

	err := s.db.QueryRowContext(ctx, query,
		id,
		sealed.AccessToken,
		sealed.RefreshToken,
		sealed.IDToken,
		sealed.TokenType,
		sealed.Scope,
		sealed.ExpiryDate,
		sealed.RefreshTokenExpiresIn,
	).Scan(&user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, ErrDuplicateUser
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	return user, nil
}

func (s *PostgresStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, access_token, refresh_token, id_token, token_type, scope,
		       expiry_date, refresh_token_expires_in, created_at, updated_at
		FROM users
		WHERE id = $1`

	user := &models.User{}
	var tokenType, scope sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.AccessToken,
		&user.RefreshToken,
		&user.IDToken,
		&tokenType,
		&scope,
		&user.ExpiryDate,
		&user.RefreshTokenExpiresIn,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying user: %w", err)
	}
	user.TokenType = tokenType.String
	user.Scope = scope.String

	s.openUserTokens(user)
	return user, nil
}

// openUserTokens builds the decrypted view of a record in place. Decrypt
// failures are expected for records sealed under a rotated key, so they log
// at debug and the field goes nil.
func (s *PostgresStorage) openUserTokens(user *models.User) {
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
}

// UserExists never touches token columns, so legacy records with rotated-key
// ciphertexts produce no decrypt noise on existence checks.
func (s *PostgresStorage) UserExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking user existence: %w", err)
	}
	return exists, nil
}

func (s *PostgresStorage) UpdateUserTokens(ctx context.Context, id string, tokens models.TokenSet) error {
	sealed := tokens
	if err := s.keyring.SealTokens(&sealed); err != nil {
		return fmt.Errorf("error sealing tokens: %w", err)
	}

	query := `
		UPDATE users
		SET access_token = $1, refresh_token = $2, id_token = $3, token_type = $4,
		    scope = $5, expiry_date = $6, refresh_token_expires_in = $7, updated_at = $8
		WHERE id = $9`

	result, err := s.db.ExecContext(ctx, query,
		sealed.AccessToken,
		sealed.RefreshToken,
		sealed.IDToken,
		sealed.TokenType,
		sealed.Scope,
		sealed.ExpiryDate,
		sealed.RefreshTokenExpiresIn,
		time.Now(),
		id,
	)
	if err != nil {
		return fmt.Errorf("error updating user tokens: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStorage) UpdateUserTokensIfNewer(ctx context.Context, id string, tokens models.TokenSet) (bool, error) {
	sealed := tokens
	if err := s.keyring.SealTokens(&sealed); err != nil {
		return false, fmt.Errorf("error sealing tokens: %w", err)
	}

	// Monotonic guard on expiry: a refresh that lost the race carries an
	// older expiry and must not revert the persisted set.
	query := `
		UPDATE users
		SET access_token = $1, refresh_token = $2, id_token = $3, token_type = $4,
		    scope = $5, expiry_date = $6, refresh_token_expires_in = $7, updated_at = $8
		WHERE id = $9 AND expiry_date <= $6`

	result, err := s.db.ExecContext(ctx, query,
		sealed.AccessToken,
		sealed.RefreshToken,
		sealed.IDToken,
		sealed.TokenType,
		sealed.Scope,
		sealed.ExpiryDate,
		sealed.RefreshTokenExpiresIn,
		time.Now(),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("error updating user tokens: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// CountUsers never touches token columns.
func (s *PostgresStorage) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting users: %w", err)
	}
	return count, nil
}

func (s *PostgresStorage) ListUsers(ctx context.Context) ([]*models.User, error) {
	query := `
		SELECT id, access_token, refresh_token, id_token, token_type, scope,
		       expiry_date, refresh_token_expires_in, created_at, updated_at
		FROM users
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user := &models.User{}
		var tokenType, scope sql.NullString
		err := rows.Scan(
			&user.ID,
			&user.AccessToken,
			&user.RefreshToken,
			&user.IDToken,
			&tokenType,
			&scope,
			&user.ExpiryDate,
			&user.RefreshTokenExpiresIn,
			&user.CreatedAt,
			&user.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning user: %w", err)
		}
		user.TokenType = tokenType.String
		user.Scope = scope.String
		s.openUserTokens(user)
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

func (s *PostgresStorage) CreateEmail(ctx context.Context, email *models.Email) error {
	query := `
		INSERT INTO emails (id, user_id, subject, snippet, raw_response, category, action, justification)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query,
		email.ID,
		email.UserID,
		email.Subject,
		email.Snippet,
		email.RawResponse,
		email.Category,
		email.Action,
		email.Justification,
	).Scan(&email.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating email record: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetEmailsByUser(ctx context.Context, userID string) ([]*models.Email, error) {
	query := `
		SELECT id, user_id, subject, snippet, raw_response, category, action, justification, created_at
		FROM emails
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying emails: %w", err)
	}
	defer rows.Close()

	var emails []*models.Email
	for rows.Next() {
		email := &models.Email{}
		err := rows.Scan(
			&email.ID,
			&email.UserID,
			&email.Subject,
			&email.Snippet,
			&email.RawResponse,
			&email.Category,
			&email.Action,
			&email.Justification,
			&email.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating emails: %w", err)
	}

	return emails, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
