// Package crypto implements the envelope encryption used for token fields at
// rest. Each sealed value carries its own random salt and IV, so two records
// sealed under the same process secret never share a derived key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"

	"github.com/harshavardhanjagdale/inboxsense/internal/apperr"
	"github.com/harshavardhanjagdale/inboxsense/internal/models"
)

const (
	saltLength = 64
	ivLength   = 16
	tagLength  = 16
	keyLength  = 32
	iterations = 100_000
)

// Keyring holds the process-wide secret. It is constructed once at startup
// and injected; business logic never reads key material from globals.
type Keyring struct {
	secret []byte
}

func NewKeyring(secret []byte) *Keyring {
	return &Keyring{secret: secret}
}

// NewKeyringFromHex builds a Keyring from the hex-encoded process secret.
// An empty or malformed secret degrades to a random per-process key: the
// process stays up, but every prior ciphertext becomes undecryptable until
// the operator supplies the original key.
func NewKeyringFromHex(hexKey string, logger *zap.Logger) *Keyring {
	if hexKey != "" {
		secret, err := hex.DecodeString(hexKey)
		if err == nil {
			return NewKeyring(secret)
		}
		logger.Warn("Encryption key is not valid hex, falling back to an ephemeral key", zap.Error(err))
	} else {
		logger.Warn("No encryption key configured, using an ephemeral per-process key; existing sealed tokens will not decrypt")
	}

	secret := make([]byte, keyLength)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		// rand.Reader failing means the platform entropy source is broken.
		panic(fmt.Sprintf("crypto: cannot generate ephemeral key: %v", err))
	}
	return NewKeyring(secret)
}

func (k *Keyring) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(k.secret, salt, iterations, keyLength, sha512.New)
}

// Seal encrypts plaintext and returns base64(salt || iv || tag || ciphertext).
// Empty input returns an empty string, never an envelope.
func (k *Keyring) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	iv := make([]byte, ivLength)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}

	gcm, err := k.newGCM(salt)
	if err != nil {
		return "", err
	}

	// gcm.Seal appends the tag after the ciphertext; the envelope layout
	// stores the tag before it, so split and reorder.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagLength], sealed[len(sealed)-tagLength:]

	envelope := make([]byte, 0, saltLength+ivLength+tagLength+len(ciphertext))
	envelope = append(envelope, salt...)
	envelope = append(envelope, iv...)
	envelope = append(envelope, tag...)
	envelope = append(envelope, ciphertext...)

	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Open reverses Seal. It fails with a decryption-kind error when the envelope
// is malformed, the authentication tag does not verify, or the process secret
// does not match the one used at seal time. Empty input opens to empty.
func (k *Keyring) Open(envelope string) (string, error) {
	if envelope == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", apperr.Wrap(apperr.KindDecryption, "malformed envelope", err)
	}
	if len(raw) <= saltLength+ivLength+tagLength {
		return "", apperr.Decryption("envelope too short")
	}

	salt := raw[:saltLength]
	iv := raw[saltLength : saltLength+ivLength]
	tag := raw[saltLength+ivLength : saltLength+ivLength+tagLength]
	ciphertext := raw[saltLength+ivLength+tagLength:]

	gcm, err := k.newGCM(salt)
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(ciphertext)+tagLength)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.KindDecryption, "envelope authentication failed", err)
	}
	return string(plaintext), nil
}

func (k *Keyring) newGCM(salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.deriveKey(salt))
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLength)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}

// SealTokens seals the token-bearing fields of ts in place. Nil fields are
// left untouched.
func (k *Keyring) SealTokens(ts *models.TokenSet) error {
	for name, field := range tokenFields(ts) {
		if field == nil || *field == nil {
			continue
		}
		sealed, err := k.Seal(**field)
		if err != nil {
			return fmt.Errorf("sealing %s: %w", name, err)
		}
		if sealed == "" {
			*field = nil
			continue
		}
		// Replace the pointer so callers holding the plaintext copy are
		// not mutated through the shared backing string.
		*field = &sealed
	}
	return nil
}

// OpenTokens opens the sealed token fields of ts in place. A field that fails
// to decrypt becomes nil instead of aborting the object; the per-field
// failures are returned so the caller decides whether and how loudly to log.
// A corrupted refresh token must not block an otherwise valid access token.
func (k *Keyring) OpenTokens(ts *models.TokenSet) map[string]error {
	var failures map[string]error
	for name, field := range tokenFields(ts) {
		res := k.OpenField(*field)
		switch res.State {
		case FieldAbsent:
		case FieldFailed:
			if failures == nil {
				failures = make(map[string]error)
			}
			failures[name] = res.Err
			*field = nil
		default:
			value := res.Value
			*field = &value
		}
	}
	return failures
}

func tokenFields(ts *models.TokenSet) map[string]**string {
	return map[string]**string{
		"access_token":  &ts.AccessToken,
		"refresh_token": &ts.RefreshToken,
		"id_token":      &ts.IDToken,
	}
}
