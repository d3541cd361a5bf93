package models

import "time"

// TokenSet is a decrypted working copy of a user's OAuth tokens. The
// canonical copy lives sealed in storage; a TokenSet only exists for the
// duration of one remote-API session.
type TokenSet struct {
	AccessToken           *string `json:"access_token"`
	RefreshToken          *string `json:"refresh_token"`
	IDToken               *string `json:"id_token"`
	TokenType             string  `json:"token_type"`
	Scope                 string  `json:"scope"`
	ExpiryDate            int64   `json:"expiry_date"` // epoch millis
	RefreshTokenExpiresIn *int64  `json:"refresh_token_expires_in,omitempty"`
}

// User is one credential record. Token fields hold sealed envelopes at rest
// and decrypted values on a read-side view; a nil token field means the
// provider never issued it or the field failed to decrypt.
type User struct {
	ID                    string    `json:"id"`
	AccessToken           *string   `json:"access_token"`
	RefreshToken          *string   `json:"refresh_token"`
	IDToken               *string   `json:"id_token"`
	TokenType             string    `json:"token_type"`
	Scope                 string    `json:"scope"`
	ExpiryDate            int64     `json:"expiry_date"`
	RefreshTokenExpiresIn *int64    `json:"refresh_token_expires_in,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Tokens extracts the token-bearing fields of a user record.
func (u *User) Tokens() TokenSet {
	return TokenSet{
		AccessToken:           u.AccessToken,
		RefreshToken:          u.RefreshToken,
		IDToken:               u.IDToken,
		TokenType:             u.TokenType,
		Scope:                 u.Scope,
		ExpiryDate:            u.ExpiryDate,
		RefreshTokenExpiresIn: u.RefreshTokenExpiresIn,
	}
}

// Message is one ingested mail message after extraction and cleaning.
type Message struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"thread_id"`
	Subject      string    `json:"subject"`
	From         string    `json:"from"`         // raw From header
	FromAddress  string    `json:"from_address"` // bare address, lowercased
	Date         string    `json:"date"`
	MessageIDHdr string    `json:"message_id_header,omitempty"` // RFC 2822 Message-ID, for replies
	Snippet      string    `json:"snippet"`
	Body         string    `json:"body"`    // cleaned plain text
	Preview      string    `json:"preview"` // 50-200 word excerpt of Body
	InternalDate int64     `json:"internal_date"` // provider timestamp, epoch millis
	ReceivedAt   time.Time `json:"received_at"`
}

// Verdict is the structured classification outcome for one message.
type Verdict struct {
	Category      string `json:"category"`
	Action        string `json:"action"`
	Justification string `json:"justification"`
	Raw           string `json:"raw"` // untouched model output
	Fallback      bool   `json:"fallback"`
}

// Email is one persisted classification record. Parsed fields are nil exactly
// when parsing failed or the field was absent; RawResponse is always verbatim.
type Email struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Subject       string    `json:"subject"`
	Snippet       string    `json:"snippet"`
	RawResponse   string    `json:"raw_response"`
	Category      *string   `json:"category"`
	Action        *string   `json:"action"`
	Justification *string   `json:"justification"`
	CreatedAt     time.Time `json:"created_at"`
}
