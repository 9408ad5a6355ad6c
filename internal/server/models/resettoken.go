package models

import "time"

// PasswordResetToken stores only the SHA-256 hash of the reset secret;
// the raw secret is returned to the caller exactly once and never persisted.
// Used is terminal: a confirmed token cannot be replayed.
type PasswordResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}
