package models

import "time"

// RefreshToken is the persisted revocation record for a signed refresh JWT.
// JTI matches the jti claim embedded in the token; revoked rows are kept
// (not deleted) so a rotated or logged-out token can never be replayed.
type RefreshToken struct {
	ID        string
	UserID    string
	JTI       string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}
