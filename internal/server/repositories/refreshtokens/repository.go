// Package refreshtokens declares the server-side repository contract for
// refresh-token revocation records in persistent storage.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dpetukhov/tokengate/internal/server/models"
)

// Repository defines operations for storing, retrieving, and revoking
// refresh-token records keyed by jti.
type Repository interface {
	// Create stores a new record for userID whose jti matches the jti claim
	// of the signed token and which expires at expiresAt.
	Create(ctx context.Context, userID string, jti string, expiresAt time.Time) error

	// FindByJTI looks up a record by its jti. Implementations return
	// common.ErrorNotFound when the record is absent.
	FindByJTI(ctx context.Context, jti string) (*models.RefreshToken, error)

	// Revoke flips the revoked flag for the record with the given jti,
	// conditioned on the record still being unrevoked. It reports whether a
	// row was actually flipped, so callers can detect a concurrent revoke.
	Revoke(ctx context.Context, jti string) (bool, error)

	// RevokeAllForUser revokes every non-revoked record belonging to userID
	// and returns the number of rows affected.
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}
