// Package resettokens declares the repository contract for password-reset
// token records. Only the SHA-256 hash of a reset secret is ever stored;
// lookups go by hash as well.
package resettokens

import (
	"context"
	"time"

	"github.com/dpetukhov/tokengate/internal/server/models"
)

// Repository defines operations for password-reset token records.
type Repository interface {
	// Create stores a new record for userID holding tokenHash and expiring
	// at expiresAt, and returns the persisted record. The raw secret never
	// reaches this layer.
	Create(ctx context.Context, userID string, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error)

	// FindByHash looks up a record by token hash. Implementations return
	// common.ErrorNotFound when the record is absent.
	FindByHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error)

	// MarkUsed flips the used flag for the record with the given id,
	// conditioned on it not being used yet. It reports whether a row was
	// actually flipped, guarding confirmation against replay.
	MarkUsed(ctx context.Context, id string) (bool, error)
}
