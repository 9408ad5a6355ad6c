// Package refreshtokens provides a PostgreSQL-backed repository for refresh
// token revocation records used in the server's authentication flow.
package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dpetukhov/tokengate/internal/common"
	"github.com/dpetukhov/tokengate/internal/dbx"
	"github.com/dpetukhov/tokengate/internal/server/models"
)

// PostgresRepository implements refresh-token record operations over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new refresh-token record for userID with the given jti and expiry.
func (r *PostgresRepository) Create(ctx context.Context, userID string, jti string, expiresAt time.Time) error {
	query := `
		INSERT INTO refresh_tokens (user_id, jti, expires_at)
		VALUES ($1, $2, $3)
	`
	if _, err := r.db.ExecContext(ctx, query, userID, jti, expiresAt.UTC()); err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return nil
}

// FindByJTI returns the refresh-token record for the given jti.
// If not found, it returns common.ErrorNotFound.
func (r *PostgresRepository) FindByJTI(ctx context.Context, jti string) (*models.RefreshToken, error) {
	query := `
		SELECT id, user_id, jti, expires_at, revoked
		FROM refresh_tokens
		WHERE jti = $1
	`
	token := &models.RefreshToken{}
	if err := r.db.QueryRowContext(ctx, query, jti).
		Scan(&token.ID, &token.UserID, &token.JTI, &token.ExpiresAt, &token.Revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return token, nil
}

// Revoke marks the record revoked only if it is not revoked yet. The boolean
// result reports whether this call actually flipped the flag, which lets the
// rotation flow detect that a concurrent rotation won the race.
func (r *PostgresRepository) Revoke(ctx context.Context, jti string) (bool, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = true
		WHERE jti = $1 AND NOT revoked
	`
	res, err := r.db.ExecContext(ctx, query, jti)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return affected > 0, nil
}

// RevokeAllForUser revokes every live record for userID in a single statement.
func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = true
		WHERE user_id = $1 AND NOT revoked
	`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return affected, nil
}
