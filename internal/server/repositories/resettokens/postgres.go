// Package resettokens provides a PostgreSQL-backed repository for
// password-reset token records.
package resettokens

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

// PostgresRepository implements reset-token record operations over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new reset-token record and returns the stored row.
func (r *PostgresRepository) Create(ctx context.Context, userID string, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error) {
	query := `
		INSERT INTO password_reset_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	token := &models.PasswordResetToken{
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt.UTC(),
	}
	if err := r.db.QueryRowContext(ctx, query, userID, tokenHash, expiresAt.UTC()).
		Scan(&token.ID, &token.CreatedAt); err != nil {
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	return token, nil
}

// FindByHash returns the reset-token record matching tokenHash.
// If not found, it returns common.ErrorNotFound.
func (r *PostgresRepository) FindByHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	query := `
		SELECT id, user_id, token_hash, expires_at, used
		FROM password_reset_tokens
		WHERE token_hash = $1
	`
	token := &models.PasswordResetToken{}
	if err := r.db.QueryRowContext(ctx, query, tokenHash).
		Scan(&token.ID, &token.UserID, &token.TokenHash, &token.ExpiresAt, &token.Used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return token, nil
}

// MarkUsed marks the record used only if it is not used yet, so a concurrent
// confirmation of the same token succeeds at most once.
func (r *PostgresRepository) MarkUsed(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE password_reset_tokens
		SET used = true
		WHERE id = $1 AND NOT used
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return affected > 0, nil
}
