// Package services contains server-side business logic. This file implements
// TokenService, which issues, rotates, and revokes the access/refresh token
// pairs backed by persisted revocation records.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dpetukhov/tokengate/internal/common"
	"github.com/dpetukhov/tokengate/internal/dbx"
	"github.com/dpetukhov/tokengate/internal/logging"
	"github.com/dpetukhov/tokengate/internal/server/auth"
	"github.com/dpetukhov/tokengate/internal/server/config"
	"github.com/dpetukhov/tokengate/internal/server/models"
	"github.com/dpetukhov/tokengate/internal/server/repositories/repomanager"
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TokenService provides the token lifecycle operations:
//   - IssuePair: mint an access/refresh pair and persist the refresh record
//   - Rotate: validate a refresh token and rotate it transactionally
//   - Revoke / RevokeAll: invalidate refresh records by jti or by user
type TokenService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	logger                       logging.Logger
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
}

// NewTokenService constructs a TokenService using repositories and server config.
func NewTokenService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger, cfg *config.Config) *TokenService {
	return &TokenService{
		db:                           db,
		repomanager:                  m,
		logger:                       logger,
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
	}
}

// IssuePair mints a new token pair for user and stores the refresh token's
// revocation record.
func (s *TokenService) IssuePair(ctx context.Context, user *models.User) (*TokenPair, error) {
	return s.generatePair(ctx, user, s.db)
}

// Rotate validates a refresh token, revokes its record, and returns a fresh
// TokenPair for the same user. Rotation is single-use: the conditional revoke
// guarantees that of two concurrent rotations of one token, exactly one
// succeeds and the other fails with common.ErrTokenRevoked.
func (s *TokenService) Rotate(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := auth.ParseToken(refreshToken, s.jwtSecret)
	if err != nil {
		return nil, err
	}

	repo := s.repomanager.RefreshTokens(s.db)
	record, err := repo.FindByJTI(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}
	if record.Revoked {
		return nil, common.ErrTokenRevoked
	}
	// The persisted expiry is authoritative; both sides of the comparison
	// are UTC.
	if record.ExpiresAt.UTC().Before(time.Now().UTC()) {
		return nil, common.ErrTokenExpired
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	if !user.IsActive {
		return nil, common.ErrorUnauthorized
	}

	var pair *TokenPair
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		flipped, err := s.repomanager.RefreshTokens(tx).Revoke(ctx, claims.ID)
		if err != nil {
			return fmt.Errorf("error revoking refresh token: %w", err)
		}
		if !flipped {
			// A concurrent rotation won the race on this record.
			return common.ErrTokenRevoked
		}
		var genErr error
		pair, genErr = s.generatePair(ctx, user, tx)
		return genErr
	}); err != nil {
		return nil, err
	}

	s.logger.Debug(ctx, "refresh token rotated", "user_id", user.ID)
	return pair, nil
}

// Revoke marks the refresh record with the given jti revoked. Revoking an
// already revoked or unknown jti is a no-op, not an error.
func (s *TokenService) Revoke(ctx context.Context, jti string) error {
	if _, err := s.repomanager.RefreshTokens(s.db).Revoke(ctx, jti); err != nil {
		return fmt.Errorf("error revoking refresh token: %w", err)
	}
	return nil
}

// RevokeAll revokes every live refresh record for userID in one transaction.
func (s *TokenService) RevokeAll(ctx context.Context, userID string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		n, err := s.repomanager.RefreshTokens(tx).RevokeAllForUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("error revoking refresh tokens: %w", err)
		}
		s.logger.Info(ctx, "revoked all refresh tokens", "user_id", userID, "count", n)
		return nil
	})
}

// ParseAccessToken verifies an access token and returns its claims. Validity
// is entirely signature + expiry; access tokens have no persisted state.
func (s *TokenService) ParseAccessToken(tokenString string) (*auth.Claims, error) {
	return auth.ParseToken(tokenString, s.jwtSecret)
}

// --- helpers below ---

func (s *TokenService) generatePair(ctx context.Context, user *models.User, tx dbx.DBTX) (*TokenPair, error) {
	access, _, err := auth.NewToken(user.ID, user.Email, user.Role, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}

	refresh, claims, err := auth.NewToken(user.ID, "", "", s.jwtSecret, s.refreshTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}

	repo := s.repomanager.RefreshTokens(tx)
	if err := repo.Create(ctx, user.ID, claims.ID, claims.ExpiresAt.Time); err != nil {
		s.logger.Error(ctx, "error storing refresh token", "error", err)
		return nil, common.ErrorInternal
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
