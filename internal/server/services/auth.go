package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dpetukhov/tokengate/internal/common"
	"github.com/dpetukhov/tokengate/internal/cryptox"
	"github.com/dpetukhov/tokengate/internal/logging"
	"github.com/dpetukhov/tokengate/internal/server/auth"
	"github.com/dpetukhov/tokengate/internal/server/models"
	"github.com/dpetukhov/tokengate/internal/server/repositories/repomanager"
)

// AuthService handles registration, login, and logout. Authentication
// failures collapse to common.ErrorUnauthorized: callers never learn whether
// the account exists, is inactive, or the password was wrong.
type AuthService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	tokens      *TokenService
	logger      logging.Logger
}

// NewAuthService constructs an AuthService on top of TokenService.
func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, tokens *TokenService, logger logging.Logger) *AuthService {
	return &AuthService{db: db, repomanager: m, tokens: tokens, logger: logger}
}

// Register creates a new active user with a bcrypt-hashed credential and
// returns it together with a first token pair.
func (s *AuthService) Register(ctx context.Context, email, username, password, role string) (*models.User, *TokenPair, error) {
	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return nil, nil, common.ErrorInternal
	}

	user := &models.User{
		Email:        email,
		UserName:     username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}

	user, err = s.repomanager.Users(s.db).Create(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating user: %w", err)
	}

	pair, err := s.tokens.IssuePair(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID)
	return user, pair, nil
}

// Login verifies credentials by email or username and, on success, returns
// the user with a new token pair.
func (s *AuthService) Login(ctx context.Context, login, password string) (*models.User, *TokenPair, error) {
	user, err := s.repomanager.Users(s.db).GetByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, common.ErrorUnauthorized
		}
		return nil, nil, common.ErrorInternal
	}
	if !user.IsActive {
		return nil, nil, common.ErrorUnauthorized
	}
	if !cryptox.VerifyPassword(password, user.PasswordHash) {
		return nil, nil, common.ErrorUnauthorized
	}

	pair, err := s.tokens.IssuePair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Logout revokes the refresh token presented by the client. An unknown or
// already revoked record is a no-op; a token that fails verification is
// rejected.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.parseRefreshClaims(refreshToken)
	if err != nil {
		return err
	}
	return s.tokens.Revoke(ctx, claims.ID)
}

// LogoutAll revokes every live refresh token for userID.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	return s.tokens.RevokeAll(ctx, userID)
}

func (s *AuthService) parseRefreshClaims(refreshToken string) (*auth.Claims, error) {
	claims, err := auth.ParseToken(refreshToken, s.tokens.jwtSecret)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
