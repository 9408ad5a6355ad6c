// Package users declares the server-side repository contract for user
// accounts in persistent storage.
package users

import (
	"context"

	"github.com/dpetukhov/tokengate/internal/server/models"
)

// Repository defines operations for creating and looking up user accounts.
// Lookups return common.ErrorNotFound when no matching row exists.
type Repository interface {
	// Create stores a new user and returns it with the generated id.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// GetByID looks up a user by primary key.
	GetByID(ctx context.Context, id string) (*models.User, error)

	// GetByEmail looks up a user by email address.
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// GetByLogin looks up a user by email or username.
	GetByLogin(ctx context.Context, login string) (*models.User, error)

	// UpdatePasswordHash replaces the stored credential hash for userID.
	UpdatePasswordHash(ctx context.Context, userID string, passwordHash string) error
}
