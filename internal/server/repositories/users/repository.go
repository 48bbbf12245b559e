// Package users declares and implements the credential store contract for
// user accounts.
package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/plotroom/internal/server/models"
)

// Repository is the point-lookup/update surface the session layer needs.
type Repository interface {
	// Create inserts a user and fills ID and timestamps. A duplicate email
	// yields common.ErrorConflict.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// GetByEmail returns common.ErrorNotFound when no user has that email.
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// GetByID returns common.ErrorNotFound when the id is unknown.
	GetByID(ctx context.Context, id string) (*models.User, error)

	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id string, hash string) error
}
