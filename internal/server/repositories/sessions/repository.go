// Package sessions declares the credential store contract for login
// sessions, the single source of truth for refresh-token validity.
package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/plotroom/internal/server/models"
)

// Repository defines operations for creating, rotating and revoking sessions.
type Repository interface {
	// Create stores a new session row and fills its ID.
	Create(ctx context.Context, s *models.Session) error

	// FindActiveByRefreshToken returns the session holding token whose
	// expiry is after now, or common.ErrorNotFound.
	FindActiveByRefreshToken(ctx context.Context, token string, now time.Time) (*models.Session, error)

	// Rotate overwrites the tokens of session id, but only while it still
	// holds oldRefreshToken. If another rotation won the race,
	// common.ErrorNotFound is returned.
	Rotate(ctx context.Context, id, oldRefreshToken, accessToken, refreshToken string, expiresAt time.Time) error

	// DeleteByRefreshToken removes every session holding token. Deleting
	// nothing is not an error.
	DeleteByRefreshToken(ctx context.Context, token string) (int64, error)

	// DeleteByUserID removes every session of the user.
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
}
