package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/plotroom/internal/common"
	"github.com/dmitrijs2005/plotroom/internal/dbx"
	"github.com/dmitrijs2005/plotroom/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX, so it works
// both on *sql.DB and inside a transaction.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO sessions (user_id, access_token, refresh_token, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, s.UserID, s.AccessToken, s.RefreshToken, s.ExpiresAt).
		Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	s.UpdatedAt = s.CreatedAt
	return nil
}

func (r *PostgresRepository) FindActiveByRefreshToken(ctx context.Context, token string, now time.Time) (*models.Session, error) {
	query := `
		SELECT id, user_id, access_token, refresh_token, expires_at
		FROM sessions
		WHERE refresh_token = $1 AND expires_at > $2
	`
	s := &models.Session{}
	err := r.db.QueryRowContext(ctx, query, token, now).
		Scan(&s.ID, &s.UserID, &s.AccessToken, &s.RefreshToken, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) Rotate(ctx context.Context, id, oldRefreshToken, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `
		UPDATE sessions
		SET access_token = $3, refresh_token = $4, expires_at = $5, updated_at = now()
		WHERE id = $1 AND refresh_token = $2
	`
	res, err := r.db.ExecContext(ctx, query, id, oldRefreshToken, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteByRefreshToken(ctx context.Context, token string) (int64, error) {
	return r.delete(ctx, `DELETE FROM sessions WHERE refresh_token = $1`, token)
}

func (r *PostgresRepository) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	return r.delete(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
}

func (r *PostgresRepository) delete(ctx context.Context, query string, arg string) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, arg)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
