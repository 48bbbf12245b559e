// Package services contains server-side business logic. AuthService is the
// session manager: it registers users, logs them in, rotates refresh tokens,
// revokes sessions and resolves access tokens into identities.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/dmitrijs2005/plotroom/internal/common"
	"github.com/dmitrijs2005/plotroom/internal/dbx"
	"github.com/dmitrijs2005/plotroom/internal/logging"
	"github.com/dmitrijs2005/plotroom/internal/server/auth"
	"github.com/dmitrijs2005/plotroom/internal/server/models"
	"github.com/dmitrijs2005/plotroom/internal/server/repositories/repomanager"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 72 // bcrypt input limit
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// UserSummary is the public view of a user.
type UserSummary struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// LoginResult is returned by Login and Register.
type LoginResult struct {
	User UserSummary `json:"user"`
	TokenPair
}

// Identity is the verified caller attached to a request or connection.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type AuthService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	tokens      *auth.TokenService
	bcryptCost  int
	dummyHash   []byte
	now         func() time.Time
	logger      logging.Logger
}

// NewAuthService precomputes the hash used to equalise login timing for
// unknown emails, so it fails only on an invalid bcrypt cost.
func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, tokens *auth.TokenService, bcryptCost int, logger logging.Logger) (*AuthService, error) {
	dummy, err := bcrypt.GenerateFromPassword([]byte("plotroom-timing-equaliser"), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("bcrypt: %w", err)
	}
	return &AuthService{
		db:          db,
		repomanager: m,
		tokens:      tokens,
		bcryptCost:  bcryptCost,
		dummyHash:   dummy,
		now:         time.Now,
		logger:      logger.With("module", "auth"),
	}, nil
}

// WithClock replaces the time source used for session expiry.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrorValidation, minPasswordLen)
	}
	if len(password) > maxPasswordLen {
		return fmt.Errorf("%w: password must be at most %d bytes", common.ErrorValidation, maxPasswordLen)
	}
	return nil
}

func summary(u *models.User) UserSummary {
	return UserSummary{ID: u.ID, Email: u.Email, Name: u.Name, LastLoginAt: u.LastLoginAt}
}

// internal logs err and returns the opaque ErrorInternal.
func (s *AuthService) internal(ctx context.Context, op string, err error) error {
	s.logger.Error(ctx, op+" failed", "error", err)
	return common.ErrorInternal
}

// Register creates an active user and opens a first session for it.
func (s *AuthService) Register(ctx context.Context, email, password, name string) (*LoginResult, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email", common.ErrorValidation)
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", common.ErrorValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, s.internal(ctx, "hash password", err)
	}

	user, err := s.repomanager.Users(s.db).Create(ctx, &models.User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, common.ErrorConflict) {
			return nil, fmt.Errorf("%w: email is already registered", common.ErrorConflict)
		}
		return nil, s.internal(ctx, "create user", err)
	}

	return s.startSession(ctx, user)
}

// Login authenticates email and password. Unknown email, inactive account
// and wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", common.ErrorValidation)
	}

	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, common.ErrorUnauthorized
		}
		return nil, s.internal(ctx, "lookup user", err)
	}

	match := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
	if !match || !user.IsActive {
		return nil, common.ErrorUnauthorized
	}

	return s.startSession(ctx, user)
}

func (s *AuthService) issuePair(user *models.User) (*TokenPair, error) {
	subject := auth.Subject{ID: user.ID, Email: user.Email}

	access, err := s.tokens.Issue(auth.Access, subject)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.Issue(auth.Refresh, subject)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// startSession persists a new session row and stamps the login time in one
// transaction.
func (s *AuthService) startSession(ctx context.Context, user *models.User) (*LoginResult, error) {
	pair, err := s.issuePair(user)
	if err != nil {
		return nil, s.internal(ctx, "issue tokens", err)
	}

	now := s.now()
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Sessions(tx).Create(ctx, &models.Session{
			UserID:       user.ID,
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			ExpiresAt:    now.Add(s.tokens.TTL(auth.Refresh)),
		}); err != nil {
			return fmt.Errorf("error creating session: %w", err)
		}
		return s.repomanager.Users(tx).UpdateLastLogin(ctx, user.ID, now)
	})
	if err != nil {
		return nil, s.internal(ctx, "start session", err)
	}

	user.LastLoginAt = &now
	s.logger.Info(ctx, "session started", "user_id", user.ID)
	return &LoginResult{User: summary(user), TokenPair: *pair}, nil
}

// Refresh redeems refreshToken for a new pair and overwrites the session
// in place. The old refresh token stops working immediately.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, common.ErrorUnauthorized
	}
	if _, err := s.tokens.Verify(auth.Refresh, refreshToken); err != nil {
		return nil, common.ErrorUnauthorized
	}

	now := s.now()
	sessions := s.repomanager.Sessions(s.db)

	session, err := sessions.FindActiveByRefreshToken(ctx, refreshToken, now)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, s.internal(ctx, "find session", err)
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, s.internal(ctx, "lookup user", err)
	}
	if !user.IsActive {
		return nil, common.ErrorUnauthorized
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, s.internal(ctx, "issue tokens", err)
	}

	err = sessions.Rotate(ctx, session.ID, refreshToken, pair.AccessToken, pair.RefreshToken, now.Add(s.tokens.TTL(auth.Refresh)))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Warn(ctx, "refresh token reused during rotation", "session_id", session.ID)
			return nil, common.ErrorUnauthorized
		}
		return nil, s.internal(ctx, "rotate session", err)
	}

	return pair, nil
}

// Logout revokes the session holding refreshToken. Unknown tokens are not
// an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return fmt.Errorf("%w: refresh token is required", common.ErrorValidation)
	}
	if _, err := s.repomanager.Sessions(s.db).DeleteByRefreshToken(ctx, refreshToken); err != nil {
		return s.internal(ctx, "logout", err)
	}
	return nil
}

// LogoutAll revokes every session of the user.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	n, err := s.repomanager.Sessions(s.db).DeleteByUserID(ctx, userID)
	if err != nil {
		return s.internal(ctx, "logout all", err)
	}
	s.logger.Info(ctx, "all sessions revoked", "user_id", userID, "count", n)
	return nil
}

// ChangePassword replaces the password hash and deletes every session of
// the user in a single transaction.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if currentPassword == "" {
		return fmt.Errorf("%w: current password is required", common.ErrorValidation)
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorUnauthorized
		}
		return s.internal(ctx, "lookup user", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)) != nil {
		return common.ErrorUnauthorized
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return s.internal(ctx, "hash password", err)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).UpdatePasswordHash(ctx, userID, string(hash)); err != nil {
			return err
		}
		_, err := s.repomanager.Sessions(tx).DeleteByUserID(ctx, userID)
		return err
	})
	if err != nil {
		return s.internal(ctx, "change password", err)
	}

	s.logger.Info(ctx, "password changed", "user_id", userID)
	return nil
}

// Authenticate resolves an access token into the identity of a user that
// still exists and is active.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*Identity, error) {
	if accessToken == "" {
		return nil, common.ErrMissingToken
	}
	claims, err := s.tokens.Verify(auth.Access, accessToken)
	if err != nil {
		return nil, common.ErrorUnauthorized
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, s.internal(ctx, "lookup user", err)
	}
	if !user.IsActive {
		return nil, common.ErrorUnauthorized
	}

	return &Identity{ID: user.ID, Email: user.Email, Name: user.Name}, nil
}

// Profile returns the summary of userID.
func (s *AuthService) Profile(ctx context.Context, userID string) (*UserSummary, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, s.internal(ctx, "lookup user", err)
	}
	sum := summary(user)
	return &sum, nil
}
