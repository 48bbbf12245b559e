package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/plotroom/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind selects which secret and lifetime a token is bound to.
type Kind string

const (
	Access  Kind = "access"
	Refresh Kind = "refresh"
)

var ErrNoSecret = errors.New("token secret is not configured")
var ErrSameSecret = errors.New("access and refresh secrets must differ")

// Claims carries the registered claims plus the subject's email and the
// token kind.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Type   Kind   `json:"typ"`
}

type Subject struct {
	ID    string
	Email string
}

// Verified is the result of a successful Verify.
type Verified struct {
	UserID    string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) (*TokenService, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, ErrNoSecret
	}
	if accessSecret == refreshSecret {
		return nil, ErrSameSecret
	}
	return &TokenService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}, nil
}

// WithClock replaces the time source. Intended for tests.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

func (s *TokenService) params(kind Kind) ([]byte, time.Duration, error) {
	switch kind {
	case Access:
		return s.accessSecret, s.accessTTL, nil
	case Refresh:
		return s.refreshSecret, s.refreshTTL, nil
	default:
		return nil, 0, fmt.Errorf("unknown token kind %q", kind)
	}
}

// TTL returns the lifetime of tokens of the given kind.
func (s *TokenService) TTL(kind Kind) time.Duration {
	_, ttl, _ := s.params(kind)
	return ttl
}

// Issue signs a new token of the given kind for subject.
func (s *TokenService) Issue(kind Kind, subject Subject) (string, error) {
	secret, ttl, err := s.params(kind)
	if err != nil {
		return "", err
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: subject.ID,
		Email:  subject.Email,
		Type:   kind,
	})

	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// Verify checks the signature, expiry and kind of tokenString. Every
// failure wraps common.ErrInvalidToken.
func (s *TokenService) Verify(kind Kind, tokenString string) (*Verified, error) {
	secret, _, err := s.params(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.Type != kind || claims.UserID == "" {
		return nil, common.ErrInvalidToken
	}

	v := &Verified{
		UserID:    claims.UserID,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		v.IssuedAt = claims.IssuedAt.Time
	}
	return v, nil
}
