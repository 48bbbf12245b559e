package models

import "time"

// Session is one logical login. A refresh replaces AccessToken,
// RefreshToken and ExpiresAt in place, so a refresh token is redeemable at
// most once.
type Session struct {
	ID           string
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
