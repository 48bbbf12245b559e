package models

import "time"

// User is an account in the credential store. IsActive=false disables
// authentication without deleting the account or its history.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
