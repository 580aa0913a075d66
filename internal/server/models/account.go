// Package models holds the persisted account record and its outward view.
package models

import "time"

// Role is the authorisation level of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Account is the single persisted record per user. Token fields hold
// SHA-256 digests, never the presented token.
type Account struct {
	ID                  string
	Email               string
	Name                string
	PasswordHash        string `json:"-"`
	Role                Role
	IsVerified          bool
	VerificationToken   *string    `json:"-"`
	ResetToken          *string    `json:"-"`
	ResetTokenExpiresAt *time.Time `json:"-"`
	ActiveRefreshToken  *string    `json:"-"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Profile is the part of an Account that may leave the server.
type Profile struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Role       Role      `json:"role"`
	IsVerified bool      `json:"isVerified"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (a *Account) Profile() *Profile {
	return &Profile{
		ID:         a.ID,
		Email:      a.Email,
		Name:       a.Name,
		Role:       a.Role,
		IsVerified: a.IsVerified,
		CreatedAt:  a.CreatedAt,
	}
}

// IsAdmin reports whether the account may act on other accounts.
func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}
