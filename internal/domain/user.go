package domain

import "time"

// Provider identifies how an account proves its identity.
type Provider string

const (
	ProviderCredentials Provider = "credentials"
	ProviderGoogle      Provider = "google"
)

// User represents a registered account.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string // empty for OAuth-only accounts
	Provider     Provider
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword reports whether the account can sign in with a password.
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != ""
}

// Identity returns the sanitized view of the user.
func (u *User) Identity() Identity {
	return Identity{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.DisplayName,
	}
}

// Identity is what the rest of the system knows about an authenticated user.
// It never carries credential material.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}
