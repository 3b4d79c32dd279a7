package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"authportal/internal/domain"
	"authportal/internal/repository"
)

// PasswordHasher is the subset of password.Hasher the flows depend on.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, encoded string) bool
	VerifyDummy(plaintext string) bool
}

// Authenticator turns an email and password into an identity or a rejection.
type Authenticator struct {
	users  repository.UserRepository
	hasher PasswordHasher
}

func NewAuthenticator(users repository.UserRepository, hasher PasswordHasher) *Authenticator {
	return &Authenticator{users: users, hasher: hasher}
}

// Authenticate never tells an unknown email apart from a wrong password: both
// return RejectInvalidCredentials after spending one hash verification.
// The returned error is non-nil only for store failures.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (domain.AuthOutcome, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domain.Rejected(domain.RejectInvalidInput, "email and password are required"), nil
	}

	user, err := a.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			a.hasher.VerifyDummy(password)
			return domain.Rejected(domain.RejectInvalidCredentials, ""), nil
		}
		return domain.AuthOutcome{}, fmt.Errorf("lookup user: %w", err)
	}

	// OAuth-only accounts have no password to fall back to.
	if !user.HasPassword() {
		a.hasher.VerifyDummy(password)
		return domain.Rejected(domain.RejectInvalidCredentials, ""), nil
	}

	if !a.hasher.Verify(password, user.PasswordHash) {
		return domain.Rejected(domain.RejectInvalidCredentials, ""), nil
	}

	return domain.Authenticated(user.Identity()), nil
}
