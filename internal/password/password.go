// Package password hashes and verifies user passwords.
//
// bcrypt is the default algorithm. argon2id can be selected for new hashes;
// Verify accepts either format so existing hashes keep working when the
// configured algorithm changes.
package password

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

type Algorithm string

const (
	Bcrypt   Algorithm = "bcrypt"
	Argon2id Algorithm = "argon2id"
)

// DefaultBcryptCost matches bcrypt.DefaultCost.
const DefaultBcryptCost = 10

// bcrypt only reads the first 72 bytes of its input.
const maxBcryptBytes = 72

var (
	// ErrTooLong is returned when the plaintext exceeds what the algorithm accepts.
	ErrTooLong = errors.New("password is too long")
	// ErrEmpty is returned when hashing an empty password.
	ErrEmpty = errors.New("password is empty")
)

type Config struct {
	Algorithm  Algorithm
	BcryptCost int
	Argon2     Argon2Params
}

// Hasher produces salted one-way hashes. It holds no mutable state and is
// safe for concurrent use.
type Hasher struct {
	algorithm  Algorithm
	bcryptCost int
	argon2     Argon2Params
	dummy      string
}

func NewHasher(cfg Config) (*Hasher, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = Bcrypt
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = DefaultBcryptCost
	}
	if cfg.Argon2 == (Argon2Params{}) {
		cfg.Argon2 = DefaultArgon2Params()
	}

	switch cfg.Algorithm {
	case Bcrypt:
		if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
		}
	case Argon2id:
		if err := cfg.Argon2.validate(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported password algorithm %q", cfg.Algorithm)
	}

	h := &Hasher{
		algorithm:  cfg.Algorithm,
		bcryptCost: cfg.BcryptCost,
		argon2:     cfg.Argon2,
	}

	// A throwaway hash used to spend the same work on lookups that miss.
	seed := make([]byte, 16)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate dummy seed: %w", err)
	}
	dummy, err := h.Hash(fmt.Sprintf("%x", seed))
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	h.dummy = dummy

	return h, nil
}

func (h *Hasher) Algorithm() Algorithm {
	return h.algorithm
}

// Hash returns an encoded hash of plaintext. Two calls with the same input
// return different strings, both of which verify.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmpty
	}

	if h.algorithm == Argon2id {
		return hashArgon2id(plaintext, h.argon2)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrTooLong
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether plaintext matches the encoded hash. Malformed or
// unknown hashes never match.
func (h *Hasher) Verify(plaintext, encoded string) bool {
	switch {
	case strings.HasPrefix(encoded, argon2idPrefix):
		return verifyArgon2id(plaintext, encoded)
	case isBcrypt(encoded):
		if len(plaintext) > maxBcryptBytes {
			// spend the same work, but the tail must not be ignored
			_ = bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plaintext[:maxBcryptBytes]))
			return false
		}
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plaintext)) == nil
	default:
		return false
	}
}

// VerifyDummy spends roughly the cost of a real verification and always
// reports false. Callers use it when there is no stored hash to check.
func (h *Hasher) VerifyDummy(plaintext string) bool {
	h.Verify(plaintext, h.dummy)
	return false
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}
