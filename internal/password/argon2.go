package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2idPrefix = "$argon2id$"

// Upper bounds accepted when decoding a stored hash.
const (
	maxArgon2Memory     = 1024 * 1024 // KiB
	maxArgon2Iterations = 10
	maxArgon2SaltLength = 64
	maxArgon2KeyLength  = 128
)

// Argon2Params are the argon2id cost parameters used for new hashes.
type Argon2Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params follows the OWASP password storage recommendation.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (p Argon2Params) validate() error {
	switch {
	case p.Memory < 8*1024 || p.Memory > maxArgon2Memory:
		return errors.New("argon2 memory must be between 8 MiB and 1 GiB")
	case p.Iterations < 1 || p.Iterations > maxArgon2Iterations:
		return fmt.Errorf("argon2 iterations must be between 1 and %d", maxArgon2Iterations)
	case p.Parallelism < 1:
		return errors.New("argon2 parallelism must be at least 1")
	case p.SaltLength < 16 || p.SaltLength > maxArgon2SaltLength:
		return fmt.Errorf("argon2 salt must be between 16 and %d bytes", maxArgon2SaltLength)
	case p.KeyLength < 16 || p.KeyLength > maxArgon2KeyLength:
		return fmt.Errorf("argon2 key must be between 16 and %d bytes", maxArgon2KeyLength)
	}
	return nil
}

func hashArgon2id(plaintext string, p Argon2Params) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory,
		p.Iterations,
		p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyArgon2id(plaintext, encoded string) bool {
	p, salt, key, err := decodeArgon2id(encoded)
	if err != nil {
		return false
	}
	computed := argon2.IDKey([]byte(plaintext), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return subtle.ConstantTimeCompare(key, computed) == 1
}

func decodeArgon2id(encoded string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, errors.New("invalid argon2id hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, fmt.Errorf("invalid version: %w", err)
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("unsupported argon2 version %d", version)
	}

	var parallelism int
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &parallelism); err != nil {
		return p, nil, nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if parallelism < 1 || parallelism > 255 ||
		p.Iterations < 1 || p.Iterations > maxArgon2Iterations ||
		p.Memory < 1 || p.Memory > maxArgon2Memory {
		return p, nil, nil, errors.New("argon2 parameters out of range")
	}
	p.Parallelism = uint8(parallelism)

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, fmt.Errorf("invalid salt encoding: %w", err)
	}
	if len(salt) > maxArgon2SaltLength {
		return p, nil, nil, errors.New("argon2 salt too long")
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 || len(key) > maxArgon2KeyLength {
		return p, nil, nil, errors.New("invalid key encoding")
	}
	p.KeyLength = uint32(len(key))

	return p, salt, key, nil
}
