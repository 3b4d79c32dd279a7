// Package session issues and validates the signed session tokens carried in
// the session cookie.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"authportal/internal/domain"
)

const (
	DefaultTTL        = 24 * time.Hour
	DefaultCookieName = "authportal_session"
	DefaultIssuer     = "authportal"

	minSecretLength = 32
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrRevoked        = errors.New("session revoked")
	ErrSecretTooShort = fmt.Errorf("session secret must be at least %d bytes", minSecretLength)
)

type Config struct {
	Secret       []byte
	TTL          time.Duration
	Issuer       string
	CookieName   string
	CookieSecure bool
	Now          func() time.Time
}

type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// Session is a validated session token.
type Session struct {
	ID        string
	Identity  domain.Identity
	ExpiresAt time.Time
}

// Manager signs and parses HS256 session tokens.
type Manager struct {
	secret       []byte
	ttl          time.Duration
	issuer       string
	cookieName   string
	cookieSecure bool
	now          func() time.Time
	revocations  RevocationStore
	parser       *jwt.Parser
}

func NewManager(cfg Config, revocations RevocationStore) (*Manager, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, ErrSecretTooShort
	}
	if revocations == nil {
		return nil, errors.New("revocation store is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		secret:       cfg.Secret,
		ttl:          cfg.TTL,
		issuer:       cfg.Issuer,
		cookieName:   cfg.CookieName,
		cookieSecure: cfg.CookieSecure,
		now:          cfg.Now,
		revocations:  revocations,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithTimeFunc(cfg.Now),
		),
	}, nil
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func (m *Manager) CookieName() string {
	return m.cookieName
}

func (m *Manager) CookieSecure() bool {
	return m.cookieSecure
}

// Issue signs a new session token for identity.
func (m *Manager) Issue(identity domain.Identity) (string, *Session, error) {
	now := m.now()
	expiresAt := now.Add(m.ttl)
	id := uuid.NewString()

	claims := Claims{
		Email: identity.Email,
		Name:  identity.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   identity.ID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign session token: %w", err)
	}

	return token, &Session{ID: id, Identity: identity, ExpiresAt: expiresAt.Truncate(time.Second)}, nil
}

// Parse validates token and returns the session it represents.
func (m *Manager) Parse(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}

	claims := &Claims{}
	parsed, err := m.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidSession
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidSession
	}

	revoked, err := m.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check session revocation: %w", err)
	}
	if revoked {
		return nil, ErrRevoked
	}

	return &Session{
		ID: claims.ID,
		Identity: domain.Identity{
			ID:    claims.Subject,
			Email: claims.Email,
			Name:  claims.Name,
		},
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Revoke invalidates s until it would have expired anyway.
func (m *Manager) Revoke(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	ttl := s.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		return nil
	}
	if err := m.revocations.Revoke(ctx, s.ID, ttl); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}
