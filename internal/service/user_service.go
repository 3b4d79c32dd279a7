package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"authportal/internal/audit"
	"authportal/internal/domain"
	"authportal/internal/password"
	"authportal/internal/repository"
)

// BotGate verifies challenge tokens before sensitive mutations.
type BotGate interface {
	Verify(ctx context.Context, token, remoteIP string) domain.ChallengeVerification
}

type RegisterRequest struct {
	Email          string
	Password       string
	Name           string
	ChallengeToken string
	RemoteIP       string
}

type LoginRequest struct {
	Email          string
	Password       string
	ChallengeToken string
	RemoteIP       string
}

// OAuthProfile is the identity an OAuth provider vouched for.
type OAuthProfile struct {
	Provider      domain.Provider
	Email         string
	EmailVerified bool
	Name          string
	RemoteIP      string
}

// UserService describes the account flows. Every method returns a typed
// outcome for expected rejections and an error only for infrastructure
// failures.
type UserService interface {
	Register(ctx context.Context, req RegisterRequest) (domain.AuthOutcome, error)
	Login(ctx context.Context, req LoginRequest) (domain.AuthOutcome, error)
	OAuthLogin(ctx context.Context, profile OAuthProfile) (domain.AuthOutcome, error)
	CurrentUser(ctx context.Context, id string) (*domain.Identity, error)
}

// GateOptions selects which flows must pass the bot-score gate.
type GateOptions struct {
	Register bool
	Login    bool
}

type userService struct {
	users  repository.UserRepository
	hasher PasswordHasher
	auth   *Authenticator
	gate   BotGate
	opts   GateOptions
	audit  audit.Sink
	now    func() time.Time
}

// NewUserService wires the flows. gate may be nil when no captcha secret is
// configured; gated flows then reject with RejectProviderMisconfigured.
func NewUserService(users repository.UserRepository, hasher PasswordHasher, gate BotGate, opts GateOptions, sink audit.Sink) UserService {
	if sink == nil {
		sink = audit.Discard{}
	}
	return &userService{
		users:  users,
		hasher: hasher,
		auth:   NewAuthenticator(users, hasher),
		gate:   gate,
		opts:   opts,
		audit:  sink,
		now:    time.Now,
	}
}

func (s *userService) Register(ctx context.Context, req RegisterRequest) (domain.AuthOutcome, error) {
	email := strings.TrimSpace(req.Email)
	event := audit.Event{Type: audit.EventRegister, Email: email, RemoteIP: req.RemoteIP}

	if email == "" || req.Password == "" {
		return s.finish(ctx, event, domain.Rejected(domain.RejectInvalidInput, "email and password are required")), nil
	}

	if s.opts.Register {
		if outcome, ok := s.checkBot(ctx, req.ChallengeToken, req.RemoteIP, &event); !ok {
			return s.finish(ctx, event, outcome), nil
		}
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return domain.AuthOutcome{}, fmt.Errorf("check existing user: %w", err)
	}
	if exists {
		return s.finish(ctx, event, domain.Rejected(domain.RejectDuplicateEmail, "")), nil
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		if errors.Is(err, password.ErrTooLong) {
			return s.finish(ctx, event, domain.Rejected(domain.RejectInvalidInput, err.Error())), nil
		}
		return domain.AuthOutcome{}, err
	}

	user := &domain.User{
		Email:        email,
		DisplayName:  strings.TrimSpace(req.Name),
		PasswordHash: hash,
		Provider:     domain.ProviderCredentials,
	}
	if err := s.users.Create(ctx, user); err != nil {
		// lost a race with a concurrent registration of the same email
		if errors.Is(err, repository.ErrEmailTaken) {
			return s.finish(ctx, event, domain.Rejected(domain.RejectDuplicateEmail, "")), nil
		}
		return domain.AuthOutcome{}, fmt.Errorf("create user: %w", err)
	}

	return s.finish(ctx, event, domain.Authenticated(user.Identity())), nil
}

func (s *userService) Login(ctx context.Context, req LoginRequest) (domain.AuthOutcome, error) {
	event := audit.Event{Type: audit.EventLogin, Email: strings.TrimSpace(req.Email), RemoteIP: req.RemoteIP}

	if s.opts.Login {
		if outcome, ok := s.checkBot(ctx, req.ChallengeToken, req.RemoteIP, &event); !ok {
			return s.finish(ctx, event, outcome), nil
		}
	}

	outcome, err := s.auth.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		return domain.AuthOutcome{}, err
	}
	return s.finish(ctx, event, outcome), nil
}

// OAuthLogin signs in, or creates, the account for a provider-verified email.
// An email already registered with another provider is not linked.
func (s *userService) OAuthLogin(ctx context.Context, profile OAuthProfile) (domain.AuthOutcome, error) {
	email := strings.TrimSpace(profile.Email)
	event := audit.Event{Type: audit.EventOAuthLogin, Email: email, RemoteIP: profile.RemoteIP, Detail: string(profile.Provider)}

	if email == "" || profile.Provider == "" {
		return s.finish(ctx, event, domain.Rejected(domain.RejectInvalidInput, "provider did not return an email")), nil
	}
	if !profile.EmailVerified {
		return s.finish(ctx, event, domain.Rejected(domain.RejectInvalidCredentials, "email not verified by provider")), nil
	}

	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return s.finish(ctx, event, s.linkedOutcome(user, profile.Provider)), nil
	case !errors.Is(err, repository.ErrUserNotFound):
		return domain.AuthOutcome{}, fmt.Errorf("lookup user: %w", err)
	}

	user = &domain.User{
		Email:       email,
		DisplayName: strings.TrimSpace(profile.Name),
		Provider:    profile.Provider,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if !errors.Is(err, repository.ErrEmailTaken) {
			return domain.AuthOutcome{}, fmt.Errorf("create user: %w", err)
		}
		existing, err := s.users.GetByEmail(ctx, email)
		if err != nil {
			return domain.AuthOutcome{}, fmt.Errorf("lookup user: %w", err)
		}
		return s.finish(ctx, event, s.linkedOutcome(existing, profile.Provider)), nil
	}

	return s.finish(ctx, event, domain.Authenticated(user.Identity())), nil
}

func (s *userService) CurrentUser(ctx context.Context, id string) (*domain.Identity, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	identity := user.Identity()
	return &identity, nil
}

func (s *userService) linkedOutcome(user *domain.User, provider domain.Provider) domain.AuthOutcome {
	if user.Provider != provider {
		return domain.Rejected(domain.RejectAccountNotLinked, "")
	}
	return domain.Authenticated(user.Identity())
}

// checkBot runs the gate and reports false with the rejection when the
// caller must stop.
func (s *userService) checkBot(ctx context.Context, token, remoteIP string, event *audit.Event) (domain.AuthOutcome, bool) {
	if s.gate == nil {
		return domain.Rejected(domain.RejectProviderMisconfigured, "captcha is not configured"), false
	}

	v := s.gate.Verify(ctx, token, remoteIP)
	if v.Reason != domain.ChallengeMissingToken {
		score := v.Score
		event.Score = &score
	}
	if !v.Accepted {
		return domain.Rejected(domain.RejectBotCheckFailed, string(v.Reason)), false
	}
	return domain.AuthOutcome{}, true
}

func (s *userService) finish(ctx context.Context, event audit.Event, outcome domain.AuthOutcome) domain.AuthOutcome {
	event.Time = s.now().UTC()
	event.Success = outcome.OK()
	if outcome.OK() {
		event.UserID = outcome.Identity.ID
	} else if outcome.Rejection != nil {
		event.Reason = string(outcome.Rejection.Kind)
		if outcome.Rejection.Detail != "" {
			event.Detail = outcome.Rejection.Detail
		}
	}
	s.audit.Record(ctx, event)
	return outcome
}
