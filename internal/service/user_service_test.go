package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"authportal/internal/domain"
	"authportal/internal/password"
)

func newHasher(t *testing.T) *password.Hasher {
	t.Helper()
	h, err := password.NewHasher(password.Config{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	return h
}

var bothGated = GateOptions{Register: true, Login: true}

func seedUser(t *testing.T, repo *fakeUserRepository, h *password.Hasher, email, pw string) *domain.User {
	t.Helper()
	hash, err := h.Hash(pw)
	require.NoError(t, err)
	u := &domain.User{Email: email, DisplayName: "Seed", PasswordHash: hash, Provider: domain.ProviderCredentials}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}

func TestAuthenticator_Authenticate(t *testing.T) {
	h := newHasher(t)
	repo := newFakeUserRepository()
	seeded := seedUser(t, repo, h, "ann@example.com", "Secret123!")
	require.NoError(t, repo.Create(context.Background(), &domain.User{Email: "oauth@example.com", Provider: domain.ProviderGoogle}))
	longPassword := strings.Repeat("a", 72)
	seedUser(t, repo, h, "long@example.com", longPassword)
	auth := NewAuthenticator(repo, h)

	tests := []struct {
		name     string
		email    string
		password string
		wantKind domain.RejectionKind
	}{
		{name: "empty email", email: "", password: "Secret123!", wantKind: domain.RejectInvalidInput},
		{name: "blank email", email: "  ", password: "Secret123!", wantKind: domain.RejectInvalidInput},
		{name: "empty password", email: "ann@example.com", password: "", wantKind: domain.RejectInvalidInput},
		{name: "unknown email", email: "nobody@example.com", password: "Secret123!", wantKind: domain.RejectInvalidCredentials},
		{name: "wrong password", email: "ann@example.com", password: "wrong", wantKind: domain.RejectInvalidCredentials},
		{name: "oauth only account", email: "oauth@example.com", password: "anything", wantKind: domain.RejectInvalidCredentials},
		{name: "email lookup is case sensitive", email: "ANN@example.com", password: "Secret123!", wantKind: domain.RejectInvalidCredentials},
		{name: "password extending a 72 byte password", email: "long@example.com", password: longPassword + "SUFFIX", wantKind: domain.RejectInvalidCredentials},
		{name: "valid credentials", email: "ann@example.com", password: "Secret123!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := auth.Authenticate(context.Background(), tt.email, tt.password)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, outcome.Kind())
			if tt.wantKind == "" {
				require.True(t, outcome.OK())
				assert.Equal(t, seeded.Identity(), *outcome.Identity)
			} else {
				assert.Nil(t, outcome.Identity)
			}
		})
	}
}

func TestAuthenticator_UnknownEmailAndWrongPasswordAreIndistinguishable(t *testing.T) {
	h := newHasher(t)
	repo := newFakeUserRepository()
	seedUser(t, repo, h, "ann@example.com", "Secret123!")
	auth := NewAuthenticator(repo, h)

	unknown, err := auth.Authenticate(context.Background(), "nobody@example.com", "Secret123!")
	require.NoError(t, err)
	wrong, err := auth.Authenticate(context.Background(), "ann@example.com", "nope")
	require.NoError(t, err)

	assert.Equal(t, unknown, wrong)
}

func TestAuthenticator_StoreFailure(t *testing.T) {
	repo := newFakeUserRepository()
	repo.getErr = errStoreDown
	auth := NewAuthenticator(repo, newHasher(t))

	_, err := auth.Authenticate(context.Background(), "ann@example.com", "Secret123!")
	require.ErrorIs(t, err, errStoreDown)
}

func TestUserService_Register(t *testing.T) {
	repo := newFakeUserRepository()
	gate := acceptingGate()
	sink := &recordingSink{}
	svc := NewUserService(repo, newHasher(t), gate, bothGated, sink)

	outcome, err := svc.Register(context.Background(), RegisterRequest{
		Email:          "new@x.com",
		Password:       "Secret123!",
		Name:           "Ann",
		ChallengeToken: "valid",
	})
	require.NoError(t, err)
	require.True(t, outcome.OK())
	assert.NotEmpty(t, outcome.Identity.ID)
	assert.Equal(t, "new@x.com", outcome.Identity.Email)
	assert.Equal(t, "Ann", outcome.Identity.Name)

	stored, err := repo.GetByEmail(context.Background(), "new@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, "Secret123!", stored.PasswordHash)
	assert.Equal(t, domain.ProviderCredentials, stored.Provider)

	require.Len(t, sink.events, 1)
	assert.True(t, sink.events[0].Success)
	assert.Equal(t, outcome.Identity.ID, sink.events[0].UserID)
	raw, err := json.Marshal(sink.events)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Secret123!")
}

func TestUserService_RegisterRejections(t *testing.T) {
	tests := []struct {
		name       string
		req        RegisterRequest
		gate       *fakeGate
		setup      func(*fakeUserRepository)
		wantKind   domain.RejectionKind
		wantDetail string
		wantCalls  int
	}{
		{
			name:      "missing email",
			req:       RegisterRequest{Password: "Secret123!", ChallengeToken: "valid"},
			gate:      acceptingGate(),
			wantKind:  domain.RejectInvalidInput,
			wantCalls: 0,
		},
		{
			name:      "missing password",
			req:       RegisterRequest{Email: "a@x.com", ChallengeToken: "valid"},
			gate:      acceptingGate(),
			wantKind:  domain.RejectInvalidInput,
			wantCalls: 0,
		},
		{
			name:       "missing challenge token",
			req:        RegisterRequest{Email: "a@x.com", Password: "Secret123!"},
			gate:       acceptingGate(),
			wantKind:   domain.RejectBotCheckFailed,
			wantDetail: string(domain.ChallengeMissingToken),
			wantCalls:  1,
		},
		{
			name:       "low score",
			req:        RegisterRequest{Email: "a@x.com", Password: "Secret123!", ChallengeToken: "t"},
			gate:       rejectingGate(domain.ChallengeLowScore, 0.3),
			wantKind:   domain.RejectBotCheckFailed,
			wantDetail: string(domain.ChallengeLowScore),
			wantCalls:  1,
		},
		{
			name:       "provider error",
			req:        RegisterRequest{Email: "a@x.com", Password: "Secret123!", ChallengeToken: "t"},
			gate:       rejectingGate(domain.ChallengeProviderError, 0),
			wantKind:   domain.RejectBotCheckFailed,
			wantDetail: string(domain.ChallengeProviderError),
			wantCalls:  1,
		},
		{
			name: "duplicate email",
			req:  RegisterRequest{Email: "a@x.com", Password: "Secret123!", ChallengeToken: "t"},
			gate: acceptingGate(),
			setup: func(r *fakeUserRepository) {
				r.users["a@x.com"] = &domain.User{ID: "existing", Email: "a@x.com"}
			},
			wantKind:  domain.RejectDuplicateEmail,
			wantCalls: 1,
		},
		{
			name: "duplicate detected by the store constraint",
			req:  RegisterRequest{Email: "a@x.com", Password: "Secret123!", ChallengeToken: "t"},
			gate: acceptingGate(),
			setup: func(r *fakeUserRepository) {
				r.users["a@x.com"] = &domain.User{ID: "existing", Email: "a@x.com"}
				r.hideOnExists = true
			},
			wantKind:  domain.RejectDuplicateEmail,
			wantCalls: 1,
		},
		{
			name:      "password longer than bcrypt accepts",
			req:       RegisterRequest{Email: "a@x.com", Password: string(make([]byte, 80)), ChallengeToken: "t"},
			gate:      acceptingGate(),
			wantKind:  domain.RejectInvalidInput,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeUserRepository()
			if tt.setup != nil {
				tt.setup(repo)
			}
			before := repo.count()
			svc := NewUserService(repo, newHasher(t), tt.gate, bothGated, nil)

			outcome, err := svc.Register(context.Background(), tt.req)
			require.NoError(t, err)
			require.False(t, outcome.OK())
			assert.Equal(t, tt.wantKind, outcome.Kind())
			if tt.wantDetail != "" {
				assert.Equal(t, tt.wantDetail, outcome.Rejection.Detail)
			}
			assert.Equal(t, tt.wantCalls, tt.gate.calls)
			assert.Equal(t, before, repo.count(), "rejections must not write")
		})
	}
}

func TestUserService_RegisterTwice(t *testing.T) {
	repo := newFakeUserRepository()
	svc := NewUserService(repo, newHasher(t), acceptingGate(), bothGated, nil)
	req := RegisterRequest{Email: "dup@x.com", Password: "Secret123!", ChallengeToken: "t"}

	first, err := svc.Register(context.Background(), req)
	require.NoError(t, err)
	require.True(t, first.OK())

	second, err := svc.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.RejectDuplicateEmail, second.Kind())
	assert.Equal(t, 1, repo.count())
}

func TestUserService_RegisterStoreFailures(t *testing.T) {
	repo := newFakeUserRepository()
	repo.existsErr = errStoreDown
	svc := NewUserService(repo, newHasher(t), acceptingGate(), bothGated, nil)

	_, err := svc.Register(context.Background(), RegisterRequest{Email: "a@x.com", Password: "p", ChallengeToken: "t"})
	require.ErrorIs(t, err, errStoreDown)

	repo.existsErr = nil
	repo.createErr = errStoreDown
	_, err = svc.Register(context.Background(), RegisterRequest{Email: "a@x.com", Password: "p", ChallengeToken: "t"})
	require.ErrorIs(t, err, errStoreDown)
}

func TestUserService_GateConfiguration(t *testing.T) {
	repo := newFakeUserRepository()

	misconfigured := NewUserService(repo, newHasher(t), nil, bothGated, nil)
	outcome, err := misconfigured.Register(context.Background(), RegisterRequest{Email: "a@x.com", Password: "p", ChallengeToken: "t"})
	require.NoError(t, err)
	assert.Equal(t, domain.RejectProviderMisconfigured, outcome.Kind())

	outcome, err = misconfigured.Login(context.Background(), LoginRequest{Email: "a@x.com", Password: "p", ChallengeToken: "t"})
	require.NoError(t, err)
	assert.Equal(t, domain.RejectProviderMisconfigured, outcome.Kind())

	gate := acceptingGate()
	ungated := NewUserService(repo, newHasher(t), gate, GateOptions{}, nil)
	outcome, err = ungated.Register(context.Background(), RegisterRequest{Email: "a@x.com", Password: "p"})
	require.NoError(t, err)
	assert.True(t, outcome.OK())
	assert.Zero(t, gate.calls)
}

func TestUserService_Login(t *testing.T) {
	h := newHasher(t)
	repo := newFakeUserRepository()
	seeded := seedUser(t, repo, h, "ann@example.com", "Secret123!")

	t.Run("bot check runs before the lookup", func(t *testing.T) {
		gate := rejectingGate(domain.ChallengeFailed, 0)
		svc := NewUserService(repo, h, gate, bothGated, nil)
		repo.lookups = 0

		outcome, err := svc.Login(context.Background(), LoginRequest{Email: "ann@example.com", Password: "Secret123!", ChallengeToken: "t"})
		require.NoError(t, err)
		assert.Equal(t, domain.RejectBotCheckFailed, outcome.Kind())
		assert.Equal(t, string(domain.ChallengeFailed), outcome.Rejection.Detail)
		assert.Zero(t, repo.lookups)
	})

	t.Run("valid credentials", func(t *testing.T) {
		sink := &recordingSink{}
		svc := NewUserService(repo, h, acceptingGate(), bothGated, sink)

		outcome, err := svc.Login(context.Background(), LoginRequest{Email: "ann@example.com", Password: "Secret123!", ChallengeToken: "t", RemoteIP: "203.0.113.1"})
		require.NoError(t, err)
		require.True(t, outcome.OK())
		assert.Equal(t, seeded.ID, outcome.Identity.ID)

		require.Len(t, sink.events, 1)
		assert.Equal(t, "203.0.113.1", sink.events[0].RemoteIP)
		require.NotNil(t, sink.events[0].Score)
		assert.InDelta(t, 0.9, *sink.events[0].Score, 1e-9)
	})

	t.Run("wrong password", func(t *testing.T) {
		svc := NewUserService(repo, h, acceptingGate(), bothGated, nil)
		outcome, err := svc.Login(context.Background(), LoginRequest{Email: "ann@example.com", Password: "bad", ChallengeToken: "t"})
		require.NoError(t, err)
		assert.Equal(t, domain.RejectInvalidCredentials, outcome.Kind())
	})
}

func TestUserService_RegisterThenLogin(t *testing.T) {
	repo := newFakeUserRepository()
	svc := NewUserService(repo, newHasher(t), acceptingGate(), bothGated, nil)
	ctx := context.Background()

	registered, err := svc.Register(ctx, RegisterRequest{Email: "new@x.com", Password: "Secret123!", Name: "Ann", ChallengeToken: "valid"})
	require.NoError(t, err)
	require.True(t, registered.OK())

	loggedIn, err := svc.Login(ctx, LoginRequest{Email: "new@x.com", Password: "Secret123!", ChallengeToken: "valid"})
	require.NoError(t, err)
	require.True(t, loggedIn.OK())
	assert.Equal(t, registered.Identity.ID, loggedIn.Identity.ID)
	assert.Equal(t, "Ann", loggedIn.Identity.Name)

	current, err := svc.CurrentUser(ctx, registered.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, *registered.Identity, *current)
}

func TestUserService_OAuthLogin(t *testing.T) {
	h := newHasher(t)
	ctx := context.Background()

	t.Run("creates an oauth only account on first login", func(t *testing.T) {
		repo := newFakeUserRepository()
		svc := NewUserService(repo, h, nil, bothGated, nil)

		outcome, err := svc.OAuthLogin(ctx, OAuthProfile{Provider: domain.ProviderGoogle, Email: "g@x.com", EmailVerified: true, Name: "Gee"})
		require.NoError(t, err)
		require.True(t, outcome.OK())
		assert.Equal(t, "Gee", outcome.Identity.Name)

		stored, err := repo.GetByEmail(ctx, "g@x.com")
		require.NoError(t, err)
		assert.False(t, stored.HasPassword())

		again, err := svc.OAuthLogin(ctx, OAuthProfile{Provider: domain.ProviderGoogle, Email: "g@x.com", EmailVerified: true})
		require.NoError(t, err)
		require.True(t, again.OK())
		assert.Equal(t, outcome.Identity.ID, again.Identity.ID)
		assert.Equal(t, 1, repo.count())
	})

	t.Run("does not link to a password account", func(t *testing.T) {
		repo := newFakeUserRepository()
		seedUser(t, repo, h, "ann@example.com", "Secret123!")
		svc := NewUserService(repo, h, nil, bothGated, nil)

		outcome, err := svc.OAuthLogin(ctx, OAuthProfile{Provider: domain.ProviderGoogle, Email: "ann@example.com", EmailVerified: true})
		require.NoError(t, err)
		assert.Equal(t, domain.RejectAccountNotLinked, outcome.Kind())
	})

	t.Run("requires a verified email", func(t *testing.T) {
		repo := newFakeUserRepository()
		svc := NewUserService(repo, h, nil, bothGated, nil)

		outcome, err := svc.OAuthLogin(ctx, OAuthProfile{Provider: domain.ProviderGoogle, Email: "g@x.com"})
		require.NoError(t, err)
		assert.Equal(t, domain.RejectInvalidCredentials, outcome.Kind())
		assert.Zero(t, repo.count())

		outcome, err = svc.OAuthLogin(ctx, OAuthProfile{Provider: domain.ProviderGoogle, EmailVerified: true})
		require.NoError(t, err)
		assert.Equal(t, domain.RejectInvalidInput, outcome.Kind())
	})

	t.Run("store failure", func(t *testing.T) {
		repo := newFakeUserRepository()
		repo.getErr = errStoreDown
		svc := NewUserService(repo, h, nil, bothGated, nil)

		_, err := svc.OAuthLogin(ctx, OAuthProfile{Provider: domain.ProviderGoogle, Email: "g@x.com", EmailVerified: true})
		require.ErrorIs(t, err, errStoreDown)
	})
}
