package service

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"authportal/internal/audit"
	"authportal/internal/domain"
	"authportal/internal/repository"
)

// fakeUserRepository is an in-memory repository with error injection.
type fakeUserRepository struct {
	mu        sync.Mutex
	users     map[string]*domain.User
	lookups   int
	getErr    error
	existsErr error
	createErr error
	// hideOnExists makes ExistsByEmail miss, simulating a concurrent insert
	hideOnExists bool
}

func newFakeUserRepository() *fakeUserRepository {
	return &fakeUserRepository{users: make(map[string]*domain.User)}
}

func (f *fakeUserRepository) Create(_ context.Context, u *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.users[u.Email]; ok {
		return repository.ErrEmailTaken
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	stored := *u
	f.users[u.Email] = &stored
	return nil
}

func (f *fakeUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[email]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	if f.hideOnExists {
		return false, nil
	}
	_, ok := f.users[email]
	return ok, nil
}

func (f *fakeUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (f *fakeUserRepository) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

// fakeGate returns a fixed verdict and counts calls.
type fakeGate struct {
	verdict domain.ChallengeVerification
	calls   int
	tokens  []string
}

func acceptingGate() *fakeGate {
	return &fakeGate{verdict: domain.ChallengeVerification{Accepted: true, Score: 0.9}}
}

func rejectingGate(reason domain.ChallengeReason, score float64) *fakeGate {
	return &fakeGate{verdict: domain.ChallengeVerification{Reason: reason, Score: score}}
}

func (g *fakeGate) Verify(_ context.Context, token, _ string) domain.ChallengeVerification {
	g.calls++
	g.tokens = append(g.tokens, token)
	if token == "" {
		return domain.ChallengeVerification{Reason: domain.ChallengeMissingToken}
	}
	return g.verdict
}

type recordingSink struct {
	events []audit.Event
}

func (r *recordingSink) Record(_ context.Context, e audit.Event) {
	r.events = append(r.events, e)
}

var errStoreDown = errors.New("store unreachable")
