package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/steinfletcher/apitest"

	"authportal/internal/oauth"
)

type fakeGoogle struct {
	info *oauth.UserInfo
	err  error
}

func (f *fakeGoogle) Begin() (oauth.Attempt, error) {
	return oauth.Attempt{State: "state-1", Verifier: "verifier-1", URL: "https://accounts.example.com/auth?state=state-1"}, nil
}

func (f *fakeGoogle) Complete(_ context.Context, code, verifier string) (*oauth.UserInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	if code != "code-1" || verifier != "verifier-1" {
		return nil, errors.New("bad code")
	}
	return f.info, nil
}

func callback(env *testEnv, t *testing.T, query string) *apitest.Response {
	params, err := url.ParseQuery(query)
	if err != nil {
		t.Fatalf("parse query %q: %v", query, err)
	}
	return apitest.New().
		Handler(env.router).
		Get("/api/auth/google/callback").
		QueryCollection(params).
		Cookie(oauthStateCookie, "state-1").
		Cookie(oauthVerifierCookie, "verifier-1").
		Expect(t)
}

func TestGoogle_Disabled(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/auth/google", "/api/auth/google/callback"} {
		apitest.New().
			Handler(env.router).
			Get(path).
			Expect(t).
			Status(http.StatusNotFound).
			End()
	}
}

func TestGoogle_Start(t *testing.T) {
	env := newTestEnv(t, withGoogle(&fakeGoogle{}))
	apitest.New().
		Handler(env.router).
		Get("/api/auth/google").
		Expect(t).
		Status(http.StatusFound).
		Header("Location", "https://accounts.example.com/auth?state=state-1").
		CookiePresent(oauthStateCookie).
		CookiePresent(oauthVerifierCookie).
		End()
}

func TestGoogle_CallbackCreatesSession(t *testing.T) {
	env := newTestEnv(t, withGoogle(&fakeGoogle{
		info: &oauth.UserInfo{Email: "g@x.com", VerifiedEmail: true, Name: "Gee"},
	}))

	res := callback(env, t, "state=state-1&code=code-1").
		Status(http.StatusFound).
		Header("Location", "/dashboard").
		CookiePresent(cookieName).
		End()
	token := sessionCookie(t, res.Response)

	apitest.New().
		Handler(env.router).
		Get("/profile").
		Cookie(cookieName, token).
		Expect(t).
		Status(http.StatusOK).
		End()
}

func TestGoogle_CallbackRejections(t *testing.T) {
	tests := []struct {
		name         string
		google       *fakeGoogle
		query        string
		wantStatus   int
		wantLocation string
	}{
		{
			name:       "state mismatch",
			google:     &fakeGoogle{info: &oauth.UserInfo{Email: "g@x.com", VerifiedEmail: true}},
			query:      "state=forged&code=code-1",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:         "provider denied",
			google:       &fakeGoogle{},
			query:        "error=access_denied&state=state-1",
			wantStatus:   http.StatusFound,
			wantLocation: "/login?error=oauth_denied",
		},
		{
			name:       "exchange failure",
			google:     &fakeGoogle{err: errors.New("token endpoint down")},
			query:      "state=state-1&code=code-1",
			wantStatus: http.StatusBadGateway,
		},
		{
			name:         "unverified email",
			google:       &fakeGoogle{info: &oauth.UserInfo{Email: "g@x.com"}},
			query:        "state=state-1&code=code-1",
			wantStatus:   http.StatusFound,
			wantLocation: "/login?error=invalid_credentials",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, withGoogle(tt.google))
			check := callback(env, t, tt.query).
				Status(tt.wantStatus).
				CookieNotPresent(cookieName)
			if tt.wantLocation != "" {
				check = check.Header("Location", tt.wantLocation)
			}
			check.End()
		})
	}
}

func TestGoogle_CallbackDoesNotLinkPasswordAccount(t *testing.T) {
	env := newTestEnv(t, withGoogle(&fakeGoogle{
		info: &oauth.UserInfo{Email: "ann@x.com", VerifiedEmail: true},
	}))
	env.signIn(t, "ann@x.com", "Secret123!")

	callback(env, t, "state=state-1&code=code-1").
		Status(http.StatusFound).
		Header("Location", "/login?error=account_not_linked").
		End()
}
