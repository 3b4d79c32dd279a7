// Package oauth runs the Google authorization code flow and resolves the
// signed-in user's profile.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const DefaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

var (
	// ErrDisabled is returned by NewGoogle when no client credentials are configured.
	ErrDisabled = errors.New("google oauth is not configured")
	ErrNoCode   = errors.New("authorization code missing")
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint and UserInfoURL default to Google's.
	Endpoint    oauth2.Endpoint
	UserInfoURL string
}

// UserInfo is the subset of the userinfo document the portal uses.
type UserInfo struct {
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
}

// Attempt carries the values that must round-trip through the browser.
type Attempt struct {
	State    string
	Verifier string
	URL      string
}

type Google struct {
	conf        *oauth2.Config
	userInfoURL string
	client      *http.Client
}

func NewGoogle(cfg Config, client *http.Client) (*Google, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, ErrDisabled
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("google oauth redirect url is required")
	}
	if cfg.Endpoint.AuthURL == "" || cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = endpoints.Google
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = DefaultUserInfoURL
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &Google{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     cfg.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: cfg.UserInfoURL,
		client:      client,
	}, nil
}

// Begin starts a new attempt with a random state and a PKCE verifier.
func (g *Google) Begin() (Attempt, error) {
	state, err := randomState()
	if err != nil {
		return Attempt{}, err
	}
	verifier := oauth2.GenerateVerifier()
	return Attempt{
		State:    state,
		Verifier: verifier,
		URL:      g.conf.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier)),
	}, nil
}

// Complete exchanges code for a token and fetches the user's profile.
func (g *Google) Complete(ctx context.Context, code, verifier string) (*UserInfo, error) {
	if code == "" {
		return nil, ErrNoCode
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)

	token, err := g.conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.conf.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch userinfo: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var info UserInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return &info, nil
}

func randomState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
