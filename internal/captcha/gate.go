// Package captcha redeems client challenge tokens against a siteverify-style
// oracle (reCAPTCHA v3 compatible) and turns the returned score into an
// accept/reject verdict.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"authportal/internal/domain"
)

const (
	DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"
	DefaultThreshold = 0.5
	DefaultTimeout   = 5 * time.Second
	DefaultCacheTTL  = 2 * time.Minute

	maxResponseBytes = 64 << 10
)

// ErrMisconfigured is returned when the gate has no secret key.
var ErrMisconfigured = errors.New("captcha secret key is not configured")

type Config struct {
	SecretKey string
	VerifyURL string
	Threshold float64
	Timeout   time.Duration
	CacheTTL  time.Duration
}

// Gate verifies challenge tokens. It fails closed: any doubt about the
// provider's answer is a rejection.
type Gate struct {
	secret    string
	verifyURL string
	threshold float64
	timeout   time.Duration
	client    *http.Client
	verdicts  *verdictCache
	logger    logrus.FieldLogger
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score"`
	Action     string   `json:"action"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

func NewGate(cfg Config, client *http.Client, logger logrus.FieldLogger) (*Gate, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, ErrMisconfigured
	}
	if cfg.VerifyURL == "" {
		cfg.VerifyURL = DefaultVerifyURL
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("captcha threshold must be within [0, 1], got %v", cfg.Threshold)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	verdicts, err := newVerdictCache(cfg.CacheTTL)
	if err != nil {
		return nil, err
	}

	return &Gate{
		secret:    strings.TrimSpace(cfg.SecretKey),
		verifyURL: cfg.VerifyURL,
		threshold: cfg.Threshold,
		timeout:   cfg.Timeout,
		client:    client,
		verdicts:  verdicts,
		logger:    logger,
	}, nil
}

func (g *Gate) Threshold() float64 {
	return g.threshold
}

// Verify returns the verdict for token. A verdict stored by Precheck for the
// same token is consumed instead of redeeming the token a second time.
func (g *Gate) Verify(ctx context.Context, token, remoteIP string) domain.ChallengeVerification {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.ChallengeVerification{Reason: domain.ChallengeMissingToken}
	}
	if score, ok := g.verdicts.consume(token); ok {
		return domain.ChallengeVerification{Accepted: true, Score: score}
	}
	return g.redeem(ctx, token, remoteIP)
}

// Precheck redeems token and remembers an accepted verdict so that the
// following Verify of the same token succeeds without another provider call.
func (g *Gate) Precheck(ctx context.Context, token, remoteIP string) domain.ChallengeVerification {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.ChallengeVerification{Reason: domain.ChallengeMissingToken}
	}
	v := g.redeem(ctx, token, remoteIP)
	if v.Accepted {
		if err := g.verdicts.store(token, v.Score); err != nil {
			g.logger.WithError(err).Warn("captcha: store verdict")
		}
	}
	return v
}

func (g *Gate) redeem(ctx context.Context, token, remoteIP string) domain.ChallengeVerification {
	resp, err := g.call(ctx, token, remoteIP)
	if err != nil {
		g.logger.WithError(err).Error("captcha: provider call failed")
		return domain.ChallengeVerification{Reason: domain.ChallengeProviderError}
	}

	if !resp.Success {
		g.logger.WithField("error_codes", resp.ErrorCodes).Warn("captcha: challenge failed")
		return domain.ChallengeVerification{
			Reason:     domain.ChallengeFailed,
			ErrorCodes: resp.ErrorCodes,
		}
	}

	var score float64
	if resp.Score != nil {
		score = *resp.Score
	}
	if score < 0 || score > 1 {
		g.logger.WithField("score", score).Error("captcha: provider returned out of range score")
		return domain.ChallengeVerification{Reason: domain.ChallengeProviderError}
	}

	if score < g.threshold {
		g.logger.WithFields(logrus.Fields{
			"score":     score,
			"threshold": g.threshold,
			"action":    resp.Action,
		}).Warn("captcha: low score, possibly a bot")
		return domain.ChallengeVerification{Score: score, Reason: domain.ChallengeLowScore}
	}

	return domain.ChallengeVerification{Accepted: true, Score: score}
}

func (g *Gate) call(ctx context.Context, token, remoteIP string) (*siteverifyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("secret", g.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("siteverify request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("siteverify status %d", res.StatusCode)
	}

	var out siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode siteverify response: %w", err)
	}
	return &out, nil
}
