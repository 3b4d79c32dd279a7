package http

import (
	"crypto/subtle"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"authportal/internal/domain"
	"authportal/internal/service"
)

const (
	oauthStateCookie    = "authportal_oauth_state"
	oauthVerifierCookie = "authportal_oauth_verifier"
	oauthCookiePath     = "/api/auth/google"
	oauthCookieMaxAge   = 600
)

func (h *Handler) googleStart(c *gin.Context) {
	if h.google == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "google sign-in is not enabled"})
		return
	}

	attempt, err := h.google.Begin()
	if err != nil {
		h.unexpected(c, "oauth: begin", err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, attempt.State, oauthCookieMaxAge, oauthCookiePath, "", h.sessions.CookieSecure(), true)
	c.SetCookie(oauthVerifierCookie, attempt.Verifier, oauthCookieMaxAge, oauthCookiePath, "", h.sessions.CookieSecure(), true)
	c.Redirect(http.StatusFound, attempt.URL)
}

func (h *Handler) googleCallback(c *gin.Context) {
	if h.google == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "google sign-in is not enabled"})
		return
	}

	state, _ := c.Cookie(oauthStateCookie)
	verifier, _ := c.Cookie(oauthVerifierCookie)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, "", -1, oauthCookiePath, "", h.sessions.CookieSecure(), true)
	c.SetCookie(oauthVerifierCookie, "", -1, oauthCookiePath, "", h.sessions.CookieSecure(), true)

	if providerErr := c.Query("error"); providerErr != "" {
		h.logger.WithField("error", providerErr).Warn("oauth: provider denied authorization")
		h.redirectToLogin(c, "oauth_denied")
		return
	}

	queryState := c.Query("state")
	if state == "" || queryState == "" || subtle.ConstantTimeCompare([]byte(state), []byte(queryState)) != 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid oauth state"})
		return
	}

	info, err := h.google.Complete(c.Request.Context(), c.Query("code"), verifier)
	if err != nil {
		h.logger.WithError(err).Error("oauth: complete")
		c.JSON(http.StatusBadGateway, gin.H{"error": "google sign-in failed"})
		return
	}

	outcome, err := h.users.OAuthLogin(c.Request.Context(), service.OAuthProfile{
		Provider:      domain.ProviderGoogle,
		Email:         info.Email,
		EmailVerified: info.VerifiedEmail,
		Name:          info.Name,
		RemoteIP:      c.ClientIP(),
	})
	if err != nil {
		h.unexpected(c, "oauth: sign in", err)
		return
	}
	if !outcome.OK() {
		h.redirectToLogin(c, string(outcome.Kind()))
		return
	}

	token, _, err := h.sessions.Issue(*outcome.Identity)
	if err != nil {
		h.unexpected(c, "oauth: issue session", err)
		return
	}
	h.setSessionCookie(c, token)
	c.Redirect(http.StatusFound, h.routes.HomePath)
}

func (h *Handler) redirectToLogin(c *gin.Context, reason string) {
	c.Redirect(http.StatusFound, h.routes.LoginPath+"?"+url.Values{"error": {reason}}.Encode())
}
