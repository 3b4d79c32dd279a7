package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"authportal/internal/audit"
	"authportal/internal/domain"
	"authportal/internal/repository"
	"authportal/internal/service"
)

const (
	msgInternal           = "internal server error"
	msgInvalidCredentials = "invalid email or password"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Token    string `json:"token"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

type captchaRequest struct {
	Token string `json:"token"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	outcome, err := h.users.Register(c.Request.Context(), service.RegisterRequest{
		Email:          req.Email,
		Password:       req.Password,
		Name:           req.Name,
		ChallengeToken: req.Token,
		RemoteIP:       c.ClientIP(),
	})
	if err != nil {
		h.unexpected(c, "register", err)
		return
	}
	if !outcome.OK() {
		h.reject(c, outcome.Rejection)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user":    outcome.Identity,
		"message": "user registered",
	})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	outcome, err := h.users.Login(c.Request.Context(), service.LoginRequest{
		Email:          req.Email,
		Password:       req.Password,
		ChallengeToken: req.Token,
		RemoteIP:       c.ClientIP(),
	})
	if err != nil {
		h.unexpected(c, "login", err)
		return
	}
	if !outcome.OK() {
		h.reject(c, outcome.Rejection)
		return
	}

	token, _, err := h.sessions.Issue(*outcome.Identity)
	if err != nil {
		h.unexpected(c, "login: issue session", err)
		return
	}
	h.setSessionCookie(c, token)
	c.JSON(http.StatusOK, gin.H{"user": outcome.Identity})
}

func (h *Handler) logout(c *gin.Context) {
	s, ok := currentSession(c)
	if ok {
		if err := h.sessions.Revoke(c.Request.Context(), s); err != nil {
			h.unexpected(c, "logout: revoke session", err)
			return
		}
		h.audit.Record(c.Request.Context(), audit.Event{
			Type:     audit.EventLogout,
			Success:  true,
			UserID:   s.Identity.ID,
			Email:    s.Identity.Email,
			RemoteIP: c.ClientIP(),
			Time:     time.Now().UTC(),
		})
	}
	h.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "signed out"})
}

// getSession answers with the stored account rather than the token claims,
// so a deleted account no longer shows as signed in.
func (h *Handler) getSession(c *gin.Context) {
	s, ok := currentSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
		return
	}

	identity, err := h.users.CurrentUser(c.Request.Context(), s.Identity.ID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			h.clearSessionCookie(c)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
			return
		}
		h.unexpected(c, "session: load user", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":       identity,
		"expires_at": s.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) verifyCaptcha(c *gin.Context) {
	var req captchaRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "captcha token is missing"})
		return
	}
	if h.captcha == nil {
		h.logger.Error("captcha: secret key is not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "server configuration error"})
		return
	}

	v := h.captcha.Precheck(c.Request.Context(), req.Token, c.ClientIP())

	event := audit.Event{
		Type:     audit.EventCaptcha,
		Success:  v.Accepted,
		Reason:   string(v.Reason),
		RemoteIP: c.ClientIP(),
		Time:     time.Now().UTC(),
	}
	if v.Reason != domain.ChallengeProviderError {
		score := v.Score
		event.Score = &score
	}
	h.audit.Record(c.Request.Context(), event)

	switch v.Reason {
	case "":
		c.JSON(http.StatusOK, gin.H{"success": true, "score": v.Score})
	case domain.ChallengeLowScore:
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "security check failed, please try again",
			"score":   v.Score,
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "captcha verification failed"})
	}
}

// unexpected logs an infrastructure failure and answers with a generic 500.
func (h *Handler) unexpected(c *gin.Context, op string, err error) {
	h.logger.WithError(err).Error(op)
	h.reject(c, &domain.Rejection{Kind: domain.RejectUnexpected})
}

// reject writes the response for an expected rejection.
func (h *Handler) reject(c *gin.Context, r *domain.Rejection) {
	if r == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	}
	status, message := rejectionResponse(r)
	body := gin.H{"error": message}
	if r.Kind == domain.RejectBotCheckFailed && r.Detail != "" {
		body["reason"] = r.Detail
	}
	c.JSON(status, body)
}

func rejectionResponse(r *domain.Rejection) (int, string) {
	switch r.Kind {
	case domain.RejectInvalidInput:
		if r.Detail != "" {
			return http.StatusBadRequest, r.Detail
		}
		return http.StatusBadRequest, "email and password are required"
	case domain.RejectBotCheckFailed:
		return http.StatusBadRequest, "bot check failed"
	case domain.RejectDuplicateEmail:
		return http.StatusConflict, "user with this email already exists"
	case domain.RejectInvalidCredentials:
		return http.StatusUnauthorized, msgInvalidCredentials
	case domain.RejectAccountNotLinked:
		return http.StatusUnauthorized, "account is registered with another sign-in method"
	case domain.RejectProviderMisconfigured:
		return http.StatusInternalServerError, "server configuration error"
	case domain.RejectUnexpected:
		return http.StatusInternalServerError, msgInternal
	default:
		return http.StatusInternalServerError, msgInternal
	}
}
