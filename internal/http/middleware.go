package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"authportal/internal/domain"
	"authportal/internal/policy"
	"authportal/internal/session"
)

const sessionContextKey = "authportal.session"

func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"ip":      c.ClientIP(),
		})
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("request")
		case status >= http.StatusBadRequest:
			entry.Warn("request")
		default:
			entry.Debug("request")
		}
	}
}

// loadSession resolves the session cookie, if any, and stores the session in
// the request context. Invalid or revoked cookies are cleared.
func (h *Handler) loadSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(h.sessions.CookieName())
		if err != nil || token == "" {
			c.Next()
			return
		}

		s, err := h.sessions.Parse(c.Request.Context(), token)
		switch {
		case err == nil:
			c.Set(sessionContextKey, s)
		case errors.Is(err, session.ErrInvalidSession), errors.Is(err, session.ErrRevoked):
			h.clearSessionCookie(c)
		default:
			// the revocation store is unreachable; treat the request as signed out
			h.logger.WithError(err).Error("session: resolve cookie")
		}
		c.Next()
	}
}

// sessionGate applies the route policy to page requests.
func (h *Handler) sessionGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isAPIPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		decision := h.routes.Decide(c.Request.URL.Path, sessionContext(c).Present)
		if decision == policy.Allow {
			c.Next()
			return
		}

		c.Redirect(http.StatusFound, h.routes.Target(decision))
		c.Abort()
	}
}

func currentSession(c *gin.Context) (*session.Session, bool) {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*session.Session)
	return s, ok && s != nil
}

// sessionContext is the read-only view of the request's session handed to
// the route policy and the pages.
func sessionContext(c *gin.Context) domain.SessionContext {
	s, ok := currentSession(c)
	if !ok {
		return domain.SessionContext{}
	}
	identity := s.Identity
	return domain.SessionContext{Present: true, Identity: &identity}
}

func (h *Handler) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), token, int(h.sessions.TTL().Seconds()), "/", "", h.sessions.CookieSecure(), true)
}

func (h *Handler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), "", -1, "/", "", h.sessions.CookieSecure(), true)
}
