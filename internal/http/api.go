package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"authportal/internal/audit"
	"authportal/internal/domain"
	"authportal/internal/oauth"
	"authportal/internal/policy"
	"authportal/internal/service"
	"authportal/internal/session"
)

// CaptchaChecker backs the standalone captcha pre-check endpoint.
type CaptchaChecker interface {
	Precheck(ctx context.Context, token, remoteIP string) domain.ChallengeVerification
}

// GoogleFlow is the provider half of the Google sign-in flow.
type GoogleFlow interface {
	Begin() (oauth.Attempt, error)
	Complete(ctx context.Context, code, verifier string) (*oauth.UserInfo, error)
}

// Options holds the handler's collaborators. Captcha and Google may be nil
// when the corresponding provider is not configured.
type Options struct {
	Users    service.UserService
	Sessions *session.Manager
	Captcha  CaptchaChecker
	Google   GoogleFlow
	Routes   policy.Routes
	Audit    audit.Sink
	Logger   logrus.FieldLogger
}

// Handler wires HTTP routes to the account flows.
type Handler struct {
	users    service.UserService
	sessions *session.Manager
	captcha  CaptchaChecker
	google   GoogleFlow
	routes   policy.Routes
	audit    audit.Sink
	logger   logrus.FieldLogger
}

func NewHandler(opts Options) *Handler {
	if opts.Audit == nil {
		opts.Audit = audit.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Handler{
		users:    opts.Users,
		sessions: opts.Sessions,
		captcha:  opts.Captcha,
		google:   opts.Google,
		routes:   opts.Routes,
		audit:    opts.Audit,
		logger:   opts.Logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestLogger(h.logger))
	router.Use(corsMiddleware())
	router.Use(h.loadSession())

	api := router.Group("/api")
	{
		api.POST("/register", h.register)
		api.POST("/login", h.login)
		api.POST("/logout", h.logout)
		api.GET("/session", h.getSession)
		api.POST("/verify-captcha", h.verifyCaptcha)
		api.GET("/auth/google", h.googleStart)
		api.GET("/auth/google/callback", h.googleCallback)
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
	}

	// forms posting back to their own page path get the same gate as the page
	router.POST("/register", h.sessionGate(), h.register)
	router.POST("/verify-captcha", h.sessionGate(), h.verifyCaptcha)

	pages := router.Group("/", h.sessionGate())
	{
		pages.GET("/", h.page("home"))
		pages.GET("/login", h.page("login"))
		pages.GET("/register", h.page("register"))
		pages.GET("/dashboard", h.page("dashboard"))
		pages.GET("/profile", h.page("profile"))
		pages.GET("/video", h.page("video"))
	}
	router.NoRoute(h.sessionGate(), func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func isAPIPath(p string) bool {
	return p == "/api" || strings.HasPrefix(p, "/api/")
}
