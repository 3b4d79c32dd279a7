package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"authportal/internal/captcha"
	"authportal/internal/config"
	apphttp "authportal/internal/http"
	"authportal/internal/oauth"
	"authportal/internal/policy"
	"authportal/internal/service"
	"authportal/internal/session"
)

func serveCmd(logger *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP server (default)",
		Action: serveAction(logger),
	}
}

func serveAction(logger *logrus.Logger) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx := c.Context

		cfg, err := loadConfig(logger)
		if err != nil {
			return err
		}

		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		hasher, err := buildHasher(cfg)
		if err != nil {
			return err
		}

		revocations, closeRevocations, err := buildRevocations(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeRevocations()

		sessions, err := session.NewManager(session.Config{
			Secret:       []byte(cfg.Auth.SessionSecret),
			TTL:          cfg.SessionTTL(),
			Issuer:       cfg.Auth.Issuer,
			CookieName:   cfg.Auth.CookieName,
			CookieSecure: cfg.Auth.CookieSecure,
		}, revocations)
		if err != nil {
			return fmt.Errorf("setup sessions: %w", err)
		}

		sink, closeAudit, err := buildAudit(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeAudit()

		httpClient := &http.Client{Timeout: 30 * time.Second}

		// Typed nils must not leak into the interfaces below.
		var gate service.BotGate
		var checker apphttp.CaptchaChecker
		captchaGate, err := captcha.NewGate(captcha.Config{
			SecretKey: cfg.Captcha.SecretKey,
			VerifyURL: cfg.Captcha.VerifyURL,
			Threshold: cfg.Captcha.Threshold,
			Timeout:   cfg.CaptchaTimeout(),
			CacheTTL:  cfg.CaptchaCacheTTL(),
		}, httpClient, logger)
		switch {
		case err == nil:
			gate, checker = captchaGate, captchaGate
		case errors.Is(err, captcha.ErrMisconfigured):
			logger.Warn("captcha secret key is not set; gated flows will be rejected")
		default:
			return fmt.Errorf("setup captcha: %w", err)
		}

		var google apphttp.GoogleFlow
		googleFlow, err := oauth.NewGoogle(oauth.Config{
			ClientID:     cfg.OAuth.Google.ClientID,
			ClientSecret: cfg.OAuth.Google.ClientSecret,
			RedirectURL:  cfg.OAuth.Google.RedirectURL,
		}, httpClient)
		switch {
		case err == nil:
			google = googleFlow
		case errors.Is(err, oauth.ErrDisabled):
			logger.Info("google sign-in disabled")
		default:
			return fmt.Errorf("setup google oauth: %w", err)
		}

		users := service.NewUserService(store.Users, hasher, gate, service.GateOptions{
			Register: cfg.Captcha.Enforce.Register,
			Login:    cfg.Captcha.Enforce.Login,
		}, sink)

		gin.SetMode(gin.ReleaseMode)
		router := gin.New()
		router.Use(gin.Recovery())
		handler := apphttp.NewHandler(apphttp.Options{
			Users:    users,
			Sessions: sessions,
			Captcha:  checker,
			Google:   google,
			Routes:   routesFromConfig(cfg),
			Audit:    sink,
			Logger:   logger,
		})
		handler.RegisterRoutes(router)

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Infof("listening on %s", cfg.Server.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("http server: %w", err)
			}
		}
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("http shutdown: %v", err)
		}

		logger.Info("bye")
		return nil
	}
}

func routesFromConfig(cfg config.Config) policy.Routes {
	routes := policy.DefaultRoutes()
	if len(cfg.Routes.Protected) > 0 {
		routes.Protected = cfg.Routes.Protected
	}
	if len(cfg.Routes.Auth) > 0 {
		routes.Auth = cfg.Routes.Auth
	}
	if cfg.Routes.LoginPath != "" {
		routes.LoginPath = cfg.Routes.LoginPath
	}
	if cfg.Routes.HomePath != "" {
		routes.HomePath = cfg.Routes.HomePath
	}
	return routes
}
