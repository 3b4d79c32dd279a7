package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	app := &cli.App{
		Name:   "authportal",
		Usage:  "Account registration, sign-in and session gated pages",
		Action: serveAction(logger),
		Commands: []*cli.Command{
			serveCmd(logger),
			migrateCmd(logger),
			seedCmd(logger),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Fatalf("authportal: %v", err)
	}
}
