package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"authportal/internal/domain"
	"authportal/internal/repository"
)

// readPassword is replaced in tests.
var readPassword = term.ReadPassword

func migrateCmd(logger *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations and exit",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(logger)
			if err != nil {
				return err
			}
			store, err := openStore(c.Context, cfg)
			if err != nil {
				return err
			}
			store.Close()
			logger.Infof("%s database is up to date", cfg.Database.Driver)
			return nil
		},
	}
}

func seedCmd(logger *logrus.Logger) *cli.Command {
	var email, name, plaintext string
	return &cli.Command{
		Name:  "seed",
		Usage: "Create a credentials user (password is prompted for when not given)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "email",
				Aliases:     []string{"e"},
				Usage:       "Email of the user to create",
				Destination: &email,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "name",
				Aliases:     []string{"n"},
				Usage:       "Display name",
				Destination: &name,
			},
			&cli.StringFlag{
				Name:        "password",
				Usage:       "Password (prefer the interactive prompt)",
				Destination: &plaintext,
				EnvVars:     []string{"AUTHPORTAL_SEED_PASSWORD"},
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(logger)
			if err != nil {
				return err
			}

			if plaintext == "" {
				pw, err := promptPassword(c.App.Writer)
				if err != nil {
					return err
				}
				plaintext = pw
			}

			hasher, err := buildHasher(cfg)
			if err != nil {
				return err
			}
			hash, err := hasher.Hash(plaintext)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}

			store, err := openStore(c.Context, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			user := &domain.User{
				Email:        strings.TrimSpace(email),
				DisplayName:  strings.TrimSpace(name),
				PasswordHash: hash,
				Provider:     domain.ProviderCredentials,
			}
			if err := store.Users.Create(c.Context, user); err != nil {
				if errors.Is(err, repository.ErrEmailTaken) {
					return fmt.Errorf("user %s already exists", user.Email)
				}
				return fmt.Errorf("create user: %w", err)
			}

			logger.WithField("user_id", user.ID).Infof("created user %s", user.Email)
			return nil
		},
	}
}

func promptPassword(w io.Writer) (string, error) {
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprint(w, "Enter password: ")
	first, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	fmt.Fprint(w, "Repeat password: ")
	second, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	if len(first) == 0 {
		return "", errors.New("password must not be empty")
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
