package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"authportal/internal/config"
	"authportal/internal/repository/sqlite"
)

func stubPasswords(t *testing.T, answers ...string) {
	t.Helper()
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })
	readPassword = func(int) ([]byte, error) {
		next := answers[0]
		answers = answers[1:]
		return []byte(next), nil
	}
}

func TestPromptPassword(t *testing.T) {
	var out bytes.Buffer

	stubPasswords(t, "Secret123!", "Secret123!")
	pw, err := promptPassword(&out)
	require.NoError(t, err)
	assert.Equal(t, "Secret123!", pw)
	assert.Contains(t, out.String(), "Enter password")

	stubPasswords(t, "Secret123!", "Other")
	_, err = promptPassword(&out)
	assert.Error(t, err)

	stubPasswords(t, "", "")
	_, err = promptPassword(&out)
	assert.Error(t, err)
}

func TestSeedCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	dbPath := filepath.Join(dir, "seed.db")
	t.Setenv("AUTHPORTAL_AUTH_SESSIONSECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("AUTHPORTAL_DATABASE_PATH", dbPath)
	t.Setenv("AUTHPORTAL_AUTH_PASSWORD_BCRYPTCOST", "4")
	stubPasswords(t, "Secret123!", "Secret123!")

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	app := &cli.App{
		Name:     "authportal",
		Writer:   io.Discard,
		Commands: []*cli.Command{seedCmd(logger)},
	}

	require.NoError(t, app.Run([]string{"authportal", "seed", "--email", "admin@x.com", "--name", "Admin"}))

	db, err := sqlite.Open(context.Background(), dbPath)
	require.NoError(t, err)
	defer db.Close()
	user, err := sqlite.NewUserRepository(db).GetByEmail(context.Background(), "admin@x.com")
	require.NoError(t, err)
	assert.Equal(t, "Admin", user.DisplayName)
	assert.True(t, user.HasPassword())

	// a second seed of the same email fails
	stubPasswords(t, "Secret123!", "Secret123!")
	assert.Error(t, app.Run([]string{"authportal", "seed", "--email", "admin@x.com"}))
}

func TestRoutesFromConfig(t *testing.T) {
	var cfg config.Config
	routes := routesFromConfig(cfg)
	assert.Equal(t, "/login", routes.LoginPath)
	assert.Equal(t, []string{"/dashboard", "/video", "/profile"}, routes.Protected)

	cfg.Routes.Protected = []string{"/admin"}
	cfg.Routes.HomePath = "/admin"
	routes = routesFromConfig(cfg)
	assert.Equal(t, []string{"/admin"}, routes.Protected)
	assert.Equal(t, "/admin", routes.HomePath)
}
