package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"draftline/internal/config"
)

func TestOpenUsesDefaultsWithoutConfig(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(context.Background(), Options{Workspace: dir})
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, config.Default(), a.Config)
	exp, err := a.Engine.CreateExploration(context.Background(), "exp-1", "Fractions", 0, "author")
	require.NoError(t, err)
	require.Equal(t, 1, exp.Version)

	_, err = Open(context.Background(), Options{Workspace: t.TempDir(), RequireConfig: true})
	require.ErrorContains(t, err, "dl init")
}

func TestInitWritesConfigOnce(t *testing.T) {
	dir := t.TempDir()
	path, err := Init(dir, false)
	require.NoError(t, err)
	require.FileExists(t, path)

	_, err = Init(dir, false)
	require.ErrorContains(t, err, "already exists")
	_, err = Init(dir, true)
	require.NoError(t, err)

	var logs bytes.Buffer
	a, err := Open(context.Background(), Options{Workspace: dir, RequireConfig: true, LogLevel: "debug", LogWriter: &logs})
	require.NoError(t, err)
	defer a.Close()
	require.Equal(t, "debug", a.Config.Log.Level)
}

func TestOpenLoadsDotEnvAndRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DRAFTLINE_TEST_ENV=from-dotenv\n"), 0o644))
	t.Setenv("DRAFTLINE_TEST_ENV", "")
	os.Unsetenv("DRAFTLINE_TEST_ENV")
	require.NoError(t, LoadEnv(dir))
	require.Equal(t, "from-dotenv", os.Getenv("DRAFTLINE_TEST_ENV"))
	require.NoError(t, LoadEnv(t.TempDir()))

	require.NoError(t, os.WriteFile(config.Path(dir), []byte("jobs:\n  workers: 0\n"), 0o644))
	_, err := Open(context.Background(), Options{Workspace: dir})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "workers"), err.Error())
}
