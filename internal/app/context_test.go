package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bountyline/internal/app"
	"bountyline/internal/config"
)

func TestOpenWithoutConfigUsesDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "grants")
	ws, err := app.Open(app.Options{Workspace: dir})
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, "grants", ws.Config.Project.ID)
	bounties, err := ws.Engine.ListBounties(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, bounties)

	store, err := ws.Archive()
	require.NoError(t, err)
	again, err := ws.Archive()
	require.NoError(t, err)
	assert.Same(t, store, again)
	assert.FileExists(t, filepath.Join(dir, ".bountyline", "archive.db"))
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(dir), []byte(config.GenerateDefault("council-grants")), 0o644))

	ws, err := app.Open(app.Options{Workspace: dir})
	require.NoError(t, err)
	defer ws.Close()
	assert.Equal(t, "council-grants", ws.Config.Project.ID)

	_, err = app.Open(app.Options{Workspace: dir, ConfigPath: filepath.Join(dir, "missing.yml")})
	require.Error(t, err)
}
