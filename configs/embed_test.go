package configs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ragcore/internal/config"
)

func TestProjectConfigTemplate_LoadsAsDefaults(t *testing.T) {
	// Given: the template written as a project config
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectConfigFileName), []byte(ProjectConfigTemplate), 0o644))

	// When: loading configuration for the project
	cfg, err := config.Load(dir)

	// Then: it validates and matches the built-in defaults it documents
	require.NoError(t, err)
	defaults := config.NewConfig()
	assert.Equal(t, defaults.Ingest.ChunkSize, cfg.Ingest.ChunkSize)
	assert.Equal(t, defaults.Ingest.ChunkOverlap, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, defaults.Ingest.Include, cfg.Ingest.Include)
	assert.Equal(t, defaults.Ingest.Exclude, cfg.Ingest.Exclude)
	assert.Equal(t, defaults.Search.Alpha, cfg.Search.Alpha)
	assert.Equal(t, defaults.Generation.Provider, cfg.Generation.Provider)
	assert.Equal(t, filepath.Join(dir, ".ragcore"), cfg.Store.DataDir)
}
