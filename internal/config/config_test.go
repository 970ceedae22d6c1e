package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2048, cfg.Planner.DefaultCeiling)
	assert.Equal(t, 4096, cfg.Planner.HardLimit)
	assert.Equal(t, 90, cfg.Output.Quality)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Output.DefaultFormat = "webp"
	cfg.Focus.Backend = "smartcrop"
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadFromFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"output":{"quality":70}}`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 70, cfg.Output.Quality)
	assert.Equal(t, "jpg", cfg.Output.DefaultFormat)
	assert.Equal(t, 2048, cfg.Planner.DefaultCeiling)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadAppliesEnv(t *testing.T) {
	t.Setenv("PHOTOCROP_MAX_TEXTURE_SIZE", "1024")
	t.Setenv("PHOTOCROP_OUTPUT_FORMAT", "png")
	t.Setenv("PHOTOCROP_MEMORY_BUDGET", "1048576")
	t.Setenv("PHOTOCROP_FOCUS_BACKEND", "saliency")
	t.Setenv("PHOTOCROP_OUTPUT_QUALITY", "not-a-number")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Planner.MaxTextureSize)
	assert.Equal(t, "png", cfg.Output.DefaultFormat)
	assert.Equal(t, int64(1<<20), cfg.Planner.MemoryBudget)
	assert.Equal(t, "saliency", cfg.Focus.Backend)
	assert.Equal(t, 90, cfg.Output.Quality, "unparsable numbers are ignored")
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Setenv("PHOTOCROP_FOCUS_BACKEND", "faces")

	_, err := Load("")
	assert.ErrorContains(t, err, "cascade_path")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative texture size", func(c *Config) { c.Planner.MaxTextureSize = -1 }},
		{"zero ceiling", func(c *Config) { c.Planner.DefaultCeiling = 0 }},
		{"hard limit below ceiling", func(c *Config) { c.Planner.HardLimit = 1024 }},
		{"negative budget", func(c *Config) { c.Planner.MemoryBudget = -5 }},
		{"no formats", func(c *Config) { c.Planner.SupportedFormats = nil }},
		{"bad output format", func(c *Config) { c.Output.DefaultFormat = "gif" }},
		{"quality too high", func(c *Config) { c.Output.Quality = 101 }},
		{"unknown backend", func(c *Config) { c.Focus.Backend = "psychic" }},
		{"model without name", func(c *Config) { c.Focus.Backend = "model" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	assert.Equal(t, "config.json", filepath.Base(GetConfigPath()))
}
