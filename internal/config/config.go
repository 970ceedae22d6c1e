package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/menta2k/photocrop/pkg/planner"
	"github.com/menta2k/photocrop/pkg/processing"
	"github.com/menta2k/photocrop/pkg/types"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PHOTOCROP_"

// Config holds the application configuration
type Config struct {
	Planner PlannerConfig `json:"planner"`
	Output  OutputConfig  `json:"output"`
	Focus   FocusConfig   `json:"focus"`
	Log     LogConfig     `json:"log"`
}

// PlannerConfig bounds preview and region decodes
type PlannerConfig struct {
	// MaxTextureSize is the display surface limit, 0 when unknown
	MaxTextureSize   int      `json:"max_texture_size"`
	DefaultCeiling   int      `json:"default_ceiling"`
	HardLimit        int      `json:"hard_limit"`
	MemoryBudget     int64    `json:"memory_budget"`
	SupportedFormats []string `json:"supported_formats"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	DefaultFormat string `json:"default_format"`
	Quality       int    `json:"quality"`
	OutputDir     string `json:"output_dir"`
	Prefix        string `json:"prefix"`
}

// FocusConfig selects the subject focus backend
type FocusConfig struct {
	Backend     string `json:"backend"`
	Provider    string `json:"provider"`
	URL         string `json:"url"`
	Model       string `json:"model"`
	CascadePath string `json:"cascade_path"`
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level      string `json:"level"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Planner: PlannerConfig{
			DefaultCeiling:   planner.DefaultCeiling,
			HardLimit:        planner.HardLimit,
			MemoryBudget:     planner.DefaultMemoryBudget,
			SupportedFormats: []string{"jpeg", "png", "gif", "webp", "bmp", "tiff"},
		},
		Output: OutputConfig{
			DefaultFormat: "jpg",
			Quality:       processing.DefaultQuality,
			OutputDir:     "./output",
			Prefix:        "crop_",
		},
		Focus: FocusConfig{
			Backend:  "none",
			Provider: "ollama",
			URL:      "http://localhost:11434",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 2,
			MaxAgeDays: 28,
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Missing keys keep their
// default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load reads filename when it exists, falls back to defaults otherwise and
// applies environment overrides. A .env file in the working directory is
// loaded first if present.
func Load(filename string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	config := Default()
	if filename != "" {
		if _, err := os.Stat(filename); err == nil {
			loaded, err := LoadFromFile(filename)
			if err != nil {
				return nil, err
			}
			config = loaded
		}
	}

	config.ApplyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overrides fields from PHOTOCROP_* environment variables
func (c *Config) ApplyEnv() {
	c.Planner.MaxTextureSize = getEnvAsInt("MAX_TEXTURE_SIZE", c.Planner.MaxTextureSize)
	c.Planner.DefaultCeiling = getEnvAsInt("DEFAULT_CEILING", c.Planner.DefaultCeiling)
	c.Planner.HardLimit = getEnvAsInt("HARD_LIMIT", c.Planner.HardLimit)
	c.Planner.MemoryBudget = getEnvAsInt64("MEMORY_BUDGET", c.Planner.MemoryBudget)

	c.Output.DefaultFormat = getEnv("OUTPUT_FORMAT", c.Output.DefaultFormat)
	c.Output.Quality = getEnvAsInt("OUTPUT_QUALITY", c.Output.Quality)
	c.Output.OutputDir = getEnv("OUTPUT_DIR", c.Output.OutputDir)
	c.Output.Prefix = getEnv("OUTPUT_PREFIX", c.Output.Prefix)

	c.Focus.Backend = getEnv("FOCUS_BACKEND", c.Focus.Backend)
	c.Focus.Provider = getEnv("FOCUS_PROVIDER", c.Focus.Provider)
	c.Focus.URL = getEnv("FOCUS_URL", c.Focus.URL)
	c.Focus.Model = getEnv("FOCUS_MODEL", c.Focus.Model)
	c.Focus.CascadePath = getEnv("FOCUS_CASCADE", c.Focus.CascadePath)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Planner.MaxTextureSize < 0 {
		return fmt.Errorf("planner.max_texture_size cannot be negative")
	}

	if c.Planner.DefaultCeiling < 1 {
		return fmt.Errorf("planner.default_ceiling must be positive")
	}

	if c.Planner.HardLimit < c.Planner.DefaultCeiling {
		return fmt.Errorf("planner.hard_limit must be at least planner.default_ceiling")
	}

	if c.Planner.MemoryBudget < 0 {
		return fmt.Errorf("planner.memory_budget cannot be negative")
	}

	if len(c.Planner.SupportedFormats) == 0 {
		return fmt.Errorf("planner.supported_formats cannot be empty")
	}

	if _, ok := types.ParseOutputFormat(c.Output.DefaultFormat); !ok {
		return fmt.Errorf("output.default_format %q is not one of jpg, png, webp", c.Output.DefaultFormat)
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	switch strings.ToLower(c.Focus.Backend) {
	case "", "none", "saliency", "smartcrop":
	case "faces":
		if c.Focus.CascadePath == "" {
			return fmt.Errorf("focus.cascade_path is required for the faces backend")
		}
	case "model":
		if c.Focus.Model == "" {
			return fmt.Errorf("focus.model is required for the model backend")
		}
	default:
		return fmt.Errorf("focus.backend %q is not supported", c.Focus.Backend)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not supported", c.Log.Level)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "photocrop", "config.json")
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}
