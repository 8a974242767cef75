package common

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Compiler CompilerConfig `yaml:"compiler"`
	Render   RenderConfig   `yaml:"render"`
	Run      RunConfig      `yaml:"run"`
	Ledger   LedgerConfig   `yaml:"ledger"`
}

// CompilerConfig holds external compiler configuration
type CompilerConfig struct {
	Primary       string        `yaml:"primary"`
	PrimaryArgs   []string      `yaml:"primary_args"`
	Auxiliary     string        `yaml:"auxiliary"`
	AuxiliaryArgs []string      `yaml:"auxiliary_args"`
	PassTimeout   time.Duration `yaml:"pass_timeout"`
}

// RenderConfig holds template rendering configuration
type RenderConfig struct {
	// Strict fails a job when the template references a field the table lacks.
	// The default leaves such references in the output untouched.
	Strict bool `yaml:"strict"`
}

// RunConfig holds batch run configuration
type RunConfig struct {
	WorkDir     string `yaml:"work_dir"`
	LogDir      string `yaml:"log_dir"`
	RetainTemps bool   `yaml:"retain_temps"`
	LogOutput   bool   `yaml:"log_output"`
	Warn        bool   `yaml:"warn"`
}

// LedgerConfig holds job ledger configuration
type LedgerConfig struct {
	DSN string `yaml:"dsn"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Compiler: CompilerConfig{
			Primary:     "pdflatex",
			PrimaryArgs: []string{"-shell-escape", "-synctex=1", "-interaction=nonstopmode"},
			Auxiliary:   "pythontex",
			PassTimeout: 10 * time.Minute,
		},
		Run: RunConfig{
			WorkDir: ".",
			Warn:    true,
		},
	}
}

// LoadConfig loads configuration from defaults, an optional YAML file and
// environment variables, in that order.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return InputLoadErrorf("config file %s not found", path)
		}
		return InputLoadError("read config", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return InputLoadError(fmt.Sprintf("parse config %s", path), err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Compiler.Primary = getEnv("DOCBATCH_COMPILER", c.Compiler.Primary)
	c.Compiler.PrimaryArgs = getEnvAsFields("DOCBATCH_COMPILER_ARGS", c.Compiler.PrimaryArgs)
	c.Compiler.Auxiliary = getEnv("DOCBATCH_AUX_COMPILER", c.Compiler.Auxiliary)
	c.Compiler.AuxiliaryArgs = getEnvAsFields("DOCBATCH_AUX_ARGS", c.Compiler.AuxiliaryArgs)
	c.Compiler.PassTimeout = getEnvAsDuration("DOCBATCH_PASS_TIMEOUT", c.Compiler.PassTimeout)
	c.Run.WorkDir = getEnv("DOCBATCH_WORK_DIR", c.Run.WorkDir)
	c.Run.LogDir = getEnv("DOCBATCH_LOG_DIR", c.Run.LogDir)
	c.Ledger.DSN = getEnv("DOCBATCH_LEDGER_DSN", c.Ledger.DSN)
	c.Render.Strict = getEnvAsBool("DOCBATCH_STRICT", c.Render.Strict)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsFields(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Fields(value)
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Compiler.Primary) == "" {
		return InvalidArgumentError("compiler.primary is required")
	}
	if c.Compiler.PassTimeout < 0 {
		return InvalidArgumentErrorf("compiler.pass_timeout must not be negative, got %s", c.Compiler.PassTimeout)
	}
	if strings.TrimSpace(c.Run.WorkDir) == "" {
		return InvalidArgumentError("run.work_dir is required")
	}
	return nil
}
