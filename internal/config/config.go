// Package config loads and validates the ghscript configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alekspetrov/ghscript/internal/github"
	"github.com/alekspetrov/ghscript/internal/logging"
)

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = ".ghscript.yaml"

// Config is the main configuration.
type Config struct {
	Version    string            `yaml:"version"`
	Repository *RepositoryConfig `yaml:"repository"`
	Project    *ProjectConfig    `yaml:"project"`
	Sandbox    *SandboxConfig    `yaml:"sandbox"`
	Cache      *CacheConfig      `yaml:"cache"`
	History    *HistoryConfig    `yaml:"history"`
	Logging    *logging.Config   `yaml:"logging"`
}

// RepositoryConfig identifies the repository scripts operate on and where
// the API token comes from. Token supports ${ENV_VAR} expansion.
type RepositoryConfig struct {
	Owner string `yaml:"owner"`
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
}

// ProjectConfig optionally attaches created issues to a Projects V2 board.
// ID wins over Number, Number over Title.
type ProjectConfig struct {
	ID     string `yaml:"id"`
	Number int    `yaml:"number"`
	Title  string `yaml:"title"`
}

// SandboxConfig holds script execution settings.
type SandboxConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// CacheConfig holds metadata cache settings. An empty MaxAge means a
// persisted snapshot stays valid until a forced refresh.
type CacheConfig struct {
	Dir    string `yaml:"dir"`
	MaxAge string `yaml:"max_age"` // e.g. "72h"; empty = never expires
}

// MaxAgeDuration parses the configured max age. Empty means zero (never
// expires).
func (c *CacheConfig) MaxAgeDuration() (time.Duration, error) {
	if c.MaxAge == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.MaxAge)
	if err != nil {
		return 0, github.NewConfigurationError("invalid cache.max_age %q: %v", c.MaxAge, err)
	}
	return d, nil
}

// HistoryConfig holds execution history settings.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: "1.0",
		Repository: &RepositoryConfig{
			Token: "${GITHUB_TOKEN}",
		},
		Project: &ProjectConfig{},
		Sandbox: &SandboxConfig{
			TimeoutSeconds: 30,
		},
		Cache: &CacheConfig{
			Dir: ".ghscript",
		},
		History: &HistoryConfig{
			Enabled: true,
			Path:    ".ghscript",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads configuration from path, filling unset sections with
// defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.Repository == nil {
		c.Repository = d.Repository
	}
	if c.Project == nil {
		c.Project = d.Project
	}
	if c.Sandbox == nil {
		c.Sandbox = d.Sandbox
	}
	if c.Sandbox.TimeoutSeconds <= 0 {
		c.Sandbox.TimeoutSeconds = d.Sandbox.TimeoutSeconds
	}
	if c.Cache == nil {
		c.Cache = d.Cache
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = d.Cache.Dir
	}
	if c.History == nil {
		c.History = d.History
	}
	if c.History.Path == "" {
		c.History.Path = d.History.Path
	}
	if c.Logging == nil {
		c.Logging = d.Logging
	}
}

// envPattern matches ${VAR} references in the token field.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ResolveToken expands ${ENV_VAR} references in the configured token and
// returns the result. An empty result is a ConfigurationError.
func (c *Config) ResolveToken() (string, error) {
	token := envPattern.ReplaceAllStringFunc(c.Repository.Token, func(m string) string {
		name := envPattern.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})
	token = strings.TrimSpace(token)
	if token == "" {
		return "", github.NewConfigurationError("no API token: set repository.token or the referenced environment variable")
	}
	return token, nil
}

// Validate checks that required fields are present.
func (c *Config) Validate() error {
	if c.Repository == nil || c.Repository.Owner == "" || c.Repository.Name == "" {
		return github.NewConfigurationError("repository.owner and repository.name are required")
	}
	return nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
