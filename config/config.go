// Package config provides configuration for the blueprint server and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration.
type Config struct {
	// Listen is the address to listen on (e.g., ":10190").
	Listen string `yaml:"listen"`
	// DataDir is the root for the graph database and clones.
	DataDir string `yaml:"dataDir"`
	// DBPath is the graph database file. Defaults to DataDir/graph.db.
	DBPath string `yaml:"db"`
	// ReposDir holds one clone per remote. Defaults to DataDir/clones.
	ReposDir string `yaml:"repos"`
	// HookSecret is the shared secret for push webhook signatures.
	HookSecret string `yaml:"hookSecret"`
	// GitUsername and GitPassword authenticate fetches over http(s).
	GitUsername string `yaml:"gitUsername"`
	GitPassword string `yaml:"gitPassword"`
	// Workers bounds concurrent commit processing jobs.
	Workers int `yaml:"workers"`
	// HookTimeout is how long a webhook request waits before answering 202.
	HookTimeout time.Duration `yaml:"hookTimeout"`
	// RequestTimeout bounds every HTTP request. It must exceed HookTimeout.
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	// MaxOpenRepos is the number of open clone handles kept in memory.
	MaxOpenRepos int `yaml:"maxOpenRepos"`
	// Ignore lists folder names skipped when walking working trees.
	Ignore []string `yaml:"ignore"`
	// NotebookExt is the extension of notebook files.
	NotebookExt string `yaml:"notebookExt"`
	// Version is the server version string.
	Version string `yaml:"version"`
	// Debug enables debug logging.
	Debug bool `yaml:"debug"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Listen:         ":10190",
		DataDir:        "./data",
		Workers:        4,
		HookTimeout:    10 * time.Second,
		RequestTimeout: 30 * time.Second,
		MaxOpenRepos:   64,
		NotebookExt:    ".ipynb",
		Version:        "0.1.0",
	}
}

// FromEnv creates a Config from environment variables.
func FromEnv() *Config {
	cfg := Defaults()
	cfg.applyEnv()
	cfg.fillPaths()
	return cfg
}

// Load reads the YAML file at path, if given, and then applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.fillPaths()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Listen = getEnv("BLUEPRINT_LISTEN", c.Listen)
	c.DataDir = getEnv("BLUEPRINT_DATA", c.DataDir)
	c.DBPath = getEnv("BLUEPRINT_DB", c.DBPath)
	c.ReposDir = getEnv("BLUEPRINT_REPOS", c.ReposDir)
	c.HookSecret = getEnv("BLUEPRINT_HOOK_SECRET", c.HookSecret)
	c.GitUsername = getEnv("BLUEPRINT_GIT_USERNAME", c.GitUsername)
	c.GitPassword = getEnv("BLUEPRINT_GIT_PASSWORD", c.GitPassword)
	c.Workers = getEnvInt("BLUEPRINT_WORKERS", c.Workers)
	c.HookTimeout = getEnvDuration("BLUEPRINT_HOOK_TIMEOUT", c.HookTimeout)
	c.RequestTimeout = getEnvDuration("BLUEPRINT_REQUEST_TIMEOUT", c.RequestTimeout)
	c.MaxOpenRepos = getEnvInt("BLUEPRINT_MAX_OPEN", c.MaxOpenRepos)
	c.Ignore = getEnvList("BLUEPRINT_IGNORE", c.Ignore)
	c.NotebookExt = getEnv("BLUEPRINT_NOTEBOOK_EXT", c.NotebookExt)
	c.Version = getEnv("BLUEPRINT_VERSION", c.Version)
	c.Debug = getEnvBool("BLUEPRINT_DEBUG", c.Debug)
}

func (c *Config) fillPaths() {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "graph.db")
	}
	if c.ReposDir == "" {
		c.ReposDir = filepath.Join(c.DataDir, "clones")
	}
}

// Validate checks the settings the server cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.HookSecret == "" {
		errs = append(errs, errors.New("hook secret is required (BLUEPRINT_HOOK_SECRET)"))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.HookTimeout <= 0 {
		errs = append(errs, fmt.Errorf("hook timeout must be positive, got %s", c.HookTimeout))
	}
	if c.RequestTimeout <= c.HookTimeout {
		errs = append(errs, fmt.Errorf("request timeout %s must exceed hook timeout %s", c.RequestTimeout, c.HookTimeout))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
