// Package config loads channel-search settings from a YAML file, an optional
// .env file and CHANNEL_SEARCH_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file
const (
	EnvToken     = "CHANNEL_SEARCH_TOKEN"
	EnvSourceURL = "CHANNEL_SEARCH_SOURCE_URL"
	EnvDataDir   = "CHANNEL_SEARCH_DATA_DIR"
	EnvLogLevel  = "CHANNEL_SEARCH_LOG_LEVEL"
)

// DatabaseFile is the SQLite file name inside DataDir
const DatabaseFile = "channels.db"

// Config is the top-level configuration
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Source    SourceConfig    `yaml:"source"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Search    SearchConfig    `yaml:"search"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// SourceConfig points at the channel gateway
type SourceConfig struct {
	URL               string        `yaml:"url"`
	Token             string        `yaml:"token"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	PageSize          int           `yaml:"page_size"`
}

// IndexerConfig tunes a single channel ingestion
type IndexerConfig struct {
	DefaultLimit  int           `yaml:"default_limit"`
	ThrottleEvery int           `yaml:"throttle_every"`
	ThrottlePause time.Duration `yaml:"throttle_pause"`
}

// SchedulerConfig tunes multi-channel runs
type SchedulerConfig struct {
	Interval      time.Duration `yaml:"interval"`
	BackfillPause time.Duration `yaml:"backfill_pause"`
	UpdatePause   time.Duration `yaml:"update_pause"`
	ErrorBackoff  time.Duration `yaml:"error_backoff"`
	UpdateLimit   int           `yaml:"update_limit"`
	UpdateWindow  time.Duration `yaml:"update_window"`
}

// SearchConfig bounds result sizes
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// ServerConfig is the HTTP API listen address
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LogConfig selects level and format
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the settings used when nothing is configured
func Default() *Config {
	return &Config{
		DataDir: "./data",
		Source: SourceConfig{
			Timeout:           30 * time.Second,
			RequestsPerSecond: 1,
			PageSize:          100,
		},
		Indexer: IndexerConfig{
			DefaultLimit:  1000,
			ThrottleEvery: 100,
			ThrottlePause: time.Second,
		},
		Scheduler: SchedulerConfig{
			Interval:      6 * time.Hour,
			BackfillPause: 3 * time.Second,
			UpdatePause:   5 * time.Second,
			ErrorBackoff:  time.Minute,
			UpdateLimit:   500,
			UpdateWindow:  7 * 24 * time.Hour,
		},
		Search: SearchConfig{
			DefaultLimit: 50,
			MaxLimit:     100,
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 6893,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. An empty path skips the YAML file; a
// missing env file is ignored. With no envFiles, ".env" is tried.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvToken); v != "" {
		c.Source.Token = v
	}
	if v := os.Getenv(EnvSourceURL); v != "" {
		c.Source.URL = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.DataDir) == "" {
		problems = append(problems, "data_dir is required")
	}
	if c.Source.URL != "" {
		if u, err := url.Parse(c.Source.URL); err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, fmt.Sprintf("source.url %q is not an absolute URL", c.Source.URL))
		}
	}
	if c.Source.RequestsPerSecond < 0 {
		problems = append(problems, "source.requests_per_second must not be negative")
	}
	if c.Indexer.ThrottleEvery < 0 {
		problems = append(problems, "indexer.throttle_every must not be negative")
	}
	if c.Scheduler.Interval <= 0 {
		problems = append(problems, "scheduler.interval must be positive")
	}
	if c.Scheduler.UpdateWindow <= 0 {
		problems = append(problems, "scheduler.update_window must be positive")
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxLimit <= 0 {
		problems = append(problems, "search limits must be positive")
	} else if c.Search.DefaultLimit > c.Search.MaxLimit {
		problems = append(problems, "search.default_limit exceeds search.max_limit")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DBPath is the SQLite database location
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, DatabaseFile)
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// RequireSource fails when no gateway URL is configured
func (c *Config) RequireSource() error {
	if c.Source.URL == "" {
		return fmt.Errorf("source url is not configured (set source.url or %s)", EnvSourceURL)
	}
	return nil
}
