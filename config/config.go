// Package config loads the backend's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// CouchDB holds connection settings for the document database.
type CouchDB struct {
	URL      string        `yaml:"url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Config is the top-level configuration.
type Config struct {
	CouchDB  CouchDB `yaml:"couchdb"`
	DataDir  string  `yaml:"dataDir"`
	LogLevel string  `yaml:"logLevel"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		CouchDB:  CouchDB{URL: "http://localhost:5984", Timeout: 30 * time.Second},
		DataDir:  "./data",
		LogLevel: "info",
	}
}

// Load reads path and fills unset fields with defaults. A missing file
// yields the defaults without error.
func Load(path string) (*Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	def := Default()
	if cfg.CouchDB.URL == "" {
		cfg.CouchDB.URL = def.CouchDB.URL
	}
	if cfg.CouchDB.Timeout == 0 {
		cfg.CouchDB.Timeout = def.CouchDB.Timeout
	}
	if cfg.DataDir == "" {
		cfg.DataDir = def.DataDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	return cfg, nil
}

// Logger builds a zap logger at the configured level.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("config: log level %q: %w", c.LogLevel, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = level
	log, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("config: logger: %w", err)
	}
	return log, nil
}
