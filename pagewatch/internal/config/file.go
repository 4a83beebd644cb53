// Package config defines the agent configuration and parses YAML files
// with defaults.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/sage/classifier"
	"github.com/hazyhaar/sage/features"
	"github.com/hazyhaar/sage/overlay"
)

// Config is the top-level agent configuration.
type Config struct {
	Classifier ClassifierConfig `yaml:"classifier"`
	Browser    BrowserConfig    `yaml:"browser"`
	Pages      []string         `yaml:"pages"`
	Settle     SettleConfig     `yaml:"settle"`
	Features   features.Options `yaml:"features"`
	Health     HealthConfig     `yaml:"health"`
	Prefs      PrefsConfig      `yaml:"prefs"`
	Control    ControlConfig    `yaml:"control"`
	Copy       overlay.Copy     `yaml:"copy"`
}

// ClassifierConfig points at the classification service.
type ClassifierConfig struct {
	URL             string        `yaml:"url"`
	PredictTimeout  time.Duration `yaml:"predict_timeout"`
	FeedbackTimeout time.Duration `yaml:"feedback_timeout"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote   string `yaml:"remote"`
	Headless bool   `yaml:"headless"`
	// AttachAll supervises every page target that appears, not only the
	// ones the agent opened.
	AttachAll bool `yaml:"attach_all"`
	// ResourceBlocking applies to one-shot render tabs only.
	ResourceBlocking []string `yaml:"resource_blocking"`
}

// SettleConfig tunes the settle scheduler.
type SettleConfig struct {
	Debounce  time.Duration `yaml:"debounce"`
	MaxSettle time.Duration `yaml:"max_settle"`
}

// HealthConfig tunes the background health poller.
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// PrefsConfig locates the preference database.
type PrefsConfig struct {
	DB            string        `yaml:"db"`
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// ControlConfig configures the local control API.
type ControlConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Classifier.URL == "" {
		c.Classifier.URL = classifier.DefaultBaseURL
	}
	if c.Classifier.PredictTimeout <= 0 {
		c.Classifier.PredictTimeout = 15 * time.Second
	}
	if c.Classifier.FeedbackTimeout <= 0 {
		c.Classifier.FeedbackTimeout = 15 * time.Second
	}
	if c.Settle.Debounce <= 0 {
		c.Settle.Debounce = 750 * time.Millisecond
	}
	if c.Settle.MaxSettle < 0 {
		c.Settle.MaxSettle = 0
	}
	if c.Features.ByteLimit <= 0 {
		c.Features.ByteLimit = features.DefaultByteLimit
	}
	if c.Features.MinTextLength <= 0 {
		c.Features.MinTextLength = features.DefaultMinTextLength
	}
	if c.Features.MinImageSize <= 0 {
		c.Features.MinImageSize = features.DefaultMinImageSize
	}
	if c.Health.Interval <= 0 {
		c.Health.Interval = 15 * time.Second
	}
	if c.Prefs.DB == "" {
		c.Prefs.DB = "sage.db"
	}
	if c.Prefs.WatchInterval <= 0 {
		c.Prefs.WatchInterval = time.Second
	}
	if c.Control.Addr == "" {
		c.Control.Addr = "127.0.0.1:8765"
	}
	c.Copy = c.Copy.Sanitized()
}
