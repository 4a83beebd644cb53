package pagewatch

import (
	"github.com/hazyhaar/sage/pagewatch/internal/config"
)

// Config is the top-level agent configuration. Re-exported from internal.
type Config = config.Config

// ClassifierConfig points at the classification service.
type ClassifierConfig = config.ClassifierConfig

// BrowserConfig controls Chrome.
type BrowserConfig = config.BrowserConfig

// SettleConfig tunes the settle scheduler.
type SettleConfig = config.SettleConfig

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}
