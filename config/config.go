// Package config loads the pageshot YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pageshot/bot"
	"github.com/hazyhaar/pageshot/browser"
	"github.com/hazyhaar/pageshot/capture"
	"github.com/hazyhaar/pageshot/httpapi"
)

// Config is the whole application configuration. Every section has working
// defaults; an empty file is a valid config.
type Config struct {
	// PoolSize is the number of browser pages held concurrently. Default: 3.
	PoolSize int `yaml:"pool_size"`
	// DataDir is where the artifact store keeps its index and payloads.
	// Default: "data".
	DataDir string `yaml:"data_dir"`
	// EventsRetentionDays prunes business events older than this on
	// startup. 0 disables pruning.
	EventsRetentionDays int `yaml:"events_retention_days"`

	Browser browser.Config         `yaml:"browser"`
	Service capture.ServiceConfig  `yaml:"service"`
	API     httpapi.Config         `yaml:"api"`
	Bot     bot.Config             `yaml:"bot"`
	Monitor MonitorConfig          `yaml:"monitor"`
}

// MonitorConfig drives the daemon snapshot schedule.
type MonitorConfig struct {
	// Subjects are the URLs watched in daemon mode.
	Subjects []SubjectConfig `yaml:"subjects"`
	// DefaultInterval applies to subjects without their own. Default: 1h.
	DefaultInterval time.Duration `yaml:"default_interval"`
}

// SubjectConfig is one monitored URL.
type SubjectConfig struct {
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
}

func (c *Config) defaults() {
	if c.PoolSize < 1 {
		c.PoolSize = 3
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Monitor.DefaultInterval <= 0 {
		c.Monitor.DefaultInterval = time.Hour
	}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var c Config
	c.defaults()
	return &c
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.defaults()
	return &c, nil
}
