package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultFeedURL      = "https://releases.perchlabs.io/latest/manifest.json"
	defaultFeedInterval = Duration(30 * time.Minute)
)

// Duration adds YAML support for strings like "30m" on top of
// time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("parse duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// FeedConfig selects the release feed driving self-updates.
type FeedConfig struct {
	URL      string   `yaml:"url"`
	Interval Duration `yaml:"interval"`
}

// Config is the on-disk client configuration. Missing file or fields fall
// back to defaults.
type Config struct {
	LogFile     string     `yaml:"log_file"`
	LogLevel    string     `yaml:"log_level"`
	SessionsDir string     `yaml:"sessions_dir"`
	Feed        FeedConfig `yaml:"feed"`
}

// DefaultPath returns the per-user location of the config file.
func DefaultPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "perch", "config.yaml")
}

func defaults() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base, err := os.UserConfigDir()
	if err != nil {
		base = home
	}

	return &Config{
		LogFile:     filepath.Join(base, "perch", "client.log"),
		LogLevel:    "info",
		SessionsDir: filepath.Join(home, ".perch", "sessions"),
		Feed: FeedConfig{
			URL:      defaultFeedURL,
			Interval: defaultFeedInterval,
		},
	}
}

// Load reads the config file at path, filling missing fields with defaults.
// A missing file yields the full default configuration.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Feed.URL == "" {
		cfg.Feed.URL = defaultFeedURL
	}
	if cfg.Feed.Interval <= 0 {
		cfg.Feed.Interval = defaultFeedInterval
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}
