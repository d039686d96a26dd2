package store

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config carries the tunables of a database handle. The zero value is a
// working default.
type Config struct {
	// LogLevel sets the verbosity of the handle's logger when no Logger
	// is supplied: one of logrus's level names. Defaults to "warning".
	LogLevel string `yaml:"log_level"`

	// NoSync skips fsync after log writes. Committed transactions may be
	// lost on power failure; intended for tests and bulk loads.
	NoSync bool `yaml:"no_sync"`

	// SkipFinalSnapshot leaves the snapshot untouched on Close, relying
	// on the log alone for the tail. Mostly useful in tests.
	SkipFinalSnapshot bool `yaml:"skip_final_snapshot"`

	// Logger overrides the handle's logger. Not loadable from a file.
	Logger *logrus.Logger `yaml:"-"`
}

// LoadConfig reads a Config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// entry builds the tagged log entry all subsystems of a handle share.
func (c *Config) entry(path string) *logrus.Entry {
	logger := c.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
		level := logrus.WarnLevel
		if c.LogLevel != "" {
			if parsed, err := logrus.ParseLevel(c.LogLevel); err == nil {
				level = parsed
			}
		}
		logger.SetLevel(level)
	}
	if path == "" {
		path = ":memory:"
	}
	return logger.WithField("db", path)
}
