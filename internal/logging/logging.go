// Package logging configures the shared logrus logger. Components receive a
// *logrus.Entry scoped with a component field rather than touching the
// global logger.
package logging

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config holds the logging options carried in the tool configuration.
type Config struct {
	// Level is the minimum level to emit: debug, info, warn, or error.
	Level string `mapstructure:"level" yaml:"level"`
	// ForceColors enables colored level output even without a TTY.
	ForceColors bool `mapstructure:"force_colors" yaml:"force_colors"`
}

// Configure applies cfg to the standard logrus logger.
func Configure(cfg Config) error {
	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		ForceColors:     cfg.ForceColors,
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	return nil
}

// NewEntry returns a logger entry tagged with the component name.
func NewEntry(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}
