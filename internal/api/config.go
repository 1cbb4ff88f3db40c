// Package api provides the local HTTP control surface of the agent: state,
// permission, presentation, schedules, token refresh and interactions.
package api

import (
	"fmt"
	"net"
	"time"

	"github.com/tphakala/notifyd/internal/conf"
	"github.com/tphakala/notifyd/internal/errors"
)

const componentName = "api"

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "256K"
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen string // host:port to bind

	AllowedOrigins []string // CORS allowed origins

	// Timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BodyLimit string // Maximum request body size (e.g. "256K")

	Metrics bool // Serve /metrics when a handler is provided
	Debug   bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          conf.DefaultAPIListen,
		AllowedOrigins:  []string{"http://localhost", "http://127.0.0.1"},
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       DefaultBodyLimit,
		Metrics:         true,
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	if settings.API.Listen != "" {
		cfg.Listen = settings.API.Listen
	}
	cfg.Metrics = settings.API.Metrics
	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errors.Newf("invalid listen address %q: %v", c.Listen, err).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return errors.Newf("read and write timeouts must be positive").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf("API Config: listen=%s, metrics=%v, debug=%v", c.Listen, c.Metrics, c.Debug)
}
