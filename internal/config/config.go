// Package config loads relay configuration from the environment. No other
// package reads raw environment variables for business behavior.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds everything the relay process needs at startup.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string

	// DatabaseURL selects the Postgres store when set; empty keeps the
	// in-memory store.
	DatabaseURL string

	// RedisAddr enables the cross-instance presence bridge when set.
	RedisAddr string

	// LogLevel is a logrus level name; LogJSON switches to JSON output.
	LogLevel string
	LogJSON  bool
}

// Load reads and validates configuration from the environment.
func Load() (Config, error) {
	c := Config{
		Addr:        strings.TrimSpace(os.Getenv("GL_ADDR")),
		DatabaseURL: strings.TrimSpace(os.Getenv("GL_DATABASE_URL")),
		RedisAddr:   strings.TrimSpace(os.Getenv("GL_REDIS_ADDR")),
		LogLevel:    strings.TrimSpace(os.Getenv("GL_LOG_LEVEL")),
	}

	if c.Addr == "" {
		if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
			if _, err := strconv.Atoi(port); err != nil {
				return Config{}, fmt.Errorf("PORT must be numeric, got %q", port)
			}
			c.Addr = ":" + port
		} else {
			c.Addr = ":8080"
		}
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	switch strings.ToLower(strings.TrimSpace(os.Getenv("GL_LOG_FORMAT"))) {
	case "", "text":
	case "json":
		c.LogJSON = true
	default:
		return Config{}, fmt.Errorf("GL_LOG_FORMAT must be text or json, got %q", os.Getenv("GL_LOG_FORMAT"))
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks invariants that Load cannot express field by field.
func (c Config) Validate() error {
	var errs []error
	if !strings.Contains(c.Addr, ":") {
		errs = append(errs, fmt.Errorf("GL_ADDR must be host:port or :port, got %q", c.Addr))
	}
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		errs = append(errs, fmt.Errorf("GL_LOG_LEVEL %q is not a valid level", c.LogLevel))
	}
	return errors.Join(errs...)
}
