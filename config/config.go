// Package config loads the service configuration from a JSON or YAML file
// and the environment.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // Timezone lookups work without system zoneinfo.

	"github.com/joho/godotenv"
)

// TokenEnv names the environment variable holding the Telegram bot token.
const TokenEnv = "TELEGRAM_API_KEY"

// Config is the on-disk configuration. Keys are kebab-case.
type Config struct {
	MenuURL          string   `json:"specials-menu-url"`
	Category         string   `json:"specials-menu-pizza-spelling"`
	Keyword          string   `json:"specials-menu-vodka-spelling"`
	DateIndex        int      `json:"specials-menu-date-index"`
	RetryLimit       *uint    `json:"retry-limit"` // nil or 0 retries forever
	RetryWaitSeconds int      `json:"retry-wait-seconds"`
	PollSeconds      int      `json:"poll-interval-seconds"`
	Recipients       []string `json:"recipients"`
	Timezone         string   `json:"timezone"`
	DBPath           string   `json:"db-path"`
	HTTPAddr         string   `json:"http-addr"`
	BroadcastRate    float64  `json:"broadcast-rate-per-second"`
	CommandsPerMin   int      `json:"commands-per-minute"`
	LogLevel         string   `json:"log-level"`
	LogFormat        string   `json:"log-format"`

	// TelegramToken comes from the environment or a flag, never the file.
	TelegramToken string `json:"-"`
}

// Default returns a configuration with every optional key set.
func Default() *Config {
	return &Config{
		DateIndex:        2, // Label holding the full menu date
		RetryWaitSeconds: 60,
		PollSeconds:      60,
		Timezone:         "America/New_York",
		DBPath:           "./data/specials.db",
		HTTPAddr:         ":8080",
		BroadcastRate:    25,
		CommandsPerMin:   20,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// Load reads path over the defaults and fills the token from the environment,
// after loading a .env file from the working directory when one exists.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(path, b)
	if err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.TelegramToken = strings.TrimSpace(os.Getenv(TokenEnv))
	return cfg, nil
}

// Parse decodes data strictly, choosing YAML or JSON from the extension of path.
func Parse(path string, data []byte) (*Config, error) {
	jb, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", format, err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, fmt.Errorf("decode %s config: %w", format, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.MenuURL) == "":
		return errors.New("specials-menu-url is required")
	case strings.TrimSpace(c.Category) == "":
		return errors.New("specials-menu-pizza-spelling is required")
	case strings.TrimSpace(c.Keyword) == "":
		return errors.New("specials-menu-vodka-spelling is required")
	case c.DateIndex < 0 || c.DateIndex > 2:
		return fmt.Errorf("specials-menu-date-index must be 0, 1 or 2, got %d", c.DateIndex)
	case c.RetryWaitSeconds <= 0:
		return fmt.Errorf("retry-wait-seconds must be positive, got %d", c.RetryWaitSeconds)
	case c.PollSeconds <= 0:
		return fmt.Errorf("poll-interval-seconds must be positive, got %d", c.PollSeconds)
	case c.BroadcastRate < 0:
		return fmt.Errorf("broadcast-rate-per-second must not be negative, got %v", c.BroadcastRate)
	case c.CommandsPerMin < 0:
		return fmt.Errorf("commands-per-minute must not be negative, got %d", c.CommandsPerMin)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// RetryWait is the delay between fetch attempts.
func (c *Config) RetryWait() time.Duration {
	return time.Duration(c.RetryWaitSeconds) * time.Second
}

// PollInterval is the delay between poll cycles.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}
