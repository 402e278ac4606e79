// Package config loads repcoach configuration from a TOML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/repcoach/pkg/llm"
)

const (
	// DirName is the per-user configuration directory under $HOME.
	DirName = ".repcoach"

	// FileName is the configuration file inside DirName.
	FileName = "config.toml"
)

// Config holds client and relay settings.
type Config struct {
	// Endpoint is the AI coach chat function (or a relay in front of it).
	Endpoint string `toml:"endpoint"`

	// APIKey is sent as a bearer token when set.
	APIKey string `toml:"api_key"`

	// UserID identifies the caller to the chat function.
	UserID string `toml:"user_id"`

	// UnitPreference is "metric" or "imperial".
	UnitPreference llm.UnitPreference `toml:"unit_preference"`

	// DisableStreaming asks for a single non-streamed reply.
	DisableStreaming bool `toml:"disable_streaming"`

	// Timeout bounds a whole chat request, e.g. "2m".
	Timeout Duration `toml:"timeout"`

	// SQLite is where the CLI records conversation turns. Empty disables recording.
	SQLite string `toml:"sqlite"`

	Relay RelayConfig `toml:"relay"`
}

// RelayConfig holds settings for the relay server.
type RelayConfig struct {
	// Address to listen on (e.g., ":8080")
	Listen string `toml:"listen"`

	// Upstream chat function URL
	Upstream string `toml:"upstream"`

	// UpstreamAPIKey is sent to the upstream as a bearer token.
	UpstreamAPIKey string `toml:"upstream_api_key"`

	// DB is the SQLite path for recorded turns; empty keeps them in memory.
	DB string `toml:"db"`
}

// Duration is a time.Duration written as a string ("90s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file or environment is set.
func Default() *Config {
	return &Config{
		Endpoint:       "http://localhost:8080/api/chat",
		UnitPreference: llm.UnitsMetric,
		Timeout:        Duration{2 * time.Minute},
		Relay: RelayConfig{
			Listen:   ":8080",
			Upstream: "http://localhost:54321/functions/v1/ai-chat",
		},
	}
}

// DefaultPath returns ~/.repcoach/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, DirName, FileName), nil
}

// Load reads path on top of Default, applies REPCOACH_* environment
// overrides and validates the result. A missing file at path is not an
// error; an empty path means DefaultPath.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("could not read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail late, at request time.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint cannot be empty")
	}
	if !c.UnitPreference.Valid() {
		return fmt.Errorf("unit_preference must be %q or %q, got %q", llm.UnitsMetric, llm.UnitsImperial, c.UnitPreference)
	}
	if c.Timeout.Duration < 0 {
		return fmt.Errorf("timeout cannot be negative, got %s", c.Timeout.Duration)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	setString("REPCOACH_ENDPOINT", &c.Endpoint)
	setString("REPCOACH_API_KEY", &c.APIKey)
	setString("REPCOACH_USER_ID", &c.UserID)
	setString("REPCOACH_SQLITE", &c.SQLite)
	setString("REPCOACH_RELAY_LISTEN", &c.Relay.Listen)
	setString("REPCOACH_RELAY_UPSTREAM", &c.Relay.Upstream)
	setString("REPCOACH_RELAY_UPSTREAM_API_KEY", &c.Relay.UpstreamAPIKey)
	setString("REPCOACH_RELAY_DB", &c.Relay.DB)

	if v, ok := os.LookupEnv("REPCOACH_UNIT_PREFERENCE"); ok {
		c.UnitPreference = llm.UnitPreference(v)
	}

	if v, ok := os.LookupEnv("REPCOACH_DISABLE_STREAMING"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("REPCOACH_DISABLE_STREAMING must be a boolean, got %q", v)
		}
		c.DisableStreaming = b
	}

	if v, ok := os.LookupEnv("REPCOACH_TIMEOUT"); ok {
		if err := c.Timeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("REPCOACH_TIMEOUT: %w", err)
		}
	}

	return nil
}
