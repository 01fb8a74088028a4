// Package config loads chatstream configuration from a TOML file, a .env file
// and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/papercomputeco/chatstream/pkg/chat"
	"github.com/papercomputeco/chatstream/pkg/llm"
)

// Environment variables read by Load.
const (
	EnvAPIKey   = "MISTRAL_API_KEY"
	EnvBaseURL  = "MISTRAL_BASE_URL"
	EnvModel    = "CHATSTREAM_MODEL"
	EnvMaxTurns = "CHATSTREAM_MAX_TURNS"
)

// Duration is a time.Duration written as a string ("10s", "1m30s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the chatstream configuration.
type Config struct {
	// Address to listen on (e.g., ":8000")
	Listen string `toml:"listen"`

	Debug bool `toml:"debug"`

	// LogFormat is "console" or "json".
	LogFormat string `toml:"log_format"`

	// Completion API
	APIKey       string `toml:"api_key"`
	BaseURL      string `toml:"base_url"`
	Model        string `toml:"model"`
	SystemPrompt string `toml:"system_prompt"`

	// KeepAlive is the interval between repeated frames on idle streams.
	KeepAlive Duration `toml:"keepalive"`

	History HistoryConfig `toml:"history"`
}

// HistoryConfig configures where turns are kept.
type HistoryConfig struct {
	// DBPath is the path to a SQLite archive. Empty keeps history in memory.
	DBPath string `toml:"db_path"`

	// MaxTurns bounds the turns kept in memory and sent as context. Zero is unbounded.
	MaxTurns int `toml:"max_turns"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Listen:       ":8000",
		LogFormat:    "console",
		BaseURL:      llm.DefaultMistralBaseURL,
		Model:        chat.DefaultModel,
		SystemPrompt: chat.DefaultSystemPrompt,
		KeepAlive:    Duration{chat.DefaultKeepAlive},
	}
}

// Load builds the configuration: defaults, then the TOML file at path when
// path is not empty, then variables from a .env file in the working directory,
// then the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// godotenv never overrides variables already present in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Model = v
	}
	if v := os.Getenv(EnvMaxTurns); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvMaxTurns, v, err)
		}
		c.History.MaxTurns = n
	}
	return nil
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	if c.KeepAlive.Duration <= 0 {
		return fmt.Errorf("keepalive must be positive, got %s", c.KeepAlive.Duration)
	}
	if c.History.MaxTurns < 0 {
		return fmt.Errorf("history.max_turns must not be negative, got %d", c.History.MaxTurns)
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}

// ChatSettings returns the generator settings carried by the configuration.
func (c *Config) ChatSettings() chat.Settings {
	return chat.Settings{
		Model:        c.Model,
		SystemPrompt: c.SystemPrompt,
		KeepAlive:    c.KeepAlive.Duration,
		MaxTurns:     c.History.MaxTurns,
	}
}
