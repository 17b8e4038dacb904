// Package config loads the companion's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
)

// Config is the resolved configuration.
type Config struct {
	DataDir  string
	Listen   string
	LogLevel zerolog.Level

	HTTPTimeout  time.Duration
	MaxRedirects int

	WakeTimeout   time.Duration
	RetryInterval time.Duration
}

const (
	DefaultConfigPath = "~/.config/nascompanion/config.toml"

	defaultDataDir       = "~/.local/share/nascompanion"
	defaultListen        = ":3002"
	defaultHTTPTimeout   = 15 * time.Second
	defaultMaxRedirects  = 5
	defaultWakeTimeout   = 30 * time.Second
	defaultRetryInterval = 200 * time.Millisecond
)

type rawConfig struct {
	DataDir  string `toml:"data_dir"`
	Listen   string `toml:"listen"`
	LogLevel string `toml:"log_level"`
	NAS      struct {
		HTTPTimeout  string `toml:"http_timeout"`
		MaxRedirects *int   `toml:"max_redirects"`
	} `toml:"nas"`
	WakeOnLan struct {
		Timeout       string `toml:"timeout"`
		RetryInterval string `toml:"retry_interval"`
	} `toml:"wake_on_lan"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		DataDir:       mustExpand(defaultDataDir),
		Listen:        defaultListen,
		LogLevel:      zerolog.InfoLevel,
		HTTPTimeout:   defaultHTTPTimeout,
		MaxRedirects:  defaultMaxRedirects,
		WakeTimeout:   defaultWakeTimeout,
		RetryInterval: defaultRetryInterval,
	}
}

// Load reads the config file at path (DefaultConfigPath when empty), falling
// back to defaults for a missing file or missing keys.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if dir := strings.TrimSpace(raw.DataDir); dir != "" {
		expanded, err := expandPath(dir)
		if err != nil {
			return Config{}, fmt.Errorf("data_dir: %w", err)
		}
		cfg.DataDir = expanded
	}
	if listen := strings.TrimSpace(raw.Listen); listen != "" {
		cfg.Listen = listen
	}
	if level := strings.TrimSpace(raw.LogLevel); level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return Config{}, fmt.Errorf("log_level: %w", err)
		}
		cfg.LogLevel = parsed
	}

	if cfg.HTTPTimeout, err = duration("nas.http_timeout", raw.NAS.HTTPTimeout, cfg.HTTPTimeout); err != nil {
		return Config{}, err
	}
	if raw.NAS.MaxRedirects != nil {
		if *raw.NAS.MaxRedirects < 0 {
			return Config{}, fmt.Errorf("nas.max_redirects: must not be negative, got %d", *raw.NAS.MaxRedirects)
		}
		cfg.MaxRedirects = *raw.NAS.MaxRedirects
	}
	if cfg.WakeTimeout, err = duration("wake_on_lan.timeout", raw.WakeOnLan.Timeout, cfg.WakeTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RetryInterval, err = duration("wake_on_lan.retry_interval", raw.WakeOnLan.RetryInterval, cfg.RetryInterval); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DatabasePath returns the SQLite file inside DataDir.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "connections.db")
}

func duration(key, value string, fallback time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, value)
	}
	return d, nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(DefaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

// ExpandPath resolves a leading ~ and makes path absolute.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
