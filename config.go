package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ProxyConfig holds the TOML-driven service configuration.
type ProxyConfig struct {
	BasePath         string            `toml:"base_path"`
	ListenAddr       string            `toml:"listen_addr"`
	ConnectTimeout   time.Duration     `toml:"connect_timeout"`
	CloneTimeout     time.Duration     `toml:"clone_timeout"`
	MaxUploadBytes   int64             `toml:"max_upload_bytes"`
	CleanupOnFailure bool              `toml:"cleanup_on_failure"`
	Atomic           bool              `toml:"atomic"`
	QuoteIdentifiers bool              `toml:"quote_identifiers"`
	LogLevel         string            `toml:"log_level"`  // debug|info|warn|error
	LogFormat        string            `toml:"log_format"` // text|json
	TypeMapping      TypeMappingConfig `toml:"type_mapping"`
}

// TypeMappingConfig selects how source column types are rendered in SQLite DDL.
type TypeMappingConfig struct {
	Mode string `toml:"mode"` // passthrough|sqlite_affinity
}

func defaultConfig() ProxyConfig {
	return ProxyConfig{
		BasePath:       "/database",
		ListenAddr:     ":8000",
		ConnectTimeout: 10 * time.Second,
		CloneTimeout:   2 * time.Minute,
		MaxUploadBytes: 100 << 20,
		LogLevel:       "info",
		LogFormat:      "text",
		TypeMapping:    TypeMappingConfig{Mode: "passthrough"},
	}
}

// loadConfig reads a TOML config file and returns a ProxyConfig with defaults
// applied. An empty path yields the validated defaults.
func loadConfig(path string) (*ProxyConfig, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if unknown := md.Undecoded(); len(unknown) > 0 {
			keys := make([]string, len(unknown))
			for i, k := range unknown {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ProxyConfig) validate() error {
	c.BasePath = strings.TrimSpace(c.BasePath)
	if c.BasePath == "" {
		return fmt.Errorf("base_path is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("connect_timeout must not be negative")
	}
	if c.CloneTimeout < 0 {
		return fmt.Errorf("clone_timeout must not be negative")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be one of: text, json")
	}
	if _, err := newTypeMapper(c.TypeMapping.Mode); err != nil {
		return fmt.Errorf("type_mapping.mode: %w", err)
	}
	return nil
}

// clonerOptions derives per-request cloner options from the config.
func (c *ProxyConfig) clonerOptions(logger *slog.Logger) ClonerOptions {
	mapper, _ := newTypeMapper(c.TypeMapping.Mode) // validated in loadConfig
	return ClonerOptions{
		ConnectTimeout:   c.ConnectTimeout,
		TypeMapper:       mapper,
		QuoteIdentifiers: c.QuoteIdentifiers,
		Atomic:           c.Atomic,
		CleanupOnFailure: c.CleanupOnFailure,
		Logger:           logger,
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	return level, nil
}

// newLogger builds the process logger from the config.
func newLogger(cfg *ProxyConfig, w io.Writer) *slog.Logger {
	level, _ := parseLogLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With(slog.String("service", "schemaproxy"))
}
