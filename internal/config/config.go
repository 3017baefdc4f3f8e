// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

// Package config loads service configuration from defaults, an optional
// YAML file and command-line flags, in that order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Directory configures the external clinic/token/user API.
type Directory struct {
	AuthBaseURL string `koanf:"auth_base_url"`
	CoreBaseURL string `koanf:"core_base_url"`
	APIKey      string `koanf:"api_key"`
}

// HolidayAPI configures the external holidays API.
type HolidayAPI struct {
	BaseURL string `koanf:"base_url"`
	Token   string `koanf:"token"`
}

// Config is the full service configuration.
type Config struct {
	ListenAddr          string        `koanf:"listen_addr"`
	MetricsAddr         string        `koanf:"metrics_addr"`
	DatabaseURL         string        `koanf:"database_url"`
	LogFormat           string        `koanf:"log_format"`
	AllowedOrigins      []string      `koanf:"allowed_origins"`
	ExternalCallTimeout time.Duration `koanf:"external_call_timeout"`
	WriteTimeout        time.Duration `koanf:"write_timeout"`
	Directory           Directory     `koanf:"directory"`
	Holiday             HolidayAPI    `koanf:"holiday"`
}

func defaults() map[string]any {
	return map[string]any{
		"listen_addr":           ":8000",
		"metrics_addr":          "127.0.0.1:9100",
		"log_format":            "json",
		"allowed_origins":       []string{"*"},
		"external_call_timeout": "5s",
		"write_timeout":         "10s",
		"holiday.base_url":      "https://api.invertexto.com",
	}
}

// Load builds a Config from defaults, then the YAML file at path (when not
// empty), then the given flag set (when not nil).
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").Wrap(err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", path).Wrap(err)
		}
	}
	if flags != nil {
		// Kebab-case flag names map onto snake_case config keys, so
		// --metrics-addr overrides metrics_addr.
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "unmarshal").Wrap(err)
	}
	return &cfg, nil
}

// Validate checks the fields the serve command cannot run without.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("listen_addr is required")
	}
	if c.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database_url is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if c.Directory.AuthBaseURL == "" || c.Directory.CoreBaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("directory auth_base_url and core_base_url are required")
	}
	if c.ExternalCallTimeout <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("external_call_timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("write_timeout must be positive")
	}
	return nil
}
