// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		ListenAddr:          ":8000",
		DatabaseURL:         "postgres://localhost/schedlive",
		LogFormat:           "json",
		ExternalCallTimeout: 5 * time.Second,
		WriteTimeout:        10 * time.Second,
		Directory: Directory{
			AuthBaseURL: "https://auth.example.com",
			CoreBaseURL: "https://core.example.com",
		},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.ListenAddr)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 5*time.Second, cfg.ExternalCallTimeout)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "https://api.invertexto.com", cfg.Holiday.BaseURL)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9999"
database_url: "postgres://db/schedlive"
external_call_timeout: 2s
directory:
  auth_base_url: "https://auth.example.com"
  core_base_url: "https://core.example.com"
  api_key: "secret"
`), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "postgres://db/schedlive", cfg.DatabaseURL)
	assert.Equal(t, 2*time.Second, cfg.ExternalCallTimeout)
	assert.Equal(t, "secret", cfg.Directory.APIKey)
	// Untouched keys keep their defaults.
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":9999\"\n"), 0o600))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("listen-addr", "", "")
	flags.String("database-url", "", "")
	require.NoError(t, flags.Parse([]string{"--listen-addr", ":7777", "--database-url", "postgres://flag/db"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.ListenAddr)
	assert.Equal(t, "postgres://flag/db", cfg.DatabaseURL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml", nil)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing listen addr", mutate: func(c *Config) { c.ListenAddr = "" }, wantErr: true},
		{name: "missing database url", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: true},
		{name: "missing directory urls", mutate: func(c *Config) { c.Directory.AuthBaseURL = "" }, wantErr: true},
		{name: "zero call timeout", mutate: func(c *Config) { c.ExternalCallTimeout = 0 }, wantErr: true},
		{name: "negative write timeout", mutate: func(c *Config) { c.WriteTimeout = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
