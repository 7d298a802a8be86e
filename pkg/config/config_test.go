package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 3, cfg.Stages.Retries)
	assert.Equal(t, []time.Duration{0, 500 * time.Millisecond, 1500 * time.Millisecond}, cfg.Stages.Backoff)
	assert.Equal(t, 64, cfg.Bus.History)

	// Every role resolves against a configured provider.
	for role, r := range cfg.Roles {
		p, ok := cfg.Providers[r.Provider]
		require.True(t, ok, "role %s references unknown provider %s", role, r.Provider)
		_, ok = p.Models[r.Model]
		assert.True(t, ok, "role %s references unknown model %s", role, r.Model)
	}

	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "apex.yaml")

	data := `
listen_addr: "0.0.0.0:9999"
workers: 8
stages:
  timeout: 10m
  retries: 2
  backoff: [0s, 1s]
cost:
  per_build_limit: 5.5
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9999", cfg.ListenAddr)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 10*time.Minute, cfg.Stages.Timeout)
	assert.Equal(t, 2, cfg.Stages.Retries)
	assert.Equal(t, []time.Duration{0, time.Second}, cfg.Stages.Backoff)
	assert.Equal(t, 5.5, cfg.Cost.PerBuildLimit)

	// Untouched keys keep their defaults.
	assert.Equal(t, 1024, cfg.Cache.MaxEntries)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/apex.yaml")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("APEX_LISTEN_ADDR", "127.0.0.1:7777")
	t.Setenv("APEX_WORKERS", "2")
	t.Setenv("APEX_COST_DAILY_LIMIT", "12.5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7777", cfg.ListenAddr)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 12.5, cfg.Cost.DailyLimit)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Workers = 0 },
			wantErr: true,
		},
		{
			name:    "empty backoff schedule",
			mutate:  func(c *Config) { c.Stages.Backoff = nil },
			wantErr: true,
		},
		{
			name: "provider without models",
			mutate: func(c *Config) {
				p := c.Providers["mock"]
				p.Models = nil
				c.Providers["mock"] = p
			},
			wantErr: true,
		},
		{
			name: "role without model",
			mutate: func(c *Config) {
				c.Roles["clarifier"] = RoleConfig{Provider: "mock"}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
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
