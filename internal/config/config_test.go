package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 3000, cfg.Server.Port)
	require.Equal(t, "http://127.0.0.1:3001/api/revalidate", cfg.Renderer.BaseURL)
	require.Equal(t, 3, cfg.Renderer.InvokeRetries)
	require.Equal(t, "on-demand", cfg.ISR.Mode)
	require.Equal(t, 6, cfg.ISR.ProbeAttempts)
	require.Equal(t, 5, cfg.Site.PageSize)

	require.Equal(t, 10*time.Second, cfg.RendererTimeout())
	require.Equal(t, time.Second, cfg.RendererRetryDelay())
	require.Equal(t, time.Second, cfg.Debounce())
	require.Equal(t, 3*time.Second, cfg.ProbeDelay())
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8080
isr:
  mode: delay
  debounce_ms: 250
site:
  timezone: UTC
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "delay", cfg.ISR.Mode)
	require.Equal(t, 250*time.Millisecond, cfg.Debounce())
	require.Equal(t, time.UTC, cfg.Location())
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "zero port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "missing renderer url",
			mutate:  func(c *Config) { c.Renderer.BaseURL = "" },
			wantErr: "renderer.base_url",
		},
		{
			name: "disabled isr tolerates missing renderer url",
			mutate: func(c *Config) {
				c.ISR.Disabled = true
				c.Renderer.BaseURL = ""
			},
		},
		{
			name:    "bad mode",
			mutate:  func(c *Config) { c.ISR.Mode = "eager" },
			wantErr: "isr.mode",
		},
		{
			name:    "auth enabled without key",
			mutate:  func(c *Config) { c.Auth.Enabled = true },
			wantErr: "auth.api_key",
		},
		{
			name:    "zero page size",
			mutate:  func(c *Config) { c.Site.PageSize = 0 },
			wantErr: "site.page_size",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLocationFallback(t *testing.T) {
	t.Parallel()

	cfg := Config{Site: SiteConfig{Timezone: "Not/AZone"}}
	require.Equal(t, time.Local, cfg.Location())
}
