// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Renderer RendererConfig `mapstructure:"renderer"`
	ISR      ISRConfig      `mapstructure:"isr"`
	DB       DBConfig       `mapstructure:"db"`
	Site     SiteConfig     `mapstructure:"site"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines admin API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// RendererConfig points at the external static-site renderer and bounds
// per-path revalidation calls.
type RendererConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	InvokeRetries  int    `mapstructure:"invoke_retries"`
	RetryDelayMs   int    `mapstructure:"retry_delay_ms"`
}

// ISRConfig governs dispatcher debouncing and probing.
type ISRConfig struct {
	Disabled      bool   `mapstructure:"disabled"`
	Mode          string `mapstructure:"mode"`
	DebounceMs    int    `mapstructure:"debounce_ms"`
	ProbeAttempts int    `mapstructure:"probe_attempts"`
	ProbeDelayMs  int    `mapstructure:"probe_delay_ms"`
}

// DBConfig controls access to the counter database. An empty DSN selects the
// in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// SiteConfig carries site-level knobs shared with the renderer.
type SiteConfig struct {
	Timezone string `mapstructure:"timezone"`
	PageSize int    `mapstructure:"page_size"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VANBLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("renderer.base_url", "http://127.0.0.1:3001/api/revalidate")
	v.SetDefault("renderer.timeout_seconds", 10)
	v.SetDefault("renderer.invoke_retries", 3)
	v.SetDefault("renderer.retry_delay_ms", 1000)
	v.SetDefault("isr.mode", "on-demand")
	v.SetDefault("isr.debounce_ms", 1000)
	v.SetDefault("isr.probe_attempts", 6)
	v.SetDefault("isr.probe_delay_ms", 3000)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("site.timezone", "Local")
	v.SetDefault("site.page_size", 5)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if !c.ISR.Disabled && c.Renderer.BaseURL == "" {
		return fmt.Errorf("renderer.base_url must be set unless isr.disabled")
	}
	if c.Renderer.TimeoutSeconds <= 0 {
		return fmt.Errorf("renderer.timeout_seconds must be > 0")
	}
	if c.Renderer.InvokeRetries <= 0 {
		return fmt.Errorf("renderer.invoke_retries must be > 0")
	}
	if c.ISR.ProbeAttempts <= 0 {
		return fmt.Errorf("isr.probe_attempts must be > 0")
	}
	switch c.ISR.Mode {
	case "on-demand", "delay":
	default:
		return fmt.Errorf("isr.mode must be on-demand or delay, got %q", c.ISR.Mode)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Site.PageSize <= 0 {
		return fmt.Errorf("site.page_size must be > 0")
	}
	return nil
}

// RendererTimeout returns the per-call renderer timeout.
func (c Config) RendererTimeout() time.Duration {
	return time.Duration(c.Renderer.TimeoutSeconds) * time.Second
}

// RendererRetryDelay returns the fixed delay between invoke attempts.
func (c Config) RendererRetryDelay() time.Duration {
	return time.Duration(c.Renderer.RetryDelayMs) * time.Millisecond
}

// Debounce returns the dispatcher's quiet window.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.ISR.DebounceMs) * time.Millisecond
}

// ProbeDelay returns the wait between renderer liveness probes.
func (c Config) ProbeDelay() time.Duration {
	return time.Duration(c.ISR.ProbeDelayMs) * time.Millisecond
}

// Location resolves the site timezone, falling back to the process-local
// zone on error.
func (c Config) Location() *time.Location {
	if c.Site.Timezone == "" || c.Site.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Site.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
