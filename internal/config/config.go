// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper. Content
// level settings (word counts, default keywords, thread count) are not here;
// those live in the persisted snapshot and are owned by the admin surface.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Reference ReferenceConfig `mapstructure:"reference"`
	Links     LinksConfig     `mapstructure:"links"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Random    RandomConfig    `mapstructure:"random"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BackendConfig points at the OpenAI-compatible generation API. An empty
// APIKey is not an error: the synthesizer falls back to the local template
// path without touching the network.
type BackendConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// Timeout returns the backend request timeout as a duration.
func (c BackendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ReferenceConfig governs reference-URL enrichment fetches.
type ReferenceConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxSources     int    `mapstructure:"max_sources"`
	PerSourceChars int    `mapstructure:"per_source_chars"`
	UserAgent      string `mapstructure:"user_agent"`
}

// Timeout returns the per-fetch timeout as a duration.
func (c ReferenceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LinksConfig bounds the outbound link set per page.
type LinksConfig struct {
	Desired int `mapstructure:"desired"`
}

// BatchConfig bounds batch generation fan-out.
type BatchConfig struct {
	MaxJobs int `mapstructure:"max_jobs"`
}

// StoreConfig selects and configures the snapshot store provider.
type StoreConfig struct {
	Provider string              `mapstructure:"provider"`
	File     FileStoreConfig     `mapstructure:"file"`
	Postgres PostgresStoreConfig `mapstructure:"postgres"`
}

// FileStoreConfig locates the JSON snapshot file.
type FileStoreConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresStoreConfig holds the connection string for the Postgres store.
type PostgresStoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RandomConfig seeds the shared random source. Zero means seed from the
// clock; a fixed seed makes shuffles and templates reproducible.
type RandomConfig struct {
	Seed int64 `mapstructure:"seed"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGEPOOL")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("backend.base_url", "https://api.deepseek.com")
	v.SetDefault("backend.model", "deepseek-chat")
	v.SetDefault("backend.timeout_seconds", 45)
	v.SetDefault("backend.max_retries", 2)
	v.SetDefault("reference.timeout_seconds", 8)
	v.SetDefault("reference.max_sources", 5)
	v.SetDefault("reference.per_source_chars", 1200)
	v.SetDefault("reference.user_agent", "Mozilla/5.0 (compatible; PagePoolBot/1.0)")
	v.SetDefault("links.desired", 6)
	v.SetDefault("batch.max_jobs", 30)
	v.SetDefault("store.provider", "file")
	v.SetDefault("store.file.path", "data/pagepool.json")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return fmt.Errorf("backend.timeout_seconds must be > 0")
	}
	if c.Reference.MaxSources < 0 {
		return fmt.Errorf("reference.max_sources must be >= 0")
	}
	if c.Links.Desired <= 0 {
		return fmt.Errorf("links.desired must be > 0")
	}
	if c.Batch.MaxJobs <= 0 {
		return fmt.Errorf("batch.max_jobs must be > 0")
	}
	switch c.Store.Provider {
	case "memory":
	case "file":
		if c.Store.File.Path == "" {
			return fmt.Errorf("store.file.path must be set for the file provider")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set for the postgres provider")
		}
	default:
		return fmt.Errorf("unknown store provider: %s", c.Store.Provider)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}
