// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openparl/parlingest/internal/ingest"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Portal   PortalConfig   `mapstructure:"portal"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Staging  StagingConfig  `mapstructure:"staging"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig controls access to the relational store.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// PortalConfig names the archive entry points and traversal limits.
type PortalConfig struct {
	// Roots are the flat archive pages walked by the standard traversal.
	Roots []string `mapstructure:"roots"`
	// SeriesRoots are journal-series pages walked with the deep traversal
	// (sub-series, legislature, session, number).
	SeriesRoots []string `mapstructure:"series_roots"`
	UserAgent   string   `mapstructure:"user_agent"`
	RatePerHost float64  `mapstructure:"rate_per_host"`
	Burst       int      `mapstructure:"burst"`
	MaxDepth    int      `mapstructure:"max_depth"`
}

// HTTPConfig configures download client retry behavior.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	BackoffInitialMs  int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int     `mapstructure:"backoff_max_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	MaxBodyMB         int     `mapstructure:"max_body_mb"`
}

// PipelineConfig governs worker pools and run behavior.
type PipelineConfig struct {
	DownloadWorkers  int      `mapstructure:"download_workers"`
	ImportWorkers    int      `mapstructure:"import_workers"`
	Formats          []string `mapstructure:"formats"`
	StopOnFirstError bool     `mapstructure:"stop_on_first_error"`
	BacklogDepth     int      `mapstructure:"backlog_depth"`
}

// StagingConfig selects and configures the blob staging provider.
type StagingConfig struct {
	Provider string             `mapstructure:"provider"`
	Local    LocalStagingConfig `mapstructure:"local"`
	GCS      GCSStagingConfig   `mapstructure:"gcs"`
}

// LocalStagingConfig sets the directory for filesystem staging.
type LocalStagingConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSStagingConfig sets bucket and key prefix for GCS staging.
type GCSStagingConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// NotifyConfig holds metadata for import completion notices.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PARLINGEST")
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
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("portal.user_agent", "parlingest-bot/0.1")
	v.SetDefault("portal.rate_per_host", 2.0)
	v.SetDefault("portal.burst", 2)
	v.SetDefault("portal.max_depth", 6)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 5)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 120000)
	v.SetDefault("http.backoff_multiplier", 2.0)
	v.SetDefault("http.max_body_mb", 256)
	v.SetDefault("pipeline.download_workers", 4)
	v.SetDefault("pipeline.import_workers", 2)
	v.SetDefault("pipeline.formats", []string{"xml"})
	v.SetDefault("pipeline.stop_on_first_error", false)
	v.SetDefault("pipeline.backlog_depth", 1024)
	v.SetDefault("staging.provider", "local")
	v.SetDefault("staging.local.base_dir", "stage")
	v.SetDefault("staging.gcs.prefix", "archives")
	v.SetDefault("notify.provider", "none")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	// Port 0 is meaningful: it disables the ops server entirely.
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	if c.Pipeline.DownloadWorkers <= 0 {
		return fmt.Errorf("pipeline.download_workers must be > 0")
	}
	if c.Pipeline.ImportWorkers <= 0 {
		return fmt.Errorf("pipeline.import_workers must be > 0")
	}
	if c.Pipeline.BacklogDepth <= 0 {
		return fmt.Errorf("pipeline.backlog_depth must be > 0")
	}
	for _, f := range c.Pipeline.Formats {
		switch ingest.FileFormat(strings.ToLower(f)) {
		case ingest.FormatXML, ingest.FormatJSON, ingest.FormatPDF, ingest.FormatZip:
		default:
			return fmt.Errorf("pipeline.formats contains unknown format %q", f)
		}
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.BackoffMultiplier < 1 {
		return fmt.Errorf("http.backoff_multiplier must be >= 1")
	}
	if c.Portal.MaxDepth <= 0 {
		return fmt.Errorf("portal.max_depth must be > 0")
	}
	if c.Portal.RatePerHost <= 0 {
		return fmt.Errorf("portal.rate_per_host must be > 0")
	}
	switch c.Staging.Provider {
	case "local":
		if c.Staging.Local.BaseDir == "" {
			return fmt.Errorf("staging.local.base_dir must be set for the local provider")
		}
	case "gcs":
		if c.Staging.GCS.Bucket == "" {
			return fmt.Errorf("staging.gcs.bucket must be set for the gcs provider")
		}
	case "memory":
	default:
		return fmt.Errorf("staging.provider must be one of local, gcs, memory")
	}
	switch c.Notify.Provider {
	case "none", "memory":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic must be set for the pubsub provider")
		}
	default:
		return fmt.Errorf("notify.provider must be one of none, memory, pubsub")
	}
	return nil
}

// HTTPTimeout returns the per-request timeout as a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// InitialBackoff returns the first retry delay as a duration.
func (c HTTPConfig) InitialBackoff() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// MaxBackoff returns the retry delay ceiling as a duration.
func (c HTTPConfig) MaxBackoff() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// MaxBodyBytes returns the download size guard in bytes.
func (c HTTPConfig) MaxBodyBytes() int64 {
	return int64(c.MaxBodyMB) << 20
}

// FormatAllowList converts the configured format names for the importer.
func (c PipelineConfig) FormatAllowList() []ingest.FileFormat {
	out := make([]ingest.FileFormat, 0, len(c.Formats))
	for _, f := range c.Formats {
		out = append(out, ingest.FileFormat(strings.ToLower(f)))
	}
	return out
}
