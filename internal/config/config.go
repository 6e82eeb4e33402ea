// Package config loads and validates neuronav configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/neuronav/internal/codec"
)

// EnvPrefix prefixes every environment override, e.g. NEURONAV_DATA_ROOT.
const EnvPrefix = "NEURONAV"

// Storage providers for scraped pages.
const (
	StorageLocal  = "local"
	StorageGCS    = "gcs"
	StorageMinio  = "minio"
	StorageMemory = "memory"
)

// Progress sinks.
const (
	SinkLog        = "log"
	SinkPrometheus = "prometheus"
	SinkPostgres   = "postgres"
	SinkPubSub     = "pubsub"
)

// Config captures every knob loaded via Viper.
type Config struct {
	Data      DataConfig      `mapstructure:"data"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Codec     CodecConfig     `mapstructure:"codec"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// DataConfig locates the registry root.
type DataConfig struct {
	Root string `mapstructure:"root"`
}

// FetchConfig controls page downloads.
type FetchConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ScrapeConfig controls layer scrapes.
type ScrapeConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// CodecConfig selects the page compression.
type CodecConfig struct {
	Compression string `mapstructure:"compression"`
}

// StorageConfig selects where scraped pages go. The local provider writes
// under data.root so dispatch can serve them.
type StorageConfig struct {
	Provider string      `mapstructure:"provider"`
	GCS      GCSConfig   `mapstructure:"gcs"`
	Minio    MinioConfig `mapstructure:"minio"`
}

// GCSConfig names the bucket for the gcs provider.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// MinioConfig describes an S3-compatible endpoint.
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	Secure    bool   `mapstructure:"secure"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ProgressConfig wires the progress hub and its sinks.
type ProgressConfig struct {
	Sinks          []string       `mapstructure:"sinks"`
	BufferSize     int            `mapstructure:"buffer_size"`
	MaxBatchEvents int            `mapstructure:"max_batch_events"`
	FlushInterval  time.Duration  `mapstructure:"flush_interval"`
	Postgres       PostgresConfig `mapstructure:"postgres"`
	PubSub         PubSubConfig   `mapstructure:"pubsub"`
}

// PostgresConfig configures the batch_runs store.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig names the batch notification topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Tracing     bool    `mapstructure:"tracing"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from defaults, an optional file, and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	cfg.Storage.Provider = strings.ToLower(strings.TrimSpace(cfg.Storage.Provider))
	for i, s := range cfg.Progress.Sinks {
		cfg.Progress.Sinks[i] = strings.ToLower(strings.TrimSpace(s))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data.root", "data")
	v.SetDefault("fetch.base_url", "https://neuroscope.io/")
	v.SetDefault("fetch.user_agent", "neuronav/0.1")
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("scrape.concurrency", 20)
	v.SetDefault("codec.compression", "zstd")
	v.SetDefault("storage.provider", StorageLocal)
	v.SetDefault("storage.gcs.prefix", "neuronav")
	v.SetDefault("storage.minio.prefix", "neuronav")
	v.SetDefault("storage.minio.secure", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("progress.sinks", []string{SinkLog})
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.flush_interval", 250*time.Millisecond)
	v.SetDefault("progress.postgres.table", "batch_runs")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.service_name", "neuronav")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Data.Root) == "" {
		return fmt.Errorf("data.root is required")
	}
	u, err := url.Parse(c.Fetch.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("fetch.base_url must be an absolute http(s) URL, got %q", c.Fetch.BaseURL)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Scrape.Concurrency <= 0 {
		return fmt.Errorf("scrape.concurrency must be > 0")
	}
	if _, err := codec.ParseCompression(c.Codec.Compression); err != nil {
		return fmt.Errorf("codec.compression: %w", err)
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be in 0..1")
	}
	return c.Progress.validate()
}

func (s StorageConfig) validate() error {
	switch s.Provider {
	case StorageLocal, StorageMemory:
	case StorageGCS:
		if s.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs provider")
		}
	case StorageMinio:
		if s.Minio.Endpoint == "" || s.Minio.Bucket == "" {
			return fmt.Errorf("storage.minio.endpoint and storage.minio.bucket are required for the minio provider")
		}
	default:
		return fmt.Errorf("storage.provider %q is not one of local, gcs, minio, memory", s.Provider)
	}
	return nil
}

func (p ProgressConfig) validate() error {
	known := []string{SinkLog, SinkPrometheus, SinkPostgres, SinkPubSub}
	for _, sink := range p.Sinks {
		if !slices.Contains(known, sink) {
			return fmt.Errorf("progress.sinks: unknown sink %q", sink)
		}
	}
	if p.HasSink(SinkPostgres) && p.Postgres.DSN == "" {
		return fmt.Errorf("progress.postgres.dsn is required for the postgres sink")
	}
	if p.HasSink(SinkPubSub) && (p.PubSub.ProjectID == "" || p.PubSub.Topic == "") {
		return fmt.Errorf("progress.pubsub.project_id and progress.pubsub.topic are required for the pubsub sink")
	}
	if p.BufferSize < 0 || p.MaxBatchEvents < 0 || p.FlushInterval < 0 {
		return fmt.Errorf("progress buffer settings must be >= 0")
	}
	return nil
}

// HasSink reports whether name is enabled.
func (p ProgressConfig) HasSink(name string) bool {
	return slices.Contains(p.Sinks, name)
}

// CompressionKind returns the parsed codec.compression value.
func (c Config) CompressionKind() codec.Compression {
	kind, err := codec.ParseCompression(c.Codec.Compression)
	if err != nil {
		return codec.CompressionZstd
	}
	return kind
}
