// Package config loads vecsync configuration from defaults and VECSYNC_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	AWS       AWSConfig
	Embedding EmbeddingConfig
	Storage   StorageConfig
	Pipeline  PipelineConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type AWSConfig struct {
	Region string
}

type EmbeddingConfig struct {
	ModelID string
}

type StorageConfig struct {
	DataDir string
}

// PipelineConfig mirrors the pipeline's tuning knobs. Durations are
// configured in milliseconds (VECSYNC_BASE_BACKOFF_MS etc.).
type PipelineConfig struct {
	MaxBatchItems        int
	MaxBatchBytes        int
	MaxConcurrentWorkers int
	RequestsPerSecond    float64
	MaxRetryAttempts     int
	BaseBackoff          time.Duration
	MaxBackoff           time.Duration
	QuotaCooldown        time.Duration
	PerCallTimeout       time.Duration
	FlushInterval        time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4700,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Embedding: EmbeddingConfig{
			ModelID: "amazon.titan-embed-text-v2:0",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Pipeline: PipelineConfig{
			MaxBatchItems:        500,
			MaxBatchBytes:        2 << 20,
			MaxConcurrentWorkers: 5,
			RequestsPerSecond:    10,
			MaxRetryAttempts:     5,
			BaseBackoff:          500 * time.Millisecond,
			MaxBackoff:           30 * time.Second,
			QuotaCooldown:        30 * time.Second,
			PerCallTimeout:       30 * time.Second,
			FlushInterval:        2 * time.Second,
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "vecsync")
	}
	return ".vecsync"
}

// Load reads configuration from defaults and environment variables.
// VECSYNC_* variables override defaults; the AWS region also falls back to
// AWS_REGION so the usual AWS environment works unchanged.
func Load() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	envInt("VECSYNC_PORT", &cfg.Server.Port)
	envStr("VECSYNC_TOKEN", &cfg.Server.Token)
	envStr("VECSYNC_DATA_DIR", &cfg.Storage.DataDir)
	envStr("VECSYNC_MODEL_ID", &cfg.Embedding.ModelID)

	envStr("AWS_REGION", &cfg.AWS.Region)
	envStr("VECSYNC_AWS_REGION", &cfg.AWS.Region)

	envInt("VECSYNC_MAX_BATCH_ITEMS", &cfg.Pipeline.MaxBatchItems)
	envInt("VECSYNC_MAX_BATCH_BYTES", &cfg.Pipeline.MaxBatchBytes)
	envInt("VECSYNC_MAX_CONCURRENT_WORKERS", &cfg.Pipeline.MaxConcurrentWorkers)
	envFloat("VECSYNC_REQUESTS_PER_SECOND", &cfg.Pipeline.RequestsPerSecond)
	envInt("VECSYNC_MAX_RETRY_ATTEMPTS", &cfg.Pipeline.MaxRetryAttempts)
	envMillis("VECSYNC_BASE_BACKOFF_MS", &cfg.Pipeline.BaseBackoff)
	envMillis("VECSYNC_MAX_BACKOFF_MS", &cfg.Pipeline.MaxBackoff)
	envMillis("VECSYNC_QUOTA_COOLDOWN_MS", &cfg.Pipeline.QuotaCooldown)
	envMillis("VECSYNC_PER_CALL_TIMEOUT_MS", &cfg.Pipeline.PerCallTimeout)
	envMillis("VECSYNC_FLUSH_INTERVAL_MS", &cfg.Pipeline.FlushInterval)
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Pipeline.MaxConcurrentWorkers <= 0 {
		return fmt.Errorf("max concurrent workers must be positive, got %d", c.Pipeline.MaxConcurrentWorkers)
	}
	if c.Pipeline.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive, got %v", c.Pipeline.RequestsPerSecond)
	}
	if c.Pipeline.MaxBackoff < c.Pipeline.BaseBackoff {
		return fmt.Errorf("max backoff %v is shorter than base backoff %v", c.Pipeline.MaxBackoff, c.Pipeline.BaseBackoff)
	}
	return nil
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envMillis(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}
