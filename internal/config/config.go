// Package config loads and validates service configuration via Viper.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Source   SourceConfig   `mapstructure:"source"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Server   ServerConfig   `mapstructure:"server"`
	Inbox    InboxConfig    `mapstructure:"inbox"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServiceConfig names the deployment identity and its working directories.
// Identity suffixes every persisted state file so two deployments can share
// a data volume without clobbering each other.
type ServiceConfig struct {
	Identity    string `mapstructure:"identity"`
	DataDir     string `mapstructure:"data_dir"`
	DownloadDir string `mapstructure:"download_dir"`
}

// PoolConfig bounds job concurrency and packaging shape.
type PoolConfig struct {
	Workers          int  `mapstructure:"workers"`
	FetchConcurrency int  `mapstructure:"fetch_concurrency"`
	PackByVolume     bool `mapstructure:"pack_by_volume"`
}

// BatchConfig governs the supervisor's dispatch and progress loops.
type BatchConfig struct {
	Parallelism       int `mapstructure:"parallelism"`
	ProgressDepth     int `mapstructure:"progress_depth"`
	PollIntervalMs    int `mapstructure:"poll_interval_ms"`
	EditIntervalSec   int `mapstructure:"edit_interval_seconds"`
	ReportIntervalSec int `mapstructure:"report_interval_seconds"`
}

// SourceConfig configures the bundled source adapters.
type SourceConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// DeliveryConfig controls size-based transport routing.
type DeliveryConfig struct {
	RelayThresholdMB float64 `mapstructure:"relay_threshold_mb"`
	HardLimitMB      float64 `mapstructure:"hard_limit_mb"`
	RelayTimeoutSec  int     `mapstructure:"relay_timeout_seconds"`
}

// TelegramConfig holds the outward notifier credentials and destinations.
// Chat IDs use the -100xxxx supergroup form. Forced topic IDs skip the
// one-time provisioning step.
type TelegramConfig struct {
	Token              string `mapstructure:"token"`
	APIBaseURL         string `mapstructure:"api_base_url"`
	TargetChatID       int64  `mapstructure:"target_chat_id"`
	LogChatID          int64  `mapstructure:"log_chat_id"`
	ForceTargetTopicID int64  `mapstructure:"force_target_topic_id"`
	ForceErrorTopicID  int64  `mapstructure:"force_error_topic_id"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// InboxConfig enables the batch-file drop directory.
type InboxConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// ArchiveConfig controls periodic state snapshots.
type ArchiveConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalHours   int  `mapstructure:"interval_hours"`
	InitialDelaySec int  `mapstructure:"initial_delay_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LNREQNW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.identity", "lnreqnw")
	v.SetDefault("service.data_dir", "data")
	v.SetDefault("service.download_dir", filepath.Join("data", "downloads"))
	v.SetDefault("pool.workers", 10)
	v.SetDefault("pool.fetch_concurrency", 60)
	v.SetDefault("pool.pack_by_volume", true)
	v.SetDefault("batch.parallelism", 1)
	v.SetDefault("batch.progress_depth", 64)
	v.SetDefault("batch.poll_interval_ms", 500)
	v.SetDefault("batch.edit_interval_seconds", 5)
	v.SetDefault("batch.report_interval_seconds", 5)
	v.SetDefault("source.user_agent", "lnreqnw/0.1")
	v.SetDefault("source.timeout_seconds", 10)
	v.SetDefault("source.max_retries", 2)
	v.SetDefault("delivery.relay_threshold_mb", 40.0)
	v.SetDefault("delivery.hard_limit_mb", 50.0)
	v.SetDefault("delivery.relay_timeout_seconds", 600)
	v.SetDefault("telegram.api_base_url", "https://api.telegram.org")
	v.SetDefault("server.port", 8080)
	v.SetDefault("inbox.enabled", false)
	v.SetDefault("inbox.dir", filepath.Join("data", "inbox"))
	v.SetDefault("archive.enabled", true)
	v.SetDefault("archive.interval_hours", 24)
	v.SetDefault("archive.initial_delay_seconds", 60)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Service.Identity == "" {
		return errors.New("service.identity must be set")
	}
	if c.Pool.Workers <= 0 {
		return errors.New("pool.workers must be > 0")
	}
	if c.Pool.FetchConcurrency <= 0 {
		return errors.New("pool.fetch_concurrency must be > 0")
	}
	if c.Batch.Parallelism <= 0 {
		return errors.New("batch.parallelism must be > 0")
	}
	if c.Batch.Parallelism > c.Pool.Workers {
		return errors.Newf("batch.parallelism (%d) exceeds pool.workers (%d)", c.Batch.Parallelism, c.Pool.Workers)
	}
	if c.Delivery.HardLimitMB < c.Delivery.RelayThresholdMB {
		return errors.New("delivery.hard_limit_mb must be >= delivery.relay_threshold_mb")
	}
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	return nil
}

// PollInterval returns the supervisor progress poll tick.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Batch.PollIntervalMs) * time.Millisecond
}

// EditInterval returns the minimum spacing between outward status edits.
func (c Config) EditInterval() time.Duration {
	return time.Duration(c.Batch.EditIntervalSec) * time.Second
}

// ReportInterval returns the per-job progress emission throttle.
func (c Config) ReportInterval() time.Duration {
	return time.Duration(c.Batch.ReportIntervalSec) * time.Second
}

// RelayTimeout returns the bounded wait for the large-file hand-off.
func (c Config) RelayTimeout() time.Duration {
	return time.Duration(c.Delivery.RelayTimeoutSec) * time.Second
}

// SourceTimeout returns the per-request timeout for source adapters.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}
