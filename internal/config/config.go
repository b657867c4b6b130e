package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Processing    ProcessingConfig    `yaml:"processing"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Sync          SyncConfig          `yaml:"sync"`
	Health        HealthConfig        `yaml:"health"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
	Telegram      TelegramConfig      `yaml:"telegram"`
	Exports       ExportConfig        `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// ProcessingConfig drives the task queue and processor.
type ProcessingConfig struct {
	BatchSize           int `yaml:"batch_size"`
	MaxRetries          int `yaml:"max_retries"`
	BaseRetryDelayMs    int `yaml:"base_retry_delay_ms"`
	ProcessingTimeoutMs int `yaml:"processing_timeout_ms"`
}

// NotificationsConfig drives the notification batcher.
type NotificationsConfig struct {
	MaxBatchSize       int     `yaml:"max_batch_size"`
	BatchTimeoutMs     int     `yaml:"batch_timeout_ms"`
	RatePerSecond      float64 `yaml:"rate_per_second"`
	Burst              int     `yaml:"burst"`
	MaxDispatchRetries int     `yaml:"max_dispatch_retries"`
}

// SyncConfig drives the incremental sync engine.
type SyncConfig struct {
	IntervalMs            int  `yaml:"interval_ms"`
	FiveDayFocusEnabled   bool `yaml:"five_day_focus_enabled"`
	EnableIncrementalSync bool `yaml:"enable_incremental_sync"`
	EntityBatchSize       int  `yaml:"entity_batch_size"`
}

type HealthConfig struct {
	CheckIntervalMs       int `yaml:"check_interval_ms"`
	MaintenanceIntervalMs int `yaml:"maintenance_interval_ms"`
	RetentionDays         int `yaml:"retention_days"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool    `yaml:"prometheus_enabled"`
	StatusPort        int     `yaml:"status_port"`
	RateLimitRPS      float64 `yaml:"rate_limit_rps"`
	RateLimitBurst    int     `yaml:"rate_limit_burst"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// TelegramConfig configures the optional Telegram notification channel.
// The channel stays disabled when the token is empty.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
	Debug    bool   `yaml:"debug"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; config values may reference its variables.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Processing.BatchSize <= 0 {
		return errors.New("processing batch_size must be positive")
	}
	if c.Processing.MaxRetries < 0 {
		return errors.New("processing max_retries must not be negative")
	}
	if c.Notifications.RatePerSecond <= 0 {
		return errors.New("notifications rate_per_second must be positive")
	}
	if c.Sync.IntervalMs <= 0 {
		return errors.New("sync interval_ms must be positive")
	}
	return nil
}

func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "growlog"
	}
	if c.Processing.BatchSize == 0 {
		c.Processing.BatchSize = 50
	}
	if c.Processing.MaxRetries == 0 {
		c.Processing.MaxRetries = 3
	}
	if c.Processing.BaseRetryDelayMs == 0 {
		c.Processing.BaseRetryDelayMs = 2000
	}
	if c.Processing.ProcessingTimeoutMs == 0 {
		c.Processing.ProcessingTimeoutMs = 30000
	}
	if c.Notifications.MaxBatchSize == 0 {
		c.Notifications.MaxBatchSize = 20
	}
	if c.Notifications.BatchTimeoutMs == 0 {
		c.Notifications.BatchTimeoutMs = 5000
	}
	if c.Notifications.RatePerSecond == 0 {
		c.Notifications.RatePerSecond = 10
	}
	if c.Notifications.Burst == 0 {
		c.Notifications.Burst = int(c.Notifications.RatePerSecond)
		if c.Notifications.Burst < 1 {
			c.Notifications.Burst = 1
		}
	}
	if c.Notifications.MaxDispatchRetries == 0 {
		c.Notifications.MaxDispatchRetries = 2
	}
	if c.Sync.IntervalMs == 0 {
		c.Sync.IntervalMs = 300000
	}
	if c.Sync.EntityBatchSize == 0 {
		c.Sync.EntityBatchSize = 25
	}
	if c.Health.CheckIntervalMs == 0 {
		c.Health.CheckIntervalMs = 60000
	}
	if c.Health.MaintenanceIntervalMs == 0 {
		c.Health.MaintenanceIntervalMs = 3600000
	}
	if c.Health.RetentionDays == 0 {
		c.Health.RetentionDays = 30
	}
	if c.Monitoring.StatusPort == 0 {
		c.Monitoring.StatusPort = 8080
	}
	if c.Monitoring.RateLimitRPS == 0 {
		c.Monitoring.RateLimitRPS = 10
	}
	if c.Monitoring.RateLimitBurst == 0 {
		c.Monitoring.RateLimitBurst = 5
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}

// BaseRetryDelay returns the processing backoff base as a duration.
func (c *ProcessingConfig) BaseRetryDelay() time.Duration {
	return time.Duration(c.BaseRetryDelayMs) * time.Millisecond
}

// ProcessingTimeout returns the per-chunk transaction deadline.
func (c *ProcessingConfig) ProcessingTimeout() time.Duration {
	return time.Duration(c.ProcessingTimeoutMs) * time.Millisecond
}

// BatchTimeout returns the notification batch timeout as a duration.
func (c *NotificationsConfig) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutMs) * time.Millisecond
}

// Interval returns the periodic sync interval as a duration.
func (c *SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// CheckInterval returns the health check interval as a duration.
func (c *HealthConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMs) * time.Millisecond
}

// MaintenanceInterval returns the periodic cleanup interval as a duration.
func (c *HealthConfig) MaintenanceInterval() time.Duration {
	return time.Duration(c.MaintenanceIntervalMs) * time.Millisecond
}
