package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Streamflow StreamflowConfig `yaml:"streamflow"`
	Stream     StreamConfig     `yaml:"stream"`
	Batcher    BatcherConfig    `yaml:"batcher"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type StreamflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type StreamConfig struct {
	Endpoint            string        `yaml:"endpoint"`
	ReconnectDelay      time.Duration `yaml:"reconnect_delay"`
	DialTimeout         time.Duration `yaml:"dial_timeout"`
	KeepAlive           time.Duration `yaml:"keep_alive"`
	SubscribesPerSecond int           `yaml:"subscribes_per_second"`
	DedupWindow         int           `yaml:"dedup_window"`
	LiquidationCap      int           `yaml:"liquidation_cap"`
	Topics              []string      `yaml:"topics"`
}

type BatcherConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Tick          time.Duration `yaml:"tick"`
	DegradedAfter time.Duration `yaml:"degraded_after"`
	StaleAfter    time.Duration `yaml:"stale_after"`
	EventBuffer   int           `yaml:"event_buffer"`
	BatchBuffer   int           `yaml:"batch_buffer"`
}

type MetricsConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Listen     string           `yaml:"listen"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

const (
	defaultReconnectDelay = 5 * time.Second
	defaultDialTimeout    = 10 * time.Second
	defaultKeepAlive      = 20 * time.Second
	defaultDedupWindow    = 4000
	defaultLiquidationCap = 200
	defaultTick           = 100 * time.Millisecond
	defaultDegradedAfter  = 4 * time.Second
	defaultStaleAfter     = 10 * time.Second
	defaultEventBuffer    = 1024
	defaultBatchBuffer    = 64
)

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Stream: StreamConfig{
			ReconnectDelay: defaultReconnectDelay,
			DialTimeout:    defaultDialTimeout,
			KeepAlive:      defaultKeepAlive,
			DedupWindow:    defaultDedupWindow,
			LiquidationCap: defaultLiquidationCap,
		},
		Batcher: BatcherConfig{
			Tick:          defaultTick,
			DegradedAfter: defaultDegradedAfter,
			StaleAfter:    defaultStaleAfter,
			EventBuffer:   defaultEventBuffer,
			BatchBuffer:   defaultBatchBuffer,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment overrides for deploy-time settings
	if v := os.Getenv("STREAMFLOW_ENDPOINT"); v != "" {
		config.Stream.Endpoint = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" && config.Metrics.CloudWatch.Enabled {
		config.Metrics.CloudWatch.Region = strings.TrimSpace(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Streamflow.Name == "" {
		return fmt.Errorf("streamflow.name is required")
	}

	if cfg.Streamflow.Version == "" {
		return fmt.Errorf("streamflow.version is required")
	}

	if cfg.Stream.Endpoint == "" {
		return fmt.Errorf("stream.endpoint is required")
	}
	if !strings.HasPrefix(cfg.Stream.Endpoint, "ws://") && !strings.HasPrefix(cfg.Stream.Endpoint, "wss://") {
		return fmt.Errorf("stream.endpoint '%s' must be a ws:// or wss:// URL", cfg.Stream.Endpoint)
	}

	if cfg.Stream.ReconnectDelay <= 0 {
		return fmt.Errorf("stream.reconnect_delay must be greater than 0")
	}
	if cfg.Stream.DedupWindow <= 0 {
		return fmt.Errorf("stream.dedup_window must be greater than 0")
	}
	if cfg.Stream.LiquidationCap <= 0 {
		return fmt.Errorf("stream.liquidation_cap must be greater than 0")
	}

	if cfg.Batcher.Enabled {
		if cfg.Batcher.Tick <= 0 {
			return fmt.Errorf("batcher.tick must be greater than 0")
		}
		if cfg.Batcher.StaleAfter <= cfg.Batcher.DegradedAfter {
			return fmt.Errorf("batcher.stale_after must be greater than batcher.degraded_after")
		}
		if cfg.Batcher.EventBuffer <= 0 || cfg.Batcher.BatchBuffer <= 0 {
			return fmt.Errorf("batcher buffers must be greater than 0")
		}
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Region == "" {
		return fmt.Errorf("metrics.cloudwatch.region is required when CloudWatch is enabled")
	}

	return nil
}
