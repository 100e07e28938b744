// Package config loads and validates the engine configuration
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/orbitax/custody/internal/custody/notification"
	"github.com/orbitax/custody/internal/custody/settlement"
)

// Config is the root configuration for the custody engine
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Database   DatabaseConfig           `mapstructure:"database"`
	Redis      RedisConfig              `mapstructure:"redis"`
	Kafka      KafkaConfig              `mapstructure:"kafka"`
	Settlement settlement.Config        `mapstructure:"settlement"`
	Email      notification.EmailConfig `mapstructure:"email"`
	Engine     EngineConfig             `mapstructure:"engine"`
}

// DatabaseConfig holds the postgres connection settings
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds the redis connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

// KafkaConfig holds the event broker settings
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	Enabled bool     `mapstructure:"enabled"`
}

// EngineConfig tunes the engine's internal behavior
type EngineConfig struct {
	// TokenPepper is the deployment-wide secret mixed into stored token digests
	TokenPepper string `mapstructure:"token_pepper"`
	// SettlementWorkers is the number of concurrent settlement consumers
	SettlementWorkers int `mapstructure:"settlement_workers"`
	// QueueCapacity bounds the in-process settlement queue
	QueueCapacity int `mapstructure:"queue_capacity"`
	// StaleProcessingAge is how old a non-terminal row must be before the
	// reconciliation sweep picks it up
	StaleProcessingAge time.Duration `mapstructure:"stale_processing_age"`
	// StaleSweepInterval is how often the reconciliation sweep runs
	StaleSweepInterval time.Duration `mapstructure:"stale_sweep_interval"`
	// MetricsAddr is the listen address for the Prometheus endpoint
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Load reads configuration from an optional YAML file plus CUSTODY_*
// environment variables, applies defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("CUSTODY")

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	// Required keys get empty defaults so environment overrides bind even
	// without a config file.
	v.SetDefault("database.dsn", "")
	v.SetDefault("engine.token_pepper", "")
	v.SetDefault("settlement.base_url", "")
	v.SetDefault("settlement.api_key", "")
	v.SetDefault("settlement.vault_account_id", "")

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.enabled", false)

	v.SetDefault("kafka.topic", "custody.events")
	v.SetDefault("kafka.enabled", false)

	v.SetDefault("settlement.timeout", 30*time.Second)

	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.from_name", "Custody")

	v.SetDefault("engine.settlement_workers", 4)
	v.SetDefault("engine.queue_capacity", 1024)
	v.SetDefault("engine.stale_processing_age", 15*time.Minute)
	v.SetDefault("engine.stale_sweep_interval", 5*time.Minute)
	v.SetDefault("engine.metrics_addr", ":9102")
}

// Validate checks that required settings are present and coherent
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Engine.TokenPepper == "" {
		return fmt.Errorf("engine.token_pepper is required")
	}
	if c.Settlement.BaseURL == "" {
		return fmt.Errorf("settlement.base_url is required")
	}
	if c.Engine.SettlementWorkers <= 0 {
		return fmt.Errorf("engine.settlement_workers must be positive")
	}
	if c.Engine.QueueCapacity <= 0 {
		return fmt.Errorf("engine.queue_capacity must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	return nil
}
