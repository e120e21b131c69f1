package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type DatabaseConfig struct {
	DSN                    string `mapstructure:"dsn"`
	AuditRetentionDays     int    `mapstructure:"audit_retention_days"`
	CleanupIntervalMinutes int    `mapstructure:"cleanup_interval_minutes"`
}

type RedisConfig struct {
	Addr            string `mapstructure:"addr"`
	Password        string `mapstructure:"password"`
	DB              int    `mapstructure:"db"`
	TrailTTLSeconds int    `mapstructure:"trail_ttl_seconds"`
	RecentListKey   string `mapstructure:"recent_list_key"`
	RecentListMax   int    `mapstructure:"recent_list_max"`
}

type LoggingConfig struct {
	BufferCapacity   int    `mapstructure:"buffer_capacity"`
	DefaultLevel     string `mapstructure:"default_level"`
	HistoryDir       string `mapstructure:"history_dir"`
	HistoryQueueSize int    `mapstructure:"history_queue_size"`
}

type StreamConfig struct {
	SubscriberBuffer     int `mapstructure:"subscriber_buffer"`
	StatsIntervalSeconds int `mapstructure:"stats_interval_seconds"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. OPSCOPE_LOGGING_BUFFER_CAPACITY
	viper.SetEnvPrefix("opscope")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("database.audit_retention_days", 30)
	viper.SetDefault("database.cleanup_interval_minutes", 60)
	viper.SetDefault("redis.trail_ttl_seconds", 300)
	viper.SetDefault("redis.recent_list_key", "audit_recent")
	viper.SetDefault("redis.recent_list_max", 10000)
	viper.SetDefault("logging.buffer_capacity", 5000)
	viper.SetDefault("logging.default_level", "information")
	viper.SetDefault("logging.history_dir", "./logs")
	viper.SetDefault("logging.history_queue_size", 1000)
	viper.SetDefault("stream.subscriber_buffer", 256)
	viper.SetDefault("stream.stats_interval_seconds", 10)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
