package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"`
	Hosts     HostsConfig     `mapstructure:"hosts"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// EngineConfig defines the enforcement loop behavior
type EngineConfig struct {
	TickInterval  string `mapstructure:"tick_interval"`
	ShutdownGrace string `mapstructure:"shutdown_grace"`
	LockCommand   string `mapstructure:"lock_command"` // empty disables workstation locking
}

// HostsConfig defines the hosts-file blocklist target
type HostsConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Path     string      `mapstructure:"path"`
	Type     string      `mapstructure:"type"`
	Sessions string      `mapstructure:"sessions"` // "bolt" (default) or "redis"
	Redis    RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the optional redis session backend
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig defines the metrics/health endpoint
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// RetentionConfig defines how long closed sessions are kept
type RetentionConfig struct {
	SessionDays   int    `mapstructure:"session_days"` // 0 disables the sweep
	SweepInterval string `mapstructure:"sweep_interval"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("WARDEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if os.IsNotExist(err) {
				// Missing file: run on defaults and environment variables
			} else {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.tick_interval", "5s")
	v.SetDefault("engine.shutdown_grace", "10s")
	v.SetDefault("engine.lock_command", "loginctl lock-session")

	// Hosts defaults
	v.SetDefault("hosts.path", "/etc/hosts")

	// Storage defaults
	v.SetDefault("storage.path", "/var/lib/wardend/wardend.bolt")
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.sessions", "bolt")
	v.SetDefault("storage.redis.address", "localhost:6379")
	v.SetDefault("storage.redis.db", 0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.bind_address", "127.0.0.1")
	v.SetDefault("metrics.port", 9311)

	// Retention defaults
	v.SetDefault("retention.session_days", 90)
	v.SetDefault("retention.sweep_interval", "24h")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if _, err := time.ParseDuration(cfg.Engine.TickInterval); err != nil {
		return fmt.Errorf("invalid engine tick interval: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Engine.ShutdownGrace); err != nil {
		return fmt.Errorf("invalid engine shutdown grace: %w", err)
	}

	if cfg.Hosts.Path == "" {
		return fmt.Errorf("hosts path is required")
	}

	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "bolt"
	}
	switch cfg.Storage.Sessions {
	case "", "bolt":
		cfg.Storage.Sessions = "bolt"
	case "redis":
		if cfg.Storage.Redis.Address == "" {
			return fmt.Errorf("redis address is required for redis session storage")
		}
	default:
		return fmt.Errorf("unknown session storage backend: %s", cfg.Storage.Sessions)
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	if cfg.Retention.SweepInterval != "" {
		if _, err := time.ParseDuration(cfg.Retention.SweepInterval); err != nil {
			return fmt.Errorf("invalid retention sweep interval: %w", err)
		}
	}

	// Ensure storage directory exists
	storageDir := filepath.Dir(cfg.Storage.Path)
	if err := os.MkdirAll(storageDir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	return nil
}
