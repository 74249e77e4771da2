package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. USDBRIDGE_SERVER_PORT
const EnvPrefix = "USDBRIDGE"

// Config represents the usdbridge configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Converter ConverterConfig `mapstructure:"converter"`
	Cache     CacheConfig     `mapstructure:"cache"`
	History   HistoryConfig   `mapstructure:"history"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	StaticDir       string        `mapstructure:"static_dir"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AllowedOrigins lists browser origins allowed by CORS and the
	// telemetry websocket
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// Profiling mounts pprof endpoints; keep it off on shared hosts
	Profiling bool `mapstructure:"profiling"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig locates source scenes and converted models
type StorageConfig struct {
	ScenesDir string `mapstructure:"scenes_dir"`
	OutputDir string `mapstructure:"output_dir"`
}

// ConverterConfig configures the external USD to glTF converter
type ConverterConfig struct {
	Binary  string        `mapstructure:"binary"`
	Timeout time.Duration `mapstructure:"timeout"`
	Format  string        `mapstructure:"format"`
	// Concurrency bounds converter processes started by the HTTP API
	Concurrency int `mapstructure:"concurrency"`
}

// CacheConfig selects the converted-model cache
type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	// MaxSize bounds the memory backend, e.g. "256MB"
	MaxSize string      `mapstructure:"max_size"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// MaxBytes returns MaxSize in bytes, or zero if it is empty or invalid
func (c CacheConfig) MaxBytes() int64 {
	n, err := humanize.ParseBytes(c.MaxSize)
	if err != nil {
		return 0
	}
	return int64(n)
}

// RedisConfig represents redis connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// HistoryConfig configures the conversion history database. An empty DSN
// disables history. Driver is sqlite3, postgres (lib/pq) or pgx.
type HistoryConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Enabled reports whether history should be recorded
func (h HistoryConfig) Enabled() bool {
	return h.DSN != ""
}

// TelemetryConfig configures the simulated telemetry feed
type TelemetryConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// LogConfig configures logging
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.static_dir", "public")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.profiling", false)
	v.SetDefault("storage.scenes_dir", "scenes")
	v.SetDefault("storage.output_dir", "build/models")
	v.SetDefault("converter.binary", "usd2gltf")
	v.SetDefault("converter.timeout", "2m")
	v.SetDefault("converter.format", "glb")
	v.SetDefault("converter.concurrency", 2)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("cache.max_size", "256MB")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("history.driver", "sqlite3")
	v.SetDefault("history.dsn", "build/history.db")
	v.SetDefault("telemetry.interval", "500ms")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load loads the configuration. With an empty path it looks for
// usdbridge.yml or usdbridge.yaml in the working directory or the nearest
// parent holding one, and falls back to defaults when none exists.
// Environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("usdbridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if root, err := GetProjectRoot(); err == nil {
			v.AddConfigPath(root)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// GetProjectRoot walks up from the working directory looking for a
// usdbridge config file
func GetProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		for _, name := range []string{"usdbridge.yml", "usdbridge.yaml"} {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no usdbridge.yaml found")
		}
		dir = parent
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got: %d", cfg.Server.Port)
	}

	switch cfg.Cache.Backend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("cache.backend must be memory, redis or none, got: %s", cfg.Cache.Backend)
	}
	if cfg.Cache.MaxSize != "" {
		if _, err := humanize.ParseBytes(cfg.Cache.MaxSize); err != nil {
			return fmt.Errorf("cache.max_size must be a size such as 256MB, got: %s", cfg.Cache.MaxSize)
		}
	}

	switch cfg.Converter.Format {
	case "glb", "gltf":
	default:
		return fmt.Errorf("converter.format must be glb or gltf, got: %s", cfg.Converter.Format)
	}

	if cfg.History.Enabled() {
		switch cfg.History.Driver {
		case "sqlite3", "postgres", "pgx":
		default:
			return fmt.Errorf("history.driver must be sqlite3, postgres or pgx, got: %s", cfg.History.Driver)
		}
	}

	if cfg.Converter.Timeout < 0 {
		return fmt.Errorf("converter.timeout must not be negative, got: %s", cfg.Converter.Timeout)
	}
	if cfg.Converter.Concurrency < 1 {
		return fmt.Errorf("converter.concurrency must be at least 1, got: %d", cfg.Converter.Concurrency)
	}
	if cfg.Telemetry.Interval <= 0 {
		return fmt.Errorf("telemetry.interval must be positive, got: %s", cfg.Telemetry.Interval)
	}

	return nil
}
