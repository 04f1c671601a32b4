// Package config loads service configuration from config.yaml, the
// environment (VANGUARD_ prefix) and built-in defaults, in that order
// of precedence.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the Vanguard service.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	MongoDB struct {
		URI         string `mapstructure:"uri"`
		Database    string `mapstructure:"database"`
		Enabled     bool   `mapstructure:"enabled"`
		MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	} `mapstructure:"mongodb"`

	SQLite struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"sqlite"`

	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"redis"`

	Detection struct {
		// PatternCacheSize bounds the compiled pattern LRU.
		PatternCacheSize int `mapstructure:"pattern_cache_size"`
		// PatternTimeout bounds a single regex match.
		PatternTimeout time.Duration `mapstructure:"pattern_timeout"`
		// FlushInterval is how often rule performance snapshots persist.
		FlushInterval time.Duration `mapstructure:"flush_interval"`
	} `mapstructure:"detection"`

	Correlation struct {
		// Window is how far back an open alert still attracts events
		// sharing its correlation key.
		Window time.Duration `mapstructure:"window"`
		// LockStripes sizes the per-key lock table.
		LockStripes int `mapstructure:"lock_stripes"`
		// ConflictRetries bounds attach retries after a lost version race.
		ConflictRetries int `mapstructure:"conflict_retries"`
	} `mapstructure:"correlation"`

	Simulation struct {
		// SchedulerInterval is how often due scheduled simulations start.
		SchedulerInterval time.Duration `mapstructure:"scheduler_interval"`
	} `mapstructure:"simulation"`

	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	Logging struct {
		// Level is a zap level name: debug, info, warn, error.
		Level string `mapstructure:"level"`
		// Development switches to the human-readable console encoder.
		Development bool `mapstructure:"development"`
	} `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")

	v.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("mongodb.database", "vanguard")
	v.SetDefault("mongodb.enabled", true)
	v.SetDefault("mongodb.max_pool_size", 10)

	v.SetDefault("sqlite.path", "") // empty = derive from data_dir

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("detection.pattern_cache_size", 512)
	v.SetDefault("detection.pattern_timeout", 100*time.Millisecond)
	v.SetDefault("detection.flush_interval", 30*time.Second)

	v.SetDefault("correlation.window", 60*time.Second)
	v.SetDefault("correlation.lock_stripes", 256)
	v.SetDefault("correlation.conflict_retries", 3)

	v.SetDefault("simulation.scheduler_interval", 10*time.Second)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// LoadConfig reads config.yaml from the working directory or ./config,
// with environment variables (VANGUARD_SECTION_KEY) overriding file
// values and defaults filling the rest. A missing config file is fine.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix("VANGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	config.resolvePaths()

	return &config, nil
}

func (c *Config) validate() error {
	if c.Correlation.Window <= 0 {
		return fmt.Errorf("correlation.window must be positive, got %s", c.Correlation.Window)
	}
	if c.Correlation.LockStripes < 1 {
		return fmt.Errorf("correlation.lock_stripes must be at least 1, got %d", c.Correlation.LockStripes)
	}
	if c.Detection.PatternCacheSize < 1 {
		return fmt.Errorf("detection.pattern_cache_size must be at least 1, got %d", c.Detection.PatternCacheSize)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

func (c *Config) resolvePaths() {
	if c.SQLite.Path == "" {
		c.SQLite.Path = filepath.Join(c.DataDir, "vanguard.db")
	}
}
