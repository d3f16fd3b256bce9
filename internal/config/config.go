package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	FootballData FootballDataConfig `mapstructure:"football_data"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	Model        ModelConfig        `mapstructure:"model"`
	Selector     SelectorConfig     `mapstructure:"selector"`
	Settlement   SettlementConfig   `mapstructure:"settlement"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// FootballDataConfig holds football-data.org API configuration
type FootballDataConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	RetryDelayMax  time.Duration `mapstructure:"retry_delay_max"`
}

// PipelineConfig controls the refresh and settle cycles
type PipelineConfig struct {
	Leagues            []string      `mapstructure:"leagues"`
	Workers            int           `mapstructure:"workers"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	LookbackDays       int           `mapstructure:"lookback_days"` // 0 = whole current season
	SettleLookbackDays int           `mapstructure:"settle_lookback_days"`
	Interval           time.Duration `mapstructure:"interval"` // 0 = run once
}

// ModelConfig holds strength estimation and scoreline model parameters
type ModelConfig struct {
	MaxGoals       int     `mapstructure:"max_goals"`
	Tolerance      float64 `mapstructure:"tolerance"`
	MinMatches     int     `mapstructure:"min_matches"`
	MinCoefficient float64 `mapstructure:"min_coefficient"`
	Devig          bool    `mapstructure:"devig"`
}

// SelectorConfig holds candidate filtering and ranking configuration
type SelectorConfig struct {
	MinProbability       float64 `mapstructure:"min_prob"`
	MinEdge              float64 `mapstructure:"min_edge"`
	MaxPerFixture        int     `mapstructure:"max_per_fixture"`
	MaxPerDay            int     `mapstructure:"max_per_day"`
	ExcludeLowConfidence bool    `mapstructure:"exclude_low_confidence"`
}

// SettlementConfig holds the VOID policy
type SettlementConfig struct {
	VoidPostponed bool          `mapstructure:"void_postponed"`
	ResultGrace   time.Duration `mapstructure:"result_grace"`
}

// CacheConfig selects and configures the snapshot cache backend
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"` // memory, file or redis
	Dir           string        `mapstructure:"dir"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// StorageConfig holds evaluation history persistence configuration
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres
	DBPath string `mapstructure:"db_path"`
	DSN    string `mapstructure:"dsn"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// AFTR_FOOTBALL_DATA_API_KEY overrides football_data.api_key
	v.SetEnvPrefix("AFTR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("football_data.base_url", "https://api.football-data.org")
	v.SetDefault("football_data.api_key", "")
	v.SetDefault("football_data.timeout", "15s")
	v.SetDefault("football_data.max_retries", 3)
	v.SetDefault("football_data.retry_delay_base", "2s")
	v.SetDefault("football_data.retry_delay_max", "30s")

	v.SetDefault("pipeline.leagues", []string{"PL", "PD", "SA", "BL1", "FL1"})
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.fetch_timeout", "60s")
	v.SetDefault("pipeline.lookback_days", 365)
	v.SetDefault("pipeline.settle_lookback_days", 7)
	v.SetDefault("pipeline.interval", "0s")

	v.SetDefault("model.max_goals", 15)
	v.SetDefault("model.tolerance", 1e-6)
	v.SetDefault("model.min_matches", 3)
	v.SetDefault("model.min_coefficient", 0.05)
	v.SetDefault("model.devig", true)

	v.SetDefault("selector.min_prob", 0.50)
	v.SetDefault("selector.min_edge", 0.02)
	v.SetDefault("selector.max_per_fixture", 3)
	v.SetDefault("selector.max_per_day", 20)
	v.SetDefault("selector.exclude_low_confidence", false)

	v.SetDefault("settlement.void_postponed", true)
	v.SetDefault("settlement.result_grace", "72h")

	v.SetDefault("cache.backend", "file")
	v.SetDefault("cache.dir", "./data/cache")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.redis_prefix", "aftr")
	v.SetDefault("cache.ttl", "0s")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.db_path", "./data/aftr.db")
	v.SetDefault("storage.dsn", "")

	// Secrets need a default so AutomaticEnv picks them up on Unmarshal.
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.FootballData.BaseURL == "" {
		return fmt.Errorf("football_data.base_url is required")
	}
	if c.FootballData.Timeout <= 0 {
		return fmt.Errorf("football_data.timeout must be positive")
	}
	if c.FootballData.MaxRetries < 0 {
		return fmt.Errorf("football_data.max_retries must not be negative")
	}
	if c.FootballData.RetryDelayMax < c.FootballData.RetryDelayBase {
		return fmt.Errorf("football_data.retry_delay_max must be at least retry_delay_base")
	}

	if len(c.Pipeline.Leagues) == 0 {
		return fmt.Errorf("pipeline.leagues must contain at least one league")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}
	if c.Pipeline.FetchTimeout <= 0 {
		return fmt.Errorf("pipeline.fetch_timeout must be positive")
	}
	if c.Pipeline.LookbackDays < 0 {
		return fmt.Errorf("pipeline.lookback_days must not be negative")
	}
	if c.Pipeline.SettleLookbackDays < 1 {
		return fmt.Errorf("pipeline.settle_lookback_days must be at least 1")
	}
	if c.Pipeline.Interval != 0 && c.Pipeline.Interval < time.Minute {
		return fmt.Errorf("pipeline.interval must be 0 or at least 1 minute")
	}

	if c.Model.MaxGoals < 1 {
		return fmt.Errorf("model.max_goals must be at least 1")
	}
	if c.Model.Tolerance <= 0 || c.Model.Tolerance >= 0.01 {
		return fmt.Errorf("model.tolerance must be between 0 and 0.01")
	}
	if c.Model.MinMatches < 1 {
		return fmt.Errorf("model.min_matches must be at least 1")
	}
	if c.Model.MinCoefficient <= 0 {
		return fmt.Errorf("model.min_coefficient must be positive")
	}

	if c.Selector.MinProbability < 0.0 || c.Selector.MinProbability > 1.0 {
		return fmt.Errorf("selector.min_prob must be between 0.0 and 1.0")
	}
	if c.Selector.MinEdge < -1.0 || c.Selector.MinEdge > 1.0 {
		return fmt.Errorf("selector.min_edge must be between -1.0 and 1.0")
	}
	if c.Selector.MaxPerFixture < 1 {
		return fmt.Errorf("selector.max_per_fixture must be at least 1")
	}
	if c.Selector.MaxPerDay < 1 {
		return fmt.Errorf("selector.max_per_day must be at least 1")
	}

	if c.Settlement.ResultGrace <= 0 {
		return fmt.Errorf("settlement.result_grace must be positive")
	}

	switch c.Cache.Backend {
	case "memory":
	case "file":
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache.dir is required for the file backend")
		}
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be one of: memory, file, redis")
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path is required for sqlite")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite, postgres")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// DataSource returns the storage DSN for the configured driver.
func (c *Config) DataSource() string {
	if c.Storage.Driver == "postgres" {
		return c.Storage.DSN
	}
	return c.Storage.DBPath
}
