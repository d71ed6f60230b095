package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"fuelwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Geocoding GeocodingConfig `mapstructure:"geocoding"`
	Push      PushConfig      `mapstructure:"push"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// ServerConfig governs the HTTP API.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	IngestToken     string        `mapstructure:"ingest_token"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SchedulerConfig governs pass cadence. Ingestion and alert passes tick on
// independent intervals and guard themselves with distinct advisory locks.
type SchedulerConfig struct {
	IngestInterval time.Duration `mapstructure:"ingest_interval"`
	AlertInterval  time.Duration `mapstructure:"alert_interval"`
	AlignToBucket  bool          `mapstructure:"align_to_bucket"`
	StartupDelay   time.Duration `mapstructure:"startup_delay"`
	IngestLockKey  int64         `mapstructure:"ingest_lock_key"`
	AlertLockKey   int64         `mapstructure:"alert_lock_key"`
}

// FeedConfig covers the upstream price feed.
type FeedConfig struct {
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	Workers        int           `mapstructure:"workers"`
}

// GeocodingConfig covers the postcode resolution collaborator.
type GeocodingConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// PushConfig covers the push-notification gateway.
type PushConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines alert evaluation behaviour.
type AlertingConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Workers        int           `mapstructure:"workers"`
	MaxPerWindow   int           `mapstructure:"max_per_window"`
	ThrottleWindow time.Duration `mapstructure:"throttle_window"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FUELWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fuelwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("scheduler.ingest_interval", "30m")
	v.SetDefault("scheduler.alert_interval", "15m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.ingest_lock_key", int64(0x6675656c01))
	v.SetDefault("scheduler.alert_lock_key", int64(0x6675656c02))

	v.SetDefault("feed.request_timeout", "30s")
	v.SetDefault("feed.user_agent", "fuelwatch/1.0")
	v.SetDefault("feed.workers", 8)

	v.SetDefault("geocoding.base_url", "https://api.postcodes.io")
	v.SetDefault("geocoding.request_timeout", "10s")
	v.SetDefault("geocoding.user_agent", "fuelwatch/1.0")

	v.SetDefault("push.request_timeout", "10s")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.workers", 8)
	v.SetDefault("alerting.max_per_window", 2)
	v.SetDefault("alerting.throttle_window", "24h")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.IngestInterval <= 0 {
		return fmt.Errorf("scheduler.ingest_interval must be greater than zero")
	}
	if c.Scheduler.AlertInterval <= 0 {
		return fmt.Errorf("scheduler.alert_interval must be greater than zero")
	}
	if c.Feed.Workers <= 0 {
		return fmt.Errorf("feed.workers must be greater than zero")
	}
	if c.Alerting.Workers <= 0 {
		return fmt.Errorf("alerting.workers must be greater than zero")
	}
	if c.Alerting.MaxPerWindow <= 0 {
		return fmt.Errorf("alerting.max_per_window must be greater than zero")
	}
	if c.Alerting.ThrottleWindow <= 0 {
		return fmt.Errorf("alerting.throttle_window must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
