// Package config provides configuration management for audiocast using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort        = 8080
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxOpenConns      = 10
	defaultMaxIdleConns      = 5
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultMediaAPITimeout   = 15 * time.Second
	defaultRetryAttempts     = 2
	defaultRetryDelay        = 500 * time.Millisecond
	defaultCircuitThreshold  = 5
	defaultCircuitTimeout    = 30 * time.Second
	defaultWarmBytes         = 256 * 1024
	defaultFunctionPath      = "/functions/v1/get-audio-url"
	defaultCachePruneCron    = "0 */10 * * * *"
	defaultFallbackDownlink  = 5.0
	defaultFallbackRTTMillis = 100
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	MediaAPI  MediaAPIConfig  `mapstructure:"media_api"`
	Device    DeviceConfig    `mapstructure:"device"`
	Network   NetworkConfig   `mapstructure:"network"`
	Prefetch  PrefetchConfig  `mapstructure:"prefetch"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP control API configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
// The database only backs the signed-URL cache when storage.cache_backend is "database".
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds local persistence configuration.
type StorageConfig struct {
	BaseDir      string `mapstructure:"base_dir"`
	CacheBackend string `mapstructure:"cache_backend"` // memory, disk, database
	CacheDir     string `mapstructure:"cache_dir"`
	// CacheMemory is the in-memory read cache diskv keeps in front of the files.
	CacheMemory ByteSize `mapstructure:"cache_memory"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// MediaAPIConfig describes the serverless function that mints signed media URLs.
type MediaAPIConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	FunctionPath     string        `mapstructure:"function_path"`
	AnonKey          string        `mapstructure:"anon_key"`
	AccessToken      string        `mapstructure:"access_token"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	CircuitThreshold int           `mapstructure:"circuit_threshold"`
	CircuitTimeout   time.Duration `mapstructure:"circuit_timeout"`
}

// DeviceConfig holds the static device signals a headless client cannot detect.
type DeviceConfig struct {
	FormFactor string `mapstructure:"form_factor"` // mobile, tablet, desktop, tv
	Touch      bool   `mapstructure:"touch"`
	ScreenSize string `mapstructure:"screen_size"` // small, medium, large
	// DetectHost reads memory and core count from the host when true.
	DetectHost bool `mapstructure:"detect_host"`
	// MemoryGiB and Cores override host detection when non-zero.
	MemoryGiB float64 `mapstructure:"memory_gib"`
	Cores     int     `mapstructure:"cores"`
}

// NetworkConfig seeds the connection signals. When Available is false the
// profiler behaves as if the platform connection API is absent.
type NetworkConfig struct {
	Available     bool    `mapstructure:"available"`
	EffectiveType string  `mapstructure:"effective_type"`
	DownlinkMbps  float64 `mapstructure:"downlink_mbps"`
	RTTMillis     int     `mapstructure:"rtt_ms"`
	SaveData      bool    `mapstructure:"save_data"`
}

// PrefetchConfig controls warm-up requests issued for prefetch hints.
type PrefetchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	WarmBytes ByteSize `mapstructure:"warm_bytes"`
}

// SchedulerConfig holds background job schedules.
type SchedulerConfig struct {
	// CachePruneCron is a 6-field cron expression for pruning stale signed URLs.
	CachePruneCron string `mapstructure:"cache_prune_cron"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with AUDIOCAST_ and use underscores for nesting.
// Example: AUDIOCAST_MEDIA_API_BASE_URL=https://example.supabase.co.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/audiocast")
		v.AddConfigPath("$HOME/.audiocast")
	}

	v.SetEnvPrefix("AUDIOCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates a configuration from an existing Viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "audiocast.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.cache_backend", "disk")
	v.SetDefault("storage.cache_dir", "url-cache")
	v.SetDefault("storage.cache_memory", 64*1024)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Media API defaults
	v.SetDefault("media_api.base_url", "")
	v.SetDefault("media_api.function_path", defaultFunctionPath)
	v.SetDefault("media_api.anon_key", "")
	v.SetDefault("media_api.access_token", "")
	v.SetDefault("media_api.timeout", defaultMediaAPITimeout)
	v.SetDefault("media_api.retry_attempts", defaultRetryAttempts)
	v.SetDefault("media_api.retry_delay", defaultRetryDelay)
	v.SetDefault("media_api.circuit_threshold", defaultCircuitThreshold)
	v.SetDefault("media_api.circuit_timeout", defaultCircuitTimeout)

	// Device defaults
	v.SetDefault("device.form_factor", "desktop")
	v.SetDefault("device.touch", false)
	v.SetDefault("device.screen_size", "large")
	v.SetDefault("device.detect_host", true)
	v.SetDefault("device.memory_gib", 0)
	v.SetDefault("device.cores", 0)

	// Network defaults: API absent until something reports connection signals
	v.SetDefault("network.available", false)
	v.SetDefault("network.effective_type", "4g")
	v.SetDefault("network.downlink_mbps", defaultFallbackDownlink)
	v.SetDefault("network.rtt_ms", defaultFallbackRTTMillis)
	v.SetDefault("network.save_data", false)

	// Prefetch defaults
	v.SetDefault("prefetch.enabled", true)
	v.SetDefault("prefetch.warm_bytes", defaultWarmBytes)

	// Scheduler defaults
	v.SetDefault("scheduler.cache_prune_cron", defaultCachePruneCron)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}

	validBackends := map[string]bool{"memory": true, "disk": true, "database": true}
	if !validBackends[c.Storage.CacheBackend] {
		return fmt.Errorf("storage.cache_backend must be one of: memory, disk, database")
	}
	if c.Storage.CacheBackend == "disk" && c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required for the disk cache backend")
	}
	if c.Storage.CacheBackend == "database" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the database cache backend")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.MediaAPI.RetryAttempts < 0 {
		return fmt.Errorf("media_api.retry_attempts must not be negative")
	}

	validForms := map[string]bool{"mobile": true, "tablet": true, "desktop": true, "tv": true}
	if !validForms[c.Device.FormFactor] {
		return fmt.Errorf("device.form_factor must be one of: mobile, tablet, desktop, tv")
	}
	validScreens := map[string]bool{"small": true, "medium": true, "large": true}
	if !validScreens[c.Device.ScreenSize] {
		return fmt.Errorf("device.screen_size must be one of: small, medium, large")
	}

	if c.Network.DownlinkMbps < 0 || c.Network.RTTMillis < 0 {
		return fmt.Errorf("network.downlink_mbps and network.rtt_ms must not be negative")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CachePath returns the full path to the disk-backed URL cache.
func (c *StorageConfig) CachePath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.CacheDir)
}

// SignedURLEndpoint returns the absolute URL of the signed-URL function.
func (c *MediaAPIConfig) SignedURLEndpoint() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(c.FunctionPath, "/")
}
