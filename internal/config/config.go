// Package config provides configuration management for the webcodecs
// daemon using Viper: file, environment-variable, and default-value
// layering the same way the teacher's internal/config package does for
// tvarr, adapted onto this module's own Server/Logging/Backend/Resource
// sections instead of tvarr's database/storage/ingestion/relay ones.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 9090
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultInactivity      = 10 * time.Second
	defaultSweepSchedule   = "@every 30s"
	defaultBackendTimeout  = 5 * time.Second
)

// Config holds all configuration for the webcodecs daemon (SPEC_FULL.md
// §10.3).
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Resource ResourceConfig `mapstructure:"resource"`
}

// ServerConfig holds the admin/introspection HTTP surface's listen and
// timeout configuration (SPEC_FULL.md §12.5).
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LoggingConfig holds structured-logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// BackendConfig holds Codec Backend configuration: where to find the
// FFmpeg binary, the default hardware-acceleration preference, and the
// optional remote backendrpc sidecar address.
type BackendConfig struct {
	// BinaryPath is the path to the ffmpeg binary. Empty means auto-detect
	// via PATH, the same convention ffmpegbackend.BinaryPath uses.
	BinaryPath string `mapstructure:"binary_path"`
	// HardwareAcceleration is a hardware-acceleration preference
	// (media.HardwareAccelPreference spelling). It is loaded but not passed to
	// instances; each instance uses the hint in its own configure config.
	HardwareAcceleration string `mapstructure:"hardware_acceleration"`
	// PerCallTimeout is a per-backend-call timeout. It is loaded but not
	// applied; codecore bounds each backend call with its own fixed timeout.
	PerCallTimeout time.Duration `mapstructure:"per_call_timeout"`
	// RemoteAddr, when non-empty, makes instances dial a backendrpc.Server
	// sidecar at this address instead of spawning FFmpeg in-process.
	RemoteAddr string `mapstructure:"remote_addr"`
}

// ResourceConfig holds resource-reclamation manager configuration
// (spec.md §4.7, SPEC_FULL.md §11).
type ResourceConfig struct {
	// InactivityThreshold is loaded and checked to be non-negative but is
	// not applied: resourcemgr.Manager always uses the fixed 10s
	// resourcemgr.InactivityThreshold window.
	InactivityThreshold time.Duration `mapstructure:"inactivity_threshold"`
	// SweepEnabled starts resourcemgr.Manager's cron-driven periodic sweep
	// (timer-driven reclamation). Independent of pressure-driven reclaim,
	// which an embedder triggers explicitly by calling Manager.Reclaim.
	SweepEnabled bool `mapstructure:"sweep_enabled"`
	// SweepSchedule is the cron expression the periodic sweep runs on.
	SweepSchedule string `mapstructure:"sweep_schedule"`
	// ActivityLogDSN, when non-empty, attaches a durable activitylog.Journal
	// at this sqlite DSN to the manager.
	ActivityLogDSN string `mapstructure:"activity_log_dsn"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with WEBCODECS_, using underscores for nesting (e.g.
// WEBCODECS_SERVER_PORT=9090).
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
		v.AddConfigPath("/etc/webcodecs")
		v.AddConfigPath("$HOME/.webcodecs")
	}

	v.SetEnvPrefix("WEBCODECS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// Called before reading the config file so defaults are already in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("backend.binary_path", "")
	v.SetDefault("backend.hardware_acceleration", "")
	v.SetDefault("backend.per_call_timeout", defaultBackendTimeout)
	v.SetDefault("backend.remote_addr", "")

	v.SetDefault("resource.inactivity_threshold", defaultInactivity)
	v.SetDefault("resource.sweep_enabled", true)
	v.SetDefault("resource.sweep_schedule", defaultSweepSchedule)
	v.SetDefault("resource.activity_log_dsn", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Resource.InactivityThreshold < 0 {
		return fmt.Errorf("resource.inactivity_threshold must not be negative")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
