// Package config provides configuration management for the prompt catalog.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gstripling00/prompt-system/internal/common/logger"
)

// Config holds all configuration sections.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	NATS          NATSConfig          `mapstructure:"nats"`
	Landing       LandingConfig       `mapstructure:"landing"`
	Ingestion     IngestionConfig     `mapstructure:"ingestion"`
	Monitor       MonitorConfig       `mapstructure:"monitor"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig selects and configures the warehouse.
// Driver "sqlite" uses Path; driver "postgres" uses the connection fields.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the in-memory bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LandingConfig describes where batch files land and which ones trigger ingestion.
type LandingConfig struct {
	Mode         string   `mapstructure:"mode"` // local, gcs, gcs_emulator
	LocalDir     string   `mapstructure:"localDir"`
	Bucket       string   `mapstructure:"bucket"`
	Prefix       string   `mapstructure:"prefix"`
	Patterns     []string `mapstructure:"patterns"`
	EmulatorHost string   `mapstructure:"emulatorHost"`
	Watch        bool     `mapstructure:"watch"`
}

// IngestionConfig tunes the ingestion pipeline.
type IngestionConfig struct {
	ArchivePolicy      string `mapstructure:"archivePolicy"` // merge, authoritative, phase_scoped
	TagDelimiter       string `mapstructure:"tagDelimiter"`
	ChangedBy          string `mapstructure:"changedBy"`
	MaxConflictRetries int    `mapstructure:"maxConflictRetries"`
	TriggerAttempts    int    `mapstructure:"triggerAttempts"`
	InvocationTimeout  int    `mapstructure:"invocationTimeout"` // in seconds
	StorageTimeout     int    `mapstructure:"storageTimeout"`    // in seconds
	WriteTimeout       int    `mapstructure:"writeTimeout"`      // in seconds
}

// MonitorConfig holds the two alert policies and their shared timings.
type MonitorConfig struct {
	Enabled               bool    `mapstructure:"enabled"`
	Schedule              string  `mapstructure:"schedule"`
	PipelineWindow        string  `mapstructure:"pipelineWindow"`
	PipelineRateThreshold float64 `mapstructure:"pipelineRateThreshold"`
	PipelineMinSamples    int     `mapstructure:"pipelineMinSamples"`
	WriteWindow           string  `mapstructure:"writeWindow"`
	WriteCountThreshold   int     `mapstructure:"writeCountThreshold"`
	Cooldown              string  `mapstructure:"cooldown"`
	AutoClose             string  `mapstructure:"autoClose"`
}

// NotificationsConfig selects the alert channel.
type NotificationsConfig struct {
	Provider    string   `mapstructure:"provider"` // log, webhook, apprise
	WebhookURL  string   `mapstructure:"webhookUrl"`
	AppriseURLs []string `mapstructure:"appriseUrls"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

func (i *IngestionConfig) InvocationTimeoutDuration() time.Duration {
	return time.Duration(i.InvocationTimeout) * time.Second
}

func (i *IngestionConfig) StorageTimeoutDuration() time.Duration {
	return time.Duration(i.StorageTimeout) * time.Second
}

func (i *IngestionConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(i.WriteTimeout) * time.Second
}

// Durations parses the monitor's textual durations. validate guarantees they parse.
func (m *MonitorConfig) Durations() (pipelineWindow, writeWindow, cooldown, autoClose time.Duration) {
	pipelineWindow, _ = time.ParseDuration(m.PipelineWindow)
	writeWindow, _ = time.ParseDuration(m.WriteWindow)
	cooldown, _ = time.ParseDuration(m.Cooldown)
	autoClose, _ = time.ParseDuration(m.AutoClose)
	return
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	// Push-triggered ingestion runs inside the request, so this must outlast ingestion.invocationTimeout.
	v.SetDefault("server.writeTimeout", 600)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./prompts.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "prompts")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "prompts")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// Empty URL means use the in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "promptcatalog")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("landing.mode", "local")
	v.SetDefault("landing.localDir", "./landing")
	v.SetDefault("landing.bucket", "")
	v.SetDefault("landing.prefix", "batches/")
	v.SetDefault("landing.patterns", []string{"*.csv", "*.xlsx"})
	v.SetDefault("landing.emulatorHost", "")
	v.SetDefault("landing.watch", true)

	v.SetDefault("ingestion.archivePolicy", "merge")
	v.SetDefault("ingestion.tagDelimiter", ",")
	v.SetDefault("ingestion.changedBy", "ingestion-pipeline")
	v.SetDefault("ingestion.maxConflictRetries", 3)
	v.SetDefault("ingestion.triggerAttempts", 3)
	v.SetDefault("ingestion.invocationTimeout", 540)
	v.SetDefault("ingestion.storageTimeout", 60)
	v.SetDefault("ingestion.writeTimeout", 300)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.schedule", "@every 1m")
	v.SetDefault("monitor.pipelineWindow", "5m")
	v.SetDefault("monitor.pipelineRateThreshold", 0.2)
	v.SetDefault("monitor.pipelineMinSamples", 1)
	v.SetDefault("monitor.writeWindow", "1h")
	v.SetDefault("monitor.writeCountThreshold", 3)
	v.SetDefault("monitor.cooldown", "30m")
	v.SetDefault("monitor.autoClose", "30m")

	v.SetDefault("notifications.provider", "log")
	v.SetDefault("notifications.webhookUrl", "")
	v.SetDefault("notifications.appriseUrls", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", logger.DetectFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix PROMPTS_ with dots replaced by underscores.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified directory or the default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PROMPTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only matches keys verbatim, so camelCase keys need explicit bindings.
	_ = v.BindEnv("database.path", "PROMPTS_DB_PATH")
	_ = v.BindEnv("database.driver", "PROMPTS_DB_DRIVER")
	_ = v.BindEnv("landing.localDir", "PROMPTS_LANDING_LOCAL_DIR")
	_ = v.BindEnv("landing.emulatorHost", "STORAGE_EMULATOR_HOST")
	_ = v.BindEnv("ingestion.archivePolicy", "PROMPTS_ARCHIVE_POLICY")
	_ = v.BindEnv("notifications.webhookUrl", "PROMPTS_ALERT_WEBHOOK_URL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/promptcatalog/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.Host == "" || cfg.Database.DBName == "" || cfg.Database.User == "" {
			errs = append(errs, "database.host, database.user and database.dbName are required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	switch cfg.Landing.Mode {
	case "local":
		if cfg.Landing.LocalDir == "" {
			errs = append(errs, "landing.localDir is required in local mode")
		}
	case "gcs", "gcs_emulator":
		if cfg.Landing.Bucket == "" {
			errs = append(errs, "landing.bucket is required in gcs modes")
		}
		if cfg.Landing.Mode == "gcs_emulator" && cfg.Landing.EmulatorHost == "" {
			errs = append(errs, "landing.emulatorHost is required in gcs_emulator mode")
		}
	default:
		errs = append(errs, "landing.mode must be one of: local, gcs, gcs_emulator")
	}
	if len(cfg.Landing.Patterns) == 0 {
		errs = append(errs, "landing.patterns must not be empty")
	}

	switch cfg.Ingestion.ArchivePolicy {
	case "merge", "authoritative", "phase_scoped":
	default:
		errs = append(errs, "ingestion.archivePolicy must be one of: merge, authoritative, phase_scoped")
	}
	if cfg.Ingestion.TagDelimiter == "" {
		errs = append(errs, "ingestion.tagDelimiter must not be empty")
	}
	if cfg.Ingestion.MaxConflictRetries < 0 {
		errs = append(errs, "ingestion.maxConflictRetries must not be negative")
	}
	if cfg.Ingestion.TriggerAttempts <= 0 {
		errs = append(errs, "ingestion.triggerAttempts must be positive")
	}
	if cfg.Ingestion.InvocationTimeout <= 0 || cfg.Ingestion.StorageTimeout <= 0 || cfg.Ingestion.WriteTimeout <= 0 {
		errs = append(errs, "ingestion timeouts must be positive")
	}
	if cfg.Server.WriteTimeout > 0 && cfg.Server.WriteTimeout <= cfg.Ingestion.InvocationTimeout {
		errs = append(errs, "server.writeTimeout must exceed ingestion.invocationTimeout")
	}

	for key, raw := range map[string]string{
		"monitor.pipelineWindow": cfg.Monitor.PipelineWindow,
		"monitor.writeWindow":    cfg.Monitor.WriteWindow,
		"monitor.cooldown":       cfg.Monitor.Cooldown,
		"monitor.autoClose":      cfg.Monitor.AutoClose,
	} {
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			errs = append(errs, key+" must be a positive duration")
		}
	}
	if cfg.Monitor.PipelineRateThreshold < 0 || cfg.Monitor.PipelineRateThreshold > 1 {
		errs = append(errs, "monitor.pipelineRateThreshold must be between 0 and 1")
	}
	if cfg.Monitor.WriteCountThreshold < 0 {
		errs = append(errs, "monitor.writeCountThreshold must not be negative")
	}

	switch cfg.Notifications.Provider {
	case "log":
	case "webhook":
		if cfg.Notifications.WebhookURL == "" {
			errs = append(errs, "notifications.webhookUrl is required for the webhook provider")
		}
	case "apprise":
		if len(cfg.Notifications.AppriseURLs) == 0 {
			errs = append(errs, "notifications.appriseUrls is required for the apprise provider")
		}
	default:
		errs = append(errs, "notifications.provider must be one of: log, webhook, apprise")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}
