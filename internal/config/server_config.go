package config

import (
	"fmt"
	"os"
	"time"

	"github.com/afroash/sensor-pipeline/internal/analytics"
	"github.com/afroash/sensor-pipeline/internal/processing"
	"github.com/afroash/sensor-pipeline/internal/storage"
	"github.com/afroash/sensor-pipeline/internal/store"
)

// AppConfig holds the ingestion server configuration
type AppConfig struct {
	Server     ServerSettings     `yaml:"server"`
	Store      StoreSettings      `yaml:"store"`
	Processing processing.Options `yaml:"processing"`
	Analytics  analytics.Config   `yaml:"analytics"`
	Archive    ArchiveSettings    `yaml:"archive"`
	Logging    LoggingConfig      `yaml:"logging"`
}

// ServerSettings contains HTTP server configuration
type ServerSettings struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// Addr returns host:port
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreSettings contains in-memory store configuration
type StoreSettings struct {
	MaxRecords int `yaml:"max_records"`
}

// ArchiveSettings configures the optional SQLite archive
type ArchiveSettings struct {
	Enabled   bool                    `yaml:"enabled"`
	DBPath    string                  `yaml:"db_path"`
	Writer    storage.WriterConfig    `yaml:"writer"`
	Retention storage.RetentionConfig `yaml:"retention"`
}

// DefaultAppConfig returns the configuration used for unset fields
func DefaultAppConfig() AppConfig {
	cfg := AppConfig{
		Processing: processing.DefaultOptions(),
		Analytics:  analytics.DefaultConfig(),
		Archive: ArchiveSettings{
			Writer:    storage.DefaultWriterConfig(),
			Retention: storage.DefaultRetentionConfig(),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// LoadAppConfig loads server configuration from a YAML file. Fields absent
// from the file keep their defaults.
func LoadAppConfig(path string) (*AppConfig, error) {
	config := DefaultAppConfig()
	if err := readYAML(path, &config); err != nil {
		return nil, err
	}

	config.ApplyDefaults()
	if err := config.OverrideFromEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for server config
func (ac *AppConfig) ApplyDefaults() {
	if ac.Server.Port == 0 {
		ac.Server.Port = 8081
	}
	if ac.Server.Host == "" {
		ac.Server.Host = "localhost"
	}
	if ac.Server.ReadTimeout == 0 {
		ac.Server.ReadTimeout = 60 * time.Second
	}
	if ac.Server.WriteTimeout == 0 {
		ac.Server.WriteTimeout = 10 * time.Second
	}
	if len(ac.Server.AllowedOrigins) == 0 {
		ac.Server.AllowedOrigins = []string{"*"}
	}
	if ac.Store.MaxRecords == 0 {
		ac.Store.MaxRecords = store.DefaultMaxRecords
	}
	if ac.Archive.DBPath == "" {
		ac.Archive.DBPath = "./data/sensor-archive.db"
	}
	ac.Logging.applyDefaults()
}

// OverrideFromEnv overrides config from environment variables
func (ac *AppConfig) OverrideFromEnv() error {
	if err := envInt("SERVER_PORT", &ac.Server.Port); err != nil {
		return err
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		ac.Server.Host = v
	}
	if err := envInt("STORE_MAX_RECORDS", &ac.Store.MaxRecords); err != nil {
		return err
	}
	if err := envBool("ARCHIVE_ENABLED", &ac.Archive.Enabled); err != nil {
		return err
	}
	if v := os.Getenv("ARCHIVE_DB_PATH"); v != "" {
		ac.Archive.DBPath = v
	}
	if err := envInt("ARCHIVE_RETENTION_DAYS", &ac.Archive.Retention.RetentionDays); err != nil {
		return err
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		ac.Logging.Level = v
	}
	return nil
}

// Validate checks if server configuration is valid
func (ac *AppConfig) Validate() error {
	if ac.Server.Port < 1 || ac.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if ac.Store.MaxRecords < 1 {
		return fmt.Errorf("store max_records must be at least 1")
	}
	if err := ac.Processing.Validate(); err != nil {
		return fmt.Errorf("processing: %w", err)
	}
	if err := ac.Analytics.Validate(); err != nil {
		return fmt.Errorf("analytics: %w", err)
	}
	if ac.Archive.Enabled && ac.Archive.Retention.RetentionDays < 1 {
		return fmt.Errorf("archive retention_days must be at least 1")
	}
	return ac.Logging.Validate()
}

// String returns a short summary of the configuration
func (ac *AppConfig) String() string {
	return fmt.Sprintf("AppConfig{Server: %s, Store: %+v, Archive: [Enabled=%t, Path=%s], Logging: %+v}",
		ac.Server.Addr(),
		ac.Store,
		ac.Archive.Enabled,
		ac.Archive.DBPath,
		ac.Logging,
	)
}
