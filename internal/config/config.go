package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/afroash/sensor-pipeline/internal/sensor"
)

// SimulatorConfig holds all configuration for the simulated sensor client
type SimulatorConfig struct {
	Sensor  SensorConfig  `yaml:"sensor"`
	Uplink  UplinkConfig  `yaml:"uplink"`
	Buffer  BufferConfig  `yaml:"buffer"`
	Logging LoggingConfig `yaml:"logging"`
}

// SensorConfig contains sensor identity and the simulation profile
type SensorConfig struct {
	ID           string                 `yaml:"id"`
	Location     string                 `yaml:"location"`
	DeviceType   string                 `yaml:"device_type"`
	ReadInterval time.Duration          `yaml:"read_interval"`
	Simulation   sensor.SimulatorConfig `yaml:"simulation"`
}

// Uplink transports
const (
	TransportWebSocket = "websocket"
	TransportREST      = "rest"
)

// UplinkConfig contains connection settings for the ingestion server. URL
// is a ws:// URL for the websocket transport and an http:// base URL for
// rest.
type UplinkConfig struct {
	Transport            string        `yaml:"transport"`
	URL                  string        `yaml:"url"`
	AuthToken            string        `yaml:"auth_token"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	ReplyTimeout         time.Duration `yaml:"reply_timeout"`
	RetryCount           int           `yaml:"retry_count"`
	HealthInterval       time.Duration `yaml:"health_interval"`
	BatchSize            int           `yaml:"batch_size"`
	FlushInterval        time.Duration `yaml:"flush_interval"`
}

// BufferConfig contains settings for the reading buffer
type BufferConfig struct {
	Size       int  `yaml:"size"`
	DropOldest bool `yaml:"drop_oldest"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"` // json or text
	FilePath string `yaml:"file_path"`
}

// LoadSimulatorConfig loads simulator configuration from a YAML file
func LoadSimulatorConfig(path string) (*SimulatorConfig, error) {
	// booleans and nested records can't be told apart from unset after
	// decoding, so they start from their defaults
	config := SimulatorConfig{
		Sensor: SensorConfig{Simulation: sensor.DefaultSimulatorConfig()},
		Buffer: BufferConfig{DropOldest: true},
	}
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

// ApplyDefaults sets default values for any unset fields
func (c *SimulatorConfig) ApplyDefaults() {
	if c.Sensor.ID == "" {
		c.Sensor.ID = "SIM_001"
	}
	if c.Sensor.Location == "" {
		c.Sensor.Location = "Storage Room A"
	}
	if c.Sensor.DeviceType == "" {
		c.Sensor.DeviceType = "simulator"
	}
	if c.Sensor.ReadInterval == 0 {
		c.Sensor.ReadInterval = 2 * time.Second
	}
	if c.Uplink.Transport == "" {
		c.Uplink.Transport = TransportWebSocket
	}
	if c.Uplink.URL == "" {
		if c.Uplink.Transport == TransportREST {
			c.Uplink.URL = "http://localhost:8081"
		} else {
			c.Uplink.URL = "ws://localhost:8081/sensor-stream"
		}
	}
	if c.Uplink.ReconnectInterval == 0 {
		c.Uplink.ReconnectInterval = 1 * time.Second
	}
	if c.Uplink.MaxReconnectInterval == 0 {
		c.Uplink.MaxReconnectInterval = 5 * time.Minute
	}
	if c.Uplink.PingInterval == 0 {
		c.Uplink.PingInterval = 30 * time.Second
	}
	if c.Uplink.ReplyTimeout == 0 {
		c.Uplink.ReplyTimeout = 10 * time.Second
	}
	if c.Uplink.HealthInterval == 0 {
		c.Uplink.HealthInterval = 5 * time.Second
	}
	if c.Uplink.BatchSize == 0 {
		c.Uplink.BatchSize = 50
	}
	if c.Uplink.FlushInterval == 0 {
		c.Uplink.FlushInterval = 5 * time.Second
	}
	if c.Buffer.Size == 0 {
		c.Buffer.Size = 1000
	}
	c.Logging.applyDefaults()
}

// OverrideFromEnv overrides config values from environment variables
func (c *SimulatorConfig) OverrideFromEnv() error {
	if v := os.Getenv("SENSOR_ID"); v != "" {
		c.Sensor.ID = v
	}
	if v := os.Getenv("SENSOR_LOCATION"); v != "" {
		c.Sensor.Location = v
	}
	if v := os.Getenv("UPLINK_TRANSPORT"); v != "" {
		c.Uplink.Transport = v
	}
	if v := os.Getenv("UPLINK_URL"); v != "" {
		c.Uplink.URL = v
	}
	if v := os.Getenv("UPLINK_AUTH_TOKEN"); v != "" {
		c.Uplink.AuthToken = v
	}
	if err := envDuration("SENSOR_READ_INTERVAL", &c.Sensor.ReadInterval); err != nil {
		return err
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *SimulatorConfig) Validate() error {
	if c.Sensor.ID == "" {
		return fmt.Errorf("sensor ID is required")
	}
	if c.Sensor.ReadInterval < 100*time.Millisecond {
		return fmt.Errorf("read interval must be at least 100ms")
	}
	if err := c.Sensor.Simulation.Validate(); err != nil {
		return fmt.Errorf("simulation: %w", err)
	}

	switch c.Uplink.Transport {
	case TransportWebSocket:
		if !strings.HasPrefix(c.Uplink.URL, "ws://") && !strings.HasPrefix(c.Uplink.URL, "wss://") {
			return fmt.Errorf("websocket uplink URL must start with ws:// or wss://")
		}
	case TransportREST:
		if !strings.HasPrefix(c.Uplink.URL, "http://") && !strings.HasPrefix(c.Uplink.URL, "https://") {
			return fmt.Errorf("rest uplink URL must start with http:// or https://")
		}
	default:
		return fmt.Errorf("uplink transport must be %q or %q, got %q", TransportWebSocket, TransportREST, c.Uplink.Transport)
	}
	if c.Uplink.ReconnectInterval > c.Uplink.MaxReconnectInterval {
		return fmt.Errorf("reconnect interval must not exceed max reconnect interval")
	}
	if c.Uplink.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if c.Buffer.Size < 10 || c.Buffer.Size > 100000 {
		return fmt.Errorf("buffer size must be between 10 and 100000")
	}
	return c.Logging.Validate()
}

// String returns a safe string representation (hides auth token)
func (c *SimulatorConfig) String() string {
	return fmt.Sprintf("SimulatorConfig{Sensor: [ID=%s, Location=%s, Interval=%v], Uplink: [%s %s, Token=%s], Buffer: %+v, Logging: %+v}",
		c.Sensor.ID,
		c.Sensor.Location,
		c.Sensor.ReadInterval,
		c.Uplink.Transport,
		c.Uplink.URL,
		maskToken(c.Uplink.AuthToken),
		c.Buffer,
		c.Logging,
	)
}

func (l *LoggingConfig) applyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "json"
	}
}

// Validate checks the level and format
func (l LoggingConfig) Validate() error {
	if _, err := zerolog.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("invalid log level %q", l.Level)
	}
	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be json or text, got %q", l.Format)
	}
	return nil
}

// LoadDotEnv loads environment variables from the given files, or .env when
// none are given. Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func readYAML(path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// maskToken masks all but first 4 characters of a token
func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
