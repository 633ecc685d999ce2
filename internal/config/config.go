package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration
type Config struct {
	ServiceName string           `toml:"service_name"`
	Raven       RavenConfig      `toml:"raven"`
	Database    DatabaseConfig   `toml:"database"`
	Pipeline    PipelineConfig   `toml:"pipeline"`
	RabbitMQ    RabbitMQConfig   `toml:"rabbitmq"`
	Validation  ValidationConfig `toml:"validation"`
	Anomaly     AnomalyConfig    `toml:"anomaly"`
	Feed        FeedConfig       `toml:"feed"`
}

// RavenConfig holds the serial settings of the adapter
type RavenConfig struct {
	Port        string        `toml:"port"`
	BaudRate    uint          `toml:"baudrate"`
	ReadTimeout time.Duration `toml:"read_timeout"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver  string `toml:"driver"`
	URL     string `toml:"url"`
	Path    string `toml:"path"`
	Migrate bool   `toml:"migrate"`
}

// PipelineConfig holds producer/consumer settings
type PipelineConfig struct {
	QueueSize            int           `toml:"queue_size"`
	ConsumerTimeout      time.Duration `toml:"consumer_timeout"`
	OpenTraceOnSummation bool          `toml:"open_trace_on_summation"`
}

// RabbitMQConfig holds the optional reading event publisher settings.
// An empty URL disables publishing.
type RabbitMQConfig struct {
	URL              string `toml:"url"`
	Exchange         string `toml:"exchange"`
	RoutingKeyPrefix string `toml:"routing_key_prefix"`
}

// ValidationConfig holds validation settings
type ValidationConfig struct {
	TimestampToleranceMinutes int `toml:"timestamp_tolerance_minutes"`
}

// AnomalyConfig holds anomaly detection settings
type AnomalyConfig struct {
	SpikeThreshold            float64 `toml:"spike_threshold"`
	MinDataPointsForDetection int     `toml:"min_data_points"`
	Window                    int     `toml:"window"`
}

// FeedConfig holds the live websocket feed settings
type FeedConfig struct {
	Enabled       bool   `toml:"enabled"`
	ListenAddress string `toml:"listen_address"`
}

// Default returns the configuration used when neither file nor environment set a value
func Default() *Config {
	return &Config{
		ServiceName: "raventracer",
		Raven: RavenConfig{
			BaudRate:    115200,
			ReadTimeout: 20 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: DriverPostgres,
		},
		Pipeline: PipelineConfig{
			QueueSize:       64,
			ConsumerTimeout: 60 * time.Second,
		},
		RabbitMQ: RabbitMQConfig{
			Exchange:         "raventracer.readings.exchange",
			RoutingKeyPrefix: "raven.reading",
		},
		Validation: ValidationConfig{
			TimestampToleranceMinutes: 10,
		},
		Anomaly: AnomalyConfig{
			SpikeThreshold:            3.0,
			MinDataPointsForDetection: 3,
			Window:                    30,
		},
		Feed: FeedConfig{
			ListenAddress: ":8081",
		},
	}
}

// Load reads the TOML file at path if it exists, then applies environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
	}

	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)

	cfg.Raven.Port = getEnv("RAVEN_PORT", cfg.Raven.Port)
	cfg.Raven.BaudRate = uint(getEnvAsInt("RAVEN_BAUDRATE", int(cfg.Raven.BaudRate)))
	cfg.Raven.ReadTimeout = getEnvAsDuration("RAVEN_READ_TIMEOUT", cfg.Raven.ReadTimeout)

	cfg.Database.Driver = getEnv("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Database.Path = getEnv("DATABASE_PATH", cfg.Database.Path)
	cfg.Database.Migrate = getEnvAsBool("DATABASE_MIGRATE", cfg.Database.Migrate)

	cfg.Pipeline.QueueSize = getEnvAsInt("PIPELINE_QUEUE_SIZE", cfg.Pipeline.QueueSize)
	cfg.Pipeline.ConsumerTimeout = getEnvAsDuration("PIPELINE_CONSUMER_TIMEOUT", cfg.Pipeline.ConsumerTimeout)
	cfg.Pipeline.OpenTraceOnSummation = getEnvAsBool("PIPELINE_OPEN_TRACE_ON_SUMMATION", cfg.Pipeline.OpenTraceOnSummation)

	cfg.RabbitMQ.URL = getEnv("RABBITMQ_URL", cfg.RabbitMQ.URL)
	cfg.RabbitMQ.Exchange = getEnv("RABBITMQ_EXCHANGE", cfg.RabbitMQ.Exchange)
	cfg.RabbitMQ.RoutingKeyPrefix = getEnv("RABBITMQ_ROUTING_KEY_PREFIX", cfg.RabbitMQ.RoutingKeyPrefix)

	cfg.Validation.TimestampToleranceMinutes = getEnvAsInt("VALIDATION_TIMESTAMP_TOLERANCE_MINUTES", cfg.Validation.TimestampToleranceMinutes)

	cfg.Anomaly.SpikeThreshold = getEnvAsFloat("ANOMALY_SPIKE_THRESHOLD", cfg.Anomaly.SpikeThreshold)
	cfg.Anomaly.MinDataPointsForDetection = getEnvAsInt("ANOMALY_MIN_DATA_POINTS", cfg.Anomaly.MinDataPointsForDetection)
	cfg.Anomaly.Window = getEnvAsInt("ANOMALY_WINDOW", cfg.Anomaly.Window)

	cfg.Feed.Enabled = getEnvAsBool("FEED_ENABLED", cfg.Feed.Enabled)
	cfg.Feed.ListenAddress = getEnv("FEED_LISTEN_ADDRESS", cfg.Feed.ListenAddress)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and ranges
func (c *Config) Validate() error {
	if c.Raven.Port == "" {
		return fmt.Errorf("RAVEN_PORT is required but not set in config file or environment variables")
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("DATABASE_PATH is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Pipeline.QueueSize < 1 {
		return fmt.Errorf("pipeline queue size must be at least 1, got %d", c.Pipeline.QueueSize)
	}
	if c.Pipeline.ConsumerTimeout <= 0 {
		return fmt.Errorf("pipeline consumer timeout must be positive, got %s", c.Pipeline.ConsumerTimeout)
	}
	if c.Raven.ReadTimeout <= 0 {
		return fmt.Errorf("raven read timeout must be positive, got %s", c.Raven.ReadTimeout)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
