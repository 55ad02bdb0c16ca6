// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Engine, Annotation, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Engine     EngineConfig     `yaml:"engine"`
	Annotation AnnotationConfig `yaml:"annotation"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	AnnotationEvents string `yaml:"annotationEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// EngineConfig controls the pool of processing engines and the upstream
// layout, recognition and linking services each engine talks to.
type EngineConfig struct {
	PoolSize        int           `yaml:"poolSize"`
	AcquireTimeout  time.Duration `yaml:"acquireTimeout"`
	SegmenterURL    string        `yaml:"segmenterUrl"`
	ExtractorURL    string        `yaml:"extractorUrl"`
	LinkerURL       string        `yaml:"linkerUrl"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	MaxRetries      int           `yaml:"maxRetries"`
	BreakerFailures int           `yaml:"breakerFailures"`
	BreakerReset    time.Duration `yaml:"breakerReset"`
}

// AnnotationConfig holds request-level limits of the annotation API.
type AnnotationConfig struct {
	SupportedLanguages []string      `yaml:"supportedLanguages"`
	LanguageConfidence float64       `yaml:"languageConfidence"`
	MinTextLength      int           `yaml:"minTextLength"`
	MaxUploadBytes     int64         `yaml:"maxUploadBytes"`
	CacheEnabled       bool          `yaml:"cacheEnabled"`
	EventBuffer        int           `yaml:"eventBuffer"`
	EventBatchSize     int           `yaml:"eventBatchSize"`
	EventFlushInterval time.Duration `yaml:"eventFlushInterval"`
}

// RecorderConfig controls the service that consumes annotation events into
// the aggregator and the PostgreSQL ledger.
type RecorderConfig struct {
	Port             int           `yaml:"port"`
	LedgerEnabled    bool          `yaml:"ledgerEnabled"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// RateLimitConfig controls the per-client token bucket in front of the API.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sampleRate"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the annotator cannot run with.
func (c *Config) Validate() error {
	if c.Engine.PoolSize <= 0 {
		return fmt.Errorf("engine.poolSize must be positive, got %d", c.Engine.PoolSize)
	}
	if c.Engine.AcquireTimeout <= 0 {
		return fmt.Errorf("engine.acquireTimeout must be positive, got %v", c.Engine.AcquireTimeout)
	}
	if len(c.Annotation.SupportedLanguages) == 0 {
		return fmt.Errorf("annotation.supportedLanguages must not be empty")
	}
	return nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8090,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "annotation",
			User:            "annotation",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "annotation-recorder",
			Topics: KafkaTopics{
				AnnotationEvents: "annotation-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 24 * time.Hour,
		},
		Engine: EngineConfig{
			PoolSize:        4,
			AcquireTimeout:  10 * time.Second,
			SegmenterURL:    "http://localhost:8070",
			ExtractorURL:    "http://localhost:8071",
			LinkerURL:       "http://localhost:8072",
			RequestTimeout:  2 * time.Minute,
			MaxRetries:      3,
			BreakerFailures: 5,
			BreakerReset:    30 * time.Second,
		},
		Annotation: AnnotationConfig{
			SupportedLanguages: []string{"en", "de", "fr"},
			LanguageConfidence: 0.2,
			MinTextLength:      6,
			MaxUploadBytes:     50 << 20,
			CacheEnabled:       true,
			EventBuffer:        10000,
			EventBatchSize:     100,
			EventFlushInterval: time.Second,
		},
		Recorder: RecorderConfig{
			Port:             8091,
			LedgerEnabled:    true,
			SnapshotInterval: time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 60,
			Window:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:    true,
			SampleRate: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9091,
		},
	}
}

// applyEnvOverrides reads EA_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EA_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("EA_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("EA_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("EA_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("EA_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("EA_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("EA_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("EA_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("EA_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("EA_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("EA_ENGINE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.PoolSize = n
		}
	}
	if v := os.Getenv("EA_ENGINE_ACQUIRE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.AcquireTimeout = d
		}
	}
	if v := os.Getenv("EA_ENGINE_SEGMENTER_URL"); v != "" {
		cfg.Engine.SegmenterURL = v
	}
	if v := os.Getenv("EA_ENGINE_EXTRACTOR_URL"); v != "" {
		cfg.Engine.ExtractorURL = v
	}
	if v := os.Getenv("EA_ENGINE_LINKER_URL"); v != "" {
		cfg.Engine.LinkerURL = v
	}
	if v := os.Getenv("EA_ANNOTATION_LANGUAGES"); v != "" {
		cfg.Annotation.SupportedLanguages = strings.Split(v, ",")
	}
	if v := os.Getenv("EA_RECORDER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Recorder.Port = port
		}
	}
	if v := os.Getenv("EA_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("EA_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
