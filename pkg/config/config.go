// Package config loads and validates the refresh service configuration from
// YAML files with environment-variable overrides. It provides typed structs
// for every subsystem (Storage, Refresh, Layout, Postgres, Kafka, Redis, etc.).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Layout   LayoutConfig   `yaml:"layout"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds admin HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// AdminToken, when set, is required as a bearer token on /api routes.
	AdminToken string `yaml:"adminToken"`
	// RefreshRateLimit caps manual refreshes per alias per minute; 0 means
	// unlimited.
	RefreshRateLimit int `yaml:"refreshRateLimit"`
}

// StorageConfig locates the on-disk state owned by the refresh service.
type StorageConfig struct {
	DataDir string `yaml:"dataDir"`
	// AliasesDir holds one pointer file per alias. Defaults to DataDir/aliases.
	AliasesDir string `yaml:"aliasesDir"`
	// VersionsDir holds IndexVersion directories, one subdirectory per alias.
	VersionsDir string `yaml:"versionsDir"`
	// MetaDir is the internally authored meta-directory.
	MetaDir string `yaml:"metaDir"`
	// Registry selects the GlobalRegistry backend: "file" or "postgres".
	Registry     string `yaml:"registry"`
	RegistryFile string `yaml:"registryFile"`
}

// RefreshConfig controls the scheduler cadence, the external build
// commands and cleanup tuning.
type RefreshConfig struct {
	Interval           time.Duration `yaml:"interval"`
	CleanupGracePeriod time.Duration `yaml:"cleanupGracePeriod"`
	ReaperInterval     time.Duration `yaml:"reaperInterval"`
	StopTimeout        time.Duration `yaml:"stopTimeout"`
	GitTimeout         time.Duration `yaml:"gitTimeout"`
	IndexCommand       []string      `yaml:"indexCommand"`
	IndexTimeout       time.Duration `yaml:"indexTimeout"`
	TemporalArgs       []string      `yaml:"temporalArgs"`
	ScipCommand        []string      `yaml:"scipCommand"`
	ScipTimeout        time.Duration `yaml:"scipTimeout"`
	// MaterializeExclude lists doublestar globs, relative to the source
	// root, that are not copied into a new index version.
	MaterializeExclude []string `yaml:"materializeExclude"`
}

// LayoutConfig names the sub-index artifact locations relative to an
// IndexVersion directory.
type LayoutConfig struct {
	Semantic string `yaml:"semantic"`
	FTS      string `yaml:"fts"`
	Temporal string `yaml:"temporal"`
	SCIP     string `yaml:"scip"`
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
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexSwapped    string `yaml:"indexSwapped"`
	RefreshRequests string `yaml:"refreshRequests"`
}

// RedisConfig holds Redis connection parameters and the query-cache key
// prefix that is invalidated after a swap.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"poolSize"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// NotifyConfig tunes delivery of post-swap notifications. Each sink gets
// its own circuit breaker.
type NotifyConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	RetryAttempts    int           `yaml:"retryAttempts"`
	RetryDelay       time.Duration `yaml:"retryDelay"`
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
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
	cfg.Storage.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the scheduler cannot run with.
func (c *Config) Validate() error {
	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be positive, got %v", c.Refresh.Interval)
	}
	if c.Refresh.CleanupGracePeriod < 0 {
		return fmt.Errorf("refresh.cleanupGracePeriod must not be negative")
	}
	if len(c.Refresh.IndexCommand) == 0 {
		return fmt.Errorf("refresh.indexCommand is required")
	}
	if c.Refresh.IndexTimeout <= 0 || c.Refresh.ScipTimeout <= 0 {
		return fmt.Errorf("refresh.indexTimeout and refresh.scipTimeout must be positive")
	}
	for _, pattern := range c.Refresh.MaterializeExclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("refresh.materializeExclude: invalid pattern %q", pattern)
		}
	}
	if c.Layout.Semantic == "" {
		return fmt.Errorf("layout.semantic is required")
	}
	switch c.Storage.Registry {
	case "file", "postgres":
	default:
		return fmt.Errorf("storage.registry must be \"file\" or \"postgres\", got %q", c.Storage.Registry)
	}
	return nil
}

// resolve fills directory defaults that depend on DataDir.
func (s *StorageConfig) resolve() {
	if s.AliasesDir == "" {
		s.AliasesDir = filepath.Join(s.DataDir, "aliases")
	}
	if s.VersionsDir == "" {
		s.VersionsDir = filepath.Join(s.DataDir, "versions")
	}
	if s.MetaDir == "" {
		s.MetaDir = filepath.Join(s.DataDir, "meta")
	}
	if s.RegistryFile == "" {
		s.RegistryFile = filepath.Join(s.DataDir, "global_registry.json")
	}
}

// Default returns the built-in configuration with directory defaults
// resolved.
func Default() *Config {
	cfg := defaultConfig()
	cfg.Storage.resolve()
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Minute,
			ShutdownTimeout:  15 * time.Second,
			RefreshRateLimit: 6,
		},
		Storage: StorageConfig{
			DataDir:  "data",
			Registry: "file",
		},
		Refresh: RefreshConfig{
			Interval:           time.Hour,
			CleanupGracePeriod: 30 * time.Second,
			ReaperInterval:     time.Minute,
			StopTimeout:        5 * time.Second,
			GitTimeout:         2 * time.Minute,
			IndexCommand:       []string{"cidx", "index"},
			IndexTimeout:       time.Hour,
			TemporalArgs:       []string{"--index-commits"},
			ScipCommand:        []string{"cidx", "scip", "generate"},
			ScipTimeout:        30 * time.Minute,
			MaterializeExclude: []string{"**/node_modules/**", "**/__pycache__/**"},
		},
		Layout: LayoutConfig{
			Semantic: ".code-indexer/index",
			FTS:      ".code-indexer/tantivy_index",
			Temporal: ".code-indexer/index/code-indexer-temporal",
			SCIP:     ".code-indexer/scip",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "codeindex",
			User:            "codeindex",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "index-refresh",
			Topics: KafkaTopics{
				IndexSwapped:    "index.swapped",
				RefreshRequests: "refresh-requests",
			},
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  5,
			KeyPrefix: "search:",
		},
		Notify: NotifyConfig{
			Timeout:          5 * time.Second,
			RetryAttempts:    3,
			RetryDelay:       200 * time.Millisecond,
			BreakerThreshold: 3,
			BreakerReset:     time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9091,
		},
	}
}

// applyEnvOverrides reads CIR_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CIR_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CIR_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("CIR_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("CIR_META_DIR"); v != "" {
		cfg.Storage.MetaDir = v
	}
	if v := os.Getenv("CIR_REGISTRY"); v != "" {
		cfg.Storage.Registry = v
	}
	if v := os.Getenv("CIR_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Refresh.Interval = d
		}
	}
	if v := os.Getenv("CIR_SCIP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Refresh.ScipTimeout = d
		}
	}
	if v := os.Getenv("CIR_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("CIR_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("CIR_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("CIR_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("CIR_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("CIR_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("CIR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("CIR_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CIR_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CIR_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
