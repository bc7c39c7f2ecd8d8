package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/asakaida/stepscope/internal/entities"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Cache       CacheConfig
	ObjectStore ObjectStoreConfig
	Logging     LoggingConfig
	Parse       ParseConfig
	Extract     ExtractConfig
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host        string
	Port        int
	MetricsPort int // Port for Prometheus metrics HTTP server
}

// CacheConfig represents the parse session cache
type CacheConfig struct {
	Enabled        bool
	MaxMemoryBytes int64 // Maximum memory usage in bytes (e.g., 268435456 = 256MB)
	Metrics        bool
	TTLMinutes     int // Time-to-live for cache entries in minutes
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Enabled  bool // Persist extraction runs
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ObjectStoreConfig represents S3-compatible storage for s3:// inputs and
// exports
type ObjectStoreConfig struct {
	Enabled         bool
	Endpoint        string // Empty selects AWS; set for MinIO and similar
	Region          string
	AccessKeyID     string // Empty selects the default credential chain
	SecretAccessKey string
	UseSSL          bool
	MaxObjectBytes  int64 // Largest input object read into memory
}

// LoggingConfig represents logger configuration
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// ParseConfig controls the exchange-file parser
type ParseConfig struct {
	Strict          bool // Lexical errors are fatal
	AuditReferences bool // Report every dangling reference after parsing
}

// ExtractConfig controls geometry extraction and record emission
type ExtractConfig struct {
	KindOrder       []entities.ShapeKind
	IndexBase       int
	Parallel        bool
	ElementTimeout  time.Duration // Zero disables the per-call bound
	IncludeEntities bool
}

// findProjectRoot finds the project root directory by looking for go.mod
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	// Walk up the directory tree until we find go.mod
	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached the root directory
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// InitConfig initializes viper configuration
// env: environment name (dev, test, prod)
func InitConfig(env string) error {
	if env == "" {
		env = "dev"
	}

	// The project root is optional: an installed binary has none
	if projectRoot, err := findProjectRoot(); err == nil {
		viper.SetConfigName(fmt.Sprintf(".env.%s", env))
		viper.SetConfigType("env")
		viper.AddConfigPath(projectRoot)

		// Read config file (optional, ignore error if not found)
		_ = viper.ReadInConfig()
	}

	// Environment variables take precedence over config file
	viper.AutomaticEnv()

	SetDefaults()
	return nil
}

// SetDefaults registers the default value of every key
func SetDefaults() {
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 50051)
	viper.SetDefault("METRICS_PORT", 9090)

	viper.SetDefault("DB_ENABLED", false)
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", 15432)
	viper.SetDefault("DB_USER", "stepscope")
	viper.SetDefault("DB_NAME", "stepscope_dev")
	viper.SetDefault("DB_SSLMODE", "disable")

	// Cache defaults
	viper.SetDefault("CACHE_ENABLED", true)
	viper.SetDefault("CACHE_MAX_MEMORY_BYTES", 256*1024*1024) // 256MB
	viper.SetDefault("CACHE_METRICS", true)
	viper.SetDefault("CACHE_TTL_MINUTES", 30)

	viper.SetDefault("S3_ENABLED", false)
	viper.SetDefault("S3_REGION", "us-east-1")
	viper.SetDefault("S3_USE_SSL", true)
	viper.SetDefault("S3_MAX_OBJECT_BYTES", 512*1024*1024) // 512MB

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")

	viper.SetDefault("PARSE_STRICT", false)
	viper.SetDefault("PARSE_AUDIT_REFERENCES", true)

	viper.SetDefault("EXTRACT_KIND_ORDER", "edge,face,solid,vertex")
	viper.SetDefault("EXTRACT_INDEX_BASE", 1)
	viper.SetDefault("EXTRACT_PARALLEL", true)
	viper.SetDefault("EXTRACT_ELEMENT_TIMEOUT_MS", 0)
	viper.SetDefault("EXTRACT_INCLUDE_ENTITIES", true)
}

// Load loads configuration from viper
func Load() (*Config, error) {
	kindOrder, err := entities.ParseKindOrder(viper.GetString("EXTRACT_KIND_ORDER"))
	if err != nil {
		return nil, fmt.Errorf("invalid EXTRACT_KIND_ORDER: %w", err)
	}

	config := &Config{
		Server: ServerConfig{
			Host:        viper.GetString("SERVER_HOST"),
			Port:        viper.GetInt("SERVER_PORT"),
			MetricsPort: viper.GetInt("METRICS_PORT"),
		},
		Database: DatabaseConfig{
			Enabled:  viper.GetBool("DB_ENABLED"),
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetInt("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Database: viper.GetString("DB_NAME"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
		},
		Cache: CacheConfig{
			Enabled:        viper.GetBool("CACHE_ENABLED"),
			MaxMemoryBytes: viper.GetInt64("CACHE_MAX_MEMORY_BYTES"),
			Metrics:        viper.GetBool("CACHE_METRICS"),
			TTLMinutes:     viper.GetInt("CACHE_TTL_MINUTES"),
		},
		ObjectStore: ObjectStoreConfig{
			Enabled:         viper.GetBool("S3_ENABLED"),
			Endpoint:        viper.GetString("S3_ENDPOINT"),
			Region:          viper.GetString("S3_REGION"),
			AccessKeyID:     viper.GetString("S3_ACCESS_KEY_ID"),
			SecretAccessKey: viper.GetString("S3_SECRET_ACCESS_KEY"),
			UseSSL:          viper.GetBool("S3_USE_SSL"),
			MaxObjectBytes:  viper.GetInt64("S3_MAX_OBJECT_BYTES"),
		},
		Logging: LoggingConfig{
			Level:  viper.GetString("LOG_LEVEL"),
			Format: viper.GetString("LOG_FORMAT"),
		},
		Parse: ParseConfig{
			Strict:          viper.GetBool("PARSE_STRICT"),
			AuditReferences: viper.GetBool("PARSE_AUDIT_REFERENCES"),
		},
		Extract: ExtractConfig{
			KindOrder:       kindOrder,
			IndexBase:       viper.GetInt("EXTRACT_INDEX_BASE"),
			Parallel:        viper.GetBool("EXTRACT_PARALLEL"),
			ElementTimeout:  time.Duration(viper.GetInt64("EXTRACT_ELEMENT_TIMEOUT_MS")) * time.Millisecond,
			IncludeEntities: viper.GetBool("EXTRACT_INCLUDE_ENTITIES"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values that viper cannot type-check
func (c *Config) Validate() error {
	// DB_PASSWORD is required for security when persistence is on
	if c.Database.Enabled && c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required when DB_ENABLED is set (set via environment variable or .env file)")
	}
	if c.Extract.IndexBase != 0 && c.Extract.IndexBase != 1 {
		return fmt.Errorf("EXTRACT_INDEX_BASE must be 0 or 1, got %d", c.Extract.IndexBase)
	}
	if c.Extract.ElementTimeout < 0 {
		return fmt.Errorf("EXTRACT_ELEMENT_TIMEOUT_MS must not be negative")
	}
	if c.ObjectStore.Enabled && c.ObjectStore.AccessKeyID != "" && c.ObjectStore.SecretAccessKey == "" {
		return fmt.Errorf("S3_SECRET_ACCESS_KEY is required when S3_ACCESS_KEY_ID is set")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	if c.Cache.Enabled && c.Cache.MaxMemoryBytes <= 0 {
		return fmt.Errorf("CACHE_MAX_MEMORY_BYTES must be positive when the cache is enabled")
	}
	return nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}

// MigrationURL returns the postgres:// URL used by golang-migrate
func (c *DatabaseConfig) MigrationURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.SSLMode,
	)
}
