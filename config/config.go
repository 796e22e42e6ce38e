package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// HTTP admin API configuration
	HTTP HTTPConfig `yaml:"http"`

	// Storage backend selection and connection parameters
	Storage StorageConfig `yaml:"storage"`

	// Expiration sweeper configuration
	Sweeper SweeperConfig `yaml:"sweeper"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// StorageConfig selects and parameterizes the punishment store backend.
type StorageConfig struct {
	// Backend is one of: memory, json, sqlite, postgres, mongodb.
	Backend string `yaml:"backend"`

	// DataDir is the data directory for the json backend.
	DataDir string `yaml:"data_dir"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`

	// PostgresURL is the connection string for the postgres backend.
	PostgresURL string `yaml:"postgres_url"`

	// PostgresMaxConns caps the postgres connection pool size.
	PostgresMaxConns int `yaml:"postgres_max_conns"`

	// MongoURI and MongoDatabase parameterize the mongodb backend.
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
}

// SweeperConfig holds expiration sweeper configuration
type SweeperConfig struct {
	// Interval is how often expired punishments are swept (default: 30s).
	Interval time.Duration `yaml:"interval"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
		},
		Storage: StorageConfig{
			Backend:          "sqlite",
			DataDir:          "./data",
			SQLitePath:       "./data/punishments.db",
			PostgresMaxConns: 4,
			MongoURI:         "mongodb://localhost:27017",
			MongoDatabase:    "banward",
		},
		Sweeper: SweeperConfig{
			Interval: 30 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file (path
// from BANWARD_CONFIG when set) and environment variable overrides, in that
// order of precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("BANWARD_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadFile builds the configuration from defaults, the given YAML file and
// environment variable overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// mergeFile overlays the YAML file at path onto the config.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variable overrides onto the config.
func (c *Config) applyEnv() {
	c.HTTP.Enabled = getEnvBool("BANWARD_HTTP_ENABLED", c.HTTP.Enabled)
	c.HTTP.Host = getEnvString("BANWARD_HTTP_HOST", c.HTTP.Host)
	c.HTTP.Port = getEnvInt("BANWARD_HTTP_PORT", c.HTTP.Port)

	c.Storage.Backend = getEnvString("BANWARD_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.DataDir = getEnvString("BANWARD_STORAGE_DATA_DIR", c.Storage.DataDir)
	c.Storage.SQLitePath = getEnvString("BANWARD_STORAGE_SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.PostgresURL = getEnvString("BANWARD_STORAGE_POSTGRES_URL", c.Storage.PostgresURL)
	c.Storage.PostgresMaxConns = getEnvInt("BANWARD_STORAGE_POSTGRES_MAX_CONNS", c.Storage.PostgresMaxConns)
	c.Storage.MongoURI = getEnvString("BANWARD_STORAGE_MONGO_URI", c.Storage.MongoURI)
	c.Storage.MongoDatabase = getEnvString("BANWARD_STORAGE_MONGO_DATABASE", c.Storage.MongoDatabase)

	c.Sweeper.Interval = getEnvDuration("BANWARD_SWEEP_INTERVAL", c.Sweeper.Interval)
}

// GetAddress returns the HTTP server address
func (c *Config) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "json", "sqlite", "postgres", "mongodb":
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres backend requires postgres_url")
	}
	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %v", c.Sweeper.Interval)
	}
	return nil
}

// Helper functions for environment variables
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
