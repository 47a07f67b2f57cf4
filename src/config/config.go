// Package config reads process settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
	"github.com/Protocol-Lattice/airport-assistant/src/retry"
	"github.com/Protocol-Lattice/airport-assistant/src/tools"
)

// Config holds everything the assistant needs to start.
type Config struct {
	// Datastore selection. DatastoreJSON, when set, wins over the discrete fields.
	DatastoreKind string
	DatastoreJSON string

	PostgresDSN      string
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDatabase string

	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	MongoURI             string
	MongoDatabase        string
	MongoSkipSearchIndex bool

	SQLitePath string

	EmbedProvider string
	EmbedModel    string
	LLMProvider   string
	LLMModel      string

	SearchThreshold float64
	SearchTopK      int

	RetryAttempts  int
	RetryBaseDelay time.Duration

	GoogleClientID string
	DataDir        string
}

// LoadDotEnv reads path (".env" when empty) into the environment. A missing file is not an
// error; variables already set are kept.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatastoreKind: strings.ToLower(getEnv("DATASTORE_KIND", string(datastore.KindMemory))),
		DatastoreJSON: os.Getenv("DATASTORE_CONFIG"),

		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		PostgresHost:     getEnv("POSTGRES_HOST", "127.0.0.1"),
		PostgresPort:     getEnvInt("POSTGRES_PORT", 5432),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDatabase: getEnv("POSTGRES_DATABASE", "assistantdemo"),

		Neo4jURI:      getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:     getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword: os.Getenv("NEO4J_PASSWORD"),
		Neo4jDatabase: os.Getenv("NEO4J_DATABASE"),

		MongoURI:             getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:        getEnv("MONGO_DATABASE", "assistantdemo"),
		MongoSkipSearchIndex: getEnvBool("MONGO_SKIP_SEARCH_INDEX", false),

		SQLitePath: getEnv("SQLITE_PATH", "assistant.db"),

		EmbedProvider: os.Getenv("EMBED_PROVIDER"),
		EmbedModel:    os.Getenv("EMBED_MODEL"),
		LLMProvider:   getEnv("LLM_PROVIDER", "dummy"),
		LLMModel:      os.Getenv("LLM_MODEL"),

		SearchThreshold: getEnvFloat("SEARCH_THRESHOLD", tools.DefaultOptions.Threshold),
		SearchTopK:      getEnvInt("SEARCH_TOP_K", tools.DefaultOptions.TopK),

		RetryAttempts:  getEnvInt("RETRY_ATTEMPTS", 3),
		RetryBaseDelay: getEnvDuration("RETRY_BASE_DELAY", 100*time.Millisecond),

		GoogleClientID: os.Getenv("GOOGLE_CLIENT_ID"),
		DataDir:        getEnv("DATA_DIR", "data"),
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.SearchThreshold < -1 || c.SearchThreshold > 1 {
		return errdefs.Configf("SEARCH_THRESHOLD must be in [-1, 1], got %v", c.SearchThreshold)
	}
	if c.SearchTopK < 1 {
		return errdefs.Configf("SEARCH_TOP_K must be positive, got %d", c.SearchTopK)
	}
	if c.RetryAttempts < 1 || c.RetryAttempts > 10 {
		return errdefs.Configf("RETRY_ATTEMPTS must be 1-10, got %d", c.RetryAttempts)
	}
	_, err := c.DatastoreConfig()
	return err
}

// DatastoreConfig turns the settings into the provider configuration Create expects.
func (c *Config) DatastoreConfig() (datastore.Config, error) {
	if strings.TrimSpace(c.DatastoreJSON) != "" {
		return datastore.ParseConfig([]byte(c.DatastoreJSON))
	}
	var cfg datastore.Config
	switch datastore.Kind(c.DatastoreKind) {
	case datastore.KindMemory:
		cfg = datastore.MemoryConfig{}
	case datastore.KindSQLite:
		cfg = datastore.SQLiteConfig{Path: c.SQLitePath}
	case datastore.KindPostgres:
		cfg = datastore.PostgresConfig{
			DSN:      c.PostgresDSN,
			Host:     c.PostgresHost,
			Port:     c.PostgresPort,
			User:     c.PostgresUser,
			Password: c.PostgresPassword,
			Database: c.PostgresDatabase,
		}
	case datastore.KindMongo:
		cfg = datastore.MongoConfig{URI: c.MongoURI, Database: c.MongoDatabase, SkipSearchIndex: c.MongoSkipSearchIndex}
	case datastore.KindNeo4j:
		cfg = datastore.Neo4jConfig{
			URI:      c.Neo4jURI,
			Auth:     datastore.Neo4jAuth{Username: c.Neo4jUser, Password: c.Neo4jPassword},
			Database: c.Neo4jDatabase,
		}
	default:
		return nil, errdefs.Configf("unknown DATASTORE_KIND %q", c.DatastoreKind)
	}
	if err := datastore.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RetryPolicy is the read retry policy for the datastore.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{Attempts: c.RetryAttempts, BaseDelay: c.RetryBaseDelay}
}

// SearchOptions is the tuning handed to the search tools.
func (c *Config) SearchOptions() tools.Options {
	return tools.Options{Threshold: c.SearchThreshold, TopK: c.SearchTopK}
}

// Helper functions
func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v == "true" || v == "1"
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
