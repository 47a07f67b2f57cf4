package datastore

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

// Config is a provider configuration. The set of implementations is closed: MemoryConfig,
// SQLiteConfig, PostgresConfig, MongoConfig and Neo4jConfig.
type Config interface {
	Kind() Kind
	validate() error
}

// MemoryConfig selects the in-process provider.
type MemoryConfig struct{}

func (MemoryConfig) Kind() Kind      { return KindMemory }
func (MemoryConfig) validate() error { return nil }

// SQLiteConfig selects the embedded SQLite provider.
type SQLiteConfig struct {
	// Path is a database file, or ":memory:".
	Path string `json:"path"`
}

func (SQLiteConfig) Kind() Kind { return KindSQLite }

func (c SQLiteConfig) validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return errdefs.Configf("sqlite: path is required")
	}
	return nil
}

// PostgresConfig selects the Postgres + pgvector provider. DSN wins over the discrete fields.
type PostgresConfig struct {
	DSN      string `json:"dsn,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Database string `json:"database,omitempty"`
	SSLMode  string `json:"sslmode,omitempty"`
	MaxConns int32  `json:"max_conns,omitempty"`
}

func (PostgresConfig) Kind() Kind { return KindPostgres }

func (c PostgresConfig) validate() error {
	if c.DSN != "" {
		return nil
	}
	if c.User == "" || c.Database == "" {
		return errdefs.Configf("postgres: user and database are required")
	}
	return nil
}

// ConnString renders the pgx connection string.
func (c PostgresConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.MaxConns > 0 {
		q.Set("pool_max_conns", fmt.Sprint(c.MaxConns))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// MongoConfig selects the MongoDB provider. Vector search needs an Atlas deployment; set
// SkipSearchIndex when the search index is managed outside the loader.
type MongoConfig struct {
	URI             string `json:"uri"`
	Database        string `json:"database"`
	SkipSearchIndex bool   `json:"skip_search_index,omitempty"`
}

func (MongoConfig) Kind() Kind { return KindMongo }

func (c MongoConfig) validate() error {
	if c.URI == "" {
		return errdefs.Configf("mongodb: uri is required")
	}
	if c.Database == "" {
		return errdefs.Configf("mongodb: database is required")
	}
	return nil
}

// Neo4jAuth holds basic auth credentials.
type Neo4jAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Neo4jConfig selects the graph provider.
type Neo4jConfig struct {
	URI      string    `json:"uri"`
	Auth     Neo4jAuth `json:"auth"`
	Database string    `json:"database,omitempty"`
}

func (Neo4jConfig) Kind() Kind { return KindNeo4j }

func (c Neo4jConfig) validate() error {
	if c.URI == "" {
		return errdefs.Configf("neo4j: uri is required")
	}
	if c.Auth.Username == "" {
		return errdefs.Configf("neo4j: auth.username is required")
	}
	return nil
}

// ParseConfig decodes a JSON object whose "kind" field selects the variant.
func ParseConfig(data []byte) (Config, error) {
	var head struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errdefs.Configf("decode datastore config: %v", err)
	}
	var cfg Config
	var err error
	switch Kind(strings.ToLower(string(head.Kind))) {
	case KindMemory:
		cfg = MemoryConfig{}
	case KindSQLite:
		var c SQLiteConfig
		err = json.Unmarshal(data, &c)
		cfg = c
	case KindPostgres:
		var c PostgresConfig
		err = json.Unmarshal(data, &c)
		cfg = c
	case KindMongo:
		var c MongoConfig
		err = json.Unmarshal(data, &c)
		cfg = c
	case KindNeo4j:
		var c Neo4jConfig
		err = json.Unmarshal(data, &c)
		cfg = c
	default:
		return nil, errdefs.Configf("unknown datastore kind %q", head.Kind)
	}
	if err != nil {
		return nil, errdefs.Configf("decode %s config: %v", head.Kind, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateConfig checks cfg the way Create does, without connecting.
func ValidateConfig(cfg Config) error {
	if cfg == nil {
		return errdefs.Configf("datastore config is nil")
	}
	return cfg.validate()
}
