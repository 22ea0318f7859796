// Package config loads tasktracker configuration.
//
// Configuration comes from an optional YAML file named by the --config
// flag or the TASKTRACKER_CONFIG environment variable, followed by
// environment variable overrides. Without a file the defaults apply, so
// a developer can start the server with nothing but environment
// variables, the way the database settings have always been supplied.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "TASKTRACKER_CONFIG"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Auth modes.
const (
	AuthFirebase = "firebase"
	AuthHMAC     = "hmac"
)

// Config is the complete server configuration.
type Config struct {
	// Listen is the TCP address of the API server.
	Listen string `yaml:"listen"`

	// ShutdownTimeout bounds how long in-flight requests may drain.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Log   LogConfig   `yaml:"log"`
	Auth  AuthConfig  `yaml:"auth"`
	Store StoreConfig `yaml:"store"`
	CORS  CORSConfig  `yaml:"cors"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`
}

// AuthConfig selects and configures the token verifier.
type AuthConfig struct {
	// Mode is firebase (production) or hmac (local development).
	Mode string `yaml:"mode"`

	Firebase FirebaseConfig `yaml:"firebase"`
	HMAC     HMACConfig     `yaml:"hmac"`
}

// FirebaseConfig configures verification of Firebase ID tokens.
type FirebaseConfig struct {
	// ProjectID is the expected audience and issuer suffix.
	ProjectID string `yaml:"project_id"`

	// JWKSURL overrides the provider's JWK Set endpoint.
	JWKSURL string `yaml:"jwks_url"`
}

// HMACConfig configures shared-secret tokens.
type HMACConfig struct {
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver   string         `yaml:"driver"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Postgres PostgresConfig `yaml:"postgres"`
	MySQL    MySQLConfig    `yaml:"mysql"`
}

// MongoConfig configures the MongoDB backend.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// ConnString renders the lib/pq key/value connection string.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// MySQLConfig configures the MySQL backend.
type MySQLConfig struct {
	// DSN is a go-sql-driver/mysql data source name.
	DSN string `yaml:"dsn"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Listen:          ":4000",
		ShutdownTimeout: 10 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Auth: AuthConfig{
			Mode: AuthFirebase,
		},
		Store: StoreConfig{
			Driver: DriverMemory,
			Mongo: MongoConfig{
				Database: "tasktracker",
			},
			Postgres: PostgresConfig{
				Port:    "5432",
				SSLMode: "disable",
			},
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg, lookup)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Path returns the config file path: the flag value if set, otherwise
// the environment variable.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvConfigPath)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(dst *string, names ...string) {
		for _, name := range names {
			if v, ok := lookup(name); ok && v != "" {
				*dst = v
			}
		}
	}

	if port, ok := lookup("PORT"); ok && port != "" {
		cfg.Listen = ":" + port
	}
	set(&cfg.Listen, "LISTEN_ADDR")
	set(&cfg.Log.Level, "LOG_LEVEL")
	set(&cfg.Log.Format, "LOG_FORMAT")

	set(&cfg.Auth.Mode, "TASKTRACKER_AUTH_MODE")
	set(&cfg.Auth.Firebase.ProjectID, "FIREBASE_PROJECT_ID")
	set(&cfg.Auth.HMAC.Secret, "TASKTRACKER_AUTH_SECRET")

	set(&cfg.Store.Driver, "TASKTRACKER_STORE")
	set(&cfg.Store.Mongo.URI, "MONGO_URI")
	set(&cfg.Store.Mongo.Database, "MONGO_DATABASE")
	set(&cfg.Store.Postgres.Host, "DB_HOST")
	set(&cfg.Store.Postgres.Port, "DB_PORT")
	set(&cfg.Store.Postgres.User, "DB_USER")
	set(&cfg.Store.Postgres.Password, "DB_PASSWORD")
	set(&cfg.Store.Postgres.DBName, "DB_NAME")
	set(&cfg.Store.Postgres.SSLMode, "DB_SSLMODE")
	set(&cfg.Store.MySQL.DSN, "MYSQL_DSN")

	if origins, ok := lookup("CORS_ALLOWED_ORIGINS"); ok && origins != "" {
		cfg.CORS.AllowedOrigins = nil
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, origin)
			}
		}
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log format %q: must be json or text", c.Log.Format))
	}

	switch c.Auth.Mode {
	case AuthFirebase:
		if c.Auth.Firebase.ProjectID == "" {
			errs = append(errs, errors.New("auth.firebase.project_id (FIREBASE_PROJECT_ID) is required in firebase mode"))
		}
	case AuthHMAC:
		if len(c.Auth.HMAC.Secret) < 16 {
			errs = append(errs, errors.New("auth.hmac.secret (TASKTRACKER_AUTH_SECRET) must be at least 16 bytes in hmac mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth mode %q: must be %s or %s", c.Auth.Mode, AuthFirebase, AuthHMAC))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverMongo:
		if c.Store.Mongo.URI == "" {
			errs = append(errs, errors.New("store.mongo.uri (MONGO_URI) is required for the mongo driver"))
		}
		if c.Store.Mongo.Database == "" {
			errs = append(errs, errors.New("store.mongo.database is required for the mongo driver"))
		}
	case DriverPostgres:
		p := c.Store.Postgres
		if p.Host == "" || p.Port == "" || p.User == "" || p.DBName == "" {
			errs = append(errs, errors.New("missing required database settings: DB_HOST, DB_PORT, DB_USER and DB_NAME"))
		}
	case DriverMySQL:
		if c.Store.MySQL.DSN == "" {
			errs = append(errs, errors.New("store.mysql.dsn (MYSQL_DSN) is required for the mysql driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store driver %q: must be one of %s, %s, %s, %s",
			c.Store.Driver, DriverMemory, DriverMongo, DriverPostgres, DriverMySQL))
	}

	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}

	return errors.Join(errs...)
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", l.Level, err)
	}
	return level, nil
}

// NewLogger builds the process logger described by l.
func (l LogConfig) NewLogger() *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: level}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, options))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, options))
}
