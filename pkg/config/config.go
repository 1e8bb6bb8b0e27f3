package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// DPERF_SERVER_LISTEN or DPERF_DATABASE_POSTGRES_HOST.
	EnvPrefix = "DPERF"

	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":9123"

	// DefaultMaxBodySize is the default limit for a submitted run body.
	DefaultMaxBodySize = "10MB"

	// DefaultDatabaseName is the default database name.
	DefaultDatabaseName = "dperf"

	// DefaultArchivePrefix is the default S3 key prefix for archived runs.
	DefaultArchivePrefix = "runs"

	// DefaultArchiveConcurrency is the default number of parallel uploads
	// during an archive backfill.
	DefaultArchiveConcurrency = 4
)

// Config is the root configuration for dperfd.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Archive    ArchiveConfig    `yaml:"archive" mapstructure:"archive"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	MaxBodySize string          `yaml:"max_body_size" mapstructure:"max_body_size"`
	Metrics     bool            `yaml:"metrics" mapstructure:"metrics"`
	RateLimit   RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting of run submissions.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Submit  RateLimitTier `yaml:"submit" mapstructure:"submit"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres" mapstructure:"postgres"`
	Pool     PoolConfig           `yaml:"pool" mapstructure:"pool"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// PoolConfig bounds the shared connection pool.
type PoolConfig struct {
	MaxOpenConns    int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// ValidationConfig controls how inbound runs are checked.
type ValidationConfig struct {
	StrictNumeric bool `yaml:"strict_numeric" mapstructure:"strict_numeric"`
}

// ArchiveConfig configures mirroring of accepted runs to object storage.
type ArchiveConfig struct {
	Concurrency int      `yaml:"concurrency" mapstructure:"concurrency"`
	S3          S3Config `yaml:"s3" mapstructure:"s3"`
}

// S3Config contains S3 settings for the run archive.
type S3Config struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"listen":      "server.listen",
	"db-driver":   "database.driver",
	"db-host":     "database.postgres.host",
	"db-port":     "database.postgres.port",
	"db-name":     "database.postgres.database",
	"sqlite-path": "database.sqlite.path",
}

// setDefaults registers every known key so that environment overrides are
// resolved for keys absent from the config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_body_size", DefaultMaxBodySize)
	v.SetDefault("server.metrics", true)
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.submit.requests_per_minute", 600)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite.path", "dperf.db")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", DefaultDatabaseName)
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", DefaultDatabaseName)
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("database.pool.max_open_conns", 10)
	v.SetDefault("database.pool.max_idle_conns", 5)
	v.SetDefault("database.pool.conn_max_lifetime", "1h")

	v.SetDefault("validation.strict_numeric", false)

	v.SetDefault("archive.concurrency", DefaultArchiveConcurrency)
	v.SetDefault("archive.s3.enabled", false)
	v.SetDefault("archive.s3.endpoint_url", "")
	v.SetDefault("archive.s3.region", "us-east-1")
	v.SetDefault("archive.s3.bucket", "")
	v.SetDefault("archive.s3.prefix", DefaultArchivePrefix)
	v.SetDefault("archive.s3.access_key_id", "")
	v.SetDefault("archive.s3.secret_access_key", "")
	v.SetDefault("archive.s3.force_path_style", false)
}

// Load resolves the configuration from defaults, an optional YAML file,
// DPERF_* environment variables and, when flags is non-nil, any flags the
// user set explicitly. Later sources win.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}

			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag %q: %w", name, err)
			}
		}
	}

	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}

	if _, err := c.Server.MaxBodyBytes(); err != nil {
		return err
	}

	if c.Server.RateLimit.Enabled &&
		c.Server.RateLimit.Submit.RequestsPerMinute <= 0 {
		return fmt.Errorf(
			"server.rate_limit.submit.requests_per_minute must be positive",
		)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}

		if c.Database.Postgres.Port <= 0 {
			return fmt.Errorf(
				"database.postgres.port must be positive, got %d",
				c.Database.Postgres.Port,
			)
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if _, err := c.Database.Pool.Lifetime(); err != nil {
		return err
	}

	if c.Archive.S3.Enabled && c.Archive.S3.Bucket == "" {
		return fmt.Errorf("archive.s3.bucket is required when archiving is enabled")
	}

	return nil
}

// MaxBodyBytes parses MaxBodySize ("10MB", "512kB", ...) into bytes.
func (s *ServerConfig) MaxBodyBytes() (int64, error) {
	n, err := units.FromHumanSize(s.MaxBodySize)
	if err != nil {
		return 0, fmt.Errorf("parsing server.max_body_size %q: %w", s.MaxBodySize, err)
	}

	if n <= 0 {
		return 0, fmt.Errorf("server.max_body_size must be positive, got %q", s.MaxBodySize)
	}

	return n, nil
}

// Lifetime parses ConnMaxLifetime. An empty value means connections are
// reused forever.
func (p *PoolConfig) Lifetime() (time.Duration, error) {
	if p.ConnMaxLifetime == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(p.ConnMaxLifetime)
	if err != nil {
		return 0, fmt.Errorf(
			"parsing database.pool.conn_max_lifetime %q: %w",
			p.ConnMaxLifetime, err,
		)
	}

	return d, nil
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

const redacted = "<redacted>"

// YAML renders the configuration with secrets redacted.
func (c *Config) YAML() ([]byte, error) {
	out := *c

	if out.Database.Postgres.Password != "" {
		out.Database.Postgres.Password = redacted
	}

	if out.Archive.S3.SecretAccessKey != "" {
		out.Archive.S3.SecretAccessKey = redacted
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}

	return data, nil
}
