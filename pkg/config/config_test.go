package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.Server.Listen)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, DefaultMaxBodySize, cfg.Server.MaxBodySize)
	assert.True(t, cfg.Server.Metrics)
	assert.False(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 600, cfg.Server.RateLimit.Submit.RequestsPerMinute)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "dperf.db", cfg.Database.SQLite.Path)
	assert.Equal(t, "localhost", cfg.Database.Postgres.Host)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Equal(t, DefaultDatabaseName, cfg.Database.Postgres.Database)
	assert.Equal(t, 10, cfg.Database.Pool.MaxOpenConns)

	assert.False(t, cfg.Validation.StrictNumeric)
	assert.False(t, cfg.Archive.S3.Enabled)
	assert.Equal(t, DefaultArchivePrefix, cfg.Archive.S3.Prefix)
	assert.Equal(t, DefaultArchiveConcurrency, cfg.Archive.Concurrency)

	require.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":8080"
  cors_origins:
    - https://perf.example.com
  max_body_size: 512kB
database:
  driver: postgres
  postgres:
    host: db.internal
    port: 6543
    database: perf
  pool:
    conn_max_lifetime: 30m
validation:
  strict_numeric: true
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, []string{"https://perf.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, 6543, cfg.Database.Postgres.Port)
	assert.Equal(t, "perf", cfg.Database.Postgres.Database)
	assert.True(t, cfg.Validation.StrictNumeric)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)
	assert.Equal(t, 5, cfg.Database.Pool.MaxIdleConns)

	n, err := cfg.Server.MaxBodyBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(512_000), n)

	d, err := cfg.Database.Pool.Lifetime()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, d)

	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9000"
database:
  driver: sqlite
  sqlite:
    path: /data/original.db
`)

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ":9000", cfg.Server.Listen)
				assert.Equal(t, "/data/original.db", cfg.Database.SQLite.Path)
			},
		},
		{
			name: "string override - listen",
			envVars: map[string]string{
				"DPERF_SERVER_LISTEN": ":9999",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ":9999", cfg.Server.Listen)
			},
		},
		{
			name: "nested override - postgres host and port",
			envVars: map[string]string{
				"DPERF_DATABASE_DRIVER":        "postgres",
				"DPERF_DATABASE_POSTGRES_HOST": "pg.example.com",
				"DPERF_DATABASE_POSTGRES_PORT": "5433",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "postgres", cfg.Database.Driver)
				assert.Equal(t, "pg.example.com", cfg.Database.Postgres.Host)
				assert.Equal(t, 5433, cfg.Database.Postgres.Port)
			},
		},
		{
			name: "boolean override - strict_numeric",
			envVars: map[string]string{
				"DPERF_VALIDATION_STRICT_NUMERIC": "true",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Validation.StrictNumeric)
			},
		},
		{
			name: "list override - cors_origins",
			envVars: map[string]string{
				"DPERF_SERVER_CORS_ORIGINS": "https://a.example,https://b.example",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t,
					[]string{"https://a.example", "https://b.example"},
					cfg.Server.CORSOrigins)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load(path, nil)
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func TestLoad_FlagOverrides(t *testing.T) {
	t.Setenv("DPERF_SERVER_LISTEN", ":7000")

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("listen", DefaultListen, "")
	flags.String("db-name", DefaultDatabaseName, "")
	flags.Int("db-port", 5432, "")

	require.NoError(t, flags.Parse([]string{"--listen", ":7001", "--db-port", "15432"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	// Explicit flags beat env vars; unset flags do not clobber defaults.
	assert.Equal(t, ":7001", cfg.Server.Listen)
	assert.Equal(t, 15432, cfg.Database.Postgres.Port)
	assert.Equal(t, DefaultDatabaseName, cfg.Database.Postgres.Database)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unterminated")

	_, err := Load(path, nil)
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("", nil)
		require.NoError(t, err)

		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(_ *Config) {},
		},
		{
			name:    "empty listen",
			mutate:  func(cfg *Config) { cfg.Server.Listen = "" },
			wantErr: "server.listen is required",
		},
		{
			name:    "bad body size",
			mutate:  func(cfg *Config) { cfg.Server.MaxBodySize = "lots" },
			wantErr: "max_body_size",
		},
		{
			name: "rate limit without budget",
			mutate: func(cfg *Config) {
				cfg.Server.RateLimit.Enabled = true
				cfg.Server.RateLimit.Submit.RequestsPerMinute = 0
			},
			wantErr: "requests_per_minute",
		},
		{
			name:    "unknown driver",
			mutate:  func(cfg *Config) { cfg.Database.Driver = "mongodb" },
			wantErr: "unsupported database driver",
		},
		{
			name:    "sqlite without path",
			mutate:  func(cfg *Config) { cfg.Database.SQLite.Path = "" },
			wantErr: "database.sqlite.path is required",
		},
		{
			name: "postgres without host",
			mutate: func(cfg *Config) {
				cfg.Database.Driver = "postgres"
				cfg.Database.Postgres.Host = ""
			},
			wantErr: "database.postgres.host is required",
		},
		{
			name: "postgres with bad port",
			mutate: func(cfg *Config) {
				cfg.Database.Driver = "postgres"
				cfg.Database.Postgres.Port = 0
			},
			wantErr: "database.postgres.port",
		},
		{
			name:    "bad pool lifetime",
			mutate:  func(cfg *Config) { cfg.Database.Pool.ConnMaxLifetime = "soon" },
			wantErr: "conn_max_lifetime",
		},
		{
			name:    "archive without bucket",
			mutate:  func(cfg *Config) { cfg.Archive.S3.Enabled = true },
			wantErr: "archive.s3.bucket is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_YAMLRedactsSecrets(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	cfg.Database.Postgres.Password = "hunter2"
	cfg.Archive.S3.SecretAccessKey = "s3cr3t"

	data, err := cfg.YAML()
	require.NoError(t, err)

	assert.NotContains(t, string(data), "hunter2")
	assert.NotContains(t, string(data), "s3cr3t")

	var roundTrip Config
	require.NoError(t, yaml.Unmarshal(data, &roundTrip))
	assert.Equal(t, redacted, roundTrip.Database.Postgres.Password)
	assert.Equal(t, cfg.Server.Listen, roundTrip.Server.Listen)

	// The receiver is left untouched.
	assert.Equal(t, "hunter2", cfg.Database.Postgres.Password)
}

func TestPostgresConfig_DSN(t *testing.T) {
	p := PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "dperf",
		Password: "pw",
		Database: "dperf",
		SSLMode:  "disable",
	}

	assert.Equal(t,
		"host=localhost port=5432 user=dperf password=pw dbname=dperf sslmode=disable",
		p.DSN())
}
