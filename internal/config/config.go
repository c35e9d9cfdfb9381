// Package config loads the fleet controller's static configuration from
// environment variables, an optional YAML file, and defaults, in that order
// of precedence, using Viper the way the teacher's control-plane config does.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment variable names from EXTERNAL INTERFACES §6.
const (
	EnvMongoURI           = "MONGODB_URI"
	EnvPostgresHost       = "POSTGRES_HOST"
	EnvPostgresPort       = "POSTGRES_PORT"
	EnvPostgresDB         = "POSTGRES_DB"
	EnvPostgresUser       = "POSTGRES_USER"
	EnvPostgresPassword   = "POSTGRES_PASSWORD"
	EnvPostgresSSLMode    = "POSTGRES_SSLMODE"
	EnvSessionEncryptKey  = "SESSION_ENCRYPTION_KEY"
	EnvJWTSecret          = "JWT_SECRET"
	EnvMaxSessions        = "MAX_SESSIONS"
	EnvSessionDir         = "SESSION_DIR"
)

// Config is the fleet controller's static configuration.
//
// Dynamic/per-session state (sessions, credentials, pairing) lives in the
// stores this config builds, not here.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Postgres PostgresConfig `mapstructure:"postgres"`

	// SessionEncryptionKey seeds the AES-GCM vault that encrypts credential
	// blobs at rest (internal/crypto.Vault).
	SessionEncryptionKey string `mapstructure:"session_encryption_key" validate:"required"`

	// JWTSecret signs web-tier bearer tokens.
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`

	// MaxSessions bounds the fleet (FleetSlot §3, FleetFull §4.5).
	MaxSessions int `mapstructure:"max_sessions" validate:"required,gt=0"`

	// SessionDir is bound to SESSION_DIR (§6). No component reads it:
	// CredentialStore has no filesystem fallback, and `start` fails when the
	// Mongo connection cannot be established.
	SessionDir string `mapstructure:"session_dir"`

	API       APIConfig       `mapstructure:"api"`
	Fleet     FleetConfig     `mapstructure:"fleet"`
	Handover  HandoverConfig  `mapstructure:"handover"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
}

// LoggingConfig controls the internal/logger package.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output"`
}

// MongoConfig configures the Mongo backing store (SessionStore A, CredentialStore).
type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// PostgresConfig configures the Postgres backing store (SessionStore B).
type PostgresConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Database       string        `mapstructure:"database"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	SSLMode        string        `mapstructure:"sslmode"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
}

// DSN returns the libpq-style connection string for pgx/gorm.
func (c PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s", c.Host, c.Port, c.User, c.Database)
	if c.Password != "" {
		dsn += fmt.Sprintf(" password=%s", c.Password)
	}
	if c.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
	}
	return dsn
}

// APIConfig configures the thin REST surface (§6).
type APIConfig struct {
	Port         int           `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// FleetConfig holds fleet tuning values. Only DetectionInterval is read (by
// the web-handover detection loop); BootstrapBatchSize and BootstrapPause are
// not consulted, and bootstrap uses fixed pacing constants in package fleet.
type FleetConfig struct {
	BootstrapBatchSize int           `mapstructure:"bootstrap_batch_size"`
	BootstrapPause     time.Duration `mapstructure:"bootstrap_pause"`
	DetectionInterval  time.Duration `mapstructure:"detection_interval"`
}

// HandoverConfig controls the web-to-worker handover timer (§4.7).
type HandoverConfig struct {
	Delay time.Duration `mapstructure:"delay" validate:"omitempty,gte=0"`
}

// ProfilingConfig controls continuous profiling (internal/telemetry). Off by
// default; a deployment turns it on by pointing Endpoint at its own
// Pyroscope server.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Endpoint     string   `mapstructure:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types"`
}

// applyDefaults fills in zero values with the spec's documented defaults.
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "sessionfleet"
	}
	if c.Mongo.ConnectTimeout == 0 {
		c.Mongo.ConnectTimeout = 8 * time.Second
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.ConnectTimeout == 0 {
		c.Postgres.ConnectTimeout = 8 * time.Second
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 25
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 10 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 10 * time.Second
	}
	if c.Fleet.BootstrapBatchSize == 0 {
		c.Fleet.BootstrapBatchSize = 5
	}
	if c.Fleet.BootstrapPause == 0 {
		c.Fleet.BootstrapPause = 500 * time.Millisecond
	}
	if c.Fleet.DetectionInterval == 0 {
		c.Fleet.DetectionInterval = 3 * time.Second
	}
	if c.Handover.Delay == 0 {
		c.Handover.Delay = 20 * time.Second
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = 500
	}
	if c.Profiling.Enabled && len(c.Profiling.ProfileTypes) == 0 {
		c.Profiling.ProfileTypes = []string{"cpu", "alloc_objects", "inuse_objects"}
	}
}

// Load reads configuration from an optional file path, then environment
// variables (which always win), then defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	bindRawEnv(&cfg, v)
	cfg.applyDefaults()

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
