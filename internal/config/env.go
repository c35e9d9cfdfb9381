package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// bindRawEnv applies the literal (non-dotted) environment variable names the
// spec mandates in §6, which AutomaticEnv's dot-to-underscore replacement
// would not otherwise reach (e.g. MONGODB_URI has no "mongo.uri" analog in
// the env namespace convention).
func bindRawEnv(cfg *Config, v *viper.Viper) {
	if val := os.Getenv(EnvMongoURI); val != "" {
		cfg.Mongo.URI = val
	}
	if val := os.Getenv(EnvPostgresHost); val != "" {
		cfg.Postgres.Host = val
	}
	if val := os.Getenv(EnvPostgresPort); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if val := os.Getenv(EnvPostgresDB); val != "" {
		cfg.Postgres.Database = val
	}
	if val := os.Getenv(EnvPostgresUser); val != "" {
		cfg.Postgres.User = val
	}
	if val := os.Getenv(EnvPostgresPassword); val != "" {
		cfg.Postgres.Password = val
	}
	if val := os.Getenv(EnvPostgresSSLMode); val != "" {
		cfg.Postgres.SSLMode = val
	}
	if val := os.Getenv(EnvSessionEncryptKey); val != "" {
		cfg.SessionEncryptionKey = val
	}
	if val := os.Getenv(EnvJWTSecret); val != "" {
		cfg.JWTSecret = val
	}
	if val := os.Getenv(EnvMaxSessions); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.MaxSessions = n
		}
	}
	if val := os.Getenv(EnvSessionDir); val != "" {
		cfg.SessionDir = val
	}
}

var validate = validator.New()

// validateConfig runs struct tag validation and returns a readable error
// naming every failing field, not just the first.
func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("config: validation: %w", err)
		}
		msg := "config: invalid configuration:"
		for _, fe := range verrs {
			msg += fmt.Sprintf(" %s failed on %q;", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}
