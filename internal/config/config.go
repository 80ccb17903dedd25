// Package config loads and validates dataguard configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"dataguard/internal/collections"
	appErrors "dataguard/internal/errors"
	"dataguard/internal/logging"
	"dataguard/internal/objectstore"
	"dataguard/internal/retention"
	"dataguard/internal/snapshot"
	"dataguard/internal/store"
)

// Config is the root configuration.
type Config struct {
	Database    store.Config             `mapstructure:"database" yaml:"database"`
	Storage     objectstore.Config       `mapstructure:"storage" yaml:"storage"`
	Snapshot    SnapshotConfig           `mapstructure:"snapshot" yaml:"snapshot"`
	Retention   retention.Config         `mapstructure:"retention" yaml:"retention"`
	Collections []collections.Collection `mapstructure:"collections" yaml:"collections,omitempty" validate:"dive"`
	Logging     LoggingConfig            `mapstructure:"logging" yaml:"logging"`
	Server      ServerConfig             `mapstructure:"server" yaml:"server"`
	Retry       appErrors.RetryConfig    `mapstructure:"retry" yaml:"retry"`
	// Timeout bounds a single CLI operation. Zero means no limit.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
}

// SnapshotConfig selects the payload layers.
type SnapshotConfig struct {
	Compression string           `mapstructure:"compression" yaml:"compression" validate:"omitempty,oneof=none gzip lz4 zstd"`
	Level       int              `mapstructure:"level" yaml:"level" validate:"gte=0,lte=22"`
	Encryption  EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`
}

// EncryptionConfig describes where the AES-256 key comes from.
type EncryptionConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	KeySource  string `mapstructure:"key_source" yaml:"key_source" validate:"omitempty,oneof=env file passphrase"`
	KeyEnvVar  string `mapstructure:"key_env_var" yaml:"key_env_var,omitempty"`
	KeyPath    string `mapstructure:"key_path" yaml:"key_path,omitempty"`
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase,omitempty"`
	Salt       string `mapstructure:"salt" yaml:"salt,omitempty"`
}

// LoggingConfig configures the logrus logger and optional file rotation.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=quiet normal verbose debug"`
	Format     string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=text json"`
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb,omitempty" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups,omitempty" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days,omitempty" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress" yaml:"compress,omitempty"`
}

// ServerConfig configures `dataguard serve`.
type ServerConfig struct {
	Address string `mapstructure:"address" yaml:"address" validate:"required,hostname_port"`
}

// Default returns a configuration that works out of the box: SQLite in the
// working directory and payloads under ./backups.
func Default() *Config {
	c := &Config{
		Database:  store.DefaultConfig(),
		Storage:   objectstore.DefaultConfig(),
		Retention: retention.DefaultConfig(),
		Retry:     appErrors.DefaultRetryConfig(),
		Timeout:   30 * time.Minute,
	}
	c.SetDefaults()
	return c
}

// SetDefaults fills every unset field.
func (c *Config) SetDefaults() {
	if c.Database.Driver == "" {
		c.Database = store.DefaultConfig()
	}
	c.Storage.SetDefaults()
	c.Retention.SetDefaults()

	if c.Snapshot.Compression == "" {
		c.Snapshot.Compression = string(snapshot.CompressionZstd)
	}
	if c.Snapshot.Encryption.Enabled && c.Snapshot.Encryption.KeySource == "" {
		c.Snapshot.Encryption.KeySource = string(snapshot.KeySourceEnv)
	}
	if c.Snapshot.Encryption.KeySource == string(snapshot.KeySourceEnv) && c.Snapshot.Encryption.KeyEnvVar == "" {
		c.Snapshot.Encryption.KeyEnvVar = "DATAGUARD_ENCRYPTION_KEY"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = string(logging.LogLevelNormal)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Server.Address == "" {
		c.Server.Address = "127.0.0.1:8080"
	}

	def := appErrors.DefaultRetryConfig()
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = def.MaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = def.BaseDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = def.MaxDelay
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = def.Multiplier
	}
}

var validate = validator.New()

// Validate runs the struct tag rules and then the checks that span fields.
func (c *Config) Validate() error {
	var errs []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Sprintf("%s: failed %s", fieldPath(fe.Namespace()), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if c.Database.Driver != "memory" && strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, fmt.Sprintf("database.dsn is required for driver %s", c.Database.Driver))
	}
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("storage: %v", err))
	}
	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("retention: %v", err))
	}
	if err := c.Snapshot.Encryption.validate(); err != nil {
		errs = append(errs, fmt.Sprintf("snapshot.encryption: %v", err))
	}
	if _, err := c.Registry(); err != nil {
		errs = append(errs, fmt.Sprintf("collections: %v", err))
	}

	if len(errs) > 0 {
		return appErrors.NewConfigurationError(
			fmt.Sprintf("configuration validation failed: %s", strings.Join(errs, "; ")), nil)
	}
	return nil
}

func (e EncryptionConfig) validate() error {
	if !e.Enabled {
		return nil
	}
	switch snapshot.KeySource(e.KeySource) {
	case snapshot.KeySourceEnv:
		if e.KeyEnvVar == "" {
			return fmt.Errorf("key_env_var is required for key_source env")
		}
	case snapshot.KeySourceFile:
		if e.KeyPath == "" {
			return fmt.Errorf("key_path is required for key_source file")
		}
	case snapshot.KeySourcePassphrase:
		if e.Passphrase == "" || e.Salt == "" {
			return fmt.Errorf("passphrase and salt are required for key_source passphrase")
		}
	default:
		return fmt.Errorf("unsupported key_source %q", e.KeySource)
	}
	return nil
}

// KeyConfig converts the section into the snapshot key description.
func (e EncryptionConfig) KeyConfig() snapshot.KeyConfig {
	return snapshot.KeyConfig{
		Source:     snapshot.KeySource(e.KeySource),
		EnvVar:     e.KeyEnvVar,
		FilePath:   e.KeyPath,
		Passphrase: e.Passphrase,
		Salt:       e.Salt,
	}
}

// Registry applies the collection overrides to the default registry.
func (c *Config) Registry() (*collections.Registry, error) {
	return collections.Default().WithOverrides(c.Collections)
}

// NewCodec builds the snapshot codec for the configured layers. The key is
// resolved here so a missing key fails before any backup starts.
func (c *Config) NewCodec() (*snapshot.Codec, error) {
	comp, err := snapshot.ParseCompression(c.Snapshot.Compression)
	if err != nil {
		return nil, appErrors.NewConfigurationError("invalid snapshot compression", err)
	}
	opts := []snapshot.CodecOption{snapshot.WithCompression(comp, c.Snapshot.Level)}
	if c.Snapshot.Encryption.Enabled {
		enc, err := snapshot.NewEncryptorFromConfig(c.Snapshot.Encryption.KeyConfig())
		if err != nil {
			return nil, appErrors.NewConfigurationError("failed to load encryption key", err)
		}
		opts = append(opts, snapshot.WithEncryptor(enc))
	}
	return snapshot.NewCodec(opts...), nil
}

// NewLogger builds the logger. verbose and quiet override the configured level.
func (c *Config) NewLogger(verbose, quiet bool) (*logging.Logger, error) {
	level := logging.ParseLevel(c.Logging.Level)
	switch {
	case quiet:
		level = logging.LogLevelQuiet
	case verbose && level != logging.LogLevelDebug:
		level = logging.LogLevelVerbose
	}
	return logging.NewLogger(logging.Config{
		Level:         level,
		Output:        os.Stderr,
		Format:        c.Logging.Format,
		LogFile:       c.Logging.File,
		MaxSizeMB:     c.Logging.MaxSizeMB,
		MaxBackups:    c.Logging.MaxBackups,
		MaxAgeDays:    c.Logging.MaxAgeDays,
		CompressFiles: c.Logging.Compress,
	})
}

// RetryHandler builds the retry handler for store connects and transfers.
func (c *Config) RetryHandler() *appErrors.RetryHandler {
	return appErrors.NewRetryHandler(c.Retry)
}

func fieldPath(ns string) string {
	// Config.Database.Driver -> database.driver
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.ToLower(strings.Join(parts, "."))
}
