package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dataguard/internal/collections"
	appErrors "dataguard/internal/errors"
	"dataguard/internal/logging"
)

// Config describes the relational store connection.
type Config struct {
	Driver          string        `mapstructure:"driver" yaml:"driver" validate:"required,oneof=mysql postgres sqlite memory"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	// AutoMigrate creates the catalog tables on open.
	AutoMigrate bool `mapstructure:"auto_migrate" yaml:"auto_migrate"`
}

// DefaultConfig returns a local SQLite configuration.
func DefaultConfig() Config {
	return Config{
		Driver:          "sqlite",
		DSN:             "dataguard.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// Open connects to the configured store, retrying transient connection
// failures, and migrates the catalog when AutoMigrate is set.
func Open(ctx context.Context, cfg Config, reg *collections.Registry, retry *appErrors.RetryHandler, logger *logging.Logger) (RelationalStore, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if retry == nil {
		retry = appErrors.NewDefaultRetryHandler()
	}

	var (
		s   RelationalStore
		err error
	)

	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return NewMemoryStore(reg), nil
	case "sqlite", "sqlite3":
		s, err = OpenSQLite(cfg.DSN, reg, logger)
	default:
		s, err = openSQL(cfg, reg, logger)
	}
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"driver": cfg.Driver,
		"dsn":    logging.RedactDSN(cfg.DSN),
	}).Debug("Connecting to relational store")

	if err := retry.Retry(ctx, func() error { return s.Ping(ctx) }); err != nil {
		s.Close()
		return nil, appErrors.WrapError(err, "failed to connect to relational store")
	}

	if cfg.AutoMigrate {
		if err := MigrateStore(ctx, s, logger); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func openSQL(cfg Config, reg *collections.Registry, logger *logging.Logger) (*SQLStore, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, appErrors.NewConfigurationError("unsupported database driver", err)
	}

	dsn, err := normalizeDSN(dialect, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, appErrors.NewConfigurationError("failed to open database", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return NewSQLStore(db, dialect, reg, logger), nil
}

// normalizeDSN forces MySQL connections to parse DATETIME columns into UTC
// time.Time values so records round-trip through snapshots unchanged.
func normalizeDSN(d Dialect, dsn string) (string, error) {
	if dsn == "" {
		return "", appErrors.NewConfigurationError(fmt.Sprintf("%s dsn is required", d.Name()), nil)
	}
	if d.Name() != "mysql" {
		return dsn, nil
	}

	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", appErrors.NewConfigurationError("invalid mysql dsn", err)
	}
	parsed.ParseTime = true
	parsed.Loc = time.UTC
	return parsed.FormatDSN(), nil
}
