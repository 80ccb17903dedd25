package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	appErrors "dataguard/internal/errors"
	"dataguard/internal/logging"
)

//go:embed migrations/*/*.sql
var catalogMigrations embed.FS

// catalogFS returns the migration directory for a dialect.
func catalogFS(d Dialect) (fs.FS, error) {
	return fs.Sub(catalogMigrations, "migrations/"+d.Name())
}

// MigrateCatalog creates or upgrades the subsystem's own tables
// (backup_records, migration_records, audit_archive).
func MigrateCatalog(ctx context.Context, db *sql.DB, d Dialect, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	fsys, err := catalogFS(d)
	if err != nil {
		return appErrors.NewConfigurationError(fmt.Sprintf("no catalog migrations for %s", d.Name()), err)
	}

	verbose := logger.GetLevel() == logging.LogLevelVerbose || logger.GetLevel() == logging.LogLevelDebug
	provider, err := goose.NewProvider(goose.Dialect(d.GooseDialect()), db, fsys,
		goose.WithLogger(logger), goose.WithVerbose(verbose))
	if err != nil {
		return appErrors.NewConfigurationError("failed to prepare catalog migrations", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return appErrors.NewStorageWriteError("catalog migration failed", err)
	}

	for _, r := range results {
		logger.WithFields(map[string]interface{}{
			"version":  r.Source.Version,
			"duration": r.Duration.String(),
		}).Info("Applied catalog migration")
	}
	if len(results) == 0 {
		logger.Debug("Catalog schema is up to date")
	}
	return nil
}

// MigrateStore runs MigrateCatalog against whichever handle the store wraps.
// MemoryStore needs no schema and is skipped.
func MigrateStore(ctx context.Context, s RelationalStore, logger *logging.Logger) error {
	switch st := s.(type) {
	case *SQLStore:
		return MigrateCatalog(ctx, st.DB(), st.Dialect(), logger)
	case *GormStore:
		sqlDB, err := st.DB().DB()
		if err != nil {
			return appErrors.NewConfigurationError("failed to access sqlite handle", err)
		}
		return MigrateCatalog(ctx, sqlDB, st.dialect, logger)
	default:
		return nil
	}
}
