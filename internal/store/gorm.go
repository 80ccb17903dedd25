package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"dataguard/internal/collections"
	appErrors "dataguard/internal/errors"
	"dataguard/internal/logging"
)

// GormStore is a RelationalStore over GORM, used with the pure Go SQLite
// driver for single-node installs and local development.
type GormStore struct {
	db       *gorm.DB
	dialect  Dialect
	registry *collections.Registry
	logger   *logging.Logger
}

// OpenSQLite opens (creating if needed) a SQLite database at path.
func OpenSQLite(path string, reg *collections.Registry, logger *logging.Logger) (*GormStore, error) {
	if path == "" {
		return nil, appErrors.NewConfigurationError("sqlite path is required", nil)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, appErrors.NewConfigurationError("failed to open sqlite database", err)
	}

	return NewGormStore(db, reg, logger), nil
}

// NewGormStore wraps an existing GORM handle.
func NewGormStore(db *gorm.DB, reg *collections.Registry, logger *logging.Logger) *GormStore {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &GormStore{db: db, dialect: sqliteDialect{}, registry: reg, logger: logger}
}

// DB returns the underlying GORM handle.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) collection(name string) (collections.Collection, error) {
	c, err := s.registry.MustGet(name)
	if err != nil {
		return c, appErrors.NewValidationError("unknown collection", err)
	}
	return c, nil
}

func (s *GormStore) scoped(ctx context.Context, c collections.Collection, where Predicate) *gorm.DB {
	tx := s.db.WithContext(ctx).Table(c.Table)
	for _, cond := range where {
		tx = tx.Where(fmt.Sprintf("%s %s ?", s.dialect.Quote(cond.Column), cond.Op), toSQLValue(cond.Value, c.IsTimeColumn(cond.Column)))
	}
	return tx
}

// SelectAll returns every row ordered by primary key.
func (s *GormStore) SelectAll(ctx context.Context, collection string) ([]Record, error) {
	return s.SelectWhere(ctx, collection, nil)
}

// SelectModifiedSince returns rows whose timestamp column is strictly after since.
func (s *GormStore) SelectModifiedSince(ctx context.Context, collection string, since time.Time) ([]Record, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if !c.HasTimestamp() {
		return nil, appErrors.NewValidationError(fmt.Sprintf("collection %s has no timestamp column", collection), nil)
	}
	return s.SelectWhere(ctx, collection, Where(Gt(c.TimestampColumn, since.UTC())))
}

// SelectWhere returns rows matching where, ordered by primary key.
func (s *GormStore) SelectWhere(ctx context.Context, collection string, where Predicate) ([]Record, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if err := where.Validate(); err != nil {
		return nil, appErrors.NewValidationError("invalid predicate", err)
	}

	rows, err := s.scoped(ctx, c, where).
		Order(clause.OrderByColumn{Column: clause.Column{Name: c.PrimaryKey}}).
		Rows()
	if err != nil {
		return nil, appErrors.NewStorageReadError(fmt.Sprintf("failed to query %s", collection), err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, appErrors.NewStorageReadError(fmt.Sprintf("failed to read %s", collection), err)
	}
	return records, nil
}

// Upsert inserts record or overwrites every column of the row with the same
// primary key.
func (s *GormStore) Upsert(ctx context.Context, collection string, record Record) error {
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	if _, err := PrimaryKey(c, record); err != nil {
		return appErrors.NewValidationError("invalid record", err)
	}

	values := make(map[string]interface{}, len(record))
	var updates []string
	for col, v := range record {
		if !collections.ValidIdentifier(col) {
			return appErrors.NewValidationError(fmt.Sprintf("invalid column name %q", col), nil)
		}
		values[col] = toSQLValue(v, c.IsTimeColumn(col))
		if col != c.PrimaryKey {
			updates = append(updates, col)
		}
	}
	sort.Strings(updates)

	onConflict := clause.OnConflict{Columns: []clause.Column{{Name: c.PrimaryKey}}}
	if len(updates) == 0 {
		onConflict.DoNothing = true
	} else {
		onConflict.DoUpdates = clause.AssignmentColumns(updates)
	}

	if err := s.db.WithContext(ctx).Table(c.Table).Clauses(onConflict).Create(values).Error; err != nil {
		return appErrors.NewStorageWriteError(fmt.Sprintf("failed to upsert into %s", collection), err)
	}
	return nil
}

// DeleteWhere deletes matching rows. An empty predicate is refused.
func (s *GormStore) DeleteWhere(ctx context.Context, collection string, where Predicate) (int64, error) {
	c, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	if len(where) == 0 {
		return 0, appErrors.NewValidationError("refusing to delete without a predicate", nil)
	}
	if err := where.Validate(); err != nil {
		return 0, appErrors.NewValidationError("invalid predicate", err)
	}

	clauseSQL, args := whereClause(s.dialect, where, 1)
	result := s.db.WithContext(ctx).Exec(
		fmt.Sprintf("DELETE FROM %s WHERE %s", s.dialect.Quote(c.Table), clauseSQL), args...)
	if result.Error != nil {
		return 0, appErrors.NewStorageWriteError(fmt.Sprintf("failed to delete from %s", collection), result.Error)
	}
	return result.RowsAffected, nil
}

// Count returns the number of rows matching where.
func (s *GormStore) Count(ctx context.Context, collection string, where Predicate) (int64, error) {
	c, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	if err := where.Validate(); err != nil {
		return 0, appErrors.NewValidationError("invalid predicate", err)
	}

	var n int64
	if err := s.scoped(ctx, c, where).Count(&n).Error; err != nil {
		return 0, appErrors.NewStorageReadError(fmt.Sprintf("failed to count %s", collection), err)
	}
	return n, nil
}

// ReadSnapshot runs fn inside a single transaction.
func (s *GormStore) ReadSnapshot(ctx context.Context, fn func(ctx context.Context, r Reader) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &GormStore{db: tx, dialect: s.dialect, registry: s.registry, logger: s.logger})
	})
}

// ExecStatements runs migration statements in order inside a transaction.
func (s *GormStore) ExecStatements(ctx context.Context, statements []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, stmt := range statements {
			if err := tx.Exec(stmt).Error; err != nil {
				return appErrors.NewStorageWriteError(fmt.Sprintf("statement %d failed", i+1), err)
			}
		}
		return nil
	})
}

// Ping checks connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return appErrors.NewStorageReadError("failed to access sqlite handle", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying handle.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
