package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"dataguard/internal/collections"
	appErrors "dataguard/internal/errors"
	"dataguard/internal/logging"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLStore is a RelationalStore over database/sql. All values travel as
// bound parameters; identifiers come from the collection registry or are
// checked against collections.ValidIdentifier before being quoted.
type SQLStore struct {
	db       *sql.DB
	dialect  Dialect
	registry *collections.Registry
	logger   *logging.Logger
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, dialect Dialect, reg *collections.Registry, logger *logging.Logger) *SQLStore {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &SQLStore{db: db, dialect: dialect, registry: reg, logger: logger}
}

// DB exposes the underlying handle for catalog migrations.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Dialect returns the store's SQL dialect.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) collection(name string) (collections.Collection, error) {
	c, err := s.registry.MustGet(name)
	if err != nil {
		return c, appErrors.NewValidationError("unknown collection", err)
	}
	return c, nil
}

// SelectAll returns every row ordered by primary key.
func (s *SQLStore) SelectAll(ctx context.Context, collection string) ([]Record, error) {
	return s.selectWhere(ctx, s.db, collection, nil)
}

// SelectModifiedSince returns rows whose timestamp column is strictly after since.
func (s *SQLStore) SelectModifiedSince(ctx context.Context, collection string, since time.Time) ([]Record, error) {
	return s.selectModifiedSince(ctx, s.db, collection, since)
}

// SelectWhere returns rows matching where, ordered by primary key.
func (s *SQLStore) SelectWhere(ctx context.Context, collection string, where Predicate) ([]Record, error) {
	return s.selectWhere(ctx, s.db, collection, where)
}

func (s *SQLStore) selectModifiedSince(ctx context.Context, q queryer, collection string, since time.Time) ([]Record, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if !c.HasTimestamp() {
		return nil, appErrors.NewValidationError(fmt.Sprintf("collection %s has no timestamp column", collection), nil)
	}
	return s.selectWhere(ctx, q, collection, Where(Gt(c.TimestampColumn, since.UTC())))
}

func (s *SQLStore) selectWhere(ctx context.Context, q queryer, collection string, where Predicate) ([]Record, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if err := where.Validate(); err != nil {
		return nil, appErrors.NewValidationError("invalid predicate", err)
	}

	query := fmt.Sprintf("SELECT * FROM %s", s.dialect.Quote(c.Table))
	clause, args := whereClause(s.dialect, where, 1)
	if clause != "" {
		query += " WHERE " + clause
	}
	query += fmt.Sprintf(" ORDER BY %s", s.dialect.Quote(c.PrimaryKey))

	rows, err := q.QueryContext(ctx, query, args...)
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
func (s *SQLStore) Upsert(ctx context.Context, collection string, record Record) error {
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	if _, err := PrimaryKey(c, record); err != nil {
		return appErrors.NewValidationError("invalid record", err)
	}

	columns := make([]string, 0, len(record))
	for col := range record {
		if !collections.ValidIdentifier(col) {
			return appErrors.NewValidationError(fmt.Sprintf("invalid column name %q", col), nil)
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	args := make([]any, len(columns))
	for i, col := range columns {
		args[i] = toSQLValue(record[col], c.IsTimeColumn(col))
	}

	query := s.dialect.UpsertSQL(c.Table, c.PrimaryKey, columns)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return appErrors.NewStorageWriteError(fmt.Sprintf("failed to upsert into %s", collection), err)
	}
	return nil
}

// DeleteWhere deletes matching rows. An empty predicate is refused so a
// mistake cannot truncate a table.
func (s *SQLStore) DeleteWhere(ctx context.Context, collection string, where Predicate) (int64, error) {
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

	clause, args := whereClause(s.dialect, where, 1)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", s.dialect.Quote(c.Table), clause)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, appErrors.NewStorageWriteError(fmt.Sprintf("failed to delete from %s", collection), err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, appErrors.NewStorageWriteError("failed to read affected rows", err)
	}
	return n, nil
}

// Count returns the number of rows matching where.
func (s *SQLStore) Count(ctx context.Context, collection string, where Predicate) (int64, error) {
	c, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	if err := where.Validate(); err != nil {
		return 0, appErrors.NewValidationError("invalid predicate", err)
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.dialect.Quote(c.Table))
	clause, args := whereClause(s.dialect, where, 1)
	if clause != "" {
		query += " WHERE " + clause
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, appErrors.NewStorageReadError(fmt.Sprintf("failed to count %s", collection), err)
	}
	return n, nil
}

// ReadSnapshot runs fn inside a read-only REPEATABLE READ transaction so
// every collection is read from the same point in time.
func (s *SQLStore) ReadSnapshot(ctx context.Context, fn func(ctx context.Context, r Reader) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return appErrors.NewStorageReadError("failed to begin snapshot transaction", err)
	}

	if err := fn(ctx, &txReader{store: s, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warnf("Failed to roll back snapshot transaction: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return appErrors.NewStorageReadError("failed to close snapshot transaction", err)
	}
	return nil
}

// ExecStatements runs migration statements in order inside a transaction.
func (s *SQLStore) ExecStatements(ctx context.Context, statements []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return appErrors.NewStorageWriteError("failed to begin transaction", err)
	}

	for i, stmt := range statements {
		start := time.Now()
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Warnf("Failed to roll back migration transaction: %v", rbErr)
			}
			return appErrors.NewStorageWriteError(fmt.Sprintf("statement %d failed", i+1), err)
		}
		s.logger.WithFields(map[string]interface{}{
			"statement": i + 1,
			"duration":  time.Since(start).String(),
		}).Debug("Executed migration statement")
	}

	if err := tx.Commit(); err != nil {
		return appErrors.NewStorageWriteError("failed to commit transaction", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return appErrors.NewErrorClassifier().ClassifyError(err)
	}
	return nil
}

// Close closes the underlying handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type txReader struct {
	store *SQLStore
	tx    *sql.Tx
}

func (r *txReader) SelectAll(ctx context.Context, collection string) ([]Record, error) {
	return r.store.selectWhere(ctx, r.tx, collection, nil)
}

func (r *txReader) SelectModifiedSince(ctx context.Context, collection string, since time.Time) ([]Record, error) {
	return r.store.selectModifiedSince(ctx, r.tx, collection, since)
}
