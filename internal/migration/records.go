package migration

import (
	"context"
	"sort"

	"dataguard/internal/collections"
	appErrors "dataguard/internal/errors"
	"dataguard/internal/logging"
	"dataguard/internal/store"
)

// Records persists MigrationRecords in the migration_records collection.
type Records struct {
	store  store.RelationalStore
	logger *logging.Logger
}

// NewRecords creates a repository over s.
func NewRecords(s store.RelationalStore, logger *logging.Logger) *Records {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Records{store: s, logger: logger}
}

// Save writes the whole record.
func (r *Records) Save(ctx context.Context, rec *MigrationRecord) error {
	if err := r.store.Upsert(ctx, collections.MigrationRecords, rec.toRow()); err != nil {
		return appErrors.WrapError(err, "failed to save migration record")
	}
	return nil
}

// Get returns the record for id or a MigrationNotFoundError.
func (r *Records) Get(ctx context.Context, id string) (*MigrationRecord, error) {
	rows, err := r.store.SelectWhere(ctx, collections.MigrationRecords, store.Where(store.Eq("migration_id", id)))
	if err != nil {
		return nil, appErrors.WrapError(err, "failed to read migration records")
	}
	if len(rows) == 0 {
		return nil, appErrors.NewMigrationNotFoundError(id)
	}
	rec, err := recordFromRow(rows[0])
	if err != nil {
		return nil, appErrors.NewStorageReadError("corrupt migration record", err).WithContext("migration_id", id)
	}
	return rec, nil
}

// List returns records newest first. limit <= 0 returns all of them.
func (r *Records) List(ctx context.Context, limit int) ([]*MigrationRecord, error) {
	rows, err := r.store.SelectAll(ctx, collections.MigrationRecords)
	if err != nil {
		return nil, appErrors.WrapError(err, "failed to read migration records")
	}

	out := make([]*MigrationRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := recordFromRow(row)
		if err != nil {
			r.logger.Warnf("Skipping unreadable migration record %v: %v", row["migration_id"], err)
			continue
		}
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ExecutedAt.Equal(out[j].ExecutedAt) {
			return out[i].MigrationID > out[j].MigrationID
		}
		return out[i].ExecutedAt.After(out[j].ExecutedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
