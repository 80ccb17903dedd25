package backup

import (
	"context"
	"sort"
	"time"

	"dataguard/internal/collections"
	appErrors "dataguard/internal/errors"
	"dataguard/internal/logging"
	"dataguard/internal/snapshot"
	"dataguard/internal/store"
)

// Catalog stores BackupRecords as rows of the backup_records collection.
// Every write is a single-row upsert or delete.
type Catalog struct {
	store  store.RelationalStore
	logger *logging.Logger
}

// NewCatalog creates a catalog over s.
func NewCatalog(s store.RelationalStore, logger *logging.Logger) *Catalog {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Catalog{store: s, logger: logger}
}

// Insert writes the entry for a freshly stored payload.
func (c *Catalog) Insert(ctx context.Context, r *BackupRecord) error {
	row, err := r.toRow()
	if err != nil {
		return appErrors.NewStorageWriteError("failed to encode catalog entry", err)
	}
	if err := c.store.Upsert(ctx, collections.BackupRecords, row); err != nil {
		return appErrors.WrapError(err, "failed to write catalog entry")
	}
	return nil
}

// Get returns the entry for id or a BackupNotFoundError.
func (c *Catalog) Get(ctx context.Context, id string) (*BackupRecord, error) {
	if id == "" {
		return nil, appErrors.NewValidationError("backup id is required", nil)
	}
	rows, err := c.store.SelectWhere(ctx, collections.BackupRecords, store.Where(store.Eq("backup_id", id)))
	if err != nil {
		return nil, appErrors.WrapError(err, "failed to read catalog")
	}
	if len(rows) == 0 {
		return nil, appErrors.NewBackupNotFoundError(id, nil)
	}
	r, err := recordFromRow(rows[0])
	if err != nil {
		return nil, appErrors.NewStorageReadError("corrupt catalog entry", err).WithContext("backup_id", id)
	}
	return r, nil
}

// List returns every entry, newest first.
func (c *Catalog) List(ctx context.Context) ([]*BackupRecord, error) {
	return c.list(ctx, nil)
}

// OlderThan returns entries created strictly before cutoff, newest first.
func (c *Catalog) OlderThan(ctx context.Context, cutoff time.Time) ([]*BackupRecord, error) {
	return c.list(ctx, store.Where(store.Lt("created_at", cutoff.UTC())))
}

// LatestFull returns the newest FULL entry, or nil if there is none.
func (c *Catalog) LatestFull(ctx context.Context) (*BackupRecord, error) {
	records, err := c.list(ctx, store.Where(store.Eq("backup_type", string(snapshot.TypeFull))))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// Delete removes the entry for id and reports whether it existed.
func (c *Catalog) Delete(ctx context.Context, id string) (bool, error) {
	n, err := c.store.DeleteWhere(ctx, collections.BackupRecords, store.Where(store.Eq("backup_id", id)))
	if err != nil {
		return false, appErrors.WrapError(err, "failed to delete catalog entry")
	}
	return n > 0, nil
}

func (c *Catalog) list(ctx context.Context, where store.Predicate) ([]*BackupRecord, error) {
	rows, err := c.store.SelectWhere(ctx, collections.BackupRecords, where)
	if err != nil {
		return nil, appErrors.WrapError(err, "failed to read catalog")
	}

	records := make([]*BackupRecord, 0, len(rows))
	for _, row := range rows {
		r, err := recordFromRow(row)
		if err != nil {
			c.logger.Warnf("Skipping unreadable catalog entry %v: %v", row["backup_id"], err)
			continue
		}
		records = append(records, r)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].BackupID > records[j].BackupID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}
